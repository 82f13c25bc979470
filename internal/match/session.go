// Package match runs live matches. Each match is owned by one actor goroutine
// that serializes every event touching its session.
package match

import (
	"time"

	"github.com/park285/rps-arena/internal/rps"
	"github.com/park285/rps-arena/internal/store"
)

type Status string

const (
	// StatusAwaitingSecond is only reachable from a challenge flow; queue
	// pairing creates sessions with both participants present.
	StatusAwaitingSecond Status = "awaiting-second-player"
	StatusInProgress     Status = "in-progress"
	// StatusFinalizing covers the durable write; no moves are accepted.
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
)

// Round is one resolved round.
type Round struct {
	Number   int
	Moves    map[string]rps.Move
	WinnerID string // empty on a draw
}

// Session is the authoritative state of one match. Only its actor touches it.
type Session struct {
	ID           string
	TournamentID string
	Player1      string
	Player2      string
	Round        int
	Moves        map[string]rps.Move
	Scores       map[string]int
	Status       Status
	CreatedAt    time.Time
	History      []Round
}

func NewSession(id, tournamentID, player1, player2 string, now time.Time) *Session {
	s := &Session{
		ID:           id,
		TournamentID: tournamentID,
		Player1:      player1,
		Player2:      player2,
		Round:        1,
		Moves:        make(map[string]rps.Move, 2),
		Scores:       map[string]int{player1: 0},
		Status:       StatusInProgress,
		CreatedAt:    now,
	}
	if player2 == "" {
		s.Status = StatusAwaitingSecond
	} else {
		s.Scores[player2] = 0
	}
	return s
}

// Has reports whether participantID plays in this match.
func (s *Session) Has(participantID string) bool {
	return participantID != "" && (participantID == s.Player1 || participantID == s.Player2)
}

// Opponent returns the other participant, or "" if participantID is not playing.
func (s *Session) Opponent(participantID string) string {
	switch participantID {
	case s.Player1:
		return s.Player2
	case s.Player2:
		return s.Player1
	default:
		return ""
	}
}

// Join fills the second seat of an awaiting session.
func (s *Session) Join(participantID string) bool {
	if s.Status != StatusAwaitingSecond || participantID == "" || participantID == s.Player1 {
		return false
	}
	s.Player2 = participantID
	s.Scores[participantID] = 0
	s.Status = StatusInProgress
	return true
}

// RecordMove stores the participant's move for the current round, replacing
// an earlier one. It reports whether both moves are now present.
func (s *Session) RecordMove(participantID string, m rps.Move) bool {
	s.Moves[participantID] = m
	_, a := s.Moves[s.Player1]
	_, b := s.Moves[s.Player2]
	return a && b
}

// Moved reports whether participantID already moved this round.
func (s *Session) Moved(participantID string) bool {
	_, ok := s.Moves[participantID]
	return ok
}

// ResolveRound scores the current round, clears the moves and advances the
// round counter. Both moves must be present.
func (s *Session) ResolveRound() Round {
	a, b := s.Moves[s.Player1], s.Moves[s.Player2]
	r := Round{
		Number: s.Round,
		Moves:  map[string]rps.Move{s.Player1: a, s.Player2: b},
	}
	switch rps.ResolveRound(a, b) {
	case rps.SideA:
		r.WinnerID = s.Player1
	case rps.SideB:
		r.WinnerID = s.Player2
	}
	if r.WinnerID != "" {
		s.Scores[r.WinnerID]++
	}
	s.History = append(s.History, r)
	clear(s.Moves)
	s.Round++
	return r
}

// Done reports whether the policy threshold has been reached.
func (s *Session) Done(p rps.Policy) bool {
	return p.Done(len(s.History), s.Scores[s.Player1], s.Scores[s.Player2])
}

// Outcome maps the current scores to a durable result and winner.
func (s *Session) Outcome() (store.Result, string) {
	switch rps.ResolveMatch(s.Scores[s.Player1], s.Scores[s.Player2]) {
	case rps.SideA:
		return store.ResultPlayer1, s.Player1
	case rps.SideB:
		return store.ResultPlayer2, s.Player2
	default:
		return store.ResultDraw, ""
	}
}

// ForfeitOutcome awards the match to the opponent of loserID.
func (s *Session) ForfeitOutcome(loserID string) (store.Result, string) {
	if loserID == s.Player1 {
		return store.ResultPlayer2, s.Player2
	}
	return store.ResultPlayer1, s.Player1
}

// ScoresCopy returns a copy safe to hand to other goroutines.
func (s *Session) ScoresCopy() map[string]int {
	out := make(map[string]int, len(s.Scores))
	for k, v := range s.Scores {
		out[k] = v
	}
	return out
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID           string
	TournamentID string
	Player1      string
	Player2      string
	Round        int
	Status       Status
	Scores       map[string]int
	Moved        []string
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:           s.ID,
		TournamentID: s.TournamentID,
		Player1:      s.Player1,
		Player2:      s.Player2,
		Round:        s.Round,
		Status:       s.Status,
		Scores:       s.ScoresCopy(),
	}
	for _, p := range []string{s.Player1, s.Player2} {
		if s.Moved(p) {
			snap.Moved = append(snap.Moved, p)
		}
	}
	return snap
}
