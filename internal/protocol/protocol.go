package protocol

import (
	"encoding/json"
	"strings"
)

// Inbound event names.
const (
	EventJoinQueue   = "joinQueue"
	EventRejoinMatch = "rejoinMatch"
	EventSubmitMove  = "submitMove"

	// legacy client spellings
	EventFindOrCreateMatch = "findOrCreateMatch"
	EventMakeMove          = "makeMove"
)

// Outbound event names.
const (
	EventWaitingForOpponent       = "waitingForOpponent"
	EventMatchReady               = "matchReady"
	EventWaitingForOpponentChoice = "waitingForOpponentChoice"
	EventRoundResult              = "roundResult"
	EventFinalResult              = "finalResult"
	EventError                    = "error"
)

// Envelope wraps every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinQueue struct {
	ParticipantID string `json:"participantId"`
	UserID        string `json:"userId,omitempty"`
	TournamentID  string `json:"tournamentId"`
}

// Participant prefers participantId and falls back to the legacy userId field.
func (j JoinQueue) Participant() string {
	return firstNonEmpty(j.ParticipantID, j.UserID)
}

type RejoinMatch struct {
	MatchID       string `json:"matchId"`
	ParticipantID string `json:"participantId,omitempty"`
	UserID        string `json:"userId,omitempty"`
}

func (r RejoinMatch) Participant() string {
	return firstNonEmpty(r.ParticipantID, r.UserID)
}

type SubmitMove struct {
	MatchID       string `json:"matchId"`
	ParticipantID string `json:"participantId"`
	UserID        string `json:"userId,omitempty"`
	Move          string `json:"move"`
	// Round should echo the round from waitingForOpponentChoice or the last
	// roundResult. A move naming another round is dropped, so a redelivered
	// frame cannot leak into the next round. Without it the move applies to
	// whatever round is current.
	Round int `json:"round,omitempty"`
}

func (s SubmitMove) Participant() string {
	return firstNonEmpty(s.ParticipantID, s.UserID)
}

// Outbound is a server event addressed to one participant.
type Outbound struct {
	Event string
	Data  any
}

func (o Outbound) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(o.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: o.Event, Data: raw})
}

type WaitingForOpponent struct {
	TournamentID string `json:"tournamentId,omitempty"`
	MatchID      string `json:"matchId,omitempty"`
	Message      string `json:"message"`
}

type MatchReady struct {
	MatchID string `json:"matchId"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
}

type WaitingForOpponentChoice struct {
	MatchID string `json:"matchId"`
	Round   int    `json:"round"`
}

// RoundResult is perspective-adjusted: PlayerChoice is always the recipient's move.
type RoundResult struct {
	MatchID        string         `json:"matchId"`
	Round          int            `json:"round"`
	Result         string         `json:"result"`
	WinnerID       string         `json:"winnerId,omitempty"`
	Scores         map[string]int `json:"scores"`
	PlayerChoice   string         `json:"playerChoice"`
	OpponentChoice string         `json:"opponentChoice"`
}

// FinalResult closes a match. Reason is empty for a played-out match,
// "forfeit" or "replay". A replay carries no Scores: durable records keep
// only the result and the winner.
type FinalResult struct {
	MatchID  string         `json:"matchId"`
	Result   string         `json:"result"`
	WinnerID string         `json:"winnerId,omitempty"`
	Scores   map[string]int `json:"scores,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// Notice carries the generic, detail-free failure text.
type Notice struct {
	Message string `json:"message"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
