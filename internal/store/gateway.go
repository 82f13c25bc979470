package store

import (
	"context"
	"time"
)

// Result is the durable outcome of a match.
type Result string

const (
	ResultPending Result = "pending"
	ResultPlayer1 Result = "player1"
	ResultPlayer2 Result = "player2"
	ResultDraw    Result = "draw"
)

// Final reports whether r is a terminal result.
func (r Result) Final() bool {
	return r == ResultPlayer1 || r == ResultPlayer2 || r == ResultDraw
}

// MatchRecord is the persisted view of a match.
type MatchRecord struct {
	ID           string    `json:"id"`
	TournamentID string    `json:"tournament_id"`
	Player1      string    `json:"player1"`
	Player2      string    `json:"player2,omitempty"`
	WinnerID     string    `json:"winner,omitempty"`
	Result       Result    `json:"result"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Involves reports whether participantID played in the match.
func (r *MatchRecord) Involves(participantID string) bool {
	return r != nil && participantID != "" && (r.Player1 == participantID || r.Player2 == participantID)
}

// Gateway is the durable storage contract for matches and tournament standings.
type Gateway interface {
	// CreateMatchRecord inserts a pending match and returns its identifier.
	CreateMatchRecord(ctx context.Context, tournamentID, player1, player2 string) (string, error)
	// UpdateMatchResult finalizes a pending match. Repeating the same final
	// values succeeds; a different final value returns ErrConflict.
	UpdateMatchResult(ctx context.Context, matchID string, result Result, winnerID string) error
	// IncrementParticipantWins credits one win, at most once per matchID.
	// ErrNotFound means the participant is not on the tournament roster.
	IncrementParticipantWins(ctx context.Context, tournamentID, participantID, matchID string) error
	// FindOpenMatch returns a pending match in the tournament still missing player2.
	FindOpenMatch(ctx context.Context, tournamentID string) (string, error)
	GetMatchRecord(ctx context.Context, matchID string) (*MatchRecord, error)
	Close() error
}
