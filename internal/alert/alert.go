// Package alert raises operational alerts for failures no participant can act on.
package alert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/rps-arena/internal/obslog"
)

// Kinds of alert.
const (
	KindPersistExhausted = "persist_exhausted"
	KindRecordMissing    = "record_missing"
	KindCreateFailed     = "create_failed"
	KindShutdownPending  = "shutdown_pending"
)

type Alert struct {
	Kind         string    `json:"kind"`
	MatchID      string    `json:"matchId,omitempty"`
	TournamentID string    `json:"tournamentId,omitempty"`
	Op           string    `json:"op,omitempty"`
	Message      string    `json:"message"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Alerter delivers an alert. Implementations must not block indefinitely and never fail the caller.
type Alerter interface {
	Raise(ctx context.Context, a Alert)
}

// Log writes alerts to the global logger at error level.
type Log struct{}

func (Log) Raise(_ context.Context, a Alert) {
	obslog.L().Error("ops_alert",
		zap.String("kind", a.Kind),
		zap.String("match_id", a.MatchID),
		zap.String("tournament_id", a.TournamentID),
		zap.String("op", a.Op),
		zap.String("message", a.Message),
		zap.String("error", a.Error),
	)
}

// Multi fans an alert out to every member.
type Multi []Alerter

func (m Multi) Raise(ctx context.Context, a Alert) {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	for _, al := range m {
		if al != nil {
			al.Raise(ctx, a)
		}
	}
}
