// Package coordinator turns client events into lobby, registry and match
// operations and delivers outbound events to live connections.
package coordinator

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/rps-arena/internal/alert"
	"github.com/park285/rps-arena/internal/lobby"
	"github.com/park285/rps-arena/internal/match"
	"github.com/park285/rps-arena/internal/metrics"
	"github.com/park285/rps-arena/internal/msgcat"
	"github.com/park285/rps-arena/internal/obslog"
	"github.com/park285/rps-arena/internal/protocol"
	"github.com/park285/rps-arena/internal/registry"
	"github.com/park285/rps-arena/internal/rps"
	"github.com/park285/rps-arena/internal/store"
)

// Errors returned to the transport for logging. None of them reach clients.
var (
	ErrInvalidArgs      = errors.New("missing participant, tournament or match id")
	ErrInvalidMove      = errors.New("move must be rock, paper or scissors")
	ErrUnknownMatch     = errors.New("unknown match")
	ErrIdentityMismatch = errors.New("payload identity differs from the bound connection")
	ErrAlreadyJoined    = errors.New("participant already queued or playing")
	ErrCreateFailed     = errors.New("match could not be created")

	ErrNotParticipant = match.ErrNotParticipant
	ErrStaleRound     = match.ErrStaleRound
	ErrMatchClosed    = match.ErrMatchClosed
)

const (
	defaultSendTimeout = 5 * time.Second

	waitingText = "Waiting for an opponent..."
)

type Options struct {
	Gateway      store.Gateway
	Catalog      *msgcat.Catalog
	Metrics      *metrics.Metrics
	Alerter      alert.Alerter
	Policy       rps.Policy
	Retry        match.RetryPolicy
	ForfeitAfter time.Duration
	SendTimeout  time.Duration
}

type Coordinator struct {
	lobby   *lobby.Manager
	reg     *registry.Registry
	matches *match.Store
	gw      store.Gateway
	cat     *msgcat.Catalog
	metrics *metrics.Metrics
	alerter alert.Alerter
	deps    match.Deps
	retry   match.RetryPolicy

	sendTimeout time.Duration
	now         func() time.Time

	// actors live until Shutdown, independent of any one connection
	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Coordinator {
	if opts.Policy.Rounds == 0 {
		opts.Policy = rps.DefaultPolicy()
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = match.DefaultRetryPolicy()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Alerter == nil {
		opts.Alerter = alert.Log{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		lobby:       lobby.New(),
		reg:         registry.New(),
		matches:     match.NewStore(),
		gw:          opts.Gateway,
		cat:         opts.Catalog,
		metrics:     opts.Metrics,
		alerter:     opts.Alerter,
		retry:       opts.Retry,
		sendTimeout: opts.SendTimeout,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
	c.deps = match.Deps{
		Gateway:      opts.Gateway,
		Notifier:     c,
		Catalog:      opts.Catalog,
		Metrics:      opts.Metrics,
		Alerter:      opts.Alerter,
		Policy:       opts.Policy,
		Retry:        opts.Retry,
		ForfeitAfter: opts.ForfeitAfter,
		OnClose:      c.matchClosed,
	}
	return c
}

// identity resolves who is speaking: the bound identity of conn wins, and a
// payload naming someone else is rejected.
func (c *Coordinator) identity(conn registry.Conn, payloadID string) (string, error) {
	payloadID = strings.TrimSpace(payloadID)
	bound, ok := c.reg.Identity(conn)
	switch {
	case ok && payloadID != "" && payloadID != bound:
		return "", ErrIdentityMismatch
	case ok:
		return bound, nil
	case payloadID != "":
		return payloadID, nil
	default:
		return "", ErrInvalidArgs
	}
}

// JoinQueue places the participant in the tournament queue and starts a match
// when an opponent is already waiting. Repeated joins are no-ops.
func (c *Coordinator) JoinQueue(ctx context.Context, conn registry.Conn, participantID, tournamentID string) error {
	pid, err := c.identity(conn, participantID)
	if err != nil {
		return err
	}
	tournamentID = strings.TrimSpace(tournamentID)
	if tournamentID == "" {
		return ErrInvalidArgs
	}
	if _, busy := c.matches.MatchOf(pid); busy {
		return ErrAlreadyJoined
	}

	c.reg.Bind(pid, conn, "")
	pair, err := c.lobby.Enqueue(tournamentID, lobby.Entry{ParticipantID: pid, EnqueuedAt: c.now()})
	if errors.Is(err, lobby.ErrAlreadyQueued) || errors.Is(err, lobby.ErrPairing) {
		return ErrAlreadyJoined
	}
	if err != nil {
		return err
	}
	c.metrics.SetLobbyWaiting(c.lobby.Len())

	if pair == nil {
		obslog.L().Info("lobby_enqueue",
			zap.String("tournament_id", tournamentID),
			zap.String("participant_id", pid),
			zap.Int("waiting", c.lobby.Waiting(tournamentID)),
		)
		c.Notify(ctx, pid, protocol.Outbound{Event: protocol.EventWaitingForOpponent, Data: protocol.WaitingForOpponent{
			TournamentID: tournamentID,
			Message:      c.cat.Text(msgcat.KeyLobbyWaiting, waitingText, map[string]any{"TournamentID": tournamentID}),
		}})
		return nil
	}
	return c.createMatch(pair)
}

func (c *Coordinator) createMatch(pair *lobby.Pair) error {
	p1, p2 := pair.First.ParticipantID, pair.Second.ParticipantID
	defer c.lobby.Release(p1, p2)
	log := obslog.L().With(
		zap.String("tournament_id", pair.TournamentID),
		zap.String("player1", p1),
		zap.String("player2", p2),
	)

	var matchID string
	err := match.Retry(c.ctx, c.retry, c.metrics, "create match", func(ctx context.Context) error {
		id, err := c.gw.CreateMatchRecord(ctx, pair.TournamentID, p1, p2)
		matchID = id
		return err
	})
	if err == nil {
		c.reg.SetMatch(p1, matchID)
		c.reg.SetMatch(p2, matchID)
		sess := match.NewSession(matchID, pair.TournamentID, p1, p2, c.now())
		if _, err = c.matches.Start(c.ctx, sess, c.deps); err == nil {
			c.metrics.MatchStarted()
			log.Info("match_created", zap.String("match_id", matchID))
			return nil
		}
		c.reg.ClearMatch(p1, matchID)
		c.reg.ClearMatch(p2, matchID)
	}

	log.Error("match_create_failed", zap.String("match_id", matchID), zap.Error(err))
	c.alerter.Raise(c.ctx, alert.Alert{
		Kind:         alert.KindCreateFailed,
		MatchID:      matchID,
		TournamentID: pair.TournamentID,
		Op:           "create match",
		Message:      "paired participants could not start a match",
		Error:        err.Error(),
	})
	c.noticeFailure(c.ctx, p1, p2)
	return ErrCreateFailed
}

// RejoinMatch rebinds conn to a live match. For a match that already ended,
// its durable final result is replayed to the participant.
func (c *Coordinator) RejoinMatch(ctx context.Context, conn registry.Conn, participantID, matchID string) error {
	pid, err := c.identity(conn, participantID)
	if err != nil {
		return err
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return ErrInvalidArgs
	}

	if a, ok := c.matches.Get(matchID); ok {
		c.reg.Bind(pid, conn, "")
		snap, err := a.Rejoin(ctx, pid)
		switch {
		case err == nil:
			c.reg.SetMatch(pid, matchID)
			obslog.L().Info("match_rebind",
				zap.String("match_id", matchID),
				zap.String("participant_id", pid),
				zap.Int("round", snap.Round),
			)
			return nil
		case !errors.Is(err, match.ErrMatchClosed):
			return err
		}
		// the actor finished while the rejoin was queued; fall back to the record
	}

	rec, err := c.gw.GetMatchRecord(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownMatch
	}
	if err != nil {
		return err
	}
	if !rec.Involves(pid) {
		return ErrNotParticipant
	}
	c.reg.Bind(pid, conn, "")
	if !rec.Result.Final() {
		// the record outlived its in-memory session
		c.noticeFailure(ctx, pid)
		return ErrMatchClosed
	}
	// scores are not persisted, so a replay carries only result and winner
	c.Notify(ctx, pid, protocol.Outbound{Event: protocol.EventFinalResult, Data: protocol.FinalResult{
		MatchID:  rec.ID,
		Result:   string(rec.Result),
		WinnerID: rec.WinnerID,
		Reason:   "replay",
	}})
	return nil
}

// SubmitMove forwards a move to the match actor. Invalid, stale and
// unauthorized moves come back as errors and produce no outbound event.
func (c *Coordinator) SubmitMove(ctx context.Context, conn registry.Conn, matchID, participantID, move string, round int) error {
	pid, err := c.identity(conn, participantID)
	if err != nil {
		return err
	}
	m, ok := rps.ParseMove(move)
	if !ok {
		return ErrInvalidMove
	}
	a, ok := c.matches.Get(strings.TrimSpace(matchID))
	if !ok {
		return ErrUnknownMatch
	}
	return a.Submit(ctx, pid, m, round)
}

// Disconnect drops conn. A queued participant leaves the queue; a playing
// participant keeps their match.
func (c *Coordinator) Disconnect(ctx context.Context, conn registry.Conn) {
	pid, matchID, ok := c.reg.Unbind(conn)
	if !ok {
		return
	}
	if c.lobby.RemoveIfWaiting(pid) {
		c.metrics.SetLobbyWaiting(c.lobby.Len())
		obslog.L().Info("lobby_dequeue", zap.String("participant_id", pid))
	}
	a, ok := c.matches.MatchOf(pid)
	if !ok && matchID != "" {
		a, ok = c.matches.Get(matchID)
	}
	if !ok {
		return
	}
	obslog.L().Info("match_participant_disconnected", zap.String("match_id", a.ID()), zap.String("participant_id", pid))
	if err := a.Disconnected(ctx, pid); err != nil && !errors.Is(err, match.ErrMatchClosed) {
		obslog.L().Warn("match_disconnect_notify_error", zap.String("match_id", a.ID()), zap.Error(err))
	}
}

// Notify sends msg to the participant's live connection. Missing handles and
// send failures are logged.
func (c *Coordinator) Notify(ctx context.Context, participantID string, msg protocol.Outbound) {
	conn, ok := c.reg.Resolve(participantID)
	if !ok {
		obslog.L().Debug("notify_no_connection", zap.String("participant_id", participantID), zap.String("event", msg.Event))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	if err := conn.Send(sctx, msg); err != nil {
		obslog.L().Warn("notify_send_error",
			zap.String("participant_id", participantID),
			zap.String("event", msg.Event),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) noticeFailure(ctx context.Context, participantIDs ...string) {
	msg := protocol.Outbound{Event: protocol.EventError, Data: protocol.Notice{
		Message: c.cat.Text(msgcat.KeyMatchFailure, msgcat.FallbackMatchFailure, nil),
	}}
	for _, p := range participantIDs {
		c.Notify(ctx, p, msg)
	}
}

func (c *Coordinator) matchClosed(snap match.Snapshot) {
	c.reg.ClearMatch(snap.Player1, snap.ID)
	c.reg.ClearMatch(snap.Player2, snap.ID)
}

// ActiveMatches returns the number of matches held in memory.
func (c *Coordinator) ActiveMatches() int { return c.matches.Len() }

// Waiting returns the queue length of one tournament.
func (c *Coordinator) Waiting(tournamentID string) int { return c.lobby.Waiting(tournamentID) }

// Shutdown stops every match actor and waits for them, up to ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.matches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
