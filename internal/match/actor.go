package match

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/rps-arena/internal/alert"
	"github.com/park285/rps-arena/internal/metrics"
	"github.com/park285/rps-arena/internal/msgcat"
	"github.com/park285/rps-arena/internal/obslog"
	"github.com/park285/rps-arena/internal/protocol"
	"github.com/park285/rps-arena/internal/rps"
	"github.com/park285/rps-arena/internal/store"
)

var (
	ErrMatchClosed    = errors.New("match is not accepting moves")
	ErrNotParticipant = errors.New("participant is not in this match")
	ErrStaleRound     = errors.New("round already resolved")
)

const (
	inboxSize     = 32
	noticeTimeout = 5 * time.Second
)

// Notifier delivers an event to a participant's live connection, if any.
type Notifier interface {
	Notify(ctx context.Context, participantID string, msg protocol.Outbound)
}

// Deps are the collaborators shared by every actor.
type Deps struct {
	Gateway  store.Gateway
	Notifier Notifier
	Catalog  *msgcat.Catalog
	Metrics  *metrics.Metrics
	Alerter  alert.Alerter
	Policy   rps.Policy
	Retry    RetryPolicy
	// ForfeitAfter > 0 awards the match to the opponent of a participant
	// who stays disconnected that long.
	ForfeitAfter time.Duration
	// OnClose runs once the actor has left the Store.
	OnClose func(Snapshot)
}

type cmdKind int

const (
	cmdMove cmdKind = iota
	cmdRejoin
	cmdDisconnect
	cmdForfeit
	cmdSnapshot
)

type command struct {
	kind        cmdKind
	participant string
	move        rps.Move
	round       int
	gen         uint64
	reply       chan reply
}

type reply struct {
	snap Snapshot
	err  error
}

// Actor owns one Session. All access goes through its inbox.
type Actor struct {
	id      string
	players [2]string
	deps    Deps
	inbox   chan command
	done    chan struct{}

	// closing flips once the outcome is decided, before final events go out.
	closing atomic.Bool

	// owned by the run goroutine
	sess         *Session
	terminal     bool
	forfeitGen   map[string]uint64
	forfeitTimer map[string]*time.Timer
	log          *zap.Logger
}

func newActor(sess *Session, deps Deps) *Actor {
	if deps.Policy.Rounds == 0 {
		deps.Policy = rps.DefaultPolicy()
	}
	return &Actor{
		id:           sess.ID,
		players:      [2]string{sess.Player1, sess.Player2},
		deps:         deps,
		inbox:        make(chan command, inboxSize),
		done:         make(chan struct{}),
		sess:         sess,
		forfeitGen:   make(map[string]uint64),
		forfeitTimer: make(map[string]*time.Timer),
		log: obslog.L().With(
			zap.String("match_id", sess.ID),
			zap.String("tournament_id", sess.TournamentID),
		),
	}
}

func (a *Actor) ID() string { return a.id }

// Done is closed when the actor has stopped.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Closing reports whether the match outcome is already decided.
func (a *Actor) Closing() bool { return a.closing.Load() }

// Submit records a move. round 0 means the current round. The call returns
// once the move is applied; finalization continues in the background.
func (a *Actor) Submit(ctx context.Context, participantID string, m rps.Move, round int) error {
	_, err := a.call(ctx, command{kind: cmdMove, participant: participantID, move: m, round: round})
	return err
}

// Rejoin re-announces the match to participantID and cancels any pending forfeit.
func (a *Actor) Rejoin(ctx context.Context, participantID string) (Snapshot, error) {
	r, err := a.call(ctx, command{kind: cmdRejoin, participant: participantID})
	return r.snap, err
}

// Disconnected notes that participantID lost its connection.
func (a *Actor) Disconnected(ctx context.Context, participantID string) error {
	return a.send(ctx, command{kind: cmdDisconnect, participant: participantID})
}

func (a *Actor) Snapshot(ctx context.Context) (Snapshot, error) {
	r, err := a.call(ctx, command{kind: cmdSnapshot})
	return r.snap, err
}

func (a *Actor) send(ctx context.Context, cmd command) error {
	select {
	case a.inbox <- cmd:
		return nil
	case <-a.done:
		return ErrMatchClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) call(ctx context.Context, cmd command) (reply, error) {
	cmd.reply = make(chan reply, 1)
	if err := a.send(ctx, cmd); err != nil {
		return reply{}, err
	}
	select {
	case r := <-cmd.reply:
		return r, r.err
	case <-a.done:
		select {
		case r := <-cmd.reply:
			return r, r.err
		default:
			return reply{}, ErrMatchClosed
		}
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (a *Actor) run(ctx context.Context, onExit func()) {
	defer close(a.done)
	defer onExit()
	defer a.stopForfeitTimers()

	a.announce(ctx)
	for !a.terminal {
		select {
		case <-ctx.Done():
			a.abandon(ctx)
			return
		case cmd := <-a.inbox:
			a.handle(ctx, cmd)
		}
	}
}

func (a *Actor) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdMove:
		a.handleMove(ctx, cmd)
	case cmdRejoin:
		a.handleRejoin(ctx, cmd)
	case cmdDisconnect:
		a.armForfeit(cmd.participant)
	case cmdForfeit:
		a.handleForfeit(ctx, cmd)
	case cmdSnapshot:
		cmd.reply <- reply{snap: a.sess.Snapshot()}
	}
}

func (a *Actor) announce(ctx context.Context) {
	s := a.sess
	if s.Status != StatusInProgress {
		return
	}
	ready := protocol.Outbound{Event: protocol.EventMatchReady, Data: protocol.MatchReady{
		MatchID: s.ID, Player1: s.Player1, Player2: s.Player2,
	}}
	a.notify(ctx, s.Player1, ready)
	a.notify(ctx, s.Player2, ready)
}

func (a *Actor) handleMove(ctx context.Context, cmd command) {
	s := a.sess
	var err error
	switch {
	case s.Status != StatusInProgress:
		err = ErrMatchClosed
	case !s.Has(cmd.participant):
		err = ErrNotParticipant
	case cmd.round != 0 && cmd.round != s.Round:
		err = ErrStaleRound
	}
	if err != nil {
		cmd.reply <- reply{err: err}
		return
	}

	if !s.RecordMove(cmd.participant, cmd.move) {
		cmd.reply <- reply{}
		a.notify(ctx, cmd.participant, protocol.Outbound{
			Event: protocol.EventWaitingForOpponentChoice,
			Data:  protocol.WaitingForOpponentChoice{MatchID: s.ID, Round: s.Round},
		})
		return
	}

	r := s.ResolveRound()
	cmd.reply <- reply{}
	a.deps.Metrics.RoundResolved()
	a.log.Info("match_round_resolved",
		zap.Int("round", r.Number),
		zap.String("winner_id", r.WinnerID),
		zap.Int("score_p1", s.Scores[s.Player1]),
		zap.Int("score_p2", s.Scores[s.Player2]),
	)
	scores := s.ScoresCopy()
	for _, p := range []string{s.Player1, s.Player2} {
		a.notify(ctx, p, protocol.Outbound{Event: protocol.EventRoundResult, Data: protocol.RoundResult{
			MatchID:        s.ID,
			Round:          r.Number,
			Result:         perspective(r.WinnerID, p),
			WinnerID:       r.WinnerID,
			Scores:         scores,
			PlayerChoice:   string(r.Moves[p]),
			OpponentChoice: string(r.Moves[s.Opponent(p)]),
		}})
	}

	if s.Done(a.deps.Policy) {
		result, winner := s.Outcome()
		a.finalize(ctx, result, winner, "", "")
	}
}

func (a *Actor) handleRejoin(ctx context.Context, cmd command) {
	s := a.sess
	if !s.Has(cmd.participant) {
		cmd.reply <- reply{err: ErrNotParticipant}
		return
	}
	a.cancelForfeit(cmd.participant)
	cmd.reply <- reply{snap: s.Snapshot()}
	a.log.Info("match_rejoin", zap.String("participant_id", cmd.participant), zap.Int("round", s.Round))

	a.notify(ctx, cmd.participant, protocol.Outbound{Event: protocol.EventMatchReady, Data: protocol.MatchReady{
		MatchID: s.ID, Player1: s.Player1, Player2: s.Player2,
	}})
	if s.Moved(cmd.participant) {
		a.notify(ctx, cmd.participant, protocol.Outbound{
			Event: protocol.EventWaitingForOpponentChoice,
			Data:  protocol.WaitingForOpponentChoice{MatchID: s.ID, Round: s.Round},
		})
	}
}

func (a *Actor) armForfeit(participantID string) {
	if a.deps.ForfeitAfter <= 0 || a.sess.Status != StatusInProgress || !a.sess.Has(participantID) {
		return
	}
	a.cancelForfeit(participantID)
	gen := a.forfeitGen[participantID]
	a.forfeitTimer[participantID] = time.AfterFunc(a.deps.ForfeitAfter, func() {
		select {
		case a.inbox <- command{kind: cmdForfeit, participant: participantID, gen: gen}:
		case <-a.done:
		}
	})
	a.log.Info("match_forfeit_armed", zap.String("participant_id", participantID), zap.Duration("after", a.deps.ForfeitAfter))
}

func (a *Actor) cancelForfeit(participantID string) {
	a.forfeitGen[participantID]++
	if t := a.forfeitTimer[participantID]; t != nil {
		t.Stop()
		delete(a.forfeitTimer, participantID)
	}
}

func (a *Actor) stopForfeitTimers() {
	for p, t := range a.forfeitTimer {
		t.Stop()
		delete(a.forfeitTimer, p)
	}
}

func (a *Actor) handleForfeit(ctx context.Context, cmd command) {
	if cmd.gen != a.forfeitGen[cmd.participant] || a.sess.Status != StatusInProgress {
		return
	}
	delete(a.forfeitTimer, cmd.participant)
	a.log.Info("match_forfeit", zap.String("participant_id", cmd.participant))
	result, winner := a.sess.ForfeitOutcome(cmd.participant)
	msg := a.deps.Catalog.Text(msgcat.KeyMatchForfeit, cmd.participant+" forfeits the match.",
		map[string]any{"ParticipantID": cmd.participant})
	a.finalize(ctx, result, winner, "forfeit", msg)
}

// finalize runs the two-phase completion: the session is frozen, the durable
// write is retried until it lands or the budget runs out, and only then are
// participants told the outcome.
func (a *Actor) finalize(ctx context.Context, result store.Result, winnerID, reason, message string) {
	s := a.sess
	s.Status = StatusFinalizing

	err := Retry(ctx, a.deps.Retry, a.deps.Metrics, "update match", func(ctx context.Context) error {
		return a.deps.Gateway.UpdateMatchResult(ctx, s.ID, result, winnerID)
	})
	if err != nil {
		a.fail(ctx, "update match", err)
		return
	}

	if winnerID != "" {
		err := Retry(ctx, a.deps.Retry, a.deps.Metrics, "increment wins", func(ctx context.Context) error {
			return a.deps.Gateway.IncrementParticipantWins(ctx, s.TournamentID, winnerID, s.ID)
		})
		switch {
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
			a.log.Info("match_winner_unregistered", zap.String("winner_id", winnerID))
		default:
			// the match result is durable; only the standings need repair
			a.log.Error("match_credit_failed", zap.String("winner_id", winnerID), zap.Error(err))
			a.raise(ctx, alert.KindPersistExhausted, "increment wins", "win credit not recorded", err)
		}
	}

	a.closing.Store(true)
	final := protocol.Outbound{Event: protocol.EventFinalResult, Data: protocol.FinalResult{
		MatchID:  s.ID,
		Result:   string(result),
		WinnerID: winnerID,
		Scores:   s.ScoresCopy(),
		Reason:   reason,
		Message:  message,
	}}
	nctx, cancel := detached(ctx)
	defer cancel()
	a.notify(nctx, s.Player1, final)
	a.notify(nctx, s.Player2, final)

	s.Status = StatusCompleted
	a.terminal = true
	a.deps.Metrics.MatchEnded(string(result))
	a.log.Info("match_completed",
		zap.String("result", string(result)),
		zap.String("winner_id", winnerID),
		zap.Int("rounds", len(s.History)),
		zap.String("reason", reason),
	)
}

// fail discards a match whose durable write could not be completed.
func (a *Actor) fail(ctx context.Context, op string, err error) {
	kind := alert.KindPersistExhausted
	switch {
	case errors.Is(err, store.ErrNotFound):
		kind = alert.KindRecordMissing
	case ctx.Err() != nil:
		kind = alert.KindShutdownPending
	}
	a.log.Error("match_finalize_failed", zap.String("op", op), zap.String("kind", kind), zap.Error(err))
	a.raise(ctx, kind, op, "match result not persisted", err)
	a.closing.Store(true)
	a.noticeFailure(ctx)
	a.terminal = true
	a.deps.Metrics.MatchEnded("failed")
}

// abandon handles shutdown of a match that never finished.
func (a *Actor) abandon(ctx context.Context) {
	if a.terminal {
		return
	}
	a.closing.Store(true)
	a.log.Warn("match_abandoned", zap.Int("round", a.sess.Round), zap.String("status", string(a.sess.Status)))
	a.raise(ctx, alert.KindShutdownPending, "", "match abandoned at shutdown", nil)
	a.noticeFailure(ctx)
	a.terminal = true
	a.deps.Metrics.MatchEnded("abandoned")
}

func (a *Actor) noticeFailure(ctx context.Context) {
	nctx, cancel := detached(ctx)
	defer cancel()
	msg := protocol.Outbound{Event: protocol.EventError, Data: protocol.Notice{
		Message: a.deps.Catalog.Text(msgcat.KeyMatchFailure, msgcat.FallbackMatchFailure, nil),
	}}
	a.notify(nctx, a.sess.Player1, msg)
	a.notify(nctx, a.sess.Player2, msg)
}

func (a *Actor) raise(ctx context.Context, kind, op, message string, err error) {
	if a.deps.Alerter == nil {
		return
	}
	al := alert.Alert{
		Kind:         kind,
		MatchID:      a.sess.ID,
		TournamentID: a.sess.TournamentID,
		Op:           op,
		Message:      message,
	}
	if err != nil {
		al.Error = err.Error()
	}
	actx, cancel := detached(ctx)
	defer cancel()
	a.deps.Alerter.Raise(actx, al)
}

func (a *Actor) notify(ctx context.Context, participantID string, msg protocol.Outbound) {
	if a.deps.Notifier == nil || participantID == "" {
		return
	}
	a.deps.Notifier.Notify(ctx, participantID, msg)
}

// detached survives cancellation of ctx so final events still go out at shutdown.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
}

func perspective(winnerID, participantID string) string {
	switch winnerID {
	case "":
		return "draw"
	case participantID:
		return "win"
	default:
		return "lose"
	}
}
