package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/rps-arena/internal/alert"
	"github.com/park285/rps-arena/internal/match"
	"github.com/park285/rps-arena/internal/msgcat"
	"github.com/park285/rps-arena/internal/protocol"
	"github.com/park285/rps-arena/internal/rps"
	"github.com/park285/rps-arena/internal/store"
)

type fakeConn struct {
	id string

	// when set, sending finalResult signals entered and waits for gate
	gate    chan struct{}
	entered chan struct{}

	mu     sync.Mutex
	events []protocol.Outbound
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, msg protocol.Outbound) error {
	if c.gate != nil && msg.Event == protocol.EventFinalResult {
		c.entered <- struct{}{}
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.events = append(c.events, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Event)
	}
	return out
}

func (c *fakeConn) last() protocol.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return protocol.Outbound{}
	}
	return c.events[len(c.events)-1]
}

func (c *fakeConn) first(event string) (protocol.Outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Event == event {
			return e, true
		}
	}
	return protocol.Outbound{}, false
}

type alertRecorder struct {
	mu  sync.Mutex
	got []alert.Alert
}

func (a *alertRecorder) Raise(_ context.Context, al alert.Alert) {
	a.mu.Lock()
	a.got = append(a.got, al)
	a.mu.Unlock()
}

func (a *alertRecorder) kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, al := range a.got {
		out = append(out, al.Kind)
	}
	return out
}

type brokenCreate struct {
	*store.MemoryGateway
	err error
}

func (b *brokenCreate) CreateMatchRecord(context.Context, string, string, string) (string, error) {
	return "", b.err
}

const waitFor = 2 * time.Second

func newCoordinator(t *testing.T, gw store.Gateway) (*Coordinator, *alertRecorder) {
	t.Helper()
	alerts := &alertRecorder{}
	c := New(Options{
		Gateway: gw,
		Catalog: msgcat.MustDefault(),
		Alerter: alerts,
		Policy:  rps.DefaultPolicy(),
		Retry:   match.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c, alerts
}

// pair joins A then B into t1 and returns the match ID both were told about.
func pair(t *testing.T, c *Coordinator, a, b *fakeConn) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.JoinQueue(ctx, a, "A", "t1"))
	require.Equal(t, []string{protocol.EventWaitingForOpponent}, a.names())
	require.NoError(t, c.JoinQueue(ctx, b, "B", "t1"))

	var ready protocol.MatchReady
	require.Eventually(t, func() bool {
		ev, ok := b.first(protocol.EventMatchReady)
		if ok {
			ready = ev.Data.(protocol.MatchReady)
		}
		return ok
	}, waitFor, 5*time.Millisecond)
	_, ok := a.first(protocol.EventMatchReady)
	require.True(t, ok)
	assert.Equal(t, "A", ready.Player1)
	assert.Equal(t, "B", ready.Player2)
	return ready.MatchID
}

func play(t *testing.T, c *Coordinator, a, b *fakeConn, matchID string, round int, ma, mb string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.SubmitMove(ctx, a, matchID, "A", ma, round))
	require.NoError(t, c.SubmitMove(ctx, b, matchID, "B", mb, round))
}

func TestFullTournamentMatch(t *testing.T) {
	mem := store.NewMemoryGateway()
	mem.RegisterParticipant("t1", "A")
	mem.RegisterParticipant("t1", "B")
	c, alerts := newCoordinator(t, mem)
	a, b := newConn("ca"), newConn("cb")

	id := pair(t, c, a, b)
	assert.Equal(t, 0, c.Waiting("t1"))
	assert.Equal(t, 1, c.ActiveMatches())

	play(t, c, a, b, id, 1, "rock", "scissors")
	play(t, c, a, b, id, 2, "rock", "paper")
	play(t, c, a, b, id, 3, "paper", "rock")

	require.Eventually(t, func() bool { return b.last().Event == protocol.EventFinalResult }, waitFor, 5*time.Millisecond)
	require.Equal(t, protocol.EventFinalResult, a.last().Event)
	fr := a.last().Data.(protocol.FinalResult)
	assert.Equal(t, "A", fr.WinnerID)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, fr.Scores)

	rec, err := mem.GetMatchRecord(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.ResultPlayer1, rec.Result)
	assert.Equal(t, 1, mem.Wins("t1", "A"))
	assert.Equal(t, 0, mem.Wins("t1", "B"))
	assert.Empty(t, alerts.kinds())
	require.Eventually(t, func() bool { return c.ActiveMatches() == 0 }, waitFor, 5*time.Millisecond)
}

func TestDuplicateJoinIsNoop(t *testing.T) {
	c, _ := newCoordinator(t, store.NewMemoryGateway())
	a := newConn("ca")
	ctx := context.Background()

	require.NoError(t, c.JoinQueue(ctx, a, "A", "t1"))
	assert.ErrorIs(t, c.JoinQueue(ctx, a, "A", "t1"), ErrAlreadyJoined)
	assert.Equal(t, 1, c.Waiting("t1"))
	assert.Equal(t, []string{protocol.EventWaitingForOpponent}, a.names())
}

func TestJoinWhilePlayingIsNoop(t *testing.T) {
	c, _ := newCoordinator(t, store.NewMemoryGateway())
	a, b := newConn("ca"), newConn("cb")
	pair(t, c, a, b)

	assert.ErrorIs(t, c.JoinQueue(context.Background(), a, "A", "t2"), ErrAlreadyJoined)
	assert.Equal(t, 0, c.Waiting("t2"))
}

func TestJoinRequiresArguments(t *testing.T) {
	c, _ := newCoordinator(t, store.NewMemoryGateway())
	ctx := context.Background()
	assert.ErrorIs(t, c.JoinQueue(ctx, newConn("c1"), "", "t1"), ErrInvalidArgs)
	assert.ErrorIs(t, c.JoinQueue(ctx, newConn("c2"), "A", " "), ErrInvalidArgs)
}

func TestIdentityMismatchIsRejected(t *testing.T) {
	c, _ := newCoordinator(t, store.NewMemoryGateway())
	a, b := newConn("ca"), newConn("cb")
	id := pair(t, c, a, b)
	before := len(b.names())

	err := c.SubmitMove(context.Background(), a, id, "B", "rock", 1)
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, b.names(), before)

	// an empty payload identity falls back to the bound one
	require.NoError(t, c.SubmitMove(context.Background(), a, id, "", "rock", 1))
	require.Eventually(t, func() bool { return a.last().Event == protocol.EventWaitingForOpponentChoice }, waitFor, 5*time.Millisecond)
}

func TestInvalidMoveAndUnknownMatch(t *testing.T) {
	c, _ := newCoordinator(t, store.NewMemoryGateway())
	a, b := newConn("ca"), newConn("cb")
	id := pair(t, c, a, b)
	before := len(a.names())
	ctx := context.Background()

	assert.ErrorIs(t, c.SubmitMove(ctx, a, id, "A", "lizard", 1), ErrInvalidMove)
	assert.ErrorIs(t, c.SubmitMove(ctx, a, "nope", "A", "rock", 1), ErrUnknownMatch)
	assert.ErrorIs(t, c.SubmitMove(ctx, a, id, "A", "rock", 7), ErrStaleRound)
	assert.ErrorIs(t, c.SubmitMove(ctx, newConn("cz"), id, "Z", "rock", 1), ErrNotParticipant)
	assert.Len(t, a.names(), before)
}

func TestDisconnectLeavesQueue(t *testing.T) {
	c, _ := newCoordinator(t, store.NewMemoryGateway())
	a, b := newConn("ca"), newConn("cb")
	ctx := context.Background()

	require.NoError(t, c.JoinQueue(ctx, a, "A", "t1"))
	c.Disconnect(ctx, a)
	assert.Equal(t, 0, c.Waiting("t1"))

	require.NoError(t, c.JoinQueue(ctx, b, "B", "t1"))
	assert.Equal(t, []string{protocol.EventWaitingForOpponent}, b.names())
	assert.Equal(t, 0, c.ActiveMatches())
}

func TestRejoinLiveMatchOnNewConnection(t *testing.T) {
	c, _ := newCoordinator(t, store.NewMemoryGateway())
	a, b := newConn("ca"), newConn("cb")
	id := pair(t, c, a, b)
	ctx := context.Background()

	require.NoError(t, c.SubmitMove(ctx, a, id, "A", "rock", 1))
	require.Eventually(t, func() bool { return a.last().Event == protocol.EventWaitingForOpponentChoice }, waitFor, 5*time.Millisecond)
	c.Disconnect(ctx, a)
	a2 := newConn("ca2")
	require.NoError(t, c.RejoinMatch(ctx, a2, "A", id))

	require.Eventually(t, func() bool { return len(a2.names()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{protocol.EventMatchReady, protocol.EventWaitingForOpponentChoice}, a2.names())

	require.NoError(t, c.SubmitMove(ctx, b, id, "B", "scissors", 1))
	require.Eventually(t, func() bool { return a2.last().Event == protocol.EventRoundResult }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "win", a2.last().Data.(protocol.RoundResult).Result)
}

func TestRejoinFinishedMatchReplaysResult(t *testing.T) {
	mem := store.NewMemoryGateway()
	c, _ := newCoordinator(t, mem)
	a, b := newConn("ca"), newConn("cb")
	id := pair(t, c, a, b)

	play(t, c, a, b, id, 1, "rock", "scissors")
	play(t, c, a, b, id, 2, "rock", "scissors")
	require.Eventually(t, func() bool { return c.ActiveMatches() == 0 }, waitFor, 5*time.Millisecond)

	a2 := newConn("ca2")
	require.NoError(t, c.RejoinMatch(context.Background(), a2, "A", id))
	require.Equal(t, []string{protocol.EventFinalResult}, a2.names())
	fr := a2.last().Data.(protocol.FinalResult)
	assert.Equal(t, string(store.ResultPlayer1), fr.Result)
	assert.Equal(t, "A", fr.WinnerID)
	assert.Equal(t, "replay", fr.Reason)
	assert.Nil(t, fr.Scores)

	assert.ErrorIs(t, c.RejoinMatch(context.Background(), newConn("cz"), "Z", id), ErrNotParticipant)
	assert.ErrorIs(t, c.RejoinMatch(context.Background(), newConn("cy"), "Y", "missing"), ErrUnknownMatch)
}

func TestTwoStraightWinsEndMatch(t *testing.T) {
	mem := store.NewMemoryGateway()
	c, _ := newCoordinator(t, mem)
	a, b := newConn("ca"), newConn("cb")
	id := pair(t, c, a, b)

	play(t, c, a, b, id, 1, "scissors", "paper")
	play(t, c, a, b, id, 2, "scissors", "paper")
	require.Eventually(t, func() bool { return b.last().Event == protocol.EventFinalResult }, waitFor, 5*time.Millisecond)
	assert.Equal(t, map[string]int{"A": 2, "B": 0}, b.last().Data.(protocol.FinalResult).Scores)
	require.Eventually(t, func() bool { return c.ActiveMatches() == 0 }, waitFor, 5*time.Millisecond)
	rec, err := mem.GetMatchRecord(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.ResultPlayer1, rec.Result)
	assert.ErrorIs(t, c.SubmitMove(context.Background(), a, id, "A", "rock", 3), ErrUnknownMatch)
}

func TestRejoinWhileFinalizingReplaysResult(t *testing.T) {
	mem := store.NewMemoryGateway()
	c, _ := newCoordinator(t, mem)
	a, b := newConn("ca"), newConn("cb")
	b.gate = make(chan struct{})
	b.entered = make(chan struct{}, 1)
	id := pair(t, c, a, b)

	play(t, c, a, b, id, 1, "rock", "scissors")
	play(t, c, a, b, id, 2, "rock", "scissors")
	select {
	case <-b.entered:
	case <-time.After(waitFor):
		t.Fatalf("final result never sent")
	}

	// the actor is still alive, delivering finalResult to B
	c.Disconnect(context.Background(), a)
	a2 := newConn("ca2")
	errCh := make(chan error, 1)
	go func() { errCh <- c.RejoinMatch(context.Background(), a2, "A", id) }()
	time.Sleep(20 * time.Millisecond)
	close(b.gate)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatalf("rejoin did not return")
	}
	require.Equal(t, []string{protocol.EventFinalResult}, a2.names())
	assert.Equal(t, "A", a2.last().Data.(protocol.FinalResult).WinnerID)
}

func TestRequeueAfterFinalResult(t *testing.T) {
	c, _ := newCoordinator(t, store.NewMemoryGateway())
	a, b := newConn("ca"), newConn("cb")
	id := pair(t, c, a, b)

	play(t, c, a, b, id, 1, "paper", "rock")
	play(t, c, a, b, id, 2, "paper", "rock")
	require.Eventually(t, func() bool { return a.last().Event == protocol.EventFinalResult }, waitFor, 5*time.Millisecond)

	require.NoError(t, c.JoinQueue(context.Background(), a, "A", "t1"))
	assert.Equal(t, protocol.EventWaitingForOpponent, a.last().Event)
	assert.Equal(t, 1, c.Waiting("t1"))
}

func TestCreateFailureNotifiesBoth(t *testing.T) {
	gw := &brokenCreate{MemoryGateway: store.NewMemoryGateway(), err: errors.New("insert failed")}
	c, alerts := newCoordinator(t, gw)
	a, b := newConn("ca"), newConn("cb")
	ctx := context.Background()

	require.NoError(t, c.JoinQueue(ctx, a, "A", "t1"))
	assert.ErrorIs(t, c.JoinQueue(ctx, b, "B", "t1"), ErrCreateFailed)

	for _, conn := range []*fakeConn{a, b} {
		require.Equal(t, protocol.EventError, conn.last().Event)
		assert.Equal(t, msgcat.FallbackMatchFailure, conn.last().Data.(protocol.Notice).Message)
	}
	assert.Equal(t, []string{alert.KindCreateFailed}, alerts.kinds())
	assert.Equal(t, 0, c.ActiveMatches())
	assert.Equal(t, 0, c.Waiting("t1"))

	// both participants may queue again
	require.NoError(t, c.JoinQueue(ctx, a, "A", "t1"))
	assert.Equal(t, 1, c.Waiting("t1"))
}

func TestShutdownStopsMatches(t *testing.T) {
	c, alerts := newCoordinator(t, store.NewMemoryGateway())
	a, b := newConn("ca"), newConn("cb")
	pair(t, c, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, 0, c.ActiveMatches())
	assert.Equal(t, protocol.EventError, a.last().Event)
	assert.Contains(t, alerts.kinds(), alert.KindShutdownPending)
}
