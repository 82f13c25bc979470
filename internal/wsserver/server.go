// Package wsserver accepts participant websockets and feeds their events to
// the coordinator.
package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/rps-arena/internal/metrics"
	"github.com/park285/rps-arena/internal/obslog"
	"github.com/park285/rps-arena/internal/protocol"
	"github.com/park285/rps-arena/internal/registry"
)

var (
	errUnknownEvent   = errors.New("unknown event")
	errMissingPayload = errors.New("missing data")
)

// Coordinator is the part of the coordinator the transport drives.
type Coordinator interface {
	JoinQueue(ctx context.Context, conn registry.Conn, participantID, tournamentID string) error
	RejoinMatch(ctx context.Context, conn registry.Conn, participantID, matchID string) error
	SubmitMove(ctx context.Context, conn registry.Conn, matchID, participantID, move string, round int) error
	Disconnect(ctx context.Context, conn registry.Conn)
}

type Options struct {
	// OriginPatterns are host patterns accepted for cross-origin upgrades.
	OriginPatterns []string
	ReadLimit      int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PingTimeout    time.Duration
	Metrics        *metrics.Metrics
}

func (o *Options) defaults() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4 << 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 3 * time.Second
	}
}

type Server struct {
	coord Coordinator
	opts  Options

	connsM sync.Mutex
	conns  map[string]*conn
	wg     sync.WaitGroup
}

func New(coord Coordinator, opts Options) *Server {
	opts.defaults()
	return &Server{
		coord: coord,
		opts:  opts,
		conns: make(map[string]*conn),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.opts.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(s.opts.ReadLimit)

	c := &conn{
		id:           uuid.NewString(),
		ws:           ws,
		writeTimeout: s.opts.WriteTimeout,
		remote:       r.RemoteAddr,
	}
	s.track(c)
	defer s.untrack(c)

	s.opts.Metrics.ConnOpened()
	defer s.opts.Metrics.ConnClosed()
	obslog.L().Info("ws_connected", zap.String("conn_id", c.id), zap.String("remote", c.remote))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pingLoop(ctx, c)
	}()

	s.readLoop(ctx, c)
	cancel()

	s.coord.Disconnect(context.WithoutCancel(ctx), c)
	_ = c.close(websocket.StatusNormalClosure, "")
	obslog.L().Info("ws_disconnected", zap.String("conn_id", c.id))
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				obslog.L().Debug("ws_closed", zap.String("conn_id", c.id))
			default:
				obslog.L().Info("ws_read_error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		s.dispatch(ctx, c, data)
	}
}

// dispatch decodes one frame and hands it to the coordinator. Bad frames and
// rejected events are logged and dropped; the socket stays open.
func (s *Server) dispatch(ctx context.Context, c *conn, frame []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		obslog.L().Warn("ws_bad_frame", zap.String("conn_id", c.id), zap.Error(err))
		return
	}

	var err error
	switch env.Event {
	case protocol.EventJoinQueue, protocol.EventFindOrCreateMatch:
		var p protocol.JoinQueue
		if err = decode(env.Data, &p); err == nil {
			err = s.coord.JoinQueue(ctx, c, p.Participant(), p.TournamentID)
		}
	case protocol.EventRejoinMatch:
		var p protocol.RejoinMatch
		if err = decode(env.Data, &p); err == nil {
			err = s.coord.RejoinMatch(ctx, c, p.Participant(), p.MatchID)
		}
	case protocol.EventSubmitMove, protocol.EventMakeMove:
		var p protocol.SubmitMove
		if err = decode(env.Data, &p); err == nil {
			err = s.coord.SubmitMove(ctx, c, p.MatchID, p.Participant(), p.Move, p.Round)
		}
	default:
		err = errUnknownEvent
	}
	if err != nil {
		obslog.L().Info("ws_event_rejected",
			zap.String("conn_id", c.id),
			zap.String("event", env.Event),
			zap.Error(err),
		)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errMissingPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func (s *Server) pingLoop(ctx context.Context, c *conn) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, s.opts.PingTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= 2 {
				obslog.L().Info("ws_ping_timeout", zap.String("conn_id", c.id), zap.Error(err))
				_ = c.close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (s *Server) track(c *conn) {
	s.connsM.Lock()
	s.conns[c.id] = c
	s.connsM.Unlock()
}

func (s *Server) untrack(c *conn) {
	s.connsM.Lock()
	delete(s.conns, c.id)
	s.connsM.Unlock()
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	s.connsM.Lock()
	defer s.connsM.Unlock()
	return len(s.conns)
}

// Close sends a going-away close to every open socket and waits for the
// ping loops to stop, up to ctx.
func (s *Server) Close(ctx context.Context) error {
	s.connsM.Lock()
	open := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.connsM.Unlock()
	for _, c := range open {
		_ = c.close(websocket.StatusGoingAway, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
