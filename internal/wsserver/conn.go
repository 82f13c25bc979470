package wsserver

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/rps-arena/internal/protocol"
)

// conn is one accepted websocket. It satisfies registry.Conn.
type conn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration
	remote       string

	writeM sync.Mutex
}

func (c *conn) ID() string { return c.id }

// Send writes one event frame. Concurrent senders are serialized.
func (c *conn) Send(ctx context.Context, msg protocol.Outbound) error {
	c.writeM.Lock()
	defer c.writeM.Unlock()
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.ws, msg)
}

func (c *conn) close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}
