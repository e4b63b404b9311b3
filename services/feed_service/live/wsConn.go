package live

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSConn adapts a websocket to Conn. Writes are serialized since gorilla
// allows a single concurrent writer.
type WSConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(deadline(ctx))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *WSConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *WSConn) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

func (c *WSConn) CloseWith(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	return c.ws.Close()
}

// readLoop discards client frames and returns once the client is gone or
// stopped answering pings.
func (c *WSConn) readLoop() error {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			return err
		}
	}
}

func (c *WSConn) keepAlive(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

// Serve registers ws for userId and blocks until the client disconnects. When
// the bridge cannot subscribe the socket is closed with an internal error.
func Serve(ctx context.Context, b *Bridge, userId int64, ws *websocket.Conn) error {
	conn := NewWSConn(ws)
	if err := b.Connect(ctx, userId, conn); err != nil {
		conn.CloseWith(websocket.CloseInternalServerErr, "live feed unavailable")
		return err
	}
	stop := make(chan struct{})
	go conn.keepAlive(stop)
	defer func() {
		close(stop)
		b.Disconnect(userId, conn)
		conn.Close()
	}()

	err := conn.readLoop()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func deadline(ctx context.Context) time.Time {
	d := time.Now().Add(writeWait)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}
