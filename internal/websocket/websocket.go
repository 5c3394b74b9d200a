package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scythe504/planning-poker-backend/internal"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// NewUpgrader accepts requests from allowedOrigin, or from anywhere when it
// is "*".
func NewUpgrader(allowedOrigin string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "*" || origin == "" || origin == allowedOrigin
		},
	}
}

// Conn wraps one client socket. Writes are serialized; reads happen on a
// single goroutine owned by the caller.
type Conn struct {
	id      string
	ws      *websocket.Conn
	limiter *rate.Limiter

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(id string, ws *websocket.Conn, limit rate.Limit, burst int) *Conn {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &Conn{
		id:      id,
		ws:      ws,
		limiter: rate.NewLimiter(limit, burst),
		done:    make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) SafeWriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// Send writes a typed envelope.
func Send[T any](c *Conn, msgType string, data T) error {
	return c.SafeWriteJSON(internal.Message[T]{Type: msgType, Data: data})
}

// ReadMessage blocks for the next client message. ok is false when the
// sender is over its rate limit; the message is then dropped.
func (c *Conn) ReadMessage() (msg internal.ClientMessage, ok bool, err error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return msg, false, err
	}
	if !c.limiter.Allow() {
		return msg, false, nil
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, false, &DecodeError{Err: err}
	}
	return msg, true, nil
}

// KeepAlive pings the client until the connection is closed.
func (c *Conn) KeepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// CloseWith sends a close frame with code and reason, then closes the socket.
func (c *Conn) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.mu.Unlock()
		_ = c.ws.Close()
	})
}

func (c *Conn) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

// DecodeError is a client message that is not a valid envelope. The
// connection stays usable.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode message: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsGracefulClose reports a close the client initiated on purpose.
func IsGracefulClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
