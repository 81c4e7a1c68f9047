package websocket

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/dashpulse/internal/domain"
)

const (
	writeDeadline   = 5 * time.Second
	readLimit       = 4096
	readBufferSize  = 1024
	writeBufferSize = 4096
)

// NewUpgrader builds the dashboard upgrader with the given origin policy.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
		CheckOrigin:     checkOrigin,
	}
}

// Conn adapts a gorilla connection to the registry and gate interfaces.
// Writes are serialized; reads are expected from a single goroutine.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(readLimit)
	return &Conn{ws: ws}
}

func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive reads the next data frame, waiting at most timeout.
// It returns domain.ErrReceiveTimeout when nothing arrived in time.
func (c *Conn) Receive(timeout time.Duration) ([]byte, error) {
	if err := c.ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, domain.ErrReceiveTimeout
		}
		return nil, fmt.Errorf("read message: %w", err)
	}
	return data, nil
}

// Close drops the connection without a close handshake.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// CloseWithReason sends a close frame with code and reason, then closes.
func (c *Conn) CloseWithReason(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		writeErr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
		c.writeMu.Unlock()

		c.closeErr = errors.Join(writeErr, c.ws.Close())
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
