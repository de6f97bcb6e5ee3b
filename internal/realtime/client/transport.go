package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrServerClosed wraps a read error caused by the server closing the
// socket with a close frame, as opposed to the transport failing.
var ErrServerClosed = errors.New("server closed connection")

// Conn is a message oriented duplex connection. WriteMessage must be safe
// for concurrent use.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(frame []byte) error
	Close() error
}

// Dialer opens a Conn. Dial must honour ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketDialer dials the bus over gorilla/websocket.
type WebsocketDialer struct {
	URL    string
	Header http.Header
	dialer *websocket.Dialer
}

func NewWebsocketDialer(url string, header http.Header) *WebsocketDialer {
	return &WebsocketDialer{
		URL:    url,
		Header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, frame, err := c.ws.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
			return nil, fmt.Errorf("%w: %v", ErrServerClosed, err)
		}
		return nil, err
	}
	return frame, nil
}

func (c *wsConn) WriteMessage(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// Timer is a cancellable one-shot.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. Tests swap in a manual implementation.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
