// Package realtime proxies a single WebSocket connection to the remote
// speech-recognition service. The host connects, sends text frames and
// closes through commands; inbound frames come back as events.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// Events pushed to the host by the read pump.
const (
	EventMessage = "realtime-message"
	EventClose   = "realtime-close"
	EventError   = "realtime-error"
)

// DefaultURLTemplate is the realtime endpoint; the model name is
// interpolated into the query string.
const DefaultURLTemplate = "wss://dashscope.aliyuncs.com/api-ws/v1/realtime?model=%s"

// ErrNotConnected is returned by Send and Close when no connection is live.
var ErrNotConnected = errors.New("realtime: not connected")

// Emitter pushes named events to the host application.
type Emitter interface {
	Emit(event string, payload any)
}

// Manager owns at most one live connection to the realtime service. The
// write side of the connection is a guarded resource: every Send and Close
// checks it out of the slot, does its network I/O outside the lock, and
// (for Send) puts it back. That serializes writers without blocking the
// read pump, which exclusively owns the read side for the connection's
// whole lifetime. gorilla/websocket allows exactly this split: one
// concurrent reader plus one concurrent writer.
type Manager struct {
	urlTemplate string
	emitter     Emitter
	dialer      *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn // the send-half; nil when empty or checked out
}

func NewManager(urlTemplate string, emitter Emitter) *Manager {
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	return &Manager{
		urlTemplate: urlTemplate,
		emitter:     emitter,
		dialer:      websocket.DefaultDialer,
	}
}

// Connect dials the realtime service for the given model and installs the
// resulting connection. The dialer supplies the standard upgrade headers
// (Host, Upgrade, Sec-WebSocket-Key, Sec-WebSocket-Version); we add the
// bearer token and the protocol-capability header. A handshake or URL
// failure is returned to the caller and leaves the manager untouched.
// An existing connection is closed before the new one is installed so its
// read pump ends instead of lingering.
func (m *Manager) Connect(ctx context.Context, apiKey, model string) error {
	raw := fmt.Sprintf(m.urlTemplate, url.QueryEscape(model))
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing realtime URL %q: %w", raw, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := m.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket handshake with %s (%s): %w", u.Host, resp.Status, err)
		}
		return fmt.Errorf("websocket handshake with %s: %w", u.Host, err)
	}

	m.mu.Lock()
	prev := m.conn
	m.conn = conn
	m.mu.Unlock()

	if prev != nil {
		log.Printf("realtime: closing superseded connection")
		prev.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "superseded"))
		prev.Close()
	}

	go m.readPump(conn)
	return nil
}

// Send transmits one text frame. The send-half is checked out for the
// duration of the write, so concurrent sends serialize and frames go out
// in call order. The half is put back even when the write fails, keeping
// the logical connection available for retries.
func (m *Manager) Send(text string) error {
	conn, err := m.take()
	if err != nil {
		return err
	}
	werr := conn.WriteMessage(websocket.TextMessage, []byte(text))
	m.restore(conn)
	if werr != nil {
		return fmt.Errorf("sending text frame: %w", werr)
	}
	return nil
}

// Close sends a close frame and tears the connection down. The send-half
// is never put back: the connection is terminated whether or not the close
// frame went out.
func (m *Manager) Close() error {
	conn, err := m.take()
	if err != nil {
		return err
	}
	werr := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	if werr != nil {
		return fmt.Errorf("sending close frame: %w", werr)
	}
	return nil
}

// Connected reports whether a connection is installed. A checked-out
// send-half counts as connected from the caller's point of view, but this
// is only consulted by the status endpoint, where the race is harmless.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func (m *Manager) take() (*websocket.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil, ErrNotConnected
	}
	conn := m.conn
	m.conn = nil
	return conn, nil
}

func (m *Manager) restore(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == nil {
		m.conn = conn
		m.mu.Unlock()
		return
	}
	// A newer connection was installed while this one was checked out;
	// the stale one is done.
	m.mu.Unlock()
	conn.Close()
}

// release empties the slot if it still holds this connection, so a dead
// connection cannot be checked out after its pump exits.
func (m *Manager) release(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}

// readPump exclusively owns the read side. It forwards text frames until
// the remote closes or the read fails, then empties the slot and exits.
// Locally-closed connections (Close command, superseded Connect) exit
// silently instead of reporting a transport error.
func (m *Manager) readPump(conn *websocket.Conn) {
	defer conn.Close()
	defer m.release(conn)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case errors.As(err, &ce):
				m.emitter.Emit(EventClose, nil)
			case errors.Is(err, net.ErrClosed):
			default:
				m.emitter.Emit(EventError, err.Error())
			}
			return
		}
		if msgType == websocket.TextMessage {
			m.emitter.Emit(EventMessage, string(data))
		}
	}
}
