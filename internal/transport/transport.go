package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"molt/internal/api"
	"molt/internal/log"
	"molt/internal/protocol"
)

// ErrNoURL is returned by Connect when no server URL was ever given
var ErrNoURL = errors.New("no server url")

var errNotOpen = errors.New("socket not open")

const dialTimeout = 15 * time.Second

// Conn is the subset of *websocket.Conn the transport uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a socket to url
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Timer is a cancellable pending callback
type Timer interface {
	Stop() bool
}

// Clock schedules reconnect attempts
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Handler receives transport notifications. Both methods are called from
// transport goroutines and must not block.
type Handler interface {
	OnStatus(status api.ConnectionStatus, url string, err error)
	OnFrame(data []byte)
}

// Backoff controls reconnect spacing
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// DefaultBackoff waits 2s, 3s, 4.5s ... capped at 30s
var DefaultBackoff = Backoff{Base: 2 * time.Second, Max: 30 * time.Second, Factor: 1.5}

func (b Backoff) next(d time.Duration) time.Duration {
	grown := time.Duration(float64(d) * b.Factor)
	return min(grown, b.Max)
}

// WebsocketDialer dials with gorilla/websocket
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Transport owns the single server socket: reconnects with backoff, queues
// sends while offline and replays the login after a reconnect.
type Transport struct {
	mu sync.Mutex

	dialer  Dialer
	clock   Clock
	backoff Backoff
	handler Handler

	url       string
	conn      Conn
	dialing   bool
	status    api.ConnectionStatus
	lastErr   error
	manual    bool
	attempts  int
	delay     time.Duration
	timer     Timer
	sendQueue []api.OutboundCommand

	username string
	password string
	loggedIn bool
}

// Option configures a Transport
type Option func(*Transport)

func WithDialer(d Dialer) Option   { return func(t *Transport) { t.dialer = d } }
func WithClock(c Clock) Option     { return func(t *Transport) { t.clock = c } }
func WithBackoff(b Backoff) Option { return func(t *Transport) { t.backoff = b } }

// New creates a disconnected transport reporting to handler.
func New(handler Handler, opts ...Option) *Transport {
	t := &Transport{
		dialer:  WebsocketDialer{},
		clock:   realClock{},
		backoff: DefaultBackoff,
		handler: handler,
		status:  api.ConnectionStatusDisconnected,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.delay = t.backoff.Base
	return t
}

// Connect dials url (or the last url when empty). It is a no-op while a
// socket is open or a dial is in flight. A failed dial puts the transport
// in the error state and schedules a reconnect.
func (t *Transport) Connect(url string) error {
	t.mu.Lock()
	if url != "" {
		t.url = url
	}
	target := t.url
	if t.conn != nil || t.dialing {
		t.mu.Unlock()
		return nil
	}
	if target == "" {
		t.mu.Unlock()
		return ErrNoURL
	}
	t.manual = false
	t.dialing = true
	t.status = api.ConnectionStatusConnecting
	t.lastErr = nil
	t.mu.Unlock()

	t.notify(api.ConnectionStatusConnecting, target, nil)
	log.Info("connecting", "url", target)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, err := t.dialer.Dial(ctx, target)
	cancel()

	t.mu.Lock()
	t.dialing = false
	if err != nil {
		t.status = api.ConnectionStatusError
		t.lastErr = err
		if !t.manual {
			t.scheduleReconnectLocked()
		}
		t.mu.Unlock()
		log.Warn("connect failed", "url", target, "error", err)
		t.notify(api.ConnectionStatusError, target, err)
		return err
	}
	if t.manual {
		// Disconnect was called while dialing
		t.mu.Unlock()
		conn.Close()
		return nil
	}

	t.conn = conn
	t.status = api.ConnectionStatusConnected
	t.attempts = 0
	t.delay = t.backoff.Base
	if t.loggedIn && t.username != "" && t.password != "" {
		if err := t.writeLocked(protocol.Login(t.username, t.password)); err != nil {
			log.Warn("login replay failed", "error", err)
		}
	}
	pending := t.sendQueue
	t.sendQueue = nil
	for _, cmd := range pending {
		t.sendLocked(cmd)
	}
	t.mu.Unlock()

	log.Info("connected", "url", target, "flushed", len(pending))
	t.notify(api.ConnectionStatusConnected, target, nil)

	go t.readLoop(conn, target)
	return nil
}

// Disconnect closes the socket without reconnecting.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.manual = true
	t.cancelReconnectLocked()
	conn := t.conn
	t.conn = nil
	t.status = api.ConnectionStatusDisconnected
	t.attempts = 0
	target := t.url
	t.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	log.Info("disconnected", "url", target)
	t.notify(api.ConnectionStatusDisconnected, target, nil)
}

// Send writes cmd now when connected, otherwise queues it for the next connect.
// A failed write also queues it.
func (t *Transport) Send(cmd api.OutboundCommand) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendLocked(cmd)
}

func (t *Transport) sendLocked(cmd api.OutboundCommand) {
	if t.conn != nil {
		err := t.writeLocked(cmd)
		if err == nil {
			return
		}
		log.Warn("write failed, queueing", "type", cmd.Type, "error", err)
	}
	t.sendQueue = append(t.sendQueue, cmd)
	log.Debug("queued", "type", cmd.Type, "pending", len(t.sendQueue))
}

func (t *Transport) writeLocked(cmd api.OutboundCommand) error {
	if t.conn == nil {
		return errNotOpen
	}
	data, err := protocol.Encode(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Type, err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	log.LogFrame(">>", data)
	log.Debug("sent", "type", cmd.Type)
	return nil
}

// SetCredentials stores the login replayed after a reconnect.
func (t *Transport) SetCredentials(username, password string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.username = username
	t.password = password
}

// SetLoggedIn records whether the current session is authenticated.
func (t *Transport) SetLoggedIn(loggedIn bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loggedIn = loggedIn
}

func (t *Transport) readLoop(conn Conn, target string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleClose(conn, target, err)
			return
		}
		log.LogFrame("<<", data)
		if t.handler != nil {
			t.handler.OnFrame(data)
		}
	}
}

func (t *Transport) handleClose(conn Conn, target string, readErr error) {
	t.mu.Lock()
	if t.conn != conn {
		// Replaced or closed by Disconnect
		t.mu.Unlock()
		return
	}
	t.conn = nil
	conn.Close()
	if websocket.IsUnexpectedCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.lastErr = readErr
	}
	t.status = api.ConnectionStatusDisconnected
	if !t.manual {
		t.scheduleReconnectLocked()
	}
	t.mu.Unlock()

	log.Warn("connection closed", "url", target, "error", readErr)
	t.notify(api.ConnectionStatusDisconnected, target, readErr)
}

func (t *Transport) scheduleReconnectLocked() {
	t.cancelReconnectLocked()
	t.attempts++
	wait := t.delay
	t.delay = t.backoff.next(t.delay)
	log.Info("reconnect scheduled", "in", wait, "attempt", t.attempts)
	t.timer = t.clock.AfterFunc(wait, func() {
		t.mu.Lock()
		t.timer = nil
		manual := t.manual
		t.mu.Unlock()
		if manual {
			return
		}
		t.Connect("")
	})
}

func (t *Transport) cancelReconnectLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Transport) notify(status api.ConnectionStatus, url string, err error) {
	if t.handler != nil {
		t.handler.OnStatus(status, url, err)
	}
}

// Status returns the connection state
func (t *Transport) Status() api.ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// IsConnected reports whether a socket is open
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// URL returns the server url in use
func (t *Transport) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// LastError returns the most recent dial or socket error
func (t *Transport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Attempts returns the number of reconnects scheduled since the last successful connect
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Delay returns the wait that will be used for the next reconnect
func (t *Transport) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

// Pending returns the number of queued outbound commands
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sendQueue)
}
