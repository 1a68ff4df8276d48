package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molt/internal/api"
	"molt/internal/protocol"
)

type fakeConn struct {
	mu        sync.Mutex
	written   []api.OutboundCommand
	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.incoming:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	var cmd api.OutboundCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return err
	}
	c.written = append(c.written, cmd)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, cmd := range c.written {
		out = append(out, cmd.Type)
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type fakeTimer struct {
	wait    time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{wait: d, fn: f}
	c.timers = append(c.timers, timer)
	return timer
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fireLast runs the newest timer and returns the wait it was scheduled with
func (c *fakeClock) fireLast(t *testing.T) time.Duration {
	c.mu.Lock()
	require.NotEmpty(t, c.timers)
	timer := c.timers[len(c.timers)-1]
	c.mu.Unlock()
	require.False(t, timer.stopped, "timer was cancelled")
	timer.fn()
	return timer.wait
}

type recordingHandler struct {
	mu       sync.Mutex
	statuses []api.ConnectionStatus
	frames   chan []byte
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{frames: make(chan []byte, 16)}
}

func (h *recordingHandler) OnStatus(status api.ConnectionStatus, url string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.statuses)
}

func (h *recordingHandler) OnFrame(data []byte) {
	h.frames <- data
}

func newTestTransport() (*Transport, *fakeDialer, *fakeClock, *recordingHandler) {
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	handler := newRecordingHandler()
	tr := New(handler, WithDialer(dialer), WithClock(clock), WithBackoff(DefaultBackoff))
	return tr, dialer, clock, handler
}

func TestSendWhileDisconnectedFlushesInOrder(t *testing.T) {
	tr, dialer, _, _ := newTestTransport()
	defer tr.Disconnect()

	tr.Send(protocol.GetStatus())
	tr.Send(protocol.GetSystem())
	tr.Send(protocol.Travel("poi_1"))
	assert.Equal(t, 3, tr.Pending())

	require.NoError(t, tr.Connect("ws://game.test/ws"))

	assert.Equal(t, []string{"get_status", "get_system", "travel"}, dialer.last().types())
	assert.Equal(t, 0, tr.Pending())
	assert.Equal(t, api.ConnectionStatusConnected, tr.Status())

	tr.Send(protocol.Undock())
	assert.Equal(t, []string{"get_status", "get_system", "travel", "undock"}, dialer.last().types())
}

func TestConnectIsNoOpWhenOpen(t *testing.T) {
	tr, dialer, _, _ := newTestTransport()
	defer tr.Disconnect()

	require.NoError(t, tr.Connect("ws://game.test/ws"))
	require.NoError(t, tr.Connect("ws://game.test/ws"))
	assert.Equal(t, 1, dialer.dials)
}

func TestConnectWithoutURL(t *testing.T) {
	tr, _, _, _ := newTestTransport()
	assert.ErrorIs(t, tr.Connect(""), ErrNoURL)
}

func TestLoginReplayedBeforeQueuedMessages(t *testing.T) {
	t.Run("logged in", func(t *testing.T) {
		tr, dialer, _, _ := newTestTransport()
		defer tr.Disconnect()

		tr.SetCredentials("pilot", "secret")
		tr.SetLoggedIn(true)
		tr.Send(protocol.GetStatus())

		require.NoError(t, tr.Connect("ws://game.test/ws"))
		conn := dialer.last()
		assert.Equal(t, []string{"login", "get_status"}, conn.types())
		assert.Equal(t, "pilot", conn.written[0].Payload["username"])
	})

	t.Run("not logged in", func(t *testing.T) {
		tr, dialer, _, _ := newTestTransport()
		defer tr.Disconnect()

		tr.SetCredentials("pilot", "secret")
		require.NoError(t, tr.Connect("ws://game.test/ws"))
		assert.Empty(t, dialer.last().types())
	})
}

func TestBackoffGrowsToCeilingAndResets(t *testing.T) {
	tr, dialer, clock, _ := newTestTransport()
	defer tr.Disconnect()
	dialer.setFail(true)

	require.Error(t, tr.Connect("ws://game.test/ws"))
	assert.Equal(t, api.ConnectionStatusError, tr.Status())
	assert.Error(t, tr.LastError())

	var waits []time.Duration
	for i := 0; i < 12; i++ {
		waits = append(waits, clock.fireLast(t))
	}

	assert.Equal(t, 2*time.Second, waits[0])
	assert.Equal(t, 3*time.Second, waits[1])
	assert.Equal(t, 4500*time.Millisecond, waits[2])
	for i := 1; i < len(waits); i++ {
		assert.GreaterOrEqual(t, waits[i], waits[i-1])
		assert.LessOrEqual(t, waits[i], DefaultBackoff.Max)
	}
	assert.Equal(t, DefaultBackoff.Max, waits[len(waits)-1])
	assert.Equal(t, 13, tr.Attempts())

	dialer.setFail(false)
	clock.fireLast(t)
	assert.Equal(t, api.ConnectionStatusConnected, tr.Status())
	assert.Equal(t, DefaultBackoff.Base, tr.Delay())
	assert.Equal(t, 0, tr.Attempts())
}

func TestUnexpectedCloseSchedulesReconnect(t *testing.T) {
	tr, dialer, clock, handler := newTestTransport()
	defer tr.Disconnect()

	require.NoError(t, tr.Connect("ws://game.test/ws"))
	dialer.last().Close()

	require.Eventually(t, func() bool { return handler.count() == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, clock.count())
	assert.Equal(t, api.ConnectionStatusDisconnected, tr.Status())
	assert.Equal(t, 1, tr.Attempts())

	clock.fireLast(t)
	assert.Equal(t, 2, dialer.dials)
	assert.True(t, tr.IsConnected())

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []api.ConnectionStatus{
		api.ConnectionStatusConnecting,
		api.ConnectionStatusConnected,
		api.ConnectionStatusDisconnected,
		api.ConnectionStatusConnecting,
		api.ConnectionStatusConnected,
	}, handler.statuses)
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	tr, dialer, clock, _ := newTestTransport()
	dialer.setFail(true)

	require.Error(t, tr.Connect("ws://game.test/ws"))
	require.Equal(t, 1, clock.count())

	tr.Disconnect()
	assert.True(t, clock.timers[0].stopped)
	assert.Equal(t, api.ConnectionStatusDisconnected, tr.Status())
	assert.Equal(t, 0, tr.Attempts())
}

func TestManualDisconnectDoesNotReconnect(t *testing.T) {
	tr, dialer, clock, _ := newTestTransport()

	require.NoError(t, tr.Connect("ws://game.test/ws"))
	conn := dialer.last()
	tr.Disconnect()

	select {
	case <-conn.closed:
	case <-time.After(time.Second):
		t.Fatal("socket was not closed")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, clock.count())
	assert.False(t, tr.IsConnected())
}

func TestFramesReachHandler(t *testing.T) {
	tr, dialer, _, handler := newTestTransport()
	defer tr.Disconnect()

	require.NoError(t, tr.Connect("ws://game.test/ws"))
	dialer.last().incoming <- []byte(`{"type":"tick","payload":{"tick":5}}`)

	select {
	case frame := <-handler.frames:
		assert.JSONEq(t, `{"type":"tick","payload":{"tick":5}}`, string(frame))
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestWebsocketServerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 8)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"welcome","payload":{"tick_rate":10}}{"type":"tick","payload":{"tick":1}}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd api.OutboundCommand
			if json.Unmarshal(data, &cmd) == nil {
				received <- cmd.Type
			}
		}
	}))
	defer server.Close()

	handler := newRecordingHandler()
	tr := New(handler, WithClock(&fakeClock{}))
	defer tr.Disconnect()

	tr.Send(protocol.GetStatus())
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	require.NoError(t, tr.Connect(wsURL))
	tr.Send(protocol.GetSystem())

	for _, want := range []string{"get_status", "get_system"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("server did not receive %s", want)
		}
	}

	select {
	case frame := <-handler.frames:
		msgs, errs := protocol.ParseFrame(frame)
		require.Empty(t, errs)
		require.Len(t, msgs, 2)
		assert.Equal(t, "welcome", msgs[0].Type)
		assert.Equal(t, "tick", msgs[1].Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from server")
	}
}
