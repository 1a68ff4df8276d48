package proxy

import (
	"context"
	"encoding/json"
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
	"molt/internal/proxy/database"
)

const waitFor = 2 * time.Second

// gameServer is a websocket endpoint that records commands and pushes frames
type gameServer struct {
	srv      *httptest.Server
	received chan api.OutboundCommand
	frames   chan string
}

func newGameServer(t *testing.T) *gameServer {
	t.Helper()
	gs := &gameServer{
		received: make(chan api.OutboundCommand, 64),
		frames:   make(chan string, 64),
	}
	upgrader := websocket.Upgrader{}
	gs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		done := make(chan struct{})
		defer close(done)
		go func() {
			for {
				select {
				case frame := <-gs.frames:
					if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd api.OutboundCommand
			if json.Unmarshal(data, &cmd) == nil {
				gs.received <- cmd
			}
		}
	}))
	t.Cleanup(gs.srv.Close)
	return gs
}

func (gs *gameServer) url() string {
	return "ws" + strings.TrimPrefix(gs.srv.URL, "http")
}

func (gs *gameServer) push(frame string) { gs.frames <- frame }

// next returns the next command the client sent
func (gs *gameServer) next(t *testing.T) api.OutboundCommand {
	t.Helper()
	select {
	case cmd := <-gs.received:
		return cmd
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a command")
		return api.OutboundCommand{}
	}
}

// quiet asserts nothing else was sent for a short while
func (gs *gameServer) quiet(t *testing.T) {
	t.Helper()
	select {
	case cmd := <-gs.received:
		t.Fatalf("unexpected command %q", cmd.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

type recordingUI struct {
	mu       sync.Mutex
	statuses []api.ConnectionStatus
	events   []api.EventEntry
	last     api.StatusInfo
}

func (u *recordingUI) OnConnectionStatusChanged(status api.ConnectionStatus, url string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses = append(u.statuses, status)
}

func (u *recordingUI) OnEvent(entry api.EventEntry) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, entry)
}

func (u *recordingUI) OnStateChanged(status api.StatusInfo) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.last = status
}

func (u *recordingUI) sawEvent(msg string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, e := range u.events {
		if e.Message == msg {
			return true
		}
	}
	return false
}

func (u *recordingUI) sawStatus(status api.ConnectionStatus) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, s := range u.statuses {
		if s == status {
			return true
		}
	}
	return false
}

func newSession(t *testing.T, opts Options) (*Session, *recordingUI) {
	t.Helper()
	ui := &recordingUI{}
	s := New(ui, opts)
	t.Cleanup(func() { s.Shutdown() })
	return s, ui
}

func login(t *testing.T, s *Session, gs *gameServer) {
	t.Helper()
	require.NoError(t, s.Connect(gs.url()))
	s.Login("ace", "hunter2")
	cmd := gs.next(t)
	require.Equal(t, "login", cmd.Type)
	assert.Equal(t, "ace", cmd.Payload["username"])

	gs.push(`{"type":"logged_in","payload":{"player":{"id":"p1","username":"ace","current_system":"sol"}}}`)
	assert.Equal(t, "get_status", gs.next(t).Type)
	assert.Equal(t, "get_system", gs.next(t).Type)
}

func TestLoginRequestsState(t *testing.T) {
	gs := newGameServer(t)
	s, ui := newSession(t, Options{})

	login(t, s, gs)

	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.LoggedIn)
	assert.Equal(t, "ace", status.Username)
	assert.Equal(t, "sol", status.SystemID)
	assert.Equal(t, api.ConnectionStatusConnected, status.Connection)
	assert.True(t, s.IsConnected())

	assert.Eventually(t, func() bool { return ui.sawEvent("Logged in as ace") }, waitFor, 10*time.Millisecond)
	assert.True(t, ui.sawStatus(api.ConnectionStatusConnecting))
	assert.True(t, ui.sawStatus(api.ConnectionStatusConnected))
}

func TestQueueRunsOneActionPerTick(t *testing.T) {
	gs := newGameServer(t)
	s, _ := newSession(t, Options{})
	login(t, s, gs)

	require.NoError(t, s.Enqueue(api.ActionCommand{Type: "undock"}))
	assert.Equal(t, "undock", gs.next(t).Type, "an idle queue runs at once")

	require.NoError(t, s.Enqueue(api.ActionCommand{Type: "travel", Params: map[string]any{"poiId": "belt_1"}}))
	require.NoError(t, s.Enqueue(api.ActionCommand{Type: "mine"}))
	gs.quiet(t)

	gs.push(`{"type":"tick","payload":{"tick":10}}`)
	cmd := gs.next(t)
	assert.Equal(t, "travel", cmd.Type)
	assert.Equal(t, "belt_1", cmd.Payload["target_poi"])

	// A second notice of the same tick runs nothing
	gs.push(`{"type":"tick","payload":{"tick":10}}`)
	gs.quiet(t)

	gs.push(`{"type":"tick","payload":{"tick":11}}`)
	assert.Equal(t, "mine", gs.next(t).Type)

	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11), status.Tick)
	assert.Zero(t, status.QueueLength)
}

func TestEnqueueRejectsBadCommand(t *testing.T) {
	s, _ := newSession(t, Options{})
	assert.Error(t, s.Enqueue(api.ActionCommand{Type: "travel"}))
	assert.Error(t, s.Enqueue(api.ActionCommand{Type: "warp_drive"}))
}

func TestServerErrorCancelsQueue(t *testing.T) {
	gs := newGameServer(t)
	s, ui := newSession(t, Options{})
	login(t, s, gs)

	require.NoError(t, s.Enqueue(api.ActionCommand{Type: "undock"}))
	require.Equal(t, "undock", gs.next(t).Type)
	require.NoError(t, s.Enqueue(api.ActionCommand{Type: "mine"}))

	gs.push(`{"type":"error","payload":{"code":"not_docked","message":"You are not docked"}}`)
	assert.Eventually(t, func() bool { return ui.sawEvent("[Queue] cancelled: You are not docked") }, waitFor, 10*time.Millisecond)

	gs.push(`{"type":"tick","payload":{"tick":3}}`)
	gs.quiet(t)
}

func TestSystemsAreRememberedAndRouted(t *testing.T) {
	db := database.NewDatabase()
	require.NoError(t, db.CreateDatabase(":memory:"))
	t.Cleanup(func() { db.CloseDatabase() })

	gs := newGameServer(t)
	s, _ := newSession(t, Options{DB: db, RouteMaxHops: 5})
	login(t, s, gs)

	gs.push(`{"type":"system_info","payload":{"id":"sol","name":"Sol","connections":[{"system_id":"alpha","system_name":"Alpha"}]}}`)

	require.Eventually(t, func() bool {
		_, found, err := db.LoadSystemMemo("ace", "sol")
		return err == nil && found
	}, waitFor, 10*time.Millisecond)

	route, err := call(context.Background(), s, func() ([]string, error) {
		return s.routes.Route("sol", "alpha", 5)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, route)
}

func TestRecordingNeedsDockedPlayer(t *testing.T) {
	s, _ := newSession(t, Options{})
	assert.ErrorIs(t, s.StartRecording(), ErrNotDocked)
}

func TestRecordAndPlayLoop(t *testing.T) {
	db := database.NewDatabase()
	require.NoError(t, db.CreateDatabase(":memory:"))
	t.Cleanup(func() { db.CloseDatabase() })

	gs := newGameServer(t)
	s, _ := newSession(t, Options{DB: db})
	login(t, s, gs)

	gs.push(`{"type":"docked","payload":{"station_id":"st_1","station_name":"Earth Station"}}`)
	assert.Equal(t, "get_base", gs.next(t).Type)

	require.NoError(t, s.StartRecording())
	require.NoError(t, s.Enqueue(api.ActionCommand{Type: "undock"}))
	require.NoError(t, s.Enqueue(api.ActionCommand{Type: "mine"}))
	gs.quiet(t)
	require.NoError(t, s.SaveRecording("Mining run"))

	loops, err := s.Loops(context.Background())
	require.NoError(t, err)
	require.Len(t, loops, 1)
	assert.Equal(t, "Mining run", loops[0].Name)
	assert.Equal(t, "st_1", loops[0].StationID)
	assert.Equal(t, 2, loops[0].Steps)

	stored, err := db.LoadLoops("ace")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	require.NoError(t, s.PlayLoop(loops[0].ID, 1))
	assert.Equal(t, "undock", gs.next(t).Type)

	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Mining run", status.PlayingLoop)
	assert.Equal(t, 1, status.TotalIteration)

	s.StopLoop()
	status, err = s.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, status.PlayingLoop)
}

func TestClearQueueStopsLoop(t *testing.T) {
	gs := newGameServer(t)
	s, _ := newSession(t, Options{})
	login(t, s, gs)

	_, err := s.ImportLoops(context.Background(), strings.NewReader(`version: 1
loops:
  - id: loop_1
    station_id: st_1
    station_name: Earth Station
    name: Haul
    steps:
      - label: Undock
        command:
          type: undock
      - label: Mine
        command:
          type: mine
`))
	require.NoError(t, err)
	require.NoError(t, s.PlayLoop("loop_1", 0))
	assert.Equal(t, "undock", gs.next(t).Type)

	s.ClearQueue()
	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, status.PlayingLoop)
	assert.Zero(t, status.QueueLength)

	gs.push(`{"type":"error","payload":{"code":"cargo_full","message":"Cargo hold is full"}}`)
	gs.quiet(t)
}

func TestExportImportLoops(t *testing.T) {
	s, _ := newSession(t, Options{})
	yaml := `version: 1
loops:
  - id: loop_1
    station_id: st_1
    station_name: Earth Station
    name: Haul
    steps:
      - label: Undock
        command:
          type: undock
`
	n, err := s.ImportLoops(context.Background(), strings.NewReader(yaml))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var out strings.Builder
	require.NoError(t, s.ExportLoops(context.Background(), &out))
	assert.Contains(t, out.String(), "loop_1")
	assert.Contains(t, out.String(), "Haul")
}

func TestCallsAfterShutdown(t *testing.T) {
	s := New(nil, Options{})
	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())

	_, err := s.Status(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Connect("ws://127.0.0.1:1"), ErrClosed)
	assert.False(t, s.Post(func() {}))
}
