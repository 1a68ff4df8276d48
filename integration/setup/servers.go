//go:build integration

package setup

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"molt/internal/api"
	"molt/internal/userdata"
)

// GameServer is a scripted websocket game server for one client
type GameServer struct {
	srv      *httptest.Server
	Received chan api.OutboundCommand
	frames   chan string
}

// StartGameServer answers every login with logged_in for the given user
func StartGameServer(t *testing.T, username string) *GameServer {
	t.Helper()
	gs := &GameServer{
		Received: make(chan api.OutboundCommand, 128),
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
					if conn.WriteMessage(websocket.TextMessage, []byte(frame)) != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		gs.Push(`{"type":"welcome","payload":{"version":"1.0","motd":"integration"}}`)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd api.OutboundCommand
			if json.Unmarshal(data, &cmd) != nil {
				continue
			}
			if cmd.Type == "login" {
				gs.Push(`{"type":"logged_in","payload":{"player":{"id":"p_` + username + `","username":"` + username + `","current_system":"sol"}}}`)
			}
			gs.Received <- cmd
		}
	}))
	t.Cleanup(gs.srv.Close)
	return gs
}

// URL is the websocket address of the server
func (gs *GameServer) URL() string {
	return "ws" + strings.TrimPrefix(gs.srv.URL, "http")
}

// Push queues a frame for the client
func (gs *GameServer) Push(frame string) { gs.frames <- frame }

// WaitFor returns the first command of type typ, failing after timeout
func (gs *GameServer) WaitFor(t *testing.T, typ string, timeout time.Duration) api.OutboundCommand {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case cmd := <-gs.Received:
			if cmd.Type == typ {
				return cmd
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", typ)
			return api.OutboundCommand{}
		}
	}
}

// StartSyncServer serves the user-data API backed by a fresh database
func StartSyncServer(t *testing.T) (*httptest.Server, *DatabaseTestSetup) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := SetupTestDatabase(t, "sync")
	srv := httptest.NewServer(userdata.NewServer("", store.DB).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

// StartSyncServerWithoutStorage serves the user-data API with no backend
func StartSyncServerWithoutStorage(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(userdata.NewServer("", nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}
