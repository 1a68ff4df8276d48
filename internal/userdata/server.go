package userdata

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"molt/internal/log"
)

// Backend stores JSON blobs by key
type Backend interface {
	GetBlob(scope, key string) (json.RawMessage, bool, error)
	PutBlob(scope, key string, value json.RawMessage) error
}

// Server serves the user-data sync API. With a nil backend every data
// request answers 503 and clients fall back to local storage.
type Server struct {
	addr      string
	backend   Backend
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	// serializes the token check with the first write that claims a name
	mu sync.Mutex
}

// NewServer creates a server listening on addr
func NewServer(addr string, backend Backend) *Server {
	if addr == "" {
		addr = "127.0.0.1:8787"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		backend:   backend,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler returns the routed engine
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/userdata", s.handleGet)
	r.PUT("/api/userdata", s.handlePut)
	return r
}

// Start begins serving in the background
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.startTime = time.Now()
	log.Info("sync server listening", "addr", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("sync server stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	if s.backend == nil {
		status = "not_configured"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"uptime": time.Since(s.startTime).String(),
	})
}

func bearer(c *gin.Context) string {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return token
}

func tokenKey(username string) string { return "usertoken:" + username }
func dataKey(username string) string  { return "userdata:" + username }

// authorize checks token against the one stored for username. An unclaimed
// name accepts any token.
func (s *Server) authorize(username, token string) (claimed bool, ok bool, err error) {
	raw, found, err := s.backend.GetBlob("", tokenKey(username))
	if err != nil || !found {
		return false, err == nil, err
	}
	var stored string
	if err := json.Unmarshal(raw, &stored); err != nil {
		return true, false, err
	}
	return true, stored == token, nil
}

func (s *Server) handleGet(c *gin.Context) {
	if s.backend == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"data": nil, "reason": "storage_not_configured"})
		return
	}
	username := c.Query("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username required"})
		return
	}
	token := bearer(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, err := s.authorize(username, token); err != nil {
		log.Error("failed to read user token", "username", username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	} else if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	raw, found, err := s.backend.GetBlob("", dataKey(username))
	if err != nil {
		log.Error("failed to read user data", "username", username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": raw})
}

func (s *Server) handlePut(c *gin.Context) {
	if s.backend == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "reason": "storage_not_configured"})
		return
	}
	token := bearer(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req struct {
		Username string          `json:"username"`
		Data     json.RawMessage `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Username == "" || len(req.Data) == 0 || string(req.Data) == "null" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and data required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	claimed, ok, err := s.authorize(req.Username, token)
	if err != nil {
		log.Error("failed to read user token", "username", req.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !claimed {
		stored, _ := json.Marshal(token)
		if err := s.backend.PutBlob("", tokenKey(req.Username), stored); err != nil {
			log.Error("failed to store user token", "username", req.Username, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
			return
		}
		log.Info("sync user claimed", "username", req.Username)
	}

	if err := s.backend.PutBlob("", dataKey(req.Username), req.Data); err != nil {
		log.Error("failed to store user data", "username", req.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
