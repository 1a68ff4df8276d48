package userdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"molt/internal/api"
	"molt/internal/log"
	"molt/internal/proxy/database"
)

// DefaultDebounce is the quiet period before a change is pushed
const DefaultDebounce = 2 * time.Second

// ErrStorageUnavailable means the sync server has no storage configured.
// The client then keeps working from local data only.
var ErrStorageUnavailable = errors.New("sync storage unavailable")

// Store is the local data the client syncs
type Store interface {
	LoadLoops(scope string) ([]database.SavedLoop, error)
	SaveLoops(scope string, loops []database.SavedLoop) error
	AllSystemMemos(scope string) ([]database.SystemMemo, error)
	ReplaceSystemMemo(scope string, memo database.SystemMemo) error
	Blobs(scope string) (map[string]json.RawMessage, error)
	PutBlob(scope, key string, value json.RawMessage) error
}

// Options configure a Client
type Options struct {
	// URL of the sync server; empty disables sync
	URL        string
	Debounce   time.Duration
	HTTPClient *http.Client
	// OnEvent receives player-visible sync messages. Called from any goroutine.
	OnEvent func(kind api.EventType, msg string)
	// OnMerged runs after remote data was merged into the local store
	OnMerged func()
}

// Client pushes and pulls one user's data. Its methods are safe for
// concurrent use; network calls block only the caller.
type Client struct {
	baseURL  string
	http     *http.Client
	store    Store
	debounce time.Duration
	onEvent  func(api.EventType, string)
	onMerged func()
	now      func() time.Time

	mu        sync.Mutex
	username  string
	token     string
	available bool
	timer     *time.Timer
}

func NewClient(store Store, opts Options) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(opts.URL, "/"),
		http:     opts.HTTPClient,
		store:    store,
		debounce: opts.Debounce,
		onEvent:  opts.OnEvent,
		onMerged: opts.OnMerged,
		now:      time.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	return c
}

// Enabled reports whether a sync server is configured
func (c *Client) Enabled() bool { return c.baseURL != "" }

// Available reports whether the last Init reached a server with storage
func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// Init starts syncing for a user: remote data is merged into the local
// store, or local data is uploaded when the server has none yet.
func (c *Client) Init(ctx context.Context, username, password string) error {
	if !c.Enabled() {
		return nil
	}
	c.mu.Lock()
	c.username = username
	c.token = Token(username, password)
	c.available = false
	c.mu.Unlock()

	req, err := c.request(ctx, http.MethodGet, "/api/userdata?username="+url.QueryEscape(username), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sync fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return ErrStorageUnavailable
	}
	c.mu.Lock()
	c.available = true
	c.mu.Unlock()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sync fetch: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Data *Data `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("sync fetch: %w", err)
	}

	if body.Data == nil {
		if err := c.Push(ctx); err != nil {
			return err
		}
		c.emit(api.EventInfo, "[Sync] Local data uploaded to cloud")
		return nil
	}

	local, err := c.collect(username)
	if err != nil {
		return err
	}
	if err := c.apply(username, Merge(local, *body.Data)); err != nil {
		return err
	}
	c.emit(api.EventInfo, "[Sync] Cloud data loaded")
	if c.onMerged != nil {
		c.onMerged()
	}
	return nil
}

// Push uploads the local data now
func (c *Client) Push(ctx context.Context) error {
	username, ok := c.target()
	if !ok {
		return nil
	}
	data, err := c.collect(username)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(struct {
		Username string `json:"username"`
		Data     Data   `json:"data"`
	}{username, data})
	if err != nil {
		return err
	}

	req, err := c.request(ctx, http.MethodPut, "/api/userdata", payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sync push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sync push: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// NotifyChange schedules a push once changes stop for the debounce period
func (c *Client) NotifyChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.available || c.username == "" {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Push(ctx); err != nil {
			log.Warn("sync push failed", "error", err)
		}
	})
}

// Reset forgets the user, used on logout
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = ""
	c.token = ""
	c.available = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) target() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username, c.available && c.username != ""
}

func (c *Client) request(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.Unlock()
	return req, nil
}

func (c *Client) collect(scope string) (Data, error) {
	loops, err := c.store.LoadLoops(scope)
	if err != nil {
		return Data{}, err
	}
	memos, err := c.store.AllSystemMemos(scope)
	if err != nil {
		return Data{}, err
	}
	blobs, err := c.store.Blobs(scope)
	if err != nil {
		return Data{}, err
	}
	data := Data{
		Loops:       loops,
		SystemMemos: make(map[string]database.SystemMemo, len(memos)),
		Blobs:       blobs,
		SavedAt:     c.now().UTC(),
	}
	for _, m := range memos {
		data.SystemMemos[m.SystemID] = m
	}
	return data, nil
}

func (c *Client) apply(scope string, data Data) error {
	if err := c.store.SaveLoops(scope, data.Loops); err != nil {
		return err
	}
	for _, m := range data.SystemMemos {
		if err := c.store.ReplaceSystemMemo(scope, m); err != nil {
			return err
		}
	}
	for k, v := range data.Blobs {
		if err := c.store.PutBlob(scope, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) emit(kind api.EventType, msg string) {
	if c.onEvent != nil {
		c.onEvent(kind, msg)
	}
}
