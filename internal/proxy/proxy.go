// Package proxy runs one game session: it owns the canonical state and wires
// the transport, dispatcher, action queue and loop player together on a
// single event loop.
package proxy

import (
	"context"
	"errors"
	"sync"
	"time"

	"molt/internal/api"
	"molt/internal/game"
	"molt/internal/log"
	"molt/internal/proxy/database"
	"molt/internal/proxy/streaming"
	"molt/internal/scripting/commands"
	"molt/internal/scripting/loop"
	"molt/internal/scripting/queue"
	"molt/internal/scripting/routing"
	"molt/internal/transport"
	"molt/internal/userdata"
)

// ErrClosed is returned by calls made after Shutdown
var ErrClosed = errors.New("session closed")

const (
	taskBuffer      = 256
	syncInitTimeout = 30 * time.Second
)

// Options configure a Session. Zero values select the defaults.
type Options struct {
	// DB is the local store; nil keeps loops and memos in memory only
	DB           database.Database
	Dialer       transport.Dialer
	Backoff      transport.Backoff
	ActionHold   time.Duration
	RouteMaxHops int
	SyncURL      string
	SyncDebounce time.Duration
	Now          func() time.Time
}

// Session is the client core. Every piece of canonical state is touched on
// the loop goroutine only; transport callbacks, timers and API calls are
// handed to it with Post.
type Session struct {
	ui   api.UiAPI
	opts Options

	state     *game.State
	transport *transport.Transport
	dispatch  *streaming.Dispatcher
	queue     *queue.Queue
	interp    *commands.Interpreter
	player    *loop.Player
	routes    *routing.Map
	db        database.Database
	cloud     *userdata.Client

	// scope is the user the persisted data belongs to
	scope string

	tasks     chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// New builds a disconnected session and starts its loop.
func New(ui api.UiAPI, opts Options) *Session {
	if ui == nil {
		ui = nopUI{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = transport.DefaultBackoff
	}

	s := &Session{
		ui:      ui,
		opts:    opts,
		state:   game.NewState(opts.Now),
		routes:  routing.NewMap(),
		db:      opts.DB,
		tasks:   make(chan func(), taskBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	wire := wireSender{s}
	topts := []transport.Option{transport.WithBackoff(opts.Backoff)}
	if opts.Dialer != nil {
		topts = append(topts, transport.WithDialer(opts.Dialer))
	}
	s.transport = transport.New(s, topts...)

	s.queue = queue.New(s.state.Events, loopScheduler{s}, opts.ActionHold)
	s.interp = commands.New(s.state, wire, s.queue)

	var syncStore userdata.Store
	popts := loop.Options{Router: s.routes, MaxHops: opts.RouteMaxHops, Now: opts.Now}
	if s.db != nil {
		popts.Store = s.db
		syncStore = s.db
	}
	if syncStore == nil {
		opts.SyncURL = ""
	}
	s.cloud = userdata.NewClient(syncStore, userdata.Options{
		URL:      opts.SyncURL,
		Debounce: opts.SyncDebounce,
		OnEvent: func(kind api.EventType, msg string) {
			s.Post(func() { s.state.Events.Add(kind, msg) })
		},
		OnMerged: func() { s.Post(s.reloadUserData) },
	})
	popts.OnChange = s.cloud.NotifyChange
	s.player = loop.NewPlayer(s.state, s.queue, s.interp, wire, popts)

	s.dispatch = streaming.NewDispatcher(s.state, wire,
		streaming.WithQueue(s.queue),
		streaming.WithLoop(s.player),
		streaming.WithClock(opts.Now),
	)
	s.subscribe()
	s.state.Events.SetListener(s.ui.OnEvent)

	if err := s.player.Load(""); err != nil {
		log.Warn("failed to load device loops", "error", err)
	}
	s.loadMemos()

	go s.run()
	return s
}

func (s *Session) subscribe() {
	bus := s.dispatch.Bus()
	bus.Subscribe(streaming.EventLoggedIn, func(e streaming.Event) {
		if data, ok := e.Data.(streaming.LoggedIn); ok {
			s.startUser(data.Username, s.state.Auth.SavedPassword)
		}
	})
	bus.Subscribe(streaming.EventRegistered, func(e streaming.Event) {
		if data, ok := e.Data.(streaming.Registered); ok {
			s.startUser(data.Username, s.state.Auth.SavedPassword)
		}
	})
	bus.Subscribe(streaming.EventSystemInfo, func(e streaming.Event) {
		if data, ok := e.Data.(streaming.SystemInfo); ok {
			s.rememberSystem(data.System)
		}
	})
	bus.Subscribe(streaming.EventMiningYield, func(e streaming.Event) {
		if data, ok := e.Data.(streaming.MiningYield); ok {
			s.recordYield(data)
		}
	})
}

// Post hands fn to the session loop. It returns false once the session is closed.
func (s *Session) Post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.tasks <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.tasks:
			s.runTask(fn)
		case <-s.done:
			return
		}
	}
}

func (s *Session) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("session task panic", "panic", r)
		}
	}()
	fn()
}

// call runs fn on the loop and waits for its result. It must not be used
// from the loop itself.
func call[T any](ctx context.Context, s *Session, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	var zero T
	ch := make(chan result, 1)
	if !s.Post(func() {
		v, err := fn()
		ch <- result{v, err}
	}) {
		return zero, ErrClosed
	}
	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.stopped:
		return zero, ErrClosed
	}
}

// OnStatus implements transport.Handler
func (s *Session) OnStatus(status api.ConnectionStatus, url string, err error) {
	s.Post(func() {
		if status != api.ConnectionStatusConnected && status != api.ConnectionStatusConnecting {
			s.state.Auth.LoggedIn = false
		}
		if err != nil {
			log.Debug("connection status", "status", status, "url", url, "error", err)
		}
		s.ui.OnConnectionStatusChanged(status, url)
		s.notifyState()
	})
}

// OnFrame implements transport.Handler
func (s *Session) OnFrame(data []byte) {
	frame := append([]byte(nil), data...)
	s.Post(func() {
		s.dispatch.HandleFrame(frame)
		s.notifyState()
	})
}

func (s *Session) notifyState() {
	s.ui.OnStateChanged(s.status())
}

func (s *Session) status() api.StatusInfo {
	info := api.StatusInfo{
		Connection:     s.transport.Status(),
		Tick:           s.state.Clock.Tick,
		LoggedIn:       s.state.Auth.LoggedIn,
		Username:       s.state.Auth.Username,
		SystemID:       s.state.Player.CurrentSystem,
		DockedAt:       s.state.Player.DockedAt(),
		CargoPercent:   s.state.Ship.CargoPercent(),
		QueueLength:    s.queue.Len(),
		CurrentAction:  s.queue.Current(),
		Recording:      s.player.Recording(),
		Iteration:      s.player.Iteration(),
		TotalIteration: s.player.Total(),
		Recovering:     s.player.Recovering(),
	}
	if info.SystemID == "" {
		info.SystemID = s.state.System.ID
	}
	if s.player.Playing() {
		info.PlayingLoop = s.player.PlayingID()
		if l, ok := s.player.Loop(info.PlayingLoop); ok {
			info.PlayingLoop = l.Name
		}
	}
	return info
}

// startUser switches persisted data to username after a login or registration
func (s *Session) startUser(username, password string) {
	s.transport.SetCredentials(s.state.Auth.SavedUsername, password)
	s.transport.SetLoggedIn(true)
	if username == "" || username == s.scope {
		return
	}
	s.scope = username
	if s.db != nil {
		if err := s.db.MigrateScope(username); err != nil {
			log.Warn("failed to migrate device data", "user", username, "error", err)
		}
	}
	s.reloadUserData()

	if s.cloud.Enabled() && password != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), syncInitTimeout)
			defer cancel()
			err := s.cloud.Init(ctx, username, password)
			switch {
			case errors.Is(err, userdata.ErrStorageUnavailable):
				log.Info("sync storage not configured, using local data only")
			case err != nil:
				log.Warn("sync init failed", "user", username, "error", err)
			}
		}()
	}
}

func (s *Session) reloadUserData() {
	if err := s.player.Load(s.scope); err != nil {
		log.Warn("failed to load loops", "scope", s.scope, "error", err)
	}
	s.loadMemos()
}

// loadMemos feeds remembered systems into the route map
func (s *Session) loadMemos() {
	if s.db == nil {
		return
	}
	memos, err := s.db.AllSystemMemos(s.scope)
	if err != nil {
		log.Warn("failed to load system memos", "scope", s.scope, "error", err)
		return
	}
	for _, m := range memos {
		if err := s.routes.AddSystem(m.SystemID, m.ConnectedIDs()); err != nil {
			log.Warn("failed to map system", "system", m.SystemID, "error", err)
		}
	}
	log.Debug("route map loaded", "systems", s.routes.Size())
}

func (s *Session) rememberSystem(sys game.System) {
	if sys.ID == "" {
		return
	}
	memo := database.NewSystemMemo(sys, s.opts.Now())
	if err := s.routes.AddSystem(sys.ID, memo.ConnectedIDs()); err != nil {
		log.Warn("failed to map system", "system", sys.ID, "error", err)
	}
	if s.db == nil {
		return
	}
	if err := s.db.SaveSystemMemo(s.scope, memo); err != nil {
		log.Warn("failed to save system memo", "system", sys.ID, "error", err)
		return
	}
	s.cloud.NotifyChange()
}

func (s *Session) recordYield(y streaming.MiningYield) {
	if s.db == nil || y.SystemID == "" || y.POIID == "" {
		return
	}
	if err := s.db.AddMiningYield(s.scope, y.SystemID, y.POIID, y.Item, y.Quantity); err != nil {
		log.Warn("failed to record mining yield", "system", y.SystemID, "error", err)
		return
	}
	s.cloud.NotifyChange()
}

// wireSender notes the client-side effects of a command and hands it to the transport
type wireSender struct{ s *Session }

func (w wireSender) Send(cmd api.OutboundCommand) {
	w.s.dispatch.NoteOutbound(cmd)
	w.s.transport.Send(cmd)
}

// loopScheduler runs queue timers on the session loop
type loopScheduler struct{ s *Session }

func (l loopScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, func() { l.s.Post(f) })
}

type nopUI struct{}

func (nopUI) OnConnectionStatusChanged(api.ConnectionStatus, string) {}
func (nopUI) OnEvent(api.EventEntry)                                 {}
func (nopUI) OnStateChanged(api.StatusInfo)                          {}
