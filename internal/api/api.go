package api

import (
	"context"
	"time"
)

// ClientAPI defines commands from a front end (console, TUI, bot) to the client core.
// Every method is safe to call from any goroutine; work is handed to the session loop.
type ClientAPI interface {
	// Connection Management
	Connect(url string) error
	Disconnect() error
	IsConnected() bool

	// Authentication
	Login(username, password string)
	Register(username, empire, registrationCode string)

	// Raw commands bypass the action queue
	Send(command OutboundCommand)

	// Action queue
	Enqueue(command ActionCommand) error
	ClearQueue()

	// Loops
	StartRecording() error
	SaveRecording(name string) error
	CancelRecording()
	PlayLoop(loopID string, iterations int) error
	StopLoop()
	Loops(ctx context.Context) ([]LoopInfo, error)

	// Read-only view of the session
	Status(ctx context.Context) (StatusInfo, error)

	// Lifecycle
	Shutdown() error
}

// UiAPI defines notifications from the client core to a front end.
//
// CRITICAL: All methods are called from the session loop and must return
// immediately. Hand any slow work to another goroutine.
type UiAPI interface {
	OnConnectionStatusChanged(status ConnectionStatus, url string)
	OnEvent(entry EventEntry)
	OnStateChanged(status StatusInfo)
}

// ConnectionStatus represents the current connection state
type ConnectionStatus int

const (
	ConnectionStatusDisconnected ConnectionStatus = iota
	ConnectionStatusConnecting
	ConnectionStatusConnected
	ConnectionStatusError
)

func (cs ConnectionStatus) String() string {
	switch cs {
	case ConnectionStatusDisconnected:
		return "disconnected"
	case ConnectionStatusConnecting:
		return "connecting"
	case ConnectionStatusConnected:
		return "connected"
	case ConnectionStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// OutboundCommand is a single wire command: {"type": ..., "payload": {...}}.
type OutboundCommand struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ActionCommand is the serializable descriptor of a queued action. Loops are
// persisted as lists of these and turned back into runnable actions on replay.
type ActionCommand struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// String returns a compact representation used in logs
func (c ActionCommand) String() string {
	if len(c.Params) == 0 {
		return c.Type
	}
	return c.Type + "(…)"
}

// EventType classifies entries of the player-visible event feed
type EventType string

const (
	EventCombat EventType = "combat"
	EventTrade  EventType = "trade"
	EventNav    EventType = "nav"
	EventSystem EventType = "system"
	EventChat   EventType = "chat"
	EventError  EventType = "error"
	EventInfo   EventType = "info"
)

// EventEntry is one line of the player-visible event feed
type EventEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
}

// LoopInfo summarizes a saved loop for listing
type LoopInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	StationID   string    `json:"station_id"`
	StationName string    `json:"station_name"`
	Steps       int       `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusInfo is a point-in-time summary of the session
type StatusInfo struct {
	Connection     ConnectionStatus `json:"connection"`
	Tick           int64            `json:"tick"`
	LoggedIn       bool             `json:"logged_in"`
	Username       string           `json:"username"`
	SystemID       string           `json:"system_id"`
	DockedAt       string           `json:"docked_at"`
	CargoPercent   float64          `json:"cargo_percent"`
	QueueLength    int              `json:"queue_length"`
	CurrentAction  string           `json:"current_action"`
	Recording      bool             `json:"recording"`
	PlayingLoop    string           `json:"playing_loop"`
	Iteration      int              `json:"iteration"`
	TotalIteration int              `json:"total_iterations"`
	Recovering     bool             `json:"recovering"`
}
