// Package streaming turns inbound server frames into canonical state
// changes, follow-up requests and action queue progress.
package streaming

import (
	"bytes"
	"encoding/json"
	"time"

	"molt/internal/api"
	"molt/internal/game"
	"molt/internal/log"
	"molt/internal/protocol"
)

// Sender writes a command to the server
type Sender interface {
	Send(cmd api.OutboundCommand)
}

// ActionQueue is the part of the action queue the dispatcher drives
type ActionQueue interface {
	ExecuteNext(tick int64)
	Active() bool
	CurrentContinueOnError() bool
	ClearQueue()
}

// LoopPlayer receives server errors while a loop plays
type LoopPlayer interface {
	Playing() bool
	OnError(code, message string)
}

type handlerFunc func(d *Dispatcher, msg protocol.Message) error

// Dispatcher routes server messages by type. It owns no goroutine; the
// session loop calls HandleFrame for every frame in arrival order.
type Dispatcher struct {
	state  *game.State
	sender Sender
	queue  ActionQueue
	loop   LoopPlayer
	bus    *EventBus
	now    func() time.Time

	handlers map[string]handlerFunc
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

func WithQueue(q ActionQueue) Option        { return func(d *Dispatcher) { d.queue = q } }
func WithLoop(l LoopPlayer) Option          { return func(d *Dispatcher) { d.loop = l } }
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func NewDispatcher(state *game.State, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		state:  state,
		sender: sender,
		bus:    NewEventBus(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handlers = handlerTable()
	return d
}

// Bus returns the notification bus
func (d *Dispatcher) Bus() *EventBus { return d.bus }

// handlerTable covers every inbound message type
func handlerTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"welcome":              (*Dispatcher).handleWelcome,
		"logged_in":            (*Dispatcher).handleLoggedIn,
		"registered":           (*Dispatcher).handleRegistered,
		"login_failed":         (*Dispatcher).handleLoginFailed,
		"error":                (*Dispatcher).handleError,
		"state_update":         (*Dispatcher).handleStateUpdate,
		"tick":                 (*Dispatcher).handleTick,
		"player_status":        (*Dispatcher).handlePlayerStatus,
		"system_info":          (*Dispatcher).handleSystemInfo,
		"action_result":        (*Dispatcher).handleActionResult,
		"action_error":         (*Dispatcher).handleActionError,
		"arrived":              (*Dispatcher).handleArrived,
		"jumped":               (*Dispatcher).handleArrived,
		"travel_update":        (*Dispatcher).handleTravelUpdate,
		"docked":               (*Dispatcher).handleDocked,
		"undocked":             (*Dispatcher).handleUndocked,
		"combat_update":        (*Dispatcher).handleCombatUpdate,
		"player_died":          (*Dispatcher).handlePlayerDied,
		"scan_result":          (*Dispatcher).handleScanResult,
		"mining_yield":         (*Dispatcher).handleMiningYield,
		"skill_level_up":       (*Dispatcher).handleSkillLevelUp,
		"market_data":          (*Dispatcher).handleMarketData,
		"orders_data":          (*Dispatcher).handleOrdersData,
		"order_cancelled":      (*Dispatcher).handleOrderCancelled,
		"buy_result":           (*Dispatcher).handleTradeResult,
		"sell_result":          (*Dispatcher).handleTradeResult,
		"ship_list":            (*Dispatcher).handleShipList,
		"ship_info":            (*Dispatcher).handleShipInfo,
		"ship_catalog":         (*Dispatcher).handleShipCatalog,
		"storage_data":         (*Dispatcher).handleStorageData,
		"craft_result":         (*Dispatcher).handleCraftResult,
		"recipes":              (*Dispatcher).handleRecipes,
		"faction_info":         (*Dispatcher).handleFactionInfo,
		"chat_message":         (*Dispatcher).handleChatMessage,
		"police_warning":       (*Dispatcher).handlePoliceWarning,
		"catalog_result":       (*Dispatcher).handleCatalogResult,
		"battle_started":       (*Dispatcher).handleBattleStarted,
		"battle_update":        (*Dispatcher).handleBattleUpdate,
		"battle_ended":         (*Dispatcher).handleBattleEnded,
		"trade_offer_received": (*Dispatcher).handleTradeOfferReceived,
		"trade_offer_sent":     (*Dispatcher).handleTradeOfferSent,
		"trade_update":         (*Dispatcher).handleTradeUpdate,
		"mission_update":       (*Dispatcher).handleMissionUpdate,
		"ok":                   (*Dispatcher).handleOK,
	}
}

// Handles reports whether msgType has a handler
func (d *Dispatcher) Handles(msgType string) bool {
	_, ok := d.handlers[msgType]
	return ok
}

// HandleFrame parses one websocket frame and dispatches each message in it
func (d *Dispatcher) HandleFrame(frame []byte) {
	msgs, errs := protocol.ParseFrame(frame)
	for _, err := range errs {
		log.Warn("dropping malformed message", "error", err)
	}
	for _, msg := range msgs {
		d.Dispatch(msg)
	}
}

// Dispatch runs the handler for msg. Handler errors and panics are logged
// and never reach the caller.
func (d *Dispatcher) Dispatch(msg protocol.Message) {
	handler, ok := d.handlers[msg.Type]
	if !ok {
		log.Warn("unhandled message type", "type", msg.Type)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("message handler panic", "type", msg.Type, "panic", r)
		}
	}()
	if err := handler(d, msg); err != nil {
		log.Warn("failed to handle message", "type", msg.Type, "error", err)
	}
}

// NoteOutbound records the client-side effects of sending cmd: travel
// markers, the last attack target and the credentials used to log in.
func (d *Dispatcher) NoteOutbound(cmd api.OutboundCommand) {
	str := func(key string) string {
		s, _ := cmd.Payload[key].(string)
		return s
	}
	switch cmd.Type {
	case protocol.CmdTravel:
		id := str("target_poi")
		name := id
		if poi, ok := d.state.System.POI(id); ok && poi.Name != "" {
			name = poi.Name
		}
		d.state.Travel.Start("travel", id, name)
	case protocol.CmdJump:
		id := str("target_system")
		name := id
		for _, c := range d.state.System.Connections {
			if c.SystemID == id && c.SystemName != "" {
				name = c.SystemName
			}
		}
		d.state.Travel.Start("jump", id, name)
	case protocol.CmdAttack:
		d.state.Combat.LastAttackTarget = str("target_id")
	case protocol.CmdLogin:
		d.state.Auth.SavedUsername = str("username")
		d.state.Auth.SavedPassword = str("password")
		d.state.Auth.LoginError = ""
	case protocol.CmdRegister:
		d.state.Auth.SavedUsername = str("username")
		d.state.Auth.LoginError = ""
	}
}

func (d *Dispatcher) send(cmd api.OutboundCommand) {
	if d.sender != nil {
		d.sender.Send(cmd)
	}
}

func (d *Dispatcher) event(kind api.EventType, format string, args ...any) {
	d.state.Events.Addf(kind, format, args...)
}

// currentTick is the tick used to stamp client-side log entries
func (d *Dispatcher) currentTick() int64 {
	return d.state.Clock.Tick
}

// decodeBody unmarshals the message payload into a fresh T
func decodeBody[T any](msg protocol.Message) (T, error) {
	var v T
	err := msg.DecodeBody(&v)
	return v, err
}

// present reports whether raw holds a non-null value
func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// isJSONObject reports whether raw is a JSON object
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// isJSONArray reports whether raw is a JSON array
func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
