package streaming

import (
	"fmt"

	"molt/internal/game"
	"molt/internal/log"
)

// EventType identifies a session-level notification raised by the dispatcher
type EventType int

const (
	// EventLoggedIn carries LoggedIn
	EventLoggedIn EventType = iota
	// EventRegistered carries Registered
	EventRegistered
	// EventSystemInfo carries game.System after a full system snapshot
	EventSystemInfo
	// EventMiningYield carries MiningYield
	EventMiningYield
)

// Event is one notification
type Event struct {
	Type EventType
	Data any
}

type LoggedIn struct {
	Username string
}

type Registered struct {
	Username string
	Password string
}

type MiningYield struct {
	SystemID string
	POIID    string
	Item     string
	Quantity int
}

// SystemInfo wraps the system snapshot delivered with EventSystemInfo
type SystemInfo struct {
	System game.System
}

// EventHandler receives a notification
type EventHandler func(event Event)

type subscription struct {
	id      string
	handler EventHandler
}

// EventBus delivers dispatcher notifications synchronously, in subscription
// order, on the caller's goroutine. Not safe for concurrent use.
type EventBus struct {
	subscribers map[EventType][]subscription
	nextID      int
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]subscription),
		nextID:      1,
	}
}

// Subscribe registers handler for eventType and returns a subscription id
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) string {
	id := fmt.Sprintf("sub_%d", eb.nextID)
	eb.nextID++
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes a handler
func (eb *EventBus) Unsubscribe(eventType EventType, subscriptionID string) {
	subs := eb.subscribers[eventType]
	for i, s := range subs {
		if s.id == subscriptionID {
			eb.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(eb.subscribers[eventType]) == 0 {
		delete(eb.subscribers, eventType)
	}
}

// Fire calls every handler of event.Type. A panicking handler is logged and
// does not stop the others.
func (eb *EventBus) Fire(event Event) {
	for _, s := range eb.subscribers[event.Type] {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("event handler panic", "event", event.Type, "subscription", s.id, "panic", r)
				}
			}()
			s.handler(event)
		}()
	}
}

// SubscriberCount returns the number of handlers for eventType
func (eb *EventBus) SubscriberCount(eventType EventType) int {
	return len(eb.subscribers[eventType])
}
