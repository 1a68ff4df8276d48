package queue

import (
	"fmt"
	"time"

	"molt/internal/api"
	"molt/internal/log"
)

// DefaultHold is how long the last executed label stays visible
const DefaultHold = 8 * time.Second

// Executor performs one queued action. An error or panic marks the action
// failed; it is never retried.
type Executor func() error

// Options tune a queued action
type Options struct {
	ContinueOnError bool
	Command         *api.ActionCommand
}

// Item is the visible part of a queued action
type Item struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// Recorded is a queued action that carries a replayable descriptor
type Recorded struct {
	Label   string            `json:"label" yaml:"label"`
	Command api.ActionCommand `json:"command" yaml:"command"`
}

// EventSink receives player-visible queue messages
type EventSink interface {
	Add(kind api.EventType, msg string) api.EventEntry
}

// Scheduler runs f after d on the queue owner's goroutine
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type entry struct {
	item            Item
	exec            Executor
	command         *api.ActionCommand
	continueOnError bool
}

// Queue is the tick-gated action queue. The first action enqueued into an
// idle queue runs at once; every later one waits for ExecuteNext, which
// runs at most one action per distinct tick. Not safe for concurrent use.
type Queue struct {
	entries []entry
	nextID  int64

	recording bool
	inFlight  bool
	current   string
	currentCE bool
	holdGen   int

	lastTick int64
	seenTick int64

	hold      time.Duration
	events    EventSink
	scheduler Scheduler
}

// New creates an empty queue. hold <= 0 keeps labels until the next action.
func New(events EventSink, scheduler Scheduler, hold time.Duration) *Queue {
	return &Queue{
		lastTick:  -1,
		seenTick:  -1,
		hold:      hold,
		events:    events,
		scheduler: scheduler,
	}
}

// Enqueue appends an action and returns its id.
func (q *Queue) Enqueue(label string, exec Executor, opts Options) int64 {
	e := q.newEntry(label, exec, opts)
	q.entries = append(q.entries, e)
	q.event(api.EventInfo, fmt.Sprintf("[Queue] queued: %s (%d)", label, len(q.entries)))
	q.runIfIdle()
	return e.item.ID
}

// EnqueueNext inserts an action at the head and returns its id.
func (q *Queue) EnqueueNext(label string, exec Executor, opts Options) int64 {
	e := q.newEntry(label, exec, opts)
	q.entries = append([]entry{e}, q.entries...)
	q.runIfIdle()
	return e.item.ID
}

// Planned is an action for EnqueueNextAll
type Planned struct {
	Label   string
	Exec    Executor
	Options Options
}

// EnqueueNextAll inserts steps at the head, keeping their order, and returns
// their ids. An idle queue runs the first step; the rest wait for ticks.
func (q *Queue) EnqueueNextAll(steps []Planned) []int64 {
	if len(steps) == 0 {
		return nil
	}
	batch := make([]entry, 0, len(steps)+len(q.entries))
	ids := make([]int64, 0, len(steps))
	for _, st := range steps {
		e := q.newEntry(st.Label, st.Exec, st.Options)
		batch = append(batch, e)
		ids = append(ids, e.item.ID)
	}
	q.entries = append(batch, q.entries...)
	q.runIfIdle()
	return ids
}

func (q *Queue) newEntry(label string, exec Executor, opts Options) entry {
	q.nextID++
	return entry{
		item:            Item{ID: q.nextID, Label: label},
		exec:            exec,
		command:         opts.Command,
		continueOnError: opts.ContinueOnError,
	}
}

func (q *Queue) runIfIdle() {
	if !q.inFlight && !q.recording {
		q.ExecuteNext(-1)
	}
}

// ExecuteNext pops and runs the head action. A negative tick means "now"
// and is charged to the last tick seen. A tick equal to the last one an
// action ran on is ignored, so two notices of the same tick run one action.
func (q *Queue) ExecuteNext(tick int64) {
	if q.recording {
		return
	}
	if tick >= 0 {
		if len(q.entries) == 0 {
			if tick != q.lastTick {
				// The in-flight action had its tick
				q.inFlight = false
				q.currentCE = false
			}
			q.seenTick = tick
			return
		}
		if tick == q.lastTick {
			return
		}
		q.seenTick = tick
	} else {
		if len(q.entries) == 0 {
			return
		}
		tick = q.seenTick
	}
	q.lastTick = tick

	e := q.entries[0]
	q.entries = q.entries[1:]

	q.inFlight = true
	q.current = e.item.Label
	q.currentCE = e.continueOnError
	q.event(api.EventInfo, "[Queue] running: "+e.item.Label)

	if err := q.safeExecute(e); err != nil {
		log.Error("queued action failed", "label", e.item.Label, "error", err)
		q.event(api.EventError, fmt.Sprintf("[Queue] failed: %s: %v", e.item.Label, err))
	}
	q.scheduleHold(e.item.Label)
}

// safeExecute runs the executor and turns a panic into an error
func (q *Queue) safeExecute(e entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if e.exec == nil {
		return nil
	}
	return e.exec()
}

func (q *Queue) scheduleHold(label string) {
	q.holdGen++
	if q.scheduler == nil || q.hold <= 0 {
		return
	}
	gen := q.holdGen
	q.scheduler.AfterFunc(q.hold, func() {
		if q.holdGen == gen && q.current == label {
			q.current = ""
		}
	})
}

// Remove drops a pending action
func (q *Queue) Remove(id int64) bool {
	i := q.index(id)
	if i < 0 {
		return false
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return true
}

// MoveUp swaps a pending action with the one before it
func (q *Queue) MoveUp(id int64) bool {
	i := q.index(id)
	if i <= 0 {
		return false
	}
	q.entries[i-1], q.entries[i] = q.entries[i], q.entries[i-1]
	return true
}

// MoveDown swaps a pending action with the one after it
func (q *Queue) MoveDown(id int64) bool {
	i := q.index(id)
	if i < 0 || i >= len(q.entries)-1 {
		return false
	}
	q.entries[i], q.entries[i+1] = q.entries[i+1], q.entries[i]
	return true
}

func (q *Queue) index(id int64) int {
	for i, e := range q.entries {
		if e.item.ID == id {
			return i
		}
	}
	return -1
}

// Clear drops every pending action and the current action marker.
func (q *Queue) Clear() {
	q.entries = nil
	q.inFlight = false
	q.current = ""
	q.currentCE = false
	q.holdGen++
}

// ClearQueue drops pending actions only; the current action is untouched.
func (q *Queue) ClearQueue() {
	q.entries = nil
}

// SetRecording toggles recording mode. While recording nothing executes.
func (q *Queue) SetRecording(on bool) {
	q.recording = on
}

func (q *Queue) Recording() bool { return q.recording }

// RecordedCommands returns the pending actions that carry a descriptor, in order
func (q *Queue) RecordedCommands() []Recorded {
	var out []Recorded
	for _, e := range q.entries {
		if e.command != nil {
			out = append(out, Recorded{Label: e.item.Label, Command: *e.command})
		}
	}
	return out
}

// HasCommand reports whether a pending action carries a descriptor of type typ
func (q *Queue) HasCommand(typ string) bool {
	for _, e := range q.entries {
		if e.command != nil && e.command.Type == typ {
			return true
		}
	}
	return false
}

// Items returns the pending actions in execution order
func (q *Queue) Items() []Item {
	out := make([]Item, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.item
	}
	return out
}

// Command returns the descriptor of a pending action
func (q *Queue) Command(id int64) (api.ActionCommand, bool) {
	i := q.index(id)
	if i < 0 || q.entries[i].command == nil {
		return api.ActionCommand{}, false
	}
	return *q.entries[i].command, true
}

// Current returns the label of the last executed action while it is held
func (q *Queue) Current() string { return q.current }

// CurrentContinueOnError reports whether the in-flight action tolerates errors
func (q *Queue) CurrentContinueOnError() bool { return q.inFlight && q.currentCE }

// Active reports whether anything is pending or in flight
func (q *Queue) Active() bool { return len(q.entries) > 0 || q.inFlight }

func (q *Queue) Len() int { return len(q.entries) }

func (q *Queue) event(kind api.EventType, msg string) {
	if q.events != nil {
		q.events.Add(kind, msg)
	}
}
