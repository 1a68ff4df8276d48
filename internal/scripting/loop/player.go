// Package loop records queued actions as station-scoped loops and plays
// them back through the action queue, recovering to the home station when
// playback hits an error.
package loop

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"molt/internal/api"
	"molt/internal/game"
	"molt/internal/log"
	"molt/internal/proxy/database"
	"molt/internal/scripting/commands"
	"molt/internal/scripting/queue"
)

// SentinelType marks the queue entry that closes an iteration
const SentinelType = "_loop_sentinel"

var (
	ErrLoopNotFound    = errors.New("loop not found")
	ErrNothingRecorded = errors.New("no recorded actions")
	ErrRecording       = errors.New("recording in progress")
	ErrNotRecording    = errors.New("not recording")
)

// Store persists loops per user scope
type Store interface {
	LoadLoops(scope string) ([]database.SavedLoop, error)
	SaveLoops(scope string, loops []database.SavedLoop) error
}

// Router finds a jump path between systems
type Router interface {
	Route(from, to string, maxHops int) ([]string, error)
}

// Options are the player's collaborators. Store and Router may be nil.
type Options struct {
	Store    Store
	Router   Router
	MaxHops  int
	Now      func() time.Time
	OnChange func()
}

// Player owns saved loops, the recording session and playback. Like the
// queue it is driven from the session loop only.
type Player struct {
	state  *game.State
	queue  *queue.Queue
	interp *commands.Interpreter
	sender commands.Sender
	opts   Options

	scope string
	loops []database.SavedLoop

	recording   bool
	recStation  string
	recName     string
	recSystemID string
	recPOIID    string

	playing    bool
	playingID  string
	iteration  int
	total      int
	recovering bool
}

func NewPlayer(state *game.State, q *queue.Queue, interp *commands.Interpreter, sender commands.Sender, opts Options) *Player {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Player{state: state, queue: q, interp: interp, sender: sender, opts: opts}
}

// Load replaces the in-memory loops with those stored under scope
func (p *Player) Load(scope string) error {
	p.scope = scope
	if p.opts.Store == nil {
		return nil
	}
	loops, err := p.opts.Store.LoadLoops(scope)
	if err != nil {
		return fmt.Errorf("load loops: %w", err)
	}
	p.loops = loops
	return nil
}

func (p *Player) persist() {
	if p.opts.Store != nil {
		if err := p.opts.Store.SaveLoops(p.scope, p.loops); err != nil {
			log.Error("failed to save loops", "scope", p.scope, "error", err)
		}
	}
	if p.opts.OnChange != nil {
		p.opts.OnChange()
	}
}

func (p *Player) event(kind api.EventType, format string, args ...any) {
	p.state.Events.Addf(kind, format, args...)
}

// StartRecording switches the queue into recording mode at stationID
func (p *Player) StartRecording(stationID, stationName string) error {
	if p.playing {
		return fmt.Errorf("cannot record while a loop is playing")
	}
	p.recording = true
	p.recStation = stationID
	p.recName = stationName
	p.recSystemID = p.currentSystem()
	p.recPOIID = p.stationPOI(stationID)
	p.queue.SetRecording(true)
	p.queue.ClearQueue()
	p.event(api.EventInfo, "[Loop] recording started @ %s", stationName)
	return nil
}

// CancelRecording leaves recording mode and drops what was recorded
func (p *Player) CancelRecording() {
	p.stopRecording()
	p.event(api.EventInfo, "[Loop] recording cancelled")
}

func (p *Player) stopRecording() {
	p.recording = false
	p.recStation = ""
	p.recName = ""
	p.recSystemID = ""
	p.recPOIID = ""
	p.queue.SetRecording(false)
	p.queue.ClearQueue()
}

// SaveRecording stores the recorded actions as a loop. A loop with the same
// station and name is replaced in place.
func (p *Player) SaveRecording(name string) (database.SavedLoop, error) {
	if !p.recording {
		return database.SavedLoop{}, ErrNotRecording
	}
	recorded := p.queue.RecordedCommands()
	if len(recorded) == 0 {
		p.event(api.EventError, "[Loop] nothing recorded")
		return database.SavedLoop{}, ErrNothingRecorded
	}

	if name == "" {
		station := p.recName
		if station == "" {
			station = "Unknown"
		}
		name = "Loop @ " + station
	}
	loop := database.SavedLoop{
		ID:          "loop_" + uuid.NewString(),
		StationID:   p.recStation,
		StationName: p.recName,
		SystemID:    p.recSystemID,
		POIID:       p.recPOIID,
		Name:        name,
		CreatedAt:   p.opts.Now(),
	}
	for _, r := range recorded {
		loop.Steps = append(loop.Steps, database.LoopStep{Label: r.Label, Command: r.Command})
	}

	replaced := false
	for i, existing := range p.loops {
		if existing.StationID == loop.StationID && existing.Name == loop.Name {
			p.loops[i] = loop
			replaced = true
			break
		}
	}
	if !replaced {
		p.loops = append(p.loops, loop)
	}
	p.persist()

	p.stopRecording()
	p.event(api.EventInfo, "[Loop] saved: %s (%d steps)", loop.Name, len(loop.Steps))
	return loop, nil
}

func (p *Player) DeleteLoop(id string) error {
	i := p.index(id)
	if i < 0 {
		return ErrLoopNotFound
	}
	p.loops = append(p.loops[:i], p.loops[i+1:]...)
	p.persist()
	return nil
}

func (p *Player) RenameLoop(id, name string) error {
	i := p.index(id)
	if i < 0 {
		return ErrLoopNotFound
	}
	p.loops[i].Name = name
	p.persist()
	return nil
}

// Loops returns a copy of every saved loop
func (p *Player) Loops() []database.SavedLoop {
	return append([]database.SavedLoop(nil), p.loops...)
}

// LoopsForStation returns the loops recorded at stationID
func (p *Player) LoopsForStation(stationID string) []database.SavedLoop {
	var out []database.SavedLoop
	for _, loop := range p.loops {
		if loop.StationID == stationID {
			out = append(out, loop)
		}
	}
	return out
}

// Loop returns the saved loop with id
func (p *Player) Loop(id string) (database.SavedLoop, bool) {
	i := p.index(id)
	if i < 0 {
		return database.SavedLoop{}, false
	}
	return p.loops[i], true
}

// Infos summarizes the saved loops for listing
func (p *Player) Infos() []api.LoopInfo {
	out := make([]api.LoopInfo, 0, len(p.loops))
	for _, loop := range p.loops {
		out = append(out, api.LoopInfo{
			ID:          loop.ID,
			Name:        loop.Name,
			StationID:   loop.StationID,
			StationName: loop.StationName,
			Steps:       len(loop.Steps),
			CreatedAt:   loop.CreatedAt,
		})
	}
	return out
}

func (p *Player) index(id string) int {
	for i, loop := range p.loops {
		if loop.ID == id {
			return i
		}
	}
	return -1
}

// PlayLoop enqueues the steps of loop id followed by the iteration sentinel.
// iterations == 0 repeats until stopped.
func (p *Player) PlayLoop(id string, iterations int) error {
	if p.recording {
		return ErrRecording
	}
	loop, ok := p.Loop(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrLoopNotFound, id)
	}
	if len(loop.Steps) == 0 {
		return fmt.Errorf("loop %s has no steps", loop.Name)
	}
	if iterations < 0 {
		iterations = 0
	}

	p.playing = true
	p.playingID = id
	p.iteration = 1
	p.total = iterations
	p.recovering = false
	p.event(api.EventInfo, "[Loop] playing: %s (%s)", loop.Name, iterationCount(iterations))
	p.enqueueSteps(loop)
	return nil
}

// StopLoop ends playback and drops the remaining queue
func (p *Player) StopLoop() {
	p.reset()
	p.queue.ClearQueue()
	p.event(api.EventInfo, "[Loop] stopped")
}

func (p *Player) reset() {
	p.playing = false
	p.playingID = ""
	p.iteration = 0
	p.total = 0
	p.recovering = false
}

// stopWithError ends playback with a terminal error
func (p *Player) stopWithError(format string, args ...any) {
	p.reset()
	p.queue.ClearQueue()
	p.event(api.EventError, format, args...)
}

func (p *Player) enqueueSteps(loop database.SavedLoop) {
	for _, step := range loop.Steps {
		action, err := p.interp.Build(step.Label, step.Command)
		if err != nil {
			action = p.brokenStep(step, err)
		}
		p.queue.Enqueue(action.Label, action.Exec, action.Options)
	}
	sentinel := api.ActionCommand{Type: SentinelType}
	p.queue.Enqueue(fmt.Sprintf("[Loop] %s done", loop.Name), func() error {
		p.onIterationComplete()
		return nil
	}, queue.Options{Command: &sentinel})
}

// brokenStep keeps a step that cannot be built in its slot and reports it when reached
func (p *Player) brokenStep(step database.LoopStep, err error) commands.Action {
	cmd := step.Command
	label := step.Label
	if label == "" {
		label = cmd.Type
	}
	var exec queue.Executor
	if errors.Is(err, commands.ErrUnknownCommand) {
		exec = func() error {
			p.event(api.EventError, "[Loop] unknown command: %s", cmd.Type)
			return nil
		}
	} else {
		exec = func() error { return err }
	}
	return commands.Action{Label: label, Exec: exec, Options: queue.Options{Command: &cmd}}
}

func (p *Player) onIterationComplete() {
	if !p.playing || p.playingID == "" {
		return
	}
	loop, ok := p.Loop(p.playingID)
	if !ok {
		p.StopLoop()
		return
	}
	if p.total > 0 && p.iteration >= p.total {
		p.event(api.EventInfo, "[Loop] complete: %s (%d)", loop.Name, p.total)
		p.reset()
		return
	}
	p.iteration++
	p.event(api.EventInfo, "[Loop] iteration %d/%s", p.iteration, iterationCount(p.total))
	p.enqueueSteps(loop)
}

func iterationCount(total int) string {
	if total == 0 {
		return "∞"
	}
	return fmt.Sprint(total)
}

func (p *Player) Recording() bool   { return p.recording }
func (p *Player) Playing() bool     { return p.playing }
func (p *Player) PlayingID() string { return p.playingID }
func (p *Player) Iteration() int    { return p.iteration }
func (p *Player) Total() int        { return p.total }
func (p *Player) Recovering() bool  { return p.recovering }

func (p *Player) currentSystem() string {
	if p.state.Player.CurrentSystem != "" {
		return p.state.Player.CurrentSystem
	}
	return p.state.System.ID
}

// stationPOI finds the POI hosting stationID
func (p *Player) stationPOI(stationID string) string {
	if info := p.state.Base.Info; info != nil && info.ID == stationID && info.POIID != "" {
		return info.POIID
	}
	if poi, ok := p.state.System.POIForBase(stationID); ok {
		return poi.ID
	}
	return p.state.Player.CurrentPOI
}
