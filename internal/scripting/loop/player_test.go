package loop

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molt/internal/api"
	"molt/internal/game"
	"molt/internal/protocol"
	"molt/internal/proxy/database"
	"molt/internal/scripting/commands"
	"molt/internal/scripting/queue"
	"molt/internal/scripting/routing"
)

type recorder struct {
	sent []api.OutboundCommand
}

func (r *recorder) Send(cmd api.OutboundCommand) { r.sent = append(r.sent, cmd) }

func (r *recorder) types() []string {
	out := make([]string, len(r.sent))
	for i, cmd := range r.sent {
		out[i] = cmd.Type
	}
	return out
}

type memStore struct {
	saved map[string][]database.SavedLoop
	saves int
}

func (m *memStore) LoadLoops(scope string) ([]database.SavedLoop, error) {
	return m.saved[scope], nil
}

func (m *memStore) SaveLoops(scope string, loops []database.SavedLoop) error {
	if m.saved == nil {
		m.saved = map[string][]database.SavedLoop{}
	}
	m.saved[scope] = append([]database.SavedLoop(nil), loops...)
	m.saves++
	return nil
}

type fixture struct {
	state  *game.State
	queue  *queue.Queue
	interp *commands.Interpreter
	sender *recorder
	store  *memStore
	routes *routing.Map
	player *Player
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:  game.NewState(time.Now),
		sender: &recorder{},
		store:  &memStore{},
		routes: routing.NewMap(),
	}
	f.queue = queue.New(f.state.Events, nil, 0)
	f.interp = commands.New(f.state, f.sender, f.queue)
	f.player = NewPlayer(f.state, f.queue, f.interp, f.sender, Options{
		Store:   f.store,
		Router:  f.routes,
		MaxHops: 5,
		Now:     func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, f.player.Load("pilot"))
	return f
}

func (f *fixture) latestEvent(t *testing.T) api.EventEntry {
	t.Helper()
	entry, ok := f.state.Events.Latest()
	require.True(t, ok)
	return entry
}

func miningLoop() database.SavedLoop {
	return database.SavedLoop{
		ID:          "loop_1",
		StationID:   "st_1",
		StationName: "Earth Station",
		SystemID:    "sol",
		POIID:       "earth",
		Name:        "Ore run",
		Steps: []database.LoopStep{
			{Label: "Mine", Command: api.ActionCommand{Type: commands.TypeMine, Params: map[string]any{"asteroidId": "a1"}}},
			{Label: "Undock", Command: api.ActionCommand{Type: commands.TypeUndock}},
		},
	}
}

func TestSaveRecording(t *testing.T) {
	f := newFixture(t)

	_, err := f.player.SaveRecording("x")
	assert.ErrorIs(t, err, ErrNotRecording)

	require.NoError(t, f.player.StartRecording("st_1", "Earth Station"))
	assert.True(t, f.queue.Recording())

	_, err = f.player.SaveRecording("")
	assert.ErrorIs(t, err, ErrNothingRecorded)
	assert.Equal(t, api.EventError, f.latestEvent(t).Type)
	assert.True(t, f.player.Recording(), "still recording after an empty save")

	_, err = f.interp.Enqueue(api.ActionCommand{Type: commands.TypeUndock})
	require.NoError(t, err)
	_, err = f.interp.Enqueue(api.ActionCommand{Type: commands.TypeMineFull, Params: map[string]any{"asteroidId": "a1"}})
	require.NoError(t, err)
	assert.Empty(t, f.sender.sent, "nothing runs while recording")

	loop, err := f.player.SaveRecording("")
	require.NoError(t, err)
	assert.Equal(t, "Loop @ Earth Station", loop.Name)
	assert.Equal(t, "st_1", loop.StationID)
	require.Len(t, loop.Steps, 2)
	assert.Equal(t, commands.TypeMineFull, loop.Steps[1].Command.Type)
	assert.False(t, f.player.Recording())
	assert.False(t, f.queue.Recording())
	assert.Equal(t, 0, f.queue.Len())
	assert.Len(t, f.store.saved["pilot"], 1)
}

func TestSaveRecordingReplacesSameStationAndName(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{
		{ID: "a", StationID: "st_1", Name: "Run"},
		{ID: "b", StationID: "st_2", Name: "Run"},
	})

	record := func(name string) database.SavedLoop {
		require.NoError(t, f.player.StartRecording("st_1", "Earth Station"))
		_, err := f.interp.Enqueue(api.ActionCommand{Type: commands.TypeUndock})
		require.NoError(t, err)
		loop, err := f.player.SaveRecording(name)
		require.NoError(t, err)
		return loop
	}

	replaced := record("Run")
	loops := f.player.Loops()
	require.Len(t, loops, 2)
	assert.Equal(t, replaced.ID, loops[0].ID, "replaced in place")
	assert.Equal(t, "b", loops[1].ID)

	record("Other")
	assert.Len(t, f.player.Loops(), 3)
	assert.Len(t, f.player.LoopsForStation("st_1"), 2)
}

func TestRenameAndDelete(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{miningLoop()})

	require.NoError(t, f.player.RenameLoop("loop_1", "Renamed"))
	loop, ok := f.player.Loop("loop_1")
	require.True(t, ok)
	assert.Equal(t, "Renamed", loop.Name)

	assert.ErrorIs(t, f.player.RenameLoop("nope", "x"), ErrLoopNotFound)
	require.NoError(t, f.player.DeleteLoop("loop_1"))
	assert.ErrorIs(t, f.player.DeleteLoop("loop_1"), ErrLoopNotFound)
	assert.Empty(t, f.store.saved["pilot"])
}

func TestPlayLoopRunsIterations(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{miningLoop()})

	assert.ErrorIs(t, f.player.PlayLoop("nope", 1), ErrLoopNotFound)
	require.NoError(t, f.player.PlayLoop("loop_1", 2))
	assert.True(t, f.player.Playing())
	assert.Equal(t, 1, f.player.Iteration())

	// mine ran at once; undock, sentinel, mine, undock, sentinel follow
	for tick := int64(1); tick <= 5; tick++ {
		f.queue.ExecuteNext(tick)
	}
	assert.Equal(t, []string{"mine", "undock", "mine", "undock"}, f.sender.types())
	assert.False(t, f.player.Playing())
	assert.Contains(t, f.latestEvent(t).Message, "complete")
}

func TestInfiniteLoopKeepsGoing(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{miningLoop()})
	require.NoError(t, f.player.PlayLoop("loop_1", 0))

	for tick := int64(1); tick <= 9; tick++ {
		f.queue.ExecuteNext(tick)
	}
	assert.True(t, f.player.Playing())
	assert.Equal(t, 4, f.player.Iteration())

	f.player.StopLoop()
	assert.False(t, f.player.Playing())
	assert.Equal(t, 0, f.queue.Len())
}

func TestUnknownStepReportsAndContinues(t *testing.T) {
	f := newFixture(t)
	loop := miningLoop()
	loop.Steps = []database.LoopStep{
		{Label: "Teleport", Command: api.ActionCommand{Type: "teleport"}},
		{Label: "Undock", Command: api.ActionCommand{Type: commands.TypeUndock}},
	}
	f.player.Merge([]database.SavedLoop{loop})
	require.NoError(t, f.player.PlayLoop(loop.ID, 1))
	assert.Equal(t, "[Loop] unknown command: teleport", f.state.Events.Filter(api.EventError)[0].Message)

	f.queue.ExecuteNext(1)
	assert.Equal(t, []string{"undock"}, f.sender.types())
}

func TestSkippable(t *testing.T) {
	tests := []struct {
		code    string
		message string
		want    bool
	}{
		{"already_docked", "", true},
		{"ALREADY_UNDOCKED", "", true},
		{"nothing_to_deposit", "", true},
		{"action_pending", "", true},
		{"", "You are already docked at this station", true},
		{"", "Nothing to withdraw", true},
		{"", "An action is already pending for this tick", true},
		{"cargo_full", "Cargo hold is full", false},
		{"not_enough_fuel", "Not enough fuel", false},
		{"not_docked", "You are not docked", false},
	}
	for _, tt := range tests {
		t.Run(tt.code+tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, Skippable(tt.code, tt.message))
		})
	}
}

func TestSkippableErrorLeavesQueue(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{miningLoop()})
	require.NoError(t, f.player.PlayLoop("loop_1", 1))
	pending := f.queue.Len()

	f.player.OnError("already_undocked", "Already undocked")
	assert.Equal(t, pending, f.queue.Len())
	assert.False(t, f.player.Recovering())

	f.queue.ExecuteNext(1)
	assert.Equal(t, []string{"mine", "undock"}, f.sender.types())
}

func TestOnErrorIgnoredWhenNotPlaying(t *testing.T) {
	f := newFixture(t)
	f.player.OnError("cargo_full", "Cargo full")
	assert.False(t, f.player.Recovering())
	assert.Equal(t, 0, f.state.Events.Len())
}

func TestRecoveryRoutesHome(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{miningLoop()})
	require.NoError(t, f.routes.AddSystem("beta", []string{"alpha"}))
	require.NoError(t, f.routes.AddSystem("alpha", []string{"sol", "beta"}))

	f.state.Player.CurrentSystem = "beta"
	f.state.Player.SetDocked("st_9")

	require.NoError(t, f.player.PlayLoop("loop_1", 1))
	f.player.OnError("cargo_full", "Cargo hold is full")
	assert.True(t, f.player.Recovering())
	assert.True(t, f.player.Playing())

	for tick := int64(1); tick <= 10; tick++ {
		f.queue.ExecuteNext(tick)
	}
	assert.Equal(t, []string{
		protocol.CmdMine,
		protocol.CmdUndock, protocol.CmdGetStatus,
		protocol.CmdJump, protocol.CmdGetStatus,
		protocol.CmdJump, protocol.CmdGetStatus,
		protocol.CmdTravel, protocol.CmdGetStatus,
		protocol.CmdDock, protocol.CmdGetStatus,
	}, f.sender.types())
	assert.Equal(t, "alpha", f.sender.sent[3].Payload["target_system"])
	assert.Equal(t, "sol", f.sender.sent[5].Payload["target_system"])
	assert.Equal(t, "earth", f.sender.sent[7].Payload["target_poi"])
	assert.Equal(t, "st_1", f.sender.sent[9].Payload["station"])

	f.state.Player.CurrentSystem = "sol"
	f.state.Player.SetDocked("st_1")
	f.queue.ExecuteNext(11)
	assert.False(t, f.player.Recovering())
	assert.True(t, f.player.Playing())
	assert.Equal(t, 1, f.player.Iteration())

	f.queue.ExecuteNext(12)
	assert.Equal(t, protocol.CmdMine, f.sender.sent[len(f.sender.sent)-1].Type)
}

func TestRecoveryDirectJump(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{miningLoop()})
	f.state.Player.CurrentSystem = "alpha"
	f.state.System.Connections = []game.Connection{{SystemID: "sol"}}

	require.NoError(t, f.player.PlayLoop("loop_1", 1))
	f.player.OnError("cargo_full", "Cargo hold is full")
	for tick := int64(1); tick <= 6; tick++ {
		f.queue.ExecuteNext(tick)
	}
	assert.Equal(t, []string{"mine", "jump", "get_status", "travel", "get_status", "dock", "get_status"}, f.sender.types())
}

func TestRecoveryWithoutRouteStops(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{miningLoop()})
	f.state.Player.CurrentSystem = "far_away"

	require.NoError(t, f.player.PlayLoop("loop_1", 0))
	f.player.OnError("combat", "You were attacked")

	assert.False(t, f.player.Playing())
	assert.False(t, f.player.Recovering())
	assert.Equal(t, 0, f.queue.Len())
	assert.Contains(t, f.latestEvent(t).Message, "no route")
}

func TestRecoveryStopsWhenDockFails(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{miningLoop()})
	f.state.Player.CurrentSystem = "sol"

	require.NoError(t, f.player.PlayLoop("loop_1", 0))
	f.player.OnError("cargo_full", "Cargo hold is full")
	for tick := int64(1); tick <= 5; tick++ {
		f.queue.ExecuteNext(tick)
	}
	assert.False(t, f.player.Playing())
	assert.Contains(t, f.latestEvent(t).Message, "not docked")
}

func TestErrorDuringRecoveryStops(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{miningLoop()})
	f.state.Player.CurrentSystem = "sol"

	require.NoError(t, f.player.PlayLoop("loop_1", 0))
	f.player.OnError("cargo_full", "Cargo hold is full")
	f.player.OnError("already_docked", "Already docked")
	assert.True(t, f.player.Recovering())

	f.player.OnError("no_fuel", "Out of fuel")
	assert.False(t, f.player.Playing())
	assert.Equal(t, 0, f.queue.Len())
}

func TestClearedQueueEndsPlaybackOnNextError(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{miningLoop()})
	f.state.Player.CurrentSystem = "sol"
	require.NoError(t, f.player.PlayLoop("loop_1", 0))

	f.queue.Clear()
	for tick := int64(1); tick <= 3; tick++ {
		f.queue.ExecuteNext(tick)
	}
	f.player.OnError("cargo_full", "Cargo hold is full")

	assert.False(t, f.player.Playing())
	assert.False(t, f.player.Recovering())
	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, "[Loop] stopped", f.latestEvent(t).Message)

	for tick := int64(4); tick <= 8; tick++ {
		f.queue.ExecuteNext(tick)
	}
	assert.Equal(t, []string{"mine"}, f.sender.types())
}

func TestNotDockedErrorStartsRecovery(t *testing.T) {
	f := newFixture(t)
	f.player.Merge([]database.SavedLoop{miningLoop()})
	f.state.Player.CurrentSystem = "sol"
	require.NoError(t, f.player.PlayLoop("loop_1", 0))

	f.player.OnError("not_docked", "You are not docked")
	assert.True(t, f.player.Recovering())
	assert.Equal(t, []string{
		"[Recovery] travel", "[Recovery] wait",
		"[Recovery] dock", "[Recovery] wait",
		"[Recovery] verify dock",
	}, labels(f.queue.Items()))
}

func labels(items []queue.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Label
	}
	return out
}

func TestExportImport(t *testing.T) {
	f := newFixture(t)
	loop := miningLoop()
	loop.CreatedAt = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	f.player.Merge([]database.SavedLoop{loop})

	var buf bytes.Buffer
	require.NoError(t, f.player.ExportLoops(&buf))
	assert.Contains(t, buf.String(), "station_id: st_1")

	other := newFixture(t)
	other.player.Merge([]database.SavedLoop{{ID: "loop_1", Name: "Old"}, {ID: "keep", Name: "Keep"}})
	n, err := other.player.ImportLoops(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loops := other.player.Loops()
	require.Len(t, loops, 2)
	assert.Equal(t, "Ore run", loops[0].Name)
	assert.Equal(t, "keep", loops[1].ID)
	assert.True(t, loop.CreatedAt.Equal(loops[0].CreatedAt))
	require.Len(t, loops[0].Steps, 2)
	assert.Equal(t, "a1", loops[0].Steps[0].Command.Params["asteroidId"])

	_, err = other.player.ImportLoops(bytes.NewBufferString("version: 1\nloops:\n  - name: nameless\n"))
	assert.Error(t, err)
}
