package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molt/internal/api"
)

type fakeClient struct {
	api.ClientAPI
	sent     []api.OutboundCommand
	enqueued []api.ActionCommand
	played   []string
	status   api.StatusInfo
	loops    []api.LoopInfo
	login    [2]string
}

func (f *fakeClient) Login(u, p string) {
	f.login = [2]string{u, p}
}

func (f *fakeClient) Send(cmd api.OutboundCommand) {
	f.sent = append(f.sent, cmd)
}

func (f *fakeClient) Enqueue(cmd api.ActionCommand) error {
	f.enqueued = append(f.enqueued, cmd)
	return nil
}

func (f *fakeClient) PlayLoop(id string, n int) error {
	f.played = append(f.played, id+"x"+strings.Repeat("I", n))
	return nil
}

func (f *fakeClient) Status(context.Context) (api.StatusInfo, error) {
	return f.status, nil
}

func (f *fakeClient) Loops(context.Context) ([]api.LoopInfo, error) {
	return f.loops, nil
}

func (f *fakeClient) DeleteLoop(string) error                             { return nil }
func (f *fakeClient) RenameLoop(string, string) error                     { return nil }
func (f *fakeClient) ExportLoops(context.Context, io.Writer) error        { return nil }
func (f *fakeClient) ImportLoops(context.Context, io.Reader) (int, error) { return 0, nil }
func (f *fakeClient) Events(context.Context) ([]api.EventEntry, error)    { return nil, nil }

func newTestConsole() (*console, *fakeClient) {
	c := newConsole(strings.NewReader(""), io.Discard, false)
	fc := &fakeClient{}
	c.attach(fc)
	return c, fc
}

func drain(c *console) []string {
	var out []string
	for {
		select {
		case line := <-c.lines:
			out = append(out, line)
		default:
			return out
		}
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"poiId=belt_1", "targetPct=90", "force=true"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"poiId": "belt_1", "targetPct": float64(90), "force": true}, params)

	params, err = parseParams([]string{`{"itemId":`, `"ore_iron"}`})
	require.NoError(t, err)
	assert.Equal(t, "ore_iron", params["itemId"])

	params, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)

	_, err = parseParams([]string{"oops"})
	assert.Error(t, err)
}

func TestConsoleCommands(t *testing.T) {
	c, fc := newTestConsole()
	ctx := context.Background()

	require.NoError(t, c.execute(ctx, "login ace hunter2"))
	assert.Equal(t, [2]string{"ace", "hunter2"}, fc.login)

	require.NoError(t, c.execute(ctx, "do travel poiId=belt_1"))
	require.Len(t, fc.enqueued, 1)
	assert.Equal(t, "travel", fc.enqueued[0].Type)
	assert.Equal(t, "belt_1", fc.enqueued[0].Params["poiId"])

	require.NoError(t, c.execute(ctx, "raw get_status"))
	require.Len(t, fc.sent, 1)
	assert.Equal(t, "get_status", fc.sent[0].Type)

	require.NoError(t, c.execute(ctx, "play loop_1 2"))
	assert.Equal(t, []string{"loop_1xII"}, fc.played)

	assert.Error(t, c.execute(ctx, "play loop_1 -1"))
	assert.Error(t, c.execute(ctx, "login ace"))
	assert.Error(t, c.execute(ctx, "warp"))
	assert.ErrorIs(t, c.execute(ctx, "quit"), errQuit)
	assert.NoError(t, c.execute(ctx, "   "))
}

func TestConsoleStatusAndLoops(t *testing.T) {
	c, fc := newTestConsole()
	fc.status = api.StatusInfo{
		Connection:  api.ConnectionStatusConnected,
		LoggedIn:    true,
		Username:    "ace",
		Tick:        12500,
		SystemID:    "sol",
		QueueLength: 2,
		PlayingLoop: "Mining run",
		Iteration:   3,
	}
	fc.loops = []api.LoopInfo{{ID: "loop_1", Name: "Mining run", StationName: "Earth Station", Steps: 4}}

	require.NoError(t, c.execute(context.Background(), "status"))
	lines := drain(c)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "connected | ace | tick 12,500 | system sol | docked -")
	assert.Equal(t, "queue 2 | running -", lines[1])
	assert.Equal(t, "playing Mining run (3/∞)", lines[2])

	require.NoError(t, c.execute(context.Background(), "loops"))
	lines = drain(c)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "loop_1")
	assert.Contains(t, lines[0], "4 steps")
}

func TestConsoleReadLoopStopsAtQuit(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(strings.NewReader("raw get_status\nquit\nraw get_system\n"), &out, false)
	fc := &fakeClient{}
	c.attach(fc)

	done := make(chan error, 1)
	go func() { done <- c.readLoop(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop")
	}
	require.Len(t, fc.sent, 1)
	assert.Equal(t, "get_status", fc.sent[0].Type)
}

func TestUICallbacksNeverBlock(t *testing.T) {
	c, _ := newTestConsole()
	for i := 0; i < outputBuffer+10; i++ {
		c.OnEvent(api.EventEntry{Type: api.EventInfo, Message: "tick"})
	}
	assert.Len(t, c.lines, outputBuffer)
}
