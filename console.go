package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"molt/internal/api"
	"molt/internal/log"
)

const (
	outputBuffer = 512
	callTimeout  = 5 * time.Second
)

var errQuit = errors.New("quit")

// client is what the console drives; *proxy.Session implements it
type client interface {
	api.ClientAPI
	DeleteLoop(loopID string) error
	RenameLoop(loopID, name string) error
	ExportLoops(ctx context.Context, w io.Writer) error
	ImportLoops(ctx context.Context, r io.Reader) (int, error)
	Events(ctx context.Context) ([]api.EventEntry, error)
}

// console is a line-oriented front end. It implements api.UiAPI by queueing
// output for printLoop so callbacks never block the session.
type console struct {
	in          io.Reader
	out         io.Writer
	interactive bool
	client      client
	lines       chan string
	printer     *message.Printer
}

func newConsole(in io.Reader, out io.Writer, interactive bool) *console {
	return &console{
		in:          in,
		out:         out,
		interactive: interactive,
		lines:       make(chan string, outputBuffer),
		printer:     message.NewPrinter(language.English),
	}
}

func (c *console) attach(cl client) { c.client = cl }

func (c *console) printf(format string, args ...any) {
	select {
	case c.lines <- c.printer.Sprintf(format, args...):
	default:
		log.Warn("console output dropped", "line", fmt.Sprintf(format, args...))
	}
}

func (c *console) OnConnectionStatusChanged(status api.ConnectionStatus, url string) {
	c.printf("[%s] %s", status, url)
}

func (c *console) OnEvent(entry api.EventEntry) {
	c.printf("%s [%s] %s", entry.Timestamp.Format("15:04:05"), entry.Type, entry.Message)
}

func (c *console) OnStateChanged(api.StatusInfo) {}

func (c *console) printLoop(ctx context.Context) error {
	for {
		select {
		case line := <-c.lines:
			fmt.Fprintln(c.out, line)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *console) prompt() {
	if c.interactive {
		fmt.Fprint(c.out, "> ")
	}
}

// readLoop runs commands from the input until quit, EOF or cancellation
func (c *console) readLoop(ctx context.Context) error {
	input := make(chan string)
	go func() {
		defer close(input)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case input <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn("console input failed", "error", err)
		}
	}()

	c.printf("molt %s - type 'help' for commands", version)
	c.prompt()
	for {
		select {
		case line, ok := <-input:
			if !ok {
				return nil
			}
			err := c.execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printf("error: %v", err)
			}
			c.prompt()
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *console) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	switch cmd {
	case "help", "?":
		c.printf(helpText)
	case "quit", "exit":
		return errQuit
	case "connect":
		url := ""
		if len(args) > 0 {
			url = args[0]
		}
		go func() {
			if err := c.client.Connect(url); err != nil {
				c.printf("connect failed: %v", err)
			}
		}()
	case "disconnect":
		return c.client.Disconnect()
	case "login":
		if len(args) != 2 {
			return usage("login <username> <password>")
		}
		c.client.Login(args[0], args[1])
	case "register":
		if len(args) != 3 {
			return usage("register <username> <empire> <registration-code>")
		}
		c.client.Register(args[0], args[1], args[2])
	case "raw":
		if len(args) < 1 {
			return usage("raw <type> [key=value ...]")
		}
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}
		c.client.Send(api.OutboundCommand{Type: args[0], Payload: params})
	case "do":
		if len(args) < 1 {
			return usage("do <action> [key=value ...]")
		}
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}
		return c.client.Enqueue(api.ActionCommand{Type: args[0], Params: params})
	case "clear":
		c.client.ClearQueue()
	case "record":
		return c.client.StartRecording()
	case "save":
		return c.client.SaveRecording(strings.Join(args, " "))
	case "cancel":
		c.client.CancelRecording()
	case "loops":
		return c.listLoops(callCtx)
	case "play":
		if len(args) < 1 {
			return usage("play <loop-id> [iterations]")
		}
		iterations := 0
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid iteration count %q", args[1])
			}
			iterations = n
		}
		return c.client.PlayLoop(args[0], iterations)
	case "stop":
		c.client.StopLoop()
	case "delete":
		if len(args) != 1 {
			return usage("delete <loop-id>")
		}
		return c.client.DeleteLoop(args[0])
	case "rename":
		if len(args) < 2 {
			return usage("rename <loop-id> <name>")
		}
		return c.client.RenameLoop(args[0], strings.Join(args[1:], " "))
	case "export":
		if len(args) != 1 {
			return usage("export <file>")
		}
		return c.exportLoops(callCtx, args[0])
	case "import":
		if len(args) != 1 {
			return usage("import <file>")
		}
		return c.importLoops(callCtx, args[0])
	case "status":
		return c.showStatus(callCtx)
	case "events":
		return c.showEvents(callCtx, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func usage(text string) error { return fmt.Errorf("usage: %s", text) }

// parseParams turns key=value words into action parameters. Numbers and
// booleans are converted; everything else stays a string.
func parseParams(words []string) (map[string]any, error) {
	if len(words) == 0 {
		return nil, nil
	}
	if strings.HasPrefix(words[0], "{") {
		var params map[string]any
		if err := json.Unmarshal([]byte(strings.Join(words, " ")), &params); err != nil {
			return nil, fmt.Errorf("invalid JSON parameters: %w", err)
		}
		return params, nil
	}
	params := make(map[string]any, len(words))
	for _, w := range words {
		key, value, ok := strings.Cut(w, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", w)
		}
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			params[key] = n
		} else if b, err := strconv.ParseBool(value); err == nil {
			params[key] = b
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func (c *console) listLoops(ctx context.Context) error {
	loops, err := c.client.Loops(ctx)
	if err != nil {
		return err
	}
	if len(loops) == 0 {
		c.printf("no saved loops")
		return nil
	}
	for _, l := range loops {
		c.printf("%s  %-24s @ %-20s %d steps", l.ID, l.Name, l.StationName, l.Steps)
	}
	return nil
}

func (c *console) showStatus(ctx context.Context) error {
	s, err := c.client.Status(ctx)
	if err != nil {
		return err
	}
	user := s.Username
	if !s.LoggedIn {
		user = "(not logged in)"
	}
	c.printf("%s | %s | tick %d | system %s | docked %s | cargo %.0f%%",
		s.Connection, user, s.Tick, orDash(s.SystemID), orDash(s.DockedAt), s.CargoPercent)
	c.printf("queue %d | running %s", s.QueueLength, orDash(s.CurrentAction))
	switch {
	case s.Recording:
		c.printf("recording")
	case s.PlayingLoop != "" && s.TotalIteration > 0:
		c.printf("playing %s (%d/%d)%s", s.PlayingLoop, s.Iteration, s.TotalIteration, recovering(s))
	case s.PlayingLoop != "":
		c.printf("playing %s (%d/∞)%s", s.PlayingLoop, s.Iteration, recovering(s))
	}
	return nil
}

func (c *console) showEvents(ctx context.Context, args []string) error {
	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		n = v
	}
	entries, err := c.client.Events(ctx)
	if err != nil {
		return err
	}
	if len(entries) > n {
		entries = entries[:n]
	}
	// newest first in the feed, oldest first on screen
	for i := len(entries) - 1; i >= 0; i-- {
		c.OnEvent(entries[i])
	}
	return nil
}

func (c *console) exportLoops(ctx context.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.client.ExportLoops(ctx, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	c.printf("loops exported to %s", path)
	return nil
}

func (c *console) importLoops(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := c.client.ImportLoops(ctx, f)
	if err != nil {
		return err
	}
	c.printf("%d loops imported from %s", n, path)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func recovering(s api.StatusInfo) string {
	if s.Recovering {
		return " recovering"
	}
	return ""
}

const helpText = `commands:
  connect [url]                 open the connection (last url when omitted)
  disconnect                    close the connection
  login <user> <pass>           log in
  register <user> <empire> <code>
  raw <type> [key=value ...]    send a command directly
  do <action> [key=value ...]   queue an action, e.g. do travel poiId=belt_1
  clear                         drop queued actions
  record | save [name] | cancel record a loop at the current station
  loops | play <id> [n] | stop  list, play and stop loops (n=0 repeats)
  delete <id> | rename <id> <name>
  export <file> | import <file> loops as YAML
  status | events [n]
  quit`
