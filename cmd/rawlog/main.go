// Command rawlog turns a raw frame log (written when raw-log is set) into a
// YAML transcript, a per-message-type summary, or a replay through the
// dispatcher that prints the resulting event feed.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"molt/internal/api"
	"molt/internal/game"
	"molt/internal/protocol"
	"molt/internal/proxy/streaming"
)

// Frame is one logged websocket frame
type Frame struct {
	Direction string `yaml:"dir"`
	Line      int    `yaml:"line"`
	Data      string `yaml:"data"`
}

// Transcript is the YAML output
type Transcript struct {
	Name   string  `yaml:"name"`
	Frames []Frame `yaml:"frames"`
}

const (
	inbound  = "<<"
	outbound = ">>"
)

func main() {
	var (
		logFile    = flag.String("log", "raw_frames.log", "Path to the raw frame log")
		startLine  = flag.Int("start-line", 1, "Starting line number (1-based)")
		endLine    = flag.Int("end-line", -1, "Ending line number (1-based, -1 for end of file)")
		outputFile = flag.String("output", "", "Output file (prints to stdout if not specified)")
		name       = flag.String("name", "Captured session", "Transcript name")
		mode       = flag.String("mode", "yaml", "Output: yaml, summary or replay")
	)
	flag.Parse()

	frames, err := parseRawLog(*logFile, *startLine, *endLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing raw log: %v\n", err)
		os.Exit(1)
	}

	out := io.Writer(os.Stdout)
	if *outputFile != "" {
		f, err := os.Create(*outputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	switch *mode {
	case "yaml":
		err = writeTranscript(out, Transcript{Name: *name, Frames: frames})
	case "summary":
		err = writeSummary(out, frames)
	case "replay":
		err = replay(out, frames)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseRawLog(filename string, startLine, endLine int) ([]Frame, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readFrames(file, startLine, endLine)
}

// readFrames parses "<< data" and ">> data" lines within [startLine, endLine].
// Other lines are skipped.
func readFrames(r io.Reader, startLine, endLine int) ([]Frame, error) {
	var frames []Frame
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for line := 1; scanner.Scan(); line++ {
		if line < startLine {
			continue
		}
		if endLine != -1 && line > endLine {
			break
		}
		dir, data, ok := strings.Cut(scanner.Text(), " ")
		if !ok || (dir != inbound && dir != outbound) {
			continue
		}
		// The log writes frames %q-escaped without the outer quotes
		unquoted, err := strconv.Unquote(`"` + data + `"`)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		frames = append(frames, Frame{Direction: dir, Line: line, Data: unquoted})
	}
	return frames, scanner.Err()
}

func writeTranscript(w io.Writer, t Transcript) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return err
	}
	return enc.Close()
}

// summarize counts messages per direction and type
func summarize(frames []Frame) map[string]int {
	counts := make(map[string]int)
	for _, f := range frames {
		msgs, errs := protocol.ParseFrame([]byte(f.Data))
		for _, m := range msgs {
			counts[f.Direction+" "+m.Type]++
		}
		if len(errs) > 0 {
			counts[f.Direction+" (malformed)"] += len(errs)
		}
	}
	return counts
}

func writeSummary(w io.Writer, frames []Frame) error {
	counts := summarize(frames)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%6d  %s\n", counts[k], k); err != nil {
			return err
		}
	}
	return nil
}

type discard struct{}

func (discard) Send(api.OutboundCommand) {}

// replayFeed runs inbound frames through a dispatcher with no server attached
func replayFeed(frames []Frame) []api.EventEntry {
	state := game.NewState(time.Now)
	d := streaming.NewDispatcher(state, discard{})
	for _, f := range frames {
		if f.Direction == inbound {
			d.HandleFrame([]byte(f.Data))
		}
	}
	return state.Events.Entries()
}

func replay(w io.Writer, frames []Frame) error {
	entries := replayFeed(frames)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if _, err := fmt.Fprintf(w, "[%s] %s\n", e.Type, e.Message); err != nil {
			return err
		}
	}
	return nil
}
