package proxy

import (
	"context"
	"errors"
	"io"

	"molt/internal/api"
	"molt/internal/protocol"
)

// ErrNotDocked is returned when recording starts away from a station
var ErrNotDocked = errors.New("must be docked at a station to record")

var _ api.ClientAPI = (*Session)(nil)

// Connect dials url, or the last url when empty. It blocks until the first
// dial finishes; later reconnects happen in the background.
func (s *Session) Connect(url string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	return s.transport.Connect(url)
}

// Disconnect closes the socket without reconnecting and forgets the login
func (s *Session) Disconnect() error {
	s.transport.SetLoggedIn(false)
	s.transport.Disconnect()
	s.Post(func() {
		s.state.Auth.LoggedIn = false
		s.queue.Clear()
		if s.player.Playing() {
			s.player.StopLoop()
		}
		s.notifyState()
	})
	return nil
}

func (s *Session) IsConnected() bool {
	return s.transport.IsConnected()
}

func (s *Session) Login(username, password string) {
	s.Send(protocol.Login(username, password))
}

func (s *Session) Register(username, empire, registrationCode string) {
	s.Send(protocol.Register(username, empire, registrationCode))
}

// Send writes a raw command, bypassing the action queue
func (s *Session) Send(command api.OutboundCommand) {
	s.Post(func() { wireSender{s}.Send(command) })
}

// Enqueue builds the action described by command and queues it
func (s *Session) Enqueue(command api.ActionCommand) error {
	_, err := call(context.Background(), s, func() (int64, error) {
		id, err := s.interp.Enqueue(command)
		s.notifyState()
		return id, err
	})
	return err
}

func (s *Session) ClearQueue() {
	s.Post(func() {
		s.queue.Clear()
		if s.player.Playing() {
			s.player.StopLoop()
		}
		s.notifyState()
	})
}

// StartRecording starts capturing queued actions at the station the player is docked at
func (s *Session) StartRecording() error {
	return s.do(func() error {
		stationID := s.state.Player.DockedAt()
		if stationID == "" {
			return ErrNotDocked
		}
		return s.player.StartRecording(stationID, s.stationName(stationID))
	})
}

func (s *Session) SaveRecording(name string) error {
	return s.do(func() error {
		_, err := s.player.SaveRecording(name)
		return err
	})
}

func (s *Session) CancelRecording() {
	s.Post(func() {
		if s.player.Recording() {
			s.player.CancelRecording()
			s.notifyState()
		}
	})
}

// PlayLoop plays loop loopID; iterations == 0 repeats until stopped
func (s *Session) PlayLoop(loopID string, iterations int) error {
	return s.do(func() error { return s.player.PlayLoop(loopID, iterations) })
}

func (s *Session) StopLoop() {
	s.Post(func() {
		if s.player.Playing() {
			s.player.StopLoop()
			s.notifyState()
		}
	})
}

func (s *Session) Loops(ctx context.Context) ([]api.LoopInfo, error) {
	return call(ctx, s, func() ([]api.LoopInfo, error) { return s.player.Infos(), nil })
}

func (s *Session) DeleteLoop(loopID string) error {
	return s.do(func() error { return s.player.DeleteLoop(loopID) })
}

func (s *Session) RenameLoop(loopID, name string) error {
	return s.do(func() error { return s.player.RenameLoop(loopID, name) })
}

// ExportLoops writes the current user's loops as YAML
func (s *Session) ExportLoops(ctx context.Context, w io.Writer) error {
	_, err := call(ctx, s, func() (struct{}, error) { return struct{}{}, s.player.ExportLoops(w) })
	return err
}

// ImportLoops merges YAML loops from r and returns how many were read
func (s *Session) ImportLoops(ctx context.Context, r io.Reader) (int, error) {
	return call(ctx, s, func() (int, error) { return s.player.ImportLoops(r) })
}

func (s *Session) Status(ctx context.Context) (api.StatusInfo, error) {
	return call(ctx, s, func() (api.StatusInfo, error) { return s.status(), nil })
}

// Events returns the player-visible feed, newest first
func (s *Session) Events(ctx context.Context) ([]api.EventEntry, error) {
	return call(ctx, s, func() ([]api.EventEntry, error) { return s.state.Events.Entries(), nil })
}

// Shutdown disconnects and stops the session loop. Further calls fail with ErrClosed.
func (s *Session) Shutdown() error {
	s.closeOnce.Do(func() {
		s.transport.Disconnect()
		s.cloud.Reset()
		close(s.done)
	})
	<-s.stopped
	return nil
}

// do runs fn on the loop, then publishes the new state
func (s *Session) do(fn func() error) error {
	_, err := call(context.Background(), s, func() (struct{}, error) {
		err := fn()
		s.notifyState()
		return struct{}{}, err
	})
	return err
}

func (s *Session) stationName(stationID string) string {
	if info := s.state.Base.Info; info != nil && info.ID == stationID && info.Name != "" {
		return info.Name
	}
	for _, poi := range s.state.System.POIs {
		if poi.Base != nil && poi.Base.ID == stationID && poi.Base.Name != "" {
			return poi.Base.Name
		}
	}
	return stationID
}
