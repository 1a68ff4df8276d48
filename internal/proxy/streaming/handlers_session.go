package streaming

import (
	"encoding/json"

	"molt/internal/api"
	"molt/internal/game"
	"molt/internal/log"
	"molt/internal/protocol"
)

type welcomePayload struct {
	Version     string   `json:"version"`
	Motd        string   `json:"motd"`
	TickRate    *float64 `json:"tick_rate"`
	CurrentTick *int64   `json:"current_tick"`
}

func (d *Dispatcher) handleWelcome(msg protocol.Message) error {
	pl, err := decodeBody[welcomePayload](msg)
	if err != nil {
		return err
	}
	d.state.Welcome = game.Welcome{Version: pl.Version, Motd: pl.Motd}
	d.state.Clock.Seed(pl.TickRate, pl.CurrentTick)
	version := pl.Version
	if version == "" {
		version = "?"
	}
	d.event(api.EventSystem, "Connected to SpaceMolt v%s - %s", version, pl.Motd)
	return nil
}

type snapshotPayload struct {
	Player json.RawMessage `json:"player"`
	Ship   json.RawMessage `json:"ship"`
	System json.RawMessage `json:"system"`
}

// applySnapshot merges whichever of player, ship and system are present
func (d *Dispatcher) applySnapshot(pl snapshotPayload) error {
	if present(pl.Player) {
		if err := d.state.Player.Update(pl.Player); err != nil {
			return err
		}
	}
	if present(pl.Ship) {
		if err := d.state.Ship.Update(pl.Ship); err != nil {
			return err
		}
	}
	if present(pl.System) {
		if err := d.state.System.Update(pl.System); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) handleLoggedIn(msg protocol.Message) error {
	pl, err := decodeBody[snapshotPayload](msg)
	if err != nil {
		return err
	}
	auth := &d.state.Auth
	auth.LoggedIn = true
	auth.LoginError = ""
	if err := d.applySnapshot(pl); err != nil {
		log.Warn("partial login snapshot", "error", err)
	}
	auth.Username = firstNonEmpty(d.state.Player.Username, auth.SavedUsername)
	d.event(api.EventSystem, "Logged in as %s", auth.Username)

	d.bus.Fire(Event{Type: EventLoggedIn, Data: LoggedIn{Username: auth.Username}})
	d.send(protocol.GetStatus())
	d.send(protocol.GetSystem())
	return nil
}

func (d *Dispatcher) handleRegistered(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Password string `json:"password"`
		PlayerID string `json:"player_id"`
	}](msg)
	if err != nil {
		return err
	}
	auth := &d.state.Auth
	auth.LoggedIn = true
	auth.LoginError = ""
	auth.Username = auth.SavedUsername
	if pl.Password != "" {
		auth.SavedPassword = pl.Password
		auth.RegisteredPassword = pl.Password
		d.event(api.EventSystem, "YOUR PASSWORD: %s - save it, it cannot be recovered", pl.Password)
	}
	if pl.PlayerID != "" {
		d.state.Player.ID = pl.PlayerID
	}
	d.event(api.EventSystem, "Registered as %s", auth.Username)

	d.bus.Fire(Event{Type: EventRegistered, Data: Registered{Username: auth.Username, Password: pl.Password}})
	d.send(protocol.GetStatus())
	d.send(protocol.GetSystem())
	return nil
}

func (d *Dispatcher) handleLoginFailed(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Message string `json:"message"`
	}](msg)
	if err != nil {
		return err
	}
	text := firstNonEmpty(pl.Message, "Invalid credentials")
	d.state.Auth.LoginError = text
	d.event(api.EventError, "%s", text)
	return nil
}

type legacyEvent struct {
	Type    api.EventType `json:"type"`
	Message string        `json:"message"`
}

type stateUpdatePayload struct {
	snapshotPayload
	Modules  json.RawMessage    `json:"modules"`
	Nearby   json.RawMessage    `json:"nearby"`
	InCombat *bool              `json:"in_combat"`
	Events   []legacyEvent      `json:"events"`
	Chat     []game.ChatMessage `json:"chat"`
	Tick     *int64             `json:"tick"`
}

func (d *Dispatcher) handleStateUpdate(msg protocol.Message) error {
	pl, err := decodeBody[stateUpdatePayload](msg)
	if err != nil {
		return err
	}
	if err := d.applySnapshot(pl.snapshotPayload); err != nil {
		return err
	}
	if present(pl.Modules) {
		d.state.Ship.Modules = pl.Modules
	}
	if present(pl.Nearby) {
		d.state.Nearby = pl.Nearby
	}
	if pl.InCombat != nil {
		d.state.Combat.InCombat = *pl.InCombat
	}
	for _, e := range pl.Events {
		d.state.Events.Add(e.Type, e.Message)
	}
	for _, c := range pl.Chat {
		d.state.Chat.Add(c)
	}
	if pl.Tick != nil {
		// A tick and a state_update can announce the same tick; only a newer one advances the queue
		if d.state.Clock.Observe(*pl.Tick, d.now()) {
			d.advance(*pl.Tick)
		}
	}
	return nil
}

func (d *Dispatcher) handleTick(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Tick *int64 `json:"tick"`
	}](msg)
	if err != nil {
		return err
	}
	var tick int64
	if pl.Tick != nil {
		tick = *pl.Tick
		d.state.Clock.Observe(tick, d.now())
	} else {
		tick = d.state.Clock.Next(d.now())
	}
	d.advance(tick)
	return nil
}

// advance hands a tick to the action queue, which runs at most one action per tick value
func (d *Dispatcher) advance(tick int64) {
	d.state.Travel.CurrentTick = tick
	if d.queue != nil {
		d.queue.ExecuteNext(tick)
	}
}

func (d *Dispatcher) handlePlayerStatus(msg protocol.Message) error {
	pl, err := decodeBody[snapshotPayload](msg)
	if err != nil {
		return err
	}
	pl.System = nil
	return d.applySnapshot(pl)
}

func (d *Dispatcher) handleSystemInfo(msg protocol.Message) error {
	if err := d.state.System.Update(msg.Body()); err != nil {
		return err
	}
	d.bus.Fire(Event{Type: EventSystemInfo, Data: SystemInfo{System: d.state.System}})
	return nil
}
