package streaming

import (
	"strings"

	"molt/internal/api"
	"molt/internal/protocol"
)

type serverError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Command string `json:"command"`
}

// ErrorClass groups server error codes by how the client reacts to them
type ErrorClass int

const (
	// ErrorGeneric is reported in the event feed
	ErrorGeneric ErrorClass = iota
	// ErrorCosmetic means a battle the client thought was running is already over
	ErrorCosmetic
	// ErrorCombat is a weapon or ammunition failure, logged with the combat log
	ErrorCombat
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorCosmetic:
		return "cosmetic"
	case ErrorCombat:
		return "combat"
	default:
		return "generic"
	}
}

// ClassifyError maps a server error code to its class
func ClassifyError(code string) ErrorClass {
	switch {
	case code == "not_in_battle", code == "no_battle":
		return ErrorCosmetic
	case code == "no_ammo", code == "out_of_ammo", code == "no_weapons", strings.HasPrefix(code, "weapon_"):
		return ErrorCombat
	default:
		return ErrorGeneric
	}
}

func (d *Dispatcher) handleError(msg protocol.Message) error {
	pl, err := decodeBody[serverError](msg)
	if err != nil {
		return err
	}
	text := firstNonEmpty(pl.Message, "Unknown error")

	class := ClassifyError(pl.Code)
	switch class {
	case ErrorCosmetic:
		d.state.Battle.Clear()
	case ErrorCombat:
		d.state.Combat.AddNote(d.currentTick(), text)
	default:
		d.event(api.EventError, "%s", text)
	}

	if d.state.Travel.InProgress {
		d.state.Travel.Clear()
	}
	if !d.state.Auth.LoggedIn {
		d.state.Auth.LoginError = text
	}
	if class != ErrorCosmetic {
		d.coupleError(pl.Code, text)
	}
	return nil
}

// coupleError lets a failed command cancel the rest of the queue. A step
// marked continue-on-error absorbs the error; during loop playback the
// player decides between skipping and recovery.
func (d *Dispatcher) coupleError(code, text string) {
	if d.queue != nil && d.queue.CurrentContinueOnError() {
		return
	}
	if d.loop != nil && d.loop.Playing() {
		d.loop.OnError(code, text)
		return
	}
	if d.queue != nil && d.queue.Active() {
		d.queue.ClearQueue()
		d.event(api.EventError, "[Queue] cancelled: %s", text)
	}
}
