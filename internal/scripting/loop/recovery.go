package loop

import (
	"strings"

	"molt/internal/api"
	"molt/internal/log"
	"molt/internal/protocol"
	"molt/internal/proxy/database"
	"molt/internal/scripting/queue"
	"molt/internal/scripting/routing"
)

// DefaultMaxHops bounds the recovery route search
const DefaultMaxHops = 15

// skippableCodes are server error codes for actions that were already done
var skippableCodes = map[string]bool{
	"already_docked":         true,
	"already_undocked":       true,
	"at_max":                 true,
	"already_max":            true,
	"max_reached":            true,
	"nothing_to_deposit":     true,
	"nothing_to_withdraw":    true,
	"no_items":               true,
	"action_pending":         true,
	"action_already_pending": true,
}

var skippableMessages = []string{
	"already docked",
	"already undocked",
	"already at max",
	"nothing to deposit",
	"nothing to withdraw",
	"already pending",
}

// Skippable reports whether an error only says the action was redundant
func Skippable(code, message string) bool {
	if skippableCodes[strings.ToLower(code)] {
		return true
	}
	msg := strings.ToLower(message)
	for _, s := range skippableMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// OnError reacts to a server error during playback. Redundant-action errors
// are ignored; anything else starts recovery, and an error while recovering
// stops the loop.
func (p *Player) OnError(code, message string) {
	if !p.playing {
		return
	}
	if Skippable(code, message) {
		log.Debug("loop ignoring redundant action error", "code", code, "message", message)
		return
	}
	if p.recovering {
		p.stopWithError("[Loop] recovery failed: %s", message)
		return
	}
	if !p.queue.HasCommand(SentinelType) {
		// the iteration was dropped from the queue; nothing is left to recover
		p.StopLoop()
		return
	}
	loop, ok := p.Loop(p.playingID)
	if !ok {
		p.StopLoop()
		return
	}
	p.startRecovery(loop, code, message)
}

// startRecovery replaces the queue with the way back to the loop's station:
// undock, jump home, travel, dock, then a check that restarts the iteration.
// Every move is followed by a one-tick wait.
func (p *Player) startRecovery(loop database.SavedLoop, code, message string) {
	p.queue.ClearQueue()
	p.recovering = true
	p.event(api.EventError, "[Loop] error (%s): %s, returning to %s", code, message, loop.StationName)
	log.Warn("loop recovery started", "loop", loop.Name, "code", code, "message", message)

	var steps []queue.Planned
	move := func(label string, cmd api.OutboundCommand) {
		steps = append(steps,
			queue.Planned{Label: label, Exec: p.send(cmd)},
			queue.Planned{Label: "[Recovery] wait", Exec: p.send(protocol.GetStatus())},
		)
	}

	if p.state.Player.IsDocked() && p.state.Player.DockedAt() != loop.StationID {
		move("[Recovery] undock", protocol.Undock())
	}

	current := p.currentSystem()
	if loop.SystemID != "" && current != "" && current != loop.SystemID {
		if p.state.System.ConnectedTo(loop.SystemID) {
			move("[Recovery] jump to "+loop.SystemID, protocol.Jump(loop.SystemID))
		} else {
			hops, err := p.route(current, loop.SystemID)
			if err != nil {
				log.Warn("loop recovery has no route", "from", current, "to", loop.SystemID, "error", err)
				p.stopWithError("[Loop] recovery failed: no route from %s to %s", current, loop.SystemID)
				return
			}
			for _, hop := range hops {
				move("[Recovery] jump to "+hop, protocol.Jump(hop))
			}
		}
	}

	if p.state.Player.DockedAt() != loop.StationID {
		if loop.POIID != "" {
			move("[Recovery] travel", protocol.Travel(loop.POIID))
		}
		move("[Recovery] dock", protocol.Dock(loop.StationID))
	}

	steps = append(steps, queue.Planned{Label: "[Recovery] verify dock", Exec: func() error {
		p.verifyRecovery(loop)
		return nil
	}})

	p.queue.EnqueueNextAll(steps)
}

func (p *Player) route(from, to string) ([]string, error) {
	if p.opts.Router == nil {
		return nil, routing.ErrNoRoute
	}
	maxHops := p.opts.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return p.opts.Router.Route(from, to, maxHops)
}

func (p *Player) verifyRecovery(loop database.SavedLoop) {
	if !p.playing || p.playingID != loop.ID {
		return
	}
	if p.state.Player.DockedAt() != loop.StationID {
		p.stopWithError("[Loop] recovery failed: not docked at %s", loop.StationName)
		return
	}
	p.recovering = false
	p.event(api.EventInfo, "[Loop] recovered, restarting iteration %d", p.iteration)
	p.enqueueSteps(loop)
}

func (p *Player) send(cmd api.OutboundCommand) queue.Executor {
	return func() error {
		p.sender.Send(cmd)
		return nil
	}
}
