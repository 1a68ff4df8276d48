package streaming

import (
	"encoding/json"

	"molt/internal/api"
	"molt/internal/game"
	"molt/internal/protocol"
)

type actionResultPayload struct {
	Command string          `json:"command"`
	Tick    int64           `json:"tick"`
	Result  json.RawMessage `json:"result"`
}

type actionResult struct {
	Action     string          `json:"action"`
	Message    string          `json:"message"`
	POI        string          `json:"poi"`
	POIID      string          `json:"poi_id"`
	System     string          `json:"system"`
	SystemName string          `json:"system_name"`
	Amount     int64           `json:"amount"`
	ItemID     string          `json:"item_id"`
	Quantity   int             `json:"quantity"`
	Ship       json.RawMessage `json:"ship"`
}

func (d *Dispatcher) handleActionResult(msg protocol.Message) error {
	pl, err := decodeBody[actionResultPayload](msg)
	if err != nil {
		return err
	}
	hasResult := isJSONObject(pl.Result)
	var res actionResult
	if hasResult {
		if err := json.Unmarshal(pl.Result, &res); err != nil {
			return err
		}
	}

	switch {
	case pl.Command == protocol.CmdTravel && hasResult:
		if res.Action != "arrived" {
			return nil
		}
		d.state.Travel.Clear()
		if res.POIID != "" {
			d.state.Player.CurrentPOI = res.POIID
		}
		d.event(api.EventNav, "Arrived at %s", res.POI)
		d.send(protocol.GetSystem())
	case pl.Command == protocol.CmdJump && hasResult:
		if res.Action != "arrived" && res.Action != "jumped" {
			return nil
		}
		d.state.Travel.Clear()
		d.event(api.EventNav, "Jumped to %s", firstNonEmpty(res.SystemName, res.System))
		d.send(protocol.GetSystem())
	case pl.Command == protocol.CmdScan && hasResult:
		var scan game.TargetScan
		if err := json.Unmarshal(pl.Result, &scan); err != nil {
			return err
		}
		scan.Tick = pl.Tick
		d.recordTargetScan(scan)
	case pl.Command == protocol.CmdDepositCredits && hasResult:
		d.event(api.EventTrade, "Deposited %s to station", game.FormatCredits(res.Amount))
		d.send(protocol.ViewStorage())
	case pl.Command == protocol.CmdWithdrawCredits && hasResult:
		d.event(api.EventTrade, "Withdrew %s from station", game.FormatCredits(res.Amount))
		d.send(protocol.ViewStorage())
	case pl.Command == protocol.CmdDepositItems && hasResult:
		d.event(api.EventTrade, "Deposited %dx %s to station", res.Quantity, res.ItemID)
		d.send(protocol.ViewStorage())
	case pl.Command == protocol.CmdWithdrawItems && hasResult:
		d.event(api.EventTrade, "Withdrew %dx %s from station", res.Quantity, res.ItemID)
		d.send(protocol.ViewStorage())
	case pl.Command == protocol.CmdCraft:
		text := firstNonEmpty(res.Message, "Craft complete")
		d.state.Crafting.LastResult = text
		d.event(api.EventInfo, "%s", text)
		if present(res.Ship) {
			if err := d.state.Ship.Update(res.Ship); err != nil {
				return err
			}
		}
		d.send(protocol.ViewStorage())
	case pl.Command == protocol.CmdInstallModule || pl.Command == protocol.CmdUninstallModule:
		d.genericResult(pl.Command, res)
		d.send(protocol.GetStatus())
	case pl.Command == protocol.CmdAcceptMission || pl.Command == protocol.CmdCompleteMission || pl.Command == protocol.CmdAbandonMission:
		d.genericResult(pl.Command, res)
		d.send(protocol.GetMissions())
		d.send(protocol.GetStatus())
	default:
		d.genericResult(pl.Command, res)
	}
	return nil
}

func (d *Dispatcher) genericResult(command string, res actionResult) {
	switch {
	case res.Message != "":
		d.event(api.EventInfo, "%s", res.Message)
	case firstNonEmpty(res.Action, command) != "":
		d.event(api.EventInfo, "Action complete: %s", firstNonEmpty(res.Action, command))
	}
}

func (d *Dispatcher) recordTargetScan(scan game.TargetScan) {
	d.state.Combat.TargetScan = &scan
	if scan.Success {
		d.event(api.EventCombat, "Scan complete: %s", firstNonEmpty(scan.Username, scan.TargetID))
	} else {
		d.event(api.EventCombat, "Scan failed: %s", scan.TargetID)
	}
}

func (d *Dispatcher) handleActionError(msg protocol.Message) error {
	pl, err := decodeBody[serverError](msg)
	if err != nil {
		return err
	}
	text := firstNonEmpty(pl.Message, pl.Code, "Action failed")
	if pl.Command == protocol.CmdTravel || pl.Command == protocol.CmdJump {
		d.state.Travel.Clear()
	}
	if pl.Command == protocol.CmdCraft {
		d.state.Crafting.LastResult = text
	}
	d.event(api.EventError, "%s", text)
	d.coupleError(pl.Code, text)
	return nil
}

func (d *Dispatcher) handleArrived(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		SystemName  string `json:"system_name"`
		Destination string `json:"destination"`
	}](msg)
	if err != nil {
		return err
	}
	d.state.Travel.Clear()
	d.event(api.EventNav, "Arrived at %s", firstNonEmpty(pl.SystemName, pl.Destination))
	d.send(protocol.GetSystem())
	return nil
}

func (d *Dispatcher) handleTravelUpdate(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		ArrivalTick *int64 `json:"arrival_tick"`
	}](msg)
	if err != nil {
		return err
	}
	d.state.Travel.SetArrival(pl.ArrivalTick)
	return nil
}

func (d *Dispatcher) handleDocked(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		StationID   string `json:"station_id"`
		StationName string `json:"station_name"`
	}](msg)
	if err != nil {
		return err
	}
	d.state.Player.SetDocked(pl.StationID)
	d.event(api.EventNav, "Docked at %s", pl.StationName)
	// view_storage is chained from the get_base reply
	d.send(protocol.GetBase())
	return nil
}

func (d *Dispatcher) handleUndocked(protocol.Message) error {
	d.state.Player.SetUndocked()
	d.state.Base.Reset()
	d.event(api.EventNav, "Undocked")
	return nil
}

func (d *Dispatcher) handleCombatUpdate(msg protocol.Message) error {
	ev, err := decodeBody[game.CombatEvent](msg)
	if err != nil {
		return err
	}
	d.state.Combat.AddEvent(ev)
	d.state.Combat.InCombat = true
	d.event(api.EventCombat, "%s -> %s: %d dmg (%s)", ev.Attacker, ev.Defender, ev.Damage, ev.Result)
	return nil
}

func (d *Dispatcher) handlePlayerDied(protocol.Message) error {
	d.state.Combat.InCombat = false
	d.state.Player.SetDead()
	d.event(api.EventCombat, "You were destroyed!")
	return nil
}

func (d *Dispatcher) handleScanResult(msg protocol.Message) error {
	fields, err := msg.Fields()
	if err != nil {
		return err
	}
	var targetID string
	if raw, ok := fields["target_id"]; ok {
		_ = json.Unmarshal(raw, &targetID)
	}
	if targetID != "" {
		var scan game.TargetScan
		if err := msg.DecodeBody(&scan); err != nil {
			return err
		}
		d.state.Combat.TargetScan = &scan
		d.event(api.EventCombat, "Scan complete: %s", firstNonEmpty(scan.Username, scan.TargetID))
		return nil
	}
	var area game.AreaScan
	if err := msg.DecodeBody(&area); err != nil {
		return err
	}
	d.state.Combat.AreaScan = &area
	d.event(api.EventNav, "Scan complete: %d targets detected", area.TargetCount())
	return nil
}

func (d *Dispatcher) handleMiningYield(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Item     string          `json:"item"`
		Quantity int             `json:"quantity"`
		Ship     json.RawMessage `json:"ship"`
	}](msg)
	if err != nil {
		return err
	}
	item := firstNonEmpty(pl.Item, "ore")
	d.event(api.EventInfo, "Mined %dx %s", pl.Quantity, item)
	if present(pl.Ship) {
		if err := d.state.Ship.Update(pl.Ship); err != nil {
			return err
		}
	}
	d.bus.Fire(Event{Type: EventMiningYield, Data: MiningYield{
		SystemID: firstNonEmpty(d.state.Player.CurrentSystem, d.state.System.ID),
		POIID:    d.state.Player.CurrentPOI,
		Item:     item,
		Quantity: pl.Quantity,
	}})
	return nil
}

func (d *Dispatcher) handleSkillLevelUp(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		SkillName string          `json:"skill_name"`
		Player    json.RawMessage `json:"player"`
	}](msg)
	if err != nil {
		return err
	}
	d.event(api.EventInfo, "Skill up: %s", pl.SkillName)
	if present(pl.Player) {
		return d.state.Player.Update(pl.Player)
	}
	return nil
}
