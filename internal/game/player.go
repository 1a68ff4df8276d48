package game

import (
	"encoding/json"
	"fmt"
)

// Player status values
const (
	StatusActive    = "active"
	StatusDocked    = "docked"
	StatusDead      = "dead"
	StatusTraveling = "traveling"
)

// Player is the canonical player snapshot
type Player struct {
	ID            string          `json:"id"`
	Username      string          `json:"username"`
	Empire        string          `json:"empire"`
	Credits       int64           `json:"credits"`
	Status        string          `json:"status"`
	CurrentSystem string          `json:"current_system"`
	CurrentPOI    string          `json:"current_poi"`
	DockedAtBase  *string         `json:"docked_at_base"`
	HomeBase      string          `json:"home_base"`
	FactionID     *string         `json:"faction_id"`
	CurrentShipID string          `json:"current_ship_id"`
	Experience    int64           `json:"experience"`
	Skills        json.RawMessage `json:"skills,omitempty"`
	Stats         json.RawMessage `json:"stats,omitempty"`
}

// Update merges a partial player payload. Legacy system_id/poi_id names are
// folded into current_system/current_poi. A payload that carries the player's
// identity but no docked_at_base is a full snapshot of an undocked player, so
// the previous docked_at_base is cleared rather than kept.
func (p *Player) Update(data json.RawMessage) error {
	f, err := decodeFields(data)
	if err != nil {
		return fmt.Errorf("player: %w", err)
	}
	f.alias("system_id", "current_system")
	f.alias("poi_id", "current_poi")

	full := (f.has("id") || f.has("username")) && !f.has("docked_at_base")
	if err := mergeInto(p, f); err != nil {
		return fmt.Errorf("player: %w", err)
	}
	if full {
		p.DockedAtBase = nil
	}
	p.deriveStatus(full)
	return nil
}

// SetDocked records a successful dock at stationID
func (p *Player) SetDocked(stationID string) {
	if stationID == "" {
		p.DockedAtBase = nil
	} else {
		id := stationID
		p.DockedAtBase = &id
		p.CurrentPOI = stationID
	}
	p.Status = StatusDocked
}

// SetUndocked clears the dock marker and the current POI
func (p *Player) SetUndocked() {
	p.DockedAtBase = nil
	p.CurrentPOI = ""
	p.Status = StatusActive
}

// SetDead marks the player destroyed
func (p *Player) SetDead() {
	p.Status = StatusDead
}

// DockedAt returns the base the player is docked at, or ""
func (p *Player) DockedAt() string {
	if p.DockedAtBase == nil {
		return ""
	}
	return *p.DockedAtBase
}

// IsDocked reports whether the player is docked anywhere
func (p *Player) IsDocked() bool {
	return p.DockedAtBase != nil || p.Status == StatusDocked
}

func (p *Player) deriveStatus(full bool) {
	switch {
	case p.DockedAtBase != nil:
		p.Status = StatusDocked
	case full && p.Status == StatusDocked:
		p.Status = StatusActive
	case p.Status == "":
		p.Status = StatusActive
	}
}
