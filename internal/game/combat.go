package game

import "encoding/json"

const maxCombatLog = 100

// CombatEvent is one exchange of fire
type CombatEvent struct {
	Tick         int64  `json:"tick"`
	Attacker     string `json:"attacker"`
	Defender     string `json:"defender"`
	Damage       int    `json:"damage"`
	DamageType   string `json:"damage_type"`
	ShieldDamage int    `json:"shield_damage"`
	HullDamage   int    `json:"hull_damage"`
	Result       string `json:"result"`
	Note         string `json:"note,omitempty"`
}

// TargetScan is the result of scanning one ship
type TargetScan struct {
	TargetID     string   `json:"target_id"`
	Success      bool     `json:"success"`
	RevealedInfo []string `json:"revealed_info"`
	Tick         int64    `json:"tick,omitempty"`
	Username     string   `json:"username,omitempty"`
	ShipClass    string   `json:"ship_class,omitempty"`
	Cloaked      bool     `json:"cloaked,omitempty"`
	Hull         *int     `json:"hull,omitempty"`
	Shield       *int     `json:"shield,omitempty"`
	FactionID    string   `json:"faction_id,omitempty"`
}

// AreaScan is the result of an untargeted scan
type AreaScan struct {
	Targets   json.RawMessage `json:"targets"`
	Wrecks    json.RawMessage `json:"wrecks"`
	Drones    json.RawMessage `json:"drones"`
	Anomalies []string        `json:"anomalies"`
}

// TargetCount returns the number of detected targets
func (a AreaScan) TargetCount() int {
	var targets []json.RawMessage
	if json.Unmarshal(a.Targets, &targets) != nil {
		return 0
	}
	return len(targets)
}

// Combat holds the combat log and scan results
type Combat struct {
	InCombat         bool
	Log              []CombatEvent
	AreaScan         *AreaScan
	TargetScan       *TargetScan
	LastAttackTarget string
}

// AddEvent prepends an event, keeping the newest maxCombatLog entries
func (c *Combat) AddEvent(ev CombatEvent) {
	c.Log = append([]CombatEvent{ev}, c.Log...)
	if len(c.Log) > maxCombatLog {
		c.Log = c.Log[:maxCombatLog]
	}
}

// AddNote logs a combat-flavored message such as a weapon or ammo failure
func (c *Combat) AddNote(tick int64, note string) {
	c.AddEvent(CombatEvent{Tick: tick, Result: "note", Note: note})
}

func (c *Combat) Reset() {
	*c = Combat{}
}
