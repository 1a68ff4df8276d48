package game

import (
	"encoding/json"
	"fmt"
)

// Participant is one ship in a zone battle
type Participant struct {
	PlayerID      string  `json:"player_id"`
	Username      string  `json:"username"`
	ShipClass     string  `json:"ship_class"`
	SideID        int     `json:"side_id"`
	Zone          string  `json:"zone"`
	Stance        string  `json:"stance"`
	TargetID      string  `json:"target_id,omitempty"`
	HullPercent   float64 `json:"hull_percent"`
	ShieldPercent float64 `json:"shield_percent"`
	IsFleeing     bool    `json:"is_fleeing"`
	IsDestroyed   bool    `json:"is_destroyed"`
}

// BattleSide groups participants
type BattleSide struct {
	SideID      int      `json:"side_id"`
	PlayerCount int      `json:"player_count,omitempty"`
	Members     []string `json:"members,omitempty"`
}

// BattleStatus is the normalized battle view. The my_* fields describe the
// local player regardless of whether the server used my_ or your_ names.
type BattleStatus struct {
	BattleID     string        `json:"battle_id"`
	Tick         int64         `json:"tick,omitempty"`
	SystemID     string        `json:"system_id,omitempty"`
	Sides        []BattleSide  `json:"sides"`
	Participants []Participant `json:"participants"`
	MySideID     *int          `json:"my_side_id,omitempty"`
	MyZone       string        `json:"my_zone,omitempty"`
	MyStance     string        `json:"my_stance,omitempty"`
	MyTargetID   string        `json:"my_target_id,omitempty"`
	AutoPilot    bool          `json:"auto_pilot,omitempty"`
}

type rawParticipant struct {
	PlayerID      string   `json:"player_id"`
	Username      string   `json:"username"`
	ShipClass     *string  `json:"ship_class"`
	SideID        int      `json:"side_id"`
	Zone          string   `json:"zone"`
	Stance        string   `json:"stance"`
	TargetID      string   `json:"target_id"`
	HullPercent   *float64 `json:"hull_percent"`
	HullPct       *float64 `json:"hull_pct"`
	ShieldPercent *float64 `json:"shield_percent"`
	ShieldPct     *float64 `json:"shield_pct"`
	IsFleeing     *bool    `json:"is_fleeing"`
	IsDestroyed   *bool    `json:"is_destroyed"`
}

type rawBattle struct {
	BattleID     string           `json:"battle_id"`
	Tick         int64            `json:"tick"`
	SystemID     string           `json:"system_id"`
	Sides        []BattleSide     `json:"sides"`
	Participants []rawParticipant `json:"participants"`
	MySideID     *int             `json:"my_side_id"`
	YourSideID   *int             `json:"your_side_id"`
	MyZone       string           `json:"my_zone"`
	YourZone     string           `json:"your_zone"`
	MyStance     string           `json:"my_stance"`
	YourStance   string           `json:"your_stance"`
	MyTargetID   string           `json:"my_target_id"`
	YourTargetID string           `json:"your_target_id"`
	AutoPilot    bool             `json:"auto_pilot"`
}

func firstFloat(def float64, values ...*float64) float64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return def
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// NormalizeBattle converts a battle payload into a BattleStatus. Missing
// hull defaults to 100%, shield to 0% and ship class to "?".
func NormalizeBattle(data json.RawMessage) (BattleStatus, error) {
	var raw rawBattle
	if err := json.Unmarshal(data, &raw); err != nil {
		return BattleStatus{}, fmt.Errorf("battle: %w", err)
	}

	status := BattleStatus{
		BattleID:   raw.BattleID,
		Tick:       raw.Tick,
		SystemID:   raw.SystemID,
		Sides:      raw.Sides,
		MyZone:     firstString(raw.MyZone, raw.YourZone),
		MyStance:   firstString(raw.MyStance, raw.YourStance),
		MyTargetID: firstString(raw.MyTargetID, raw.YourTargetID),
		AutoPilot:  raw.AutoPilot,
	}
	if raw.MySideID != nil {
		status.MySideID = raw.MySideID
	} else {
		status.MySideID = raw.YourSideID
	}

	status.Participants = make([]Participant, 0, len(raw.Participants))
	for _, rp := range raw.Participants {
		p := Participant{
			PlayerID:      rp.PlayerID,
			Username:      rp.Username,
			ShipClass:     "?",
			SideID:        rp.SideID,
			Zone:          rp.Zone,
			Stance:        rp.Stance,
			TargetID:      rp.TargetID,
			HullPercent:   firstFloat(100, rp.HullPercent, rp.HullPct),
			ShieldPercent: firstFloat(0, rp.ShieldPercent, rp.ShieldPct),
		}
		if rp.ShipClass != nil {
			p.ShipClass = *rp.ShipClass
		}
		if rp.IsFleeing != nil {
			p.IsFleeing = *rp.IsFleeing
		}
		if rp.IsDestroyed != nil {
			p.IsDestroyed = *rp.IsDestroyed
		}
		status.Participants = append(status.Participants, p)
	}
	return status, nil
}

// Battle holds the current battle, if any
type Battle struct {
	Status       *BattleStatus
	EndedSummary json.RawMessage
}

// InBattle reports whether a battle is active
func (b *Battle) InBattle() bool { return b.Status != nil }

// SetStatus stores a normalized battle and drops any previous summary
func (b *Battle) SetStatus(status BattleStatus) {
	b.Status = &status
	b.EndedSummary = nil
}

// End clears the battle and keeps the server's summary
func (b *Battle) End(summary json.RawMessage) {
	b.Status = nil
	b.EndedSummary = summary
}

// Clear drops battle state without a summary
func (b *Battle) Clear() {
	b.Status = nil
}

// Enemies returns live participants not on side
func (b *Battle) Enemies(side int) []Participant {
	return b.filter(func(p Participant) bool { return p.SideID != side && !p.IsDestroyed })
}

// Allies returns live participants on side
func (b *Battle) Allies(side int) []Participant {
	return b.filter(func(p Participant) bool { return p.SideID == side && !p.IsDestroyed })
}

func (b *Battle) filter(keep func(Participant) bool) []Participant {
	if b.Status == nil {
		return nil
	}
	var out []Participant
	for _, p := range b.Status.Participants {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
