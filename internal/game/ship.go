package game

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CargoItem is one stack in a ship hold or station storage
type CargoItem struct {
	ItemID   string  `json:"item_id"`
	Name     string  `json:"name,omitempty"`
	Quantity int     `json:"quantity"`
	Volume   float64 `json:"volume,omitempty"`
	Value    int64   `json:"value,omitempty"`
}

// Ship is the canonical ship snapshot
type Ship struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	ClassID       string          `json:"class_id"`
	Hull          int             `json:"hull"`
	MaxHull       int             `json:"max_hull"`
	Shield        int             `json:"shield"`
	MaxShield     int             `json:"max_shield"`
	Armor         int             `json:"armor"`
	Speed         float64         `json:"speed"`
	Fuel          int             `json:"fuel"`
	MaxFuel       int             `json:"max_fuel"`
	CargoUsed     *float64        `json:"cargo_used"`
	CargoCapacity int             `json:"cargo_capacity"`
	CPUUsed       int             `json:"cpu_used"`
	CPUCapacity   int             `json:"cpu_capacity"`
	PowerUsed     int             `json:"power_used"`
	PowerCapacity int             `json:"power_capacity"`
	WeaponSlots   int             `json:"weapon_slots"`
	DefenseSlots  int             `json:"defense_slots"`
	UtilitySlots  int             `json:"utility_slots"`
	Modules       json.RawMessage `json:"modules,omitempty"`
	Cargo         []CargoItem     `json:"cargo"`
}

// normalizeShipFields rewrites legacy ship keys into canonical ones
func normalizeShipFields(f fields) error {
	if raw, ok := f["hull"]; ok {
		var text string
		if json.Unmarshal(raw, &text) == nil {
			hull, maxHull, err := parseRatio(text)
			if err != nil {
				return fmt.Errorf("hull %q: %w", text, err)
			}
			f.set("hull", hull)
			if !f.has("max_hull") {
				f.set("max_hull", maxHull)
			}
		}
	}
	f.alias("shields", "shield")
	f.alias("max_shields", "max_shield")
	f.alias("max_cargo", "cargo_capacity")
	f.alias("cpu_max", "cpu_capacity")
	f.alias("power_max", "power_capacity")
	f.alias("type", "class_id")
	f.alias("class", "class_id")

	// A new hold listing without a usage figure makes the old figure stale
	if f.has("cargo") && !f.has("cargo_used") {
		f["cargo_used"] = json.RawMessage("null")
	}
	return nil
}

// parseRatio parses "current/max"
func parseRatio(text string) (int, int, error) {
	cur, limit, ok := strings.Cut(text, "/")
	if !ok {
		v, err := strconv.Atoi(strings.TrimSpace(text))
		return v, v, err
	}
	a, err := strconv.Atoi(strings.TrimSpace(cur))
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(strings.TrimSpace(limit))
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// Update merges a partial ship payload after key normalization
func (s *Ship) Update(data json.RawMessage) error {
	f, err := decodeFields(data)
	if err != nil {
		return fmt.Errorf("ship: %w", err)
	}
	if err := normalizeShipFields(f); err != nil {
		return fmt.Errorf("ship: %w", err)
	}
	if err := mergeInto(s, f); err != nil {
		return fmt.Errorf("ship: %w", err)
	}
	return nil
}

// CargoVolume returns the used hold volume. The server figure wins; otherwise
// each stack counts quantity times volume, with unknown volume taken as 1.
func (s *Ship) CargoVolume() float64 {
	if s.CargoUsed != nil {
		return *s.CargoUsed
	}
	var used float64
	for _, item := range s.Cargo {
		volume := item.Volume
		if volume == 0 {
			volume = 1
		}
		used += float64(item.Quantity) * volume
	}
	return used
}

// CargoPercent returns hold fill in [0, 100+]; 0 when capacity is unknown
func (s *Ship) CargoPercent() float64 {
	if s.CargoCapacity <= 0 {
		return 0
	}
	return s.CargoVolume() / float64(s.CargoCapacity) * 100
}

// HullPercent returns hull integrity as a percentage
func (s *Ship) HullPercent() float64 {
	if s.MaxHull <= 0 {
		return 0
	}
	return float64(s.Hull) / float64(s.MaxHull) * 100
}

// FirstCargo returns the first stack with a positive quantity
func (s *Ship) FirstCargo() (CargoItem, bool) {
	for _, item := range s.Cargo {
		if item.Quantity > 0 {
			return item, true
		}
	}
	return CargoItem{}, false
}

// Fleet is the list of owned ships
type Fleet struct {
	Ships        []Ship `json:"ships"`
	ActiveShipID string `json:"active_ship_id"`
}

// SetFromPayload replaces the fleet, normalizing each ship
func (fl *Fleet) SetFromPayload(data json.RawMessage) error {
	var raw struct {
		Ships        []json.RawMessage `json:"ships"`
		ActiveShipID string            `json:"active_ship_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("fleet: %w", err)
	}
	ships := make([]Ship, 0, len(raw.Ships))
	for _, item := range raw.Ships {
		var ship Ship
		if err := ship.Update(item); err != nil {
			return fmt.Errorf("fleet: %w", err)
		}
		ships = append(ships, ship)
	}
	fl.Ships = ships
	fl.ActiveShipID = raw.ActiveShipID
	return nil
}
