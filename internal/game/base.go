package game

import (
	"encoding/json"
	"fmt"
)

// Storage is the player's storage at the current station
type Storage struct {
	StationID    string          `json:"station_id"`
	StationName  string          `json:"station_name"`
	BaseID       string          `json:"base_id"`
	Items        []CargoItem     `json:"items"`
	Credits      int64           `json:"credits"`
	Capacity     int             `json:"capacity,omitempty"`
	CapacityUsed int             `json:"capacity_used,omitempty"`
	Ships        json.RawMessage `json:"ships,omitempty"`
	Gifts        json.RawMessage `json:"gifts,omitempty"`
}

// NormalizeStorage decodes a storage payload; station_id and base_id mirror each other
func NormalizeStorage(data json.RawMessage) (Storage, error) {
	var s Storage
	if err := json.Unmarshal(data, &s); err != nil {
		return Storage{}, fmt.Errorf("storage: %w", err)
	}
	if s.StationID == "" {
		s.StationID = s.BaseID
	}
	if s.BaseID == "" {
		s.BaseID = s.StationID
	}
	if s.Items == nil {
		s.Items = []CargoItem{}
	}
	return s, nil
}

// FirstItem returns the first stored stack with a positive quantity
func (s *Storage) FirstItem() (CargoItem, bool) {
	for _, item := range s.Items {
		if item.Quantity > 0 {
			return item, true
		}
	}
	return CargoItem{}, false
}

// BaseInfo describes the station the player is docked at
type BaseInfo struct {
	ID           string          `json:"id"`
	POIID        string          `json:"poi_id,omitempty"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	OwnerID      string          `json:"owner_id,omitempty"`
	OwnerName    string          `json:"owner_name,omitempty"`
	FactionID    string          `json:"faction_id,omitempty"`
	Services     json.RawMessage `json:"services,omitempty"`
	Hull         int             `json:"hull,omitempty"`
	MaxHull      int             `json:"max_hull,omitempty"`
	DefenseLevel int             `json:"defense_level,omitempty"`
	Description  string          `json:"description,omitempty"`
	Empire       string          `json:"empire,omitempty"`
	Facilities   []string        `json:"facilities,omitempty"`
}

// BaseCondition is the station's service satisfaction report
type BaseCondition struct {
	TotalServiceInfra int     `json:"total_service_infra,omitempty"`
	SatisfiedCount    int     `json:"satisfied_count,omitempty"`
	SatisfactionPct   float64 `json:"satisfaction_pct,omitempty"`
	Condition         string  `json:"condition,omitempty"`
	ConditionText     string  `json:"condition_text,omitempty"`
}

// Base holds the current station and its storage
type Base struct {
	Info      *BaseInfo
	Condition *BaseCondition
	Storage   *Storage
}

func (b *Base) SetBase(info BaseInfo, cond *BaseCondition) {
	b.Info = &info
	b.Condition = cond
}

func (b *Base) SetStorage(s Storage) {
	b.Storage = &s
}

// Reset forgets the station, used on undock
func (b *Base) Reset() {
	*b = Base{}
}
