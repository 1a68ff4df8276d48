package game

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Security levels
const (
	SecurityHigh   = "high"
	SecurityMedium = "medium"
	SecurityLow    = "low"
	SecurityNull   = "null"
)

// BaseRef names the base at a POI
type BaseRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// POI is a point of interest inside a system
type POI struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	PlayerCount int      `json:"player_count"`
	Base        *BaseRef `json:"base"`
}

// HasBase reports whether the POI hosts a dockable base
func (p POI) HasBase() bool { return p.Base != nil }

// Connection is a jump link to another system
type Connection struct {
	SystemID      string   `json:"system_id"`
	SystemName    string   `json:"system_name"`
	SecurityLevel string   `json:"security_level,omitempty"`
	JumpCost      *int     `json:"jump_cost,omitempty"`
	Distance      *float64 `json:"distance,omitempty"`
}

// System is the canonical snapshot of the current star system
type System struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	SecurityLevel  string          `json:"security_level"`
	SecurityStatus string          `json:"security_status"`
	POIs           []POI           `json:"pois"`
	Connections    []Connection    `json:"connections"`
	NearbyPlayers  json.RawMessage `json:"nearby_players,omitempty"`
	Wrecks         json.RawMessage `json:"wrecks,omitempty"`
	Drones         json.RawMessage `json:"drones,omitempty"`
}

type rawPOI struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Online      *int     `json:"online"`
	PlayerCount *int     `json:"player_count"`
	HasBase     bool     `json:"has_base"`
	BaseID      string   `json:"base_id"`
	BaseName    string   `json:"base_name"`
	Base        *BaseRef `json:"base"`
}

func (r rawPOI) normalize() POI {
	poi := POI{ID: r.ID, Name: r.Name, Type: r.Type}
	switch {
	case r.Online != nil:
		poi.PlayerCount = *r.Online
	case r.PlayerCount != nil:
		poi.PlayerCount = *r.PlayerCount
	}
	switch {
	case r.HasBase:
		poi.Base = &BaseRef{ID: r.BaseID, Name: r.BaseName}
	case r.Base != nil:
		poi.Base = r.Base
	}
	return poi
}

type rawConnection struct {
	SystemID      string   `json:"system_id"`
	Name          string   `json:"name"`
	SystemName    string   `json:"system_name"`
	SecurityLevel string   `json:"security_level"`
	JumpCost      *int     `json:"jump_cost"`
	Distance      *float64 `json:"distance"`
}

func (r rawConnection) normalize() Connection {
	name := r.Name
	if name == "" {
		name = r.SystemName
	}
	if name == "" {
		name = "—"
	}
	return Connection{
		SystemID:      r.SystemID,
		SystemName:    name,
		SecurityLevel: r.SecurityLevel,
		JumpCost:      r.JumpCost,
		Distance:      r.Distance,
	}
}

// SecurityLevelFromStatus maps the server's descriptive security text to a
// level, falling back to fallback (or "null") when the text is unrecognized.
func SecurityLevelFromStatus(status, fallback string) string {
	text := strings.ToLower(status)
	switch {
	case strings.Contains(text, "maximum"), strings.Contains(text, "high"):
		return SecurityHigh
	case strings.Contains(text, "medium"), strings.Contains(text, "moderate"):
		return SecurityMedium
	case strings.Contains(text, "low"), strings.Contains(text, "dangerous"):
		return SecurityLow
	case strings.Contains(text, "unregulated"), strings.Contains(text, "lawless"):
		return SecurityNull
	}
	if fallback == "" {
		return SecurityNull
	}
	return fallback
}

func normalizeSystemFields(f fields) error {
	if raw, ok := f["pois"]; ok && !isNull(raw) {
		var pois []rawPOI
		if err := json.Unmarshal(raw, &pois); err != nil {
			return fmt.Errorf("pois: %w", err)
		}
		out := make([]POI, 0, len(pois))
		for _, p := range pois {
			out = append(out, p.normalize())
		}
		f.set("pois", out)
	}
	if raw, ok := f["connections"]; ok && !isNull(raw) {
		var conns []rawConnection
		if err := json.Unmarshal(raw, &conns); err != nil {
			return fmt.Errorf("connections: %w", err)
		}
		out := make([]Connection, 0, len(conns))
		for _, c := range conns {
			out = append(out, c.normalize())
		}
		f.set("connections", out)
	}
	if f.has("security_status") {
		f.set("security_level", SecurityLevelFromStatus(f.str("security_status"), f.str("security_level")))
	}
	return nil
}

// Update merges a system payload; POIs, connections and security text are normalized
func (s *System) Update(data json.RawMessage) error {
	f, err := decodeFields(data)
	if err != nil {
		return fmt.Errorf("system: %w", err)
	}
	if err := normalizeSystemFields(f); err != nil {
		return fmt.Errorf("system: %w", err)
	}
	if err := mergeInto(s, f); err != nil {
		return fmt.Errorf("system: %w", err)
	}
	return nil
}

// POI returns the POI with the given id
func (s *System) POI(id string) (POI, bool) {
	for _, p := range s.POIs {
		if p.ID == id {
			return p, true
		}
	}
	return POI{}, false
}

// POIForBase returns the POI hosting baseID
func (s *System) POIForBase(baseID string) (POI, bool) {
	for _, p := range s.POIs {
		if p.Base != nil && p.Base.ID == baseID {
			return p, true
		}
	}
	return POI{}, false
}

// ConnectedTo reports whether systemID is one jump away
func (s *System) ConnectedTo(systemID string) bool {
	for _, c := range s.Connections {
		if c.SystemID == systemID {
			return true
		}
	}
	return false
}

// Travel tracks an in-flight travel or jump
type Travel struct {
	InProgress      bool   `json:"in_progress"`
	DestinationID   string `json:"destination_id"`
	DestinationName string `json:"destination_name"`
	ArrivalTick     *int64 `json:"arrival_tick"`
	CurrentTick     int64  `json:"current_tick"`
	Kind            string `json:"type"`
}

// Start marks a travel ("travel" or "jump") toward destID
func (t *Travel) Start(kind, destID, destName string) {
	t.InProgress = true
	t.Kind = kind
	t.DestinationID = destID
	t.DestinationName = destName
	t.ArrivalTick = nil
}

// Clear drops the in-flight markers
func (t *Travel) Clear() {
	t.InProgress = false
	t.DestinationID = ""
	t.DestinationName = ""
}

// SetArrival records the server's arrival estimate
func (t *Travel) SetArrival(tick *int64) {
	t.InProgress = true
	t.ArrivalTick = tick
}
