package database

import (
	"time"

	"molt/internal/api"
	"molt/internal/game"
)

// LoopStep is one recorded action of a saved loop
type LoopStep struct {
	Label   string            `json:"label" yaml:"label"`
	Command api.ActionCommand `json:"command" yaml:"command"`
}

// SavedLoop is a station-scoped macro. POIID is the station's POI, used to
// travel back during recovery.
type SavedLoop struct {
	ID          string     `json:"id" yaml:"id"`
	StationID   string     `json:"stationId" yaml:"station_id"`
	StationName string     `json:"stationName" yaml:"station_name"`
	SystemID    string     `json:"systemId,omitempty" yaml:"system_id,omitempty"`
	POIID       string     `json:"poiId,omitempty" yaml:"poi_id,omitempty"`
	Name        string     `json:"name" yaml:"name"`
	Steps       []LoopStep `json:"steps" yaml:"steps"`
	CreatedAt   time.Time  `json:"createdAt" yaml:"created_at"`
}

// MiningStats accumulates yields at one POI
type MiningStats struct {
	TotalMined int            `json:"totalMined"`
	Items      map[string]int `json:"items"`
}

// SystemMemo is the remembered snapshot of a visited system
type SystemMemo struct {
	SystemID      string                 `json:"systemId"`
	SystemName    string                 `json:"systemName"`
	SecurityLevel string                 `json:"securityLevel"`
	Description   string                 `json:"description,omitempty"`
	POIs          []game.POI             `json:"pois"`
	Connections   []game.Connection      `json:"connections"`
	MiningStats   map[string]MiningStats `json:"miningStats"`
	SavedAt       time.Time              `json:"savedAt"`
}

// NewSystemMemo captures sys as a memo stamped at now
func NewSystemMemo(sys game.System, now time.Time) SystemMemo {
	security := sys.SecurityLevel
	if security == "" {
		security = game.SecurityNull
	}
	return SystemMemo{
		SystemID:      sys.ID,
		SystemName:    sys.Name,
		SecurityLevel: security,
		Description:   sys.Description,
		POIs:          sys.POIs,
		Connections:   sys.Connections,
		MiningStats:   map[string]MiningStats{},
		SavedAt:       now,
	}
}

// ConnectedIDs returns the ids of the systems one jump away
func (m SystemMemo) ConnectedIDs() []string {
	ids := make([]string, 0, len(m.Connections))
	for _, c := range m.Connections {
		ids = append(ids, c.SystemID)
	}
	return ids
}
