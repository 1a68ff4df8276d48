package game

import (
	"encoding/json"
	"fmt"
)

// Faction is the player's faction as last reported
type Faction struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Tag         string          `json:"tag,omitempty"`
	Description string          `json:"description"`
	LeaderID    string          `json:"leader_id"`
	Credits     int64           `json:"credits,omitempty"`
	Members     json.RawMessage `json:"members,omitempty"`
	Wars        json.RawMessage `json:"wars,omitempty"`
	Allies      []string        `json:"allies,omitempty"`
}

// CatalogPage is the last page received for one catalog type
type CatalogPage struct {
	Items      []json.RawMessage `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// Catalog types
var CatalogTypes = []string{"ships", "skills", "recipes", "items"}

// IsCatalogType reports whether kind names a catalog
func IsCatalogType(kind string) bool {
	for _, t := range CatalogTypes {
		if t == kind {
			return true
		}
	}
	return false
}

// Catalog holds one page per catalog type
type Catalog struct {
	Pages map[string]CatalogPage
}

// HandleResponse stores a catalog page; the response's "type" selects the slot
func (c *Catalog) HandleResponse(data json.RawMessage) error {
	var resp struct {
		Type string `json:"type"`
		CatalogPage
	}
	resp.Page = 1
	resp.PageSize = 20
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if !IsCatalogType(resp.Type) {
		return fmt.Errorf("catalog: unknown type %q", resp.Type)
	}
	if c.Pages == nil {
		c.Pages = make(map[string]CatalogPage)
	}
	if resp.Items == nil {
		resp.Items = []json.RawMessage{}
	}
	c.Pages[resp.Type] = resp.CatalogPage
	return nil
}

// Mission is a normalized mission entry
type Mission struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Type          string          `json:"type,omitempty"`
	Difficulty    int             `json:"difficulty"`
	Status        string          `json:"status"`
	RewardCredits int64           `json:"reward_credits"`
	RewardItems   []CargoItem     `json:"reward_items"`
	GiverName     string          `json:"giver_name,omitempty"`
	Objectives    json.RawMessage `json:"objectives"`
	ExpiresAt     *int64          `json:"expires_at"`
}

type rawRewards struct {
	Credits int64       `json:"credits"`
	Items   []CargoItem `json:"items"`
}

type rawGiver struct {
	Name string `json:"name"`
}

type rawMission struct {
	ID            string          `json:"id"`
	MissionID     string          `json:"mission_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Type          string          `json:"type"`
	Difficulty    int             `json:"difficulty"`
	Status        string          `json:"status"`
	Rewards       *rawRewards     `json:"rewards"`
	RewardCredits int64           `json:"reward_credits"`
	RewardItems   []CargoItem     `json:"reward_items"`
	Giver         *rawGiver       `json:"giver"`
	GiverName     string          `json:"giver_name"`
	Objectives    json.RawMessage `json:"objectives"`
	ExpiresAt     *int64          `json:"expires_at"`
}

// NormalizeMission flattens the nested rewards and giver objects
func NormalizeMission(data json.RawMessage) (Mission, error) {
	var raw rawMission
	if err := json.Unmarshal(data, &raw); err != nil {
		return Mission{}, fmt.Errorf("mission: %w", err)
	}
	m := Mission{
		ID:            firstString(raw.ID, raw.MissionID),
		Title:         raw.Title,
		Description:   raw.Description,
		Type:          raw.Type,
		Difficulty:    raw.Difficulty,
		Status:        raw.Status,
		RewardCredits: raw.RewardCredits,
		RewardItems:   raw.RewardItems,
		GiverName:     raw.GiverName,
		Objectives:    raw.Objectives,
		ExpiresAt:     raw.ExpiresAt,
	}
	if raw.Rewards != nil {
		m.RewardCredits = raw.Rewards.Credits
		m.RewardItems = raw.Rewards.Items
	}
	if m.RewardItems == nil {
		m.RewardItems = []CargoItem{}
	}
	if raw.Giver != nil && raw.Giver.Name != "" {
		m.GiverName = raw.Giver.Name
	}
	if len(m.Objectives) == 0 || isNull(m.Objectives) {
		m.Objectives = json.RawMessage("[]")
	}
	return m, nil
}

// Missions holds the mission board and the player's active missions
type Missions struct {
	Available []Mission
	Active    []Mission
}

// SetFromList normalizes a missions array into the available list
func (ms *Missions) SetFromList(items []json.RawMessage) error {
	out := make([]Mission, 0, len(items))
	for _, item := range items {
		m, err := NormalizeMission(item)
		if err != nil {
			return err
		}
		out = append(out, m)
	}
	ms.Available = out
	return nil
}

// ChatMessage is one chat line
type ChatMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Message    string `json:"message"`
	Content    string `json:"content,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	Channel    string `json:"channel"`
	TargetID   string `json:"target_id,omitempty"`
}

const maxChatMessages = 200

// Chat keeps the newest maxChatMessages lines, oldest first
type Chat struct {
	Messages []ChatMessage
}

func (c *Chat) Add(msg ChatMessage) {
	if msg.Message == "" {
		msg.Message = msg.Content
	}
	c.Messages = append(c.Messages, msg)
	if over := len(c.Messages) - maxChatMessages; over > 0 {
		c.Messages = c.Messages[over:]
	}
}
