package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestPlayerUpdate(t *testing.T) {
	t.Run("legacy location names", func(t *testing.T) {
		var p Player
		require.NoError(t, p.Update(raw(`{"system_id":"sol","poi_id":"earth"}`)))
		assert.Equal(t, "sol", p.CurrentSystem)
		assert.Equal(t, "earth", p.CurrentPOI)

		require.NoError(t, p.Update(raw(`{"current_system":"vega","system_id":"ignored"}`)))
		assert.Equal(t, "vega", p.CurrentSystem)
	})

	t.Run("partial merge keeps other fields", func(t *testing.T) {
		var p Player
		require.NoError(t, p.Update(raw(`{"id":"p1","username":"pilot","credits":500,"docked_at_base":"base_1"}`)))
		require.NoError(t, p.Update(raw(`{"credits":750}`)))
		assert.Equal(t, "pilot", p.Username)
		assert.Equal(t, int64(750), p.Credits)
		assert.Equal(t, "base_1", p.DockedAt())
		assert.Equal(t, StatusDocked, p.Status)
	})

	t.Run("full snapshot without dock clears stale dock", func(t *testing.T) {
		var p Player
		p.SetDocked("base_1")
		require.NoError(t, p.Update(raw(`{"id":"p1","username":"pilot","credits":10}`)))
		assert.Nil(t, p.DockedAtBase)
		assert.Equal(t, StatusActive, p.Status)
		assert.False(t, p.IsDocked())
	})

	t.Run("explicit null dock", func(t *testing.T) {
		var p Player
		p.SetDocked("base_1")
		require.NoError(t, p.Update(raw(`{"docked_at_base":null}`)))
		assert.Nil(t, p.DockedAtBase)
	})

	t.Run("undock", func(t *testing.T) {
		var p Player
		p.SetDocked("base_1")
		assert.Equal(t, "base_1", p.CurrentPOI)
		p.SetUndocked()
		assert.Equal(t, "", p.CurrentPOI)
		assert.Equal(t, StatusActive, p.Status)
	})
}

func TestShipUpdate(t *testing.T) {
	var s Ship
	require.NoError(t, s.Update(raw(`{
		"id":"s1","hull":"80/120","shields":40,"max_shields":50,
		"max_cargo":200,"cpu_max":12,"power_max":30,"type":"hauler",
		"cargo":[{"item_id":"ore","quantity":50,"volume":2}]
	}`)))
	assert.Equal(t, 80, s.Hull)
	assert.Equal(t, 120, s.MaxHull)
	assert.Equal(t, 40, s.Shield)
	assert.Equal(t, 50, s.MaxShield)
	assert.Equal(t, 200, s.CargoCapacity)
	assert.Equal(t, 12, s.CPUCapacity)
	assert.Equal(t, 30, s.PowerCapacity)
	assert.Equal(t, "hauler", s.ClassID)
	assert.InDelta(t, 50.0, s.CargoPercent(), 0.001)

	require.NoError(t, s.Update(raw(`{"cargo_used":150}`)))
	assert.InDelta(t, 75.0, s.CargoPercent(), 0.001)

	// A new hold listing without usage drops the reported figure
	require.NoError(t, s.Update(raw(`{"cargo":[{"item_id":"ore","quantity":10}]}`)))
	assert.Nil(t, s.CargoUsed)
	assert.InDelta(t, 5.0, s.CargoPercent(), 0.001)

	require.NoError(t, s.Update(raw(`{"hull":90,"max_hull":100}`)))
	assert.Equal(t, 90, s.Hull)
	assert.Equal(t, 100, s.MaxHull)

	assert.Error(t, s.Update(raw(`{"hull":"abc/100"}`)))
}

func TestShipEmptyCapacity(t *testing.T) {
	var s Ship
	assert.Equal(t, 0.0, s.CargoPercent())
	_, ok := s.FirstCargo()
	assert.False(t, ok)
}

func TestFleet(t *testing.T) {
	var fl Fleet
	require.NoError(t, fl.SetFromPayload(raw(`{"ships":[{"id":"a","class":"scout"},{"id":"b","hull":"1/2"}],"active_ship_id":"b"}`)))
	require.Len(t, fl.Ships, 2)
	assert.Equal(t, "scout", fl.Ships[0].ClassID)
	assert.Equal(t, 2, fl.Ships[1].MaxHull)
	assert.Equal(t, "b", fl.ActiveShipID)
}

func TestSystemUpdate(t *testing.T) {
	var s System
	require.NoError(t, s.Update(raw(`{
		"id":"sol","name":"Sol","security_status":"Maximum Security (empire capital)",
		"pois":[
			{"id":"p1","name":"Earth Station","type":"station","online":3,"has_base":true,"base_id":"b1","base_name":"Earth"},
			{"id":"p2","name":"Belt","type":"asteroid_belt"}
		],
		"connections":[{"system_id":"vega","name":"Vega","distance":4.5},{"system_id":"tau"}]
	}`)))
	assert.Equal(t, SecurityHigh, s.SecurityLevel)
	require.Len(t, s.POIs, 2)
	assert.Equal(t, 3, s.POIs[0].PlayerCount)
	require.NotNil(t, s.POIs[0].Base)
	assert.Equal(t, "b1", s.POIs[0].Base.ID)
	assert.Nil(t, s.POIs[1].Base)

	poi, ok := s.POIForBase("b1")
	require.True(t, ok)
	assert.Equal(t, "p1", poi.ID)

	require.Len(t, s.Connections, 2)
	assert.Equal(t, "Vega", s.Connections[0].SystemName)
	assert.Equal(t, "—", s.Connections[1].SystemName)
	assert.True(t, s.ConnectedTo("tau"))
	assert.False(t, s.ConnectedTo("sol"))

	require.NoError(t, s.Update(raw(`{"description":"home"}`)))
	assert.Len(t, s.POIs, 2)
	assert.Equal(t, "home", s.Description)
}

func TestSecurityLevelFromStatus(t *testing.T) {
	tests := []struct {
		status, fallback, want string
	}{
		{"High security", "", SecurityHigh},
		{"Moderate patrols", "", SecurityMedium},
		{"Dangerous space", "", SecurityLow},
		{"Lawless frontier", "high", SecurityNull},
		{"", "medium", SecurityMedium},
		{"whatever", "", SecurityNull},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, SecurityLevelFromStatus(tt.status, tt.fallback))
		})
	}
}

func TestNormalizeBattle(t *testing.T) {
	status, err := NormalizeBattle(raw(`{
		"battle_id":"bt1","your_side_id":2,"your_zone":"mid","my_stance":"fire","your_stance":"flee",
		"participants":[
			{"player_id":"a","side_id":1,"hull_pct":40,"shield_pct":10},
			{"player_id":"b","side_id":2,"ship_class":"frigate","is_destroyed":true}
		]
	}`))
	require.NoError(t, err)
	require.NotNil(t, status.MySideID)
	assert.Equal(t, 2, *status.MySideID)
	assert.Equal(t, "mid", status.MyZone)
	assert.Equal(t, "fire", status.MyStance)

	a, b := status.Participants[0], status.Participants[1]
	assert.Equal(t, 40.0, a.HullPercent)
	assert.Equal(t, 10.0, a.ShieldPercent)
	assert.Equal(t, "?", a.ShipClass)
	assert.False(t, a.IsFleeing)
	assert.Equal(t, 100.0, b.HullPercent)
	assert.Equal(t, 0.0, b.ShieldPercent)
	assert.Equal(t, "frigate", b.ShipClass)
	assert.True(t, b.IsDestroyed)

	var battle Battle
	battle.SetStatus(status)
	assert.True(t, battle.InBattle())
	assert.Len(t, battle.Enemies(2), 1)
	assert.Empty(t, battle.Allies(2))
	battle.Clear()
	assert.False(t, battle.InBattle())
}

func TestNormalizeStorage(t *testing.T) {
	s, err := NormalizeStorage(raw(`{"base_id":"b1","credits":100}`))
	require.NoError(t, err)
	assert.Equal(t, "b1", s.StationID)
	assert.Equal(t, "b1", s.BaseID)
	assert.NotNil(t, s.Items)

	s, err = NormalizeStorage(raw(`{"station_id":"st","items":[{"item_id":"ore","quantity":0},{"item_id":"ice","quantity":4}]}`))
	require.NoError(t, err)
	assert.Equal(t, "st", s.BaseID)
	item, ok := s.FirstItem()
	require.True(t, ok)
	assert.Equal(t, "ice", item.ItemID)
}

func TestNormalizeMission(t *testing.T) {
	m, err := NormalizeMission(raw(`{"mission_id":"m1","title":"Haul","rewards":{"credits":900},"giver":{"name":"Zed"}}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, int64(900), m.RewardCredits)
	assert.Equal(t, "Zed", m.GiverName)
	assert.Equal(t, "[]", string(m.Objectives))
	assert.NotNil(t, m.RewardItems)
}

func TestCatalogResponse(t *testing.T) {
	var c Catalog
	require.NoError(t, c.HandleResponse(raw(`{"type":"ships","items":[{"id":"x"}],"total":1,"total_pages":1}`)))
	page := c.Pages["ships"]
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)

	assert.Error(t, c.HandleResponse(raw(`{"type":"forum","items":[]}`)))
}

func TestCraftingRecipes(t *testing.T) {
	var c Crafting
	c.SetRecipes(map[string]Recipe{
		"b": {Name: "Beta", Category: "parts"},
		"a": {Name: "Alpha", Category: "ammo"},
	})
	require.Len(t, c.Recipes, 2)
	assert.Equal(t, "a", c.Recipes[0].ID)
	assert.Equal(t, []string{"ammo", "parts"}, c.Categories())
}

func TestChatBounded(t *testing.T) {
	var c Chat
	for i := 0; i < maxChatMessages+5; i++ {
		c.Add(ChatMessage{ID: string(rune('a' + i%26)), Content: "hi"})
	}
	assert.Len(t, c.Messages, maxChatMessages)
	assert.Equal(t, "hi", c.Messages[0].Message)
}
