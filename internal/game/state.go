package game

import (
	"encoding/json"
	"time"
)

// Auth is the login state of the session
type Auth struct {
	LoggedIn           bool
	Username           string
	SavedUsername      string
	SavedPassword      string
	LoginError         string
	RegisteredPassword string
}

// Welcome is the server handshake
type Welcome struct {
	Version string `json:"version"`
	Motd    string `json:"motd"`
}

// State owns every canonical entity of one game session. It is not safe for
// concurrent use; the session loop is its only writer and reader.
type State struct {
	Auth        Auth
	Welcome     Welcome
	Clock       Clock
	Player      Player
	Ship        Ship
	Fleet       Fleet
	ShipCatalog json.RawMessage
	System      System
	CurrentPOI  *POI
	Travel      Travel
	Nearby      json.RawMessage
	Battle      Battle
	Combat      Combat
	Market      Market
	Base        Base
	Crafting    Crafting
	Faction     *Faction
	Catalog     Catalog
	Missions    Missions
	Chat        Chat
	Trades      Trades
	Events      *Feed
}

// NewState creates an empty session state
func NewState(now func() time.Time) *State {
	s := &State{Events: NewFeed(now)}
	s.Clock.Rate = DefaultTickRate
	return s
}

// ResetGame forgets everything learned from the server while keeping the
// event feed, saved credentials and clock.
func (s *State) ResetGame() {
	auth := Auth{SavedUsername: s.Auth.SavedUsername, SavedPassword: s.Auth.SavedPassword}
	events := s.Events
	clock := s.Clock
	*s = State{Auth: auth, Events: events, Clock: clock}
}

// InHomeSystem reports whether the player is in systemID
func (s *State) InHomeSystem(systemID string) bool {
	current := s.Player.CurrentSystem
	if current == "" {
		current = s.System.ID
	}
	return current == systemID
}
