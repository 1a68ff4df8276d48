package streaming

import (
	"encoding/json"

	"molt/internal/api"
	"molt/internal/game"
	"molt/internal/protocol"
)

type marketPayload struct {
	Base  string            `json:"base"`
	Items []game.MarketItem `json:"items"`
}

func (d *Dispatcher) handleMarketData(msg protocol.Message) error {
	pl, err := decodeBody[marketPayload](msg)
	if err != nil {
		return err
	}
	d.state.Market.SetData(pl.Base, pl.Items)
	return nil
}

func (d *Dispatcher) handleOrdersData(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Orders []game.MyOrder `json:"orders"`
	}](msg)
	if err != nil {
		return err
	}
	if pl.Orders == nil {
		pl.Orders = []game.MyOrder{}
	}
	d.state.Market.SetMyOrders(pl.Orders)
	return nil
}

func (d *Dispatcher) handleOrderCancelled(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		OrderID string `json:"order_id"`
	}](msg)
	if err != nil {
		return err
	}
	d.state.Market.RemoveOrder(pl.OrderID)
	d.event(api.EventTrade, "Order cancelled")
	return nil
}

// handleTradeResult covers buy_result and sell_result
func (d *Dispatcher) handleTradeResult(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Message string `json:"message"`
		snapshotPayload
	}](msg)
	if err != nil {
		return err
	}
	d.event(api.EventTrade, "%s", firstNonEmpty(pl.Message, "Trade complete"))
	pl.System = nil
	return d.applySnapshot(pl.snapshotPayload)
}

func (d *Dispatcher) handleShipList(msg protocol.Message) error {
	return d.state.Fleet.SetFromPayload(msg.Body())
}

func (d *Dispatcher) handleShipInfo(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Ship json.RawMessage `json:"ship"`
	}](msg)
	if err != nil {
		return err
	}
	if present(pl.Ship) {
		return d.state.Ship.Update(pl.Ship)
	}
	return nil
}

func (d *Dispatcher) handleShipCatalog(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Ships json.RawMessage `json:"ships"`
	}](msg)
	if err != nil {
		return err
	}
	if !isJSONArray(pl.Ships) {
		pl.Ships = json.RawMessage("[]")
	}
	d.state.ShipCatalog = pl.Ships
	return nil
}

func (d *Dispatcher) handleStorageData(msg protocol.Message) error {
	storage, err := game.NormalizeStorage(msg.Body())
	if err != nil {
		return err
	}
	d.state.Base.SetStorage(storage)
	return nil
}

func (d *Dispatcher) handleCraftResult(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Message string          `json:"message"`
		Success bool            `json:"success"`
		Ship    json.RawMessage `json:"ship"`
	}](msg)
	if err != nil {
		return err
	}
	text := pl.Message
	if text == "" {
		text = "Craft failed"
		if pl.Success {
			text = "Craft complete"
		}
	}
	d.state.Crafting.LastResult = text
	d.event(api.EventInfo, "%s", text)
	if present(pl.Ship) {
		return d.state.Ship.Update(pl.Ship)
	}
	return nil
}

type recipesPayload struct {
	Recipes json.RawMessage `json:"recipes"`
}

// setRecipes accepts only the id-keyed object form
func (d *Dispatcher) setRecipes(raw json.RawMessage) error {
	if !isJSONObject(raw) {
		return nil
	}
	var byID map[string]game.Recipe
	if err := json.Unmarshal(raw, &byID); err != nil {
		return err
	}
	d.state.Crafting.SetRecipes(byID)
	return nil
}

func (d *Dispatcher) handleRecipes(msg protocol.Message) error {
	pl, err := decodeBody[recipesPayload](msg)
	if err != nil {
		return err
	}
	return d.setRecipes(pl.Recipes)
}

func (d *Dispatcher) handleFactionInfo(msg protocol.Message) error {
	faction, err := decodeBody[game.Faction](msg)
	if err != nil {
		return err
	}
	d.state.Faction = &faction
	return nil
}

func (d *Dispatcher) handleChatMessage(msg protocol.Message) error {
	chat, err := decodeBody[game.ChatMessage](msg)
	if err != nil {
		return err
	}
	d.state.Chat.Add(chat)
	return nil
}

func (d *Dispatcher) handlePoliceWarning(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Message string `json:"message"`
	}](msg)
	if err != nil {
		return err
	}
	d.event(api.EventCombat, "Police warning: %s", pl.Message)
	return nil
}

func (d *Dispatcher) handleCatalogResult(msg protocol.Message) error {
	return d.state.Catalog.HandleResponse(msg.Body())
}

func (d *Dispatcher) handleBattleStarted(msg protocol.Message) error {
	status, err := game.NormalizeBattle(msg.Body())
	if err != nil {
		return err
	}
	d.state.Battle.SetStatus(status)
	d.state.Combat.InCombat = true
	d.event(api.EventCombat, "Battle started (%d participants)", len(status.Participants))
	return nil
}

func (d *Dispatcher) handleBattleUpdate(msg protocol.Message) error {
	status, err := game.NormalizeBattle(msg.Body())
	if err != nil {
		return err
	}
	d.state.Battle.SetStatus(status)
	return nil
}

func (d *Dispatcher) handleBattleEnded(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Message string `json:"message"`
	}](msg)
	if err != nil {
		return err
	}
	d.state.Battle.End(msg.Body())
	d.state.Combat.InCombat = false
	d.event(api.EventCombat, "%s", firstNonEmpty(pl.Message, "Battle ended"))
	return nil
}

func (d *Dispatcher) handleTradeOfferReceived(msg protocol.Message) error {
	offer, err := decodeBody[game.TradeOffer](msg)
	if err != nil {
		return err
	}
	d.state.Trades.AddIncoming(offer)
	d.event(api.EventTrade, "Trade offer from %s", firstNonEmpty(offer.OffererName, offer.OffererID))
	return nil
}

func (d *Dispatcher) handleTradeOfferSent(msg protocol.Message) error {
	offer, err := decodeBody[game.TradeOffer](msg)
	if err != nil {
		return err
	}
	d.state.Trades.AddOutgoing(offer)
	d.event(api.EventTrade, "Trade offer sent to %s", firstNonEmpty(offer.TargetName, offer.TargetID))
	return nil
}

func (d *Dispatcher) handleTradeUpdate(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		TradeID string `json:"trade_id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}](msg)
	if err != nil {
		return err
	}
	if !d.state.Trades.UpdateStatus(pl.TradeID, pl.Status) {
		return nil
	}
	d.state.Trades.LastResult = firstNonEmpty(pl.Message, pl.Status)
	d.event(api.EventTrade, "Trade %s: %s", pl.TradeID, pl.Status)
	return nil
}

func (d *Dispatcher) handleMissionUpdate(msg protocol.Message) error {
	pl, err := decodeBody[struct {
		Mission json.RawMessage `json:"mission"`
		Message string          `json:"message"`
	}](msg)
	if err != nil {
		return err
	}
	raw := pl.Mission
	if !isJSONObject(raw) {
		raw = msg.Body()
	}
	mission, err := game.NormalizeMission(raw)
	if err != nil {
		return err
	}
	d.state.Missions.Active = upsertMission(d.state.Missions.Active, mission)
	if pl.Message != "" {
		d.event(api.EventInfo, "%s", pl.Message)
	}
	return nil
}

func upsertMission(list []game.Mission, m game.Mission) []game.Mission {
	for i := range list {
		if list[i].ID == m.ID {
			list[i] = m
			return list
		}
	}
	return append(list, m)
}
