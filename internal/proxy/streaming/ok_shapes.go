package streaming

import (
	"encoding/json"

	"molt/internal/api"
	"molt/internal/game"
	"molt/internal/protocol"
)

// okReply is an "ok" payload with the fields the shape rules inspect
type okReply struct {
	Action       string          `json:"action"`
	Message      string          `json:"message"`
	Pending      bool            `json:"pending"`
	Type         string          `json:"type"`
	Base         json.RawMessage `json:"base"`
	BaseID       string          `json:"base_id"`
	Items        json.RawMessage `json:"items"`
	Orders       json.RawMessage `json:"orders"`
	System       json.RawMessage `json:"system"`
	POI          json.RawMessage `json:"poi"`
	Recipes      json.RawMessage `json:"recipes"`
	Ships        json.RawMessage `json:"ships"`
	ActiveShipID json.RawMessage `json:"active_ship_id"`
	TotalPages   json.RawMessage `json:"total_pages"`
	Missions     json.RawMessage `json:"missions"`
	Trades       json.RawMessage `json:"trades"`
	Condition    json.RawMessage `json:"condition"`

	body json.RawMessage
}

// okShape recognizes one response shape of the overloaded "ok" message
type okShape struct {
	name  string
	match func(r *okReply) bool
	apply func(d *Dispatcher, r *okReply) error
}

// okShapes is ordered: the first matching rule wins, so specific shapes come
// before the generic ones.
var okShapes = []okShape{
	{"market", matchMarket, applyMarket},
	{"orders", matchOrders, applyOrders},
	{"system", matchSystem, applySystem},
	{"recipes", matchRecipes, applyRecipes},
	{"catalog", matchCatalog, applyCatalog},
	{"fleet", matchFleet, applyFleet},
	{"storage", matchStorage, applyStorage},
	{"base", matchBase, applyBase},
	{"missions", matchMissions, applyMissions},
	{"trades", matchTrades, applyTrades},
	{"pending", matchPending, applyPending},
	{"message", matchMessage, applyMessage},
}

// ClassifyOK returns the name of the shape rule a payload matches, or ""
func ClassifyOK(payload json.RawMessage) string {
	r, err := decodeOK(payload)
	if err != nil {
		return ""
	}
	if shape, ok := findShape(r); ok {
		return shape.name
	}
	return ""
}

func decodeOK(payload json.RawMessage) (*okReply, error) {
	r := &okReply{body: payload}
	if err := json.Unmarshal(payload, r); err != nil {
		return nil, err
	}
	return r, nil
}

func findShape(r *okReply) (okShape, bool) {
	for _, shape := range okShapes {
		if shape.match(r) {
			return shape, true
		}
	}
	return okShape{}, false
}

func (d *Dispatcher) handleOK(msg protocol.Message) error {
	r, err := decodeOK(msg.Body())
	if err != nil {
		return err
	}
	shape, ok := findShape(r)
	if !ok {
		return nil
	}
	return shape.apply(d, r)
}

func matchMarket(r *okReply) bool {
	return r.Action == protocol.CmdViewMarket && present(r.Items)
}

func applyMarket(d *Dispatcher, r *okReply) error {
	var items []game.MarketItem
	if err := json.Unmarshal(r.Items, &items); err != nil {
		return err
	}
	var base string
	_ = json.Unmarshal(r.Base, &base)
	d.state.Market.SetData(base, items)
	d.send(protocol.ViewOrders())
	return nil
}

func matchOrders(r *okReply) bool {
	return r.Action == protocol.CmdViewOrders && present(r.Orders)
}

func applyOrders(d *Dispatcher, r *okReply) error {
	var orders []game.MyOrder
	if err := json.Unmarshal(r.Orders, &orders); err != nil {
		return err
	}
	d.state.Market.SetMyOrders(orders)
	return nil
}

func matchSystem(r *okReply) bool {
	return r.Action == protocol.CmdGetSystem && isJSONObject(r.System)
}

func applySystem(d *Dispatcher, r *okReply) error {
	// The reply is a complete picture; drop lists the new one omits
	d.state.System.POIs = nil
	d.state.System.Connections = nil
	if err := d.state.System.Update(r.System); err != nil {
		return err
	}
	if isJSONObject(r.POI) {
		var poi game.POI
		if err := json.Unmarshal(r.POI, &poi); err != nil {
			return err
		}
		d.state.CurrentPOI = &poi
	}
	d.bus.Fire(Event{Type: EventSystemInfo, Data: SystemInfo{System: d.state.System}})
	return nil
}

func matchRecipes(r *okReply) bool {
	return isJSONObject(r.Recipes)
}

func applyRecipes(d *Dispatcher, r *okReply) error {
	return d.setRecipes(r.Recipes)
}

func matchCatalog(r *okReply) bool {
	return game.IsCatalogType(r.Type) && isJSONArray(r.Items) && present(r.TotalPages)
}

func applyCatalog(d *Dispatcher, r *okReply) error {
	return d.state.Catalog.HandleResponse(r.body)
}

func matchFleet(r *okReply) bool {
	return isJSONArray(r.Ships) && present(r.ActiveShipID)
}

func applyFleet(d *Dispatcher, r *okReply) error {
	return d.state.Fleet.SetFromPayload(r.body)
}

func matchStorage(r *okReply) bool {
	return r.Action == protocol.CmdViewStorage || (r.BaseID != "" && present(r.Items))
}

func applyStorage(d *Dispatcher, r *okReply) error {
	storage, err := game.NormalizeStorage(r.body)
	if err != nil {
		return err
	}
	d.state.Base.SetStorage(storage)
	return nil
}

func matchBase(r *okReply) bool {
	return r.Action == protocol.CmdGetBase || present(r.Base)
}

func applyBase(d *Dispatcher, r *okReply) error {
	if !isJSONObject(r.Base) {
		return nil
	}
	var info game.BaseInfo
	if err := json.Unmarshal(r.Base, &info); err != nil {
		return err
	}
	if info.Name == "" {
		return nil
	}
	var cond *game.BaseCondition
	if isJSONObject(r.Condition) {
		cond = &game.BaseCondition{}
		if err := json.Unmarshal(r.Condition, cond); err != nil {
			return err
		}
	}
	d.state.Base.SetBase(info, cond)
	// Storage is requested only after the base reply to keep queries sequential
	d.send(protocol.ViewStorage())
	return nil
}

func matchMissions(r *okReply) bool {
	return isJSONArray(r.Missions)
}

func applyMissions(d *Dispatcher, r *okReply) error {
	var items []json.RawMessage
	if err := json.Unmarshal(r.Missions, &items); err != nil {
		return err
	}
	return d.state.Missions.SetFromList(items)
}

func matchTrades(r *okReply) bool {
	return isJSONArray(r.Trades)
}

func applyTrades(d *Dispatcher, r *okReply) error {
	var offers []game.TradeOffer
	if err := json.Unmarshal(r.Trades, &offers); err != nil {
		return err
	}
	d.state.Trades.SetFromList(offers, d.state.Player.ID)
	return nil
}

func matchPending(r *okReply) bool {
	return r.Pending
}

// applyPending reports a mutation the server will run on the next tick
func applyPending(d *Dispatcher, r *okReply) error {
	d.event(api.EventInfo, "%s", firstNonEmpty(r.Message, "Accepted for next tick"))
	return nil
}

func matchMessage(r *okReply) bool {
	return r.Message != ""
}

func applyMessage(d *Dispatcher, r *okReply) error {
	if r.Message != "" {
		d.event(api.EventInfo, "%s", r.Message)
	}
	return nil
}
