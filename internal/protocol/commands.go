package protocol

import (
	"encoding/json"

	"molt/internal/api"
)

// Outbound command tags
const (
	CmdLogin           = "login"
	CmdRegister        = "register"
	CmdGetStatus       = "get_status"
	CmdGetSystem       = "get_system"
	CmdTravel          = "travel"
	CmdJump            = "jump"
	CmdDock            = "dock"
	CmdUndock          = "undock"
	CmdAttack          = "attack"
	CmdScan            = "scan"
	CmdMine            = "mine"
	CmdRepair          = "repair"
	CmdRefuel          = "refuel"
	CmdViewMarket      = "view_market"
	CmdViewOrders      = "view_orders"
	CmdBuy             = "buy"
	CmdSell            = "sell"
	CmdCreateBuyOrder  = "create_buy_order"
	CmdCreateSellOrder = "create_sell_order"
	CmdCancelOrder     = "cancel_order"
	CmdModifyOrder     = "modify_order"
	CmdListShips       = "list_ships"
	CmdGetShips        = "get_ships"
	CmdBuyShip         = "buy_ship"
	CmdSellShip        = "sell_ship"
	CmdSwitchShip      = "switch_ship"
	CmdGetRecipes      = "get_recipes"
	CmdCraft           = "craft"
	CmdGetBase         = "get_base"
	CmdViewStorage     = "view_storage"
	CmdDepositItems    = "deposit_items"
	CmdWithdrawItems   = "withdraw_items"
	CmdDepositCredits  = "deposit_credits"
	CmdWithdrawCredits = "withdraw_credits"
	CmdSetHomeBase     = "set_home_base"
	CmdGetFactionInfo  = "get_faction_info"
	CmdDeclareWar      = "declare_war"
	CmdProposePeace    = "propose_peace"
	CmdCatalog         = "catalog"
	CmdChat            = "chat"
	CmdBattle          = "battle"
	CmdTradeOffer      = "trade_offer"
	CmdTradeAccept     = "trade_accept"
	CmdTradeDecline    = "trade_decline"
	CmdTradeCancel     = "trade_cancel"
	CmdGetTrades       = "get_trades"
	CmdGetMissions     = "get_missions"
	CmdAcceptMission   = "accept_mission"
	CmdCompleteMission = "complete_mission"
	CmdAbandonMission  = "abandon_mission"
	CmdInstallModule   = "install_mod"
	CmdUninstallModule = "uninstall_mod"
	CmdSurveySystem    = "survey_system"
)

// Craft batch limits enforced by the server
const (
	MinCraftCount = 1
	MaxCraftCount = 10
)

// Encode serializes a command for the wire.
func Encode(cmd api.OutboundCommand) ([]byte, error) {
	return json.Marshal(cmd)
}

func command(tag string, payload map[string]any) api.OutboundCommand {
	return api.OutboundCommand{Type: tag, Payload: payload}
}

func Login(username, password string) api.OutboundCommand {
	return command(CmdLogin, map[string]any{"username": username, "password": password})
}

func Register(username, empire, registrationCode string) api.OutboundCommand {
	return command(CmdRegister, map[string]any{
		"username":          username,
		"empire":            empire,
		"registration_code": registrationCode,
	})
}

func GetStatus() api.OutboundCommand { return command(CmdGetStatus, nil) }
func GetSystem() api.OutboundCommand { return command(CmdGetSystem, nil) }

func Travel(poiID string) api.OutboundCommand {
	return command(CmdTravel, map[string]any{"target_poi": poiID})
}

func Jump(systemID string) api.OutboundCommand {
	return command(CmdJump, map[string]any{"target_system": systemID})
}

func Dock(stationID string) api.OutboundCommand {
	if stationID == "" {
		return command(CmdDock, nil)
	}
	return command(CmdDock, map[string]any{"station": stationID})
}

func Undock() api.OutboundCommand { return command(CmdUndock, nil) }

func Attack(targetID string) api.OutboundCommand {
	return command(CmdAttack, map[string]any{"target_id": targetID})
}

// Scan performs an area scan when targetID is empty.
func Scan(targetID string) api.OutboundCommand {
	if targetID == "" {
		return command(CmdScan, nil)
	}
	return command(CmdScan, map[string]any{"target_id": targetID})
}

func Mine(target string) api.OutboundCommand {
	payload := map[string]any{}
	if target != "" {
		payload["target"] = target
	}
	return command(CmdMine, payload)
}

func Repair() api.OutboundCommand { return command(CmdRepair, nil) }

// Refuel tops up from the station when quantity is zero and itemID empty.
func Refuel(quantity int, itemID string) api.OutboundCommand {
	payload := map[string]any{}
	if quantity > 0 {
		payload["quantity"] = quantity
	}
	if itemID != "" {
		payload["item_id"] = itemID
	}
	return command(CmdRefuel, payload)
}

func ViewMarket(stationID string) api.OutboundCommand {
	return command(CmdViewMarket, map[string]any{"station": stationID})
}

func ViewOrders() api.OutboundCommand { return command(CmdViewOrders, nil) }

func Buy(itemID string, quantity, price int) api.OutboundCommand {
	return command(CmdBuy, map[string]any{"item": itemID, "quantity": quantity, "price": price})
}

func Sell(itemID string, quantity, price int) api.OutboundCommand {
	return command(CmdSell, map[string]any{"item": itemID, "quantity": quantity, "price": price})
}

func CreateBuyOrder(itemID string, quantity, priceEach int) api.OutboundCommand {
	return command(CmdCreateBuyOrder, map[string]any{"item_id": itemID, "quantity": quantity, "price_each": priceEach})
}

func CreateSellOrder(itemID string, quantity, priceEach int) api.OutboundCommand {
	return command(CmdCreateSellOrder, map[string]any{"item_id": itemID, "quantity": quantity, "price_each": priceEach})
}

func CancelOrder(orderID string) api.OutboundCommand {
	return command(CmdCancelOrder, map[string]any{"order_id": orderID})
}

func ModifyOrder(orderID string, newPrice int) api.OutboundCommand {
	return command(CmdModifyOrder, map[string]any{"order_id": orderID, "new_price": newPrice})
}

func ListShips() api.OutboundCommand      { return command(CmdListShips, nil) }
func GetShipCatalog() api.OutboundCommand { return command(CmdGetShips, nil) }

func BuyShip(shipType string) api.OutboundCommand {
	return command(CmdBuyShip, map[string]any{"ship_type": shipType})
}

func SellShip(shipID string) api.OutboundCommand {
	return command(CmdSellShip, map[string]any{"ship": shipID})
}

func SwitchShip(shipID string) api.OutboundCommand {
	return command(CmdSwitchShip, map[string]any{"ship": shipID})
}

func GetRecipes() api.OutboundCommand { return command(CmdGetRecipes, nil) }

// Craft clamps count into [MinCraftCount, MaxCraftCount].
func Craft(recipeID string, count int) api.OutboundCommand {
	count = max(MinCraftCount, min(count, MaxCraftCount))
	return command(CmdCraft, map[string]any{"recipe_id": recipeID, "count": count})
}

func GetBase() api.OutboundCommand     { return command(CmdGetBase, nil) }
func ViewStorage() api.OutboundCommand { return command(CmdViewStorage, nil) }

func DepositItems(itemID string, quantity int) api.OutboundCommand {
	return command(CmdDepositItems, map[string]any{"item_id": itemID, "quantity": quantity})
}

func WithdrawItems(itemID string, quantity int) api.OutboundCommand {
	return command(CmdWithdrawItems, map[string]any{"item_id": itemID, "quantity": quantity})
}

func DepositCredits(amount int) api.OutboundCommand {
	return command(CmdDepositCredits, map[string]any{"amount": amount})
}

func WithdrawCredits(amount int) api.OutboundCommand {
	return command(CmdWithdrawCredits, map[string]any{"amount": amount})
}

func SetHomeBase(baseID string) api.OutboundCommand {
	return command(CmdSetHomeBase, map[string]any{"base_id": baseID})
}

func GetFactionInfo(factionID string) api.OutboundCommand {
	return command(CmdGetFactionInfo, map[string]any{"faction": factionID})
}

func DeclareWar(factionID string) api.OutboundCommand {
	return command(CmdDeclareWar, map[string]any{"faction": factionID})
}

func ProposePeace(factionID string) api.OutboundCommand {
	return command(CmdProposePeace, map[string]any{"faction": factionID})
}

// CatalogOptions narrows a catalog query. Zero values are omitted.
type CatalogOptions struct {
	ID       string
	Category string
	Search   string
	Page     int
	PageSize int
}

func Catalog(kind string, opts CatalogOptions) api.OutboundCommand {
	payload := map[string]any{"type": kind}
	if opts.ID != "" {
		payload["id"] = opts.ID
	}
	if opts.Category != "" {
		payload["category"] = opts.Category
	}
	if opts.Search != "" {
		payload["search"] = opts.Search
	}
	if opts.Page > 0 {
		payload["page"] = opts.Page
	}
	if opts.PageSize > 0 {
		payload["page_size"] = opts.PageSize
	}
	return command(CmdCatalog, payload)
}

// Chat posts to the global channel when channel is empty.
func Chat(message, channel string) api.OutboundCommand {
	if channel == "" {
		channel = "global"
	}
	return command(CmdChat, map[string]any{"message": message, "channel": channel})
}

// Battle actions
const (
	BattleAdvance = "advance"
	BattleRetreat = "retreat"
	BattleStance  = "stance"
	BattleTarget  = "target"
	BattleEngage  = "engage"
)

// Battle sends a battle action; extra carries action-specific fields such as stance or target_id.
func Battle(action string, extra map[string]any) api.OutboundCommand {
	payload := map[string]any{"action": action}
	for k, v := range extra {
		payload[k] = v
	}
	return command(CmdBattle, payload)
}

// TradeItem is one line of a player-to-player trade offer
type TradeItem struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

func TradeOffer(targetID string, offerCredits int, offerItems []TradeItem, requestCredits int, requestItems []TradeItem) api.OutboundCommand {
	if offerItems == nil {
		offerItems = []TradeItem{}
	}
	if requestItems == nil {
		requestItems = []TradeItem{}
	}
	return command(CmdTradeOffer, map[string]any{
		"target_id":       targetID,
		"offer_credits":   offerCredits,
		"offer_items":     offerItems,
		"request_credits": requestCredits,
		"request_items":   requestItems,
	})
}

func TradeAccept(tradeID string) api.OutboundCommand {
	return command(CmdTradeAccept, map[string]any{"trade_id": tradeID})
}

func TradeDecline(tradeID string) api.OutboundCommand {
	return command(CmdTradeDecline, map[string]any{"trade_id": tradeID})
}

func TradeCancel(tradeID string) api.OutboundCommand {
	return command(CmdTradeCancel, map[string]any{"trade_id": tradeID})
}

func GetTrades() api.OutboundCommand   { return command(CmdGetTrades, nil) }
func GetMissions() api.OutboundCommand { return command(CmdGetMissions, nil) }

func AcceptMission(missionID string) api.OutboundCommand {
	return command(CmdAcceptMission, map[string]any{"mission_id": missionID})
}

func CompleteMission(missionID string) api.OutboundCommand {
	return command(CmdCompleteMission, map[string]any{"mission_id": missionID})
}

func AbandonMission(missionID string) api.OutboundCommand {
	return command(CmdAbandonMission, map[string]any{"mission_id": missionID})
}

func InstallModule(moduleID string) api.OutboundCommand {
	return command(CmdInstallModule, map[string]any{"module_id": moduleID})
}

func UninstallModule(moduleID string) api.OutboundCommand {
	return command(CmdUninstallModule, map[string]any{"module_id": moduleID})
}

func SurveySystem() api.OutboundCommand { return command(CmdSurveySystem, nil) }
