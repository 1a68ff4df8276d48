package game

// MarketOrder is one price level in a market listing
type MarketOrder struct {
	PriceEach int64  `json:"price_each"`
	Quantity  int    `json:"quantity"`
	Source    string `json:"source,omitempty"`
}

// MarketItem is a single item listing from view_market
type MarketItem struct {
	ItemID     string        `json:"item_id"`
	ItemName   string        `json:"item_name"`
	BestBuy    int64         `json:"best_buy"`
	BestSell   int64         `json:"best_sell"`
	Spread     int64         `json:"spread,omitempty"`
	BuyOrders  []MarketOrder `json:"buy_orders"`
	SellOrders []MarketOrder `json:"sell_orders"`
}

// MyOrder is one of the player's own standing orders
type MyOrder struct {
	OrderID    string `json:"order_id"`
	OrderType  string `json:"order_type"`
	ItemID     string `json:"item_id"`
	ItemName   string `json:"item_name"`
	PriceEach  int64  `json:"price_each"`
	Quantity   int    `json:"quantity"`
	Remaining  int    `json:"remaining"`
	ListingFee int64  `json:"listing_fee"`
	CreatedAt  string `json:"created_at"`
}

// Market holds the last viewed market and the player's orders
type Market struct {
	Base     string
	Items    []MarketItem
	MyOrders []MyOrder
}

func (m *Market) SetData(base string, items []MarketItem) {
	m.Base = base
	m.Items = items
}

func (m *Market) SetMyOrders(orders []MyOrder) {
	m.MyOrders = orders
}

// RemoveOrder drops orderID from the player's orders
func (m *Market) RemoveOrder(orderID string) {
	kept := m.MyOrders[:0]
	for _, o := range m.MyOrders {
		if o.OrderID != orderID {
			kept = append(kept, o)
		}
	}
	m.MyOrders = kept
}

// Item returns the listing for itemID
func (m *Market) Item(itemID string) (MarketItem, bool) {
	for _, it := range m.Items {
		if it.ItemID == itemID {
			return it, true
		}
	}
	return MarketItem{}, false
}
