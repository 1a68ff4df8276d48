package game

// Trade statuses. pending is the only non-terminal one.
const (
	TradePending   = "pending"
	TradeAccepted  = "accepted"
	TradeDeclined  = "declined"
	TradeCancelled = "cancelled"
	TradeCompleted = "completed"
)

// IsTerminalTrade reports whether status can never change again
func IsTerminalTrade(status string) bool {
	switch status {
	case TradeAccepted, TradeDeclined, TradeCancelled, TradeCompleted:
		return true
	}
	return false
}

// TradeItem is one stack offered or requested in a trade
type TradeItem struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
	Name     string `json:"name,omitempty"`
}

// TradeOffer is a player-to-player trade
type TradeOffer struct {
	TradeID        string      `json:"trade_id"`
	OffererID      string      `json:"offerer_id"`
	OffererName    string      `json:"offerer_name"`
	TargetID       string      `json:"target_id,omitempty"`
	TargetName     string      `json:"target_name,omitempty"`
	OfferCredits   int64       `json:"offer_credits"`
	OfferItems     []TradeItem `json:"offer_items"`
	RequestCredits int64       `json:"request_credits"`
	RequestItems   []TradeItem `json:"request_items"`
	Status         string      `json:"status"`
	ExpiresAt      string      `json:"expires_at,omitempty"`
	CreatedAt      int64       `json:"created_at,omitempty"`
}

// Trades tracks incoming and outgoing offers, newest first
type Trades struct {
	Incoming   []TradeOffer
	Outgoing   []TradeOffer
	LastResult string
}

// AddIncoming records an offer received from another player
func (t *Trades) AddIncoming(offer TradeOffer) {
	t.Incoming = upsertOffer(t.Incoming, offer)
}

// AddOutgoing records an offer the player sent
func (t *Trades) AddOutgoing(offer TradeOffer) {
	t.Outgoing = upsertOffer(t.Outgoing, offer)
}

// upsertOffer replaces a known offer in place or prepends a new one.
// A terminal offer is never revived by a later copy.
func upsertOffer(list []TradeOffer, offer TradeOffer) []TradeOffer {
	if offer.Status == "" {
		offer.Status = TradePending
	}
	for i, existing := range list {
		if existing.TradeID != offer.TradeID {
			continue
		}
		if IsTerminalTrade(existing.Status) {
			offer.Status = existing.Status
		}
		list[i] = offer
		return list
	}
	return append([]TradeOffer{offer}, list...)
}

// UpdateStatus moves a pending offer to status. Returns false when the offer
// is unknown, already terminal, or status is not a valid target.
func (t *Trades) UpdateStatus(tradeID, status string) bool {
	if !IsTerminalTrade(status) {
		return false
	}
	changed := false
	for _, list := range [][]TradeOffer{t.Incoming, t.Outgoing} {
		for i := range list {
			if list[i].TradeID == tradeID && list[i].Status == TradePending {
				list[i].Status = status
				changed = true
			}
		}
	}
	return changed
}

// SetFromList files each offer as incoming or outgoing by comparing the
// offerer with playerID
func (t *Trades) SetFromList(offers []TradeOffer, playerID string) {
	for _, offer := range offers {
		if playerID != "" && offer.OffererID == playerID {
			t.AddOutgoing(offer)
		} else {
			t.AddIncoming(offer)
		}
	}
}

// PendingIncoming returns offers awaiting the player's answer
func (t *Trades) PendingIncoming() []TradeOffer {
	var out []TradeOffer
	for _, o := range t.Incoming {
		if o.Status == TradePending {
			out = append(out, o)
		}
	}
	return out
}

// Find returns the offer with tradeID from either list
func (t *Trades) Find(tradeID string) (TradeOffer, bool) {
	for _, list := range [][]TradeOffer{t.Incoming, t.Outgoing} {
		for _, o := range list {
			if o.TradeID == tradeID {
				return o, true
			}
		}
	}
	return TradeOffer{}, false
}
