// Package marketdata publishes engine output to feed consumers: a
// websocket hub with per-topic replay and an optional kafka trade feed.
package marketdata

import (
	"github.com/tickmatch/tickmatch/internal/trading/model"
)

// TradeTick is the public trade print. Participant identities stay off
// the feed.
type TradeTick struct {
	Symbol      string `json:"symbol"`
	TradeID     uint64 `json:"trade_id"`
	Price       uint64 `json:"price"`
	Quantity    uint64 `json:"quantity"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// TickFromTrade strips a fill down to its public view.
func TickFromTrade(t *model.TradeNotification) TradeTick {
	return TradeTick{
		Symbol:      t.Symbol,
		TradeID:     t.TradeID,
		Price:       t.MatchedPrice,
		Quantity:    t.MatchedQuantity,
		TimestampNs: t.TimestampNs,
	}
}

// TradeTopic names the feed topic carrying a symbol's trade prints.
func TradeTopic(symbol string) string {
	return "trades." + symbol
}
