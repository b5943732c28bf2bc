// Package model holds the wire-facing value types shared by the matching
// core, the dispatcher, and the egress adapters. Prices and quantities are
// integers: prices in tick units, quantities in contracts.
package model

import "fmt"

// Side of an order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

// String renders the side in wire form.
func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("side(%d)", uint8(s))
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide parses the wire form produced by String.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY":
		return Buy, nil
	case "sell", "SELL":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// MarshalJSON encodes the side as its wire string.
func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts the wire string form.
func (s *Side) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("side: expected string, got %s", data)
	}
	parsed, err := ParseSide(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// NewOrderRequest is an incoming limit order. Symbol must be interned so
// routing hashes the canonical instance.
type NewOrderRequest struct {
	UserID   uint64 `json:"user_id"`
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
}

// CancelOrderRequest asks to cancel a resting order. Symbol routes the
// request to the shard owning the book.
type CancelOrderRequest struct {
	UserID  uint64 `json:"user_id"`
	OrderID uint64 `json:"order_id"`
	Symbol  string `json:"symbol"`
}

// TradeNotification reports one fill. All trades produced by a single
// ingress request carry the same TimestampNs.
type TradeNotification struct {
	TradeID         uint64 `json:"trade_id"`
	Symbol          string `json:"symbol"`
	MatchedPrice    uint64 `json:"matched_price"`
	MatchedQuantity uint64 `json:"matched_quantity"`
	BuyerUserID     uint64 `json:"buyer_user_id"`
	BuyerOrderID    uint64 `json:"buyer_order_id"`
	SellerUserID    uint64 `json:"seller_user_id"`
	SellerOrderID   uint64 `json:"seller_order_id"`
	TimestampNs     int64  `json:"timestamp_ns"`
}

// OrderConfirmation reports the resting residue of an order that did not
// fully cross. Absent when the order filled completely.
type OrderConfirmation struct {
	OrderID           uint64 `json:"order_id"`
	UserID            uint64 `json:"user_id"`
	Symbol            string `json:"symbol"`
	Price             uint64 `json:"price"`
	RemainingQuantity uint64 `json:"remaining_quantity"`
	TimestampNs       int64  `json:"timestamp_ns"`
}
