package api

import (
	"github.com/tickmatch/tickmatch/internal/trading/engine"
	"github.com/tickmatch/tickmatch/internal/trading/model"
	"github.com/tickmatch/tickmatch/internal/trading/orderbook"
)

// Message types on the gateway wire.
const (
	MsgNewOrder    = "new_order"
	MsgCancelOrder = "cancel_order"
	MsgDepth       = "depth"
	MsgPing        = "ping"

	MsgTrade        = "trade"
	MsgConfirmation = "confirmation"
	MsgCancelAck    = "cancel_ack"
	MsgError        = "error"
	MsgPong         = "pong"
)

// Request is the client-to-gateway envelope. Type selects the payload
// field the gateway reads; the rest are ignored.
type Request struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	Order     *OrderPayload  `json:"order,omitempty"`
	Cancel    *CancelPayload `json:"cancel,omitempty"`

	// Symbol and Levels parameterize a depth request.
	Symbol string `json:"symbol,omitempty"`
	Levels int    `json:"levels,omitempty"`
}

// OrderPayload is a new order with its price in display form.
type OrderPayload struct {
	UserID   uint64     `json:"user_id"`
	Symbol   string     `json:"symbol"`
	Side     model.Side `json:"side"`
	Price    string     `json:"price"`
	Quantity uint64     `json:"quantity"`
}

// CancelPayload names a resting order to pull.
type CancelPayload struct {
	UserID  uint64 `json:"user_id"`
	OrderID uint64 `json:"order_id"`
	Symbol  string `json:"symbol"`
}

// Response is the gateway-to-client envelope. Every frame answering a
// command echoes that command's request id, so clients may pipeline.
// An order that rests ends with a confirmation; an order consumed
// entirely by matching ends with its last trade, which the client
// detects by summing trade quantities against the submitted quantity.
type Response struct {
	Type         string               `json:"type"`
	RequestID    string               `json:"request_id,omitempty"`
	Trade        *TradePayload        `json:"trade,omitempty"`
	Confirmation *ConfirmationPayload `json:"confirmation,omitempty"`
	CancelAck    *engine.CancelAck    `json:"cancel_ack,omitempty"`
	Depth        *DepthPayload        `json:"depth,omitempty"`
	Error        *ErrorPayload        `json:"error,omitempty"`
}

// TradePayload is one fill with its price in display form.
type TradePayload struct {
	TradeID       uint64 `json:"trade_id"`
	Symbol        string `json:"symbol"`
	Price         string `json:"price"`
	Quantity      uint64 `json:"quantity"`
	BuyerUserID   uint64 `json:"buyer_user_id"`
	BuyerOrderID  uint64 `json:"buyer_order_id"`
	SellerUserID  uint64 `json:"seller_user_id"`
	SellerOrderID uint64 `json:"seller_order_id"`
	TimestampNs   int64  `json:"timestamp_ns"`
}

// ConfirmationPayload reports the resting residue of an order.
type ConfirmationPayload struct {
	OrderID           uint64 `json:"order_id"`
	UserID            uint64 `json:"user_id"`
	Symbol            string `json:"symbol"`
	Price             string `json:"price"`
	RemainingQuantity uint64 `json:"remaining_quantity"`
	TimestampNs       int64  `json:"timestamp_ns"`
}

// ErrorPayload is the terminal frame of a failed command.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PriceLevel is one aggregated book level in display form.
type PriceLevel struct {
	Price    string `json:"price"`
	Quantity uint64 `json:"quantity"`
	Orders   int    `json:"orders"`
}

// DepthPayload is a top-of-book snapshot. Bids are best (highest)
// first, asks best (lowest) first.
type DepthPayload struct {
	Symbol      string       `json:"symbol"`
	Bids        []PriceLevel `json:"bids"`
	Asks        []PriceLevel `json:"asks"`
	TimestampNs int64        `json:"timestamp_ns"`
}

func tradePayload(conv *PriceConverter, t *model.TradeNotification) *TradePayload {
	return &TradePayload{
		TradeID:       t.TradeID,
		Symbol:        t.Symbol,
		Price:         conv.FormatTicks(t.Symbol, t.MatchedPrice),
		Quantity:      t.MatchedQuantity,
		BuyerUserID:   t.BuyerUserID,
		BuyerOrderID:  t.BuyerOrderID,
		SellerUserID:  t.SellerUserID,
		SellerOrderID: t.SellerOrderID,
		TimestampNs:   t.TimestampNs,
	}
}

func confirmationPayload(conv *PriceConverter, c *model.OrderConfirmation) *ConfirmationPayload {
	return &ConfirmationPayload{
		OrderID:           c.OrderID,
		UserID:            c.UserID,
		Symbol:            c.Symbol,
		Price:             conv.FormatTicks(c.Symbol, c.Price),
		RemainingQuantity: c.RemainingQuantity,
		TimestampNs:       c.TimestampNs,
	}
}

func depthPayload(conv *PriceConverter, snap *orderbook.DepthSnapshot) *DepthPayload {
	out := &DepthPayload{
		Symbol:      snap.Symbol,
		Bids:        make([]PriceLevel, 0, len(snap.Bids)),
		Asks:        make([]PriceLevel, 0, len(snap.Asks)),
		TimestampNs: snap.TimestampNs,
	}
	for _, lvl := range snap.Bids {
		out.Bids = append(out.Bids, PriceLevel{
			Price:    conv.FormatTicks(snap.Symbol, lvl.Price),
			Quantity: lvl.Quantity,
			Orders:   lvl.Orders,
		})
	}
	for _, lvl := range snap.Asks {
		out.Asks = append(out.Asks, PriceLevel{
			Price:    conv.FormatTicks(snap.Symbol, lvl.Price),
			Quantity: lvl.Quantity,
			Orders:   lvl.Orders,
		})
	}
	return out
}

func errorPayload(e *engine.Error) *ErrorPayload {
	return &ErrorPayload{Kind: string(e.Kind), Message: e.Message}
}
