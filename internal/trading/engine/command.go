package engine

import (
	"github.com/tickmatch/tickmatch/internal/trading/model"
	"github.com/tickmatch/tickmatch/internal/trading/orderbook"
)

// CommandType discriminates Command.
type CommandType uint8

const (
	CmdNewOrder CommandType = iota + 1
	CmdCancelOrder
	CmdDepth
	CmdShutdown
)

func (t CommandType) String() string {
	switch t {
	case CmdNewOrder:
		return "new_order"
	case CmdCancelOrder:
		return "cancel_order"
	case CmdDepth:
		return "depth"
	case CmdShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Command is one unit of work for a shard worker. Exactly one of the
// payload pointers matching Type is set. Reply, when non-nil, receives
// the single terminal Result for the command; it must be buffered.
type Command struct {
	Type      CommandType
	RequestID string

	Order  *model.NewOrderRequest
	Cancel *model.CancelOrderRequest

	// DepthLevels bounds a CmdDepth snapshot; <= 0 means all levels.
	DepthLevels int
	// Symbol addresses CmdDepth, which carries no payload struct.
	Symbol string

	Reply chan Result
}

// symbol returns the routing key for the command.
func (c *Command) symbol() string {
	switch c.Type {
	case CmdNewOrder:
		return c.Order.Symbol
	case CmdCancelOrder:
		return c.Cancel.Symbol
	case CmdDepth:
		return c.Symbol
	}
	return ""
}

// OutputType discriminates Output.
type OutputType uint8

const (
	OutputTrade OutputType = iota + 1
	OutputConfirmation
	OutputCancelAck
	OutputError
)

// Output is one event on the engine egress channel. Trades for a command
// precede its terminal confirmation, ack, or error; outputs for one
// command are contiguous per shard.
type Output struct {
	Type         OutputType
	Trade        *model.TradeNotification
	Confirmation *model.OrderConfirmation
	CancelAck    *CancelAck
	Err          *Error
}

// CancelAck answers a cancel request. Success false carries the reason.
type CancelAck struct {
	OrderID uint64 `json:"order_id"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Result aggregates everything a single command produced, delivered on
// the command's Reply channel.
type Result struct {
	Trades       []model.TradeNotification
	Confirmation *model.OrderConfirmation
	CancelAck    *CancelAck
	Depth        *orderbook.DepthSnapshot
	Err          *Error
}
