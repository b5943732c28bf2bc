// Package orderbook implements a single-contract limit order book over a
// tick-indexed level array. Best-price discovery goes through a bitmap
// index, per-level time priority through fixed-capacity rings. A book is
// owned by exactly one goroutine; nothing here locks.
package orderbook

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/internal/trading/contract"
	"github.com/tickmatch/tickmatch/internal/trading/model"
)

// DefaultQueueCapacity is the per-level ring capacity when Options does
// not override it. Heavily skewed flow can fill a level; overflow is a
// first-class error, not a drop.
const DefaultQueueCapacity = 1024

var (
	// ErrPriceOffGrid rejects prices outside the contract's tick grid.
	ErrPriceOffGrid = errors.New("price off-grid")
	// ErrQueueFull rejects a rest when the target level ring is full.
	ErrQueueFull = errors.New("price level queue full")
	// ErrOrderNotFound rejects cancels for unknown or dead order ids.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotOwner rejects cancels from a user other than the order owner.
	ErrNotOwner = errors.New("order owned by another user")
)

// OrderNode is one resting order inside a level ring. Nodes move by value
// on push and pop and are never referenced from outside their ring.
type OrderNode struct {
	OrderID   uint64
	UserID    uint64
	Price     uint64
	Quantity  uint64
	Side      model.Side
	Cancelled bool
}

// priceLevel pairs the FIFO ring with counters over its live (non-
// cancelled) orders. live drives the bitmap: the level's bit is set iff
// live > 0, regardless of cancelled leftovers awaiting reap.
type priceLevel struct {
	queue *Ring[OrderNode]
	live  int
	qty   uint64
}

type bookSide struct {
	levels  []*priceLevel
	bitmap  *Bitmap
	bestIdx int
	isBid   bool
}

func newBookSide(numLevels int, isBid bool) bookSide {
	return bookSide{
		levels:  make([]*priceLevel, numLevels),
		bitmap:  NewBitmap(numLevels),
		bestIdx: -1,
		isBid:   isBid,
	}
}

// refreshBest recomputes the cached best index from the bitmap: highest
// set bit for bids, lowest for asks.
func (s *bookSide) refreshBest() {
	var idx int
	var ok bool
	if s.isBid {
		idx, ok = s.bitmap.LastOne()
	} else {
		idx, ok = s.bitmap.FirstOne()
	}
	if ok {
		s.bestIdx = idx
	} else {
		s.bestIdx = -1
	}
}

type location struct {
	side model.Side
	idx  int
}

// Options tunes a Book.
type Options struct {
	// QueueCapacity is the fixed ring size per price level.
	QueueCapacity int
	// EnforceCancelOwner makes CancelOrder verify the requesting user
	// owns the order.
	EnforceCancelOwner bool
	// Now supplies nanosecond timestamps. One reading is taken per
	// MatchOrder call and shared by all its trades.
	Now func() int64
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Book is the matching core for one contract.
type Book struct {
	spec *contract.Spec
	bids bookSide
	asks bookSide

	// locations indexes live resting orders for cancel lookup. An entry
	// exists iff the order is resting and not cancelled.
	locations map[uint64]location

	nextOrderID uint64
	nextTradeID uint64

	queueCapacity int
	enforceOwner  bool
	now           func() int64
	log           *zap.Logger
}

// New builds an empty book for spec.
func New(spec *contract.Spec, opts Options) *Book {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixNano() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Book{
		spec:          spec,
		bids:          newBookSide(spec.NumLevels(), true),
		asks:          newBookSide(spec.NumLevels(), false),
		locations:     make(map[uint64]location, 1024),
		nextOrderID:   1,
		nextTradeID:   1,
		queueCapacity: opts.QueueCapacity,
		enforceOwner:  opts.EnforceCancelOwner,
		now:           opts.Now,
		log:           opts.Logger.With(zap.String("symbol", spec.Symbol)),
	}
}

// Spec returns the contract definition the book trades.
func (b *Book) Spec() *contract.Spec { return b.spec }

// Symbol returns the contract symbol.
func (b *Book) Symbol() string { return b.spec.Symbol }

// LiveOrders returns the count of live resting orders.
func (b *Book) LiveOrders() int { return len(b.locations) }

// MatchOrder crosses req against the opposite side under price-time
// priority, then rests any residual on req's own side.
//
// The returned trades share one timestamp taken at entry and carry
// monotonically increasing trade ids. The confirmation is non-nil iff a
// residual rested. A fresh order id is consumed at entry so the trades
// of a fully matched order still name their aggressor.
//
// On ErrQueueFull the residual is rejected and the book carries no trace
// of the attempted rest; trades executed before the overflow stand.
func (b *Book) MatchOrder(req *model.NewOrderRequest) ([]model.TradeNotification, *model.OrderConfirmation, error) {
	restIdx, ok := b.spec.PriceToIndex(req.Price)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s price %d (tick %d, range %d..%d)",
			ErrPriceOffGrid, b.spec.Symbol, req.Price, b.spec.TickSize, b.spec.MinPrice, b.spec.MaxPrice)
	}

	ts := b.now()
	orderID := b.nextOrderID
	b.nextOrderID++

	remaining := req.Quantity
	var trades []model.TradeNotification

	opp := &b.asks
	if req.Side == model.Sell {
		opp = &b.bids
	}

	for remaining > 0 {
		best := opp.bestIdx
		if best < 0 {
			break
		}
		levelPrice := b.spec.IndexToPrice(best)
		if req.Side == model.Buy {
			if levelPrice > req.Price {
				break
			}
		} else {
			if levelPrice < req.Price {
				break
			}
		}

		lvl := opp.levels[best]
		for remaining > 0 && !lvl.queue.Empty() {
			head := lvl.queue.Front()
			if head.Cancelled {
				// Lazy-cancel reap. The location entry went away when
				// the cancel was accepted; the delete below keeps the
				// pop/delete pairing unconditional.
				reapedID := head.OrderID
				lvl.queue.Pop()
				delete(b.locations, reapedID)
				continue
			}

			tradeQty := min(remaining, head.Quantity)
			trade := model.TradeNotification{
				TradeID:         b.nextTradeID,
				Symbol:          req.Symbol,
				MatchedPrice:    levelPrice,
				MatchedQuantity: tradeQty,
				TimestampNs:     ts,
			}
			b.nextTradeID++
			if req.Side == model.Buy {
				trade.BuyerUserID, trade.BuyerOrderID = req.UserID, orderID
				trade.SellerUserID, trade.SellerOrderID = head.UserID, head.OrderID
			} else {
				trade.BuyerUserID, trade.BuyerOrderID = head.UserID, head.OrderID
				trade.SellerUserID, trade.SellerOrderID = req.UserID, orderID
			}
			if trades == nil {
				trades = make([]model.TradeNotification, 0, 8)
			}
			trades = append(trades, trade)

			head.Quantity -= tradeQty
			lvl.qty -= tradeQty
			remaining -= tradeQty

			if head.Quantity == 0 {
				filledID := head.OrderID
				lvl.queue.Pop()
				lvl.live--
				delete(b.locations, filledID)
			}
		}

		if lvl.live == 0 {
			// Level exhausted (or only cancelled leftovers remain).
			// Ring storage is kept for reuse; the bitmap is the source
			// of truth for occupancy.
			opp.bitmap.Set(best, false)
			opp.refreshBest()
		}
	}

	var conf *model.OrderConfirmation
	if remaining > 0 {
		own := &b.bids
		if req.Side == model.Sell {
			own = &b.asks
		}
		lvl := own.levels[restIdx]
		if lvl == nil {
			lvl = &priceLevel{queue: NewRing[OrderNode](b.queueCapacity)}
			own.levels[restIdx] = lvl
		}
		// A full ring may still start with reapable cancelled nodes.
		for lvl.queue.Full() {
			head := lvl.queue.Front()
			if !head.Cancelled {
				break
			}
			reapedID := head.OrderID
			lvl.queue.Pop()
			delete(b.locations, reapedID)
		}
		if lvl.queue.Full() {
			b.log.Warn("rejecting rest on full price level",
				zap.Uint64("price", req.Price),
				zap.Uint64("order_id", orderID),
				zap.Uint64("residual", remaining),
				zap.Int("capacity", lvl.queue.Cap()))
			return trades, nil, fmt.Errorf("%w: %s price %d capacity %d",
				ErrQueueFull, b.spec.Symbol, req.Price, lvl.queue.Cap())
		}

		lvl.queue.Push(OrderNode{
			OrderID:  orderID,
			UserID:   req.UserID,
			Price:    req.Price,
			Quantity: remaining,
			Side:     req.Side,
		})
		lvl.live++
		lvl.qty += remaining
		own.bitmap.Set(restIdx, true)
		if own.bestIdx < 0 || (own.isBid && restIdx > own.bestIdx) || (!own.isBid && restIdx < own.bestIdx) {
			own.bestIdx = restIdx
		}
		b.locations[orderID] = location{side: req.Side, idx: restIdx}

		conf = &model.OrderConfirmation{
			OrderID:           orderID,
			UserID:            req.UserID,
			Symbol:            req.Symbol,
			Price:             req.Price,
			RemainingQuantity: remaining,
			TimestampNs:       ts,
		}
	}

	return trades, conf, nil
}

// CancelOrder cancels a live resting order: the node is flagged in place
// and its location entry removed immediately, so re-queries fail at once.
// Physical removal happens when the node reaches a ring head during a
// later match or a full-level reap.
func (b *Book) CancelOrder(orderID, userID uint64) error {
	loc, ok := b.locations[orderID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, orderID)
	}

	side := &b.bids
	if loc.side == model.Sell {
		side = &b.asks
	}
	lvl := side.levels[loc.idx]

	var node *OrderNode
	if lvl != nil {
		for i := 0; i < lvl.queue.Len(); i++ {
			n := lvl.queue.At(i)
			if n.OrderID == orderID && !n.Cancelled {
				node = n
				break
			}
		}
	}
	if node == nil {
		// The location table disagreed with the queue. Repair the entry
		// and surface the id as unknown; the state checker will catch a
		// systematic divergence.
		b.log.Error("order location points at a level missing the order",
			zap.Uint64("order_id", orderID),
			zap.String("side", loc.side.String()),
			zap.Int("level", loc.idx))
		delete(b.locations, orderID)
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, orderID)
	}

	if b.enforceOwner && node.UserID != userID {
		return fmt.Errorf("%w: id %d", ErrNotOwner, orderID)
	}

	node.Cancelled = true
	lvl.live--
	lvl.qty -= node.Quantity
	delete(b.locations, orderID)

	if lvl.live == 0 {
		side.bitmap.Set(loc.idx, false)
		side.refreshBest()
	}
	return nil
}

// BestBid returns the highest resting buy price.
func (b *Book) BestBid() (uint64, bool) {
	if b.bids.bestIdx < 0 {
		return 0, false
	}
	return b.spec.IndexToPrice(b.bids.bestIdx), true
}

// BestAsk returns the lowest resting sell price.
func (b *Book) BestAsk() (uint64, bool) {
	if b.asks.bestIdx < 0 {
		return 0, false
	}
	return b.spec.IndexToPrice(b.asks.bestIdx), true
}

// Spread returns best ask minus best bid when both sides are populated.
func (b *Book) Spread() (uint64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask - bid, true
}

// MidPrice returns the integer midpoint of the touch.
func (b *Book) MidPrice() (uint64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// CheckConsistency walks the whole book and verifies the structural
// invariants: bitmap bits mirror live-order presence, cached bests match
// the bitmap extremes, per-level counters match queue contents, and the
// location table indexes exactly the live orders. Intended for tests and
// debug builds; cost is proportional to resting volume.
func (b *Book) CheckConsistency() error {
	liveTotal := 0
	for _, side := range []*bookSide{&b.bids, &b.asks} {
		name := "ask"
		if side.isBid {
			name = "bid"
		}
		for i, lvl := range side.levels {
			live := 0
			var qty uint64
			if lvl != nil {
				for j := 0; j < lvl.queue.Len(); j++ {
					n := lvl.queue.At(j)
					if !n.Cancelled {
						live++
						qty += n.Quantity
					}
				}
				if live != lvl.live {
					return fmt.Errorf("%s level %d: live counter %d, queue holds %d", name, i, lvl.live, live)
				}
				if qty != lvl.qty {
					return fmt.Errorf("%s level %d: qty counter %d, queue holds %d", name, i, lvl.qty, qty)
				}
			}
			if side.bitmap.Get(i) != (live > 0) {
				return fmt.Errorf("%s level %d: bitmap %v with %d live orders", name, i, side.bitmap.Get(i), live)
			}
			liveTotal += live
		}
		var wantBest int
		var okBest bool
		if side.isBid {
			wantBest, okBest = side.bitmap.LastOne()
		} else {
			wantBest, okBest = side.bitmap.FirstOne()
		}
		if okBest {
			if side.bestIdx != wantBest {
				return fmt.Errorf("%s best index %d, bitmap extremum %d", name, side.bestIdx, wantBest)
			}
		} else if side.bestIdx != -1 {
			return fmt.Errorf("%s best index %d on empty side", name, side.bestIdx)
		}
	}
	if liveTotal != len(b.locations) {
		return fmt.Errorf("location table holds %d entries, book holds %d live orders", len(b.locations), liveTotal)
	}
	for id, loc := range b.locations {
		side := &b.bids
		if loc.side == model.Sell {
			side = &b.asks
		}
		lvl := side.levels[loc.idx]
		found := false
		if lvl != nil {
			for j := 0; j < lvl.queue.Len(); j++ {
				if n := lvl.queue.At(j); n.OrderID == id && !n.Cancelled {
					found = true
					break
				}
			}
		}
		if !found {
			return fmt.Errorf("location for order %d points at empty %s level %d", id, loc.side, loc.idx)
		}
	}
	return nil
}
