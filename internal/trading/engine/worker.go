package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/internal/trading/model"
	"github.com/tickmatch/tickmatch/internal/trading/orderbook"
	"github.com/tickmatch/tickmatch/pkg/metrics"
)

// EventSink receives durable events in commit order. OrderReceived and
// CancelReceived fire before the book applies the command, TradeExecuted
// after the fill is final. Implementations must be safe for concurrent
// use; shards append independently.
type EventSink interface {
	OrderReceived(req *model.NewOrderRequest) error
	CancelReceived(req *model.CancelOrderRequest) error
	TradeExecuted(trade *model.TradeNotification) error
}

// worker owns the books of one shard. Every access to those books runs
// on the worker goroutine, so the books need no locks.
type worker struct {
	id     int
	queue  chan Command
	books  map[string]*orderbook.Book
	sink   EventSink
	egress chan<- Output
	log    *zap.Logger

	processed atomic.Int64
	matched   atomic.Int64
	rejected  atomic.Int64
}

// run drains the shard queue until the shutdown sentinel arrives. The
// queue is never closed; the sentinel is the only exit.
func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for cmd := range w.queue {
		if cmd.Type == CmdShutdown {
			w.log.Debug("shard worker stopping",
				zap.Int("worker", w.id),
				zap.Int64("processed", w.processed.Load()))
			return
		}
		w.handle(cmd)
	}
}

func (w *worker) handle(cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker recovered from panic",
				zap.Int("worker", w.id),
				zap.Stringer("command", cmd.Type),
				zap.Any("panic", r))
			errOut := &Error{RequestID: cmd.RequestID, Kind: KindInternal, Message: fmt.Sprint(r)}
			w.emit(Output{Type: OutputError, Err: errOut})
			w.reply(cmd, Result{Err: errOut})
		}
	}()

	w.processed.Add(1)
	switch cmd.Type {
	case CmdNewOrder:
		w.handleOrder(cmd)
	case CmdCancelOrder:
		w.handleCancel(cmd)
	case CmdDepth:
		w.handleDepth(cmd)
	default:
		w.fail(cmd, KindInternal, fmt.Sprintf("unhandled command type %d", cmd.Type))
	}
}

func (w *worker) handleOrder(cmd Command) {
	req := cmd.Order
	book, ok := w.books[req.Symbol]
	if !ok {
		w.fail(cmd, KindUnroutable, fmt.Sprintf("no book for symbol %q", req.Symbol))
		return
	}
	if w.sink != nil {
		if err := w.sink.OrderReceived(req); err != nil {
			w.log.Error("journal append failed", zap.String("symbol", req.Symbol), zap.Error(err))
		}
	}

	start := time.Now()
	trades, conf, err := book.MatchOrder(req)
	metrics.MatchLatency.Observe(time.Since(start).Seconds())

	// Trades are final even when the residue failed to rest, so they
	// go out ahead of any terminal error.
	for i := range trades {
		t := &trades[i]
		if w.sink != nil {
			if jerr := w.sink.TradeExecuted(t); jerr != nil {
				w.log.Error("journal append failed", zap.String("symbol", t.Symbol), zap.Error(jerr))
			}
		}
		metrics.TradesTotal.WithLabelValues(t.Symbol).Inc()
		w.matched.Add(1)
		w.emit(Output{Type: OutputTrade, Trade: t})
	}
	metrics.RestingOrders.WithLabelValues(req.Symbol).Set(float64(book.LiveOrders()))

	if err != nil {
		kind := KindInternal
		result := "rejected"
		switch {
		case errors.Is(err, orderbook.ErrPriceOffGrid):
			kind = KindValidation
		case errors.Is(err, orderbook.ErrQueueFull):
			kind = KindQueueOverflow
			result = "overflow"
		}
		w.rejected.Add(1)
		metrics.OrdersTotal.WithLabelValues(req.Side.String(), result).Inc()
		errOut := &Error{RequestID: cmd.RequestID, Kind: kind, Message: err.Error()}
		w.emit(Output{Type: OutputError, Err: errOut})
		w.reply(cmd, Result{Trades: trades, Err: errOut})
		return
	}

	if conf != nil {
		metrics.OrdersTotal.WithLabelValues(req.Side.String(), "confirmed").Inc()
		w.emit(Output{Type: OutputConfirmation, Confirmation: conf})
	} else {
		metrics.OrdersTotal.WithLabelValues(req.Side.String(), "filled").Inc()
	}
	w.reply(cmd, Result{Trades: trades, Confirmation: conf})
}

func (w *worker) handleCancel(cmd Command) {
	req := cmd.Cancel
	book, ok := w.books[req.Symbol]
	if !ok {
		w.fail(cmd, KindUnroutable, fmt.Sprintf("no book for symbol %q", req.Symbol))
		return
	}
	if w.sink != nil {
		if err := w.sink.CancelReceived(req); err != nil {
			w.log.Error("journal append failed", zap.String("symbol", req.Symbol), zap.Error(err))
		}
	}

	ack := &CancelAck{OrderID: req.OrderID, Success: true}
	outcome := "ok"
	switch err := book.CancelOrder(req.OrderID, req.UserID); {
	case err == nil:
	case errors.Is(err, orderbook.ErrOrderNotFound):
		ack.Success = false
		ack.Reason = "not found"
		outcome = "not_found"
	case errors.Is(err, orderbook.ErrNotOwner):
		ack.Success = false
		ack.Reason = "not owner"
		outcome = "rejected"
	default:
		w.fail(cmd, KindInternal, err.Error())
		return
	}
	metrics.CancelsTotal.WithLabelValues(outcome).Inc()
	metrics.RestingOrders.WithLabelValues(req.Symbol).Set(float64(book.LiveOrders()))
	w.emit(Output{Type: OutputCancelAck, CancelAck: ack})
	w.reply(cmd, Result{CancelAck: ack})
}

func (w *worker) handleDepth(cmd Command) {
	book, ok := w.books[cmd.Symbol]
	if !ok {
		w.fail(cmd, KindUnroutable, fmt.Sprintf("no book for symbol %q", cmd.Symbol))
		return
	}
	w.reply(cmd, Result{Depth: book.Depth(cmd.DepthLevels)})
}

func (w *worker) fail(cmd Command, kind ErrorKind, msg string) {
	w.rejected.Add(1)
	errOut := &Error{RequestID: cmd.RequestID, Kind: kind, Message: msg}
	w.emit(Output{Type: OutputError, Err: errOut})
	w.reply(cmd, Result{Err: errOut})
}

// emit blocks until the egress consumer drains, so backpressure reaches
// the shard queue instead of dropping outputs.
func (w *worker) emit(out Output) {
	w.egress <- out
}

// reply never blocks. Reply channels are buffered for one result; any
// second result for the same command is dropped.
func (w *worker) reply(cmd Command, res Result) {
	if cmd.Reply == nil {
		return
	}
	select {
	case cmd.Reply <- res:
	default:
	}
}

func (w *worker) stats() (processed, matched, rejected int64) {
	return w.processed.Load(), w.matched.Load(), w.rejected.Load()
}
