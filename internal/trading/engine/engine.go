// Package engine hosts the sharded matching engine. Symbols are hashed
// onto partitions; each partition runs one worker goroutine that owns its
// books outright, so matching itself never takes a lock.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/internal/trading/contract"
	"github.com/tickmatch/tickmatch/internal/trading/eventjournal"
	"github.com/tickmatch/tickmatch/internal/trading/model"
	"github.com/tickmatch/tickmatch/internal/trading/orderbook"
)

// DefaultEgressBuffer bounds the egress channel when the config leaves
// it zero.
const DefaultEgressBuffer = 8192

// Config tunes the engine. Zero fields fall back to defaults.
type Config struct {
	// Partitions is the shard worker count; 0 means one per CPU.
	Partitions int `mapstructure:"partitions"`
	// QueueDepth bounds each shard's command queue.
	QueueDepth int `mapstructure:"queue_depth"`
	// QueueCapacity is the default per-level ring size for books whose
	// contract does not set its own.
	QueueCapacity int `mapstructure:"queue_capacity"`
	// EgressBuffer bounds the output channel.
	EgressBuffer int `mapstructure:"egress_buffer"`

	Validation ValidationConfig `mapstructure:"validation"`

	// Now supplies nanosecond timestamps to the books. Defaults to the
	// wall clock.
	Now func() int64 `mapstructure:"-"`
}

// BookSpec pairs a contract with its per-level queue capacity. A zero
// capacity falls back to Config.QueueCapacity.
type BookSpec struct {
	Contract      *contract.Spec
	QueueCapacity int
}

// Stats is a point-in-time engine snapshot.
type Stats struct {
	Running     bool  `json:"running"`
	Symbols     int   `json:"symbols"`
	Partitions  int   `json:"partitions"`
	Processed   int64 `json:"processed"`
	Matched     int64 `json:"matched"`
	Rejected    int64 `json:"rejected"`
	QueueDepths []int `json:"queue_depths"`
}

// Engine is the public face of the matching core.
type Engine struct {
	cfg   Config
	log   *zap.Logger
	sink  EventSink
	valid *Validator

	mu        sync.RWMutex
	isRunning bool
	stopped   bool
	books     map[string]*orderbook.Book
	disp      *dispatcher
	egress    chan Output
}

// New builds an engine over the given contracts. sink may be nil to run
// without a journal. The engine does not process commands until Start.
func New(cfg Config, specs []BookSpec, sink EventSink, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = orderbook.DefaultQueueCapacity
	}
	if cfg.EgressBuffer <= 0 {
		cfg.EgressBuffer = DefaultEgressBuffer
	}

	e := &Engine{
		cfg:    cfg,
		log:    logger,
		sink:   sink,
		valid:  NewValidator(cfg.Validation),
		books:  make(map[string]*orderbook.Book, len(specs)),
		egress: make(chan Output, cfg.EgressBuffer),
	}
	for _, bs := range specs {
		if err := e.addBook(bs); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddContract provisions a book for a new contract. Only legal before
// Start; the symbol-to-shard map is frozen once workers run.
func (e *Engine) AddContract(bs BookSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isRunning {
		return fmt.Errorf("cannot add contract %q to a running engine", bs.Contract.Symbol)
	}
	return e.addBook(bs)
}

func (e *Engine) addBook(bs BookSpec) error {
	if bs.Contract == nil {
		return fmt.Errorf("book spec without a contract")
	}
	sym := bs.Contract.Symbol
	if _, dup := e.books[sym]; dup {
		return fmt.Errorf("duplicate contract %q", sym)
	}
	capacity := bs.QueueCapacity
	if capacity <= 0 {
		capacity = e.cfg.QueueCapacity
	}
	e.books[sym] = orderbook.New(bs.Contract, orderbook.Options{
		QueueCapacity:      capacity,
		EnforceCancelOwner: e.cfg.Validation.EnforceCancelOwner,
		Now:                e.cfg.Now,
		Logger:             e.log,
	})
	return nil
}

// Restore replays journaled commands into the books. Trades produced
// during replay are recomputed and discarded, which also restores the
// order and trade id sequences. Must run before Start. Returns the
// number of commands applied.
func (e *Engine) Restore(j *eventjournal.Journal) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isRunning {
		return 0, fmt.Errorf("cannot restore a running engine")
	}

	applied := 0
	err := j.Replay(func(ev *eventjournal.Event) error {
		switch ev.Type {
		case eventjournal.EventOrderReceived:
			var req model.NewOrderRequest
			if err := json.Unmarshal(ev.Data, &req); err != nil {
				return fmt.Errorf("decode order event: %w", err)
			}
			book, ok := e.books[req.Symbol]
			if !ok {
				e.log.Warn("replayed order for unprovisioned symbol", zap.String("symbol", req.Symbol))
				return nil
			}
			if _, _, err := book.MatchOrder(&req); err != nil {
				e.log.Warn("replayed order rejected",
					zap.String("symbol", req.Symbol),
					zap.Uint64("price", req.Price),
					zap.Error(err))
			}
			applied++
		case eventjournal.EventCancelReceived:
			var req model.CancelOrderRequest
			if err := json.Unmarshal(ev.Data, &req); err != nil {
				return fmt.Errorf("decode cancel event: %w", err)
			}
			book, ok := e.books[req.Symbol]
			if !ok {
				return nil
			}
			// A failed replayed cancel just means the order had already
			// traded away before the cancel was journaled.
			if err := book.CancelOrder(req.OrderID, req.UserID); err == nil {
				applied++
			}
		}
		return nil
	})
	if err != nil {
		return applied, err
	}
	e.log.Info("journal replay complete", zap.Int("applied", applied))
	return applied, nil
}

// Start launches the shard workers. The symbol set is frozen from here on.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return fmt.Errorf("engine is already running")
	}
	if e.stopped {
		return fmt.Errorf("engine cannot restart after Stop")
	}

	e.disp = newDispatcher(e.books, e.cfg.Partitions, e.cfg.QueueDepth, e.valid, e.sink, e.egress, e.log)
	e.disp.start()
	e.isRunning = true
	e.log.Info("matching engine started",
		zap.Int("symbols", len(e.books)),
		zap.Int("partitions", len(e.disp.workers)))
	return nil
}

// Stop rejects new submissions, drains every shard queue, then closes
// the egress channel. The caller must keep consuming Outputs until it
// closes or draining can deadlock on a full egress buffer.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine is not running")
	}
	e.isRunning = false
	e.stopped = true
	disp := e.disp
	e.mu.Unlock()

	disp.shutdown()
	close(e.egress)
	e.log.Info("matching engine stopped")
	return nil
}

// Outputs is the engine egress: trades, confirmations, cancel acks, and
// errors, in commit order per shard. Closed by Stop after the drain.
func (e *Engine) Outputs() <-chan Output {
	return e.egress
}

// dispatcher returns the live dispatcher or ErrNotRunning.
func (e *Engine) dispatcherRef() (*dispatcher, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.isRunning {
		return nil, ErrNotRunning
	}
	return e.disp, nil
}

// SubmitOrder enqueues a new order without waiting for its result. An
// empty requestID gets a generated one; the id tags any terminal error
// on the egress channel.
func (e *Engine) SubmitOrder(requestID string, req *model.NewOrderRequest) error {
	disp, err := e.dispatcherRef()
	if err != nil {
		return err
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return disp.submit(Command{Type: CmdNewOrder, RequestID: requestID, Order: req})
}

// SubmitOrderWait enqueues a new order and blocks for its Result. When
// ctx expires first the command still executes; its result is dropped.
func (e *Engine) SubmitOrderWait(ctx context.Context, requestID string, req *model.NewOrderRequest) (Result, error) {
	disp, err := e.dispatcherRef()
	if err != nil {
		return Result{}, err
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	reply := make(chan Result, 1)
	if err := disp.submit(Command{Type: CmdNewOrder, RequestID: requestID, Order: req, Reply: reply}); err != nil {
		return Result{}, err
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-reply:
		if res.Err != nil {
			return res, res.Err
		}
		return res, nil
	}
}

// CancelOrder enqueues a cancel without waiting for its ack.
func (e *Engine) CancelOrder(requestID string, req *model.CancelOrderRequest) error {
	disp, err := e.dispatcherRef()
	if err != nil {
		return err
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return disp.submit(Command{Type: CmdCancelOrder, RequestID: requestID, Cancel: req})
}

// CancelOrderWait enqueues a cancel and blocks for its ack. A lookup
// miss is reported in the ack, not as an error.
func (e *Engine) CancelOrderWait(ctx context.Context, requestID string, req *model.CancelOrderRequest) (Result, error) {
	disp, err := e.dispatcherRef()
	if err != nil {
		return Result{}, err
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	reply := make(chan Result, 1)
	if err := disp.submit(Command{Type: CmdCancelOrder, RequestID: requestID, Cancel: req, Reply: reply}); err != nil {
		return Result{}, err
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-reply:
		if res.Err != nil {
			return res, res.Err
		}
		return res, nil
	}
}

// Submit enqueues a fully formed command. Callers that need the result
// attach a Reply channel buffered for one Result; outputs also reach the
// egress channel as usual. This is the pipelining entry point: submission
// order per symbol is processing order, and the caller collects replies
// at its own pace.
func (e *Engine) Submit(cmd Command) error {
	disp, err := e.dispatcherRef()
	if err != nil {
		return err
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	return disp.submit(cmd)
}

// SubmitBatch enqueues a slice of orders with all-or-nothing admission:
// every request is validated before any is enqueued.
func (e *Engine) SubmitBatch(reqs []*model.NewOrderRequest) error {
	disp, err := e.dispatcherRef()
	if err != nil {
		return err
	}
	cmds := make([]Command, len(reqs))
	for i, req := range reqs {
		cmds[i] = Command{Type: CmdNewOrder, RequestID: uuid.NewString(), Order: req}
	}
	return disp.submitBatch(cmds)
}

// Depth fetches a book snapshot through the owning worker, so it sees a
// consistent state without locking the book. levels <= 0 means all.
func (e *Engine) Depth(ctx context.Context, symbol string, levels int) (*orderbook.DepthSnapshot, error) {
	disp, err := e.dispatcherRef()
	if err != nil {
		return nil, err
	}
	reply := make(chan Result, 1)
	cmd := Command{Type: CmdDepth, RequestID: uuid.NewString(), Symbol: symbol, DepthLevels: levels, Reply: reply}
	if err := disp.submit(cmd); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-reply:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Depth, nil
	}
}

// Symbols lists the provisioned contracts.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	syms := make([]string, 0, len(e.books))
	for sym := range e.books {
		syms = append(syms, sym)
	}
	return syms
}

// Stats snapshots engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Stats{
		Running: e.isRunning,
		Symbols: len(e.books),
	}
	if e.disp != nil {
		st.Partitions = len(e.disp.workers)
		st.Processed, st.Matched, st.Rejected = e.disp.stats()
		st.QueueDepths = e.disp.queueDepths()
	}
	return st
}
