package engine

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/internal/trading/orderbook"
	"github.com/tickmatch/tickmatch/pkg/metrics"
)

// DefaultQueueDepth bounds each shard queue when the config leaves it zero.
const DefaultQueueDepth = 4096

// routeSymbol maps a symbol onto a shard with FNV-1a. The mod runs on
// uint32 so the index stays non-negative on 32-bit platforms.
func routeSymbol(symbol string, partitions int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(partitions))
}

// dispatcher fans commands out to shard workers. Each symbol maps to
// exactly one shard for its whole lifetime, which keeps per-symbol
// command order identical to arrival order.
type dispatcher struct {
	mu   sync.RWMutex
	down bool

	queues      []chan Command
	workers     []*worker
	shardOf     map[string]int
	shardLabels []string

	valid  *Validator
	egress chan<- Output
	log    *zap.Logger
	wg     sync.WaitGroup
}

func newDispatcher(books map[string]*orderbook.Book, partitions, queueDepth int, valid *Validator, sink EventSink, egress chan<- Output, log *zap.Logger) *dispatcher {
	if partitions <= 0 {
		partitions = runtime.NumCPU()
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}

	d := &dispatcher{
		queues:      make([]chan Command, partitions),
		workers:     make([]*worker, partitions),
		shardOf:     make(map[string]int, len(books)),
		shardLabels: make([]string, partitions),
		valid:       valid,
		egress:      egress,
		log:         log,
	}
	for i := 0; i < partitions; i++ {
		d.queues[i] = make(chan Command, queueDepth)
		d.shardLabels[i] = strconv.Itoa(i)
		d.workers[i] = &worker{
			id:     i,
			queue:  d.queues[i],
			books:  make(map[string]*orderbook.Book),
			sink:   sink,
			egress: egress,
			log:    log,
		}
	}
	for sym, book := range books {
		shard := routeSymbol(sym, partitions)
		d.shardOf[sym] = shard
		d.workers[shard].books[sym] = book
	}
	return d
}

func (d *dispatcher) start() {
	for _, w := range d.workers {
		d.wg.Add(1)
		go w.run(&d.wg)
	}
	d.log.Info("dispatcher started",
		zap.Int("partitions", len(d.workers)),
		zap.Int("symbols", len(d.shardOf)))
}

// submit validates and enqueues one command. The enqueue blocks when the
// shard queue is full, so ingress feels backpressure instead of losing
// commands.
func (d *dispatcher) submit(cmd Command) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.down {
		return ErrShuttingDown
	}
	if errOut := d.check(&cmd); errOut != nil {
		d.emitError(errOut)
		d.replyErr(cmd, errOut)
		return errOut
	}
	shard := d.shardOf[cmd.symbol()]
	d.queues[shard] <- cmd
	metrics.ShardQueueDepth.WithLabelValues(d.shardLabels[shard]).Set(float64(len(d.queues[shard])))
	return nil
}

// submitBatch validates every command up front and enqueues nothing on
// the first failure, so admission is all-or-nothing for the batch.
func (d *dispatcher) submitBatch(cmds []Command) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.down {
		return ErrShuttingDown
	}
	for i := range cmds {
		if errOut := d.check(&cmds[i]); errOut != nil {
			d.emitError(errOut)
			d.replyErr(cmds[i], errOut)
			return errOut
		}
	}
	for i := range cmds {
		shard := d.shardOf[cmds[i].symbol()]
		d.queues[shard] <- cmds[i]
		metrics.ShardQueueDepth.WithLabelValues(d.shardLabels[shard]).Set(float64(len(d.queues[shard])))
	}
	return nil
}

// check runs ingress validation and routing lookups. A nil return means
// the command may be enqueued.
func (d *dispatcher) check(cmd *Command) *Error {
	switch cmd.Type {
	case CmdNewOrder:
		if ve := d.valid.ValidateOrder(cmd.Order); ve != nil {
			metrics.OrdersTotal.WithLabelValues(cmd.Order.Side.String(), "rejected").Inc()
			return &Error{RequestID: cmd.RequestID, Kind: KindValidation, Message: ve.Error()}
		}
	case CmdCancelOrder:
		if ve := d.valid.ValidateCancel(cmd.Cancel); ve != nil {
			metrics.CancelsTotal.WithLabelValues("rejected").Inc()
			return &Error{RequestID: cmd.RequestID, Kind: KindValidation, Message: ve.Error()}
		}
	}
	if _, ok := d.shardOf[cmd.symbol()]; !ok {
		return &Error{RequestID: cmd.RequestID, Kind: KindUnroutable,
			Message: fmt.Sprintf("no book provisioned for symbol %q", cmd.symbol())}
	}
	return nil
}

// shutdown stops intake, then stops each worker with a sentinel that
// lands behind everything already queued. Blocks until all workers exit,
// so every admitted command has produced its outputs on return.
func (d *dispatcher) shutdown() {
	d.mu.Lock()
	if d.down {
		d.mu.Unlock()
		return
	}
	d.down = true
	d.mu.Unlock()

	for _, q := range d.queues {
		q <- Command{Type: CmdShutdown}
	}
	d.wg.Wait()
	d.log.Info("dispatcher drained")
}

func (d *dispatcher) emitError(errOut *Error) {
	d.egress <- Output{Type: OutputError, Err: errOut}
}

func (d *dispatcher) replyErr(cmd Command, errOut *Error) {
	if cmd.Reply == nil {
		return
	}
	select {
	case cmd.Reply <- Result{Err: errOut}:
	default:
	}
}

func (d *dispatcher) queueDepths() []int {
	depths := make([]int, len(d.queues))
	for i, q := range d.queues {
		depths[i] = len(q)
	}
	return depths
}

func (d *dispatcher) stats() (processed, matched, rejected int64) {
	for _, w := range d.workers {
		p, m, r := w.stats()
		processed += p
		matched += m
		rejected += r
	}
	return processed, matched, rejected
}
