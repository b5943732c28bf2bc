package engine

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/pkg/metrics"
)

// DefaultSampleInterval is the Monitor sampling period when the caller
// passes zero.
const DefaultSampleInterval = 5 * time.Second

// Monitor periodically samples engine counters into the Prometheus
// gauges and derives a commands-per-second rate over the sampling
// window. The submit path only touches its shard gauge when a command
// passes through; the monitor keeps the gauges honest for idle shards
// and draining queues.
type Monitor struct {
	eng      *Engine
	interval time.Duration
	log      *zap.Logger

	// throughput is the last window's rate in commands/sec, stored
	// whole. Written by the sampler goroutine, read by anyone.
	throughput atomic.Int64

	lastProcessed int64
	lastSample    time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewMonitor builds a monitor over eng. Start launches it.
func NewMonitor(eng *Engine, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		eng:      eng,
		interval: interval,
		log:      logger,
		done:     make(chan struct{}),
	}
}

// Start launches the sampling goroutine.
func (m *Monitor) Start() {
	m.lastSample = time.Now()
	m.lastProcessed = m.eng.Stats().Processed
	go m.run()
}

// Stop ends sampling. The last published gauge values stand.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Throughput returns the commands/sec rate observed over the most
// recent completed window.
func (m *Monitor) Throughput() int64 {
	return m.throughput.Load()
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	st := m.eng.Stats()
	for shard, depth := range st.QueueDepths {
		metrics.ShardQueueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(depth))
	}

	now := time.Now()
	elapsed := now.Sub(m.lastSample).Seconds()
	if elapsed > 0 {
		rate := int64(float64(st.Processed-m.lastProcessed) / elapsed)
		m.throughput.Store(rate)
		metrics.EngineThroughput.Set(float64(rate))
	}
	m.lastProcessed = st.Processed
	m.lastSample = now

	m.log.Debug("engine sample",
		zap.Int64("processed", st.Processed),
		zap.Int64("matched", st.Matched),
		zap.Int64("rejected", st.Rejected),
		zap.Int64("throughput", m.throughput.Load()),
		zap.Ints("queue_depths", st.QueueDepths))
}
