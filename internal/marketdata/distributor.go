package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/internal/trading/engine"
)

// Distributor drains the engine egress. Trades go to the websocket hub
// and, when configured, to kafka; terminal order outputs are private to
// the submitting session and only counted here.
type Distributor struct {
	hub *Hub
	pub *Publisher
	log *zap.Logger

	trades  atomic.Int64
	dropped atomic.Int64
}

// NewDistributor wires the feed sinks. pub may be nil to run without
// kafka.
func NewDistributor(hub *Hub, pub *Publisher, logger *zap.Logger) *Distributor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distributor{hub: hub, pub: pub, log: logger}
}

// Run consumes outputs until the channel closes. It must keep up with
// the engine: run it before Start and keep it running through Stop so
// the drain cannot stall on a full egress buffer.
func (d *Distributor) Run(outputs <-chan engine.Output) {
	for out := range outputs {
		if out.Type != engine.OutputTrade {
			continue
		}
		tick := TickFromTrade(out.Trade)
		data, err := json.Marshal(tick)
		if err != nil {
			d.dropped.Add(1)
			d.log.Error("trade tick marshal failed", zap.Uint64("trade_id", tick.TradeID), zap.Error(err))
			continue
		}
		d.hub.Broadcast(TradeTopic(tick.Symbol), data)
		d.trades.Add(1)

		if d.pub != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := d.pub.PublishTrade(ctx, &tick); err != nil {
				d.dropped.Add(1)
				// While the breaker is open every print would log; the
				// dropped counter carries that signal instead.
				if !errors.Is(err, ErrFeedSuspended) {
					d.log.Error("trade tick publish failed", zap.Uint64("trade_id", tick.TradeID), zap.Error(err))
				}
			}
			cancel()
		}
	}
	d.log.Info("feed distributor drained",
		zap.Int64("trades", d.trades.Load()),
		zap.Int64("dropped", d.dropped.Load()))
}

// Trades reports how many prints have been distributed.
func (d *Distributor) Trades() int64 {
	return d.trades.Load()
}
