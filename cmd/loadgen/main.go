// loadgen drives a running gateway with randomized order flow and
// reports throughput and round-trip latency. Buys land at or below the
// midpoint and sells at or above it, so a slice of the flow crosses.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/internal/api"
	"github.com/tickmatch/tickmatch/internal/trading/model"
	"github.com/tickmatch/tickmatch/pkg/logger"
)

type genConfig struct {
	addr      string
	symbol    string
	mid       uint64
	band      uint64
	tick      uint64
	scale     int32
	qtyMax    int
	cancelPct int
}

type totals struct {
	sent      atomic.Int64
	trades    atomic.Int64
	rested    atomic.Int64
	canceled  atomic.Int64
	rejected  atomic.Int64
	latencyNs atomic.Int64
	samples   atomic.Int64
}

// sendRecord carries a command's send time to the reader goroutine,
// which owns the latency bookkeeping.
type sendRecord struct {
	id string
	at time.Time
}

type restingOrder struct {
	orderID uint64
	userID  uint64
}

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:9001", "gateway address")
		clients   = flag.Int("clients", 8, "concurrent client connections")
		duration  = flag.Duration("duration", 10*time.Second, "test duration")
		symbol    = flag.String("symbol", "ESZ5", "contract to trade")
		mid       = flag.Uint64("mid", 500000, "midpoint price in ticks")
		band      = flag.Uint64("band", 250, "half-width of the price band in ticks")
		tick      = flag.Uint64("tick", 25, "tick size; generated prices stay on this grid")
		scale     = flag.Int("scale", 2, "decimal places in display prices")
		qtyMax    = flag.Int("qty-max", 5, "maximum order quantity")
		cancelPct = flag.Int("cancel-pct", 10, "percent of sends that cancel a resting order")
		logLevel  = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	zapLogger, err := logger.NewConsole(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	if *tick == 0 || *band%*tick != 0 {
		zapLogger.Fatal("band must be a multiple of a nonzero tick",
			zap.Uint64("band", *band), zap.Uint64("tick", *tick))
	}
	if *band >= *mid {
		zapLogger.Fatal("band must be narrower than mid",
			zap.Uint64("band", *band), zap.Uint64("mid", *mid))
	}
	if *qtyMax < 1 {
		zapLogger.Fatal("qty-max must be at least 1", zap.Int("qty_max", *qtyMax))
	}

	cfg := genConfig{
		addr:      *addr,
		symbol:    *symbol,
		mid:       *mid,
		band:      *band,
		tick:      *tick,
		scale:     int32(*scale),
		qtyMax:    *qtyMax,
		cancelPct: *cancelPct,
	}

	zapLogger.Info("starting throughput test",
		zap.String("addr", cfg.addr),
		zap.Int("clients", *clients),
		zap.Duration("duration", *duration),
		zap.String("symbol", cfg.symbol))

	stats := &totals{}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(id, cfg, stats, stop, zapLogger)
		}(i)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-time.After(*duration):
	case <-quit:
		zapLogger.Info("interrupted, winding down")
	}
	close(stop)
	wg.Wait()
	elapsed := time.Since(start)

	sent := stats.sent.Load()
	trades := stats.trades.Load()
	var avgLatencyUs float64
	if n := stats.samples.Load(); n > 0 {
		avgLatencyUs = float64(stats.latencyNs.Load()) / float64(n) / 1e3
	}

	fmt.Printf("\n--- results ---\n")
	fmt.Printf("elapsed:          %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("commands sent:    %d (%.0f/s)\n", sent, float64(sent)/elapsed.Seconds())
	fmt.Printf("trades:           %d (%.0f/s)\n", trades, float64(trades)/elapsed.Seconds())
	fmt.Printf("orders rested:    %d\n", stats.rested.Load())
	fmt.Printf("orders canceled:  %d\n", stats.canceled.Load())
	fmt.Printf("rejected:         %d\n", stats.rejected.Load())
	fmt.Printf("avg round trip:   %.1f us\n", avgLatencyUs)
}

func runClient(id int, cfg genConfig, stats *totals, stop <-chan struct{}, zapLogger *zap.Logger) {
	conn, err := net.Dial("tcp", cfg.addr)
	if err != nil {
		zapLogger.Warn("client connect failed", zap.Int("client", id), zap.Error(err))
		return
	}

	times := make(chan sendRecord, 1024)
	resting := make(chan restingOrder, 256)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readResponses(api.NewFrameReader(conn, 0), times, resting, stats)
	}()
	defer func() {
		conn.Close()
		<-readerDone
	}()

	fw := api.NewFrameWriter(conn, 0)
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(id)<<32))
	steps := int64(cfg.band/cfg.tick) + 1
	userID := uint64(id + 1)

	seq := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		seq++
		reqID := strconv.Itoa(id) + "-" + strconv.Itoa(seq)

		var req api.Request
		if cfg.cancelPct > 0 && rng.Intn(100) < cfg.cancelPct {
			select {
			case ro := <-resting:
				req = api.Request{
					Type:      api.MsgCancelOrder,
					RequestID: reqID,
					Cancel: &api.CancelPayload{
						UserID:  ro.userID,
						OrderID: ro.orderID,
						Symbol:  cfg.symbol,
					},
				}
			default:
			}
		}
		if req.Type == "" {
			side := model.Buy
			ticks := cfg.mid - cfg.tick*uint64(rng.Int63n(steps))
			if rng.Intn(2) == 0 {
				side = model.Sell
				ticks = cfg.mid + cfg.tick*uint64(rng.Int63n(steps))
			}
			req = api.Request{
				Type:      api.MsgNewOrder,
				RequestID: reqID,
				Order: &api.OrderPayload{
					UserID:   userID,
					Symbol:   cfg.symbol,
					Side:     side,
					Price:    decimal.New(int64(ticks), -cfg.scale).String(),
					Quantity: uint64(1 + rng.Intn(cfg.qtyMax)),
				},
			}
		}

		at := time.Now()
		if err := fw.WriteJSON(&req); err != nil {
			zapLogger.Debug("client write failed", zap.Int("client", id), zap.Error(err))
			return
		}
		stats.sent.Add(1)
		// Best effort; a full channel just loses one latency sample.
		select {
		case times <- sendRecord{id: reqID, at: at}:
		default:
		}
	}
}

// readResponses consumes every frame the gateway sends back. Latency is
// measured from send to the first frame answering that request id.
func readResponses(fr *api.FrameReader, times <-chan sendRecord, resting chan<- restingOrder, stats *totals) {
	sentAt := make(map[string]time.Time)
	for {
		payload, err := fr.Next()
		if err != nil {
			return
		}
		var res api.Response
		if err := json.Unmarshal(payload, &res); err != nil {
			continue
		}

	drain:
		for {
			select {
			case rec := <-times:
				sentAt[rec.id] = rec.at
			default:
				break drain
			}
		}
		if at, ok := sentAt[res.RequestID]; ok {
			stats.latencyNs.Add(time.Since(at).Nanoseconds())
			stats.samples.Add(1)
			delete(sentAt, res.RequestID)
		}

		switch res.Type {
		case api.MsgTrade:
			stats.trades.Add(1)
		case api.MsgConfirmation:
			stats.rested.Add(1)
			if res.Confirmation != nil {
				select {
				case resting <- restingOrder{orderID: res.Confirmation.OrderID, userID: res.Confirmation.UserID}:
				default:
				}
			}
		case api.MsgCancelAck:
			if res.CancelAck != nil && res.CancelAck.Success {
				stats.canceled.Add(1)
			}
		case api.MsgError:
			stats.rejected.Add(1)
		}
	}
}
