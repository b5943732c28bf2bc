// Package eventjournal persists engine commands and fills as an
// append-only JSONL write-ahead log. Commands are journaled before the
// book applies them, so replaying the log in order rebuilds the books
// and their id sequences exactly.
package eventjournal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/internal/trading/model"
	"github.com/tickmatch/tickmatch/pkg/metrics"
)

// Journaled event types.
const (
	EventOrderReceived  = "ORDER_RECEIVED"
	EventCancelReceived = "CANCEL_RECEIVED"
	EventTradeExecuted  = "TRADE_EXECUTED"
)

// Event is one journal line. Data holds the type-specific payload:
// a new-order request, a cancel request, or a trade notification.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	TimestampNs int64           `json:"timestamp_ns"`
	Type        string          `json:"type"`
	Symbol      string          `json:"symbol"`
	Data        json.RawMessage `json:"data"`
}

// Journal appends events to a single file. Safe for concurrent use;
// shard workers append independently.
type Journal struct {
	path string
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	log  *zap.Logger
	now  func() int64
}

// Open creates or opens the journal file at path, creating parent
// directories as needed.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	return &Journal{
		path: path,
		file: f,
		w:    bufio.NewWriter(f),
		log:  logger,
		now:  func() int64 { return time.Now().UnixNano() },
	}, nil
}

// OrderReceived journals an incoming order before the book applies it.
func (j *Journal) OrderReceived(req *model.NewOrderRequest) error {
	return j.append(EventOrderReceived, req.Symbol, req)
}

// CancelReceived journals an incoming cancel before the book applies it.
func (j *Journal) CancelReceived(req *model.CancelOrderRequest) error {
	return j.append(EventCancelReceived, req.Symbol, req)
}

// TradeExecuted journals a fill after it is final. Replay skips these;
// trades are recomputed from the command stream.
func (j *Journal) TradeExecuted(trade *model.TradeNotification) error {
	return j.append(EventTradeExecuted, trade.Symbol, trade)
}

func (j *Journal) append(eventType, symbol string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	line, err := json.Marshal(Event{
		ID:          uuid.New(),
		TimestampNs: j.now(),
		Type:        eventType,
		Symbol:      symbol,
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("journal %s is closed", j.path)
	}
	if _, err := j.w.Write(line); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	// Flush per event so a crash loses at most the in-flight command.
	if err := j.w.Flush(); err != nil {
		return err
	}
	metrics.JournalEvents.WithLabelValues(eventType).Inc()
	return nil
}

// Replay streams every journaled event to fn in write order. Lines that
// do not parse are counted and skipped; an fn error aborts the replay.
func (j *Journal) Replay(fn func(*Event) error) error {
	j.mu.Lock()
	if j.w != nil {
		if err := j.w.Flush(); err != nil {
			j.mu.Unlock()
			return fmt.Errorf("flush before replay: %w", err)
		}
	}
	j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open journal for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	events := 0
	corrupt := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			corrupt++
			j.log.Warn("skipping corrupt journal line",
				zap.Int("line", events+corrupt),
				zap.Error(err))
			continue
		}
		events++
		if err := fn(&ev); err != nil {
			return fmt.Errorf("replay handler at event %d: %w", events, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	j.log.Info("journal replayed",
		zap.String("path", j.path),
		zap.Int("events", events),
		zap.Int("corrupt", corrupt))
	return nil
}

// Flush forces buffered events to the OS.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return nil
	}
	return j.w.Flush()
}

// Close flushes and closes the journal file. Appends after Close fail.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	flushErr := j.w.Flush()
	closeErr := j.file.Close()
	j.file = nil
	j.w = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.path
}
