package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/internal/trading/engine"
	"github.com/tickmatch/tickmatch/internal/trading/model"
	"github.com/tickmatch/tickmatch/internal/trading/orderbook"
	"github.com/tickmatch/tickmatch/pkg/metrics"
)

// GatewayConfig tunes the TCP order-entry listener.
type GatewayConfig struct {
	// Addr is the listen address, host:port.
	Addr string
	// MaxFrameBytes bounds one wire frame in both directions.
	MaxFrameBytes int
	// IdleTimeout closes connections with no inbound frame for this
	// long. Zero disables the timeout.
	IdleTimeout time.Duration
	// PendingDepth bounds commands in flight per connection; the reader
	// stalls when the client outruns its responses this far.
	PendingDepth int
}

func (c *GatewayConfig) defaults() {
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if c.PendingDepth <= 0 {
		c.PendingDepth = 256
	}
}

// drainTimeout bounds how long a stopping gateway waits on a client
// that is not reading its responses.
const drainTimeout = 2 * time.Second

// Gateway accepts order-entry connections and bridges them onto the
// engine. Each connection runs one reader feeding the engine in arrival
// order and one responder writing results back in that same order, so a
// client may pipeline commands and still correlate frames by position
// as well as by request id.
type Gateway struct {
	cfg  GatewayConfig
	eng  *engine.Engine
	conv *PriceConverter
	log  *zap.Logger

	lis      net.Listener
	sessions sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewGateway wires a gateway; Start makes it listen.
func NewGateway(cfg GatewayConfig, eng *engine.Engine, conv *PriceConverter, logger *zap.Logger) *Gateway {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:   cfg,
		eng:   eng,
		conv:  conv,
		log:   logger,
		done:  make(chan struct{}),
		conns: make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and begins accepting connections.
func (g *Gateway) Start() error {
	lis, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", g.cfg.Addr, err)
	}
	g.lis = lis
	g.log.Info("order gateway listening", zap.String("addr", lis.Addr().String()))
	go g.acceptLoop()
	return nil
}

// Addr returns the bound listen address. Nil before Start.
func (g *Gateway) Addr() net.Addr {
	if g.lis == nil {
		return nil
	}
	return g.lis.Addr()
}

func (g *Gateway) acceptLoop() {
	for {
		conn, err := g.lis.Accept()
		if err != nil {
			select {
			case <-g.done:
				return
			default:
			}
			g.log.Warn("gateway accept failed", zap.Error(err))
			continue
		}
		if !g.track(conn) {
			continue
		}
		g.sessions.Add(1)
		s := newSession(g, conn)
		go s.serve()
	}
}

func (g *Gateway) track(conn net.Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		conn.Close()
		return false
	}
	g.conns[conn] = struct{}{}
	return true
}

func (g *Gateway) untrack(conn net.Conn) {
	g.mu.Lock()
	delete(g.conns, conn)
	g.mu.Unlock()
}

// Stop closes the listener, interrupts every session's read side, and
// waits for the sessions to wind down. Commands already submitted keep
// flowing; each session flushes its pending replies before it exits,
// under drainTimeout per write.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
		if g.lis != nil {
			g.lis.Close()
		}
		g.mu.Lock()
		g.closed = true
		for conn := range g.conns {
			conn.SetWriteDeadline(time.Now().Add(drainTimeout))
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.CloseRead()
			} else {
				conn.Close()
			}
		}
		g.mu.Unlock()
	})
	g.sessions.Wait()
	g.log.Info("order gateway stopped")
}

// requestPool recycles decode envelopes; the payload fields are copied
// into engine commands before the envelope goes back.
var requestPool = sync.Pool{
	New: func() any { return new(Request) },
}

// pendingItem is one command's slot in a session's response order.
// Either frames is pre-built (pong, local rejections) or await delivers
// the engine Result to convert.
type pendingItem struct {
	requestID string
	frames    []Response
	await     chan engine.Result
}

type session struct {
	gw      *Gateway
	conn    net.Conn
	fr      *FrameReader
	fw      *FrameWriter
	pending chan pendingItem
	log     *zap.Logger
}

func newSession(g *Gateway, conn net.Conn) *session {
	return &session{
		gw:      g,
		conn:    conn,
		fr:      NewFrameReader(conn, g.cfg.MaxFrameBytes),
		fw:      NewFrameWriter(conn, g.cfg.MaxFrameBytes),
		pending: make(chan pendingItem, g.cfg.PendingDepth),
		log:     g.log.With(zap.String("session", uuid.NewString()), zap.String("remote", conn.RemoteAddr().String())),
	}
}

func (s *session) serve() {
	defer s.gw.sessions.Done()
	metrics.GatewayConns.Inc()
	defer metrics.GatewayConns.Dec()
	s.log.Debug("gateway session opened")

	var writers sync.WaitGroup
	writers.Add(1)
	go func() {
		defer writers.Done()
		s.writeLoop()
	}()

	s.readLoop()
	close(s.pending)
	writers.Wait()
	s.conn.Close()
	s.gw.untrack(s.conn)
	s.log.Debug("gateway session closed")
}

func (s *session) readLoop() {
	for {
		if s.gw.cfg.IdleTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.gw.cfg.IdleTimeout))
		}
		payload, err := s.fr.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosedConn(err) {
				s.log.Warn("gateway read failed", zap.Error(err))
			}
			return
		}

		req := requestPool.Get().(*Request)
		*req = Request{}
		item := s.dispatch(payload, req)
		requestPool.Put(req)
		select {
		case s.pending <- item:
		case <-s.gw.done:
			return
		}
	}
}

// dispatch decodes one inbound frame and hands it to the engine. The
// returned item holds the command's place in the response order.
func (s *session) dispatch(payload []byte, req *Request) pendingItem {
	if err := json.Unmarshal(payload, req); err != nil {
		s.log.Debug("gateway frame rejected", zap.Error(err))
		return localError(req.RequestID, engine.KindValidation, "malformed frame: "+err.Error())
	}

	switch req.Type {
	case MsgPing:
		return pendingItem{
			requestID: req.RequestID,
			frames:    []Response{{Type: MsgPong, RequestID: req.RequestID}},
		}

	case MsgNewOrder:
		if req.Order == nil {
			return localError(req.RequestID, engine.KindValidation, "new_order frame without an order")
		}
		price, err := s.gw.conv.ParseTicks(req.Order.Symbol, req.Order.Price)
		if err != nil {
			return localError(req.RequestID, engine.KindValidation, err.Error())
		}
		order := &model.NewOrderRequest{
			UserID:   req.Order.UserID,
			Symbol:   orderbook.Intern(req.Order.Symbol),
			Side:     req.Order.Side,
			Price:    price,
			Quantity: req.Order.Quantity,
		}
		return s.submit(engine.Command{Type: engine.CmdNewOrder, RequestID: req.RequestID, Order: order})

	case MsgCancelOrder:
		if req.Cancel == nil {
			return localError(req.RequestID, engine.KindValidation, "cancel_order frame without a cancel")
		}
		cancel := &model.CancelOrderRequest{
			UserID:  req.Cancel.UserID,
			OrderID: req.Cancel.OrderID,
			Symbol:  orderbook.Intern(req.Cancel.Symbol),
		}
		return s.submit(engine.Command{Type: engine.CmdCancelOrder, RequestID: req.RequestID, Cancel: cancel})

	case MsgDepth:
		return s.submit(engine.Command{
			Type:        engine.CmdDepth,
			RequestID:   req.RequestID,
			Symbol:      orderbook.Intern(req.Symbol),
			DepthLevels: req.Levels,
		})

	default:
		return localError(req.RequestID, engine.KindValidation, fmt.Sprintf("unknown message type %q", req.Type))
	}
}

// submit enqueues cmd with a reply slot. Submission failures become the
// command's terminal frame; the dispatcher has already published them on
// the egress channel where that applies.
func (s *session) submit(cmd engine.Command) pendingItem {
	reply := make(chan engine.Result, 1)
	cmd.Reply = reply
	if err := s.gw.eng.Submit(cmd); err != nil {
		return pendingItem{requestID: cmd.RequestID, frames: []Response{errorResponse(cmd.RequestID, err)}}
	}
	return pendingItem{requestID: cmd.RequestID, await: reply}
}

// writeLoop drains pending items in submission order. After a write
// failure it keeps draining so in-flight replies are collected, but
// writes nothing further.
func (s *session) writeLoop() {
	broken := false
	for item := range s.pending {
		frames := item.frames
		if item.await != nil {
			res := <-item.await
			frames = responseFrames(s.gw.conv, item.requestID, res)
		}
		if broken {
			continue
		}
		for i := range frames {
			if err := s.fw.WriteJSON(&frames[i]); err != nil {
				if !isClosedConn(err) {
					s.log.Warn("gateway write failed", zap.Error(err))
				}
				broken = true
				s.conn.Close()
				break
			}
		}
	}
}

// responseFrames renders one engine Result as wire frames: trades first,
// then the terminal confirmation, ack, depth, or error. A fully filled
// order has no terminal frame beyond its last trade.
func responseFrames(conv *PriceConverter, requestID string, res engine.Result) []Response {
	frames := make([]Response, 0, len(res.Trades)+1)
	for i := range res.Trades {
		frames = append(frames, Response{
			Type:      MsgTrade,
			RequestID: requestID,
			Trade:     tradePayload(conv, &res.Trades[i]),
		})
	}
	switch {
	case res.Err != nil:
		frames = append(frames, Response{Type: MsgError, RequestID: requestID, Error: errorPayload(res.Err)})
	case res.CancelAck != nil:
		frames = append(frames, Response{Type: MsgCancelAck, RequestID: requestID, CancelAck: res.CancelAck})
	case res.Depth != nil:
		frames = append(frames, Response{Type: MsgDepth, RequestID: requestID, Depth: depthPayload(conv, res.Depth)})
	case res.Confirmation != nil:
		frames = append(frames, Response{Type: MsgConfirmation, RequestID: requestID, Confirmation: confirmationPayload(conv, res.Confirmation)})
	}
	return frames
}

func localError(requestID string, kind engine.ErrorKind, msg string) pendingItem {
	return pendingItem{
		requestID: requestID,
		frames: []Response{{
			Type:      MsgError,
			RequestID: requestID,
			Error:     &ErrorPayload{Kind: string(kind), Message: msg},
		}},
	}
}

// errorResponse classifies a submission error into a terminal frame.
func errorResponse(requestID string, err error) Response {
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		return Response{Type: MsgError, RequestID: requestID, Error: errorPayload(engErr)}
	}
	kind := engine.KindInternal
	if errors.Is(err, engine.ErrShuttingDown) || errors.Is(err, engine.ErrNotRunning) {
		kind = engine.KindShutdown
	}
	return Response{
		Type:      MsgError,
		RequestID: requestID,
		Error:     &ErrorPayload{Kind: string(kind), Message: err.Error()},
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
