package marketdata

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/pkg/metrics"
)

// Message is one feed frame. Seq is global and strictly increasing, so
// a client can detect gaps and ask for a replay.
type Message struct {
	Topic string          `json:"topic"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// clientRequest is the only inbound frame clients send.
type clientRequest struct {
	Subscribe   []string `json:"subscribe,omitempty"`
	Unsubscribe []string `json:"unsubscribe,omitempty"`
	// Since filters the replay sent on subscribe; 0 means everything
	// still buffered.
	Since uint64 `json:"since,omitempty"`
}

// replayBuffer keeps the last N messages of one topic, overwriting the
// oldest. Only the hub goroutine touches it.
type replayBuffer struct {
	buf   []Message
	start int
	count int
}

func newReplayBuffer(size int) *replayBuffer {
	return &replayBuffer{buf: make([]Message, size)}
}

func (r *replayBuffer) add(msg Message) {
	idx := (r.start + r.count) % len(r.buf)
	if r.count == len(r.buf) {
		r.start = (r.start + 1) % len(r.buf)
		r.count--
	}
	r.buf[idx] = msg
	r.count++
}

func (r *replayBuffer) since(seq uint64) []Message {
	var out []Message
	for i := 0; i < r.count; i++ {
		msg := r.buf[(r.start+i)%len(r.buf)]
		if msg.Seq > seq {
			out = append(out, msg)
		}
	}
	return out
}

// HubConfig tunes the feed hub.
type HubConfig struct {
	// ReplayDepth is the per-topic replay buffer size.
	ReplayDepth int
	// WriteTimeout bounds each outbound frame write.
	WriteTimeout time.Duration
	// SendBuffer is the per-client outbound queue; slow clients drop
	// frames beyond it rather than stalling the hub.
	SendBuffer int
}

func (c *HubConfig) defaults() {
	if c.ReplayDepth <= 0 {
		c.ReplayDepth = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
}

type subRequest struct {
	client *Client
	topics []string
	unsub  bool
	since  uint64
}

// Client is one websocket feed connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan Message
	topics map[string]struct{}
	hub    *Hub
}

// Hub fans topic messages out to subscribed websocket clients. All
// client-set and buffer state is owned by the run goroutine; the only
// shared surfaces are channels.
type Hub struct {
	cfg HubConfig
	log *zap.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	subscribe  chan subRequest

	done     chan struct{}
	stopOnce sync.Once

	upgrader websocket.Upgrader
}

// NewHub builds and starts the feed hub.
func NewHub(cfg HubConfig, logger *zap.Logger) *Hub {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:        cfg,
		log:        logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 1024),
		subscribe:  make(chan subRequest),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	clients := make(map[*Client]struct{})
	buffers := make(map[string]*replayBuffer)
	var nextSeq uint64 = 1

	defer func() {
		for c := range clients {
			close(c.send)
			c.conn.Close()
		}
	}()

	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			clients[c] = struct{}{}
			metrics.FeedClients.Inc()
			h.log.Debug("feed client connected", zap.String("client", c.id))

		case c := <-h.unregister:
			if _, ok := clients[c]; !ok {
				break
			}
			delete(clients, c)
			close(c.send)
			metrics.FeedClients.Dec()
			h.log.Debug("feed client disconnected", zap.String("client", c.id))

		case req := <-h.subscribe:
			if _, ok := clients[req.client]; !ok {
				break
			}
			for _, topic := range req.topics {
				if req.unsub {
					delete(req.client.topics, topic)
					continue
				}
				req.client.topics[topic] = struct{}{}
				if buf, ok := buffers[topic]; ok {
					for _, msg := range buf.since(req.since) {
						req.client.push(msg)
					}
				}
			}

		case msg := <-h.broadcast:
			msg.Seq = nextSeq
			nextSeq++
			buf, ok := buffers[msg.Topic]
			if !ok {
				buf = newReplayBuffer(h.cfg.ReplayDepth)
				buffers[msg.Topic] = buf
			}
			buf.add(msg)
			for c := range clients {
				if _, sub := c.topics[msg.Topic]; sub {
					c.push(msg)
				}
			}
		}
	}
}

// push never blocks; frames beyond the client buffer are dropped and the
// client recovers them through replay.
func (c *Client) push(msg Message) {
	select {
	case c.send <- msg:
	default:
	}
}

// Broadcast queues data for every subscriber of topic. The hub assigns
// the sequence number.
func (h *Hub) Broadcast(topic string, data []byte) {
	select {
	case <-h.done:
	case h.broadcast <- Message{Topic: topic, Data: data}:
	}
}

// ServeWS upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan Message, h.cfg.SendBuffer),
		topics: make(map[string]struct{}),
		hub:    h,
	}
	select {
	case <-h.done:
		conn.Close()
		return
	case h.register <- c:
	}
	go c.writePump()
	c.readPump()
}

// Stop disconnects every client and ends the hub goroutine.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (c *Client) readPump() {
	defer func() {
		select {
		case <-c.hub.done:
		case c.hub.unregister <- c:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req clientRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.hub.log.Debug("ignoring malformed feed request", zap.String("client", c.id), zap.Error(err))
			continue
		}
		if len(req.Subscribe) > 0 {
			c.request(subRequest{client: c, topics: req.Subscribe, since: req.Since})
		}
		if len(req.Unsubscribe) > 0 {
			c.request(subRequest{client: c, topics: req.Unsubscribe, unsub: true})
		}
	}
}

func (c *Client) request(req subRequest) {
	select {
	case <-c.hub.done:
	case c.hub.subscribe <- req:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
