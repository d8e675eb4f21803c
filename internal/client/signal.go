package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/mossy-p/webrtc-roulette/internal/models"
)

// outboundBuffer bounds the write pump's backlog.
const outboundBuffer = 256

// SignalEventKind identifies a SignalEvent.
type SignalEventKind int

const (
	SignalVerified SignalEventKind = iota + 1
	SignalPayload
	SignalPeerDisconnected
	SignalError
	SignalClosed
)

func (k SignalEventKind) String() string {
	switch k {
	case SignalVerified:
		return "verified"
	case SignalPayload:
		return "signal"
	case SignalPeerDisconnected:
		return "peer-disconnected"
	case SignalError:
		return "error"
	case SignalClosed:
		return "closed"
	}
	return "unknown"
}

// SignalEvent is something the relay told us.
type SignalEvent struct {
	Kind     SignalEventKind
	RoomCode string
	From     string
	Payload  json.RawMessage
	Message  string
	Err      error
}

// SignalEventHandler receives events from a SignalChannel's read goroutine.
type SignalEventHandler func(SignalEvent)

// SignalService is the orchestrator's view of the relay connection.
type SignalService interface {
	Connect(ctx context.Context, id models.Identity) error
	Join(roomCode, target string, role models.Role) error
	Send(env models.SignalEnvelope)
	Close() error
}

var _ SignalService = (*SignalChannel)(nil)

// SignalChannel is one connection to the signaling relay. Negotiation
// envelopes are held back until the relay confirms the room, then flushed
// in the order they were sent.
type SignalChannel struct {
	dialer  Dialer
	baseURL string
	handler SignalEventHandler
	logger  *slog.Logger

	dialMu sync.Mutex

	mu       sync.Mutex
	conn     Conn
	roomCode string
	verified bool
	closed   bool
	queue    []models.SignalEnvelope

	outbound chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

// NewSignalChannel creates a channel to the relay at baseURL. handler is
// called from the channel's read goroutine.
func NewSignalChannel(dialer Dialer, baseURL string, handler SignalEventHandler, logger *slog.Logger) *SignalChannel {
	return &SignalChannel{
		dialer:   dialer,
		baseURL:  baseURL,
		handler:  handler,
		logger:   logger.With("component", "signal"),
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
	}
}

// Connect dials the relay and returns once the socket is established.
// Calling it again while connected is a no-op.
func (c *SignalChannel) Connect(ctx context.Context, id models.Identity) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	target, err := socketURL(c.baseURL, id.Name)
	if err != nil {
		return err
	}
	conn, err := c.dialer.Dial(ctx, target)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrChannelClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Debug("signaling connected", "url", target)
	go c.writePump(conn)
	go c.readPump(conn)
	return nil
}

// Join binds this client to roomCode on the relay. It bypasses the gate:
// the relay only verifies the room after both sides joined.
func (c *SignalChannel) Join(roomCode, target string, role models.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	if c.conn == nil {
		return ErrNotOpen
	}
	c.roomCode = roomCode
	c.write(models.NewJoinEnvelope(roomCode, target, "", role))
	return nil
}

// Send writes env once the room is verified and queues it until then.
func (c *SignalChannel) Send(env models.SignalEnvelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.logger.Debug("dropping envelope on closed channel", "target", env.Target)
		return
	}
	if c.conn == nil || !c.verified {
		c.queue = append(c.queue, env)
		return
	}
	c.write(env)
}

// Pending returns a copy of the envelopes waiting for verification.
func (c *SignalChannel) Pending() []models.SignalEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.SignalEnvelope(nil), c.queue...)
}

// Verified reports whether the relay confirmed the joined room.
func (c *SignalChannel) Verified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verified
}

// Close shuts the socket and drops anything still queued. Safe to call
// more than once.
func (c *SignalChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dropped := len(c.queue)
	c.queue = nil
	conn := c.conn
	c.mu.Unlock()

	c.stop()
	if dropped > 0 {
		c.logger.Debug("dropped unflushed envelopes", "count", dropped)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *SignalChannel) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *SignalChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// write hands env to the write pump. Callers hold c.mu, which keeps the
// pump's input in the same order as Send calls.
func (c *SignalChannel) write(env models.SignalEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("failed to marshal envelope", "error", err)
		return
	}
	select {
	case c.outbound <- data:
	case <-c.done:
	}
}

// flush opens the gate and drains the queue in arrival order.
func (c *SignalChannel) flush(roomCode string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if roomCode != "" && c.roomCode != "" && roomCode != c.roomCode {
		c.logger.Warn("verification for another room", "room", roomCode, "joined", c.roomCode)
		return false
	}
	c.verified = true
	pending := c.queue
	c.queue = nil
	for _, env := range pending {
		c.write(env)
	}
	if len(pending) > 0 {
		c.logger.Debug("flushed queued envelopes", "count", len(pending))
	}
	return true
}

func (c *SignalChannel) emit(ev SignalEvent) {
	if c.isClosed() {
		return
	}
	c.handler(ev)
}

func (c *SignalChannel) readPump(conn Conn) {
	defer c.stop()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.logger.Warn("signaling connection lost", "error", err)
				c.emit(SignalEvent{Kind: SignalClosed, Err: err})
			}
			return
		}

		var msg models.RelayMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("invalid JSON on signaling socket", "error", err)
			continue
		}

		switch msg.Event {
		case models.EventVerified:
			if c.flush(msg.RoomCode) {
				c.emit(SignalEvent{Kind: SignalVerified, RoomCode: msg.RoomCode})
			}
		case models.EventSignal:
			if len(msg.Data) == 0 {
				c.logger.Warn("signal without data", "from", msg.From)
				continue
			}
			c.emit(SignalEvent{Kind: SignalPayload, RoomCode: msg.RoomCode, From: msg.From, Payload: msg.Data})
		case models.EventError:
			c.emit(SignalEvent{Kind: SignalError, Message: msg.Message})
		case models.EventPeerDisconnected:
			c.emit(SignalEvent{Kind: SignalPeerDisconnected, From: msg.From, RoomCode: msg.RoomCode})
		default:
			c.logger.Warn("unknown signaling event", "event", msg.Event)
		}
	}
}

func (c *SignalChannel) writePump(conn Conn) {
	for {
		select {
		case data := <-c.outbound:
			if err := conn.WriteMessage(data); err != nil {
				c.logger.Warn("failed to write to relay", "error", err)
				c.stop()
				conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
