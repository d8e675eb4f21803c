package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-roulette/internal/models"
)

// MatchEventKind identifies a MatchEvent.
type MatchEventKind int

const (
	MatchMatched MatchEventKind = iota + 1
	MatchDisconnected
)

// MatchEvent is something the matching service told us.
type MatchEvent struct {
	Kind       MatchEventKind
	Assignment models.MatchAssignment
	Err        error
}

// MatchEventHandler receives events from a MatchChannel's read goroutine.
type MatchEventHandler func(MatchEvent)

// MatchService is the orchestrator's view of the matching service.
type MatchService interface {
	Connect(ctx context.Context, id models.Identity) error
	Register(ctx context.Context, id models.Identity) error
	Close() error
}

var _ MatchService = (*MatchChannel)(nil)

// MatchChannel holds the socket on which the matching service announces
// pairings, and issues registration calls.
type MatchChannel struct {
	dialer  Dialer
	baseURL string
	client  *http.Client
	handler MatchEventHandler
	logger  *slog.Logger

	dialMu sync.Mutex

	mu       sync.Mutex
	conn     Conn
	identity models.Identity
	closed   bool
}

// NewMatchChannel creates a channel to the matching service at baseURL
// (http or https).
func NewMatchChannel(dialer Dialer, baseURL string, handler MatchEventHandler, logger *slog.Logger) *MatchChannel {
	return &MatchChannel{
		dialer:  dialer,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		handler: handler,
		logger:  logger.With("component", "match"),
	}
}

// Connect opens the socket for id. A second call while it is open is a
// no-op; after a disconnect it dials again.
func (c *MatchChannel) Connect(ctx context.Context, id models.Identity) error {
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
	c.identity = id
	c.mu.Unlock()

	c.logger.Debug("matching service connected", "url", target)
	go c.readPump(conn, id)
	return nil
}

// Register puts id into the matching queue.
func (c *MatchChannel) Register(ctx context.Context, id models.Identity) error {
	body, err := json.Marshal(models.RegisterRequest{Name: id.Name})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/registerForMatching", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("register %s: %w", id.Name, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("register %s: %s: %s", id.Name, resp.Status, strings.TrimSpace(string(raw)))
	}

	var out models.RegisterResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("unexpected register response", "body", string(raw))
		return nil
	}
	c.logger.Debug("registered for matching", "name", id.Name, "status", out.Status)
	return nil
}

// Close shuts the socket. No Disconnected event follows.
func (c *MatchChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *MatchChannel) readPump(conn Conn, id models.Identity) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			closed := c.closed
			c.mu.Unlock()

			conn.Close()
			if !closed {
				c.logger.Warn("matching service connection lost", "error", err)
				c.handler(MatchEvent{Kind: MatchDisconnected, Err: err})
			}
			return
		}

		var msg models.MatchMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("bad message on matching socket", "error", err)
			continue
		}

		switch msg.Event {
		case models.EventMatched:
			assignment, err := models.NewMatchAssignment(msg, id)
			if err != nil {
				c.logger.Warn("unusable match", "error", err)
				continue
			}
			c.logger.Info("matched", "room", assignment.RoomCode, "peer", assignment.PeerName, "role", assignment.Role)
			c.handler(MatchEvent{Kind: MatchMatched, Assignment: assignment})
		default:
			c.logger.Debug("matching service message", "event", msg.Event)
		}
	}
}
