package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mossy-p/webrtc-roulette/internal/models"
	"github.com/mossy-p/webrtc-roulette/internal/store"
)

// Matcher is the reference matching service. Clients hold a websocket at
// /ws/:name and join the queue with POST /registerForMatching; the two
// oldest waiting names are paired into a room.
type Matcher struct {
	store  store.Store
	logger *slog.Logger

	// mu serializes pairing and guards clients.
	mu      sync.Mutex
	clients map[string]*socket
}

func NewMatcher(s store.Store, logger *slog.Logger) *Matcher {
	return &Matcher{
		store:   s,
		logger:  logger.With("component", "matcher"),
		clients: make(map[string]*socket),
	}
}

// HandleSocket upgrades GET /ws/:name.
func (m *Matcher) HandleSocket(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	// Held across the upgrade so a registration sent right after the
	// handshake already sees this socket.
	m.mu.Lock()
	s, err := upgrade(c.Writer, c.Request, name, m.logger)
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("failed to upgrade connection", "error", err)
		return
	}
	old := m.clients[name]
	m.clients[name] = s
	m.mu.Unlock()
	if old != nil {
		old.close()
	}
	s.logger.Info("matching client connected")

	go s.readPump(func(msg []byte) {
		s.logger.Debug("ignoring client message", "size", len(msg))
	}, func() { m.disconnect(s) })
}

func (m *Matcher) disconnect(s *socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clients[s.Name] != s {
		return
	}
	delete(m.clients, s.Name)
	if err := m.store.Dequeue(context.Background(), s.Name); err != nil {
		s.logger.Warn("failed to leave queue", "error", err)
	}
	s.logger.Info("matching client disconnected")
}

// Register handles POST /registerForMatching.
func (m *Matcher) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || strings.Contains(name, models.RoomCodeSeparator) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must be non-empty and must not contain " + models.RoomCodeSeparator})
		return
	}

	ctx := c.Request.Context()
	if err := m.store.Enqueue(ctx, name); err != nil {
		m.logger.Error("failed to enqueue", "name", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join queue"})
		return
	}
	m.logger.Info("registered for matching", "name", name)

	if err := m.pair(ctx); err != nil {
		m.logger.Error("pairing failed", "error", err)
	}
	c.JSON(http.StatusOK, models.RegisterResponse{Status: "queued", Name: name})
}

// pair matches waiting names two at a time. Names without a socket are
// dropped from the queue.
func (m *Matcher) pair(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	waiting, err := m.store.Waiting(ctx)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}

	var ready, gone []string
	for _, name := range waiting {
		if _, ok := m.clients[name]; ok {
			ready = append(ready, name)
		} else {
			gone = append(gone, name)
		}
	}
	if len(gone) > 0 {
		if err := m.store.Dequeue(ctx, gone...); err != nil {
			return fmt.Errorf("drop stale names: %w", err)
		}
	}

	for len(ready) >= 2 {
		initiator, responder := ready[0], ready[1]
		ready = ready[2:]
		if err := m.match(ctx, initiator, responder); err != nil {
			return err
		}
	}
	return nil
}

func (m *Matcher) match(ctx context.Context, initiator, responder string) error {
	if err := m.store.Dequeue(ctx, initiator, responder); err != nil {
		return fmt.Errorf("dequeue pair: %w", err)
	}

	code := models.RoomCodeFor(initiator, responder)
	room := models.RoomMetadata{
		ID:        uuid.NewString(),
		Code:      code,
		Initiator: initiator,
		Responder: responder,
		CreatedAt: time.Now(),
	}
	if err := m.store.SaveRoom(ctx, room); err != nil {
		return fmt.Errorf("save room %s: %w", code, err)
	}

	m.clients[initiator].sendJSON(models.MatchMessage{Event: models.EventMatched, RoomCode: code, Initiator: true})
	m.clients[responder].sendJSON(models.MatchMessage{Event: models.EventMatched, RoomCode: code, Initiator: false})
	m.logger.Info("matched", "room", code, "initiator", initiator, "responder", responder)
	return nil
}
