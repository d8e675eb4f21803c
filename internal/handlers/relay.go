package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-roulette/internal/models"
	"github.com/mossy-p/webrtc-roulette/internal/store"
)

const (
	errNotVerified  = "not verified"
	errRoleRequired = "role must be initiator or responder"
)

// Relay is the reference signaling relay. A client joins a room for a
// target; once both members have joined each gets verified, and only then
// are signal envelopes forwarded between them.
type Relay struct {
	store  store.Store
	logger *slog.Logger

	mu       sync.Mutex
	clients  map[string]*socket
	bindings map[string]string // name to room code
}

func NewRelay(s store.Store, logger *slog.Logger) *Relay {
	return &Relay{
		store:    s,
		logger:   logger.With("component", "relay"),
		clients:  make(map[string]*socket),
		bindings: make(map[string]string),
	}
}

// HandleSocket upgrades GET /ws/:name.
func (r *Relay) HandleSocket(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	s, err := upgrade(c.Writer, c.Request, name, r.logger)
	if err != nil {
		r.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	r.mu.Lock()
	old := r.clients[name]
	r.mu.Unlock()
	if old != nil {
		r.leave(old)
		old.close()
	}
	r.mu.Lock()
	r.clients[name] = s
	r.mu.Unlock()
	s.logger.Info("relay client connected")

	go s.readPump(func(msg []byte) { r.handle(s, msg) }, func() {
		r.leave(s)
		r.mu.Lock()
		if r.clients[name] == s {
			delete(r.clients, name)
		}
		r.mu.Unlock()
		s.logger.Info("relay client disconnected")
	})
}

func (r *Relay) handle(s *socket, raw []byte) {
	var env models.SignalEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn("failed to parse message", "error", err)
		s.sendJSON(models.RelayMessage{Event: models.EventError, Message: "malformed message"})
		return
	}

	switch env.Event {
	case models.EventJoin:
		r.join(s, env)
	case models.EventSignal:
		r.forward(s, env)
	default:
		s.logger.Warn("unknown message type", "event", env.Event)
	}
}

func (r *Relay) join(s *socket, env models.SignalEnvelope) {
	code := env.RoomCode
	if code == "" || env.Target == "" {
		s.sendJSON(models.RelayMessage{Event: models.EventError, Message: "room_code and target are required"})
		return
	}
	if !env.Role.Valid() {
		s.sendJSON(models.RelayMessage{Event: models.EventError, RoomCode: code, Message: errRoleRequired})
		return
	}

	r.mu.Lock()
	if r.clients[s.Name] != s {
		r.mu.Unlock()
		return
	}
	prev := r.bindings[s.Name]
	r.bindings[s.Name] = code
	peer := r.clients[env.Target]
	both := peer != nil && r.bindings[env.Target] == code
	r.mu.Unlock()

	ctx := context.Background()
	if prev != "" && prev != code {
		r.removeMember(ctx, prev, s.Name)
	}
	if _, err := r.store.AddMember(ctx, code, s.Name); err != nil {
		s.logger.Warn("failed to record member", "room", code, "error", err)
	}
	s.logger.Info("joined room", "room", code, "target", env.Target, "role", env.Role)

	if both {
		verified := models.RelayMessage{Event: models.EventVerified, RoomCode: code}
		s.sendJSON(verified)
		peer.sendJSON(verified)
		s.logger.Info("room verified", "room", code)
	}
}

func (r *Relay) forward(s *socket, env models.SignalEnvelope) {
	r.mu.Lock()
	code := r.bindings[s.Name]
	peer := r.clients[env.Target]
	ok := code != "" && code == env.RoomCode && peer != nil && r.bindings[env.Target] == code
	r.mu.Unlock()

	if !ok {
		s.sendJSON(models.RelayMessage{Event: models.EventError, RoomCode: env.RoomCode, Message: errNotVerified})
		return
	}
	peer.sendJSON(models.RelayMessage{
		Event:    models.EventSignal,
		RoomCode: code,
		From:     s.Name,
		Data:     env.Data,
	})
}

// leave unbinds s and tells the rest of its room.
func (r *Relay) leave(s *socket) {
	r.mu.Lock()
	if r.clients[s.Name] != s {
		r.mu.Unlock()
		return
	}
	code, bound := r.bindings[s.Name]
	delete(r.bindings, s.Name)
	var others []*socket
	if bound {
		for name, c := range r.bindings {
			if c == code {
				others = append(others, r.clients[name])
			}
		}
	}
	r.mu.Unlock()

	if !bound {
		return
	}
	r.removeMember(context.Background(), code, s.Name)
	for _, o := range others {
		if o != nil {
			o.sendJSON(models.RelayMessage{Event: models.EventPeerDisconnected, RoomCode: code, From: s.Name})
		}
	}
}

// Evict unbinds every member of code and tells each the other left.
func (r *Relay) Evict(code string) int {
	r.mu.Lock()
	var members []*socket
	for name, c := range r.bindings {
		if c == code {
			delete(r.bindings, name)
			if s := r.clients[name]; s != nil {
				members = append(members, s)
			}
		}
	}
	r.mu.Unlock()

	for _, s := range members {
		s.sendJSON(models.RelayMessage{Event: models.EventPeerDisconnected, RoomCode: code})
	}
	if len(members) > 0 {
		r.logger.Info("room evicted", "room", code, "members", len(members))
	}
	return len(members)
}

func (r *Relay) removeMember(ctx context.Context, code, name string) {
	if _, err := r.store.RemoveMember(ctx, code, name); err != nil {
		r.logger.Warn("failed to remove member", "room", code, "name", name, "error", err)
	}
}
