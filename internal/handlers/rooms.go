package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-roulette/internal/middleware"
	"github.com/mossy-p/webrtc-roulette/internal/store"
)

// Rooms serves the room inspection API of the relay.
type Rooms struct {
	store  store.Store
	relay  *Relay
	logger *slog.Logger
}

func NewRooms(s store.Store, relay *Relay, logger *slog.Logger) *Rooms {
	return &Rooms{store: s, relay: relay, logger: logger.With("component", "rooms")}
}

// GetRoom returns room metadata and its member count (public).
func (h *Rooms) GetRoom(c *gin.Context) {
	room, err := h.store.Room(c.Request.Context(), c.Param("code"))
	if errors.Is(err, store.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load room", "room", c.Param("code"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// DeleteRoom evicts both members and forgets the room (operator only).
func (h *Rooms) DeleteRoom(c *gin.Context) {
	if c.GetString(middleware.ContextRole) != middleware.RoleOperator {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only an operator can delete rooms"})
		return
	}

	code := c.Param("code")
	evicted := h.relay.Evict(code)
	err := h.store.DeleteRoom(c.Request.Context(), code)
	if errors.Is(err, store.ErrRoomNotFound) && evicted == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil && !errors.Is(err, store.ErrRoomNotFound) {
		h.logger.Error("failed to delete room", "room", code, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}

	h.logger.Info("room deleted", "room", code, "by", c.GetString(middleware.ContextUserID), "evicted", evicted)
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted", "evicted": evicted})
}
