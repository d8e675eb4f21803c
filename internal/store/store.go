// Package store keeps the matching queue and relay room state, in memory or
// in Redis.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mossy-p/webrtc-roulette/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

const roomTTL = 24 * time.Hour

// Store is the state shared by the matcher and the relay.
type Store interface {
	// Enqueue adds name to the waiting queue; a name already waiting keeps
	// its place.
	Enqueue(ctx context.Context, name string) error
	// Waiting lists waiting names, oldest first.
	Waiting(ctx context.Context) ([]string, error)
	Dequeue(ctx context.Context, names ...string) error

	SaveRoom(ctx context.Context, room models.RoomMetadata) error
	// Room returns the room with its current member count.
	Room(ctx context.Context, code string) (models.RoomMetadata, error)
	DeleteRoom(ctx context.Context, code string) error

	// AddMember and RemoveMember return the member count afterwards.
	AddMember(ctx context.Context, code, name string) (int, error)
	RemoveMember(ctx context.Context, code, name string) (int, error)
	Members(ctx context.Context, code string) ([]string, error)

	Close() error
}
