package store

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/webrtc-roulette/config"
	"github.com/mossy-p/webrtc-roulette/internal/models"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("queue keeps first position", func(t *testing.T) {
		require.NoError(t, s.Enqueue(ctx, "alice"))
		require.NoError(t, s.Enqueue(ctx, "bob"))
		require.NoError(t, s.Enqueue(ctx, "alice"))
		require.NoError(t, s.Enqueue(ctx, "carol"))

		waiting, err := s.Waiting(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob", "carol"}, waiting)

		require.NoError(t, s.Dequeue(ctx, "alice", "carol"))
		waiting, err = s.Waiting(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, waiting)
		require.NoError(t, s.Dequeue(ctx, "bob"))
		require.NoError(t, s.Dequeue(ctx))
	})

	t.Run("rooms and members", func(t *testing.T) {
		room := models.RoomMetadata{
			ID:        "id-1",
			Code:      "alice_bob",
			Initiator: "alice",
			Responder: "bob",
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, s.SaveRoom(ctx, room))

		n, err := s.AddMember(ctx, room.Code, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.AddMember(ctx, room.Code, "bob")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = s.AddMember(ctx, room.Code, "bob")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := s.Room(ctx, room.Code)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Initiator)
		assert.Equal(t, 2, got.Members)
		assert.True(t, room.CreatedAt.Equal(got.CreatedAt))

		members, err := s.Members(ctx, room.Code)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, members)

		n, err = s.RemoveMember(ctx, room.Code, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, s.DeleteRoom(ctx, room.Code))
		_, err = s.Room(ctx, room.Code)
		assert.ErrorIs(t, err, ErrRoomNotFound)
		assert.ErrorIs(t, s.DeleteRoom(ctx, room.Code), ErrRoomNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := NewRedisStore(ctx, config.RedisConfig{Host: host, Port: port, DB: 15})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.client.FlushDB(ctx).Err())

	exerciseStore(t, s)
}
