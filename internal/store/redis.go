package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/webrtc-roulette/config"
	"github.com/mossy-p/webrtc-roulette/internal/models"
)

const queueKey = "match:queue"

func roomKey(code string) string    { return "room:" + code }
func membersKey(code string) string { return "room:" + code + ":members" }

// RedisStore is a Store shared by every server process pointing at the same
// Redis. The queue is a sorted set scored by enqueue time.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects and pings Redis.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Enqueue(ctx context.Context, name string) error {
	return s.client.ZAddNX(ctx, queueKey, redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: name,
	}).Err()
}

func (s *RedisStore) Waiting(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, queueKey, 0, -1).Result()
}

func (s *RedisStore) Dequeue(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	members := make([]any, len(names))
	for i, n := range names {
		members[i] = n
	}
	return s.client.ZRem(ctx, queueKey, members...).Err()
}

func (s *RedisStore) SaveRoom(ctx context.Context, room models.RoomMetadata) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	return s.client.Set(ctx, roomKey(room.Code), data, roomTTL).Err()
}

func (s *RedisStore) Room(ctx context.Context, code string) (models.RoomMetadata, error) {
	data, err := s.client.Get(ctx, roomKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return models.RoomMetadata{}, ErrRoomNotFound
	}
	if err != nil {
		return models.RoomMetadata{}, err
	}

	var room models.RoomMetadata
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return models.RoomMetadata{}, fmt.Errorf("failed to parse room data: %w", err)
	}
	count, err := s.client.SCard(ctx, membersKey(code)).Result()
	if err != nil {
		return models.RoomMetadata{}, err
	}
	room.Members = int(count)
	return room, nil
}

func (s *RedisStore) DeleteRoom(ctx context.Context, code string) error {
	n, err := s.client.Del(ctx, roomKey(code), membersKey(code)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *RedisStore) AddMember(ctx context.Context, code, name string) (int, error) {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, membersKey(code), name)
	pipe.Expire(ctx, membersKey(code), roomTTL)
	card := pipe.SCard(ctx, membersKey(code))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (s *RedisStore) RemoveMember(ctx context.Context, code, name string) (int, error) {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, membersKey(code), name)
	card := pipe.SCard(ctx, membersKey(code))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (s *RedisStore) Members(ctx context.Context, code string) ([]string, error) {
	names, err := s.client.SMembers(ctx, membersKey(code)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
