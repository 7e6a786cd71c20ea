package eventbus

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

type Channel string

const ParticipantUpdate Channel = "participant:update"

const rosterTTL = 24 * time.Hour

func rosterKey(room string) string {
	return "participant:roster:" + room
}

// RedisClient is the part of *redis.Client the bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisBus publishes rosters on participant:update. The last roster of each
// room is also stored under participant:roster:<room> for late readers.
type RedisBus struct {
	rdb RedisClient
}

func ConnectRedis(ctx context.Context, addr string) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return NewRedisBus(rdb), nil
}

func NewRedisBus(rdb RedisClient) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) PublishRoster(ctx context.Context, msg *RosterMessage) error {
	data, err := msg.ToJSON()
	if err != nil {
		return err
	}

	if err := b.rdb.Set(ctx, rosterKey(msg.Room), data, rosterTTL).Err(); err != nil {
		return err
	}

	return b.rdb.Publish(ctx, string(ParticipantUpdate), data).Err()
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
