package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence records connected socket clients per session in a Redis set.
// The set doubles as a session liveness marker: it expires ttl after the last Join.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) Join(ctx context.Context, sessionID int64, clientID string) error {
	key := p.key(sessionID)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, clientID)
	if p.ttl > 0 {
		pipe.Expire(ctx, key, p.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Presence) Leave(ctx context.Context, sessionID int64, clientID string) error {
	return p.client.SRem(ctx, p.key(sessionID), clientID).Err()
}

func (p *Presence) Count(ctx context.Context, sessionID int64) (int, error) {
	n, err := p.client.SCard(ctx, p.key(sessionID)).Result()
	return int(n), err
}

func (p *Presence) key(sessionID int64) string {
	return "poll:session:" + strconv.FormatInt(sessionID, 10) + ":clients"
}
