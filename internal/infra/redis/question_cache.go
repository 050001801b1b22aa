package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"live-poll-service/internal/domain"
)

// QuestionLoader fetches question detail from the Session Store.
type QuestionLoader interface {
	GetQuestion(ctx context.Context, questionID int64) (domain.Question, error)
}

// QuestionCache keeps question detail in Redis and falls back to the loader on a miss.
// Entries are stored as: SET poll:question:{questionID} <json> EX ttl
type QuestionCache struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	log    zerolog.Logger
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand

	// generation is bumped by Invalidate; a load that spans a bump is not written back
	generation map[int64]uint64
}

func NewQuestionCache(client *redis.Client, loader QuestionLoader, ttl time.Duration, log zerolog.Logger) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log.With().Str("component", "redis_question_cache").Logger(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),

		generation: make(map[int64]uint64),
	}
}

func (c *QuestionCache) GetQuestion(ctx context.Context, questionID int64) (domain.Question, error) {
	if q, ok := c.lookup(ctx, questionID); ok {
		return q, nil
	}

	result, err, _ := c.sf.Do(strconv.FormatInt(questionID, 10), func() (interface{}, error) {
		// another caller may have filled the cache meanwhile
		if q, ok := c.lookup(ctx, questionID); ok {
			return q, nil
		}

		gen := c.generationOf(questionID)
		q, err := c.loader.GetQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}
		if c.generationOf(questionID) != gen {
			return q, nil
		}

		raw, err := json.Marshal(q)
		if err != nil {
			return q, nil
		}
		if err := c.client.Set(ctx, questionKey(questionID), raw, c.ttlWithJitter()).Err(); err != nil {
			c.log.Warn().Err(err).Int64("question_id", questionID).Msg("Failed to cache question")
		}
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

// Invalidate deletes cached entries. Failures are logged; entries still expire by TTL.
func (c *QuestionCache) Invalidate(ctx context.Context, questionIDs ...int64) {
	if len(questionIDs) == 0 {
		return
	}
	keys := make([]string, len(questionIDs))
	c.mu.Lock()
	for i, id := range questionIDs {
		keys[i] = questionKey(id)
		c.generation[id]++
		c.sf.Forget(strconv.FormatInt(id, 10))
	}
	c.mu.Unlock()
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn().Err(err).Int("keys", len(keys)).Msg("Failed to invalidate questions")
	}
}

func (c *QuestionCache) lookup(ctx context.Context, questionID int64) (domain.Question, bool) {
	raw, err := c.client.Get(ctx, questionKey(questionID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Int64("question_id", questionID).Msg("Question cache read failed")
		}
		return domain.Question{}, false
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, false
	}
	return q, true
}

func (c *QuestionCache) generationOf(questionID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation[questionID]
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func questionKey(questionID int64) string {
	return "poll:question:" + strconv.FormatInt(questionID, 10)
}
