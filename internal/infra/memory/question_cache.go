package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-poll-service/internal/domain"
)

// QuestionLoader fetches question detail from the Session Store.
type QuestionLoader interface {
	GetQuestion(ctx context.Context, questionID int64) (domain.Question, error)
}

// QuestionCache caches question detail with TTL so polling viewers avoid repeated store hits.
type QuestionCache struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[int64]cachedQuestion

	// generation is bumped by Invalidate; a load that spans a bump is not cached
	generation map[int64]uint64
}

type cachedQuestion struct {
	question  domain.Question
	expiresAt time.Time
}

func NewQuestionCache(loader QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int64]cachedQuestion),

		generation: make(map[int64]uint64),
	}
}

func (c *QuestionCache) GetQuestion(ctx context.Context, questionID int64) (domain.Question, error) {
	if q, ok := c.lookup(questionID); ok {
		return q, nil
	}

	result, err, _ := c.sf.Do(strconv.FormatInt(questionID, 10), func() (interface{}, error) {
		if q, ok := c.lookup(questionID); ok {
			return q, nil
		}

		c.mu.RLock()
		gen := c.generation[questionID]
		c.mu.RUnlock()

		q, err := c.loader.GetQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}

		c.mu.Lock()
		if c.generation[questionID] == gen {
			c.cache[questionID] = cachedQuestion{
				question:  q,
				expiresAt: c.clock().Add(c.ttlWithJitterLocked()),
			}
		}
		c.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

// Invalidate drops cached entries, e.g. after a wildcard insert renumbers positions.
func (c *QuestionCache) Invalidate(_ context.Context, questionIDs ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range questionIDs {
		delete(c.cache, id)
		c.generation[id]++
		c.sf.Forget(strconv.FormatInt(id, 10))
	}
}

func (c *QuestionCache) lookup(questionID int64) (domain.Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[questionID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Question{}, false
	}
	return entry.question, true
}

func (c *QuestionCache) ttlWithJitterLocked() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
