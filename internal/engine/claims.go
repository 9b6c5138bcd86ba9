package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/JaimeStill/docket/internal/store"
)

// claims grants at most one in-process runner per record. A claim is a lease:
// it expires after ttl so a runner that never releases cannot wedge a record.
// The store's version check still guards against a runner outliving its lease.
type claims struct {
	mu      sync.Mutex
	cache   *ttlcache.Cache[uuid.UUID, uuid.UUID]
	running bool
}

func newClaims(ttl time.Duration) *claims {
	return &claims{
		cache: ttlcache.New(
			ttlcache.WithTTL[uuid.UUID, uuid.UUID](ttl),
			ttlcache.WithDisableTouchOnHit[uuid.UUID, uuid.UUID](),
		),
	}
}

// acquire claims id or fails fast with store.ErrConflict when another runner
// holds it. The returned release is safe to call more than once.
func (c *claims) acquire(id uuid.UUID) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache.Get(id) != nil {
		return nil, fmt.Errorf("%w: workflow %s is already being processed", store.ErrConflict, id)
	}

	token := uuid.New()
	c.cache.Set(id, token, ttlcache.DefaultTTL)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if item := c.cache.Get(id); item != nil && item.Value() == token {
			c.cache.Delete(id)
		}
	}, nil
}

func (c *claims) held(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(id) != nil
}

func (c *claims) start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true
	go c.cache.Start()
}

func (c *claims) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false
	c.cache.Stop()
}
