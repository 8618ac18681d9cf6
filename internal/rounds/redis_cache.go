package rounds

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ringside/backend/internal/core"
)

const (
	verdictKeyPrefix = "ringside:verdict:"
	verdictTTL       = 6 * time.Hour
)

// VerdictCache mirrors the latest verdict per round into Redis so the
// read path (overlays polling between score pushes) never enters the
// bout worker. Best-effort: cache failures log and never block scoring.
type VerdictCache struct {
	client *redis.Client
	logger *log.Logger
}

func NewVerdictCache(client *redis.Client) *VerdictCache {
	return &VerdictCache{
		client: client,
		logger: log.New(log.Writer(), "[VerdictCache] ", log.LstdFlags),
	}
}

// Put stores the verdict under the round's key.
func (c *VerdictCache) Put(ctx context.Context, roundID string, v *core.RoundVerdict) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Printf("Failed to encode verdict for round %s: %v", roundID, err)
		return
	}
	if err := c.client.Set(ctx, verdictKeyPrefix+roundID, raw, verdictTTL).Err(); err != nil {
		c.logger.Printf("Failed to cache verdict for round %s: %v", roundID, err)
	}
}

// Get returns the cached verdict, or nil on miss or error.
func (c *VerdictCache) Get(ctx context.Context, roundID string) *core.RoundVerdict {
	raw, err := c.client.Get(ctx, verdictKeyPrefix+roundID).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Printf("Failed to read cached verdict for round %s: %v", roundID, err)
		}
		return nil
	}
	var v core.RoundVerdict
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Printf("Corrupt cached verdict for round %s: %v", roundID, err)
		return nil
	}
	return &v
}

// Invalidate drops a round's cached verdict.
func (c *VerdictCache) Invalidate(ctx context.Context, roundID string) {
	if err := c.client.Del(ctx, verdictKeyPrefix+roundID).Err(); err != nil {
		c.logger.Printf("Failed to invalidate verdict for round %s: %v", roundID, err)
	}
}
