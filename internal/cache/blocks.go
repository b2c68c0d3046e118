// Package cache keeps users' block lists in redis for the delivery path.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// emptyMarker keeps an empty block list cached; redis drops empty sets.
const emptyMarker = "-"

// errStaleFill aborts a refill whose source read predates an invalidation.
var errStaleFill = errors.New("block list changed during refill")

// BlockSource is the authoritative store of block lists.
type BlockSource interface {
	ListBlocked(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	IsBlocked(ctx context.Context, userID, otherID uuid.UUID) (bool, error)
}

// BlockCache answers IsBlocked from a per-user redis set, loading it from
// the source on a miss. Redis errors fall through to the source.
type BlockCache struct {
	rdb    *redis.Client
	source BlockSource
	ttl    time.Duration
}

func NewBlockCache(rdb *redis.Client, source BlockSource, ttl time.Duration) *BlockCache {
	return &BlockCache{rdb: rdb, source: source, ttl: ttl}
}

// Connect parses a redis URL and verifies the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

func blocksKey(userID uuid.UUID) string {
	return "blocks:" + userID.String()
}

// generationKey counts invalidations of a user's block list. A refill only
// lands when the count is unchanged since it read the source.
func generationKey(userID uuid.UUID) string {
	return "blocks:" + userID.String() + ":gen"
}

// IsBlocked reports whether userID has blocked otherID.
func (c *BlockCache) IsBlocked(ctx context.Context, userID, otherID uuid.UUID) (bool, error) {
	key := blocksKey(userID)

	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		log.Warn("block cache unavailable", "err", err)
		return c.source.IsBlocked(ctx, userID, otherID)
	}

	if n == 0 {
		blocked, err := c.fill(ctx, userID)
		if err != nil {
			return false, err
		}
		for _, id := range blocked {
			if id == otherID {
				return true, nil
			}
		}
		return false, nil
	}

	member, err := c.rdb.SIsMember(ctx, key, otherID.String()).Result()
	if err != nil {
		log.Warn("block cache lookup failed", "err", err)
		return c.source.IsBlocked(ctx, userID, otherID)
	}
	return member, nil
}

// InvalidateBlocks drops the cached block list of userID and fences off
// any refill that read the source before this call.
func (c *BlockCache) InvalidateBlocks(ctx context.Context, userID uuid.UUID) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(userID))
		pipe.Del(ctx, blocksKey(userID))
		return nil
	})
	return err
}

func generation(ctx context.Context, rdb redis.Cmdable, userID uuid.UUID) (int64, error) {
	gen, err := rdb.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *BlockCache) fill(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	gen, genErr := generation(ctx, c.rdb, userID)

	blocked, err := c.source.ListBlocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		log.Warn("block cache fill skipped", "user", userID, "err", genErr)
		return blocked, nil
	}

	members := make([]any, 0, len(blocked)+1)
	members = append(members, emptyMarker)
	for _, id := range blocked {
		members = append(members, id.String())
	}

	key := blocksKey(userID)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := generation(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SAdd(ctx, key, members...)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, generationKey(userID))

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		log.Debug("block cache fill dropped", "user", userID)
		return c.source.ListBlocked(ctx, userID)
	default:
		log.Warn("block cache fill failed", "user", userID, "err", err)
	}
	return blocked, nil
}
