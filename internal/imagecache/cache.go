package imagecache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"
)

// Default bucket bounds per tier.
const (
	DefaultMaxThumbnailEntries = 1000
	DefaultMaxMediumEntries    = 500
	DefaultMaxLargeEntries     = 200
)

// ActionClearImageCache is the control action that empties every image bucket.
const ActionClearImageCache = "clearImageCache"

var (
	errMissingFetcher = errors.New("image fetcher is required")
	errMissingURL     = errors.New("imagecache: request url is required")
	// ErrUnknownCommand indicates a control message with an unsupported action.
	ErrUnknownCommand = errors.New("imagecache: unknown command")
)

// Status reports how a response was produced.
type Status string

const (
	StatusHit    Status = "hit"
	StatusMiss   Status = "miss"
	StatusStale  Status = "stale"
	StatusBypass Status = "bypass"
)

// Request is one image lookup. Revalidate skips the cached copy and goes to the origin first.
type Request struct {
	URL        *url.URL
	Revalidate bool
}

// Result carries the image and how it was served.
type Result struct {
	Entry  Entry
	Tier   Tier
	Status Status
}

// Command is an out-of-band control message.
type Command struct {
	Action string `json:"action"`
}

// Config wires a Cache. Zero bounds use the tier defaults.
type Config struct {
	Fetcher             Fetcher
	MaxThumbnailEntries int
	MaxMediumEntries    int
	MaxLargeEntries     int
	Logger              *zap.Logger
}

// Cache serves image requests cache-first from one bucket per tier.
type Cache struct {
	fetcher Fetcher
	buckets map[Tier]*Bucket
	limits  map[Tier]int
	// stores guards pending: Add happens under the read lock, Wait under the write lock.
	stores  sync.RWMutex
	pending sync.WaitGroup
	logger  *zap.Logger
}

// New constructs a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Fetcher == nil {
		return nil, errMissingFetcher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		fetcher: cfg.Fetcher,
		buckets: map[Tier]*Bucket{
			TierThumbnail: newBucket(),
			TierMedium:    newBucket(),
			TierLarge:     newBucket(),
		},
		limits: map[Tier]int{
			TierThumbnail: positiveOr(cfg.MaxThumbnailEntries, DefaultMaxThumbnailEntries),
			TierMedium:    positiveOr(cfg.MaxMediumEntries, DefaultMaxMediumEntries),
			TierLarge:     positiveOr(cfg.MaxLargeEntries, DefaultMaxLargeEntries),
		},
		logger: logger,
	}, nil
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

// Bucket exposes the bucket of a tier.
func (c *Cache) Bucket(tier Tier) *Bucket {
	return c.buckets[tier]
}

// Get serves the request. Non-image paths go straight to the origin and are never stored.
func (c *Cache) Get(ctx context.Context, request Request) (Result, error) {
	if request.URL == nil {
		return Result{}, errMissingURL
	}
	if !IsImageRequest(request.URL.Path) {
		entry, err := c.fetcher.Fetch(ctx, request.URL)
		if err != nil {
			return Result{}, err
		}
		return Result{Entry: entry, Status: StatusBypass}, nil
	}

	target := normalizedURL(request.URL)
	tier := Classify(target)
	bucket := c.buckets[tier]
	limit := c.limits[tier]
	key := cacheKey(target)

	if !request.Revalidate {
		if entry, ok := bucket.Get(key); ok {
			return Result{Entry: entry, Tier: tier, Status: StatusHit}, nil
		}
	}

	entry, err := c.fetcher.Fetch(ctx, target)
	if err != nil {
		if tier == TierLarge {
			if cached, ok := bucket.Get(key); ok {
				c.logger.Warn("image fetch failed, serving cached copy", zap.String("key", key), zap.Error(err))
				return Result{Entry: cached, Tier: tier, Status: StatusStale}, nil
			}
		}
		return Result{}, err
	}

	if tier == TierLarge {
		c.store(tier, bucket, key, entry, limit)
		return Result{Entry: entry, Tier: tier, Status: StatusMiss}, nil
	}

	c.stores.RLock()
	c.pending.Add(1)
	c.stores.RUnlock()
	go func() {
		defer c.pending.Done()
		c.store(tier, bucket, key, entry, limit)
	}()
	return Result{Entry: entry, Tier: tier, Status: StatusMiss}, nil
}

func (c *Cache) store(tier Tier, bucket *Bucket, key string, entry Entry, limit int) {
	if evicted, ok := bucket.PutBounded(key, entry, limit); ok {
		c.logger.Debug("image evicted", zap.String("tier", string(tier)), zap.String("key", evicted))
	}
}

// Wait blocks until every asynchronous store has finished.
func (c *Cache) Wait() {
	c.stores.Lock()
	defer c.stores.Unlock()
	c.pending.Wait()
}

// Control applies an out-of-band command.
func (c *Cache) Control(command Command) error {
	switch command.Action {
	case ActionClearImageCache:
		c.stores.Lock()
		c.pending.Wait()
		for _, bucket := range c.buckets {
			bucket.Clear()
		}
		c.stores.Unlock()
		c.logger.Info("image cache cleared")
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command.Action)
	}
}
