// Package content fetches communication content (transcripts, email bodies)
// from the content store by opaque reference.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/peytonrunyan/commwatch/internal/model"
)

// contentKeyPrefix is the Redis key prefix for stored communication content.
const contentKeyPrefix = "content:"

const (
	cacheTTL     = 5 * time.Minute
	cacheSweep   = 10 * time.Minute
	fetchTimeout = 5 * time.Second
)

// Store fetches communication text by content reference. Content is immutable
// once received, so fetched text is memoized in process; concurrent workers
// evaluating communications that share content hit the cache.
type Store struct {
	client *redis.Client
	cache  *gocache.Cache
}

// NewStore creates a content store backed by the given Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
		cache:  gocache.New(cacheTTL, cacheSweep),
	}
}

// Fetch returns the content text for the given reference.
// A missing reference is model.ErrNotFound.
func (s *Store) Fetch(ctx context.Context, contentRef string) (string, error) {
	if contentRef == "" {
		return "", fmt.Errorf("%w: content_ref is empty", model.ErrValidation)
	}

	if cached, ok := s.cache.Get(contentRef); ok {
		return cached.(string), nil
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	text, err := s.client.Get(ctx, contentKeyPrefix+contentRef).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("%w: content %s", model.ErrNotFound, contentRef)
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch content %s: %w", contentRef, err)
	}

	s.cache.Set(contentRef, text, gocache.DefaultExpiration)
	slog.Debug("Fetched content", "content_ref", contentRef, "bytes", len(text))

	return text, nil
}
