package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"classifieds/internal/cards/domain"
	"classifieds/internal/common/logging"
	"classifieds/internal/common/metrics"
)

// Key families, also used as metric labels.
const (
	familyCard       = "card"
	familyPage       = "page"
	familySearch     = "search"
	familyComplaints = "complaints"
)

// loadTimeout bounds a shared load once the caller that started it is gone.
const loadTimeout = 30 * time.Second

// viewCache is a read-through cache of JSON projections. Concurrent misses
// for one key share a single load.
type viewCache struct {
	store Cache
	ttl   time.Duration
	group singleflight.Group
}

func newViewCache(store Cache, ttl time.Duration) *viewCache {
	return &viewCache{store: store, ttl: ttl}
}

// cached returns the projection stored under key or builds it with load and
// stores it for the cache TTL. Cache outages degrade to a load; an entry
// that cannot be decoded is a serialization error.
func cached[T any](ctx context.Context, c *viewCache, family, key string, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		logging.WarnContext(ctx, "Cache read failed", "key", key, "error", err)
		found = false
	}
	metrics.RecordCacheLookup(family, found)
	if found {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return zero, fmt.Errorf("%w: decoding %s: %v", domain.ErrSerialization, key, err)
		}
		return v, nil
	}

	// The shared load outlives any one caller; each caller decodes its own copy.
	ch := c.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding %s: %v", domain.ErrSerialization, key, err)
		}
		if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
			logging.WarnContext(ctx, "Cache write failed", "key", key, "error", err)
		}
		return raw, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		var v T
		if err := json.Unmarshal(res.Val.([]byte), &v); err != nil {
			return zero, fmt.Errorf("%w: decoding %s: %v", domain.ErrSerialization, key, err)
		}
		return v, nil
	}
}

// invalidate drops key. A failure is logged; the TTL bounds the staleness.
func (c *viewCache) invalidate(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		logging.WarnContext(ctx, "Cache invalidation failed", "key", key, "error", err)
	}
}

func cardKey(id domain.CardID) string {
	return "card" + id.String()
}

func pageKey(req domain.PageRequest) string {
	return fmt.Sprintf("pageNumber:%d:limit:%d", req.Page, req.Limit)
}

func searchKey(q domain.SearchQuery, req domain.PageRequest) string {
	key := pageKey(req) + ":" + q.Text
	if q.Since != nil {
		key += ":" + q.Since.UTC().Format(time.DateOnly)
	}
	return key
}

func complaintsKey(kind domain.ComplaintType, req domain.PageRequest) string {
	filter := string(kind)
	if filter == "" {
		filter = "ALL"
	}
	return fmt.Sprintf("complaints:%d:%d:%s", req.Page, req.Limit, filter)
}
