package ingest

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// dedupCache remembers recently enqueued event ids. The oldest id is evicted
// once capacity is reached.
type dedupCache struct {
	cache *lru.Cache[string, time.Time]
}

func newDedupCache(size int) (*dedupCache, error) {
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}
	return &dedupCache{cache: cache}, nil
}

// seen reports whether id was already recorded, recording it otherwise.
func (d *dedupCache) seen(id string, now time.Time) bool {
	found, _ := d.cache.ContainsOrAdd(id, now)
	return found
}

func (d *dedupCache) len() int {
	return d.cache.Len()
}
