package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"
)

// DedupConfig holds sizing for the duplicate-delivery cache
type DedupConfig struct {
	MaxCost     int64
	NumCounters int64
	BufferItems int64
	TTL         time.Duration
}

// UpdateDeduper remembers recently processed update IDs so a duplicate or
// delayed webhook delivery is dropped before any state mutation. Entries
// expire after a short TTL; the staleness check covers anything older.
type UpdateDeduper struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewUpdateDeduper creates a deduper backed by a Ristretto TTL cache
func NewUpdateDeduper(config DedupConfig) (*UpdateDeduper, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		MaxCost:     config.MaxCost,
		NumCounters: config.NumCounters,
		BufferItems: config.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	return &UpdateDeduper{
		cache: cache,
		ttl:   config.TTL,
	}, nil
}

// Seen reports whether the update ID was already processed, recording it
// otherwise. A nil deduper never reports a duplicate.
func (d *UpdateDeduper) Seen(updateID int) bool {
	if d == nil {
		return false
	}

	key := strconv.Itoa(updateID)
	if _, found := d.cache.Get(key); found {
		return true
	}

	d.cache.SetWithTTL(key, struct{}{}, 1, d.ttl)
	// Ristretto sets are asynchronous; wait so a redelivery arriving right
	// behind the original is still caught.
	d.cache.Wait()
	return false
}
