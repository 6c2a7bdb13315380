package server

import (
	"fmt"
	"time"

	"github.com/berfenger/wienernetze2mqtt/internal/core/service"
	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"

	lru "github.com/hashicorp/golang-lru"
)

// HistoryCache keeps recent history query results. Every successful poll
// may add readings, so the cache is purged after it.
type HistoryCache struct {
	cache *lru.Cache
}

func NewHistoryCache(size int) (*HistoryCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("could not create history cache: %w", err)
	}
	return &HistoryCache{cache: cache}, nil
}

func (h *HistoryCache) get(meterID string, from, to time.Time) ([]wienernetze.Reading, bool) {
	if h == nil {
		return nil, false
	}
	v, ok := h.cache.Get(cacheKey(meterID, from, to))
	if !ok {
		return nil, false
	}
	return v.([]wienernetze.Reading), true
}

func (h *HistoryCache) add(meterID string, from, to time.Time, readings []wienernetze.Reading) {
	if h == nil {
		return
	}
	h.cache.Add(cacheKey(meterID, from, to), readings)
}

func (h *HistoryCache) Len() int {
	if h == nil {
		return 0
	}
	return h.cache.Len()
}

// ObserveCycle matches service.CycleObserver.
func (h *HistoryCache) ObserveCycle(result string, _ time.Duration, _ service.Snapshot) {
	if h != nil && result == service.CycleResultSuccess {
		h.cache.Purge()
	}
}

func cacheKey(meterID string, from, to time.Time) string {
	return fmt.Sprintf("%s|%d|%d", meterID, from.Unix(), to.Unix())
}
