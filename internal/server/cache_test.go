package server

import (
	"testing"
	"time"

	"github.com/berfenger/wienernetze2mqtt/internal/core/service"
	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilHistoryCache(t *testing.T) {
	var h *HistoryCache
	from := time.Date(2024, 11, 10, 0, 0, 0, 0, time.UTC)

	h.add("AT1", from, from.AddDate(0, 0, 1), []wienernetze.Reading{{Value: 1}})
	_, ok := h.get("AT1", from, from.AddDate(0, 0, 1))
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())
	h.ObserveCycle(service.CycleResultSuccess, 0, nil)
}

func TestHistoryCachePurgedOnSuccess(t *testing.T) {
	h, err := NewHistoryCache(4)
	require.NoError(t, err)
	from := time.Date(2024, 11, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	h.add("AT1", from, to, []wienernetze.Reading{{Value: 1}})
	readings, ok := h.get("AT1", from, to)
	require.True(t, ok)
	assert.Len(t, readings, 1)

	h.ObserveCycle(service.CycleResultUpdateFailed, time.Second, nil)
	assert.Equal(t, 1, h.Len(), "failed cycles keep the cache")

	h.ObserveCycle(service.CycleResultSuccess, time.Second, nil)
	assert.Equal(t, 0, h.Len())
}
