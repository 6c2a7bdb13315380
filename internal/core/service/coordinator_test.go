package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 11, 10, 12, 0, 0, 0, time.Local)

func newTestCoordinator(api *wienernetze.TestClient, opts ...CoordinatorOption) *Coordinator {
	opts = append([]CoordinatorOption{
		WithNow(func() time.Time { return fixedNow }),
		WithLogger(zap.NewNop()),
	}, opts...)
	return NewCoordinator(api, api.MeterPoints, opts...)
}

type memSink struct {
	mu     sync.Mutex
	stored map[string][]wienernetze.Reading
	err    error
}

func (s *memSink) PutReadings(id string, readings []wienernetze.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.stored == nil {
		s.stored = map[string][]wienernetze.Reading{}
	}
	s.stored[id] = readings
	return nil
}

func TestRefreshSuccess(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	api := wienernetze.CreateTestClient()
	c := newTestCoordinator(api)
	mp := wienernetze.TestMeterPoint()

	require.NoError(c.Refresh(context.Background()))

	assert.True(c.LastUpdateSuccess())
	assert.NoError(c.LastError())
	assert.Equal(fixedNow, c.LastUpdate())

	md, ok := c.GetMeterData(mp.ID)
	require.True(ok)
	assert.Equal(mp, md.MeterPoint)
	assert.Equal(fixedNow, md.LastUpdate)
	assert.InDelta(0.45, c.GetTotalConsumptionToday(mp.ID), 1e-9)
	assert.InDelta(0.45, c.GetValidatedConsumptionToday(mp.ID), 1e-9)

	latest, ok := c.GetLatestReading(mp.ID)
	require.True(ok)
	assert.Equal(0.18, latest.Value)

	require.Len(api.ConsumptionCalls, 1)
	q := api.ConsumptionCalls[0]
	assert.Equal(mp.ID, q.MeterPointID)
	assert.Equal("2024-11-10", q.From)
	assert.Equal("2024-11-10", q.To)
	assert.Equal(wienernetze.GranularityQuarterHour, q.Granularity)
}

func TestRefreshNoMeterPoints(t *testing.T) {
	assert := assert.New(t)

	api := wienernetze.CreateTestClient()
	c := NewCoordinator(api, nil)

	assert.NoError(c.Refresh(context.Background()))
	assert.True(c.LastUpdateSuccess())
	assert.NotNil(c.Data())
	assert.Empty(c.Data())
	assert.Empty(api.ConsumptionCalls)
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	api := wienernetze.CreateTestClient()
	c := newTestCoordinator(api)
	mp := wienernetze.TestMeterPoint()

	require.NoError(c.Refresh(context.Background()))
	before := c.Data()

	api.SetConsumption(mp.ID, wienernetze.TestConsumption(mp.ID, 9, 9))
	api.SetError(mp.ID, &wienernetze.Error{Kind: wienernetze.KindConnection, Message: "connection reset"})

	err := c.Refresh(context.Background())
	require.Error(err)
	assert.ErrorIs(err, ErrUpdateFailed)
	assert.ErrorIs(err, wienernetze.ErrConnection)
	assert.NotErrorIs(err, ErrReauthRequired)

	assert.False(c.LastUpdateSuccess())
	assert.Equal(err, c.LastError())
	assert.Equal(before, c.Data())
	assert.InDelta(0.45, c.GetTotalConsumptionToday(mp.ID), 1e-9)

	// recovery publishes the new data
	api.SetError(mp.ID, nil)
	require.NoError(c.Refresh(context.Background()))
	assert.True(c.LastUpdateSuccess())
	assert.InDelta(18.0, c.GetTotalConsumptionToday(mp.ID), 1e-9)
}

func TestRefreshErrorTranslation(t *testing.T) {
	mp := wienernetze.TestMeterPoint()
	cases := []struct {
		name   string
		err    error
		reauth bool
	}{
		{"auth", &wienernetze.Error{Kind: wienernetze.KindAuth, Message: "invalid credentials"}, true},
		{"timeout", &wienernetze.Error{Kind: wienernetze.KindTimeout, Message: "request timeout"}, false},
		{"rate limit", &wienernetze.Error{Kind: wienernetze.KindRateLimit, StatusCode: 429}, false},
		{"not found", &wienernetze.Error{Kind: wienernetze.KindNotFound, StatusCode: 404}, false},
		{"server", &wienernetze.Error{Kind: wienernetze.KindAPI, StatusCode: 500}, false},
		{"foreign", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := wienernetze.CreateTestClient()
			api.SetError(mp.ID, tc.err)
			c := newTestCoordinator(api)

			err := c.Refresh(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)
			if tc.reauth {
				assert.ErrorIs(t, err, ErrReauthRequired)
				assert.NotErrorIs(t, err, ErrUpdateFailed)
			} else {
				assert.ErrorIs(t, err, ErrUpdateFailed)
				assert.NotErrorIs(t, err, ErrReauthRequired)
			}
			assert.Nil(t, c.Data())
			assert.False(t, c.LastUpdateSuccess())
		})
	}
}

func TestRefreshFailsWholeCycle(t *testing.T) {
	assert := assert.New(t)

	first := wienernetze.TestMeterPoint()
	second := wienernetze.MeterPoint{ID: "AT0010000000000000001000009999999"}
	api := wienernetze.CreateTestClient()
	api.MeterPoints = append(api.MeterPoints, second)
	api.SetError(second.ID, &wienernetze.Error{Kind: wienernetze.KindNotFound, StatusCode: 404})

	c := newTestCoordinator(api)
	assert.Error(c.Refresh(context.Background()))

	_, ok := c.GetMeterData(first.ID)
	assert.False(ok, "partial data must not be published")
	assert.Len(api.ConsumptionCalls, 2)
}

func TestAccessorsWithoutData(t *testing.T) {
	assert := assert.New(t)

	c := newTestCoordinator(wienernetze.CreateTestClient())

	_, ok := c.GetMeterData("unknown")
	assert.False(ok)
	_, ok = c.GetLatestReading("unknown")
	assert.False(ok)
	assert.Equal(0.0, c.GetTotalConsumptionToday("unknown"))
	assert.Equal(0.0, c.GetValidatedConsumptionToday("unknown"))
}

func TestValidatedConsumptionSkipsEstimates(t *testing.T) {
	api := wienernetze.CreateTestClient()
	mp := wienernetze.TestMeterPoint()
	cons := wienernetze.TestConsumption(mp.ID, 1, 2, 3)
	cons.Registers[0].Readings[2].Quality = wienernetze.QualityEstimated
	api.SetConsumption(mp.ID, cons)

	c := newTestCoordinator(api)
	require.NoError(t, c.Refresh(context.Background()))

	assert.InDelta(t, 6.0, c.GetTotalConsumptionToday(mp.ID), 1e-9)
	assert.InDelta(t, 3.0, c.GetValidatedConsumptionToday(mp.ID), 1e-9)
	latest, _ := c.GetLatestReading(mp.ID)
	assert.False(t, latest.Validated())
}

func TestRefreshStoresReadings(t *testing.T) {
	sink := &memSink{}
	api := wienernetze.CreateTestClient()
	mp := wienernetze.TestMeterPoint()

	c := newTestCoordinator(api, WithReadingSink(sink))
	require.NoError(t, c.Refresh(context.Background()))
	assert.Len(t, sink.stored[mp.ID], 3)

	// sink failures never fail a cycle
	sink.err = errors.New("disk full")
	assert.NoError(t, c.Refresh(context.Background()))
	assert.True(t, c.LastUpdateSuccess())
}

type orderedSink struct {
	log *[]string
}

func (s orderedSink) PutReadings(id string, _ []wienernetze.Reading) error {
	*s.log = append(*s.log, "store "+id)
	return nil
}

func TestReadingsStoredBeforeObserver(t *testing.T) {
	var log []string
	api := wienernetze.CreateTestClient()
	mp := wienernetze.TestMeterPoint()
	c := newTestCoordinator(api,
		WithReadingSink(orderedSink{log: &log}),
		WithCycleObserver(func(result string, _ time.Duration, _ Snapshot) {
			log = append(log, "observe "+result)
		}))

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, []string{"store " + mp.ID, "observe " + CycleResultSuccess}, log)

	// failed cycles store nothing
	api.SetError(mp.ID, &wienernetze.Error{Kind: wienernetze.KindTimeout})
	require.Error(t, c.Refresh(context.Background()))
	assert.Equal(t, []string{"store " + mp.ID, "observe " + CycleResultSuccess, "observe " + CycleResultUpdateFailed}, log)
}

func TestCycleObserver(t *testing.T) {
	assert := assert.New(t)

	var results []string
	var lastSnapshot Snapshot
	api := wienernetze.CreateTestClient()
	mp := wienernetze.TestMeterPoint()
	c := newTestCoordinator(api, WithCycleObserver(func(result string, _ time.Duration, s Snapshot) {
		results = append(results, result)
		lastSnapshot = s
	}))

	assert.NoError(c.Refresh(context.Background()))
	api.SetError(mp.ID, &wienernetze.Error{Kind: wienernetze.KindAuth})
	assert.Error(c.Refresh(context.Background()))
	api.SetError(mp.ID, &wienernetze.Error{Kind: wienernetze.KindTimeout})
	assert.Error(c.Refresh(context.Background()))

	assert.Equal([]string{CycleResultSuccess, CycleResultReauthRequired, CycleResultUpdateFailed}, results)
	assert.Contains(lastSnapshot, mp.ID)
}

func TestConcurrentRefreshAndReads(t *testing.T) {
	api := wienernetze.CreateTestClient()
	mp := wienernetze.TestMeterPoint()
	c := newTestCoordinator(api)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Refresh(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = c.GetTotalConsumptionToday(mp.ID)
			_ = c.Data()
		}()
	}
	wg.Wait()

	assert.True(t, c.LastUpdateSuccess())
	assert.Len(t, api.ConsumptionCalls, 8)
}
