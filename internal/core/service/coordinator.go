package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/wienernetze2mqtt/internal/core/port"
	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"

	"go.uber.org/zap"
)

var (
	// ErrReauthRequired means the credentials were rejected and must be
	// supplied again. Retrying on the next cycle will not help.
	ErrReauthRequired = errors.New("re-authentication required")
	// ErrUpdateFailed is a transient failure, the next cycle retries.
	ErrUpdateFailed = errors.New("update failed")
)

const (
	CycleResultSuccess        = "success"
	CycleResultUpdateFailed   = "update_failed"
	CycleResultReauthRequired = "reauth_required"
)

type MeterData struct {
	MeterPoint  wienernetze.MeterPoint   `json:"meter_point"`
	Consumption *wienernetze.Consumption `json:"consumption"`
	LastUpdate  time.Time                `json:"last_update"`
}

// Snapshot maps meter point ids to the data of one successful cycle.
type Snapshot map[string]MeterData

// CycleObserver is called after every cycle with its result and the
// published snapshot (the previous one when the cycle failed).
type CycleObserver func(result string, duration time.Duration, snapshot Snapshot)

// Coordinator polls the configured meter points and keeps the last good
// snapshot. Cycles are serialized, readers never block on a running cycle.
type Coordinator struct {
	api         port.MeterDataSource
	meterPoints []wienernetze.MeterPoint
	sink        port.ReadingSink
	observer    CycleObserver
	now         func() time.Time
	logger      *zap.Logger

	refreshMu sync.Mutex

	mu                sync.RWMutex
	data              Snapshot
	lastUpdateSuccess bool
	lastErr           error
	lastUpdate        time.Time
}

var _ port.MeterCoordinator = (*Coordinator)(nil)

type CoordinatorOption func(*Coordinator)

func WithReadingSink(sink port.ReadingSink) CoordinatorOption {
	return func(c *Coordinator) { c.sink = sink }
}

func WithCycleObserver(o CycleObserver) CoordinatorOption {
	return func(c *Coordinator) { c.observer = o }
}

func WithNow(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

func NewCoordinator(api port.MeterDataSource, meterPoints []wienernetze.MeterPoint, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		api:         api,
		meterPoints: append([]wienernetze.MeterPoint(nil), meterPoints...),
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) MeterPoints() []wienernetze.MeterPoint {
	return append([]wienernetze.MeterPoint(nil), c.meterPoints...)
}

// Refresh runs one poll cycle. On success the snapshot is replaced as a
// whole; on failure the previous snapshot stays published and the returned
// error wraps ErrReauthRequired or ErrUpdateFailed together with the cause.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.logger.Debug("fetching smart meter data", zap.Int("meter_points", len(c.meterPoints)))
	start := c.now()

	data, err := c.fetch(ctx)

	c.mu.Lock()
	if err != nil {
		c.lastUpdateSuccess = false
		c.lastErr = err
	} else {
		c.data = data
		c.lastUpdateSuccess = true
		c.lastErr = nil
		c.lastUpdate = c.now()
	}
	published := c.data
	c.mu.Unlock()

	if err == nil {
		c.logger.Info("updated smart meter data", zap.Int("meter_points", len(data)))
		// stored before observers run, they may drop caches built from the store
		c.storeReadings(data)
	}

	result := CycleResultSuccess
	switch {
	case errors.Is(err, ErrReauthRequired):
		result = CycleResultReauthRequired
	case err != nil:
		result = CycleResultUpdateFailed
	}
	if c.observer != nil {
		c.observer(result, c.now().Sub(start), published)
	}

	return err
}

func (c *Coordinator) fetch(ctx context.Context) (Snapshot, error) {
	data := make(Snapshot, len(c.meterPoints))
	today, _ := wienernetze.TodayRange(c.now())

	for _, mp := range c.meterPoints {
		c.logger.Debug("fetching consumption data", zap.String("meter_point", mp.ID))

		consumption, err := c.api.GetConsumptionData(ctx, mp.ID, today, today, wienernetze.GranularityQuarterHour)
		if err != nil {
			return nil, c.translateError(err)
		}

		data[mp.ID] = MeterData{
			MeterPoint:  mp,
			Consumption: consumption,
			LastUpdate:  c.now(),
		}
		c.logger.Debug("retrieved readings",
			zap.String("meter_point", mp.ID),
			zap.Int("count", len(wienernetze.FlattenReadings(consumption))))
	}
	return data, nil
}

func (c *Coordinator) translateError(err error) error {
	switch {
	case errors.Is(err, wienernetze.ErrAuth):
		c.logger.Error("authentication failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrReauthRequired, err)
	case errors.Is(err, wienernetze.ErrConnection):
		c.logger.Warn("connection failed", zap.Error(err))
		return fmt.Errorf("%w: connection error: %w", ErrUpdateFailed, err)
	case errors.Is(err, wienernetze.ErrAPI):
		c.logger.Error("api error", zap.Error(err))
		return fmt.Errorf("%w: api error: %w", ErrUpdateFailed, err)
	default:
		c.logger.Error("unexpected error", zap.Error(err))
		return fmt.Errorf("%w: unexpected error: %w", ErrUpdateFailed, err)
	}
}

func (c *Coordinator) storeReadings(data Snapshot) {
	if c.sink == nil {
		return
	}
	for id, md := range data {
		if err := c.sink.PutReadings(id, wienernetze.FlattenReadings(md.Consumption)); err != nil {
			c.logger.Warn("could not store readings", zap.String("meter_point", id), zap.Error(err))
		}
	}
}

func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdateSuccess
}

func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastUpdate is the time of the last successful cycle.
func (c *Coordinator) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Data returns a copy of the published snapshot, nil before the first
// successful cycle.
func (c *Coordinator) Data() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return nil
	}
	out := make(Snapshot, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

func (c *Coordinator) GetMeterData(meterID string) (MeterData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	md, ok := c.data[meterID]
	return md, ok
}

func (c *Coordinator) readings(meterID string) []wienernetze.Reading {
	md, ok := c.GetMeterData(meterID)
	if !ok {
		return nil
	}
	return wienernetze.FlattenReadings(md.Consumption)
}

func (c *Coordinator) GetLatestReading(meterID string) (wienernetze.Reading, bool) {
	readings := c.readings(meterID)
	if len(readings) == 0 {
		return wienernetze.Reading{}, false
	}
	return readings[len(readings)-1], true
}

func (c *Coordinator) GetTotalConsumptionToday(meterID string) float64 {
	return wienernetze.TotalConsumption(c.readings(meterID))
}

func (c *Coordinator) GetValidatedConsumptionToday(meterID string) float64 {
	return wienernetze.TotalConsumption(wienernetze.FilterValidated(c.readings(meterID)))
}
