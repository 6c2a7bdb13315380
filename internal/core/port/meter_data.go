package port

import (
	"context"
	"time"

	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"
)

// MeterDataSource is what the coordinator polls.
type MeterDataSource interface {
	GetConsumptionData(ctx context.Context, meterPointID, dateFrom, dateTo string,
		granularity wienernetze.Granularity) (*wienernetze.Consumption, error)
}

// ReadingSink receives the readings of every successful poll cycle.
type ReadingSink interface {
	PutReadings(meterPointID string, readings []wienernetze.Reading) error
}

// ReadingHistory serves previously stored readings.
type ReadingHistory interface {
	Readings(meterPointID string, from, to time.Time) ([]wienernetze.Reading, error)
}

// MeterCoordinator is the polling state the actors drive and read from.
type MeterCoordinator interface {
	Refresh(ctx context.Context) error
	MeterPoints() []wienernetze.MeterPoint
	GetLatestReading(meterPointID string) (wienernetze.Reading, bool)
	GetTotalConsumptionToday(meterPointID string) float64
	GetValidatedConsumptionToday(meterPointID string) float64
	LastUpdateSuccess() bool
	LastError() error
	LastUpdate() time.Time
}
