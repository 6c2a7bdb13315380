package wienernetze

import (
	"context"
	"sync"
	"time"
)

// TestClient is an in-memory MeterReader. Errors set per meter point are
// returned by GetConsumptionData until cleared.
type TestClient struct {
	mu sync.Mutex

	MeterPoints  []MeterPoint
	Consumptions map[string]*Consumption
	AuthErr      error
	ListErr      error
	Errs         map[string]error

	AuthCalls        int
	ConsumptionCalls []ConsumptionQuery
}

type ConsumptionQuery struct {
	MeterPointID string
	From         string
	To           string
	Granularity  Granularity
}

var _ MeterReader = (*TestClient)(nil)

func CreateTestClient() *TestClient {
	mp := TestMeterPoint()
	return &TestClient{
		MeterPoints: []MeterPoint{mp},
		Consumptions: map[string]*Consumption{
			mp.ID: TestConsumption(mp.ID, 0.15, 0.12, 0.18),
		},
	}
}

func (c *TestClient) Authenticate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AuthCalls++
	return c.AuthErr
}

func (c *TestClient) GetMeterPoints(_ context.Context) ([]MeterPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	return append([]MeterPoint(nil), c.MeterPoints...), nil
}

func (c *TestClient) GetConsumptionData(_ context.Context, meterPointID, dateFrom, dateTo string, granularity Granularity) (*Consumption, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConsumptionCalls = append(c.ConsumptionCalls, ConsumptionQuery{
		MeterPointID: meterPointID,
		From:         dateFrom,
		To:           dateTo,
		Granularity:  granularity,
	})
	if err := c.Errs[meterPointID]; err != nil {
		return nil, err
	}
	cons, ok := c.Consumptions[meterPointID]
	if !ok {
		return nil, newError(KindNotFound, 404, "resource not found", nil)
	}
	return cons, nil
}

func (c *TestClient) SetError(meterPointID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Errs == nil {
		c.Errs = map[string]error{}
	}
	if err == nil {
		delete(c.Errs, meterPointID)
		return
	}
	c.Errs[meterPointID] = err
}

func (c *TestClient) SetConsumption(meterPointID string, cons *Consumption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Consumptions == nil {
		c.Consumptions = map[string]*Consumption{}
	}
	c.Consumptions[meterPointID] = cons
}

func TestMeterPoint() MeterPoint {
	return MeterPoint{
		ID:   "AT0010000000000000001000004392265",
		Name: "Wohnung",
		Address: Address{
			Street:       "Beispielgasse",
			HouseNumber1: "10",
			PostalCode:   "1020",
			City:         "Wien",
			Country:      "AT",
		},
		Device: Device{
			EquipmentNumber: "1234567890",
			DeviceNumber:    "1KFM0200012345",
		},
		Installation: Installation{
			Installation: "0001234567",
			Division:     "STROM",
			Type:         "TAGSTROM",
		},
		Idex: Idex{
			CustomerInterface: "active",
			Granularity:       string(GranularityQuarterHour),
		},
	}
}

// TestConsumption builds a single register of quarter hour readings starting
// at midnight of 2024-11-10.
func TestConsumption(meterPointID string, values ...float64) *Consumption {
	readings := make([]Reading, 0, len(values))
	for i, v := range values {
		readings = append(readings, Reading{
			Value:   v,
			Quality: QualityValidated,
			From:    quarterHour(i),
			To:      quarterHour(i + 1),
		})
	}
	return &Consumption{
		MeterPointID: meterPointID,
		Registers: []Register{{
			ObisCode: "1-1:1.9.0",
			Unit:     "KWH",
			Readings: readings,
		}},
	}
}

var testDay = time.Date(2024, 11, 10, 0, 0, 0, 0, time.FixedZone("CET", 3600))

func quarterHour(i int) string {
	return testDay.Add(time.Duration(i) * 15 * time.Minute).Format("2006-01-02T15:04:05.000-07:00")
}

func (c *TestClient) ConsumptionCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ConsumptionCalls)
}
