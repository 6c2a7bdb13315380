package wienernetze

import "time"

type Granularity string

const (
	GranularityQuarterHour Granularity = "QUARTER_HOUR"
	GranularityDay         Granularity = "DAY"
	GranularityMeterRead   Granularity = "METER_READ"
)

func (g Granularity) Valid() bool {
	switch g {
	case GranularityQuarterHour, GranularityDay, GranularityMeterRead:
		return true
	}
	return false
}

type Quality string

const (
	// validated actual value
	QualityValidated Quality = "VAL"
	// estimated or calculated value
	QualityEstimated Quality = "EST"
)

const (
	DefaultScanInterval = 15 * time.Minute
	DateLayout          = "2006-01-02"
)

// Address of the consumption location (Verbrauchsstelle).
type Address struct {
	Building       string `json:"haus"`
	HouseNumber1   string `json:"hausnummer1"`
	HouseNumber2   string `json:"hausnummer2"`
	Country        string `json:"land"`
	City           string `json:"ort"`
	PostalCode     string `json:"postleitzahl"`
	Floor          string `json:"stockwerk"`
	Street         string `json:"strasse"`
	StreetAddendum string `json:"strasseZusatz"`
	Door           string `json:"tuernummer"`
}

type Device struct {
	EquipmentNumber string `json:"equipmentnummer"`
	DeviceNumber    string `json:"geraetenummer"`
}

type Installation struct {
	Installation string `json:"anlage"`
	Division     string `json:"sparte"`
	Type         string `json:"typ"`
}

// Idex describes the customer interface capabilities of a smart meter.
type Idex struct {
	CustomerInterface string `json:"customerInterface"`
	DisplayLocked     bool   `json:"displayLocked"`
	Granularity       string `json:"granularity"`
}

// MeterPoint is a Zaehlpunkt as returned by the zaehlpunkte endpoint.
type MeterPoint struct {
	ID           string       `json:"zaehlpunktnummer"`
	Name         string       `json:"zaehlpunktname,omitempty"`
	Address      Address      `json:"verbrauchsstelle"`
	Device       Device       `json:"geraet"`
	Installation Installation `json:"anlage"`
	Idex         Idex         `json:"idex"`
}

// Reading is a single Messwert. Timestamps are kept as sent by the API,
// use Start and End to parse them.
type Reading struct {
	Value   float64 `json:"messwert"`
	Quality Quality `json:"qualitaet"`
	From    string  `json:"zeitVon"`
	To      string  `json:"zeitBis"`
}

func (r Reading) Start() (time.Time, error) {
	return ParseTimestamp(r.From)
}

func (r Reading) End() (time.Time, error) {
	return ParseTimestamp(r.To)
}

func (r Reading) Validated() bool {
	return r.Quality == QualityValidated
}

// Register is a Zaehlwerk identified by its OBIS code.
type Register struct {
	ObisCode string    `json:"obisCode"`
	Unit     string    `json:"einheit"`
	Readings []Reading `json:"messwerte"`
}

// Consumption is the messwerte response for one meter point and query window.
type Consumption struct {
	MeterPointID string     `json:"zaehlpunkt"`
	Registers    []Register `json:"zaehlwerke"`
}

// Token is an OAuth2 access token with its expiry. Both fields are always
// replaced together.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// ValidAt reports whether the token is still usable at now given a safety margin.
func (t *Token) ValidAt(now time.Time, margin time.Duration) bool {
	if t == nil || t.Value == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-margin))
}
