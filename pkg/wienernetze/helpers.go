package wienernetze

import (
	"fmt"
	"strings"
	"time"
)

// FormatAddress renders the consumption location of a meter point, e.g.
// "Beispielgasse 10/2, Stockwerk 2, Tür 8, 1020 Wien".
func FormatAddress(mp MeterPoint) string {
	addr := mp.Address
	var parts []string

	if addr.Street != "" {
		street := addr.Street
		if addr.HouseNumber1 != "" {
			street += " " + addr.HouseNumber1
		}
		if addr.HouseNumber2 != "" {
			street += "/" + addr.HouseNumber2
		}
		parts = append(parts, street)
	}

	if addr.StreetAddendum != "" {
		parts = append(parts, addr.StreetAddendum)
	}

	var unit []string
	if addr.Floor != "" {
		unit = append(unit, "Stockwerk "+addr.Floor)
	}
	if addr.Building != "" {
		unit = append(unit, "Haus "+addr.Building)
	}
	if addr.Door != "" {
		unit = append(unit, "Tür "+addr.Door)
	}
	if len(unit) > 0 {
		parts = append(parts, strings.Join(unit, ", "))
	}

	if addr.PostalCode != "" && addr.City != "" {
		parts = append(parts, addr.PostalCode+" "+addr.City)
	}

	return strings.Join(parts, ", ")
}

func MeterPointID(mp MeterPoint) string {
	return mp.ID
}

// MeterPointLabel is the human readable name used when a meter point is
// selected: the formatted address followed by the last 8 characters of the id.
func MeterPointLabel(mp MeterPoint) string {
	id := mp.ID
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	addr := FormatAddress(mp)
	if addr == "" {
		return id
	}
	return fmt.Sprintf("%s (%s)", addr, id)
}

func TotalConsumption(readings []Reading) float64 {
	var total float64
	for _, r := range readings {
		total += r.Value
	}
	return total
}

// FilterValidated keeps readings with quality VAL, preserving order.
func FilterValidated(readings []Reading) []Reading {
	var out []Reading
	for _, r := range readings {
		if r.Validated() {
			out = append(out, r)
		}
	}
	return out
}

// FlattenReadings concatenates the readings of all registers in register order.
func FlattenReadings(c *Consumption) []Reading {
	if c == nil {
		return nil
	}
	var out []Reading
	for _, reg := range c.Registers {
		out = append(out, reg.Readings...)
	}
	return out
}

func TodayRange(now time.Time) (string, string) {
	today := now.Format(DateLayout)
	return today, today
}

func YesterdayRange(now time.Time) (string, string) {
	yesterday := now.AddDate(0, 0, -1).Format(DateLayout)
	return yesterday, yesterday
}

// LastDaysRange covers the given number of days ending today.
func LastDaysRange(now time.Time, days int) (string, string) {
	if days < 1 {
		days = 1
	}
	return now.AddDate(0, 0, -(days - 1)).Format(DateLayout), now.Format(DateLayout)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses the ISO 8601 timestamps used by the API, e.g.
// "2024-11-10T00:00:00.000+01:00".
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
