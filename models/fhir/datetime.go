package fhir

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Precision of a FHIR date or dateTime value as it was received.
type Precision string

const (
	PrecisionYear  Precision = "YYYY"
	PrecisionMonth Precision = "YYYY-MM"
	PrecisionDay   Precision = "YYYY-MM-DD"
	PrecisionFull  Precision = "FULL"
)

// DateTime represents a FHIR date or dateTime, keeping the precision of the source
// so it can be rendered back the same way.
type DateTime struct {
	time.Time
	Precision Precision
}

var partialLayouts = map[int]struct {
	layout    string
	precision Precision
}{
	4:  {"2006", PrecisionYear},
	7:  {"2006-01", PrecisionMonth},
	10: {"2006-01-02", PrecisionDay},
}

var fullLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
}

// ParseDateTime parses any of the FHIR date/dateTime forms.
func ParseDateTime(s string) (DateTime, error) {
	if p, ok := partialLayouts[len(s)]; ok {
		if t, err := time.Parse(p.layout, s); err == nil {
			return DateTime{Time: t, Precision: p.precision}, nil
		}
	}

	var lastErr error
	for _, layout := range fullLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return DateTime{Time: t, Precision: PrecisionFull}, nil
		}
		lastErr = err
	}
	return DateTime{}, fmt.Errorf("invalid datetime format: %s (last error: %v)", s, lastErr)
}

func (d DateTime) String() string {
	if d.Time.IsZero() {
		return ""
	}

	switch d.Precision {
	case PrecisionYear:
		return d.Time.Format("2006")
	case PrecisionMonth:
		return d.Time.Format("2006-01")
	case PrecisionDay:
		return d.Time.Format("2006-01-02")
	default:
		return d.Time.Format("2006-01-02T15:04:05.000Z07:00")
	}
}

func (d DateTime) MarshalJSON() ([]byte, error) {
	if d.Time.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(d.String())
}

func (d *DateTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = DateTime{}
		return nil
	}

	parsed, err := ParseDateTime(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
