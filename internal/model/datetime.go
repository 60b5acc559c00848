package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layouts accepted for stored date values, tried in order.
var storedDateLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ParseStoredTime parses a stored date value. Values without an offset are
// read as UTC.
func ParseStoredTime(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}
	for _, layout := range storedDateLayouts {
		if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date %q", text)
}

// FormatStoredDate formats the calendar date of t as stored for all-day
// items.
func FormatStoredDate(t time.Time) string {
	return t.Format(storedDateLayouts[2])
}

// AnchorDate returns midnight in loc of the calendar date t holds in UTC.
func AnchorDate(t time.Time, loc *time.Location) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// LoadZone loads an IANA zone. "Local" is rejected because it names the
// host's zone, which calendar clients cannot resolve.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("empty timezone")
	}
	if strings.EqualFold(name, "Local") {
		return nil, fmt.Errorf("timezone %q is not an IANA zone", name)
	}
	return time.LoadLocation(name)
}

// FormatStoredTime formats t the way date values are stored: UTC without an
// offset suffix.
func FormatStoredTime(t time.Time) string {
	return t.UTC().Format(storedDateLayouts[0])
}
