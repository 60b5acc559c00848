package recur

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "icalfeed/internal/log"
	"icalfeed/internal/model"
)

const (
	defaultMaxOccurrences = 5000
	defaultHorizon        = 365 * 24 * time.Hour
	defaultBackfill       = 30 * 24 * time.Hour
)

// Config controls how recurrence expansion is bounded.
type Config struct {
	// MaxOccurrences is a safety cap per item. If zero,
	// defaultMaxOccurrences is used.
	MaxOccurrences int

	// Horizon / Backfill define the window [now-Backfill, now+Horizon] used
	// for rules without COUNT or UNTIL.
	Horizon  time.Duration
	Backfill time.Duration

	// Now is overridable for tests.
	Now func() time.Time
}

// Expander expands recurrence field items with rrule-go.
type Expander struct {
	cfg Config
}

// New returns an Expander, filling zero Config values with defaults.
func New(cfg Config) *Expander {
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = defaultHorizon
	}
	if cfg.Backfill < 0 {
		cfg.Backfill = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Expander{cfg: cfg}
}

// Expand returns the occurrences of one item, in chronological order.
//
// Item properties:
//
//   - value:     first occurrence start, stored in UTC
//   - end_value: first occurrence end, stored in UTC; every occurrence keeps
//     this duration
//   - rrule:     RRULE text, optionally followed by EXDATE/RDATE lines
//   - timezone:  zone the rule is evaluated in (default UTC), so that
//     wall-clock times survive DST transitions
//   - all_day:   dates are whole days; the rule runs on UTC midnights and
//     timezone is ignored
//
// An item without a rule yields its single start/end pair.
func (e *Expander) Expand(item model.FieldItem) ([]model.Occurrence, error) {
	start, err := model.ParseStoredTime(item[model.PropValue])
	if err != nil {
		return nil, fmt.Errorf("recur: start: %w", err)
	}

	end := start
	if endText := strings.TrimSpace(item[model.PropEndValue]); endText != "" {
		end, err = model.ParseStoredTime(endText)
		if err != nil {
			return nil, fmt.Errorf("recur: end: %w", err)
		}
	}
	if end.Before(start) {
		return nil, errors.New("recur: end is before start")
	}
	duration := end.Sub(start)

	allDay := item.AllDay()
	if allDay && duration == 0 {
		duration = 24 * time.Hour
	}

	loc := time.UTC
	if tz := strings.TrimSpace(item[model.PropTimezone]); tz != "" && !allDay {
		loc, err = model.LoadZone(tz)
		if err != nil {
			return nil, fmt.Errorf("recur: timezone %q: %w", tz, err)
		}
	}
	start = start.In(loc)

	rule := strings.TrimSpace(item[model.PropRRule])
	if rule == "" {
		return []model.Occurrence{{Start: start, End: start.Add(duration), AllDay: allDay}}, nil
	}

	set, bounded, err := buildSet(rule, start)
	if err != nil {
		return nil, err
	}

	var windowStart, windowEnd time.Time
	if !bounded {
		now := e.cfg.Now().In(loc)
		windowStart = now.Add(-e.cfg.Backfill)
		windowEnd = now.Add(e.cfg.Horizon)
	}

	out := make([]model.Occurrence, 0)
	next := set.Iterator()
	for {
		occStart, ok := next()
		if !ok {
			break
		}
		if !bounded {
			if occStart.After(windowEnd) {
				break
			}
			if occStart.Add(duration).Before(windowStart) {
				continue
			}
		}
		if len(out) == e.cfg.MaxOccurrences {
			appLog.Warn("recur: truncated occurrences due to cap",
				"cap", e.cfg.MaxOccurrences,
				"rrule", rule,
			)
			break
		}
		out = append(out, model.Occurrence{Start: occStart, End: occStart.Add(duration), AllDay: allDay})
	}

	return out, nil
}

// buildSet parses rule into a set anchored at start. bounded reports whether
// the rule ends by itself (COUNT or UNTIL).
func buildSet(rule string, start time.Time) (*rrule.Set, bool, error) {
	set := &rrule.Set{}
	bounded := false
	seenRule := false

	for _, line := range splitLines(rule) {
		name, value := splitProperty(line)
		switch name {
		case "RRULE":
			if seenRule {
				return nil, false, errors.New("recur: more than one RRULE")
			}
			opt, err := rrule.StrToROption(value)
			if err != nil {
				return nil, false, fmt.Errorf("recur: parse RRULE %q: %w", value, err)
			}
			opt.Dtstart = start
			r, err := rrule.NewRRule(*opt)
			if err != nil {
				return nil, false, fmt.Errorf("recur: build RRULE %q: %w", value, err)
			}
			set.RRule(r)
			bounded = opt.Count > 0 || !opt.Until.IsZero()
			seenRule = true
		case "EXDATE", "RDATE":
			dates, err := parseDateList(value, start.Location())
			if err != nil {
				return nil, false, fmt.Errorf("recur: %s: %w", name, err)
			}
			for _, d := range dates {
				if name == "EXDATE" {
					set.ExDate(d)
				} else {
					set.RDate(d)
				}
			}
		default:
			return nil, false, fmt.Errorf("recur: unsupported line %q", line)
		}
	}

	if !seenRule {
		return nil, false, errors.New("recur: no RRULE in rule text")
	}
	return set, bounded, nil
}

func splitLines(s string) []string {
	raw := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// splitProperty splits "NAME;PARAMS:VALUE". A bare "FREQ=..." line is an
// RRULE value.
func splitProperty(line string) (string, string) {
	head, value, ok := strings.Cut(line, ":")
	if !ok {
		return "RRULE", line
	}
	name, _, _ := strings.Cut(head, ";")
	return strings.ToUpper(strings.TrimSpace(name)), strings.TrimSpace(value)
}

// parseDateList parses a comma-separated EXDATE/RDATE value. Floating values
// are read in loc.
func parseDateList(value string, loc *time.Location) ([]time.Time, error) {
	var out []time.Time
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := parseICSTime(part, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}

	// Date-only, e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}
