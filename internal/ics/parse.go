package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/samber/lo"

	appLog "icalfeed/internal/log"
	"icalfeed/internal/model"
)

// ParsedEvent is the normalized form of one imported VEVENT.
type ParsedEvent struct {
	Source Source

	UID string

	Summary     string
	Description string
	Location    string

	Start   time.Time
	End     time.Time
	AllDay  bool
	StartTZ string

	RawRRule string
	ExDates  []time.Time

	// Recurrence is the RECURRENCE-ID of an overridden instance.
	Recurrence *time.Time
}

// IsOverride reports whether the event replaces one instance of a recurring
// event.
func (p ParsedEvent) IsOverride() bool {
	return p.Recurrence != nil
}

// ParseICS parses one ICS payload. VEVENTs that cannot be read are logged
// and skipped; a payload that is not a calendar is returned as an error for
// the caller to report.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics %s: %w", src.ID, err)
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "origin", src.origin())
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "origin", src.origin(), "event_count", len(events))
	return FoldOverrides(events), nil
}

// FoldOverrides adds the RECURRENCE-ID of every override to the EXDATE list
// of its master event, so the master no longer produces the replaced
// instance. Overrides stay in the result as standalone events.
func FoldOverrides(events []ParsedEvent) []ParsedEvent {
	masters := make(map[string]int)
	for i, ev := range events {
		if !ev.IsOverride() && ev.RawRRule != "" {
			masters[ev.UID] = i
		}
	}
	for _, ev := range events {
		if !ev.IsOverride() {
			continue
		}
		if i, ok := masters[ev.UID]; ok {
			events[i].ExDates = append(events[i].ExDates, *ev.Recurrence)
		}
	}
	return events
}

// EntityID is the id an event is stored under for entityType.
func (p ParsedEvent) EntityID(entityType string) string {
	id := entityType + ":" + p.UID
	if p.Recurrence != nil {
		id += "@" + p.Recurrence.UTC().Format(icalUTCLayout)
	}
	return id
}

// Entity converts the event into an entity whose fields follow mapping. The
// date field gets one item carrying value, end_value, timezone and, for
// recurring events, the RRULE and EXDATE lines. All-day events are stored
// as dates with the all_day marker so they stay whole days in any feed zone.
func (p ParsedEvent) Entity(entityType string, mapping model.FieldMapping) (model.Entity, error) {
	if mapping.DateField == "" {
		return model.Entity{}, errors.New("mapping has no date field")
	}

	format := model.FormatStoredTime
	exdate := func(t time.Time, _ int) string { return "EXDATE:" + t.UTC().Format(icalUTCLayout) }
	if p.AllDay {
		format = model.FormatStoredDate
		exdate = func(t time.Time, _ int) string { return "EXDATE;VALUE=DATE:" + t.Format(icalDateLayout) }
	}

	date := model.FieldItem{model.PropValue: format(p.Start)}
	if !p.End.IsZero() && !p.End.Before(p.Start) {
		date[model.PropEndValue] = format(p.End)
	}
	if p.AllDay {
		date[model.PropAllDay] = "1"
	} else if p.StartTZ != "" {
		if _, err := model.LoadZone(p.StartTZ); err == nil {
			date[model.PropTimezone] = p.StartTZ
		}
	}
	if p.RawRRule != "" && !p.IsOverride() {
		lines := []string{"RRULE:" + p.RawRRule}
		lines = append(lines, lo.Map(p.ExDates, exdate)...)
		date[model.PropRRule] = strings.Join(lines, "\n")
	}

	fields := map[string][]model.FieldItem{mapping.DateField: {date}}
	for name, value := range map[string]string{
		mapping.SummaryField:     p.Summary,
		mapping.LocationField:    p.Location,
		mapping.DescriptionField: p.Description,
	} {
		if name == "" || value == "" {
			continue
		}
		fields[name] = []model.FieldItem{{model.PropValue: value}}
	}

	return model.Entity{
		ID:     p.EntityID(entityType),
		Type:   entityType,
		Label:  p.Summary,
		Fields: fields,
	}, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.StartTZ = firstParam(dtStart, "TZID")
	out.AllDay = strings.EqualFold(firstParam(dtStart, "VALUE"), "DATE") || !strings.Contains(dtStart.Value, "T")

	startLoc := locationOrUTC(out.StartTZ)
	start, err := parseICSTime(dtStart.Value, startLoc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, err := parseICSTime(dtEnd.Value, locationOrUTC(firstParam(dtEnd, "TZID")))
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = end
	} else if out.AllDay {
		out.End = start.AddDate(0, 0, 1)
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = strings.TrimSpace(rruleProp.Value)
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := startLoc
		if tz := firstParam(p, "TZID"); tz != "" {
			loc = locationOrUTC(tz)
		}
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		loc := startLoc
		if tz := firstParam(rid, "TZID"); tz != "" {
			loc = locationOrUTC(tz)
		}
		if t, err := parseICSTime(rid.Value, loc); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

func firstParam(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs := p.ICalParameters[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// locationOrUTC loads tz, falling back to UTC for empty or non-IANA ids.
func locationOrUTC(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		appLog.Debug("ics: unknown TZID, using UTC", "tzid", tz)
		return time.UTC
	}
	return loc
}

// parseICSTime parses DATE, floating DATE-TIME and UTC DATE-TIME values.
// Floating and date values are read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse(icalUTCLayout, v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation(icalLocalLayout, v, loc)
	}
	return time.ParseInLocation(icalDateLayout, v, loc)
}
