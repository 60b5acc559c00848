package ics

import (
	"fmt"
	"io"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"icalfeed/internal/model"
)

const (
	productID = "-//icalfeed//icalfeed//EN"

	icalUTCLayout   = "20060102T150405Z"
	icalLocalLayout = "20060102T150405"
	icalDateLayout  = "20060102"
)

// uidNamespace seeds name-based UIDs so the same draft gets the same UID on
// every render.
var uidNamespace = uuid.MustParse("6f1c9a52-3f0e-4a57-9d8e-4bb1f0c1d2a7")

// Feed is everything needed to serialize one rendered view.
type Feed struct {
	Name     string
	Location *time.Location
	Drafts   []model.EventDraft

	// Stamp is written as DTSTAMP on every event. Zero means time.Now.
	Stamp time.Time
}

// WriteFeed serializes feed as a VCALENDAR.
func WriteFeed(w io.Writer, feed Feed) error {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if feed.Name != "" {
		cal.SetXWRCalName(feed.Name)
	}

	loc := feed.Location
	if loc == nil {
		loc = time.UTC
	}
	cal.SetXWRTimezone(loc.String())

	stamp := feed.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	for _, d := range feed.Drafts {
		ev := cal.AddEvent(eventUID(d))
		ev.SetDtStampTime(stamp)

		if d.Summary != nil {
			ev.SetSummary(*d.Summary)
		}
		if d.Location != nil {
			ev.SetLocation(*d.Location)
		}
		if d.Description != nil {
			ev.SetDescription(*d.Description)
		}

		if d.AllDay {
			setDate(ev, ical.ComponentPropertyDtStart, d.Start)
			if d.End != nil {
				setDate(ev, ical.ComponentPropertyDtEnd, *d.End)
			}
			continue
		}
		setInstant(ev, ical.ComponentPropertyDtStart, d.Start, d.UseTimezone)
		if d.End != nil {
			setInstant(ev, ical.ComponentPropertyDtEnd, *d.End, d.UseTimezone)
		}
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("ics: write feed: %w", err)
	}
	return nil
}

// setInstant writes t with a TZID parameter and wall-clock text when the
// draft uses timezones and t is in a named zone; otherwise in UTC "Z" form.
// The process-local zone has no portable name, so it is written as UTC.
func setInstant(ev *ical.VEvent, prop ical.ComponentProperty, t time.Time, useTimezone bool) {
	name := t.Location().String()
	if !useTimezone || name == "UTC" || name == "" || t.Location() == time.Local {
		ev.SetProperty(prop, t.UTC().Format(icalUTCLayout))
		return
	}
	ev.SetProperty(prop, t.Format(icalLocalLayout), &ical.KeyValues{Key: "TZID", Value: []string{name}})
}

// setDate writes the calendar date of t as a VALUE=DATE property.
func setDate(ev *ical.VEvent, prop ical.ComponentProperty, t time.Time) {
	ev.SetProperty(prop, t.Format(icalDateLayout), &ical.KeyValues{Key: "VALUE", Value: []string{"DATE"}})
}

func eventUID(d model.EventDraft) string {
	name := d.EntityID + "/" + strconv.Itoa(d.Sequence) + "/" + d.Start.UTC().Format(icalUTCLayout)
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + "@icalfeed"
}
