package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalfeed/internal/model"
)

func strPtr(s string) *string { return &s }

func TestWriteFeed_TimezoneAttachedEvents(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start := time.Date(2024, 1, 10, 5, 0, 0, 0, ny)
	end := start.Add(time.Hour)
	drafts := []model.EventDraft{
		{
			Summary:     strPtr("Board meeting"),
			Location:    strPtr("Room 4"),
			Description: strPtr("Quarterly review"),
			Start:       start,
			End:         &end,
			UseTimezone: true,
			EntityID:    "n1",
		},
		{
			Start:       start.AddDate(0, 0, 1),
			UseTimezone: true,
			EntityID:    "n2",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFeed(&buf, Feed{Name: "Events", Location: ny, Drafts: drafts}))

	cal, err := ical.ParseCalendar(strings.NewReader(buf.String()))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, "Board meeting", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "Room 4", first.GetProperty(ical.ComponentPropertyLocation).Value)
	assert.Equal(t, "Quarterly review", first.GetProperty(ical.ComponentPropertyDescription).Value)

	dtStart := first.GetProperty(ical.ComponentPropertyDtStart)
	require.NotNil(t, dtStart)
	assert.Equal(t, "20240110T050000", dtStart.Value)
	assert.Equal(t, []string{"America/New_York"}, dtStart.ICalParameters["TZID"])
	assert.Equal(t, "20240110T060000", first.GetProperty(ical.ComponentPropertyDtEnd).Value)

	second := events[1]
	assert.Nil(t, second.GetProperty(ical.ComponentPropertySummary), "unset summary is not serialized")
	assert.Nil(t, second.GetProperty(ical.ComponentPropertyDtEnd), "unset end is not serialized")

	assert.Contains(t, buf.String(), "X-WR-CALNAME:Events")
	assert.Contains(t, buf.String(), "X-WR-TIMEZONE:America/New_York")
}

func TestWriteFeed_UTCUsesZuluForm(t *testing.T) {
	start := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, WriteFeed(&buf, Feed{Drafts: []model.EventDraft{{Start: start, UseTimezone: true, EntityID: "n1"}}}))

	cal, err := ical.ParseCalendar(strings.NewReader(buf.String()))
	require.NoError(t, err)
	require.Len(t, cal.Events(), 1)
	assert.Equal(t, "20240110T100000Z", cal.Events()[0].GetProperty(ical.ComponentPropertyDtStart).Value)
}

func TestWriteFeed_AllDayUsesDateValues(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start := time.Date(2025, 7, 4, 0, 0, 0, 0, ny)
	end := start.AddDate(0, 0, 1)

	var buf bytes.Buffer
	require.NoError(t, WriteFeed(&buf, Feed{Location: ny, Drafts: []model.EventDraft{
		{Start: start, End: &end, AllDay: true, UseTimezone: true, EntityID: "h1"},
	}}))

	cal, err := ical.ParseCalendar(strings.NewReader(buf.String()))
	require.NoError(t, err)
	require.Len(t, cal.Events(), 1)

	dtStart := cal.Events()[0].GetProperty(ical.ComponentPropertyDtStart)
	assert.Equal(t, "20250704", dtStart.Value)
	assert.Equal(t, []string{"DATE"}, dtStart.ICalParameters["VALUE"])
	assert.Nil(t, dtStart.ICalParameters["TZID"])
	assert.Equal(t, "20250705", cal.Events()[0].GetProperty(ical.ComponentPropertyDtEnd).Value)
}

func TestWriteFeed_LocalZoneWrittenAsUTC(t *testing.T) {
	start := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, WriteFeed(&buf, Feed{Drafts: []model.EventDraft{
		{Start: start.In(time.Local), UseTimezone: true, EntityID: "n1"},
	}}))
	assert.NotContains(t, buf.String(), "TZID=Local")
	assert.Contains(t, buf.String(), "DTSTART:20240110T100000Z")
}

func TestEventUID_StableAndDistinct(t *testing.T) {
	start := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	a := model.EventDraft{EntityID: "n1", Sequence: 0, Start: start}
	b := model.EventDraft{EntityID: "n1", Sequence: 1, Start: start}

	assert.Equal(t, eventUID(a), eventUID(a))
	assert.NotEqual(t, eventUID(a), eventUID(b))
	assert.True(t, strings.HasSuffix(eventUID(a), "@icalfeed"))
}
