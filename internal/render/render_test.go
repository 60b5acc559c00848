package render

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalfeed/internal/config"
	"icalfeed/internal/model"
)

type stubSchema map[string]model.FieldDefinition

func (s stubSchema) FieldDefinition(_ context.Context, entityType, name string) (model.FieldDefinition, error) {
	def, ok := s[entityType+"."+name]
	if !ok {
		return model.FieldDefinition{}, model.ErrNotFound
	}
	return def, nil
}

var testSchema = stubSchema{
	"event.field_date":  {EntityType: "event", Name: "field_date", Type: model.FieldTypeDaterange},
	"series.field_date": {EntityType: "series", Name: "field_date", Type: model.FieldTypeDateRecur, Recurring: true},
	"legacy.field_date": {EntityType: "legacy", Name: "field_date", Type: model.FieldTypeDatetime, Recurring: true},
}

func testView(entityType string) config.View {
	return config.View{
		ID:         "events",
		EntityType: entityType,
		RowPlugin:  config.RowPluginFields,
		Fields:     mapping,
	}
}

func TestDetectKind(t *testing.T) {
	ctx := context.Background()

	kind, err := DetectKind(ctx, testSchema, "event", "field_date")
	require.NoError(t, err)
	assert.Equal(t, model.DateFieldSimple, kind)

	kind, err = DetectKind(ctx, testSchema, "series", "field_date")
	require.NoError(t, err)
	assert.Equal(t, model.DateFieldRecurring, kind)

	kind, err = DetectKind(ctx, testSchema, "legacy", "field_date")
	require.NoError(t, err)
	assert.Equal(t, model.DateFieldRecurring, kind)

	_, err = DetectKind(ctx, testSchema, "event", "field_missing")
	assert.ErrorIs(t, err, ErrConfig)

	_, err = DetectKind(ctx, testSchema, "event", "")
	assert.ErrorIs(t, err, ErrConfig)
}

type failingSchema struct{}

func (failingSchema) FieldDefinition(context.Context, string, string) (model.FieldDefinition, error) {
	return model.FieldDefinition{}, errors.New("database is locked")
}

func TestDetectKind_StoreFailureIsNotConfigError(t *testing.T) {
	_, err := DetectKind(context.Background(), failingSchema{}, "event", "field_date")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConfig)
}

func TestResolveTimezone(t *testing.T) {
	loc, err := ResolveTimezone("UTC", model.DateFieldSettings{TimezoneOverride: "America/New_York"})
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	loc, err = ResolveTimezone("Asia/Seoul", model.DateFieldSettings{})
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", loc.String())

	loc, err = ResolveTimezone("", model.DateFieldSettings{})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = ResolveTimezone("UTC", model.DateFieldSettings{TimezoneOverride: "Nowhere/Town"})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = ResolveTimezone("Nowhere/Town", model.DateFieldSettings{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = ResolveTimezone("UTC", model.DateFieldSettings{TimezoneOverride: "Local"})
	assert.ErrorIs(t, err, ErrConfig, "the host zone has no portable TZID")
	_, err = ResolveTimezone("Local", model.DateFieldSettings{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRender_ConcatenatesRowsInOrder(t *testing.T) {
	r := NewRenderer(testSchema, stubExpander{})
	rows := []model.Entity{
		dateEntity("a", model.FieldItem{model.PropValue: "2024-06-02T09:00:00"}),
		dateEntity("b"),
		dateEntity("c",
			model.FieldItem{model.PropValue: "2024-06-01T09:00:00"},
			model.FieldItem{model.PropValue: "2024-06-03T09:00:00", model.PropEndValue: "2024-06-03T10:00:00"},
		),
	}

	res, err := r.Render(context.Background(), Request{View: testView("event"), Rows: rows, ViewerTimezone: "UTC"})
	require.NoError(t, err)
	require.Len(t, res.Drafts, 3)

	assert.Equal(t, model.DateFieldSimple, res.Kind)
	assert.Equal(t, []string{"a", "c", "c"}, []string{res.Drafts[0].EntityID, res.Drafts[1].EntityID, res.Drafts[2].EntityID})
	assert.Empty(t, res.Warnings)
}

func TestRender_TimezoneOverride(t *testing.T) {
	r := NewRenderer(testSchema, stubExpander{})
	view := testView("event")
	view.DateFieldSettings.TimezoneOverride = "America/New_York"

	rows := []model.Entity{dateEntity("a", model.FieldItem{
		model.PropValue:    "2024-01-10T10:00:00",
		model.PropEndValue: "2024-01-10T11:00:00",
	})}

	res, err := r.Render(context.Background(), Request{View: view, Rows: rows, ViewerTimezone: "UTC"})
	require.NoError(t, err)
	require.Len(t, res.Drafts, 1)

	assert.Equal(t, "America/New_York", res.Location.String())
	assert.Equal(t, "America/New_York", res.Drafts[0].Start.Location().String())
	assert.Equal(t, "America/New_York", res.Drafts[0].End.Location().String())
	assertWallClock(t, "2024-01-10 05:00", res.Drafts[0].Start)
}

func TestRender_RecurringField(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	expander := stubExpander{byRule: map[string][]model.Occurrence{
		"daily": {
			{Start: base, End: base.Add(time.Hour)},
			{Start: base.AddDate(0, 0, 1), End: base.AddDate(0, 0, 1).Add(time.Hour)},
		},
	}}
	r := NewRenderer(testSchema, expander)

	rows := []model.Entity{dateEntity("s", model.FieldItem{model.PropRRule: "daily"})}
	res, err := r.Render(context.Background(), Request{View: testView("series"), Rows: rows})
	require.NoError(t, err)

	assert.Equal(t, model.DateFieldRecurring, res.Kind)
	require.Len(t, res.Drafts, 2)
	for _, d := range res.Drafts {
		assert.NotNil(t, d.End)
	}
}

func TestRender_UnknownDateFieldFails(t *testing.T) {
	r := NewRenderer(testSchema, stubExpander{})
	view := testView("event")
	view.Fields.DateField = "field_nope"

	res, err := r.Render(context.Background(), Request{
		View: view,
		Rows: []model.Entity{dateEntity("a", model.FieldItem{model.PropValue: "2024-01-10T10:00:00"})},
	})
	require.ErrorIs(t, err, ErrConfig)
	assert.Empty(t, res.Drafts)
}

func TestRender_MalformedRowAbortsWithoutPartialOutput(t *testing.T) {
	r := NewRenderer(testSchema, stubExpander{})
	rows := []model.Entity{
		dateEntity("ok", model.FieldItem{model.PropValue: "2024-01-10T10:00:00"}),
		dateEntity("bad", model.FieldItem{model.PropValue: "not a date"}),
	}

	res, err := r.Render(context.Background(), Request{View: testView("event"), Rows: rows})
	require.ErrorIs(t, err, ErrMalformedData)
	assert.Nil(t, res.Drafts)
}

func TestRender_MissingRowPluginWarns(t *testing.T) {
	r := NewRenderer(testSchema, stubExpander{})
	view := testView("event")
	view.RowPlugin = ""

	res, err := r.Render(context.Background(), Request{
		View: view,
		Rows: []model.Entity{dateEntity("a", model.FieldItem{model.PropValue: "2024-01-10T10:00:00"})},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Drafts)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "missing row plugin")
}

func TestRender_UnsupportedRowPlugin(t *testing.T) {
	r := NewRenderer(testSchema, stubExpander{})
	view := testView("event")
	view.RowPlugin = "rendered_entity"

	_, err := r.Render(context.Background(), Request{View: view})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRender_Idempotent(t *testing.T) {
	r := NewRenderer(testSchema, stubExpander{})
	req := Request{
		View: testView("event"),
		Rows: []model.Entity{dateEntity("a",
			model.FieldItem{model.PropValue: "2024-01-10T10:00:00", model.PropEndValue: "2024-01-10T12:00:00"},
		)},
		ViewerTimezone: "Europe/Paris",
	}

	first, err := r.Render(context.Background(), req)
	require.NoError(t, err)
	second, err := r.Render(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, second.Drafts, len(first.Drafts))
	for i := range first.Drafts {
		a, b := first.Drafts[i], second.Drafts[i]
		assert.True(t, a.Start.Equal(b.Start))
		assert.True(t, a.End.Equal(*b.End))
		assert.Equal(t, *a.Summary, *b.Summary)
		assert.Equal(t, a.Start.Location().String(), b.Start.Location().String())
	}
}
