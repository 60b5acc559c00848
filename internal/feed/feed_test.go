package feed

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalfeed/internal/config"
	"icalfeed/internal/model"
	"icalfeed/internal/recur"
	"icalfeed/internal/render"
	"icalfeed/internal/store"
)

func seededRepo(t *testing.T) *store.Repo {
	t.Helper()
	ctx := context.Background()
	dbx, err := store.Open(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })
	repo := store.New(dbx)

	require.NoError(t, repo.DefineField(ctx, model.FieldDefinition{EntityType: "event", Name: "field_date", Type: model.FieldTypeDaterange}))
	require.NoError(t, repo.SaveEntity(ctx, model.Entity{
		ID: "n1", Type: "event", Label: "Launch",
		Fields: map[string][]model.FieldItem{
			"title":      {{model.PropValue: "Launch"}},
			"field_date": {{model.PropValue: "2024-01-10T10:00:00", model.PropEndValue: "2024-01-10T11:00:00"}},
		},
	}))
	return repo
}

var view = config.View{
	ID:         "launches",
	Title:      "Launches",
	EntityType: "event",
	SortField:  "field_date",
	RowPlugin:  config.RowPluginFields,
	Fields:     model.FieldMapping{DateField: "field_date", SummaryField: "title"},
}

func TestWrite(t *testing.T) {
	repo := seededRepo(t)
	svc := NewService(repo, render.NewRenderer(repo, recur.New(recur.Config{})))

	var buf bytes.Buffer
	res, err := svc.Write(context.Background(), &buf, view, "America/New_York")
	require.NoError(t, err)
	require.Len(t, res.Drafts, 1)

	out := buf.String()
	assert.Contains(t, out, "X-WR-CALNAME:Launches")
	assert.Contains(t, out, "SUMMARY:Launch")
	assert.Contains(t, out, "DTSTART;TZID=America/New_York:20240110T050000")
	assert.Contains(t, out, "DTEND;TZID=America/New_York:20240110T060000")
}

func TestWrite_ConfigErrorWritesNothing(t *testing.T) {
	repo := seededRepo(t)
	svc := NewService(repo, render.NewRenderer(repo, recur.New(recur.Config{})))

	broken := view
	broken.Fields.DateField = "field_missing"

	var buf bytes.Buffer
	_, err := svc.Write(context.Background(), &buf, broken, "UTC")
	assert.True(t, errors.Is(err, render.ErrConfig))
	assert.Zero(t, buf.Len())
}
