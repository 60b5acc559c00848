package render

import (
	"context"
	"fmt"
	"time"

	"icalfeed/internal/config"
	appLog "icalfeed/internal/log"
	"icalfeed/internal/model"
)

// OccurrenceMapper turns one entity into its event drafts. Each call returns
// a freshly allocated slice owned by the caller.
type OccurrenceMapper interface {
	MapDates(entity model.Entity, mapping model.FieldMapping, loc *time.Location) ([]model.EventDraft, error)
}

// SimpleMapper maps plain date and date-range fields.
type SimpleMapper struct{}

// MapDates implements OccurrenceMapper.
func (SimpleMapper) MapDates(entity model.Entity, mapping model.FieldMapping, loc *time.Location) ([]model.EventDraft, error) {
	return MapSimpleDates(entity, mapping, loc)
}

// Request is the input of one feed render.
type Request struct {
	View config.View
	Rows []model.Entity

	// ViewerTimezone is the requesting user's default zone. Empty means UTC.
	ViewerTimezone string
}

// Result is the output of one feed render.
type Result struct {
	Drafts   []model.EventDraft
	Location *time.Location
	Kind     model.DateFieldKind

	// Warnings lists degraded-output conditions that did not fail the
	// render.
	Warnings []string
}

// Renderer runs the row-to-event pipeline for a view.
type Renderer struct {
	schema    SchemaSource
	simple    OccurrenceMapper
	recurring OccurrenceMapper
}

// NewRenderer wires a renderer around a field schema and a recurrence
// expander.
func NewRenderer(schema SchemaSource, expander Expander) *Renderer {
	return &Renderer{
		schema:    schema,
		simple:    SimpleMapper{},
		recurring: RecurringMapper{Expander: expander},
	}
}

// Render maps every row of req into drafts, concatenated in row order. On
// error no drafts are returned.
func (r *Renderer) Render(ctx context.Context, req Request) (Result, error) {
	view := req.View
	ctx = appLog.Ctx(ctx, "view", view.ID)

	switch view.RowPlugin {
	case "":
		msg := fmt.Sprintf("view %q: missing row plugin", view.ID)
		appLog.WarnCtx(ctx, "render: missing row plugin; rendering empty feed")
		return Result{Location: time.UTC, Warnings: []string{msg}}, nil
	case config.RowPluginFields:
	default:
		return Result{}, fmt.Errorf("%w: view %q: unsupported row plugin %q", ErrConfig, view.ID, view.RowPlugin)
	}

	kind, err := DetectKind(ctx, r.schema, view.EntityType, view.Fields.DateField)
	if err != nil {
		return Result{}, err
	}

	loc, err := ResolveTimezone(req.ViewerTimezone, view.DateFieldSettings)
	if err != nil {
		return Result{}, err
	}

	mapper := r.simple
	if kind == model.DateFieldRecurring {
		mapper = r.recurring
	}

	drafts := make([]model.EventDraft, 0, len(req.Rows))
	for _, row := range req.Rows {
		rowDrafts, err := mapper.MapDates(row, view.Fields, loc)
		if err != nil {
			return Result{}, err
		}
		drafts = append(drafts, rowDrafts...)
	}

	appLog.InfoCtx(ctx, "render completed",
		"kind", kind.String(),
		"timezone", loc.String(),
		"rows", len(req.Rows),
		"events", len(drafts),
	)

	return Result{
		Drafts:   drafts,
		Location: loc,
		Kind:     kind,
	}, nil
}
