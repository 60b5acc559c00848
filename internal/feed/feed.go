// Package feed renders a configured view into an ICS document.
package feed

import (
	"context"
	"fmt"
	"io"

	"icalfeed/internal/config"
	"icalfeed/internal/ics"
	"icalfeed/internal/model"
	"icalfeed/internal/render"
	"icalfeed/internal/store"
)

// RowSource runs view queries.
type RowSource interface {
	Rows(ctx context.Context, vq store.ViewQuery) ([]model.Entity, error)
}

// Renderer maps view rows to event drafts.
type Renderer interface {
	Render(ctx context.Context, req render.Request) (render.Result, error)
}

type Service struct {
	rows     RowSource
	renderer Renderer
}

func NewService(rows RowSource, renderer Renderer) *Service {
	return &Service{rows: rows, renderer: renderer}
}

// Write queries the rows of view, renders them for viewerTZ and writes the
// calendar to w. Nothing is written when rendering fails.
func (s *Service) Write(ctx context.Context, w io.Writer, view config.View, viewerTZ string) (render.Result, error) {
	rows, err := s.rows.Rows(ctx, store.ViewQuery{
		EntityType: view.EntityType,
		SortField:  view.SortField,
		Descending: view.SortDesc,
		Limit:      view.Limit,
	})
	if err != nil {
		return render.Result{}, fmt.Errorf("load rows of view %q: %w", view.ID, err)
	}

	res, err := s.renderer.Render(ctx, render.Request{View: view, Rows: rows, ViewerTimezone: viewerTZ})
	if err != nil {
		return render.Result{}, err
	}

	name := view.Title
	if name == "" {
		name = view.ID
	}
	if err := ics.WriteFeed(w, ics.Feed{Name: name, Location: res.Location, Drafts: res.Drafts}); err != nil {
		return render.Result{}, err
	}
	return res, nil
}
