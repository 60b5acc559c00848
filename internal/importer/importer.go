// Package importer loads ICS calendars into the entity store so their events
// can be published through views.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"icalfeed/internal/config"
	"icalfeed/internal/ics"
	appLog "icalfeed/internal/log"
	"icalfeed/internal/model"
)

// Store is the part of the entity store the importer writes to.
type Store interface {
	DefineField(ctx context.Context, def model.FieldDefinition) error
	SaveEntity(ctx context.Context, e model.Entity) error
	DeleteEntities(ctx context.Context, entityType string, keep []string) (int, error)
}

// Fetcher loads the raw body of a source.
type Fetcher interface {
	Fetch(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Report summarizes one import run.
type Report struct {
	Sources int
	Failed  int
	Saved   int
	Deleted int
}

type Importer struct {
	store   Store
	fetcher Fetcher
}

func New(store Store, fetcher Fetcher) *Importer {
	return &Importer{store: store, fetcher: fetcher}
}

// Run imports every source. A failing source is logged and skipped; its
// error is part of the joined error returned at the end. Entities that no
// source produced any more are deleted, but only for entity types whose
// sources all succeeded.
func (im *Importer) Run(ctx context.Context, imports []config.ImportConfig) (Report, error) {
	started := time.Now()
	report := Report{Sources: len(imports)}

	var errs []error
	keep := make(map[string][]string)
	failedTypes := make(map[string]bool)

	for _, src := range imports {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		ids, err := im.importOne(ctx, src)
		if err != nil {
			appLog.Error("import failed", err, "id", src.ID, "entity_type", src.EntityType)
			errs = append(errs, fmt.Errorf("import %s: %w", src.ID, err))
			report.Failed++
			failedTypes[src.EntityType] = true
			continue
		}
		keep[src.EntityType] = append(keep[src.EntityType], ids...)
		report.Saved += len(ids)
	}

	for entityType, ids := range keep {
		if failedTypes[entityType] {
			continue
		}
		n, err := im.store.DeleteEntities(ctx, entityType, lo.Uniq(ids))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", entityType, err))
			continue
		}
		report.Deleted += n
	}

	appLog.Info("import completed",
		"sources", report.Sources,
		"failed", report.Failed,
		"saved", report.Saved,
		"deleted", report.Deleted,
		"elapsed", time.Since(started).String(),
	)
	return report, errors.Join(errs...)
}

func (im *Importer) importOne(ctx context.Context, src config.ImportConfig) ([]string, error) {
	if err := im.defineFields(ctx, src); err != nil {
		return nil, err
	}

	res, err := im.fetcher.Fetch(ctx, ics.Source{ID: src.ID, URL: src.URL, Path: src.Path})
	if err != nil {
		return nil, err
	}

	events, err := ics.ParseICS(res.Source, res.Body)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		entity, err := ev.Entity(src.EntityType, src.Fields)
		if err != nil {
			return nil, err
		}
		if err := im.store.SaveEntity(ctx, entity); err != nil {
			return nil, err
		}
		ids = append(ids, entity.ID)
	}
	return ids, nil
}

// defineFields registers the schema imported entities are written with. The
// date field always holds recurrence data.
func (im *Importer) defineFields(ctx context.Context, src config.ImportConfig) error {
	defs := []model.FieldDefinition{
		{Name: src.Fields.DateField, Type: model.FieldTypeDateRecur, Recurring: true},
		{Name: src.Fields.SummaryField, Type: model.FieldTypeString},
		{Name: src.Fields.LocationField, Type: model.FieldTypeString},
		{Name: src.Fields.DescriptionField, Type: model.FieldTypeText},
	}
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		def.EntityType = src.EntityType
		if err := im.store.DefineField(ctx, def); err != nil {
			return err
		}
	}
	return nil
}
