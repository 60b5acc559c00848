package render

import (
	"context"
	"errors"
	"fmt"

	"icalfeed/internal/model"
)

// SchemaSource looks up field definitions. Unknown fields are reported with
// an error wrapping model.ErrNotFound.
type SchemaSource interface {
	FieldDefinition(ctx context.Context, entityType, name string) (model.FieldDefinition, error)
}

// DetectKind classifies the configured date field of entityType. It runs
// once per render; every row of a view shares the same field kind.
func DetectKind(ctx context.Context, schema SchemaSource, entityType, dateField string) (model.DateFieldKind, error) {
	if dateField == "" {
		return model.DateFieldSimple, fmt.Errorf("%w: no date field configured", ErrConfig)
	}

	def, err := schema.FieldDefinition(ctx, entityType, dateField)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.DateFieldSimple, fmt.Errorf("%w: date field %q does not exist on %q", ErrConfig, dateField, entityType)
		}
		return model.DateFieldSimple, fmt.Errorf("look up date field %q: %w", dateField, err)
	}

	if def.Recurring || def.Type == model.FieldTypeDateRecur {
		return model.DateFieldRecurring, nil
	}
	return model.DateFieldSimple, nil
}
