package render

import (
	"fmt"
	"strings"
	"time"

	"icalfeed/internal/model"
)

// ResolveTimezone picks the single zone all instants of a feed are expressed
// in: the date field's override when set, otherwise the viewer's default.
func ResolveTimezone(viewerDefault string, settings model.DateFieldSettings) (*time.Location, error) {
	if override := strings.TrimSpace(settings.TimezoneOverride); override != "" {
		loc, err := model.LoadZone(override)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timezone override %q: %w", ErrConfig, override, err)
		}
		return loc, nil
	}

	name := strings.TrimSpace(viewerDefault)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := model.LoadZone(name)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid viewer timezone %q: %w", ErrConfig, name, err)
	}
	return loc, nil
}
