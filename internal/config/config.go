package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"icalfeed/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "UTC"
	defaultDatabase       = "./var/icalfeed.db"
	defaultCacheDir       = "./var/ics-cache"
	defaultRefreshCron    = "*/30 * * * *"
	defaultMaxOccurrences = 5000
	defaultHorizonDays    = 365
	defaultBackfillDays   = 30

	// RowPluginFields is the only row plugin the feed style understands.
	RowPluginFields = "fields"
)

// View describes one feed: which entities to query and how their fields map
// to calendar properties.
type View struct {
	// ID is the URL-safe identifier used in /feeds/{id}.ics.
	ID string `yaml:"id" json:"id"`
	// Title is used for X-WR-CALNAME and the discovery link title.
	Title string `yaml:"title" json:"title"`

	// EntityType selects the rows of the view.
	EntityType string `yaml:"entity_type" json:"entity_type"`
	SortField  string `yaml:"sort_field,omitempty" json:"sort_field,omitempty"`
	SortDesc   bool   `yaml:"sort_desc,omitempty" json:"sort_desc,omitempty"`
	Limit      int    `yaml:"limit,omitempty" json:"limit,omitempty"`

	// RowPlugin must be "fields" for the view to produce events. An empty
	// value renders an empty feed with a warning.
	RowPlugin string `yaml:"row_plugin" json:"row_plugin"`

	Fields            model.FieldMapping      `yaml:"fields" json:"fields"`
	DateFieldSettings model.DateFieldSettings `yaml:"date_field_settings,omitempty" json:"date_field_settings,omitempty"`
}

// ImportConfig describes a single ICS source whose events are written into
// the entity store.
type ImportConfig struct {
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// URL is the ICS subscription endpoint. Path is used instead when set.
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// EntityType is the type imported events are stored under.
	EntityType string `yaml:"entity_type" json:"entity_type"`
	// Fields names the entity fields the VEVENT properties are written to.
	Fields model.FieldMapping `yaml:"fields" json:"fields"`
}

// RecurrenceConfig bounds recurrence expansion.
type RecurrenceConfig struct {
	// MaxOccurrences is a safety cap per recurrence item.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`
	// HorizonDays / BackfillDays bound the expansion window of rules
	// without COUNT or UNTIL.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the feed server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the feed server.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the default viewer timezone (IANA name, e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// Database is the sqlite file holding entities.
	Database string `yaml:"database" json:"database"`

	// CacheDir holds downloaded ICS bodies and their HTTP cache metadata.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic ICS imports.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Recurrence RecurrenceConfig `yaml:"recurrence" json:"recurrence"`

	Views   []View         `yaml:"views" json:"views"`
	Imports []ImportConfig `yaml:"imports" json:"imports"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		Database:    defaultDatabase,
		CacheDir:    defaultCacheDir,
		RefreshCron: defaultRefreshCron,
		Recurrence: RecurrenceConfig{
			MaxOccurrences: defaultMaxOccurrences,
			HorizonDays:    defaultHorizonDays,
			BackfillDays:   defaultBackfillDays,
		},
		Views:     []View{},
		Imports:   []ImportConfig{},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.Recurrence.MaxOccurrences <= 0 {
		c.Recurrence.MaxOccurrences = defaultMaxOccurrences
	}
	if c.Recurrence.HorizonDays <= 0 {
		c.Recurrence.HorizonDays = defaultHorizonDays
	}
	if c.Recurrence.BackfillDays < 0 {
		c.Recurrence.BackfillDays = 0
	}
	if c.Views == nil {
		c.Views = []View{}
	}
	if c.Imports == nil {
		c.Imports = []ImportConfig{}
	}
	for i := range c.Imports {
		if c.Imports[i].ID == "" {
			c.Imports[i].ID = c.Imports[i].URL + c.Imports[i].Path
		}
	}
}

// View returns the view with the given id.
func (c *Config) View(id string) (View, bool) {
	for _, v := range c.Views {
		if v.ID == id {
			return v, true
		}
	}
	return View{}, false
}

// Validate reports every configuration problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if _, err := model.LoadZone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}

	seen := make(map[string]bool, len(c.Views))
	for i, v := range c.Views {
		switch {
		case v.ID == "":
			errs = append(errs, fmt.Errorf("views[%d]: id is empty", i))
		case seen[v.ID]:
			errs = append(errs, fmt.Errorf("views[%d]: duplicate id %q", i, v.ID))
		}
		seen[v.ID] = true
		if v.EntityType == "" {
			errs = append(errs, fmt.Errorf("view %q: entity_type is empty", v.ID))
		}
		if v.Fields.DateField == "" {
			errs = append(errs, fmt.Errorf("view %q: fields.date_field is required", v.ID))
		}
		if v.Limit < 0 {
			errs = append(errs, fmt.Errorf("view %q: limit must not be negative", v.ID))
		}
	}

	for i, im := range c.Imports {
		if im.URL == "" && im.Path == "" {
			errs = append(errs, fmt.Errorf("imports[%d]: url or path is required", i))
		}
		if im.EntityType == "" {
			errs = append(errs, fmt.Errorf("imports[%d]: entity_type is empty", i))
		}
		if im.Fields.DateField == "" {
			errs = append(errs, fmt.Errorf("imports[%d]: fields.date_field is required", i))
		}
	}

	return errors.Join(errs...)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".icalfeed-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
