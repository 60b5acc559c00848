package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"icalfeed/internal/model"
	"icalfeed/internal/store/migrations"
)

// Repo is an entity-attribute-value store backed by sqlite.
type Repo struct {
	db *sqlx.DB
}

// Open connects to the sqlite file at path and applies migrations.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := migrations.Run(dbx); err != nil {
		dbx.Close()
		return nil, err
	}
	return dbx, nil
}

func New(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// ViewQuery selects the rows of a view.
type ViewQuery struct {
	EntityType string
	// SortField orders rows by the first value of that field. Rows without
	// a value sort first; ties are broken by entity id.
	SortField  string
	Descending bool
	Limit      int
}

type fieldDefinitionRow struct {
	EntityType string `db:"entity_type"`
	Name       string `db:"name"`
	Type       string `db:"type"`
	Recurring  bool   `db:"recurring"`
}

type entityRow struct {
	ID         string `db:"id"`
	EntityType string `db:"entity_type"`
	Label      string `db:"label"`
}

type fieldValueRow struct {
	EntityID  string `db:"entity_id"`
	FieldName string `db:"field_name"`
	Delta     int    `db:"delta"`
	Property  string `db:"property"`
	Value     string `db:"value"`
}

// DefineField creates or replaces a field definition.
func (r *Repo) DefineField(ctx context.Context, def model.FieldDefinition) error {
	if def.EntityType == "" || def.Name == "" {
		return errors.New("field definition needs an entity type and a name")
	}
	if !def.Type.Valid() {
		return fmt.Errorf("field %s.%s: unknown type %q", def.EntityType, def.Name, def.Type)
	}

	const q = `INSERT INTO field_definitions (entity_type, name, type, recurring) VALUES (?, ?, ?, ?)
	ON CONFLICT (entity_type, name) DO UPDATE SET type = excluded.type, recurring = excluded.recurring;`
	if _, err := r.db.ExecContext(ctx, q, def.EntityType, def.Name, string(def.Type), def.Recurring); err != nil {
		return fmt.Errorf("error defining field %s.%s: %w", def.EntityType, def.Name, err)
	}

	return nil
}

// FieldDefinition returns the definition of entityType.name. Unknown fields
// return an error wrapping model.ErrNotFound.
func (r *Repo) FieldDefinition(ctx context.Context, entityType, name string) (model.FieldDefinition, error) {
	const q = `SELECT entity_type, name, type, recurring FROM field_definitions WHERE entity_type = ? AND name = ?;`

	var row fieldDefinitionRow
	if err := r.db.GetContext(ctx, &row, q, entityType, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.FieldDefinition{}, fmt.Errorf("field %s.%s: %w", entityType, name, model.ErrNotFound)
		}
		return model.FieldDefinition{}, fmt.Errorf("error selecting field definition: %w", err)
	}

	return model.FieldDefinition{
		EntityType: row.EntityType,
		Name:       row.Name,
		Type:       model.FieldType(row.Type),
		Recurring:  row.Recurring,
	}, nil
}

// SaveEntity inserts or replaces an entity together with all its field
// values.
func (r *Repo) SaveEntity(ctx context.Context, e model.Entity) error {
	if e.ID == "" || e.Type == "" {
		return errors.New("entity needs an id and a type")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO entities (id, entity_type, label) VALUES (?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET entity_type = excluded.entity_type, label = excluded.label, updated_at = CURRENT_TIMESTAMP;`
	if _, err := tx.ExecContext(ctx, upsert, e.ID, e.Type, e.Label); err != nil {
		return fmt.Errorf("error upserting entity %s: %w", e.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM field_values WHERE entity_id = ?;`, e.ID); err != nil {
		return fmt.Errorf("error clearing field values of %s: %w", e.ID, err)
	}

	insert := sq.Insert("field_values").Columns("entity_id", "field_name", "delta", "property", "value")
	rows := 0
	for field, items := range e.Fields {
		for delta, item := range items {
			for prop, value := range item {
				if value == "" {
					continue
				}
				insert = insert.Values(e.ID, field, delta, prop, value)
				rows++
			}
		}
	}
	if rows > 0 {
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("error generating SQL query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("error inserting field values of %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing entity %s: %w", e.ID, err)
	}
	return nil
}

// Entity loads one entity with its fields.
func (r *Repo) Entity(ctx context.Context, id string) (model.Entity, error) {
	entities, err := r.load(ctx, []string{id})
	if err != nil {
		return model.Entity{}, err
	}
	if len(entities) == 0 {
		return model.Entity{}, fmt.Errorf("entity %s: %w", id, model.ErrNotFound)
	}
	return entities[0], nil
}

// Rows runs a view query and returns fully loaded entities in view order.
func (r *Repo) Rows(ctx context.Context, vq ViewQuery) ([]model.Entity, error) {
	q := sq.Select("e.id").From("entities e").Where(sq.Eq{"e.entity_type": vq.EntityType})

	dir := "ASC"
	if vq.Descending {
		dir = "DESC"
	}
	if vq.SortField != "" {
		q = q.LeftJoin("field_values s ON s.entity_id = e.id AND s.field_name = ? AND s.delta = 0 AND s.property = ?",
			vq.SortField, model.PropValue).
			OrderBy("s.value "+dir, "e.id "+dir)
	} else {
		q = q.OrderBy("e.id " + dir)
	}
	if vq.Limit > 0 {
		q = q.Limit(uint64(vq.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error generating SQL query: %w", err)
	}

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting view rows: %w", err)
	}

	return r.load(ctx, ids)
}

// DeleteEntities removes every entity of entityType whose id is not in keep
// and returns how many were removed.
func (r *Repo) DeleteEntities(ctx context.Context, entityType string, keep []string) (int, error) {
	var all []string
	if err := r.db.SelectContext(ctx, &all, `SELECT id FROM entities WHERE entity_type = ?;`, entityType); err != nil {
		return 0, fmt.Errorf("error selecting entities: %w", err)
	}

	stale, _ := lo.Difference(all, keep)
	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []struct{ name, column string }{
		{"field_values", "entity_id"},
		{"entities", "id"},
	} {
		query, args, err := sq.Delete(table.name).Where(sq.Eq{table.column: stale}).ToSql()
		if err != nil {
			return 0, fmt.Errorf("error generating SQL query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("error deleting from %s: %w", table.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing delete: %w", err)
	}
	return len(stale), nil
}

// load fetches entities and their field values, preserving the order of ids.
func (r *Repo) load(ctx context.Context, ids []string) ([]model.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sq.Select("id", "entity_type", "label").From("entities").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("error generating SQL query: %w", err)
	}
	var entityRows []entityRow
	if err := r.db.SelectContext(ctx, &entityRows, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting entities: %w", err)
	}

	query, args, err = sq.Select("entity_id", "field_name", "delta", "property", "value").
		From("field_values").
		Where(sq.Eq{"entity_id": ids}).
		OrderBy("entity_id", "field_name", "delta").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error generating SQL query: %w", err)
	}
	var valueRows []fieldValueRow
	if err := r.db.SelectContext(ctx, &valueRows, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting field values: %w", err)
	}

	byID := lo.SliceToMap(entityRows, func(row entityRow) (string, *model.Entity) {
		return row.ID, &model.Entity{
			ID:     row.ID,
			Type:   row.EntityType,
			Label:  row.Label,
			Fields: map[string][]model.FieldItem{},
		}
	})

	for _, v := range valueRows {
		e, ok := byID[v.EntityID]
		if !ok {
			continue
		}
		items := e.Fields[v.FieldName]
		for len(items) <= v.Delta {
			items = append(items, model.FieldItem{})
		}
		items[v.Delta][v.Property] = v.Value
		e.Fields[v.FieldName] = items
	}

	out := make([]model.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}
