package rows

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/grobertson/rosey/pkg/registry"
	"github.com/grobertson/rosey/pkg/types"
)

const (
	// DefaultSearchLimit applies when a search names no limit
	DefaultSearchLimit = 100
	// MaxSearchLimit caps any requested search limit
	MaxSearchLimit = 1000
)

// Engine executes row operations on plugin tables. All validation is
// against the registry's cached schema, never the physical table, so
// behavior is independent of migration timing.
type Engine struct {
	db       *sql.DB
	registry *registry.Registry
	now      func() time.Time
}

// NewEngine creates an Engine over the shared database handle
func NewEngine(db *sql.DB, reg *registry.Registry, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{db: db, registry: reg, now: now}
}

// InsertResult reports a completed insert. Single inserts carry ID;
// bulk inserts carry IDs. Created is the row count either way.
type InsertResult struct {
	ID      int64
	IDs     []int64
	Created int
	Bulk    bool
}

// SearchResult is one page of matching rows
type SearchResult struct {
	Rows      []map[string]any `json:"rows"`
	Count     int              `json:"count"`
	Truncated bool             `json:"truncated"`
}

func (e *Engine) schema(plugin, table string) (*types.TableSchema, error) {
	schema := e.registry.Get(plugin, table)
	if schema == nil {
		return nil, types.Validationf("table %q not registered for plugin %q", table, plugin)
	}
	return schema, nil
}

// validateRow checks one input row against the schema and returns the
// coerced column values keyed by field name.
func validateRow(schema *types.TableSchema, data map[string]any) (map[string]any, error) {
	for key := range data {
		if key == "id" || key == "created_at" || key == "updated_at" {
			return nil, types.Validationf("field %q is immutable", key)
		}
		if schema.Field(key) == nil {
			return nil, types.Validationf("unknown field: %s", key)
		}
	}

	coerced := make(map[string]any, len(data))
	for i := range schema.Fields {
		field := &schema.Fields[i]
		value, present := data[field.Name]
		if !present || value == nil {
			if field.Required {
				return nil, types.Validationf("required field: %s", field.Name)
			}
			continue
		}
		out, err := coerceValue(field, value)
		if err != nil {
			return nil, err
		}
		coerced[field.Name] = out
	}
	return coerced, nil
}

// Insert inserts one row or, given a list, a transactional bulk batch.
// Bulk inserts validate every row before writing anything.
func (e *Engine) Insert(ctx context.Context, plugin, table string, data any) (*InsertResult, error) {
	schema, err := e.schema(plugin, table)
	if err != nil {
		return nil, err
	}

	switch payload := data.(type) {
	case map[string]any:
		coerced, err := validateRow(schema, payload)
		if err != nil {
			return nil, err
		}
		id, err := e.insertOne(ctx, e.db, plugin, table, schema, coerced)
		if err != nil {
			return nil, err
		}
		return &InsertResult{ID: id, Created: 1}, nil

	case []any:
		if len(payload) == 0 {
			return nil, types.Validationf("bulk insert requires at least one row")
		}
		batch := make([]map[string]any, len(payload))
		for i, entry := range payload {
			row, ok := entry.(map[string]any)
			if !ok {
				return nil, types.Validationf("bulk insert row %d must be an object", i)
			}
			coerced, err := validateRow(schema, row)
			if err != nil {
				return nil, types.Validationf("row %d: %v", i, err)
			}
			batch[i] = coerced
		}

		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin bulk insert: %w", err)
		}
		defer tx.Rollback()

		ids := make([]int64, 0, len(batch))
		for _, coerced := range batch {
			id, err := e.insertOne(ctx, tx, plugin, table, schema, coerced)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit bulk insert: %w", err)
		}
		return &InsertResult{IDs: ids, Created: len(ids), Bulk: true}, nil
	}

	return nil, types.Validationf("'data' must be an object or a list of objects")
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (e *Engine) insertOne(ctx context.Context, db execer, plugin, table string, schema *types.TableSchema, coerced map[string]any) (int64, error) {
	physical := registry.PhysicalName(plugin, table)
	nowISO := e.now().UTC().Format(time.RFC3339)

	columns := make([]string, 0, len(schema.Fields)+2)
	placeholders := make([]string, 0, len(schema.Fields)+2)
	args := make([]any, 0, len(schema.Fields)+2)

	for i := range schema.Fields {
		field := &schema.Fields[i]
		value, present := coerced[field.Name]
		if !present {
			continue
		}
		columns = append(columns, field.Name)
		placeholders = append(placeholders, "?")
		args = append(args, bindValue(value))
	}
	columns = append(columns, "created_at", "updated_at")
	placeholders = append(placeholders, "?", "?")
	args = append(args, nowISO, nowISO)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		physical, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", physical, err)
	}
	return res.LastInsertId()
}

// Select fetches one row by id. A missing row is not an error: the
// returned map is nil.
func (e *Engine) Select(ctx context.Context, plugin, table string, id int64) (map[string]any, error) {
	schema, err := e.schema(plugin, table)
	if err != nil {
		return nil, err
	}

	physical := registry.PhysicalName(plugin, table)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?",
		strings.Join(selectColumns(schema), ", "), physical)

	rowsOut, err := e.scanRows(ctx, schema, query, id)
	if err != nil {
		return nil, err
	}
	if len(rowsOut) == 0 {
		return nil, nil
	}
	return rowsOut[0], nil
}

// Delete removes one row by id. Deleting a missing row succeeds with
// deleted=false.
func (e *Engine) Delete(ctx context.Context, plugin, table string, id int64) (bool, error) {
	if _, err := e.schema(plugin, table); err != nil {
		return false, err
	}

	physical := registry.PhysicalName(plugin, table)
	res, err := e.db.ExecContext(ctx, "DELETE FROM "+physical+" WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", physical, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Sort names a search ordering
type Sort struct {
	Field string
	Order string
}

// Search returns rows matching a filter with sorting and pagination.
// Truncated is set when exactly limit rows came back, signalling that
// more may exist.
func (e *Engine) Search(ctx context.Context, plugin, table string, filter map[string]any, sortBy *Sort, limit, offset int) (*SearchResult, error) {
	schema, err := e.schema(plugin, table)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	if offset < 0 {
		offset = 0
	}

	where := "1=1"
	var args []any
	if len(filter) > 0 {
		where, args, err = compileFilter(schema, filter)
		if err != nil {
			return nil, err
		}
	}

	orderBy := "id ASC"
	if sortBy != nil {
		if _, err := filterField(schema, sortBy.Field); err != nil {
			return nil, types.Validationf("invalid sort field: %s", sortBy.Field)
		}
		direction := "ASC"
		switch strings.ToLower(sortBy.Order) {
		case "", "asc":
		case "desc":
			direction = "DESC"
		default:
			return nil, types.Validationf("sort order must be 'asc' or 'desc', got %q", sortBy.Order)
		}
		orderBy = sortBy.Field + " " + direction
	}

	physical := registry.PhysicalName(plugin, table)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT ? OFFSET ?",
		strings.Join(selectColumns(schema), ", "), physical, where, orderBy)
	args = append(args, limit, offset)

	rowsOut, err := e.scanRows(ctx, schema, query, args...)
	if err != nil {
		return nil, err
	}

	return &SearchResult{
		Rows:      rowsOut,
		Count:     len(rowsOut),
		Truncated: len(rowsOut) == limit,
	}, nil
}

// Update applies a patch to every row matching the filter and returns
// the number of rows affected. Atomic operators compile into single
// SQL expressions over the current value, so concurrent updates on one
// row never lose increments.
func (e *Engine) Update(ctx context.Context, plugin, table string, filter map[string]any, patch map[string]any) (int64, error) {
	schema, err := e.schema(plugin, table)
	if err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, types.Validationf("patch must not be empty")
	}

	where, whereArgs, err := compileFilter(schema, filter)
	if err != nil {
		return 0, err
	}

	sets, setArgs, err := compilePatch(schema, patch, e.now().UTC())
	if err != nil {
		return 0, err
	}

	physical := registry.PhysicalName(plugin, table)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", physical, sets, where)
	args := append(setArgs, whereArgs...)

	res, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", physical, err)
	}
	return res.RowsAffected()
}

// UpdateByID replaces fields of a single row addressed by id. Returns
// false when the row does not exist.
func (e *Engine) UpdateByID(ctx context.Context, plugin, table string, id int64, data map[string]any) (bool, error) {
	affected, err := e.Update(ctx, plugin, table,
		map[string]any{"id": id}, data)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// compilePatch builds the SET clause. Literal values are $set; the
// atomic operators express the new value in terms of the old within
// one statement.
func compilePatch(schema *types.TableSchema, patch map[string]any, now time.Time) (string, []any, error) {
	keys := make([]string, 0, len(patch))
	for key := range patch {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sets []string
	var args []any

	for _, name := range keys {
		if name == "id" || name == "created_at" || name == "updated_at" {
			return "", nil, types.Validationf("field %q is immutable", name)
		}
		field := schema.Field(name)
		if field == nil {
			return "", nil, types.Validationf("unknown field: %s", name)
		}

		value := patch[name]
		op := "$set"
		operand := value
		if ops, isOps := operatorObject(value); isOps {
			if len(ops) != 1 {
				return "", nil, types.Validationf("patch for field %q must use exactly one operator", name)
			}
			for k, v := range ops {
				op, operand = k, v
			}
		}

		switch op {
		case "$set":
			coerced, err := coerceValue(field, operand)
			if err != nil {
				return "", nil, err
			}
			sets = append(sets, name+" = ?")
			args = append(args, bindValue(coerced))

		case "$inc":
			if field.Type != types.FieldInteger && field.Type != types.FieldFloat {
				return "", nil, types.Validationf("$inc requires a numeric field, %q is %s", name, field.Type)
			}
			coerced, err := coerceValue(field, operand)
			if err != nil {
				return "", nil, err
			}
			sets = append(sets, name+" = "+name+" + ?")
			args = append(args, bindValue(coerced))

		case "$max", "$min":
			if !orderable(field.Type) {
				return "", nil, types.Validationf("%s requires a numeric or datetime field, %q is %s", op, name, field.Type)
			}
			coerced, err := coerceValue(field, operand)
			if err != nil {
				return "", nil, err
			}
			fn := "MAX"
			if op == "$min" {
				fn = "MIN"
			}
			sets = append(sets, name+" = "+fn+"("+name+", ?)")
			args = append(args, bindValue(coerced))

		default:
			return "", nil, types.Validationf("unknown patch operator %q on field %q", op, name)
		}
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, now.Format(time.RFC3339))

	return strings.Join(sets, ", "), args, nil
}

// selectColumns is the full projection: id, declared fields, timestamps
func selectColumns(schema *types.TableSchema) []string {
	cols := make([]string, 0, len(schema.Fields)+3)
	cols = append(cols, "id")
	for i := range schema.Fields {
		cols = append(cols, schema.Fields[i].Name)
	}
	cols = append(cols, "created_at", "updated_at")
	return cols
}

// scanRows executes query and maps results to field-keyed maps with
// schema-driven types. Datetimes serialize as ISO-8601 strings.
func (e *Engine) scanRows(ctx context.Context, schema *types.TableSchema, query string, args ...any) ([]map[string]any, error) {
	dbRows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer dbRows.Close()

	out := []map[string]any{}
	for dbRows.Next() {
		var id int64
		dests := make([]any, 0, len(schema.Fields)+3)
		dests = append(dests, &id)

		holders := make([]any, len(schema.Fields))
		for i := range schema.Fields {
			switch schema.Fields[i].Type {
			case types.FieldInteger, types.FieldBoolean:
				holders[i] = new(sql.NullInt64)
			case types.FieldFloat:
				holders[i] = new(sql.NullFloat64)
			default:
				holders[i] = new(sql.NullString)
			}
			dests = append(dests, holders[i])
		}

		var createdAt, updatedAt sql.NullString
		dests = append(dests, &createdAt, &updatedAt)

		if err := dbRows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(map[string]any, len(schema.Fields)+3)
		row["id"] = id
		for i := range schema.Fields {
			field := &schema.Fields[i]
			switch holder := holders[i].(type) {
			case *sql.NullInt64:
				if !holder.Valid {
					row[field.Name] = nil
				} else if field.Type == types.FieldBoolean {
					row[field.Name] = holder.Int64 != 0
				} else {
					row[field.Name] = holder.Int64
				}
			case *sql.NullFloat64:
				if !holder.Valid {
					row[field.Name] = nil
				} else {
					row[field.Name] = holder.Float64
				}
			case *sql.NullString:
				if !holder.Valid {
					row[field.Name] = nil
				} else if field.Type == types.FieldDatetime {
					row[field.Name] = normalizeDatetimeOut(holder.String)
				} else {
					row[field.Name] = holder.String
				}
			}
		}
		if createdAt.Valid {
			row["created_at"] = normalizeDatetimeOut(createdAt.String)
		}
		if updatedAt.Valid {
			row["updated_at"] = normalizeDatetimeOut(updatedAt.String)
		}
		out = append(out, row)
	}
	return out, dbRows.Err()
}
