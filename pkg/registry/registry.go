package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/grobertson/rosey/pkg/log"
	"github.com/grobertson/rosey/pkg/types"
)

var (
	fieldNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
	tableNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,99}$`)
)

// reservedFields are maintained by the row engine and cannot be
// declared in a schema.
var reservedFields = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"updated_at": {},
}

var validTypes = map[types.FieldType]struct{}{
	types.FieldString:   {},
	types.FieldText:     {},
	types.FieldInteger:  {},
	types.FieldFloat:    {},
	types.FieldBoolean:  {},
	types.FieldDatetime: {},
}

// SchemaInfo is the listing shape for one registered table
type SchemaInfo struct {
	TableName  string              `json:"table_name"`
	Fields     []types.SchemaField `json:"fields"`
	FieldCount int                 `json:"field_count"`
}

// Registry validates, persists and caches plugin table schemas, and
// materializes the physical tables. The cache is the authoritative
// lookup for row operations; nothing reads the physical table layout.
type Registry struct {
	db  *sql.DB
	now func() int64

	mu    sync.RWMutex
	cache map[cacheKey]*types.TableSchema
}

type cacheKey struct {
	plugin string
	table  string
}

// New creates a Registry over the shared database handle
func New(db *sql.DB, now func() int64) *Registry {
	return &Registry{
		db:    db,
		now:   now,
		cache: make(map[cacheKey]*types.TableSchema),
	}
}

// LoadCache loads every stored schema into memory. Called once at
// service start.
func (r *Registry) LoadCache(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT plugin_name, table_name, schema_json
		FROM plugin_table_schemas
	`)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}
	defer rows.Close()

	loaded := make(map[cacheKey]*types.TableSchema)
	for rows.Next() {
		var plugin, table, schemaJSON string
		if err := rows.Scan(&plugin, &table, &schemaJSON); err != nil {
			return fmt.Errorf("scan schema row: %w", err)
		}
		var schema types.TableSchema
		if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
			return fmt.Errorf("decode schema for %s.%s: %w", plugin, table, err)
		}
		loaded[cacheKey{plugin, table}] = &schema
	}
	if err := rows.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache = loaded
	r.mu.Unlock()

	log.WithComponent("registry").Info().Int("schemas", len(loaded)).Msg("Loaded schema cache")
	return nil
}

// ValidateTableName checks the table-name grammar
func ValidateTableName(table string) error {
	if !tableNameRe.MatchString(table) {
		return types.Validationf("table name %q invalid: must start with a lowercase letter and contain only lowercase letters, numbers and underscores (max 100 chars)", table)
	}
	return nil
}

// ParseSchema decodes and validates a raw schema document
func ParseSchema(raw map[string]any) (*types.TableSchema, error) {
	fieldsRaw, ok := raw["fields"]
	if !ok {
		return nil, types.Validationf("schema must have 'fields' key")
	}
	list, ok := fieldsRaw.([]any)
	if !ok {
		return nil, types.Validationf("'fields' must be a list")
	}
	if len(list) == 0 {
		return nil, types.Validationf("schema must have at least one field")
	}

	schema := &types.TableSchema{Fields: make([]types.SchemaField, 0, len(list))}
	seen := make(map[string]struct{})

	for i, entry := range list {
		fieldMap, ok := entry.(map[string]any)
		if !ok {
			return nil, types.Validationf("field %d must be an object", i)
		}

		nameRaw, ok := fieldMap["name"]
		if !ok {
			return nil, types.Validationf("field %d missing 'name'", i)
		}
		name, ok := nameRaw.(string)
		if !ok {
			return nil, types.Validationf("field %d name must be a string", i)
		}
		if !fieldNameRe.MatchString(name) {
			return nil, types.Validationf("field name %q invalid: must start with a lowercase letter and contain only lowercase letters, numbers and underscores (max 64 chars)", name)
		}
		if _, dup := seen[name]; dup {
			return nil, types.Validationf("duplicate field name: %s", name)
		}
		seen[name] = struct{}{}
		if _, reserved := reservedFields[name]; reserved {
			return nil, types.Validationf("field name %q is reserved", name)
		}

		typeRaw, ok := fieldMap["type"]
		if !ok {
			return nil, types.Validationf("field %q missing 'type'", name)
		}
		typeStr, ok := typeRaw.(string)
		if !ok {
			return nil, types.Validationf("field %q type must be a string", name)
		}
		fieldType := types.FieldType(typeStr)
		if _, valid := validTypes[fieldType]; !valid {
			return nil, types.Validationf("field %q has invalid type %q (valid: string, text, integer, float, boolean, datetime)", name, typeStr)
		}

		required := false
		if reqRaw, present := fieldMap["required"]; present {
			req, ok := reqRaw.(bool)
			if !ok {
				return nil, types.Validationf("field %q 'required' must be boolean", name)
			}
			required = req
		}

		schema.Fields = append(schema.Fields, types.SchemaField{
			Name:     name,
			Type:     fieldType,
			Required: required,
		})
	}

	return schema, nil
}

// Register validates and persists a schema, materializes the physical
// table and populates the cache. A table that is already registered is
// a no-op: Register returns false with no error.
func (r *Registry) Register(ctx context.Context, plugin, table string, raw map[string]any) (bool, error) {
	if err := ValidateTableName(table); err != nil {
		return false, err
	}
	schema, err := ParseSchema(raw)
	if err != nil {
		return false, err
	}

	key := cacheKey{plugin, table}
	r.mu.RLock()
	_, exists := r.cache[key]
	r.mu.RUnlock()
	if exists {
		log.WithPlugin(plugin).Warn().Str("table", table).Msg("Schema already exists, skipping")
		return false, nil
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return false, fmt.Errorf("encode schema: %w", err)
	}

	now := r.now()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO plugin_table_schemas
			(plugin_name, table_name, version, schema_json, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
	`, plugin, table, string(schemaJSON), now, now); err != nil {
		return false, fmt.Errorf("store schema: %w", err)
	}

	if err := r.materialize(ctx, plugin, table, schema); err != nil {
		return false, err
	}

	r.mu.Lock()
	r.cache[key] = schema
	r.mu.Unlock()

	log.WithPlugin(plugin).Info().Str("table", table).Msg("Registered schema")
	return true, nil
}

// columnDDL maps a declared field type to its SQLite column type
func columnDDL(t types.FieldType) string {
	switch t {
	case types.FieldString:
		return "VARCHAR(255)"
	case types.FieldText:
		return "TEXT"
	case types.FieldInteger:
		return "INTEGER"
	case types.FieldFloat:
		return "REAL"
	case types.FieldBoolean:
		return "BOOLEAN"
	case types.FieldDatetime:
		return "TIMESTAMP"
	}
	return "TEXT"
}

func (r *Registry) materialize(ctx context.Context, plugin, table string, schema *types.TableSchema) error {
	physical := PhysicalName(plugin, table)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", physical)
	b.WriteString("\tid INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, field := range schema.Fields {
		fmt.Fprintf(&b, ",\n\t%s %s", field.Name, columnDDL(field.Type))
		if field.Required {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(",\n\tcreated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP")
	b.WriteString(",\n\tupdated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP")
	b.WriteString("\n)")

	if _, err := r.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("create table %s: %w", physical, err)
	}
	return nil
}

// Get returns the cached schema for a table, or nil if unregistered
func (r *Registry) Get(plugin, table string) *types.TableSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[cacheKey{plugin, table}]
}

// List returns schema summaries for every table a plugin owns
func (r *Registry) List(plugin string) []SchemaInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []SchemaInfo{}
	for key, schema := range r.cache {
		if key.plugin != plugin {
			continue
		}
		out = append(out, SchemaInfo{
			TableName:  key.table,
			Fields:     schema.Fields,
			FieldCount: len(schema.Fields),
		})
	}
	return out
}

// Delete drops the physical table and removes the schema row and
// cache entry. Returns false if the table was not registered.
func (r *Registry) Delete(ctx context.Context, plugin, table string) (bool, error) {
	key := cacheKey{plugin, table}
	r.mu.RLock()
	_, exists := r.cache[key]
	r.mu.RUnlock()
	if !exists {
		return false, nil
	}

	physical := PhysicalName(plugin, table)
	if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+physical); err != nil {
		return false, fmt.Errorf("drop table %s: %w", physical, err)
	}

	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM plugin_table_schemas
		WHERE plugin_name = ? AND table_name = ?
	`, plugin, table); err != nil {
		return false, fmt.Errorf("delete schema row: %w", err)
	}

	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()

	log.WithPlugin(plugin).Info().Str("table", table).Msg("Deleted schema and table")
	return true, nil
}

// PhysicalName is the on-disk table name for a plugin table
func PhysicalName(plugin, table string) string {
	return plugin + "_" + table
}
