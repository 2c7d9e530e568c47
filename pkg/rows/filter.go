package rows

import (
	"sort"
	"strings"

	"github.com/grobertson/rosey/pkg/types"
)

// comparisonOps maps filter operators to SQL. Range operators are
// restricted to orderable (numeric or datetime) fields at planning
// time.
var comparisonOps = map[string]string{
	"$eq":  "=",
	"$ne":  "!=",
	"$lt":  "<",
	"$lte": "<=",
	"$gt":  ">",
	"$gte": ">=",
}

var rangeOps = map[string]struct{}{
	"$lt": {}, "$lte": {}, "$gt": {}, "$gte": {},
}

// filterField resolves a filterable column: any declared field plus
// the implicit id and timestamp columns.
func filterField(schema *types.TableSchema, name string) (*types.SchemaField, error) {
	switch name {
	case "id":
		return &types.SchemaField{Name: "id", Type: types.FieldInteger}, nil
	case "created_at", "updated_at":
		return &types.SchemaField{Name: name, Type: types.FieldDatetime}, nil
	}
	if f := schema.Field(name); f != nil {
		return f, nil
	}
	return nil, types.Validationf("unknown field in filter: %s", name)
}

func orderable(t types.FieldType) bool {
	return t == types.FieldInteger || t == types.FieldFloat || t == types.FieldDatetime
}

// compileFilter translates a filter document into a SQL condition and
// its bind arguments. Sibling conditions combine with AND. Keys are
// processed in sorted order so identical filters compile to identical
// SQL.
func compileFilter(schema *types.TableSchema, filter map[string]any) (string, []any, error) {
	if len(filter) == 0 {
		return "1=1", nil, nil
	}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var clauses []string
	var args []any

	for _, key := range keys {
		value := filter[key]

		switch key {
		case "$and", "$or":
			list, ok := value.([]any)
			if !ok {
				return "", nil, types.Validationf("%s expects an array of sub-filters", key)
			}
			if len(list) == 0 {
				return "", nil, types.Validationf("%s must not be empty", key)
			}
			var parts []string
			for _, sub := range list {
				subFilter, ok := sub.(map[string]any)
				if !ok {
					return "", nil, types.Validationf("%s entries must be objects", key)
				}
				clause, subArgs, err := compileFilter(schema, subFilter)
				if err != nil {
					return "", nil, err
				}
				parts = append(parts, "("+clause+")")
				args = append(args, subArgs...)
			}
			joiner := " AND "
			if key == "$or" {
				joiner = " OR "
			}
			clauses = append(clauses, "("+strings.Join(parts, joiner)+")")

		case "$not":
			subFilter, ok := value.(map[string]any)
			if !ok {
				return "", nil, types.Validationf("$not expects a sub-filter object")
			}
			clause, subArgs, err := compileFilter(schema, subFilter)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, "NOT ("+clause+")")
			args = append(args, subArgs...)

		default:
			if strings.HasPrefix(key, "$") {
				return "", nil, types.Validationf("unknown operator: %s", key)
			}
			clause, fieldArgs, err := compileFieldCondition(schema, key, value)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, clause)
			args = append(args, fieldArgs...)
		}
	}

	return strings.Join(clauses, " AND "), args, nil
}

// compileFieldCondition handles one field key: either an operator
// object or a bare value ($eq shorthand).
func compileFieldCondition(schema *types.TableSchema, name string, value any) (string, []any, error) {
	field, err := filterField(schema, name)
	if err != nil {
		return "", nil, err
	}

	ops, isOps := operatorObject(value)
	if !isOps {
		return compileOperator(field, "$eq", value)
	}

	opKeys := make([]string, 0, len(ops))
	for op := range ops {
		opKeys = append(opKeys, op)
	}
	sort.Strings(opKeys)

	var clauses []string
	var args []any
	for _, op := range opKeys {
		clause, opArgs, err := compileOperator(field, op, ops[op])
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, opArgs...)
	}
	return strings.Join(clauses, " AND "), args, nil
}

// operatorObject reports whether value is a {"$op": ...} object
func operatorObject(value any) (map[string]any, bool) {
	m, ok := value.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for key := range m {
		if !strings.HasPrefix(key, "$") {
			return nil, false
		}
	}
	return m, true
}

func compileOperator(field *types.SchemaField, op string, value any) (string, []any, error) {
	switch op {
	case "$in", "$nin":
		list, ok := value.([]any)
		if !ok {
			return "", nil, types.Validationf("%s on field %q expects a list", op, field.Name)
		}
		if len(list) == 0 {
			// Nothing is in the empty set
			if op == "$in" {
				return "1=0", nil, nil
			}
			return "1=1", nil, nil
		}
		placeholders := make([]string, len(list))
		args := make([]any, len(list))
		for i, entry := range list {
			coerced, err := coerceValue(field, entry)
			if err != nil {
				return "", nil, err
			}
			placeholders[i] = "?"
			args[i] = bindValue(coerced)
		}
		sqlOp := "IN"
		if op == "$nin" {
			sqlOp = "NOT IN"
		}
		return field.Name + " " + sqlOp + " (" + strings.Join(placeholders, ", ") + ")", args, nil
	}

	sqlOp, known := comparisonOps[op]
	if !known {
		return "", nil, types.Validationf("unknown operator %q on field %q", op, field.Name)
	}

	if _, isRange := rangeOps[op]; isRange && !orderable(field.Type) {
		return "", nil, types.Validationf("operator %s not allowed on %s field %q", op, field.Type, field.Name)
	}

	if value == nil {
		switch op {
		case "$eq":
			return field.Name + " IS NULL", nil, nil
		case "$ne":
			return field.Name + " IS NOT NULL", nil, nil
		default:
			return "", nil, types.Validationf("operator %s on field %q requires a non-null value", op, field.Name)
		}
	}

	coerced, err := coerceValue(field, value)
	if err != nil {
		return "", nil, err
	}
	return field.Name + " " + sqlOp + " ?", []any{bindValue(coerced)}, nil
}

// bindValue converts coerced values to driver-friendly types
func bindValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}
