package rows

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grobertson/rosey/pkg/registry"
	"github.com/grobertson/rosey/pkg/storage"
	"github.com/grobertson/rosey/pkg/types"
)

func openTestEngine(t *testing.T) (*Engine, *registry.Registry) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := registry.New(store.DB(), store.Now)
	return NewEngine(store.DB(), reg, time.Now), reg
}

func registerSchema(t *testing.T, reg *registry.Registry, plugin, table string, fields ...map[string]any) {
	t.Helper()
	raw := make([]any, len(fields))
	for i, f := range fields {
		raw[i] = f
	}
	_, err := reg.Register(context.Background(), plugin, table, map[string]any{"fields": raw})
	require.NoError(t, err)
}

func TestInsertSelectRoundTrip(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()

	registerSchema(t, reg, "quotes", "q",
		map[string]any{"name": "text", "type": "text", "required": true},
		map[string]any{"name": "author", "type": "string"},
	)

	result, err := engine.Insert(ctx, "quotes", "q", map[string]any{
		"text":   "hi",
		"author": "a",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Greater(t, result.ID, int64(0))

	row, err := engine.Select(ctx, "quotes", "q", result.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "hi", row["text"])
	assert.Equal(t, "a", row["author"])
	assert.Equal(t, result.ID, row["id"])

	createdAt, ok := row["created_at"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, createdAt)
	assert.NoError(t, err, "created_at must be ISO-8601")
}

func TestSelectMissingRow(t *testing.T) {
	engine, reg := openTestEngine(t)
	registerSchema(t, reg, "p", "t",
		map[string]any{"name": "v", "type": "integer"})

	row, err := engine.Select(context.Background(), "p", "t", 9999)
	require.NoError(t, err, "not found is not an error")
	assert.Nil(t, row)
}

func TestUnregisteredTableRejected(t *testing.T) {
	engine, _ := openTestEngine(t)

	_, err := engine.Insert(context.Background(), "ghost", "t", map[string]any{"x": 1})
	require.Error(t, err)
	assert.True(t, types.IsValidationError(err))
}

func TestInsertValidation(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()

	registerSchema(t, reg, "items", "i",
		map[string]any{"name": "name", "type": "string", "required": true},
		map[string]any{"name": "count", "type": "integer"},
	)

	tests := []struct {
		name   string
		data   map[string]any
		errMsg string
	}{
		{"unknown field", map[string]any{"name": "x", "unknown": 1}, "unknown"},
		{"missing required", map[string]any{"count": 1}, "required field: name"},
		{"null required", map[string]any{"name": nil}, "required field: name"},
		{"immutable id", map[string]any{"name": "x", "id": 5}, "immutable"},
		{"immutable created_at", map[string]any{"name": "x", "created_at": "now"}, "immutable"},
		{"bad integer", map[string]any{"name": "x", "count": "not-a-number"}, "count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Insert(ctx, "items", "i", tt.data)
			require.Error(t, err)
			assert.True(t, types.IsValidationError(err))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestTypeCoercion(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()

	registerSchema(t, reg, "c", "t",
		map[string]any{"name": "n", "type": "integer"},
		map[string]any{"name": "f", "type": "float"},
		map[string]any{"name": "b", "type": "boolean"},
		map[string]any{"name": "s", "type": "string"},
		map[string]any{"name": "d", "type": "datetime"},
	)

	result, err := engine.Insert(ctx, "c", "t", map[string]any{
		"n": "42",           // integer from string
		"f": "3.5",          // float from string
		"b": "YES",          // boolean from truthy string
		"s": float64(7),     // string from number
		"d": "2024-06-01T12:00:00Z",
	})
	require.NoError(t, err)

	row, err := engine.Select(ctx, "c", "t", result.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), row["n"])
	assert.Equal(t, 3.5, row["f"])
	assert.Equal(t, true, row["b"])
	assert.Equal(t, "7", row["s"])
	assert.Equal(t, "2024-06-01T12:00:00Z", row["d"])

	// Float truncates toward zero
	result, err = engine.Insert(ctx, "c", "t", map[string]any{"n": -3.9})
	require.NoError(t, err)
	row, err = engine.Select(ctx, "c", "t", result.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), row["n"])

	// Falsy boolean strings
	result, err = engine.Insert(ctx, "c", "t", map[string]any{"b": "off"})
	require.NoError(t, err)
	row, err = engine.Select(ctx, "c", "t", result.ID)
	require.NoError(t, err)
	assert.Equal(t, false, row["b"])
}

func TestBulkInsertTransactional(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()

	registerSchema(t, reg, "b", "t",
		map[string]any{"name": "v", "type": "integer", "required": true})

	result, err := engine.Insert(ctx, "b", "t", []any{
		map[string]any{"v": 1},
		map[string]any{"v": 2},
		map[string]any{"v": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Created)
	assert.Len(t, result.IDs, 3)

	// One bad row rejects the whole batch before anything is written
	_, err = engine.Insert(ctx, "b", "t", []any{
		map[string]any{"v": 4},
		map[string]any{"nope": 5},
	})
	require.Error(t, err)
	assert.True(t, types.IsValidationError(err))

	search, err := engine.Search(ctx, "b", "t", nil, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, search.Count, "failed bulk wrote nothing")

	// Empty bulk is rejected
	_, err = engine.Insert(ctx, "b", "t", []any{})
	require.Error(t, err)
}

func TestDeleteIdempotent(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()

	registerSchema(t, reg, "d", "t",
		map[string]any{"name": "v", "type": "integer"})

	result, err := engine.Insert(ctx, "d", "t", map[string]any{"v": 1})
	require.NoError(t, err)

	deleted, err := engine.Delete(ctx, "d", "t", result.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = engine.Delete(ctx, "d", "t", result.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete reports deleted=false")
}

func seedScores(t *testing.T, engine *Engine, reg *registry.Registry) {
	t.Helper()
	registerSchema(t, reg, "s", "scores",
		map[string]any{"name": "username", "type": "string", "required": true},
		map[string]any{"name": "score", "type": "integer", "required": true},
		map[string]any{"name": "status", "type": "string", "required": true},
	)
	rows := []any{
		map[string]any{"username": "alice", "score": 120, "status": "active"},
		map[string]any{"username": "bob", "score": 80, "status": "active"},
		map[string]any{"username": "carol", "score": 150, "status": "inactive"},
		map[string]any{"username": "dave", "score": 100, "status": "active"},
	}
	_, err := engine.Insert(context.Background(), "s", "scores", rows)
	require.NoError(t, err)
}

func TestSearchFilters(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()
	seedScores(t, engine, reg)

	tests := []struct {
		name   string
		filter map[string]any
		want   []string
	}{
		{
			"equality shorthand",
			map[string]any{"status": "active"},
			[]string{"alice", "bob", "dave"},
		},
		{
			"range and equality combine with AND",
			map[string]any{
				"score":  map[string]any{"$gte": float64(100), "$lte": float64(200)},
				"status": "active",
			},
			[]string{"alice", "dave"},
		},
		{
			"$ne",
			map[string]any{"status": map[string]any{"$ne": "active"}},
			[]string{"carol"},
		},
		{
			"$in",
			map[string]any{"username": map[string]any{"$in": []any{"alice", "carol"}}},
			[]string{"alice", "carol"},
		},
		{
			"$nin",
			map[string]any{"username": map[string]any{"$nin": []any{"alice", "carol"}}},
			[]string{"bob", "dave"},
		},
		{
			"$or union",
			map[string]any{"$or": []any{
				map[string]any{"score": map[string]any{"$gt": float64(140)}},
				map[string]any{"username": "bob"},
			}},
			[]string{"bob", "carol"},
		},
		{
			"$and intersection",
			map[string]any{"$and": []any{
				map[string]any{"status": "active"},
				map[string]any{"score": map[string]any{"$lt": float64(110)}},
			}},
			[]string{"bob", "dave"},
		},
		{
			"$not complement",
			map[string]any{"$not": map[string]any{"status": "active"}},
			[]string{"carol"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Search(ctx, "s", "scores", tt.filter,
				&Sort{Field: "username", Order: "asc"}, 0, 0)
			require.NoError(t, err)

			var names []string
			for _, row := range result.Rows {
				names = append(names, row["username"].(string))
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestFilterValidation(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()
	seedScores(t, engine, reg)

	tests := []struct {
		name   string
		filter map[string]any
	}{
		{"range op on string field", map[string]any{"username": map[string]any{"$gt": "alice"}}},
		{"unknown field", map[string]any{"nope": 1}},
		{"unknown operator", map[string]any{"score": map[string]any{"$regex": "x"}}},
		{"bad $and shape", map[string]any{"$and": "not-a-list"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Search(ctx, "s", "scores", tt.filter, nil, 0, 0)
			require.Error(t, err)
			assert.True(t, types.IsValidationError(err))
		})
	}
}

func TestSearchPagination(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()

	registerSchema(t, reg, "p", "t",
		map[string]any{"name": "n", "type": "integer", "required": true})

	batch := make([]any, 10)
	for i := range batch {
		batch[i] = map[string]any{"n": i}
	}
	_, err := engine.Insert(ctx, "p", "t", batch)
	require.NoError(t, err)

	// Exactly limit rows → truncated
	result, err := engine.Search(ctx, "p", "t", nil, nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Count)
	assert.True(t, result.Truncated)

	// More than remaining → not truncated
	result, err = engine.Search(ctx, "p", "t", nil, nil, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Count)
	assert.False(t, result.Truncated)

	// Offset walks the id order
	result, err = engine.Search(ctx, "p", "t", nil, nil, 3, 8)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
	assert.False(t, result.Truncated)

	// Sort descending
	result, err = engine.Search(ctx, "p", "t", nil, &Sort{Field: "n", Order: "desc"}, 1, 0)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, int64(9), result.Rows[0]["n"])

	// Invalid sort field
	_, err = engine.Search(ctx, "p", "t", nil, &Sort{Field: "ghost"}, 0, 0)
	require.Error(t, err)
	assert.True(t, types.IsValidationError(err))
}

func TestUpdateOperators(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()
	seedScores(t, engine, reg)

	// Literal patch is $set
	affected, err := engine.Update(ctx, "s", "scores",
		map[string]any{"username": "bob"},
		map[string]any{"status": "away"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	// $max keeps the larger value
	_, err = engine.Update(ctx, "s", "scores",
		map[string]any{"username": "alice"},
		map[string]any{"score": map[string]any{"$max": float64(50)}})
	require.NoError(t, err)

	result, err := engine.Search(ctx, "s", "scores", map[string]any{"username": "alice"}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(120), result.Rows[0]["score"], "$max with a lower value is a no-op")

	_, err = engine.Update(ctx, "s", "scores",
		map[string]any{"username": "alice"},
		map[string]any{"score": map[string]any{"$max": float64(500)}})
	require.NoError(t, err)
	result, err = engine.Search(ctx, "s", "scores", map[string]any{"username": "alice"}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(500), result.Rows[0]["score"])

	// $min keeps the smaller value
	_, err = engine.Update(ctx, "s", "scores",
		map[string]any{"username": "alice"},
		map[string]any{"score": map[string]any{"$min": float64(100)}})
	require.NoError(t, err)
	result, err = engine.Search(ctx, "s", "scores", map[string]any{"username": "alice"}, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Rows[0]["score"])

	// No matches is zero affected, not an error
	affected, err = engine.Update(ctx, "s", "scores",
		map[string]any{"username": "ghost"},
		map[string]any{"score": float64(0)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	// Patching immutable columns is rejected
	for _, field := range []string{"id", "created_at", "updated_at"} {
		_, err = engine.Update(ctx, "s", "scores",
			map[string]any{"username": "alice"},
			map[string]any{field: 1})
		require.Error(t, err)
		assert.True(t, types.IsValidationError(err))
	}

	// $inc on a string field is rejected
	_, err = engine.Update(ctx, "s", "scores",
		map[string]any{"username": "alice"},
		map[string]any{"username": map[string]any{"$inc": 1}})
	require.Error(t, err)
	assert.True(t, types.IsValidationError(err))
}

func TestAtomicIncrementConcurrency(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()

	registerSchema(t, reg, "atomic", "t",
		map[string]any{"name": "username", "type": "string", "required": true},
		map[string]any{"name": "score", "type": "integer", "required": true},
	)
	_, err := engine.Insert(ctx, "atomic", "t", map[string]any{"username": "alice", "score": 0})
	require.NoError(t, err)

	const workers = 100
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Update(ctx, "atomic", "t",
				map[string]any{"username": map[string]any{"$eq": "alice"}},
				map[string]any{"score": map[string]any{"$inc": float64(1)}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	result, err := engine.Search(ctx, "atomic", "t",
		map[string]any{"username": "alice"}, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, int64(workers), result.Rows[0]["score"],
		"N concurrent increments must yield exactly start+N")
}

func TestUpdateByID(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()

	registerSchema(t, reg, "u", "t",
		map[string]any{"name": "v", "type": "string", "required": true})

	result, err := engine.Insert(ctx, "u", "t", map[string]any{"v": "before"})
	require.NoError(t, err)

	updated, err := engine.UpdateByID(ctx, "u", "t", result.ID, map[string]any{"v": "after"})
	require.NoError(t, err)
	assert.True(t, updated)

	row, err := engine.Select(ctx, "u", "t", result.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", row["v"])

	updated, err = engine.UpdateByID(ctx, "u", "t", 9999, map[string]any{"v": "x"})
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestPluginIsolation(t *testing.T) {
	engine, reg := openTestEngine(t)
	ctx := context.Background()

	registerSchema(t, reg, "alpha", "notes",
		map[string]any{"name": "body", "type": "text", "required": true})
	registerSchema(t, reg, "beta", "notes",
		map[string]any{"name": "body", "type": "text", "required": true})

	_, err := engine.Insert(ctx, "alpha", "notes", map[string]any{"body": "alpha secret"})
	require.NoError(t, err)

	result, err := engine.Search(ctx, "beta", "notes", nil, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count, "plugins share a table name but never data")
}
