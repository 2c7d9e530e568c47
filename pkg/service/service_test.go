package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grobertson/rosey/pkg/bus"
	"github.com/grobertson/rosey/pkg/storage"
)

func startTestService(t *testing.T) (*bus.MemoryConn, *storage.Store) {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	conn := bus.NewMemory()
	svc := New(conn, store, Config{
		PluginRoot:      filepath.Join(t.TempDir(), "plugins"),
		KVSweepInterval: time.Hour,
	})
	require.NoError(t, svc.Start(context.Background()))

	t.Cleanup(func() {
		svc.Stop()
		conn.Close()
		store.Close()
	})
	return conn, store
}

// request sends a request over the bus and decodes the envelope
func request(t *testing.T, conn *bus.MemoryConn, subject string, payload any) map[string]any {
	t.Helper()

	var data []byte
	switch p := payload.(type) {
	case string:
		data = []byte(p)
	default:
		var err error
		data, err = json.Marshal(payload)
		require.NoError(t, err)
	}

	reply, err := conn.Request(subject, data, 2*time.Second)
	require.NoError(t, err)

	var response map[string]any
	require.NoError(t, json.Unmarshal(reply.Data, &response))
	return response
}

func errorCode(t *testing.T, response map[string]any) string {
	t.Helper()
	require.Equal(t, false, response["success"])
	errObj, ok := response["error"].(map[string]any)
	require.True(t, ok, "error envelope must carry an error object")
	code, _ := errObj["code"].(string)
	return code
}

func TestSchemaRegisterInsertSelectRoundTrip(t *testing.T) {
	conn, _ := startTestService(t)

	response := request(t, conn, bus.RowSubject("quotes", "schema.register"), map[string]any{
		"table": "q",
		"schema": map[string]any{
			"fields": []any{
				map[string]any{"name": "text", "type": "text", "required": true},
				map[string]any{"name": "author", "type": "string"},
			},
		},
	})
	require.Equal(t, true, response["success"])

	response = request(t, conn, bus.RowSubject("quotes", "insert"), map[string]any{
		"table": "q",
		"data":  map[string]any{"text": "hi", "author": "a"},
	})
	require.Equal(t, true, response["success"])
	assert.Equal(t, true, response["created"])
	id, ok := response["id"].(float64)
	require.True(t, ok, "id must be a number")

	response = request(t, conn, bus.RowSubject("quotes", "select"), map[string]any{
		"table": "q",
		"id":    id,
	})
	require.Equal(t, true, response["success"])
	require.Equal(t, true, response["exists"])

	data, ok := response["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", data["text"])
	assert.Equal(t, "a", data["author"])
	assert.Equal(t, id, data["id"])

	createdAt, ok := data["created_at"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, createdAt)
	assert.NoError(t, err)
}

func TestSchemaRegisterTwiceIsAlreadyExists(t *testing.T) {
	conn, _ := startTestService(t)

	schema := map[string]any{
		"table": "q",
		"schema": map[string]any{
			"fields": []any{map[string]any{"name": "v", "type": "integer"}},
		},
	}

	response := request(t, conn, bus.RowSubject("p", "schema.register"), schema)
	require.Equal(t, true, response["success"])

	response = request(t, conn, bus.RowSubject("p", "schema.register"), schema)
	require.Equal(t, true, response["success"], "re-registration is a no-op, not an error")
	assert.Equal(t, "already exists", response["message"])
}

func TestValidationErrorShape(t *testing.T) {
	conn, _ := startTestService(t)

	response := request(t, conn, bus.RowSubject("test", "schema.register"), map[string]any{
		"table": "items",
		"schema": map[string]any{
			"fields": []any{map[string]any{"name": "name", "type": "string", "required": true}},
		},
	})
	require.Equal(t, true, response["success"])

	response = request(t, conn, bus.RowSubject("test", "insert"), map[string]any{
		"table": "items",
		"data":  map[string]any{"unknown": 1},
	})
	assert.Equal(t, CodeValidationError, errorCode(t, response))

	errObj := response["error"].(map[string]any)
	message, _ := errObj["message"].(string)
	assert.Contains(t, message, "unknown")
}

func TestInvalidJSONStillResponds(t *testing.T) {
	conn, _ := startTestService(t)

	response := request(t, conn, bus.SubjectKVGet, "{not json")
	assert.Equal(t, CodeInvalidJSON, errorCode(t, response))
}

func TestMissingFieldCode(t *testing.T) {
	conn, _ := startTestService(t)

	response := request(t, conn, bus.SubjectKVSet, map[string]any{"key": "k", "value": 1})
	assert.Equal(t, CodeMissingField, errorCode(t, response))

	response = request(t, conn, bus.SubjectKVSet, map[string]any{"plugin_name": "p", "key": "k"})
	assert.Equal(t, CodeMissingField, errorCode(t, response))
}

func TestPluginFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		plugin  string
		ok      bool
	}{
		{"rosey.db.row.quotes.insert", "quotes", true},
		{"rosey.db.migrate.polls.apply", "polls", true},
		{"rosey.db.row.p.schema.register", "p", true},
		{"rosey.db.row.insert", "", false},
		{"rosey.db", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			plugin, ok := pluginFromSubject(tt.subject)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.plugin, plugin)
		})
	}
}

func TestKVOverBus(t *testing.T) {
	conn, _ := startTestService(t)

	response := request(t, conn, bus.SubjectKVSet, map[string]any{
		"plugin_name": "p",
		"key":         "greeting",
		"value":       map[string]any{"text": "hello"},
	})
	require.Equal(t, true, response["success"])

	response = request(t, conn, bus.SubjectKVGet, map[string]any{
		"plugin_name": "p",
		"key":         "greeting",
	})
	require.Equal(t, true, response["success"])
	assert.Equal(t, true, response["exists"])
	value, ok := response["value"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", value["text"])

	response = request(t, conn, bus.SubjectKVDelete, map[string]any{
		"plugin_name": "p",
		"key":         "greeting",
	})
	require.Equal(t, true, response["success"])
	assert.Equal(t, true, response["deleted"])

	response = request(t, conn, bus.SubjectKVGet, map[string]any{
		"plugin_name": "p",
		"key":         "greeting",
	})
	assert.Equal(t, false, response["exists"])
}

func TestKVListOverBus(t *testing.T) {
	conn, _ := startTestService(t)

	for _, key := range []string{"b", "a", "c"} {
		response := request(t, conn, bus.SubjectKVSet, map[string]any{
			"plugin_name": "p", "key": key, "value": 1,
		})
		require.Equal(t, true, response["success"])
	}

	response := request(t, conn, bus.SubjectKVList, map[string]any{"plugin_name": "p"})
	require.Equal(t, true, response["success"])
	assert.Equal(t, []any{"a", "b", "c"}, response["keys"])
	assert.Equal(t, float64(3), response["count"])
	assert.Equal(t, false, response["truncated"])
}

func TestUserLifecycleOverBus(t *testing.T) {
	conn, _ := startTestService(t)

	payload, _ := json.Marshal(map[string]any{"username": "alice"})
	require.NoError(t, conn.Publish(bus.SubjectUserJoined, payload))

	require.Eventually(t, func() bool {
		response := request(t, conn, bus.SubjectUserStats, map[string]any{"username": "alice"})
		found, _ := response["found"].(bool)
		return found
	}, 2*time.Second, 20*time.Millisecond)

	response := request(t, conn, bus.SubjectUserStats, map[string]any{"username": "alice"})
	require.Equal(t, true, response["success"])
	assert.NotNil(t, response["current_session_start"], "join opens a session")

	require.NoError(t, conn.Publish(bus.SubjectUserLeft, payload))
	require.Eventually(t, func() bool {
		response := request(t, conn, bus.SubjectUserStats, map[string]any{"username": "alice"})
		return response["current_session_start"] == nil
	}, 2*time.Second, 20*time.Millisecond)

	// Unknown users respond found=false, not an error
	response = request(t, conn, bus.SubjectUserStats, map[string]any{"username": "ghost"})
	require.Equal(t, true, response["success"])
	assert.Equal(t, false, response["found"])
}

func TestOutboundOverBus(t *testing.T) {
	conn, _ := startTestService(t)

	response := request(t, conn, bus.SubjectOutboundEnqueue, map[string]any{"message": "hi"})
	require.Equal(t, true, response["success"])
	id := response["id"].(float64)

	response = request(t, conn, bus.SubjectOutboundGet, map[string]any{"limit": 10})
	require.Equal(t, true, response["success"])
	messages, ok := response["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)

	payload, _ := json.Marshal(map[string]any{"message_id": id})
	require.NoError(t, conn.Publish(bus.SubjectMarkSent, payload))

	require.Eventually(t, func() bool {
		response := request(t, conn, bus.SubjectOutboundGet, map[string]any{"limit": 10})
		messages, _ := response["messages"].([]any)
		return len(messages) == 0
	}, 2*time.Second, 20*time.Millisecond, "sent rows are never re-delivered")
}

func TestChannelStatsOverBus(t *testing.T) {
	conn, _ := startTestService(t)

	payload, _ := json.Marshal(map[string]any{"chat_count": 12, "connected_count": 40})
	require.NoError(t, conn.Publish(bus.SubjectHighWater, payload))

	require.Eventually(t, func() bool {
		response := request(t, conn, bus.SubjectChannelStats, map[string]any{})
		hwm, _ := response["high_water_mark"].(map[string]any)
		if hwm == nil {
			return false
		}
		users, _ := hwm["users"].(float64)
		return users == 12
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMigrateStatusOverBus(t *testing.T) {
	conn, _ := startTestService(t)

	response := request(t, conn, bus.MigrateSubject("quotes", "status"), map[string]any{})
	require.Equal(t, true, response["success"])
	assert.Equal(t, float64(0), response["current_version"])
	assert.Equal(t, []any{}, response["pending_migrations"])
}

func TestUpdateOverBusBothForms(t *testing.T) {
	conn, _ := startTestService(t)

	response := request(t, conn, bus.RowSubject("s", "schema.register"), map[string]any{
		"table": "t",
		"schema": map[string]any{
			"fields": []any{
				map[string]any{"name": "score", "type": "integer", "required": true},
				map[string]any{"name": "status", "type": "string", "required": true},
			},
		},
	})
	require.Equal(t, true, response["success"])

	response = request(t, conn, bus.RowSubject("s", "insert"), map[string]any{
		"table": "t",
		"data":  map[string]any{"score": 0, "status": "active"},
	})
	require.Equal(t, true, response["success"])
	id := response["id"].(float64)

	// Filter+patch form with an atomic operator
	response = request(t, conn, bus.RowSubject("s", "update"), map[string]any{
		"table":  "t",
		"filter": map[string]any{"status": "active"},
		"patch":  map[string]any{"score": map[string]any{"$inc": 5}},
	})
	require.Equal(t, true, response["success"])
	assert.Equal(t, float64(1), response["updated"])

	// Id-addressed form
	response = request(t, conn, bus.RowSubject("s", "update"), map[string]any{
		"table": "t",
		"id":    id,
		"data":  map[string]any{"status": "done"},
	})
	require.Equal(t, true, response["success"])
	assert.Equal(t, true, response["updated"])

	// Id-addressed form against a missing row
	response = request(t, conn, bus.RowSubject("s", "update"), map[string]any{
		"table": "t",
		"id":    99999,
		"data":  map[string]any{"status": "x"},
	})
	require.Equal(t, true, response["success"])
	assert.Equal(t, false, response["exists"])

	response = request(t, conn, bus.RowSubject("s", "select"), map[string]any{
		"table": "t", "id": id,
	})
	data := response["data"].(map[string]any)
	assert.Equal(t, float64(5), data["score"])
	assert.Equal(t, "done", data["status"])
}

func TestSearchOverBus(t *testing.T) {
	conn, _ := startTestService(t)

	response := request(t, conn, bus.RowSubject("s", "schema.register"), map[string]any{
		"table": "t",
		"schema": map[string]any{
			"fields": []any{map[string]any{"name": "n", "type": "integer", "required": true}},
		},
	})
	require.Equal(t, true, response["success"])

	batch := make([]any, 5)
	for i := range batch {
		batch[i] = map[string]any{"n": i}
	}
	response = request(t, conn, bus.RowSubject("s", "insert"), map[string]any{
		"table": "t", "data": batch,
	})
	require.Equal(t, true, response["success"])
	assert.Equal(t, float64(5), response["created"])

	response = request(t, conn, bus.RowSubject("s", "search"), map[string]any{
		"table": "t",
		"sort":  map[string]any{"field": "n", "order": "desc"},
		"limit": 5,
	})
	require.Equal(t, true, response["success"])
	assert.Equal(t, float64(5), response["count"])
	assert.Equal(t, true, response["truncated"])

	rows := response["rows"].([]any)
	first := rows[0].(map[string]any)
	assert.Equal(t, float64(4), first["n"])

	// Filtering on an undeclared field is a validation error
	response = request(t, conn, bus.RowSubject("s", "search"), map[string]any{
		"table":   "t",
		"filters": map[string]any{"nope": 1},
	})
	assert.Equal(t, CodeValidationError, errorCode(t, response))
}
