package service

import (
	"encoding/json"
	"strings"

	"github.com/grobertson/rosey/pkg/bus"
	"github.com/grobertson/rosey/pkg/log"
)

// Error codes returned in the response envelope
const (
	CodeInvalidJSON      = "INVALID_JSON"
	CodeMissingField     = "MISSING_FIELD"
	CodeInvalidSubject   = "INVALID_SUBJECT"
	CodeValidationError  = "VALIDATION_ERROR"
	CodeValueTooLarge    = "VALUE_TOO_LARGE"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeLockTimeout      = "LOCK_TIMEOUT"
	CodeMigrationFailed  = "MIGRATION_FAILED"
	CodeRollbackFailed   = "ROLLBACK_FAILED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// respondOK sends {"success": true} merged with the payload fields
func respondOK(msg *bus.Msg, payload map[string]any) {
	body := make(map[string]any, len(payload)+1)
	for key, value := range payload {
		body[key] = value
	}
	body["success"] = true
	respondJSON(msg, body)
}

// respondErr sends the error envelope
func respondErr(msg *bus.Msg, code, message string) {
	respondJSON(msg, map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// respondErrExtra sends the error envelope with extra top-level fields
func respondErrExtra(msg *bus.Msg, code, message string, extra map[string]any) {
	body := map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	for key, value := range extra {
		body[key] = value
	}
	respondJSON(msg, body)
}

func respondJSON(msg *bus.Msg, body map[string]any) {
	logger := log.WithSubject("db-service", msg.Subject)
	data, err := json.Marshal(body)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
		return
	}
	if err := msg.Respond(data); err != nil {
		logger.Error().Err(err).Msg("Failed to send response")
	}
}

// decodeRequest parses the request envelope. On parse failure it
// responds INVALID_JSON and returns ok=false — a handler must never
// silently drop a request.
func decodeRequest(msg *bus.Msg) (map[string]any, bool) {
	if len(msg.Data) == 0 {
		return map[string]any{}, true
	}
	var request map[string]any
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		respondErr(msg, CodeInvalidJSON, "Invalid JSON: "+err.Error())
		return nil, false
	}
	if request == nil {
		request = map[string]any{}
	}
	return request, true
}

// pluginFromSubject extracts the plugin name, the fourth token of row
// and migrate subjects.
func pluginFromSubject(subject string) (string, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) < 5 || parts[3] == "" {
		return "", false
	}
	return parts[3], true
}

// Request field accessors. JSON numbers decode as float64.

func reqString(request map[string]any, key string) (string, bool) {
	value, ok := request[key].(string)
	return value, ok && value != ""
}

func reqInt(request map[string]any, key string, fallback int) int {
	switch v := request[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func reqInt64(request map[string]any, key string) (int64, bool) {
	switch v := request[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func reqBool(request map[string]any, key string) bool {
	value, _ := request[key].(bool)
	return value
}
