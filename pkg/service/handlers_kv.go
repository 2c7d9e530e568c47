package service

import (
	"context"
	"errors"

	"github.com/grobertson/rosey/pkg/bus"
	"github.com/grobertson/rosey/pkg/kv"
	"github.com/grobertson/rosey/pkg/types"
)

// Plugin KV handlers. Every operation is scoped by plugin_name from
// the request payload.

func (s *Service) handleKVSet(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := reqString(request, "plugin_name")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'plugin_name' is missing")
		return
	}
	key, ok := reqString(request, "key")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'key' is missing")
		return
	}
	value, present := request["value"]
	if !present {
		respondErr(msg, CodeMissingField, "Required field 'value' is missing")
		return
	}

	var ttl int64
	if v, ok := reqInt64(request, "ttl_seconds"); ok {
		ttl = v
	}

	if err := s.kv.Set(ctx, plugin, key, value, ttl); err != nil {
		switch {
		case errors.Is(err, kv.ErrValueTooLarge):
			respondErr(msg, CodeValueTooLarge, "Value exceeds 64KB limit")
		case types.IsValidationError(err):
			respondErr(msg, CodeValidationError, err.Error())
		default:
			s.logger.Error().Err(err).Msg("kv.set failed")
			respondErr(msg, CodeInternalError, "Database operation failed")
		}
		return
	}
	respondOK(msg, nil)
}

func (s *Service) handleKVGet(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := reqString(request, "plugin_name")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'plugin_name' is missing")
		return
	}
	key, ok := reqString(request, "key")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'key' is missing")
		return
	}

	value, exists, err := s.kv.Get(ctx, plugin, key)
	if err != nil {
		s.logger.Error().Err(err).Msg("kv.get failed")
		respondErr(msg, CodeInternalError, "Database operation failed")
		return
	}

	payload := map[string]any{"exists": exists}
	if exists {
		payload["value"] = value
	}
	respondOK(msg, payload)
}

func (s *Service) handleKVDelete(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := reqString(request, "plugin_name")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'plugin_name' is missing")
		return
	}
	key, ok := reqString(request, "key")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'key' is missing")
		return
	}

	deleted, err := s.kv.Delete(ctx, plugin, key)
	if err != nil {
		s.logger.Error().Err(err).Msg("kv.delete failed")
		respondErr(msg, CodeInternalError, "Database operation failed")
		return
	}
	respondOK(msg, map[string]any{"deleted": deleted})
}

func (s *Service) handleKVList(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := reqString(request, "plugin_name")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'plugin_name' is missing")
		return
	}
	prefix, _ := request["prefix"].(string)
	limit := reqInt(request, "limit", kv.DefaultListLimit)

	result, err := s.kv.List(ctx, plugin, prefix, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("kv.list failed")
		respondErr(msg, CodeInternalError, "Database operation failed")
		return
	}
	respondOK(msg, map[string]any{
		"keys":      result.Keys,
		"count":     result.Count,
		"truncated": result.Truncated,
	})
}
