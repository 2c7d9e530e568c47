package service

import (
	"context"

	"github.com/grobertson/rosey/pkg/bus"
	"github.com/grobertson/rosey/pkg/rows"
	"github.com/grobertson/rosey/pkg/types"
)

// Plugin row-storage handlers. The plugin name comes from the subject
// (rosey.db.row.{plugin}.<op>); requests carry the table and payload.

func (s *Service) handleSchemaRegister(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := pluginFromSubject(msg.Subject)
	if !ok {
		respondErr(msg, CodeInvalidSubject, "Invalid subject format")
		return
	}

	table, ok := reqString(request, "table")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'table' missing")
		return
	}
	schema, ok := request["schema"].(map[string]any)
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'schema' missing")
		return
	}

	created, err := s.registry.Register(ctx, plugin, table, schema)
	if err != nil {
		if types.IsValidationError(err) {
			respondErr(msg, CodeValidationError, err.Error())
		} else {
			s.logger.Error().Err(err).Msg("Schema registration failed")
			respondErr(msg, CodeInternalError, "Schema registration failed")
		}
		return
	}

	payload := map[string]any{}
	if !created {
		payload["message"] = "already exists"
	}
	respondOK(msg, payload)
}

func (s *Service) handleRowInsert(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := pluginFromSubject(msg.Subject)
	if !ok {
		respondErr(msg, CodeInvalidSubject, "Invalid subject format")
		return
	}

	table, ok := reqString(request, "table")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'table' missing")
		return
	}
	data, present := request["data"]
	if !present || data == nil {
		respondErr(msg, CodeMissingField, "Required field 'data' missing")
		return
	}

	result, err := s.rows.Insert(ctx, plugin, table, data)
	if err != nil {
		if types.IsValidationError(err) {
			respondErr(msg, CodeValidationError, err.Error())
		} else {
			s.logger.Error().Err(err).Msg("Insert failed")
			respondErr(msg, CodeDatabaseError, "Insert operation failed")
		}
		return
	}

	if result.Bulk {
		respondOK(msg, map[string]any{"ids": result.IDs, "created": result.Created})
		return
	}
	respondOK(msg, map[string]any{"id": result.ID, "created": true})
}

func (s *Service) handleRowSelect(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := pluginFromSubject(msg.Subject)
	if !ok {
		respondErr(msg, CodeInvalidSubject, "Invalid subject format")
		return
	}

	table, ok := reqString(request, "table")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'table' missing")
		return
	}
	id, ok := reqInt64(request, "id")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'id' missing")
		return
	}

	row, err := s.rows.Select(ctx, plugin, table, id)
	if err != nil {
		if types.IsValidationError(err) {
			respondErr(msg, CodeValidationError, err.Error())
		} else {
			s.logger.Error().Err(err).Msg("Select failed")
			respondErr(msg, CodeDatabaseError, "Select operation failed")
		}
		return
	}
	if row == nil {
		respondOK(msg, map[string]any{"exists": false})
		return
	}
	respondOK(msg, map[string]any{"exists": true, "data": row})
}

func (s *Service) handleRowUpdate(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := pluginFromSubject(msg.Subject)
	if !ok {
		respondErr(msg, CodeInvalidSubject, "Invalid subject format")
		return
	}

	table, ok := reqString(request, "table")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'table' missing")
		return
	}

	// Two forms: filter+patch for bulk updates with operators, or the
	// id-addressed single-row replace.
	if filter, hasFilter := request["filter"].(map[string]any); hasFilter {
		patch, ok := request["patch"].(map[string]any)
		if !ok {
			respondErr(msg, CodeMissingField, "Required field 'patch' missing")
			return
		}

		affected, err := s.rows.Update(ctx, plugin, table, filter, patch)
		if err != nil {
			if types.IsValidationError(err) {
				respondErr(msg, CodeValidationError, err.Error())
			} else {
				s.logger.Error().Err(err).Msg("Update failed")
				respondErr(msg, CodeDatabaseError, "Update operation failed")
			}
			return
		}
		respondOK(msg, map[string]any{"updated": affected})
		return
	}

	id, ok := reqInt64(request, "id")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'id' missing")
		return
	}
	data, ok := request["data"].(map[string]any)
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'data' missing")
		return
	}

	updated, err := s.rows.UpdateByID(ctx, plugin, table, id, data)
	if err != nil {
		if types.IsValidationError(err) {
			respondErr(msg, CodeValidationError, err.Error())
		} else {
			s.logger.Error().Err(err).Msg("Update failed")
			respondErr(msg, CodeDatabaseError, "Update operation failed")
		}
		return
	}
	if !updated {
		respondOK(msg, map[string]any{"exists": false})
		return
	}
	respondOK(msg, map[string]any{"updated": true, "id": id})
}

func (s *Service) handleRowDelete(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := pluginFromSubject(msg.Subject)
	if !ok {
		respondErr(msg, CodeInvalidSubject, "Invalid subject format")
		return
	}

	table, ok := reqString(request, "table")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'table' missing")
		return
	}
	id, ok := reqInt64(request, "id")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'id' missing")
		return
	}

	deleted, err := s.rows.Delete(ctx, plugin, table, id)
	if err != nil {
		if types.IsValidationError(err) {
			respondErr(msg, CodeValidationError, err.Error())
		} else {
			s.logger.Error().Err(err).Msg("Delete failed")
			respondErr(msg, CodeDatabaseError, "Delete operation failed")
		}
		return
	}
	respondOK(msg, map[string]any{"deleted": deleted})
}

func (s *Service) handleRowSearch(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	plugin, ok := pluginFromSubject(msg.Subject)
	if !ok {
		respondErr(msg, CodeInvalidSubject, "Invalid subject format")
		return
	}

	table, ok := reqString(request, "table")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'table' missing")
		return
	}

	filters, _ := request["filters"].(map[string]any)
	limit := reqInt(request, "limit", rows.DefaultSearchLimit)
	offset := reqInt(request, "offset", 0)

	var sortBy *rows.Sort
	if sortRaw, present := request["sort"].(map[string]any); present {
		field, ok := sortRaw["field"].(string)
		if !ok || field == "" {
			respondErr(msg, CodeValidationError, "sort requires a 'field'")
			return
		}
		order, _ := sortRaw["order"].(string)
		sortBy = &rows.Sort{Field: field, Order: order}
	}

	result, err := s.rows.Search(ctx, plugin, table, filters, sortBy, limit, offset)
	if err != nil {
		if types.IsValidationError(err) {
			respondErr(msg, CodeValidationError, err.Error())
		} else {
			s.logger.Error().Err(err).Msg("Search failed")
			respondErr(msg, CodeDatabaseError, "Search operation failed")
		}
		return
	}
	respondOK(msg, map[string]any{
		"rows":      result.Rows,
		"count":     result.Count,
		"truncated": result.Truncated,
	})
}
