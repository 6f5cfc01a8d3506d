// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/eklind/artgrid/internal/logging"
	"github.com/eklind/artgrid/internal/models"
	"github.com/eklind/artgrid/internal/timeslots"
	"github.com/eklind/artgrid/internal/validation"
)

// sanitizeLogValue replaces control characters so attacker-supplied
// strings cannot forge log entries.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends a JSON response with caching headers and an ETag.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Header().Set("Vary", "Accept-Encoding")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", generateETag(data))
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// generateETag creates a weak ETag from data using FNV-1a.
func generateETag(data []byte) string {
	hash := uint32(2166136261)
	for _, b := range data {
		hash ^= uint32(b)
		hash *= 16777619
	}
	return strconv.FormatUint(uint64(hash), 16)
}

// respondError sends an error envelope.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().
			Str("code", sanitizeLogValue(code)).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("API error")
	}

	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now()},
		Error:    &models.APIError{Code: code, Message: message},
	})
}

// respondAppError maps a coded error onto its HTTP status.
func respondAppError(w http.ResponseWriter, err error) {
	code := models.ErrorCode(err)
	respondError(w, models.HTTPStatus(code), code, models.ErrorMessage(err), err)
}

// validateRequest runs struct validation and converts failures into the
// API error shape.
func validateRequest(v interface{}) *models.APIError {
	reqErr := validation.ValidateStruct(v)
	if reqErr == nil {
		return nil
	}
	return &models.APIError{
		Code:    models.CodeValidation,
		Message: reqErr.Message(),
		Details: reqErr.Details(),
	}
}

// getIntParam parses an integer query parameter, falling back to def
// when absent. An unparseable value is a bad request.
func getIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewError(models.CodeBadRequest, "parameter %s must be an integer", name)
	}
	return v, nil
}

// getFloatParam parses a float query parameter with a default.
func getFloatParam(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, models.NewError(models.CodeBadRequest, "parameter %s must be a number", name)
	}
	return v, nil
}

// parseYearRange normalizes year_from / year_to. Absent or zero values
// select the all-years bucket (0, 0); a single bound applies to both
// ends; inverted bounds are swapped.
func parseYearRange(r *http.Request) (yearFrom, yearTo int, err error) {
	yearFrom, err = getIntParam(r, "year_from", 0)
	if err != nil {
		return 0, 0, err
	}
	yearTo, err = getIntParam(r, "year_to", 0)
	if err != nil {
		return 0, 0, err
	}
	if yearFrom < 0 || yearTo < 0 || yearFrom > 9999 || yearTo > 9999 {
		return 0, 0, models.NewError(models.CodeBadRequest, "year bounds must be 0 or a valid year")
	}

	if yearFrom == 0 && yearTo == 0 {
		return 0, 0, nil
	}
	if yearFrom == 0 {
		yearFrom = yearTo
	}
	if yearTo == 0 {
		yearTo = yearFrom
	}
	if yearFrom > yearTo {
		yearFrom, yearTo = yearTo, yearFrom
	}
	return yearFrom, yearTo, nil
}

// parseSlotIDs parses a slot_ids CSV into a sorted unique slot set. The
// all-time slot 0 must not be mixed with seasonal slots.
func parseSlotIDs(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	seen := make(map[int]bool)
	var slots []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, models.NewError(models.CodeBadRequest, "slot_ids entry %q is not an integer", part)
		}
		if !timeslots.Valid(id) {
			return nil, models.NewError(models.CodeBadRequest, "slot_id %d out of range 0..%d", id, timeslots.SlotMax)
		}
		if !seen[id] {
			seen[id] = true
			slots = append(slots, id)
		}
	}
	sort.Ints(slots)

	if len(slots) > 1 && slots[0] == timeslots.SlotAll {
		return nil, models.NewError(models.CodeBadRequest, "slot 0 cannot be mixed with seasonal slots")
	}
	return slots, nil
}

// parseSingleSlot reads slot_id with a default of the all-time slot.
func parseSingleSlot(r *http.Request) (int, error) {
	slot, err := getIntParam(r, "slot_id", timeslots.SlotAll)
	if err != nil {
		return 0, err
	}
	if !timeslots.Valid(slot) {
		return 0, models.NewError(models.CodeBadRequest, "slot_id %d out of range 0..%d", slot, timeslots.SlotMax)
	}
	return slot, nil
}

// parseZoom reads the zoom parameter, defaulting to the finest
// configured pipeline zoom.
func (h *Handler) parseZoom(r *http.Request) (int, error) {
	zoom, err := getIntParam(r, "zoom", h.cfg.Pipeline.BaseZoom())
	if err != nil {
		return 0, err
	}
	if zoom < 0 || zoom > 20 {
		return 0, models.NewError(models.CodeBadRequest, "zoom %d out of range 0..20", zoom)
	}
	return zoom, nil
}
