// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package validation provides struct validation using
// go-playground/validator v10 through a thread-safe singleton instance.
//
// Request structs in the API layer declare `validate:` tags and call
// ValidateStruct; failures translate into the service's VALIDATION_ERROR
// format. Two custom validators cover domain ranges the built-ins cannot
// express: "slot" (0..48 seasonal bucket) and "tilezoom" (0..20).
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/eklind/artgrid/internal/timeslots"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single field validation failure.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Value   interface{}
	Message string
}

// Error returns the human-readable message.
func (e FieldError) Error() string {
	return e.Message
}

// RequestError is a collection of field validation failures.
type RequestError struct {
	fields []FieldError
}

// Fields returns the individual failures.
func (re *RequestError) Fields() []FieldError {
	return re.fields
}

// Error implements the error interface.
func (re *RequestError) Error() string {
	if len(re.fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(re.fields))
	for i, f := range re.fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// Message returns the combined client-facing message.
func (re *RequestError) Message() string {
	return re.Error()
}

// Details returns structured error context for the API error envelope.
func (re *RequestError) Details() map[string]interface{} {
	if len(re.fields) == 1 {
		f := re.fields[0]
		return map[string]interface{}{
			"field": f.Field,
			"tag":   f.Tag,
			"value": f.Value,
		}
	}

	fields := make([]map[string]interface{}, len(re.fields))
	for i, f := range re.fields {
		fields[i] = map[string]interface{}{
			"field":   f.Field,
			"tag":     f.Tag,
			"message": f.Message,
		}
	}
	return map[string]interface{}{"fields": fields}
}

// GetValidator returns the singleton validator. Thread-safe; the
// instance caches struct metadata across calls.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// slot: valid seasonal bucket id, all-time sentinel included.
		_ = validate.RegisterValidation("slot", func(fl validator.FieldLevel) bool {
			return timeslots.Valid(int(fl.Field().Int()))
		})

		// tilezoom: supported slippy zoom range.
		_ = validate.RegisterValidation("tilezoom", func(fl validator.FieldLevel) bool {
			z := fl.Field().Int()
			return z >= 0 && z <= 20
		})
	})
	return validate
}

// ValidateStruct validates s with the singleton validator. Returns nil
// on success or a *RequestError describing every failed field.
func ValidateStruct(s interface{}) *RequestError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestError{fields: []FieldError{{
			Field:   "unknown",
			Tag:     "unknown",
			Message: err.Error(),
		}}}
	}

	fields := make([]FieldError, len(validationErrs))
	for i, fe := range validationErrs {
		fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Value:   fe.Value(),
			Message: translateError(fe),
		}
	}
	return &RequestError{fields: fields}
}

// simple message templates keyed by validation tag.
var errorMessageTemplates = map[string]string{
	"required":  "%s is required",
	"latitude":  "%s must be a valid latitude (-90 to 90)",
	"longitude": "%s must be a valid longitude (-180 to 180)",
	"slot":      "%s must be a slot id between 0 and 48",
	"tilezoom":  "%s must be a zoom level between 0 and 20",
}

// templates whose message includes the tag parameter.
var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
}

// translateError converts a validator.FieldError into a client-facing
// message consistent with the rest of the API.
func translateError(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}
	return fmt.Sprintf("%s failed %s validation", field, tag)
}
