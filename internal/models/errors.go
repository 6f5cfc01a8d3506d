// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared across the service. Every error that crosses a
// package boundary carries one of these, so the HTTP layer can map it to
// a status without inspecting message text.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeUpstreamTransient = "UPSTREAM_TRANSIENT"
	CodeUpstreamTooBig    = "UPSTREAM_TOO_BIG"
	CodeUpstreamFatal     = "UPSTREAM_FATAL"
	CodeStoreBusy         = "STORE_BUSY"
	CodeBuildBusy         = "BUILD_BUSY"
	CodeMissingInput      = "MISSING_INPUT"
	CodeInternal          = "INTERNAL_ERROR"
	CodeValidation        = "VALIDATION_ERROR"
)

// AppError is a coded error. Code is one of the Code* constants, Message
// is safe to return to clients, and Err holds the wrapped cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError builds an AppError with a formatted message.
func NewError(code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an AppError around a cause.
func WrapError(code string, err error, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrorCode extracts the code from err, walking the wrap chain.
// Unrecognized errors report CodeInternal.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// ErrorMessage extracts the client-safe message from err. Unrecognized
// errors report a generic message so internals never leak to clients.
func ErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// HTTPStatus maps an error code to its HTTP response status.
func HTTPStatus(code string) int {
	switch code {
	case CodeBadRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeBuildBusy:
		return http.StatusConflict
	case CodeMissingInput:
		return http.StatusNotFound
	case CodeStoreBusy:
		return http.StatusServiceUnavailable
	case CodeUpstreamTransient, CodeUpstreamTooBig, CodeUpstreamFatal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
