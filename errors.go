package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// apiError is the failure taxonomy surfaced to callers. Every authorization
// or precondition failure maps to one of these kinds and is reported
// synchronously; nothing is retried internally.
type errorKind int

const (
	errUnauthorized errorKind = iota
	errNotFound
	errForbidden
	errInvalidInput
	errInvalidState
)

type apiError struct {
	kind    errorKind
	message string
}

func (e *apiError) Error() string {
	return e.message
}

func (e *apiError) status() int {
	switch e.kind {
	case errUnauthorized:
		return http.StatusUnauthorized
	case errNotFound:
		return http.StatusNotFound
	case errForbidden:
		return http.StatusForbidden
	case errInvalidState:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func unauthorized(message string) *apiError {
	return &apiError{kind: errUnauthorized, message: message}
}

func notFound(message string) *apiError {
	return &apiError{kind: errNotFound, message: message}
}

func forbidden(message string) *apiError {
	return &apiError{kind: errForbidden, message: message}
}

func invalidInput(message string) *apiError {
	return &apiError{kind: errInvalidInput, message: message}
}

func invalidState(message string) *apiError {
	return &apiError{kind: errInvalidState, message: message}
}

// logError logs an error with enough context to locate the failing call site.
func logError(context string, err error) {
	log.Printf("ERROR [%s]: %v", context, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logError("writeJSON", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps an error onto the HTTP surface. Unclassified errors are
// treated as internal and never leak details to the caller.
func writeError(w http.ResponseWriter, context string, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.status(), errorResponse{Error: apiErr.message})
		return
	}
	logError(context, err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Something went wrong"})
}
