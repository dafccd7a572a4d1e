package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"caseload/api/internal/documents"
	"caseload/api/internal/ownership"
	"caseload/api/internal/session"
	"caseload/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func missingField(field string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "MISSING_REQUIRED_FIELD", field+" is required", map[string]any{"field": field})
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var missing *documents.MissingFieldError
	if errors.As(err, &missing) {
		return http.StatusUnprocessableEntity, "MISSING_REQUIRED_FIELD", missing.Error(), map[string]any{
			"field":    missing.Field,
			"category": missing.Category.String(),
		}
	}
	switch {
	case errors.Is(err, ownership.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, documents.ErrNoWritableSchema):
		return http.StatusInternalServerError, "NO_WRITABLE_SCHEMA", "Document could not be stored", nil
	case errors.Is(err, store.ErrNoCompatibleColumns):
		return http.StatusUnprocessableEntity, "NO_COMPATIBLE_COLUMNS", "No compatible columns to write", nil
	case errors.Is(err, store.ErrTableNotFound):
		return http.StatusUnprocessableEntity, "TABLE_NOT_FOUND", "Table not found", nil
	case errors.Is(err, documents.ErrDocumentNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, store.ErrBusy):
		return http.StatusServiceUnavailable, "BUSY", "Database is busy, try again", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
