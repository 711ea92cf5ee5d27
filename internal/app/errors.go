package app

import (
	"errors"
	"fmt"
	"net/http"

	"papersub/internal/auth"
	"papersub/internal/messages"
	"papersub/internal/paper"
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

// validationError reports a rejected save with every collected message.
func validationError(paperID int64, msgs *messages.Set) *DomainError {
	details := map[string]any{
		"messages": msgs.Messages(),
		"fields":   problemFields(msgs),
	}
	if paperID > 0 {
		details["pid"] = paperID
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Submission not saved", details)
}

func problemFields(msgs *messages.Set) map[string]string {
	fields := make(map[string]string)
	for field, severity := range msgs.ProblemFields() {
		fields[field] = severity.String()
	}
	return fields
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, paper.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, paper.ErrForbidden) {
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
