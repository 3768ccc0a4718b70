package app

import (
	"errors"
	"fmt"
	"net/http"

	"legalflow/internal/workflow"
)

// DomainError is an HTTP-layer failure that does not come from the workflow
// core, such as a missing actor header or a malformed body.
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

var kindStatus = map[workflow.Kind]int{
	workflow.KindInvalidState:       http.StatusConflict,
	workflow.KindNotAuthorized:      http.StatusForbidden,
	workflow.KindAlreadyDecided:     http.StatusConflict,
	workflow.KindNoApproverResolved: http.StatusUnprocessableEntity,
	workflow.KindGateNotSatisfied:   http.StatusConflict,
	workflow.KindDuplicateAgreement: http.StatusConflict,
	workflow.KindValidation:         http.StatusUnprocessableEntity,
	workflow.KindNotFound:           http.StatusNotFound,
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var wfErr *workflow.Error
	if errors.As(err, &wfErr) {
		status, ok := kindStatus[wfErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		message := wfErr.Message
		if message == "" {
			message = string(wfErr.Kind)
		}
		var details any
		if len(wfErr.Details) > 0 {
			details = wfErr.Details
		}
		return status, string(wfErr.Kind), message, details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
