package workflow

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidState       Kind = "INVALID_STATE"
	KindNotAuthorized      Kind = "NOT_AUTHORIZED"
	KindAlreadyDecided     Kind = "ALREADY_DECIDED"
	KindNoApproverResolved Kind = "NO_APPROVER_RESOLVED"
	KindGateNotSatisfied   Kind = "GATE_NOT_SATISFIED"
	KindDuplicateAgreement Kind = "DUPLICATE_AGREEMENT"
	KindValidation         Kind = "VALIDATION_ERROR"
	KindNotFound           Kind = "NOT_FOUND"
)

// Error is the typed, caller-recoverable failure returned by every workflow
// operation. Message is written for the person who has to fix the data.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, workflow.ErrGateNotSatisfied).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Message == ""
}

var (
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrNotAuthorized      = &Error{Kind: KindNotAuthorized}
	ErrAlreadyDecided     = &Error{Kind: KindAlreadyDecided}
	ErrNoApproverResolved = &Error{Kind: KindNoApproverResolved}
	ErrGateNotSatisfied   = &Error{Kind: KindGateNotSatisfied}
	ErrDuplicateAgreement = &Error{Kind: KindDuplicateAgreement}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
)

func newError(kind Kind, details map[string]any, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Details: details}
}

func InvalidState(from Status, format string, args ...any) *Error {
	return newError(KindInvalidState, map[string]any{"status": from}, format, args...)
}

func NotAuthorized(format string, args ...any) *Error {
	return newError(KindNotAuthorized, nil, format, args...)
}

func AlreadyDecided(approvalID string, status ApprovalStatus) *Error {
	return newError(KindAlreadyDecided, map[string]any{"approvalId": approvalID, "status": status},
		"approval %s was already decided (%s)", approvalID, status)
}

func NoApproverResolved(stage ApprovalType, division string, cause error) *Error {
	err := newError(KindNoApproverResolved, map[string]any{"stage": stage, "division": division},
		"no eligible %s approver found for division %q; contact an administrator to fix the directory or division registry", stage, division)
	err.Err = cause
	return err
}

func GateNotSatisfied(format string, args ...any) *Error {
	return newError(KindGateNotSatisfied, nil, format, args...)
}

func DuplicateAgreement(documentID, agreementID string) *Error {
	details := map[string]any{"documentId": documentID}
	if agreementID == "" {
		return newError(KindDuplicateAgreement, details, "document %s already has an active agreement", documentID)
	}
	details["agreementId"] = agreementID
	return newError(KindDuplicateAgreement, details, "document %s already has active agreement %s", documentID, agreementID)
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func NotFound(kind, id string) *Error {
	return newError(KindNotFound, map[string]any{"id": id}, "%s %s not found", kind, id)
}

// KindOf returns the workflow kind carried by err, or "" for infrastructure
// failures.
func KindOf(err error) Kind {
	var wfErr *Error
	if errors.As(err, &wfErr) {
		return wfErr.Kind
	}
	return ""
}
