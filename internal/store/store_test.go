package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"legalflow/internal/workflow"
)

func TestWithRetryRetriesSerializationFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("commit tx: %w", &pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryStopsOnDomainErrors(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		return workflow.AlreadyDecided("ap_1", workflow.ApprovalApproved)
	})
	if !errors.Is(err, workflow.ErrAlreadyDecided) {
		t.Fatalf("expected AlreadyDecided, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	attempts := 0
	deadlock := &pgconn.PgError{Code: "40P01"}
	err := withRetry(context.Background(), 2, time.Millisecond, func() error {
		attempts++
		return deadlock
	})
	if !errors.Is(err, deadlock) || attempts != 2 {
		t.Fatalf("err = %v attempts = %d", err, attempts)
	}
}

func TestWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, 3, time.Millisecond, func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "agreements_one_active_per_document"})
	if !isUniqueViolation(err, "agreements_one_active_per_document") {
		t.Fatalf("expected unique violation")
	}
	if isUniqueViolation(err, "approvals_one_pending_per_stage") {
		t.Fatalf("constraint name must match")
	}
	if isUniqueViolation(errors.New("boom"), "") {
		t.Fatalf("plain errors are not unique violations")
	}
}

func TestDocumentSetStatusKeepsDraftFlag(t *testing.T) {
	doc := Document{Status: workflow.StatusDraft, IsDraft: true}
	doc.SetStatus(workflow.StatusSubmitted)
	if doc.Status != workflow.StatusPendingSupervisor || doc.IsDraft {
		t.Fatalf("after submit: %+v", doc)
	}
	doc.SetStatus(workflow.StatusDraft)
	if !doc.IsDraft {
		t.Fatalf("withdrawn document must be draft again")
	}
}
