package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"legalflow/internal/workflow"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicatePending = errors.New("a pending approval already exists for this stage")
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 50 * time.Millisecond
)

// Tx is the set of operations the workflow runs under one transaction. The
// Lock* reads take a row lock held until commit.
type Tx interface {
	CreateDocument(ctx context.Context, doc Document) error
	LockDocument(ctx context.Context, documentID string) (Document, error)
	SaveDocument(ctx context.Context, doc Document) error

	LockAgreement(ctx context.Context, agreementID string) (Agreement, error)
	InsertAgreement(ctx context.Context, agreement Agreement) error
	SaveAgreement(ctx context.Context, agreement Agreement) error
	ActiveAgreement(ctx context.Context, documentID string) (*Agreement, error)

	GetApproval(ctx context.Context, approvalID string) (*Approval, error)
	PendingApproval(ctx context.Context, ownerType workflow.OwnerType, ownerID string, approvalType workflow.ApprovalType) (*Approval, error)
	ApprovalByDecision(ctx context.Context, ownerType workflow.OwnerType, ownerID, decisionID string) (*Approval, error)
	ListApprovals(ctx context.Context, ownerType workflow.OwnerType, ownerID string) ([]Approval, error)
	InsertApproval(ctx context.Context, approval Approval) error
	DecideApproval(ctx context.Context, approvalID string, status workflow.ApprovalStatus, decidedBy, decisionID, comment string) (bool, error)
	DeleteApprovals(ctx context.Context, ownerType workflow.OwnerType, ownerID string) error

	InsertComment(ctx context.Context, comment Comment) error
	DiscussionFacts(ctx context.Context, documentID string) (financeParticipated bool, closed bool, err error)
	Participants(ctx context.Context, documentID string) (approvers []string, commenters []string, err error)
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
	q  *pgTx
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: &pgTx{q: db}}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// InTx runs fn in a transaction, retrying serialization failures and
// deadlocks with exponential backoff. fn may run more than once and must not
// keep side effects outside the transaction between attempts.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return withRetry(ctx, defaultRetryAttempts, defaultRetryBackoff, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(&pgTx{q: tx}); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func withRetry(ctx context.Context, maxAttempts int, baseBackoff time.Duration, fn func() error) error {
	attempt := 0
	backoff := baseBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn()
		if err == nil {
			return nil
		}

		attempt++
		if !isRetryable(err) || attempt >= maxAttempts {
			return err
		}

		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

func sleepWithContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
