package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"legalflow/internal/workflow"
)

type pgTx struct {
	q queryer
}

const documentColumns = `id, title, owner_nik, COALESCE(supervisor_nik, ''), division, directorate, status, is_draft, submitted_at, completed_at, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	var status string
	err := row.Scan(&item.ID, &item.Title, &item.OwnerNIK, &item.SupervisorNIK, &item.Division, &item.Directorate,
		&status, &item.IsDraft, &item.SubmittedAt, &item.CompletedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	item.Status = workflow.NormalizeStatus(workflow.Status(status))
	return item, nil
}

func (t *pgTx) CreateDocument(ctx context.Context, doc Document) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO documents (id, title, owner_nik, supervisor_nik, division, directorate, status, is_draft)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, doc.ID, doc.Title, doc.OwnerNIK, nullIfEmpty(doc.SupervisorNIK), doc.Division, doc.Directorate, string(doc.Status), doc.IsDraft)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (t *pgTx) getDocument(ctx context.Context, documentID string, lock bool) (Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	item, err := scanDocument(t.q.QueryRowContext(ctx, query, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return item, nil
}

func (t *pgTx) LockDocument(ctx context.Context, documentID string) (Document, error) {
	return t.getDocument(ctx, documentID, true)
}

func (t *pgTx) SaveDocument(ctx context.Context, doc Document) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE documents
		SET status=$2, is_draft=$3, submitted_at=$4, completed_at=$5, updated_at=NOW()
		WHERE id=$1
	`, doc.ID, string(doc.Status), doc.IsDraft, doc.SubmittedAt, doc.CompletedAt)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const agreementColumns = `id, document_id, title, counterparty, division, directorate, director1_nik, director2_nik, status, is_draft, created_by, submitted_at, completed_at, created_at, updated_at`

func scanAgreement(row interface{ Scan(...any) error }) (Agreement, error) {
	var item Agreement
	var status string
	err := row.Scan(&item.ID, &item.DocumentID, &item.Title, &item.Counterparty, &item.Division, &item.Directorate,
		&item.Director1NIK, &item.Director2NIK, &status, &item.IsDraft, &item.CreatedBy,
		&item.SubmittedAt, &item.CompletedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Agreement{}, err
	}
	item.Status = workflow.Status(status)
	return item, nil
}

func (t *pgTx) getAgreement(ctx context.Context, agreementID string, lock bool) (Agreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM agreements WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	item, err := scanAgreement(t.q.QueryRowContext(ctx, query, agreementID))
	if errors.Is(err, sql.ErrNoRows) {
		return Agreement{}, ErrNotFound
	}
	if err != nil {
		return Agreement{}, fmt.Errorf("get agreement: %w", err)
	}
	return item, nil
}

func (t *pgTx) LockAgreement(ctx context.Context, agreementID string) (Agreement, error) {
	return t.getAgreement(ctx, agreementID, true)
}

func (t *pgTx) InsertAgreement(ctx context.Context, a Agreement) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO agreements (id, document_id, title, counterparty, division, directorate, director1_nik, director2_nik, status, is_draft, created_by, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.DocumentID, a.Title, a.Counterparty, a.Division, a.Directorate, a.Director1NIK, a.Director2NIK,
		string(a.Status), a.IsDraft, a.CreatedBy, a.SubmittedAt)
	if isUniqueViolation(err, "agreements_one_active_per_document") {
		return workflow.DuplicateAgreement(a.DocumentID, "")
	}
	if err != nil {
		return fmt.Errorf("insert agreement: %w", err)
	}
	return nil
}

func (t *pgTx) SaveAgreement(ctx context.Context, a Agreement) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE agreements
		SET status=$2, is_draft=$3, submitted_at=$4, completed_at=$5, updated_at=NOW()
		WHERE id=$1
	`, a.ID, string(a.Status), a.IsDraft, a.SubmittedAt, a.CompletedAt)
	if err != nil {
		return fmt.Errorf("update agreement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agreement rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ActiveAgreement(ctx context.Context, documentID string) (*Agreement, error) {
	item, err := scanAgreement(t.q.QueryRowContext(ctx, `
		SELECT `+agreementColumns+`
		FROM agreements
		WHERE document_id=$1 AND status <> 'REDISCUSS'
		LIMIT 1
	`, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active agreement: %w", err)
	}
	return &item, nil
}

func (t *pgTx) listAgreements(ctx context.Context, documentID string) ([]Agreement, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+agreementColumns+`
		FROM agreements
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list agreements: %w", err)
	}
	defer rows.Close()

	items := make([]Agreement, 0)
	for rows.Next() {
		item, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agreement: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agreements: %w", err)
	}
	return items, nil
}

const approvalColumns = `id, owner_type, owner_id, approver_nik, approval_type, status, sequence, implicit, resolution_tier, eligibility_version, decided_at, COALESCE(decided_by, ''), COALESCE(decision_id, ''), comment, created_at`

func scanApproval(row interface{ Scan(...any) error }) (Approval, error) {
	var item Approval
	var ownerType, approvalType, status string
	err := row.Scan(&item.ID, &ownerType, &item.OwnerID, &item.ApproverNIK, &approvalType, &status, &item.Sequence,
		&item.Implicit, &item.ResolutionTier, &item.EligibilityVersion, &item.DecidedAt, &item.DecidedBy,
		&item.DecisionID, &item.Comment, &item.CreatedAt)
	if err != nil {
		return Approval{}, err
	}
	item.OwnerType = workflow.OwnerType(ownerType)
	item.ApprovalType = workflow.ApprovalType(approvalType)
	item.Status = workflow.ApprovalStatus(status)
	return item, nil
}

func (t *pgTx) optionalApproval(ctx context.Context, what, query string, args ...any) (*Approval, error) {
	item, err := scanApproval(t.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", what, err)
	}
	return &item, nil
}

func (t *pgTx) GetApproval(ctx context.Context, approvalID string) (*Approval, error) {
	return t.optionalApproval(ctx, "approval", `SELECT `+approvalColumns+` FROM approvals WHERE id=$1`, approvalID)
}

func (t *pgTx) PendingApproval(ctx context.Context, ownerType workflow.OwnerType, ownerID string, approvalType workflow.ApprovalType) (*Approval, error) {
	return t.optionalApproval(ctx, "pending approval", `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE owner_type=$1 AND owner_id=$2 AND approval_type=$3 AND status='PENDING'
		ORDER BY sequence ASC
		LIMIT 1
	`, string(ownerType), ownerID, string(approvalType))
}

func (t *pgTx) ApprovalByDecision(ctx context.Context, ownerType workflow.OwnerType, ownerID, decisionID string) (*Approval, error) {
	return t.optionalApproval(ctx, "approval by decision", `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE owner_type=$1 AND owner_id=$2 AND decision_id=$3
	`, string(ownerType), ownerID, decisionID)
}

// InsertApproval runs under a savepoint so a duplicate pending row leaves the
// surrounding transaction usable and the caller can read the existing row.
func (t *pgTx) InsertApproval(ctx context.Context, a Approval) error {
	if _, err := t.q.ExecContext(ctx, `SAVEPOINT insert_approval`); err != nil {
		return fmt.Errorf("savepoint insert approval: %w", err)
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO approvals (id, owner_type, owner_id, approver_nik, approval_type, status, sequence, implicit, resolution_tier, eligibility_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, string(a.OwnerType), a.OwnerID, a.ApproverNIK, string(a.ApprovalType), string(a.Status), a.Sequence,
		a.Implicit, a.ResolutionTier, a.EligibilityVersion)
	if isUniqueViolation(err, "approvals_one_pending_per_stage") {
		if _, rbErr := t.q.ExecContext(ctx, `ROLLBACK TO SAVEPOINT insert_approval`); rbErr != nil {
			return fmt.Errorf("rollback insert approval: %w", rbErr)
		}
		return ErrDuplicatePending
	}
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, `RELEASE SAVEPOINT insert_approval`); err != nil {
		return fmt.Errorf("release insert approval: %w", err)
	}
	return nil
}

// DecideApproval finalizes a pending row. It reports false when the row was
// no longer PENDING, which is how a lost race shows up.
func (t *pgTx) DecideApproval(ctx context.Context, approvalID string, status workflow.ApprovalStatus, decidedBy, decisionID, comment string) (bool, error) {
	result, err := t.q.ExecContext(ctx, `
		UPDATE approvals
		SET status=$2, decided_by=$3, decision_id=$4, comment=$5, decided_at=NOW()
		WHERE id=$1 AND status='PENDING'
	`, approvalID, string(status), decidedBy, nullIfEmpty(decisionID), comment)
	if err != nil {
		return false, fmt.Errorf("decide approval: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decide approval rows: %w", err)
	}
	return affected > 0, nil
}

func (t *pgTx) DeleteApprovals(ctx context.Context, ownerType workflow.OwnerType, ownerID string) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM approvals WHERE owner_type=$1 AND owner_id=$2`, string(ownerType), ownerID)
	if err != nil {
		return fmt.Errorf("delete approvals: %w", err)
	}
	return nil
}

func (t *pgTx) ListApprovals(ctx context.Context, ownerType workflow.OwnerType, ownerID string) ([]Approval, error) {
	return t.listApprovals(ctx, ownerType, ownerID)
}

func (t *pgTx) listApprovals(ctx context.Context, ownerType workflow.OwnerType, ownerID string) ([]Approval, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE owner_type=$1 AND owner_id=$2
		ORDER BY sequence ASC, created_at ASC
	`, string(ownerType), ownerID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	items := make([]Approval, 0)
	for rows.Next() {
		item, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return items, nil
}

func (t *pgTx) InsertComment(ctx context.Context, c Comment) error {
	attachments := c.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("marshal comment attachments: %w", err)
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, author_nik, author_role, body, attachments, is_forum_closed, is_forum_reopened)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
	`, c.ID, c.DocumentID, c.AuthorNIK, c.AuthorRole, c.Body, string(encoded), c.IsForumClosed, c.IsForumReopened)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// DiscussionFacts derives the forum flags from the comment stream: whether
// finance ever commented, and whether the latest control marker is a close.
func (t *pgTx) DiscussionFacts(ctx context.Context, documentID string) (bool, bool, error) {
	var finance bool
	err := t.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM comments WHERE document_id=$1 AND author_role='FINANCE')
	`, documentID).Scan(&finance)
	if err != nil {
		return false, false, fmt.Errorf("check finance participation: %w", err)
	}

	var closed bool
	err = t.q.QueryRowContext(ctx, `
		SELECT is_forum_closed
		FROM comments
		WHERE document_id=$1 AND (is_forum_closed OR is_forum_reopened)
		ORDER BY seq DESC
		LIMIT 1
	`, documentID).Scan(&closed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, false, fmt.Errorf("check forum marker: %w", err)
	}
	return finance, closed, nil
}

func (t *pgTx) Participants(ctx context.Context, documentID string) ([]string, []string, error) {
	approvers, err := t.stringColumn(ctx, "approvers", `
		SELECT DISTINCT nik FROM (
			SELECT approver_nik AS nik FROM approvals WHERE owner_type='document' AND owner_id=$1
			UNION
			SELECT decided_by AS nik FROM approvals WHERE owner_type='document' AND owner_id=$1 AND decided_by IS NOT NULL
		) participants
		ORDER BY nik
	`, documentID)
	if err != nil {
		return nil, nil, err
	}
	commenters, err := t.stringColumn(ctx, "commenters", `
		SELECT DISTINCT author_nik FROM comments WHERE document_id=$1 ORDER BY author_nik
	`, documentID)
	if err != nil {
		return nil, nil, err
	}
	return approvers, commenters, nil
}

func (t *pgTx) stringColumn(ctx context.Context, what, query string, args ...any) ([]string, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		items = append(items, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return items, nil
}

func (t *pgTx) listComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, document_id, author_nik, author_role, body, attachments, is_forum_closed, is_forum_reopened, created_at
		FROM comments
		WHERE document_id=$1
		ORDER BY seq ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		var attachments []byte
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.AuthorNIK, &item.AuthorRole, &item.Body, &attachments,
			&item.IsForumClosed, &item.IsForumReopened, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if err := json.Unmarshal(attachments, &item.Attachments); err != nil {
			return nil, fmt.Errorf("decode comment attachments: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// Reads outside a transaction.

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return s.q.getDocument(ctx, documentID, false)
}

func (s *PostgresStore) GetAgreement(ctx context.Context, agreementID string) (Agreement, error) {
	return s.q.getAgreement(ctx, agreementID, false)
}

func (s *PostgresStore) ListAgreements(ctx context.Context, documentID string) ([]Agreement, error) {
	return s.q.listAgreements(ctx, documentID)
}

func (s *PostgresStore) ListApprovals(ctx context.Context, ownerType workflow.OwnerType, ownerID string) ([]Approval, error) {
	return s.q.listApprovals(ctx, ownerType, ownerID)
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	return s.q.listComments(ctx, documentID)
}

func (s *PostgresStore) DiscussionFacts(ctx context.Context, documentID string) (bool, bool, error) {
	return s.q.DiscussionFacts(ctx, documentID)
}

func (s *PostgresStore) Participants(ctx context.Context, documentID string) ([]string, []string, error) {
	return s.q.Participants(ctx, documentID)
}

func (s *PostgresStore) PendingApproval(ctx context.Context, ownerType workflow.OwnerType, ownerID string, approvalType workflow.ApprovalType) (*Approval, error) {
	return s.q.PendingApproval(ctx, ownerType, ownerID, approvalType)
}

// ListPendingFor returns the PENDING rows assigned to an approver with a
// summary of the document or agreement each belongs to.
func (s *PostgresStore) ListPendingFor(ctx context.Context, approverNIK string) ([]PendingItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.owner_type, a.owner_id, a.approver_nik, a.approval_type, a.status, a.sequence, a.implicit,
			a.resolution_tier, a.eligibility_version, a.decided_at, COALESCE(a.decided_by, ''), COALESCE(a.decision_id, ''),
			a.comment, a.created_at,
			COALESCE(d.title, ag.title, ''), COALESCE(d.status, ag.status, ''), COALESCE(d.division, ag.division, '')
		FROM approvals a
		LEFT JOIN documents d ON a.owner_type='document' AND d.id=a.owner_id
		LEFT JOIN agreements ag ON a.owner_type='agreement' AND ag.id=a.owner_id
		WHERE a.approver_nik=$1 AND a.status='PENDING'
		ORDER BY a.created_at ASC
	`, approverNIK)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	items := make([]PendingItem, 0)
	for rows.Next() {
		var item PendingItem
		var ownerType, approvalType, status, ownerStatus string
		a := &item.Approval
		if err := rows.Scan(&a.ID, &ownerType, &a.OwnerID, &a.ApproverNIK, &approvalType, &status, &a.Sequence,
			&a.Implicit, &a.ResolutionTier, &a.EligibilityVersion, &a.DecidedAt, &a.DecidedBy, &a.DecisionID,
			&a.Comment, &a.CreatedAt, &item.OwnerTitle, &ownerStatus, &item.OwnerDivision); err != nil {
			return nil, fmt.Errorf("scan pending approval: %w", err)
		}
		a.OwnerType = workflow.OwnerType(ownerType)
		a.ApprovalType = workflow.ApprovalType(approvalType)
		a.Status = workflow.ApprovalStatus(status)
		item.OwnerStatus = workflow.NormalizeStatus(workflow.Status(ownerStatus))
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending approvals: %w", err)
	}
	return items, nil
}

// ListOwnersWithoutPendingRow returns documents or agreements sitting in one
// of statuses with no PENDING approval row, i.e. waiting for implicit
// materialization. The inbox uses it to surface role-class work. A limit of
// zero or less returns every match.
func (s *PostgresStore) ListOwnersWithoutPendingRow(ctx context.Context, ownerType workflow.OwnerType, statuses []workflow.Status, limit int) ([]string, error) {
	table := "documents"
	if ownerType == workflow.OwnerAgreement {
		table = "agreements"
	}
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	return s.q.stringColumn(ctx, "owners awaiting approval", `
		SELECT o.id
		FROM `+table+` o
		WHERE o.status = ANY($1)
			AND NOT EXISTS (
				SELECT 1 FROM approvals a
				WHERE a.owner_type=$2 AND a.owner_id=o.id AND a.status='PENDING'
			)
		ORDER BY o.updated_at ASC
		LIMIT $3
	`, values, string(ownerType), limitArg)
}
