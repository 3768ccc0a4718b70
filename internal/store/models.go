package store

import (
	"time"

	"legalflow/internal/workflow"
)

type Document struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	OwnerNIK      string          `json:"ownerNik"`
	SupervisorNIK string          `json:"supervisorNik,omitempty"`
	Division      string          `json:"division"`
	Directorate   string          `json:"directorate"`
	Status        workflow.Status `json:"status"`
	IsDraft       bool            `json:"isDraft"`
	SubmittedAt   *time.Time      `json:"submittedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// SetStatus moves the document and keeps isDraft in step with it.
func (d *Document) SetStatus(status workflow.Status) {
	d.Status = workflow.NormalizeStatus(status)
	d.IsDraft = workflow.IsDraft(d.Status)
}

type Agreement struct {
	ID           string          `json:"id"`
	DocumentID   string          `json:"documentId"`
	Title        string          `json:"title"`
	Counterparty string          `json:"counterparty"`
	Division     string          `json:"division"`
	Directorate  string          `json:"directorate"`
	Director1NIK string          `json:"director1Nik"`
	Director2NIK string          `json:"director2Nik"`
	Status       workflow.Status `json:"status"`
	IsDraft      bool            `json:"isDraft"`
	CreatedBy    string          `json:"createdBy"`
	SubmittedAt  *time.Time      `json:"submittedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (a *Agreement) SetStatus(status workflow.Status) {
	a.Status = status
	a.IsDraft = workflow.IsDraft(status)
}

type Approval struct {
	ID                 string                  `json:"id"`
	OwnerType          workflow.OwnerType      `json:"ownerType"`
	OwnerID            string                  `json:"ownerId"`
	ApproverNIK        string                  `json:"approverNik"`
	ApprovalType       workflow.ApprovalType   `json:"approvalType"`
	Status             workflow.ApprovalStatus `json:"status"`
	Sequence           int                     `json:"sequence"`
	Implicit           bool                    `json:"implicit"`
	ResolutionTier     string                  `json:"resolutionTier,omitempty"`
	EligibilityVersion string                  `json:"eligibilityVersion,omitempty"`
	DecidedAt          *time.Time              `json:"decidedAt,omitempty"`
	DecidedBy          string                  `json:"decidedBy,omitempty"`
	DecisionID         string                  `json:"decisionId,omitempty"`
	Comment            string                  `json:"comment,omitempty"`
	CreatedAt          time.Time               `json:"createdAt"`
}

type Comment struct {
	ID              string    `json:"id"`
	DocumentID      string    `json:"documentId"`
	AuthorNIK       string    `json:"authorNik"`
	AuthorRole      string    `json:"authorRole"`
	Body            string    `json:"body"`
	Attachments     []string  `json:"attachments"`
	IsForumClosed   bool      `json:"isForumClosed"`
	IsForumReopened bool      `json:"isForumReopened"`
	CreatedAt       time.Time `json:"createdAt"`
}

// PendingItem is one row of an approver's inbox.
type PendingItem struct {
	Approval      Approval        `json:"approval"`
	OwnerTitle    string          `json:"ownerTitle"`
	OwnerStatus   workflow.Status `json:"ownerStatus"`
	OwnerDivision string          `json:"ownerDivision"`
}
