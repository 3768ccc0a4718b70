// Package workflow holds the approval state machines for documents and
// agreements, the stage eligibility policy and the discussion gate. Nothing
// here touches storage; internal/app runs these rules inside transactions.
package workflow

type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusSubmitted         Status = "SUBMITTED"
	StatusPendingSupervisor Status = "PENDING_SUPERVISOR"
	StatusPendingGM         Status = "PENDING_GM"
	StatusPendingLegalAdmin Status = "PENDING_LEGAL_ADMIN"
	StatusInDiscussion      Status = "IN_DISCUSSION"
	StatusAgreementCreation Status = "AGREEMENT_CREATION"
	StatusAgreementApproval Status = "AGREEMENT_APPROVAL"
	StatusCompleted         Status = "COMPLETED"
	StatusRejected          Status = "REJECTED"

	StatusPendingHead      Status = "PENDING_HEAD"
	StatusPendingFinance   Status = "PENDING_FINANCE"
	StatusPendingLegal     Status = "PENDING_LEGAL"
	StatusPendingDirector1 Status = "PENDING_DIRECTOR1"
	StatusPendingDirector2 Status = "PENDING_DIRECTOR2"
	StatusApproved         Status = "APPROVED"
	StatusRediscuss        Status = "REDISCUSS"
)

type ApprovalType string

const (
	ApprovalSupervisor     ApprovalType = "SUPERVISOR"
	ApprovalGeneralManager ApprovalType = "GENERAL_MANAGER"
	ApprovalLegalAdmin     ApprovalType = "LEGAL_ADMIN"
	ApprovalHead           ApprovalType = "HEAD"
	ApprovalFinance        ApprovalType = "FINANCE"
	ApprovalLegal          ApprovalType = "LEGAL"
	ApprovalDirector1      ApprovalType = "DIRECTOR_1"
	ApprovalDirector2      ApprovalType = "DIRECTOR_2"
)

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
	ApprovalRediscuss ApprovalStatus = "REDISCUSS"
)

type Decision string

const (
	DecisionApprove   Decision = "APPROVE"
	DecisionReject    Decision = "REJECT"
	DecisionRediscuss Decision = "REDISCUSS"
)

// ApprovalStatus returns the row status recorded for a decision.
func (d Decision) ApprovalStatus() ApprovalStatus {
	switch d {
	case DecisionApprove:
		return ApprovalApproved
	case DecisionReject:
		return ApprovalRejected
	case DecisionRediscuss:
		return ApprovalRediscuss
	default:
		return ""
	}
}

// DecisionFor maps a finalized row status back to the decision that set it.
func DecisionFor(status ApprovalStatus) (Decision, bool) {
	switch status {
	case ApprovalApproved:
		return DecisionApprove, true
	case ApprovalRejected:
		return DecisionReject, true
	case ApprovalRediscuss:
		return DecisionRediscuss, true
	default:
		return "", false
	}
}

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionRediscuss
}

type OwnerType string

const (
	OwnerDocument  OwnerType = "document"
	OwnerAgreement OwnerType = "agreement"
)

// NormalizeStatus folds the transient SUBMITTED alias into the first pending
// stage. Every status read from storage passes through here.
func NormalizeStatus(status Status) Status {
	if status == StatusSubmitted {
		return StatusPendingSupervisor
	}
	return status
}

// IsDraft is the only source for a document's or agreement's isDraft flag.
func IsDraft(status Status) bool {
	return status == StatusDraft
}

// CanWithdraw reports whether the owner may still pull a document back to
// draft. The window closes once the supervisor stage has been decided.
func CanWithdraw(status Status) bool {
	return status == StatusSubmitted || status == StatusPendingSupervisor
}
