package workflow

import (
	"slices"

	"legalflow/internal/division"
	"legalflow/internal/rbac"
)

type GateState string

const (
	GateOpen      GateState = "OPEN"
	GateCloseable GateState = "CLOSEABLE"
	GateClosed    GateState = "CLOSED"
)

// Discussion is the derived view of a document's forum. It is never stored.
type Discussion struct {
	State               GateState `json:"state"`
	FinanceParticipated bool      `json:"financeParticipated"`
	Closed              bool      `json:"closed"`
}

func NewDiscussion(financeParticipated, closed bool) Discussion {
	state := GateOpen
	switch {
	case closed:
		state = GateClosed
	case financeParticipated:
		state = GateCloseable
	}
	return Discussion{State: state, FinanceParticipated: financeParticipated, Closed: closed}
}

// CommentFacts is the part of a comment the gate cares about.
type CommentFacts struct {
	AuthorRole rbac.Role
	Closed     bool
	Reopened   bool
}

// DeriveDiscussion folds comments in creation order. The latest close or
// reopen marker decides whether the forum is closed; finance participation
// counts from anywhere in the stream.
func DeriveDiscussion(comments []CommentFacts) Discussion {
	finance := false
	closed := false
	for _, c := range comments {
		if c.AuthorRole == rbac.RoleFinance {
			finance = true
		}
		if c.Closed {
			closed = true
		}
		if c.Reopened {
			closed = false
		}
	}
	return NewDiscussion(finance, closed)
}

// CheckClose validates a close request against the derived forum state.
// The document status check happens before this, under the row lock.
func CheckClose(actor Actor, d Discussion) error {
	if !rbac.Can(actor.Role, rbac.ActionCloseDiscussion) {
		return NotAuthorized("only HEAD_LEGAL can close a discussion")
	}
	if d.Closed {
		return InvalidState(StatusInDiscussion, "discussion is already closed")
	}
	if !d.FinanceParticipated {
		return GateNotSatisfied("finance has not commented on this discussion yet")
	}
	return nil
}

// Participation captures who has touched a document so far.
type Participation struct {
	OwnerNIK   string
	Division   string
	Approvers  []string
	Commenters []string
}

// CanParticipate reports whether actor may post in the document's forum.
func CanParticipate(actor Actor, p Participation) bool {
	if !actor.Active || actor.NIK == "" {
		return false
	}
	if actor.NIK == p.OwnerNIK {
		return true
	}
	if slices.Contains(p.Approvers, actor.NIK) || slices.Contains(p.Commenters, actor.NIK) {
		return true
	}
	if rbac.Can(actor.Role, rbac.ActionDiscuss) {
		return true
	}
	return rbac.IsManagement(actor.Role) && division.Same(actor.Division, p.Division)
}
