package app

import (
	"context"
	"errors"

	"legalflow/internal/rbac"
	"legalflow/internal/search"
	"legalflow/internal/store"
	"legalflow/internal/workflow"
)

// inboxScanLimit bounds how many unassigned subjects the inbox inspects for
// role-class work per owner type.
const inboxScanLimit = 200

// Approvers is the answer to "who can act on this now".
type Approvers struct {
	OwnerType   workflow.OwnerType    `json:"ownerType"`
	OwnerID     string                `json:"ownerId"`
	Status      workflow.Status       `json:"status"`
	Stage       workflow.ApprovalType `json:"stage,omitempty"`
	ApprovalID  string                `json:"approvalId,omitempty"`
	ApproverNIK []string              `json:"approverNiks"`
}

func (s *Service) loadSubject(ctx context.Context, ownerType workflow.OwnerType, ownerID string) (subject, error) {
	switch ownerType {
	case workflow.OwnerDocument:
		doc, err := s.store.GetDocument(ctx, ownerID)
		if err != nil {
			return subject{}, notFound("document", ownerID, err)
		}
		return documentSubject(doc), nil
	case workflow.OwnerAgreement:
		agreement, err := s.store.GetAgreement(ctx, ownerID)
		if err != nil {
			return subject{}, notFound("agreement", ownerID, err)
		}
		return agreementSubject(agreement), nil
	default:
		return subject{}, workflow.Validation("unknown owner type %q", ownerType)
	}
}

// CurrentApprovers lists who may decide the current stage: the approver on
// the pending row, or every candidate the resolver would accept when the
// stage has no row yet.
func (s *Service) CurrentApprovers(ctx context.Context, ownerType workflow.OwnerType, ownerID string) (Approvers, error) {
	sub, err := s.loadSubject(ctx, ownerType, ownerID)
	if err != nil {
		return Approvers{}, err
	}
	out := Approvers{OwnerType: sub.ownerType, OwnerID: sub.id, Status: sub.status, ApproverNIK: []string{}}
	stage, ok := sub.chain.StageFor(sub.status)
	if !ok {
		return out, nil
	}
	out.Stage = stage.Type
	row, err := s.store.PendingApproval(ctx, sub.ownerType, sub.id, stage.Type)
	if err != nil {
		return Approvers{}, err
	}
	if row != nil {
		out.ApprovalID = row.ID
		out.ApproverNIK = []string{row.ApproverNIK}
		return out, nil
	}
	candidates, err := s.resolver.Candidates(ctx, sub.request(stage.Type, ""))
	if err != nil {
		return Approvers{}, err
	}
	out.ApproverNIK = candidates
	return out, nil
}

// CanAct reports whether actor may decide the current stage right now.
func (s *Service) CanAct(ctx context.Context, ownerType workflow.OwnerType, ownerID string, actor workflow.Actor) (bool, error) {
	sub, err := s.loadSubject(ctx, ownerType, ownerID)
	if err != nil {
		return false, err
	}
	return s.canAct(ctx, sub, actor)
}

func (s *Service) canAct(ctx context.Context, sub subject, actor workflow.Actor) (bool, error) {
	stage, ok := sub.chain.StageFor(sub.status)
	if !ok {
		return false, nil
	}
	row, err := s.store.PendingApproval(ctx, sub.ownerType, sub.id, stage.Type)
	if err != nil {
		return false, err
	}
	if row != nil {
		return mayDecide(actor, sub, stage.Type, row.ApproverNIK), nil
	}
	res, err := s.resolver.Resolve(ctx, sub.request(stage.Type, ""))
	if errors.Is(err, workflow.ErrNoApproverResolved) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return mayDecide(actor, sub, stage.Type, res.ApproverNIK), nil
}

// Inbox returns the actor's pending approvals plus stages without a row yet
// that the actor is eligible to decide.
func (s *Service) Inbox(ctx context.Context, actor workflow.Actor) ([]store.PendingItem, error) {
	items, err := s.store.ListPendingFor(ctx, actor.NIK)
	if err != nil {
		return nil, err
	}
	for _, ownerType := range []workflow.OwnerType{workflow.OwnerDocument, workflow.OwnerAgreement} {
		chain, _ := workflow.ChainFor(ownerType)
		statuses := make([]workflow.Status, 0, len(chain.Stages()))
		for _, stage := range chain.Stages() {
			statuses = append(statuses, stage.Status)
		}
		ids, err := s.store.ListOwnersWithoutPendingRow(ctx, ownerType, statuses, inboxScanLimit)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			sub, err := s.loadSubject(ctx, ownerType, id)
			if err != nil {
				return nil, err
			}
			ok, err := s.canAct(ctx, sub, actor)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			stage, _ := sub.chain.StageFor(sub.status)
			item := store.PendingItem{
				Approval: store.Approval{
					OwnerType:    sub.ownerType,
					OwnerID:      sub.id,
					ApproverNIK:  actor.NIK,
					ApprovalType: stage.Type,
					Status:       workflow.ApprovalPending,
					Sequence:     stage.Sequence,
					Implicit:     true,
				},
				OwnerStatus:   sub.status,
				OwnerDivision: sub.division,
			}
			item.OwnerTitle, err = s.ownerTitle(ctx, sub)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *Service) ownerTitle(ctx context.Context, sub subject) (string, error) {
	if sub.ownerType == workflow.OwnerAgreement {
		agreement, err := s.store.GetAgreement(ctx, sub.id)
		return agreement.Title, err
	}
	doc, err := s.store.GetDocument(ctx, sub.id)
	return doc.Title, err
}

// History returns the approval trail of a document or agreement in chain
// order.
func (s *Service) History(ctx context.Context, ownerType workflow.OwnerType, ownerID string) ([]store.Approval, error) {
	if _, err := s.loadSubject(ctx, ownerType, ownerID); err != nil {
		return nil, err
	}
	return s.store.ListApprovals(ctx, ownerType, ownerID)
}

// Search runs a full-text query. Users outside legal, finance and the
// directors only see their own division.
func (s *Service) Search(ctx context.Context, actor workflow.Actor, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	if !rbac.Can(actor.Role, rbac.ActionDiscuss) && actor.Role != rbac.RoleDirector && actor.Role != rbac.RoleAdmin {
		q.FilterDivision = actor.Division
	}
	return s.search.Search(ctx, q)
}
