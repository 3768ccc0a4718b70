package app

import (
	"context"
	"strings"
	"time"

	"legalflow/internal/events"
	"legalflow/internal/rbac"
	"legalflow/internal/store"
	"legalflow/internal/util"
	"legalflow/internal/workflow"
)

// CreateAgreement spawns the agreement for a document whose discussion has
// closed. Director 1 comes from the directorate table, director 2 from the
// creator's pick.
func (s *Service) CreateAgreement(ctx context.Context, documentID string, actor workflow.Actor, input CreateAgreementInput) (store.Agreement, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Counterparty = strings.TrimSpace(input.Counterparty)
	input.Director2NIK = strings.TrimSpace(input.Director2NIK)
	if err := s.validateInput(input); err != nil {
		return store.Agreement{}, err
	}

	var agreement store.Agreement
	var evs []events.Event
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		evs = nil
		doc, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return notFound("document", documentID, err)
		}
		existing, err := tx.ActiveAgreement(ctx, doc.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return workflow.DuplicateAgreement(doc.ID, existing.ID)
		}
		if doc.Status != workflow.StatusAgreementCreation {
			return workflow.InvalidState(doc.Status, "agreements can only be created once the discussion of document %s is closed", doc.ID)
		}
		if actor.NIK != doc.OwnerNIK && !rbac.Can(actor.Role, rbac.ActionCreateAgreement) {
			return workflow.NotAuthorized("only the document owner or legal can create its agreement")
		}
		director1, director2, err := s.policy.PickDirectors(doc.Directorate, input.Director2NIK)
		if err != nil {
			return err
		}

		now := s.now()
		agreement = store.Agreement{
			ID:           util.NewID("agr"),
			DocumentID:   doc.ID,
			Title:        input.Title,
			Counterparty: input.Counterparty,
			Division:     doc.Division,
			Directorate:  doc.Directorate,
			Director1NIK: director1,
			Director2NIK: director2,
			CreatedBy:    actor.NIK,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		agreement.SetStatus(workflow.StatusDraft)
		if input.Submit {
			agreement.SetStatus(workflow.AgreementChain.First().Status)
			agreement.SubmittedAt = timePtr(now)
		}
		if err := tx.InsertAgreement(ctx, agreement); err != nil {
			return err
		}
		created := events.New(events.AgreementCreated, string(workflow.OwnerAgreement), agreement.ID)
		created.DocumentID = doc.ID
		created.ActorNIK = actor.NIK
		created.Status = string(agreement.Status)
		evs = append(evs, created)

		if input.Submit {
			first := workflow.AgreementChain.First()
			row, err := s.openStage(ctx, tx, agreementSubject(agreement), first)
			if err != nil {
				return err
			}
			evs = append(evs, requested(agreementSubject(agreement), first, row))
		}
		return nil
	})
	if err != nil {
		return store.Agreement{}, err
	}
	s.publish(ctx, evs)
	return agreement, nil
}

// SubmitAgreement sends a draft agreement to its first approver.
func (s *Service) SubmitAgreement(ctx context.Context, agreementID string, actor workflow.Actor) (store.Agreement, error) {
	var agreement store.Agreement
	var evs []events.Event
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		evs = nil
		var err error
		agreement, err = tx.LockAgreement(ctx, agreementID)
		if err != nil {
			return notFound("agreement", agreementID, err)
		}
		if agreement.Status != workflow.StatusDraft {
			return workflow.InvalidState(agreement.Status, "only a draft agreement can be submitted; agreement %s is %s", agreement.ID, agreement.Status)
		}
		if actor.NIK != agreement.CreatedBy {
			return workflow.NotAuthorized("only the creator can submit agreement %s", agreement.ID)
		}
		first := workflow.AgreementChain.First()
		agreement.SetStatus(first.Status)
		agreement.SubmittedAt = timePtr(s.now())
		if err := tx.SaveAgreement(ctx, agreement); err != nil {
			return err
		}
		row, err := s.openStage(ctx, tx, agreementSubject(agreement), first)
		if err != nil {
			return err
		}
		evs = append(evs, requested(agreementSubject(agreement), first, row))
		return nil
	})
	if err != nil {
		return store.Agreement{}, err
	}
	s.publish(ctx, evs)
	return agreement, nil
}

// DecideAgreement records a decision on the agreement's current stage and
// carries the outcome over to the parent document: the first approval starts
// AGREEMENT_APPROVAL, the final outcome completes or rejects it, and a
// director's REDISCUSS reopens its discussion.
func (s *Service) DecideAgreement(ctx context.Context, agreementID string, input DecideInput, actor workflow.Actor) (DecisionResult, error) {
	if err := s.validateInput(input); err != nil {
		return DecisionResult{}, err
	}
	var agreement store.Agreement
	var out decision
	var doc *store.Document
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		doc = nil
		var err error
		agreement, err = tx.LockAgreement(ctx, agreementID)
		if err != nil {
			return notFound("agreement", agreementID, err)
		}
		out, err = s.decideStage(ctx, tx, agreementSubject(agreement), input, actor)
		if err != nil || out.replayed {
			return err
		}

		now := s.now()
		agreement.SetStatus(out.transition.To)
		if out.transition.Terminal {
			agreement.CompletedAt = timePtr(now)
		}
		if err := tx.SaveAgreement(ctx, agreement); err != nil {
			return err
		}

		parent, err := tx.LockDocument(ctx, agreement.DocumentID)
		if err != nil {
			return notFound("document", agreement.DocumentID, err)
		}
		changed, reopened := documentAfterAgreement(&parent, out.transition, now)
		if reopened {
			body := "Agreement " + agreement.ID + " sent back to discussion."
			if c := strings.TrimSpace(input.Comment); c != "" {
				body += " " + c
			}
			if err := tx.InsertComment(ctx, store.Comment{
				ID:              util.NewID("cmt"),
				DocumentID:      parent.ID,
				AuthorNIK:       actor.NIK,
				AuthorRole:      string(actor.Role),
				Body:            body,
				IsForumReopened: true,
				CreatedAt:       now,
			}); err != nil {
				return err
			}
			ev := events.New(events.DiscussionReopened, string(workflow.OwnerDocument), parent.ID)
			ev.DocumentID = parent.ID
			ev.ActorNIK = actor.NIK
			ev.Status = string(parent.Status)
			out.events = append(out.events, ev)
		}
		if changed {
			if err := tx.SaveDocument(ctx, parent); err != nil {
				return err
			}
			doc = &parent
		}
		return nil
	})
	if err != nil {
		return DecisionResult{}, err
	}
	if out.replayed {
		return out.result(), nil
	}
	s.publish(ctx, out.events)
	if doc != nil {
		s.indexDocument(*doc)
	}
	return DecisionResult{Approval: out.approval, OwnerStatus: agreement.Status, NextApproval: out.next}, nil
}

// documentAfterAgreement applies an agreement transition to its parent
// document. It reports whether the document changed and whether its
// discussion was reopened.
func documentAfterAgreement(doc *store.Document, t workflow.Transition, now time.Time) (bool, bool) {
	switch t.To {
	case workflow.StatusApproved:
		doc.SetStatus(workflow.StatusCompleted)
		doc.CompletedAt = &now
		return true, false
	case workflow.StatusRejected:
		doc.SetStatus(workflow.StatusRejected)
		doc.CompletedAt = &now
		return true, false
	case workflow.StatusRediscuss:
		doc.SetStatus(workflow.StatusInDiscussion)
		return true, true
	}
	if doc.Status == workflow.StatusAgreementCreation {
		doc.SetStatus(workflow.StatusAgreementApproval)
		return true, false
	}
	return false, false
}

func (s *Service) GetAgreement(ctx context.Context, agreementID string) (store.Agreement, error) {
	agreement, err := s.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return store.Agreement{}, notFound("agreement", agreementID, err)
	}
	return agreement, nil
}
