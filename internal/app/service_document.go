package app

import (
	"context"
	"strings"

	"legalflow/internal/events"
	"legalflow/internal/store"
	"legalflow/internal/util"
	"legalflow/internal/workflow"
)

// CreateDocument starts a draft owned by actor, placed in the actor's
// division. The supervisor defaults to the actor's directory supervisor.
func (s *Service) CreateDocument(ctx context.Context, actor workflow.Actor, input CreateDocumentInput) (store.Document, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.SupervisorNIK = strings.TrimSpace(input.SupervisorNIK)
	if err := s.validateInput(input); err != nil {
		return store.Document{}, err
	}
	if !actor.Active {
		return store.Document{}, workflow.NotAuthorized("inactive users cannot create documents")
	}
	supervisor := input.SupervisorNIK
	if supervisor == "" {
		user, err := s.dir.GetUser(ctx, actor.NIK)
		if err != nil {
			return store.Document{}, err
		}
		if user != nil {
			supervisor = user.SupervisorNIK
		}
	}
	if supervisor == actor.NIK {
		return store.Document{}, workflow.Validation("a document owner cannot be their own supervisor")
	}

	now := s.now()
	doc := store.Document{
		ID:            util.NewID("doc"),
		Title:         input.Title,
		OwnerNIK:      actor.NIK,
		SupervisorNIK: supervisor,
		Division:      actor.Division,
		Directorate:   actor.Directorate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	doc.SetStatus(workflow.StatusDraft)
	if err := s.store.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateDocument(ctx, doc)
	}); err != nil {
		return store.Document{}, err
	}
	s.indexDocument(doc)
	return doc, nil
}

// Submit moves a draft into the approval chain and opens the supervisor
// stage.
func (s *Service) Submit(ctx context.Context, documentID string, actor workflow.Actor) (store.Document, error) {
	var doc store.Document
	var evs []events.Event
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		evs = nil
		var err error
		doc, err = tx.LockDocument(ctx, documentID)
		if err != nil {
			return notFound("document", documentID, err)
		}
		if doc.Status != workflow.StatusDraft {
			return workflow.InvalidState(doc.Status, "only a draft can be submitted; document %s is %s", doc.ID, doc.Status)
		}
		if actor.NIK != doc.OwnerNIK {
			return workflow.NotAuthorized("only the owner can submit document %s", doc.ID)
		}

		doc.SetStatus(workflow.StatusSubmitted)
		doc.SubmittedAt = timePtr(s.now())
		doc.CompletedAt = nil
		if err := tx.SaveDocument(ctx, doc); err != nil {
			return err
		}
		first := workflow.DocumentChain.First()
		row, err := s.openStage(ctx, tx, documentSubject(doc), first)
		if err != nil {
			return err
		}
		evs = append(evs, requested(documentSubject(doc), first, row))
		return nil
	})
	if err != nil {
		return store.Document{}, err
	}
	s.publish(ctx, evs)
	s.indexDocument(doc)
	return doc, nil
}

// Decide records a decision on the document's current stage. Repeating a
// decision id returns the result of its first application with Replayed set.
func (s *Service) Decide(ctx context.Context, documentID string, input DecideInput, actor workflow.Actor) (DecisionResult, error) {
	if err := s.validateInput(input); err != nil {
		return DecisionResult{}, err
	}
	var doc store.Document
	var out decision
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		doc, err = tx.LockDocument(ctx, documentID)
		if err != nil {
			return notFound("document", documentID, err)
		}
		out, err = s.decideStage(ctx, tx, documentSubject(doc), input, actor)
		if err != nil || out.replayed {
			return err
		}
		doc.SetStatus(out.transition.To)
		if out.transition.To == workflow.StatusRejected {
			doc.CompletedAt = timePtr(s.now())
		}
		return tx.SaveDocument(ctx, doc)
	})
	if err != nil {
		return DecisionResult{}, err
	}
	if out.replayed {
		return out.result(), nil
	}
	s.publish(ctx, out.events)
	s.indexDocument(doc)
	return DecisionResult{Approval: out.approval, OwnerStatus: doc.Status, NextApproval: out.next}, nil
}

// Withdraw pulls a submitted document back to draft before the supervisor
// has decided, dropping its approval rows.
func (s *Service) Withdraw(ctx context.Context, documentID string, actor workflow.Actor) (store.Document, error) {
	var doc store.Document
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		doc, err = tx.LockDocument(ctx, documentID)
		if err != nil {
			return notFound("document", documentID, err)
		}
		if !workflow.CanWithdraw(doc.Status) {
			return workflow.InvalidState(doc.Status, "document %s can no longer be withdrawn", doc.ID)
		}
		if actor.NIK != doc.OwnerNIK {
			return workflow.NotAuthorized("only the owner can withdraw document %s", doc.ID)
		}
		if err := tx.DeleteApprovals(ctx, workflow.OwnerDocument, doc.ID); err != nil {
			return err
		}
		doc.SetStatus(workflow.StatusDraft)
		doc.SubmittedAt = nil
		return tx.SaveDocument(ctx, doc)
	})
	if err != nil {
		return store.Document{}, err
	}
	s.indexDocument(doc)
	return doc, nil
}

// DocumentView is a document with its derived discussion state and
// agreements.
type DocumentView struct {
	Document   store.Document      `json:"document"`
	Discussion workflow.Discussion `json:"discussion"`
	Agreements []store.Agreement   `json:"agreements"`
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (DocumentView, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, notFound("document", documentID, err)
	}
	finance, closed, err := s.store.DiscussionFacts(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	agreements, err := s.store.ListAgreements(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	return DocumentView{Document: doc, Discussion: workflow.NewDiscussion(finance, closed), Agreements: agreements}, nil
}
