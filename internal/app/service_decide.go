package app

import (
	"context"
	"errors"

	"legalflow/internal/events"
	"legalflow/internal/rbac"
	"legalflow/internal/resolver"
	"legalflow/internal/store"
	"legalflow/internal/util"
	"legalflow/internal/workflow"
)

// subject is the document or agreement an approval chain runs on.
type subject struct {
	ownerType     workflow.OwnerType
	id            string
	documentID    string
	ownerNIK      string
	division      string
	directorate   string
	supervisorNIK string
	director1NIK  string
	director2NIK  string
	status        workflow.Status
	chain         workflow.Chain
}

func documentSubject(doc store.Document) subject {
	return subject{
		ownerType:     workflow.OwnerDocument,
		id:            doc.ID,
		documentID:    doc.ID,
		ownerNIK:      doc.OwnerNIK,
		division:      doc.Division,
		directorate:   doc.Directorate,
		supervisorNIK: doc.SupervisorNIK,
		status:        doc.Status,
		chain:         workflow.DocumentChain,
	}
}

func agreementSubject(a store.Agreement) subject {
	return subject{
		ownerType:    workflow.OwnerAgreement,
		id:           a.ID,
		documentID:   a.DocumentID,
		ownerNIK:     a.CreatedBy,
		division:     a.Division,
		directorate:  a.Directorate,
		director1NIK: a.Director1NIK,
		director2NIK: a.Director2NIK,
		status:       a.Status,
		chain:        workflow.AgreementChain,
	}
}

func (sub subject) placement() workflow.Subject {
	return workflow.Subject{Division: sub.division, Directorate: sub.directorate}
}

func (sub subject) request(stage workflow.ApprovalType, pendingApprover string) resolver.Request {
	return resolver.Request{
		Stage:           stage,
		OwnerNIK:        sub.ownerNIK,
		Division:        sub.division,
		Directorate:     sub.directorate,
		SupervisorNIK:   sub.supervisorNIK,
		Director1NIK:    sub.director1NIK,
		Director2NIK:    sub.director2NIK,
		PendingApprover: pendingApprover,
	}
}

// mayDecide reports whether actor can decide a stage whose approver is
// approverNIK. The named approver always can; otherwise the stage's role
// class decides, and the subject's owner never approves their own request.
func mayDecide(actor workflow.Actor, sub subject, stage workflow.ApprovalType, approverNIK string) bool {
	if !actor.Active || actor.NIK == "" {
		return false
	}
	if actor.NIK == approverNIK {
		return true
	}
	if actor.NIK == sub.ownerNIK {
		return false
	}
	rule, ok := workflow.RuleFor(stage)
	return ok && rule.Allows(actor, sub.placement())
}

// openStage creates the PENDING row for stage when an approver can be
// resolved now. An unresolvable stage is left without a row; the first
// decision materializes it.
func (s *Service) openStage(ctx context.Context, tx store.Tx, sub subject, stage workflow.Stage) (*store.Approval, error) {
	res, err := s.resolver.Resolve(ctx, sub.request(stage.Type, ""))
	if errors.Is(err, workflow.ErrNoApproverResolved) {
		s.log.Warn().Err(err).Str("owner_id", sub.id).Str("stage", string(stage.Type)).Msg("stage opened without an approver row")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row := store.Approval{
		ID:                 util.NewID("apr"),
		OwnerType:          sub.ownerType,
		OwnerID:            sub.id,
		ApproverNIK:        res.ApproverNIK,
		ApprovalType:       stage.Type,
		Status:             workflow.ApprovalPending,
		Sequence:           stage.Sequence,
		ResolutionTier:     res.TierName,
		EligibilityVersion: res.Version,
		CreatedAt:          s.now(),
	}
	if err := tx.InsertApproval(ctx, row); err != nil {
		if errors.Is(err, store.ErrDuplicatePending) {
			return tx.PendingApproval(ctx, sub.ownerType, sub.id, stage.Type)
		}
		return nil, err
	}
	return &row, nil
}

// materialize persists the approval row for a stage that was opened without
// one, on behalf of the deciding actor.
func (s *Service) materialize(ctx context.Context, tx store.Tx, sub subject, stage workflow.Stage, actor workflow.Actor) (*store.Approval, error) {
	res, err := s.resolver.Resolve(ctx, sub.request(stage.Type, ""))
	if err != nil {
		return nil, err
	}
	if !mayDecide(actor, sub, stage.Type, res.ApproverNIK) {
		return nil, workflow.NotAuthorized("%s is not an eligible %s approver for this %s", actor.NIK, stage.Type, sub.ownerType)
	}
	tier := res.TierName
	if actor.NIK != res.ApproverNIK {
		tier = resolver.TierRoleClass.String()
	}
	row := store.Approval{
		ID:                 util.NewID("apr"),
		OwnerType:          sub.ownerType,
		OwnerID:            sub.id,
		ApproverNIK:        actor.NIK,
		ApprovalType:       stage.Type,
		Status:             workflow.ApprovalPending,
		Sequence:           stage.Sequence,
		Implicit:           true,
		ResolutionTier:     tier,
		EligibilityVersion: res.Version,
		CreatedAt:          s.now(),
	}
	if err := tx.InsertApproval(ctx, row); err != nil {
		if errors.Is(err, store.ErrDuplicatePending) {
			// Someone opened the stage concurrently; decide on their row.
			return tx.PendingApproval(ctx, sub.ownerType, sub.id, stage.Type)
		}
		return nil, err
	}
	return &row, nil
}

// decision is the in-transaction result of decideStage.
type decision struct {
	approval   store.Approval
	transition workflow.Transition
	next       *store.Approval
	replayed   bool
	events     []events.Event
}

// result is the caller-facing view of a replayed decision.
func (d decision) result() DecisionResult {
	return DecisionResult{Approval: d.approval, OwnerStatus: d.transition.To, NextApproval: d.next, Replayed: true}
}

// decideStage runs one decision against a locked subject: replay detection,
// row lookup or materialization, authorization, the CAS update and opening of
// the next stage. The caller persists the subject's new status.
func (s *Service) decideStage(ctx context.Context, tx store.Tx, sub subject, in DecideInput, actor workflow.Actor) (decision, error) {
	prior, err := tx.ApprovalByDecision(ctx, sub.ownerType, sub.id, in.DecisionID)
	if err != nil {
		return decision{}, err
	}
	if prior != nil {
		if in.ApprovalID != "" && in.ApprovalID != prior.ID {
			return decision{}, workflow.Validation("decision id %s was already used for approval %s", in.DecisionID, prior.ID)
		}
		return s.replay(ctx, tx, sub, *prior)
	}

	var row *store.Approval
	if in.ApprovalID != "" {
		row, err = tx.GetApproval(ctx, in.ApprovalID)
		if err != nil {
			return decision{}, err
		}
		if row == nil || row.OwnerType != sub.ownerType || row.OwnerID != sub.id {
			return decision{}, workflow.NotFound("approval", in.ApprovalID)
		}
		if row.Status != workflow.ApprovalPending {
			return decision{}, workflow.AlreadyDecided(row.ID, row.Status)
		}
	}

	stage, ok := sub.chain.StageFor(sub.status)
	if !ok {
		return decision{}, workflow.InvalidState(sub.status, "%s %s is not awaiting an approval decision", sub.ownerType, sub.id)
	}
	if row != nil && row.ApprovalType != stage.Type {
		return decision{}, workflow.InvalidState(sub.status, "approval %s is for stage %s, current stage is %s", row.ID, row.ApprovalType, stage.Type)
	}
	transition, err := sub.chain.Apply(sub.status, in.Decision)
	if err != nil {
		return decision{}, err
	}
	if in.Decision == workflow.DecisionRediscuss && !rbac.Can(actor.Role, rbac.ActionRediscuss) {
		return decision{}, workflow.NotAuthorized("only a director can send an agreement back to discussion")
	}

	if row == nil {
		row, err = tx.PendingApproval(ctx, sub.ownerType, sub.id, stage.Type)
		if err != nil {
			return decision{}, err
		}
	}
	if row == nil {
		row, err = s.materialize(ctx, tx, sub, stage, actor)
		if err != nil {
			return decision{}, err
		}
	} else if !mayDecide(actor, sub, stage.Type, row.ApproverNIK) {
		return decision{}, workflow.NotAuthorized("%s is not the %s approver for this %s", actor.NIK, stage.Type, sub.ownerType)
	}

	status := in.Decision.ApprovalStatus()
	decided, err := tx.DecideApproval(ctx, row.ID, status, actor.NIK, in.DecisionID, in.Comment)
	if err != nil {
		return decision{}, err
	}
	if !decided {
		current, err := tx.GetApproval(ctx, row.ID)
		if err != nil {
			return decision{}, err
		}
		if current == nil {
			return decision{}, workflow.NotFound("approval", row.ID)
		}
		return decision{}, workflow.AlreadyDecided(current.ID, current.Status)
	}

	now := s.now()
	out := decision{approval: *row, transition: transition}
	out.approval.Status = status
	out.approval.DecidedBy = actor.NIK
	out.approval.DecidedAt = &now
	out.approval.DecisionID = in.DecisionID
	out.approval.Comment = in.Comment

	ev := events.New(events.ApprovalDecided, string(sub.ownerType), sub.id)
	ev.DocumentID = sub.documentID
	ev.Stage = string(stage.Type)
	ev.ApproverNIK = row.ApproverNIK
	ev.ActorNIK = actor.NIK
	ev.Decision = string(in.Decision)
	ev.Status = string(transition.To)
	out.events = append(out.events, ev)

	if transition.Next != nil {
		sub.status = transition.To
		next, err := s.openStage(ctx, tx, sub, *transition.Next)
		if err != nil {
			return decision{}, err
		}
		out.next = next
		out.events = append(out.events, requested(sub, *transition.Next, next))
	}
	return out, nil
}

// replay rebuilds the result of a decision that was already applied. The
// transition is recomputed from the decided row. The stage it opened is the
// non-implicit row of the next stage type, returned in its current state;
// rows materialized by a later decision are implicit and never match.
func (s *Service) replay(ctx context.Context, tx store.Tx, sub subject, prior store.Approval) (decision, error) {
	stage, ok := sub.chain.StageOf(prior.ApprovalType)
	if !ok {
		return decision{}, workflow.InvalidState(sub.status, "approval %s does not belong to the %s chain", prior.ID, sub.ownerType)
	}
	d, ok := workflow.DecisionFor(prior.Status)
	if !ok {
		return decision{}, workflow.InvalidState(sub.status, "approval %s carries decision id %s but is %s", prior.ID, prior.DecisionID, prior.Status)
	}
	transition, err := sub.chain.Apply(stage.Status, d)
	if err != nil {
		return decision{}, err
	}
	out := decision{approval: prior, transition: transition, replayed: true}
	if transition.Next == nil {
		return out, nil
	}
	rows, err := tx.ListApprovals(ctx, sub.ownerType, sub.id)
	if err != nil {
		return decision{}, err
	}
	for i := range rows {
		if rows[i].ApprovalType == transition.Next.Type && !rows[i].Implicit {
			next := rows[i]
			out.next = &next
			break
		}
	}
	return out, nil
}

func requested(sub subject, stage workflow.Stage, row *store.Approval) events.Event {
	ev := events.New(events.ApprovalRequested, string(sub.ownerType), sub.id)
	ev.DocumentID = sub.documentID
	ev.Stage = string(stage.Type)
	ev.Status = string(stage.Status)
	if row != nil {
		ev.ApproverNIK = row.ApproverNIK
	}
	return ev
}
