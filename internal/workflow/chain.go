package workflow

// Stage is one approval step of a chain: while the owner sits in Status, an
// approval of Type at position Sequence is expected.
type Stage struct {
	Status   Status
	Type     ApprovalType
	Sequence int
}

// Chain is an ordered approval pipeline. Draft is the pre-submission status
// and Done is reached once the last stage approves.
type Chain struct {
	Owner  OwnerType
	Draft  Status
	Done   Status
	stages []Stage
}

var DocumentChain = Chain{
	Owner: OwnerDocument,
	Draft: StatusDraft,
	Done:  StatusInDiscussion,
	stages: []Stage{
		{Status: StatusPendingSupervisor, Type: ApprovalSupervisor, Sequence: 1},
		{Status: StatusPendingGM, Type: ApprovalGeneralManager, Sequence: 2},
		{Status: StatusPendingLegalAdmin, Type: ApprovalLegalAdmin, Sequence: 3},
	},
}

var AgreementChain = Chain{
	Owner: OwnerAgreement,
	Draft: StatusDraft,
	Done:  StatusApproved,
	stages: []Stage{
		{Status: StatusPendingHead, Type: ApprovalHead, Sequence: 1},
		{Status: StatusPendingGM, Type: ApprovalGeneralManager, Sequence: 2},
		{Status: StatusPendingFinance, Type: ApprovalFinance, Sequence: 3},
		{Status: StatusPendingLegal, Type: ApprovalLegal, Sequence: 4},
		{Status: StatusPendingDirector1, Type: ApprovalDirector1, Sequence: 5},
		{Status: StatusPendingDirector2, Type: ApprovalDirector2, Sequence: 6},
	},
}

// ChainFor returns the chain owning approvals of the given owner type.
func ChainFor(owner OwnerType) (Chain, bool) {
	switch owner {
	case OwnerDocument:
		return DocumentChain, true
	case OwnerAgreement:
		return AgreementChain, true
	default:
		return Chain{}, false
	}
}

func (c Chain) First() Stage {
	return c.stages[0]
}

func (c Chain) Stages() []Stage {
	out := make([]Stage, len(c.stages))
	copy(out, c.stages)
	return out
}

// StageFor returns the stage awaiting a decision in status.
func (c Chain) StageFor(status Status) (Stage, bool) {
	status = NormalizeStatus(status)
	for _, stage := range c.stages {
		if stage.Status == status {
			return stage, true
		}
	}
	return Stage{}, false
}

func (c Chain) StageOf(approvalType ApprovalType) (Stage, bool) {
	for _, stage := range c.stages {
		if stage.Type == approvalType {
			return stage, true
		}
	}
	return Stage{}, false
}

// Transition is the pure outcome of applying a decision to a pending stage.
// Next is set when another stage has to be opened.
type Transition struct {
	From     Status
	To       Status
	Decided  Stage
	Next     *Stage
	Terminal bool
}

// Apply computes the status change for a decision taken at status. It does
// not check who decides; see StageRule.Allows for that.
func (c Chain) Apply(status Status, decision Decision) (Transition, error) {
	status = NormalizeStatus(status)
	stage, ok := c.StageFor(status)
	if !ok {
		return Transition{}, InvalidState(status, "%s is not awaiting an approval decision in status %s", c.Owner, status)
	}
	switch decision {
	case DecisionApprove:
		idx := stage.Sequence - 1
		if idx+1 < len(c.stages) {
			next := c.stages[idx+1]
			return Transition{From: status, To: next.Status, Decided: stage, Next: &next}, nil
		}
		return Transition{From: status, To: c.Done, Decided: stage, Terminal: c.Done == StatusApproved}, nil
	case DecisionReject:
		return Transition{From: status, To: StatusRejected, Decided: stage, Terminal: true}, nil
	case DecisionRediscuss:
		if c.Owner != OwnerAgreement || (stage.Type != ApprovalDirector1 && stage.Type != ApprovalDirector2) {
			return Transition{}, InvalidState(status, "rediscussion is only possible at a director stage")
		}
		return Transition{From: status, To: StatusRediscuss, Decided: stage, Terminal: true}, nil
	default:
		return Transition{}, Validation("unknown decision %q", decision)
	}
}
