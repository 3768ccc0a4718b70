package app

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"legalflow/internal/attachments"
	"legalflow/internal/directory"
	"legalflow/internal/events"
	"legalflow/internal/rbac"
	"legalflow/internal/resolver"
	"legalflow/internal/search"
	"legalflow/internal/store"
	"legalflow/internal/workflow"
)

// memStore is an in-memory dataStore. InTx holds the store lock for the
// whole transaction and restores a snapshot when fn fails, which is enough
// to model row locks and rollback.
type memStore struct {
	mu         sync.Mutex
	docs       map[string]store.Document
	agreements map[string]store.Agreement
	approvals  []store.Approval
	comments   []store.Comment

	failInsertComment error
	pingErr           error
	scanLimits        []int
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]store.Document{}, agreements: map[string]store.Agreement{}}
}

func (m *memStore) InTx(ctx context.Context, fn func(store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := maps.Clone(m.docs)
	agreements := maps.Clone(m.agreements)
	approvals := slices.Clone(m.approvals)
	comments := slices.Clone(m.comments)
	if err := fn(&memTx{m: m}); err != nil {
		m.docs, m.agreements, m.approvals, m.comments = docs, agreements, approvals, comments
		return err
	}
	return nil
}

func (m *memStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (m *memStore) GetAgreement(_ context.Context, id string) (store.Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[id]
	if !ok {
		return store.Agreement{}, store.ErrNotFound
	}
	return a, nil
}

func (m *memStore) ListAgreements(_ context.Context, documentID string) ([]store.Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Agreement, 0)
	for _, a := range m.agreements {
		if a.DocumentID == documentID {
			items = append(items, a)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memStore) ListApprovals(_ context.Context, ownerType workflow.OwnerType, ownerID string) ([]store.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Approval, 0)
	for _, a := range m.approvals {
		if a.OwnerType == ownerType && a.OwnerID == ownerID {
			items = append(items, a)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Sequence < items[j].Sequence })
	return items, nil
}

func (m *memStore) ListComments(_ context.Context, documentID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Comment, 0)
	for _, c := range m.comments {
		if c.DocumentID == documentID {
			items = append(items, c)
		}
	}
	return items, nil
}

func (m *memStore) DiscussionFacts(ctx context.Context, documentID string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m: m}).DiscussionFacts(ctx, documentID)
}

func (m *memStore) Participants(ctx context.Context, documentID string) ([]string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m: m}).Participants(ctx, documentID)
}

func (m *memStore) PendingApproval(ctx context.Context, ownerType workflow.OwnerType, ownerID string, approvalType workflow.ApprovalType) (*store.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m: m}).PendingApproval(ctx, ownerType, ownerID, approvalType)
}

func (m *memStore) ListPendingFor(_ context.Context, nik string) ([]store.PendingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.PendingItem, 0)
	for _, a := range m.approvals {
		if a.Status != workflow.ApprovalPending || a.ApproverNIK != nik {
			continue
		}
		item := store.PendingItem{Approval: a}
		if a.OwnerType == workflow.OwnerAgreement {
			ag := m.agreements[a.OwnerID]
			item.OwnerTitle, item.OwnerStatus, item.OwnerDivision = ag.Title, ag.Status, ag.Division
		} else {
			doc := m.docs[a.OwnerID]
			item.OwnerTitle, item.OwnerStatus, item.OwnerDivision = doc.Title, doc.Status, doc.Division
		}
		items = append(items, item)
	}
	return items, nil
}

func (m *memStore) ListOwnersWithoutPendingRow(_ context.Context, ownerType workflow.OwnerType, statuses []workflow.Status, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanLimits = append(m.scanLimits, limit)
	hasPending := func(id string) bool {
		for _, a := range m.approvals {
			if a.OwnerType == ownerType && a.OwnerID == id && a.Status == workflow.ApprovalPending {
				return true
			}
		}
		return false
	}
	ids := make([]string, 0)
	if ownerType == workflow.OwnerAgreement {
		for id, a := range m.agreements {
			if slices.Contains(statuses, a.Status) && !hasPending(id) {
				ids = append(ids, id)
			}
		}
	} else {
		for id, d := range m.docs {
			if slices.Contains(statuses, d.Status) && !hasPending(id) {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) document(t *testing.T, id string) store.Document {
	t.Helper()
	doc, err := m.GetDocument(context.Background(), id)
	if err != nil {
		t.Fatalf("get document %s: %v", id, err)
	}
	return doc
}

func (m *memStore) pendingCount(ownerType workflow.OwnerType, ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.approvals {
		if a.OwnerType == ownerType && a.OwnerID == ownerID && a.Status == workflow.ApprovalPending {
			n++
		}
	}
	return n
}

type memTx struct {
	m *memStore
}

func (t *memTx) CreateDocument(_ context.Context, doc store.Document) error {
	if _, ok := t.m.docs[doc.ID]; ok {
		return fmt.Errorf("document %s exists", doc.ID)
	}
	t.m.docs[doc.ID] = doc
	return nil
}

func (t *memTx) LockDocument(_ context.Context, id string) (store.Document, error) {
	doc, ok := t.m.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	doc.Status = workflow.NormalizeStatus(doc.Status)
	return doc, nil
}

func (t *memTx) SaveDocument(_ context.Context, doc store.Document) error {
	if _, ok := t.m.docs[doc.ID]; !ok {
		return store.ErrNotFound
	}
	t.m.docs[doc.ID] = doc
	return nil
}

func (t *memTx) LockAgreement(_ context.Context, id string) (store.Agreement, error) {
	a, ok := t.m.agreements[id]
	if !ok {
		return store.Agreement{}, store.ErrNotFound
	}
	return a, nil
}

func (t *memTx) InsertAgreement(_ context.Context, a store.Agreement) error {
	for _, other := range t.m.agreements {
		if other.DocumentID == a.DocumentID && other.Status != workflow.StatusRediscuss {
			return workflow.DuplicateAgreement(a.DocumentID, "")
		}
	}
	t.m.agreements[a.ID] = a
	return nil
}

func (t *memTx) SaveAgreement(_ context.Context, a store.Agreement) error {
	if _, ok := t.m.agreements[a.ID]; !ok {
		return store.ErrNotFound
	}
	t.m.agreements[a.ID] = a
	return nil
}

func (t *memTx) ActiveAgreement(_ context.Context, documentID string) (*store.Agreement, error) {
	for _, a := range t.m.agreements {
		if a.DocumentID == documentID && a.Status != workflow.StatusRediscuss {
			return &a, nil
		}
	}
	return nil, nil
}

func (t *memTx) GetApproval(_ context.Context, id string) (*store.Approval, error) {
	for _, a := range t.m.approvals {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, nil
}

func (t *memTx) PendingApproval(_ context.Context, ownerType workflow.OwnerType, ownerID string, approvalType workflow.ApprovalType) (*store.Approval, error) {
	for _, a := range t.m.approvals {
		if a.OwnerType == ownerType && a.OwnerID == ownerID && a.ApprovalType == approvalType && a.Status == workflow.ApprovalPending {
			return &a, nil
		}
	}
	return nil, nil
}

func (t *memTx) ApprovalByDecision(_ context.Context, ownerType workflow.OwnerType, ownerID, decisionID string) (*store.Approval, error) {
	for _, a := range t.m.approvals {
		if a.OwnerType == ownerType && a.OwnerID == ownerID && a.DecisionID != "" && a.DecisionID == decisionID {
			return &a, nil
		}
	}
	return nil, nil
}

func (t *memTx) ListApprovals(_ context.Context, ownerType workflow.OwnerType, ownerID string) ([]store.Approval, error) {
	items := make([]store.Approval, 0)
	for _, a := range t.m.approvals {
		if a.OwnerType == ownerType && a.OwnerID == ownerID {
			items = append(items, a)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Sequence < items[j].Sequence })
	return items, nil
}

func (t *memTx) InsertApproval(ctx context.Context, a store.Approval) error {
	existing, _ := t.PendingApproval(ctx, a.OwnerType, a.OwnerID, a.ApprovalType)
	if existing != nil {
		return store.ErrDuplicatePending
	}
	t.m.approvals = append(t.m.approvals, a)
	return nil
}

func (t *memTx) DecideApproval(_ context.Context, id string, status workflow.ApprovalStatus, decidedBy, decisionID, comment string) (bool, error) {
	for i := range t.m.approvals {
		a := &t.m.approvals[i]
		if a.ID != id {
			continue
		}
		if a.Status != workflow.ApprovalPending {
			return false, nil
		}
		now := time.Now().UTC()
		a.Status, a.DecidedBy, a.DecisionID, a.Comment, a.DecidedAt = status, decidedBy, decisionID, comment, &now
		return true, nil
	}
	return false, nil
}

func (t *memTx) DeleteApprovals(_ context.Context, ownerType workflow.OwnerType, ownerID string) error {
	t.m.approvals = slices.DeleteFunc(t.m.approvals, func(a store.Approval) bool {
		return a.OwnerType == ownerType && a.OwnerID == ownerID
	})
	return nil
}

func (t *memTx) InsertComment(_ context.Context, c store.Comment) error {
	if t.m.failInsertComment != nil {
		return t.m.failInsertComment
	}
	t.m.comments = append(t.m.comments, c)
	return nil
}

func (t *memTx) DiscussionFacts(_ context.Context, documentID string) (bool, bool, error) {
	facts := make([]workflow.CommentFacts, 0)
	for _, c := range t.m.comments {
		if c.DocumentID == documentID {
			facts = append(facts, workflow.CommentFacts{AuthorRole: rbac.Role(c.AuthorRole), Closed: c.IsForumClosed, Reopened: c.IsForumReopened})
		}
	}
	d := workflow.DeriveDiscussion(facts)
	return d.FinanceParticipated, d.Closed, nil
}

func (t *memTx) Participants(_ context.Context, documentID string) ([]string, []string, error) {
	approvers := make([]string, 0)
	for _, a := range t.m.approvals {
		if a.OwnerType == workflow.OwnerDocument && a.OwnerID == documentID {
			approvers = append(approvers, a.ApproverNIK)
			if a.DecidedBy != "" {
				approvers = append(approvers, a.DecidedBy)
			}
		}
	}
	commenters := make([]string, 0)
	for _, c := range t.m.comments {
		if c.DocumentID == documentID {
			commenters = append(commenters, c.AuthorNIK)
		}
	}
	return approvers, commenters, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeFiles struct {
	mu      sync.Mutex
	objects map[string]string
	deleted []string
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{objects: map[string]string{}}
}

func (f *fakeFiles) Put(_ context.Context, documentID string, upload attachments.Upload) (string, error) {
	if err := attachments.Validate(upload); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(upload.Body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := attachments.ObjectKey(documentID, upload.Name)
	f.objects[key] = string(raw)
	return key, nil
}

func (f *fakeFiles) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeFiles) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://files.test/" + key, nil
}

type fakeSearch struct {
	mu        sync.Mutex
	docs      []search.DocumentRecord
	comments  []search.CommentRecord
	lastQuery search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexDocument(doc search.DocumentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
}

func (f *fakeSearch) IndexComment(c search.CommentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, c)
}

func (f *fakeSearch) DeleteDocument(string) {}

const (
	nikRequester  = "1001"
	nikSupervisor = "2001"
	nikSenior     = "2002"
	nikGM         = "3001"
	nikAdminLegal = "4001"
	nikHeadLegal  = "4002"
	nikFinance    = "5001"
	nikOutsider   = "6001"
	nikDirector1  = "9001"
	nikDirector2  = "9002"
)

type fixture struct {
	svc    *Service
	store  *memStore
	dir    *directory.Memory
	events *recordingPublisher
	files  *fakeFiles
	search *fakeSearch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.NewMemory(
		directory.User{NIK: nikRequester, Name: "Rina", Role: rbac.RoleRequester, Division: "Procurement", Directorate: "Operations", SupervisorNIK: nikSupervisor, IsActive: true},
		directory.User{NIK: nikSupervisor, Name: "Sam", Role: rbac.RoleManager, Division: "Procurement", Directorate: "Operations", IsActive: true},
		directory.User{NIK: nikSenior, Name: "Sari", Role: rbac.RoleSeniorManager, Division: "Procurement", Directorate: "Operations", IsActive: true},
		directory.User{NIK: nikGM, Name: "Gita", Role: rbac.RoleGeneralManager, Division: "Procurement", Directorate: "Operations", IsActive: true},
		directory.User{NIK: nikAdminLegal, Name: "Ade", Role: rbac.RoleAdminLegal, Division: "Legal", Directorate: "Corporate", IsActive: true},
		directory.User{NIK: nikHeadLegal, Name: "Hana", Role: rbac.RoleHeadLegal, Division: "Legal", Directorate: "Corporate", IsActive: true},
		directory.User{NIK: nikFinance, Name: "Fajar", Role: rbac.RoleFinance, Division: "Finance", Directorate: "Corporate", IsActive: true},
		directory.User{NIK: nikOutsider, Name: "Oki", Role: rbac.RoleRequester, Division: "IT", Directorate: "Technology", IsActive: true},
		directory.User{NIK: nikDirector1, Name: "Dewi", Role: rbac.RoleDirector, Directorate: "Operations", IsActive: true},
		directory.User{NIK: nikDirector2, Name: "Dani", Role: rbac.RoleDirector, Directorate: "Corporate", IsActive: true},
	)
	policy := workflow.DirectorPolicy{
		Version:               "test",
		DirectorByDirectorate: map[string]string{"OPERATIONS": nikDirector1, "TECHNOLOGY": nikDirector1},
		Director2Allowed:      []string{nikDirector2, nikDirector1},
	}
	f := &fixture{
		store:  newMemStore(),
		dir:    dir,
		events: &recordingPublisher{},
		files:  newFakeFiles(),
		search: &fakeSearch{},
	}
	f.svc = New(Deps{
		Store:       f.store,
		Directory:   dir,
		Resolver:    resolver.New(dir, nil, time.Second),
		Policy:      policy,
		Events:      f.events,
		Attachments: f.files,
		Search:      f.search,
	})
	return f
}

func (f *fixture) actor(t *testing.T, nik string) workflow.Actor {
	t.Helper()
	actor, err := f.svc.ActorFor(context.Background(), nik)
	if err != nil {
		t.Fatalf("actor %s: %v", nik, err)
	}
	return actor
}

var decisionSeq int

func nextDecisionID() string {
	decisionSeq++
	return fmt.Sprintf("dec-%d", decisionSeq)
}

func (f *fixture) approve(t *testing.T, docID, nik string) DecisionResult {
	t.Helper()
	res, err := f.svc.Decide(context.Background(), docID, DecideInput{DecisionID: nextDecisionID(), Decision: workflow.DecisionApprove}, f.actor(t, nik))
	if err != nil {
		t.Fatalf("%s approve %s: %v", nik, docID, err)
	}
	return res
}

func (f *fixture) approveAgreement(t *testing.T, agreementID, nik string) DecisionResult {
	t.Helper()
	res, err := f.svc.DecideAgreement(context.Background(), agreementID, DecideInput{DecisionID: nextDecisionID(), Decision: workflow.DecisionApprove}, f.actor(t, nik))
	if err != nil {
		t.Fatalf("%s approve agreement %s: %v", nik, agreementID, err)
	}
	return res
}

// submittedDocument creates and submits a document owned by the requester.
func (f *fixture) submittedDocument(t *testing.T) store.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := f.svc.CreateDocument(ctx, f.actor(t, nikRequester), CreateDocumentInput{Title: "Vendor MSA"})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	doc, err = f.svc.Submit(ctx, doc.ID, f.actor(t, nikRequester))
	if err != nil {
		t.Fatalf("submit document: %v", err)
	}
	return doc
}

// documentInDiscussion walks a document through its three approvals.
func (f *fixture) documentInDiscussion(t *testing.T) store.Document {
	t.Helper()
	doc := f.submittedDocument(t)
	f.approve(t, doc.ID, nikSupervisor)
	f.approve(t, doc.ID, nikGM)
	f.approve(t, doc.ID, nikAdminLegal)
	return f.store.document(t, doc.ID)
}

// documentReadyForAgreement also runs the discussion to a close.
func (f *fixture) documentReadyForAgreement(t *testing.T) store.Document {
	t.Helper()
	ctx := context.Background()
	doc := f.documentInDiscussion(t)
	if _, err := f.svc.AddComment(ctx, doc.ID, f.actor(t, nikFinance), CommentInput{Body: "Budget is approved."}); err != nil {
		t.Fatalf("finance comment: %v", err)
	}
	if _, err := f.svc.CloseDiscussion(ctx, doc.ID, f.actor(t, nikHeadLegal), "Ready for drafting."); err != nil {
		t.Fatalf("close discussion: %v", err)
	}
	return f.store.document(t, doc.ID)
}

func assertDraftFlag(t *testing.T, doc store.Document) {
	t.Helper()
	if doc.IsDraft != (doc.Status == workflow.StatusDraft) {
		t.Fatalf("document %s has status %s but isDraft=%v", doc.ID, doc.Status, doc.IsDraft)
	}
}
