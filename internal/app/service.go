package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"legalflow/internal/attachments"
	"legalflow/internal/directory"
	"legalflow/internal/events"
	"legalflow/internal/logging"
	"legalflow/internal/resolver"
	"legalflow/internal/search"
	"legalflow/internal/store"
	"legalflow/internal/workflow"
)

type CreateDocumentInput struct {
	Title         string `json:"title" validate:"required,max=300"`
	SupervisorNIK string `json:"supervisorNik" validate:"omitempty,max=32"`
}

type DecideInput struct {
	ApprovalID string            `json:"approvalId" validate:"omitempty,max=64"`
	DecisionID string            `json:"decisionId" validate:"required,max=128"`
	Decision   workflow.Decision `json:"decision" validate:"required,oneof=APPROVE REJECT REDISCUSS"`
	Comment    string            `json:"comment" validate:"max=4000"`
}

type CommentInput struct {
	Body        string               `json:"body" validate:"max=10000"`
	Attachments []attachments.Upload `json:"-" validate:"max=10"`
}

type CreateAgreementInput struct {
	Title        string `json:"title" validate:"required,max=300"`
	Counterparty string `json:"counterparty" validate:"required,max=300"`
	Director2NIK string `json:"director2Nik" validate:"required,max=32"`
	Submit       bool   `json:"submit"`
}

// DecisionResult is returned by Decide and DecideAgreement. Replayed is set
// when the decision id had already been applied and nothing changed.
type DecisionResult struct {
	Approval     store.Approval  `json:"approval"`
	OwnerStatus  workflow.Status `json:"ownerStatus"`
	NextApproval *store.Approval `json:"nextApproval,omitempty"`
	Replayed     bool            `json:"replayed"`
}

type dataStore interface {
	InTx(ctx context.Context, fn func(store.Tx) error) error
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	GetAgreement(ctx context.Context, agreementID string) (store.Agreement, error)
	ListAgreements(ctx context.Context, documentID string) ([]store.Agreement, error)
	ListApprovals(ctx context.Context, ownerType workflow.OwnerType, ownerID string) ([]store.Approval, error)
	ListComments(ctx context.Context, documentID string) ([]store.Comment, error)
	DiscussionFacts(ctx context.Context, documentID string) (bool, bool, error)
	Participants(ctx context.Context, documentID string) ([]string, []string, error)
	PendingApproval(ctx context.Context, ownerType workflow.OwnerType, ownerID string, approvalType workflow.ApprovalType) (*store.Approval, error)
	ListPendingFor(ctx context.Context, approverNIK string) ([]store.PendingItem, error)
	ListOwnersWithoutPendingRow(ctx context.Context, ownerType workflow.OwnerType, statuses []workflow.Status, limit int) ([]string, error)
	Ping(ctx context.Context) error
}

type approverResolver interface {
	Resolve(ctx context.Context, req resolver.Request) (resolver.Resolution, error)
	Candidates(ctx context.Context, req resolver.Request) ([]string, error)
}

type attachmentStore interface {
	Put(ctx context.Context, documentID string, upload attachments.Upload) (string, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	IndexComment(c search.CommentRecord)
	DeleteDocument(id string)
}

// Deps wires a Service. Attachments and Search are optional.
type Deps struct {
	Store       dataStore
	Directory   directory.Directory
	Resolver    approverResolver
	Policy      workflow.DirectorPolicy
	Events      events.Publisher
	Attachments attachmentStore
	Search      searchIndex
}

type Service struct {
	store    dataStore
	dir      directory.Directory
	resolver approverResolver
	policy   workflow.DirectorPolicy
	events   events.Publisher
	files    attachmentStore
	search   searchIndex
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

func New(deps Deps) *Service {
	log := logging.Component("workflow")
	publisher := deps.Events
	if publisher == nil {
		publisher = events.NewLogPublisher(log)
	}
	return &Service{
		store:    deps.Store,
		dir:      deps.Directory,
		resolver: deps.Resolver,
		policy:   deps.Policy,
		events:   publisher,
		files:    deps.Attachments,
		search:   deps.Search,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ActorFor looks the caller up in the directory. Unknown and inactive users
// cannot act.
func (s *Service) ActorFor(ctx context.Context, nik string) (workflow.Actor, error) {
	nik = strings.TrimSpace(nik)
	if nik == "" {
		return workflow.Actor{}, workflow.NotAuthorized("caller identity is required")
	}
	user, err := s.dir.GetUser(ctx, nik)
	if err != nil {
		return workflow.Actor{}, err
	}
	if user == nil || !user.IsActive {
		return workflow.Actor{}, workflow.NotAuthorized("user %s is not an active member of the directory", nik)
	}
	return workflow.Actor{
		NIK:         user.NIK,
		Name:        user.Name,
		Role:        user.Role,
		Division:    user.Division,
		Directorate: user.Directorate,
		Active:      user.IsActive,
	}, nil
}

func (s *Service) validateInput(input any) error {
	if err := s.validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return workflow.Validation("%s failed the %q rule", first.Field(), first.Tag())
		}
		return workflow.Validation("%v", err)
	}
	return nil
}

// publish sends events after commit. A failed publish is logged; the workflow
// change stands.
func (s *Service) publish(ctx context.Context, evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	if err := s.events.Publish(ctx, evs...); err != nil {
		s.log.Error().Err(err).Int("count", len(evs)).Msg("publish domain events")
	}
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:       doc.ID,
		Title:    doc.Title,
		Status:   string(doc.Status),
		Division: doc.Division,
		OwnerNIK: doc.OwnerNIK,
	})
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return workflow.NotFound(kind, id)
	}
	return err
}

func timePtr(t time.Time) *time.Time {
	return &t
}
