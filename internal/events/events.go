// Package events carries workflow domain events to the notifier. Events are
// published after the transaction that produced them commits; a failed
// publish is logged and never undoes the workflow change.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"legalflow/internal/util"
)

type Type string

const (
	ApprovalRequested  Type = "ApprovalRequested"
	ApprovalDecided    Type = "ApprovalDecided"
	DiscussionClosed   Type = "DiscussionClosed"
	DiscussionReopened Type = "DiscussionReopened"
	AgreementCreated   Type = "AgreementCreated"
)

type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	OccurredAt  time.Time `json:"occurredAt"`
	OwnerType   string    `json:"ownerType"`
	OwnerID     string    `json:"ownerId"`
	DocumentID  string    `json:"documentId,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	ApproverNIK string    `json:"approverNik,omitempty"`
	ActorNIK    string    `json:"actorNik,omitempty"`
	Decision    string    `json:"decision,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// New stamps an event with an id and the current time.
func New(eventType Type, ownerType, ownerID string) Event {
	return Event{ID: util.NewID("evt"), Type: eventType, OccurredAt: time.Now().UTC(), OwnerType: ownerType, OwnerID: ownerID}
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// LogPublisher writes events to the log. It stands in for Redis when no
// REDIS_URL is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, events ...Event) error {
	for _, ev := range events {
		p.log.Info().
			Str("event", string(ev.Type)).
			Str("owner_type", ev.OwnerType).
			Str("owner_id", ev.OwnerID).
			Str("stage", ev.Stage).
			Str("approver", ev.ApproverNIK).
			Str("actor", ev.ActorNIK).
			Str("status", ev.Status).
			Msg("domain event")
	}
	return nil
}
