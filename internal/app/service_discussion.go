package app

import (
	"context"
	"strings"
	"time"

	"legalflow/internal/events"
	"legalflow/internal/rbac"
	"legalflow/internal/search"
	"legalflow/internal/store"
	"legalflow/internal/util"
	"legalflow/internal/workflow"
)

const attachmentLinkTTL = 15 * time.Minute

// DiscussionView is the derived forum state of a document.
type DiscussionView struct {
	DocumentID     string          `json:"documentId"`
	DocumentStatus workflow.Status `json:"documentStatus"`
	workflow.Discussion
}

// AddComment posts to a document's discussion. Participation is checked
// before any attachment is uploaded and again under the document lock;
// uploads are removed if the comment row cannot be written.
func (s *Service) AddComment(ctx context.Context, documentID string, actor workflow.Actor, input CommentInput) (store.Comment, error) {
	input.Body = strings.TrimSpace(input.Body)
	if err := s.validateInput(input); err != nil {
		return store.Comment{}, err
	}
	if input.Body == "" && len(input.Attachments) == 0 {
		return store.Comment{}, workflow.Validation("a comment needs text or an attachment")
	}
	if len(input.Attachments) > 0 && s.files == nil {
		return store.Comment{}, workflow.Validation("attachments are not enabled on this server")
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Comment{}, notFound("document", documentID, err)
	}
	if doc.Status != workflow.StatusInDiscussion {
		return store.Comment{}, workflow.InvalidState(doc.Status, "document %s is not in discussion", doc.ID)
	}
	approvers, commenters, err := s.store.Participants(ctx, doc.ID)
	if err != nil {
		return store.Comment{}, err
	}
	if !workflow.CanParticipate(actor, participation(doc, approvers, commenters)) {
		return store.Comment{}, notParticipant(actor, doc)
	}

	keys := make([]string, 0, len(input.Attachments))
	for _, upload := range input.Attachments {
		key, err := s.files.Put(ctx, doc.ID, upload)
		if err != nil {
			s.discardUploads(keys)
			return store.Comment{}, workflow.Validation("attachment %s: %v", upload.Name, err)
		}
		keys = append(keys, key)
	}

	comment := store.Comment{
		ID:          util.NewID("cmt"),
		DocumentID:  doc.ID,
		AuthorNIK:   actor.NIK,
		AuthorRole:  string(actor.Role),
		Body:        input.Body,
		Attachments: keys,
		CreatedAt:   s.now(),
	}
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return notFound("document", documentID, err)
		}
		if locked.Status != workflow.StatusInDiscussion {
			return workflow.InvalidState(locked.Status, "document %s is not in discussion", locked.ID)
		}
		approvers, commenters, err := tx.Participants(ctx, locked.ID)
		if err != nil {
			return err
		}
		if !workflow.CanParticipate(actor, participation(locked, approvers, commenters)) {
			return notParticipant(actor, locked)
		}
		doc = locked
		return tx.InsertComment(ctx, comment)
	})
	if err != nil {
		s.discardUploads(keys)
		return store.Comment{}, err
	}
	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:         comment.ID,
			DocumentID: doc.ID,
			Division:   doc.Division,
			Body:       comment.Body,
			AuthorNIK:  comment.AuthorNIK,
			AuthorRole: comment.AuthorRole,
		})
	}
	return comment, nil
}

func participation(doc store.Document, approvers, commenters []string) workflow.Participation {
	return workflow.Participation{
		OwnerNIK:   doc.OwnerNIK,
		Division:   doc.Division,
		Approvers:  approvers,
		Commenters: commenters,
	}
}

func notParticipant(actor workflow.Actor, doc store.Document) error {
	return workflow.NotAuthorized("%s may not take part in the discussion of document %s", actor.NIK, doc.ID)
}

func (s *Service) discardUploads(keys []string) {
	if len(keys) == 0 {
		return
	}
	// The request context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := s.files.Delete(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("remove orphaned attachment")
		}
	}
}

// CloseDiscussion closes the forum and moves the document to agreement
// creation. Only HEAD_LEGAL may close, and only after finance took part.
func (s *Service) CloseDiscussion(ctx context.Context, documentID string, actor workflow.Actor, reason string) (store.Document, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > 4000 {
		return store.Document{}, workflow.Validation("reason is too long")
	}
	if !rbac.Can(actor.Role, rbac.ActionCloseDiscussion) {
		return store.Document{}, workflow.NotAuthorized("only HEAD_LEGAL can close a discussion")
	}
	var doc store.Document
	var evs []events.Event
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		evs = nil
		var err error
		doc, err = tx.LockDocument(ctx, documentID)
		if err != nil {
			return notFound("document", documentID, err)
		}
		if doc.Status != workflow.StatusInDiscussion {
			return workflow.InvalidState(doc.Status, "document %s is not in discussion", doc.ID)
		}
		finance, closed, err := tx.DiscussionFacts(ctx, doc.ID)
		if err != nil {
			return err
		}
		if err := workflow.CheckClose(actor, workflow.NewDiscussion(finance, closed)); err != nil {
			return err
		}
		body := reason
		if body == "" {
			body = "Discussion closed."
		}
		if err := tx.InsertComment(ctx, store.Comment{
			ID:            util.NewID("cmt"),
			DocumentID:    doc.ID,
			AuthorNIK:     actor.NIK,
			AuthorRole:    string(actor.Role),
			Body:          body,
			IsForumClosed: true,
			CreatedAt:     s.now(),
		}); err != nil {
			return err
		}
		doc.SetStatus(workflow.StatusAgreementCreation)
		if err := tx.SaveDocument(ctx, doc); err != nil {
			return err
		}
		ev := events.New(events.DiscussionClosed, string(workflow.OwnerDocument), doc.ID)
		ev.DocumentID = doc.ID
		ev.ActorNIK = actor.NIK
		ev.Status = string(doc.Status)
		evs = append(evs, ev)
		return nil
	})
	if err != nil {
		return store.Document{}, err
	}
	s.publish(ctx, evs)
	s.indexDocument(doc)
	return doc, nil
}

// DiscussionState derives the gate from the comment stream.
func (s *Service) DiscussionState(ctx context.Context, documentID string) (DiscussionView, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DiscussionView{}, notFound("document", documentID, err)
	}
	finance, closed, err := s.store.DiscussionFacts(ctx, documentID)
	if err != nil {
		return DiscussionView{}, err
	}
	return DiscussionView{DocumentID: doc.ID, DocumentStatus: doc.Status, Discussion: workflow.NewDiscussion(finance, closed)}, nil
}

// CommentView is a comment with short-lived download links for its
// attachments.
type CommentView struct {
	store.Comment
	AttachmentURLs []string `json:"attachmentUrls,omitempty"`
}

func (s *Service) Comments(ctx context.Context, documentID string) ([]CommentView, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, notFound("document", documentID, err)
	}
	comments, err := s.store.ListComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		view := CommentView{Comment: c}
		if s.files != nil {
			for _, key := range c.Attachments {
				link, err := s.files.PresignGet(ctx, key, attachmentLinkTTL)
				if err != nil {
					s.log.Warn().Err(err).Str("key", key).Msg("presign attachment")
					continue
				}
				view.AttachmentURLs = append(view.AttachmentURLs, link)
			}
		}
		out = append(out, view)
	}
	return out, nil
}
