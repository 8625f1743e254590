package mail

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/smailhq/smail/internal/domain"
	"github.com/smailhq/smail/internal/repository"
)

var (
	// ErrMissingFields is returned when send lacks a recipient or subject.
	ErrMissingFields = errors.New("to and subject are required")
	// ErrForbidden marks an existing message the caller does not own.
	ErrForbidden = errors.New("access denied")
)

// Service implements the message lifecycle: listing, send with local
// delivery, flag/folder updates, and two-phase deletion.
type Service struct {
	messages    repository.MessageRepository
	users       repository.UserRepository
	attachments repository.AttachmentRepository
	logger      *slog.Logger
}

// New constructs a Service.
func New(messages repository.MessageRepository, users repository.UserRepository, attachments repository.AttachmentRepository, logger *slog.Logger) Service {
	return Service{messages: messages, users: users, attachments: attachments, logger: logger}
}

// UpdateInput patches a subset of message state. Nil fields are untouched.
// Folder accepts any string: the folder set is deliberately open.
type UpdateInput struct {
	Read    *bool
	Starred *bool
	Folder  *string
}

// List returns the messages visible to the owner, optionally narrowed to a
// folder and a case-insensitive substring search over subject, body, and
// sender address. Newest first, no pagination.
func (s Service) List(ctx context.Context, owner *domain.User, folder, search string) ([]domain.Message, error) {
	return s.messages.ListMessages(ctx, owner.Email, repository.MessageFilter{
		Folder: folder,
		Search: search,
	})
}

// Get fetches one message. Existence is checked before ownership, so an
// absent id is always NotFound and a foreign id is always Forbidden.
func (s Service) Get(ctx context.Context, owner *domain.User, id string) (*domain.Message, error) {
	message, err := s.messages.GetMessageByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !message.Owner(owner.Email) {
		return nil, ErrForbidden
	}
	return message, nil
}

// Send creates the sender's sent-folder copy and, when the recipient address
// belongs to a registered account, an independent inbox copy. Both rows carry
// the sender's user id; visibility of the inbox copy comes from the to_email
// match alone. The sent copy is returned.
func (s Service) Send(ctx context.Context, sender *domain.User, to, subject, body string) (*domain.Message, error) {
	if strings.TrimSpace(to) == "" || strings.TrimSpace(subject) == "" {
		return nil, ErrMissingFields
	}

	now := time.Now().UTC()
	sent := &domain.Message{
		ID:         uuid.NewString(),
		FromUserID: sender.ID,
		FromEmail:  sender.Email,
		ToEmail:    to,
		Subject:    subject,
		Body:       body,
		Date:       now,
		Read:       true,
		Folder:     domain.FolderSent,
		CreatedAt:  now,
	}
	inserts := []*domain.Message{sent}

	recipient, err := s.users.GetUserByEmail(ctx, to)
	switch {
	case err == nil && recipient != nil:
		inbox := *sent
		inbox.ID = uuid.NewString()
		inbox.Read = false
		inbox.Folder = domain.FolderInbox
		inserts = append(inserts, &inbox)
	case errors.Is(err, repository.ErrNotFound):
		// external recipient, sent copy only
	case err != nil:
		return nil, err
	}

	if err := s.messages.CreateMessages(ctx, inserts...); err != nil {
		return nil, err
	}
	s.logger.Info("message sent", "message_id", sent.ID, "local_delivery", len(inserts) == 2)
	return sent, nil
}

// Update applies a partial patch to read/starred/folder state.
func (s Service) Update(ctx context.Context, owner *domain.User, id string, patch UpdateInput) (*domain.Message, error) {
	message, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if patch.Read != nil {
		message.Read = *patch.Read
	}
	if patch.Starred != nil {
		message.Starred = *patch.Starred
	}
	if patch.Folder != nil {
		message.Folder = *patch.Folder
	}
	if err := s.messages.UpdateMessage(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

// Delete soft-deletes by moving to trash; deleting a message already in
// trash erases it permanently. Purged reports which phase ran.
func (s Service) Delete(ctx context.Context, owner *domain.User, id string) (message *domain.Message, purged bool, err error) {
	message, err = s.Get(ctx, owner, id)
	if err != nil {
		return nil, false, err
	}
	if message.Folder == domain.FolderTrash {
		if err := s.messages.DeleteMessage(ctx, id); err != nil {
			return nil, false, err
		}
		s.logger.Info("message purged", "message_id", id)
		return message, true, nil
	}
	message.Folder = domain.FolderTrash
	if err := s.messages.UpdateMessage(ctx, message); err != nil {
		return nil, false, err
	}
	return message, false, nil
}

// Counts aggregates the owner's folder totals.
func (s Service) Counts(ctx context.Context, owner *domain.User) (domain.FolderCounts, error) {
	return s.messages.CountByFolder(ctx, owner.Email)
}

// Attachments lists attachment metadata for an owned message.
func (s Service) Attachments(ctx context.Context, owner *domain.User, id string) ([]domain.Attachment, error) {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return nil, err
	}
	return s.attachments.ListAttachmentsByEmail(ctx, id)
}
