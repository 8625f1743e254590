package repository

import (
	"context"

	"github.com/smailhq/smail/internal/domain"
)

// UserRepository persists mailbox accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// MessageFilter narrows a mailbox listing. Folder matches exactly when set;
// Search substring-matches subject, body, or sender address case-insensitively.
type MessageFilter struct {
	Folder string
	Search string
}

// MessageRepository persists email copies.
type MessageRepository interface {
	// CreateMessages inserts all given messages in a single transaction, so a
	// local delivery never produces a sent copy without its inbox twin.
	CreateMessages(ctx context.Context, messages ...*domain.Message) error
	GetMessageByID(ctx context.Context, id string) (*domain.Message, error)
	// ListMessages returns every message visible to the address (sender or
	// recipient match), newest first.
	ListMessages(ctx context.Context, email string, filter MessageFilter) ([]domain.Message, error)
	UpdateMessage(ctx context.Context, message *domain.Message) error
	DeleteMessage(ctx context.Context, id string) error
	CountByFolder(ctx context.Context, email string) (domain.FolderCounts, error)
}

// AttachmentRepository stores attachment descriptors.
type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, attachment *domain.Attachment) error
	ListAttachmentsByEmail(ctx context.Context, emailID string) ([]domain.Attachment, error)
}
