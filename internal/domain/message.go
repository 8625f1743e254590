package domain

import "time"

// Well-known folder names. The folder column is an open string set: these are
// the values the server itself writes, but PATCH accepts arbitrary names.
const (
	FolderInbox   = "inbox"
	FolderSent    = "sent"
	FolderArchive = "archive"
	FolderTrash   = "trash"
)

// Message is a single email copy. Visibility is governed by string equality
// of FromEmail/ToEmail against the caller's address, not by FromUserID.
type Message struct {
	ID         string
	FromUserID string
	FromEmail  string
	ToEmail    string
	Subject    string
	Body       string
	Date       time.Time
	Starred    bool
	Read       bool
	Folder     string
	CreatedAt  time.Time
}

// Owner reports whether the address can see this message.
func (m Message) Owner(email string) bool {
	return m.FromEmail == email || m.ToEmail == email
}

// FolderCounts aggregates per-folder totals for one mailbox. Unread counts
// inbox messages only, not unread mail across all folders.
type FolderCounts struct {
	Inbox   int `json:"inbox"`
	Unread  int `json:"unread"`
	Sent    int `json:"sent"`
	Archive int `json:"archive"`
	Trash   int `json:"trash"`
}
