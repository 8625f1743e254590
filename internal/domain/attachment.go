package domain

import "time"

// Attachment is metadata for a file attached to a message. Content storage
// lives outside this service; only the descriptor is persisted.
type Attachment struct {
	ID        string
	EmailID   string
	Filename  string
	FileSize  int64
	MimeType  string
	FilePath  string
	CreatedAt time.Time
}
