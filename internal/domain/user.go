package domain

import "time"

// User represents a mailbox account.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	Name         string
	CreatedAt    time.Time
}
