// Package domain contains core domain types for the penpal application.
package domain

import (
	"time"
)

// User represents a registered learner.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
