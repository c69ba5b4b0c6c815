// Package domain contains core domain types for the chat relay.
package domain

import (
	"time"
)

// User is a chat participant identified by a unique display name.
type User struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}
