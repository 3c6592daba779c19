// Package session persists the logged-in user of a device.
package session

import "context"

// UserSession is the logged-in identity that outlives the process.
type UserSession struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	LoggedIn    bool   `json:"logged_in"`
}

// Store is a single-record key-value store for one device's session.
// Load returns nil when nothing is stored.
type Store interface {
	Save(ctx context.Context, s UserSession) error
	Load(ctx context.Context) (*UserSession, error)
	Clear(ctx context.Context) error
}

// Factory returns the Store scoped to a device.
type Factory func(deviceID string) Store
