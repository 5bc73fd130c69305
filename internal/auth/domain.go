// Package auth implements tenant registration, credential login and the
// JWT guard that scopes every request to a tenant.
package auth

import (
	"fmt"
	"time"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// Tenant is an isolated workspace owning its own catalog and ledger.
type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// User represents a user account bound to exactly one tenant.
type User struct {
	ID           int64       `json:"id"`
	TenantID     int64       `json:"tenantId"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"-"`
	Role         shared.Role `json:"role"`
	IsActive     bool        `json:"isActive"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

var (
	// ErrInvalidCredentials indicates login failure. It deliberately does
	// not distinguish unknown email from wrong password.
	ErrInvalidCredentials = fmt.Errorf("invalid email or password: %w", httpx.ErrUnauthorized)
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = fmt.Errorf("email already registered: %w", httpx.ErrConflict)
	// ErrUserNotFound indicates the user does not exist in this tenant.
	ErrUserNotFound = fmt.Errorf("user not found: %w", httpx.ErrNotFound)
)
