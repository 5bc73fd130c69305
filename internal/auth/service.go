package auth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	CreateTenantWithOwner(ctx context.Context, tenantName string, owner *User) (*Tenant, *User, error)
	CreateUser(ctx context.Context, user *User) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, tenantID, userID int64) (*User, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]User, error)
	SetActive(ctx context.Context, tenantID, userID int64, active bool) error
}

// Service wraps authentication and user management rules.
type Service struct {
	repo  Repository
	audit *shared.AuditLogger
}

// NewService constructs a new Service.
func NewService(repo Repository, audit *shared.AuditLogger) *Service {
	return &Service{repo: repo, audit: audit}
}

// RegisterInput carries the tenant signup form.
type RegisterInput struct {
	TenantName string
	UserName   string
	Email      string
	Password   string
}

// Register creates a tenant together with its owner account. The two
// inserts happen in one transaction so a failed owner insert leaves no
// orphan tenant behind.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Tenant, *User, error) {
	if input.TenantName == "" || input.UserName == "" {
		return nil, nil, fmt.Errorf("tenant and user name are required: %w", httpx.ErrValidation)
	}
	if len(input.Password) < 8 {
		return nil, nil, fmt.Errorf("password must be at least 8 characters: %w", httpx.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}
	owner := &User{
		Name:         input.UserName,
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		PasswordHash: string(hash),
		Role:         shared.RoleOwner,
		IsActive:     true,
	}
	tenant, user, err := s.repo.CreateTenantWithOwner(ctx, input.TenantName, owner)
	if err != nil {
		return nil, nil, err
	}
	return tenant, user, nil
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Me fetches the actor's own user record.
func (s *Service) Me(ctx context.Context, actor shared.Actor) (*User, error) {
	return s.repo.FindByID(ctx, actor.TenantID, actor.UserID)
}

// CreateUserInput carries the add-user form.
type CreateUserInput struct {
	Name     string
	Email    string
	Password string
	Role     shared.Role
}

// CreateUser adds a user to the actor's tenant. Only owners may do this.
func (s *Service) CreateUser(ctx context.Context, actor shared.Actor, input CreateUserInput) (*User, error) {
	if actor.Role != shared.RoleOwner {
		return nil, fmt.Errorf("only the owner can add users: %w", httpx.ErrForbidden)
	}
	if !input.Role.Valid() {
		return nil, fmt.Errorf("unknown role %q: %w", input.Role, httpx.ErrValidation)
	}
	if len(input.Password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters: %w", httpx.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &User{
		TenantID:     actor.TenantID,
		Name:         input.Name,
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		PasswordHash: string(hash),
		Role:         input.Role,
		IsActive:     true,
	}
	created, err := s.repo.CreateUser(ctx, user)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "user.create", fmt.Sprint(created.ID), map[string]any{"email": created.Email, "role": created.Role})
	return created, nil
}

// ListUsers returns all users of the actor's tenant.
func (s *Service) ListUsers(ctx context.Context, actor shared.Actor) ([]User, error) {
	if actor.Role != shared.RoleOwner {
		return nil, fmt.Errorf("only the owner can list users: %w", httpx.ErrForbidden)
	}
	return s.repo.ListByTenant(ctx, actor.TenantID)
}

// DeactivateUser disables a user account without deleting its history.
func (s *Service) DeactivateUser(ctx context.Context, actor shared.Actor, userID int64) error {
	if actor.Role != shared.RoleOwner {
		return fmt.Errorf("only the owner can deactivate users: %w", httpx.ErrForbidden)
	}
	if userID == actor.UserID {
		return fmt.Errorf("cannot deactivate your own account: %w", httpx.ErrValidation)
	}
	if err := s.repo.SetActive(ctx, actor.TenantID, userID, false); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "user.deactivate", fmt.Sprint(userID), nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "user",
		EntityID: entityID,
		Meta:     meta,
	})
}
