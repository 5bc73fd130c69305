package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

type memoryAuthRepo struct {
	tenants    map[int64]*Tenant
	users      map[int64]*User
	nextTenant int64
	nextUser   int64
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{
		tenants: make(map[int64]*Tenant),
		users:   make(map[int64]*User),
	}
}

func (m *memoryAuthRepo) CreateTenantWithOwner(ctx context.Context, tenantName string, owner *User) (*Tenant, *User, error) {
	for _, u := range m.users {
		if u.Email == owner.Email {
			return nil, nil, ErrEmailTaken
		}
	}
	m.nextTenant++
	tenant := &Tenant{ID: m.nextTenant, Name: tenantName}
	m.tenants[tenant.ID] = tenant

	m.nextUser++
	created := *owner
	created.ID = m.nextUser
	created.TenantID = tenant.ID
	m.users[created.ID] = &created
	return tenant, &created, nil
}

func (m *memoryAuthRepo) CreateUser(ctx context.Context, user *User) (*User, error) {
	for _, u := range m.users {
		if u.Email == user.Email {
			return nil, ErrEmailTaken
		}
	}
	m.nextUser++
	created := *user
	created.ID = m.nextUser
	m.users[created.ID] = &created
	return &created, nil
}

func (m *memoryAuthRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memoryAuthRepo) FindByID(ctx context.Context, tenantID, userID int64) (*User, error) {
	u, ok := m.users[userID]
	if !ok || u.TenantID != tenantID {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *memoryAuthRepo) ListByTenant(ctx context.Context, tenantID int64) ([]User, error) {
	var out []User
	for _, u := range m.users {
		if u.TenantID == tenantID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *memoryAuthRepo) SetActive(ctx context.Context, tenantID, userID int64, active bool) error {
	u, ok := m.users[userID]
	if !ok || u.TenantID != tenantID {
		return ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

func TestRegisterCreatesTenantAndOwner(t *testing.T) {
	repo := newMemoryAuthRepo()
	svc := NewService(repo, nil)

	tenant, user, err := svc.Register(context.Background(), RegisterInput{
		TenantName: "Acme Retail",
		UserName:   "Ada",
		Email:      "ada@acme.test",
		Password:   "supersecret",
	})
	require.NoError(t, err)
	require.NotZero(t, tenant.ID)
	require.Equal(t, tenant.ID, user.TenantID)
	require.Equal(t, shared.RoleOwner, user.Role)
	require.True(t, user.IsActive)
	require.NotEqual(t, "supersecret", user.PasswordHash)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := NewService(newMemoryAuthRepo(), nil)

	_, _, err := svc.Register(context.Background(), RegisterInput{
		TenantName: "Acme",
		UserName:   "Ada",
		Email:      "ada@acme.test",
		Password:   "short",
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	repo := newMemoryAuthRepo()
	svc := NewService(repo, nil)

	_, _, err := svc.Register(context.Background(), RegisterInput{
		TenantName: "First", UserName: "Ada", Email: "ada@acme.test", Password: "supersecret",
	})
	require.NoError(t, err)

	_, _, err = svc.Register(context.Background(), RegisterInput{
		TenantName: "Second", UserName: "Bob", Email: "ada@acme.test", Password: "supersecret",
	})
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestAuthenticateChecksPasswordAndActive(t *testing.T) {
	repo := newMemoryAuthRepo()
	svc := NewService(repo, nil)

	_, user, err := svc.Register(context.Background(), RegisterInput{
		TenantName: "Acme", UserName: "Ada", Email: "ada@acme.test", Password: "supersecret",
	})
	require.NoError(t, err)

	got, err := svc.Authenticate(context.Background(), "ada@acme.test", "supersecret")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(context.Background(), "ada@acme.test", "wrongpass")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	repo.users[user.ID].IsActive = false
	_, err = svc.Authenticate(context.Background(), "ada@acme.test", "supersecret")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateDoesNotLeakPlainPassword(t *testing.T) {
	repo := newMemoryAuthRepo()
	svc := NewService(repo, nil)

	_, user, err := svc.Register(context.Background(), RegisterInput{
		TenantName: "Acme", UserName: "Ada", Email: "ada@acme.test", Password: "supersecret",
	})
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("supersecret")))
}

func TestCreateUserRequiresOwner(t *testing.T) {
	repo := newMemoryAuthRepo()
	svc := NewService(repo, nil)

	manager := shared.Actor{UserID: 9, TenantID: 1, Role: shared.RoleManager}
	_, err := svc.CreateUser(context.Background(), manager, CreateUserInput{
		Name: "Eve", Email: "eve@acme.test", Password: "supersecret", Role: shared.RoleStaff,
	})
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestCreateUserValidatesRole(t *testing.T) {
	repo := newMemoryAuthRepo()
	svc := NewService(repo, nil)

	owner := shared.Actor{UserID: 1, TenantID: 1, Role: shared.RoleOwner}
	_, err := svc.CreateUser(context.Background(), owner, CreateUserInput{
		Name: "Eve", Email: "eve@acme.test", Password: "supersecret", Role: "superadmin",
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateUserScopesToOwnTenant(t *testing.T) {
	repo := newMemoryAuthRepo()
	svc := NewService(repo, nil)

	owner := shared.Actor{UserID: 1, TenantID: 42, Role: shared.RoleOwner}
	user, err := svc.CreateUser(context.Background(), owner, CreateUserInput{
		Name: "Eve", Email: "eve@acme.test", Password: "supersecret", Role: shared.RoleStaff,
	})
	require.NoError(t, err)
	require.EqualValues(t, 42, user.TenantID)
	require.Equal(t, shared.RoleStaff, user.Role)
}

func TestDeactivateUserRejectsSelf(t *testing.T) {
	repo := newMemoryAuthRepo()
	svc := NewService(repo, nil)

	owner := shared.Actor{UserID: 1, TenantID: 1, Role: shared.RoleOwner}
	err := svc.DeactivateUser(context.Background(), owner, 1)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestListUsersForbiddenForStaff(t *testing.T) {
	svc := NewService(newMemoryAuthRepo(), nil)

	staff := shared.Actor{UserID: 3, TenantID: 1, Role: shared.RoleStaff}
	_, err := svc.ListUsers(context.Background(), staff)
	require.True(t, errors.Is(err, httpx.ErrForbidden))
}
