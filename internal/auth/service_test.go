package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/quarterdeck-app/quarterdeck/internal/auth"
	"github.com/quarterdeck-app/quarterdeck/internal/authz"
	"github.com/quarterdeck-app/quarterdeck/internal/shared"
)

// memRepo is an in-memory Repository whose CreateUser runs the bootstrap
// rule inside a serialized critical section, mirroring the advisory-lock
// transaction of the PostgreSQL implementation.
type memRepo struct {
	mu      sync.Mutex
	users   map[int64]*auth.User
	byEmail map[string]int64
	nextID  int64

	findErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:   make(map[int64]*auth.User),
		byEmail: make(map[string]int64),
	}
}

func (m *memRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	id, ok := m.byEmail[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *m.users[id]
	return &clone, nil
}

func (m *memRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	user, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *memRepo) CreateUser(ctx context.Context, params auth.CreateUserParams) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[params.Email]; ok {
		return nil, shared.ErrEmailTaken
	}
	role := authz.DefaultRole
	if len(m.users) == 0 {
		role = authz.RoleAdmin
	}
	m.nextID++
	user := &auth.User{
		ID:           m.nextID,
		Email:        params.Email,
		Name:         params.Name,
		PasswordHash: params.PasswordHash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	m.users[user.ID] = user
	m.byEmail[user.Email] = user.ID
	clone := *user
	return &clone, nil
}

func (m *memRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return nil
}

func (m *memRepo) DeleteSession(ctx context.Context, id string) error {
	return nil
}

func (m *memRepo) adminCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, user := range m.users {
		if user.Role == authz.RoleAdmin {
			count++
		}
	}
	return count
}

func TestSignupFirstUserBecomesAdmin(t *testing.T) {
	repo := newMemRepo()
	svc := auth.NewService(repo, nil, nil)

	first, err := svc.Signup(context.Background(), "founder@example.com", "Founder", "password123")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if first.Role != authz.RoleAdmin {
		t.Fatalf("first user role = %q, want admin", first.Role)
	}

	second, err := svc.Signup(context.Background(), "second@example.com", "Second", "password123")
	if err != nil {
		t.Fatalf("signup second: %v", err)
	}
	if second.Role != authz.RoleUser {
		t.Fatalf("second user role = %q, want user", second.Role)
	}
}

func TestSignupConcurrentBootstrapYieldsOneAdmin(t *testing.T) {
	for _, n := range []int{2, 10} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			repo := newMemRepo()
			svc := auth.NewService(repo, nil, nil)

			var g errgroup.Group
			for i := 0; i < n; i++ {
				email := fmt.Sprintf("racer%d@example.com", i)
				g.Go(func() error {
					_, err := svc.Signup(context.Background(), email, "Racer", "password123")
					return err
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("concurrent signup: %v", err)
			}
			if got := repo.adminCount(); got != 1 {
				t.Fatalf("admin count = %d after %d concurrent signups, want exactly 1", got, n)
			}
		})
	}
}

func TestSignupNormalizesEmail(t *testing.T) {
	repo := newMemRepo()
	svc := auth.NewService(repo, nil, nil)

	user, err := svc.Signup(context.Background(), "  Mixed.Case@Example.COM ", "Case", "password123")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.Email != "mixed.case@example.com" {
		t.Fatalf("email = %q, want folded form", user.Email)
	}

	if _, err := svc.Signup(context.Background(), "MIXED.CASE@example.com", "Dup", "password123"); !errors.Is(err, shared.ErrEmailTaken) {
		t.Fatalf("case variant should collide, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	repo := newMemRepo()
	svc := auth.NewService(repo, nil, nil)
	if _, err := svc.Signup(context.Background(), "login@example.com", "Login", "correctpass"); err != nil {
		t.Fatalf("signup: %v", err)
	}

	user, err := svc.Authenticate(context.Background(), "login@example.com", "correctpass")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.Email != "login@example.com" {
		t.Fatalf("unexpected user %q", user.Email)
	}

	if _, err := svc.Authenticate(context.Background(), "login@example.com", "wrongpass"); !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "missing@example.com", "correctpass"); !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v", err)
	}
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	repo := newMemRepo()
	hash, _ := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	repo.users[1] = &auth.User{ID: 1, Email: "frozen@example.com", PasswordHash: string(hash), Role: authz.RoleUser, IsActive: false}
	repo.byEmail["frozen@example.com"] = 1
	repo.nextID = 1

	svc := auth.NewService(repo, nil, nil)
	if _, err := svc.Authenticate(context.Background(), "frozen@example.com", "correctpass"); !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("inactive account must fail login, got %v", err)
	}
}

type captureMailer struct {
	mu     sync.Mutex
	emails []string
}

func (c *captureMailer) EnqueueWelcome(ctx context.Context, email, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emails = append(c.emails, email)
	return nil
}

func TestSignupEnqueuesWelcomeMail(t *testing.T) {
	repo := newMemRepo()
	mailer := &captureMailer{}
	svc := auth.NewService(repo, mailer, nil)
	if _, err := svc.Signup(context.Background(), "mail@example.com", "Mail", "password123"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if len(mailer.emails) != 1 || mailer.emails[0] != "mail@example.com" {
		t.Fatalf("welcome mail not enqueued: %v", mailer.emails)
	}
}
