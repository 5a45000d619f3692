package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"

	"github.com/quarterdeck-app/quarterdeck/internal/shared"
)

// WelcomeMailer enqueues a welcome email for a new account. Failures are
// logged, not propagated: signup never blocks on mail.
type WelcomeMailer interface {
	EnqueueWelcome(ctx context.Context, email, name string) error
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	mailer WelcomeMailer
	logger *slog.Logger
	folder cases.Caser
}

// NewService constructs a Service. mailer may be nil.
func NewService(repo Repository, mailer WelcomeMailer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		mailer: mailer,
		logger: logger,
		folder: cases.Fold(),
	}
}

// Authenticate validates email/password credentials. Every failure mode
// collapses to ErrInvalidCredentials so enumeration attacks learn nothing.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, s.normalizeEmail(email))
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Signup creates a new account. The very first account in an empty store
// becomes admin; the repository makes the count-and-create atomic, so two
// concurrent signups cannot both win the bootstrap.
func (s *Service) Signup(ctx context.Context, email, name, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        s.normalizeEmail(email),
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, err
	}
	if s.mailer != nil {
		if err := s.mailer.EnqueueWelcome(ctx, user.Email, user.Name); err != nil {
			s.logger.Warn("enqueue welcome mail", slog.String("email", user.Email), slog.Any("error", err))
		}
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

func (s *Service) normalizeEmail(email string) string {
	return s.folder.String(strings.TrimSpace(email))
}
