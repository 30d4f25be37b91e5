// Package application manages registered OAuth2 applications and their secrets
package application

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
	"github.com/bobmcallan/passage/internal/services/oauth"
)

// Compile-time interface checks
var (
	_ interfaces.ApplicationService = (*Service)(nil)
	_ oauth.ApplicationRegistry     = (*Service)(nil)
)

var (
	// ErrForbidden is returned when a user mutates an application they do not own.
	ErrForbidden = errors.New("application is owned by another user")
	// ErrInvalidInput is returned for empty names and malformed redirect URIs.
	ErrInvalidInput = errors.New("invalid application input")
)

// secretBytes is the entropy of generated client secrets.
const secretBytes = 256

// Service implements ApplicationService.
type Service struct {
	storage  interfaces.StorageManager
	logger   *common.Logger
	generate oauth.TokenGenerator
	now      func() time.Time
}

// NewService creates a new application service
func NewService(storage interfaces.StorageManager, logger *common.Logger) *Service {
	return &Service{
		storage:  storage,
		logger:   logger,
		generate: oauth.RandomToken(secretBytes),
		now:      time.Now,
	}
}

// Create registers a new untrusted application owned by owner and returns
// it with the plaintext secret. The secret is not retrievable afterwards.
func (s *Service) Create(ctx context.Context, owner, name, redirectURI string) (*models.Application, string, error) {
	if err := validateName(name); err != nil {
		return nil, "", err
	}
	if err := validateRedirectURI(redirectURI); err != nil {
		return nil, "", err
	}

	user, err := s.storage.UserStore().FindUser(ctx, owner)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find owner: %w", err)
	}

	secret, hash, err := s.newSecret()
	if err != nil {
		return nil, "", err
	}

	app := &models.Application{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(name),
		RedirectURI:  redirectURI,
		Owner:        owner,
		SecretHash:   hash,
		Trusted:      false,
		CreationDate: s.now(),
	}
	if err := s.storage.ApplicationStore().SaveApplication(ctx, app); err != nil {
		return nil, "", fmt.Errorf("failed to save application: %w", err)
	}

	user.Applications = append(user.Applications, app.ID)
	if err := s.storage.UserStore().SaveUser(ctx, user); err != nil {
		return nil, "", fmt.Errorf("failed to link application to owner: %w", err)
	}

	s.logger.Info().
		Str("application_id", app.ID).
		Str("owner", owner).
		Msg("Application created")
	return app, secret, nil
}

// Register creates or replaces an application with a known id and secret.
// Used to seed first-party applications at startup. A missing owner record
// is created.
func (s *Service) Register(ctx context.Context, spec common.BootstrapApplication) (*models.Application, error) {
	if spec.ID == "" || spec.Secret == "" {
		return nil, fmt.Errorf("%w: bootstrap application needs id and secret", ErrInvalidInput)
	}
	if err := validateRedirectURI(spec.RedirectURI); err != nil {
		return nil, err
	}

	hash, err := HashSecret(spec.Secret)
	if err != nil {
		return nil, err
	}

	app := &models.Application{
		ID:           spec.ID,
		Name:         spec.Name,
		RedirectURI:  spec.RedirectURI,
		Owner:        spec.Owner,
		SecretHash:   hash,
		Trusted:      spec.Trusted,
		CreationDate: s.now(),
	}
	if existing, err := s.storage.ApplicationStore().FindApplication(ctx, spec.ID); err == nil {
		app.CreationDate = existing.CreationDate
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to find application: %w", err)
	}

	if err := s.storage.ApplicationStore().SaveApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to save application: %w", err)
	}

	if spec.Owner != "" {
		if err := s.linkOwner(ctx, spec.Owner, app.ID); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Str("application_id", app.ID).
		Bool("trusted", app.Trusted).
		Msg("Application registered")
	return app, nil
}

func (s *Service) linkOwner(ctx context.Context, owner, applicationID string) error {
	user, err := s.storage.UserStore().FindUser(ctx, owner)
	if errors.Is(err, interfaces.ErrNotFound) {
		user = &models.User{UID: owner, Username: owner, CreationDate: s.now()}
	} else if err != nil {
		return fmt.Errorf("failed to find owner: %w", err)
	}
	if slices.Contains(user.Applications, applicationID) {
		return nil
	}
	user.Applications = append(user.Applications, applicationID)
	if err := s.storage.UserStore().SaveUser(ctx, user); err != nil {
		return fmt.Errorf("failed to link application to owner: %w", err)
	}
	return nil
}

// FindApplication returns an application by id.
func (s *Service) FindApplication(ctx context.Context, applicationID string) (*models.Application, error) {
	return s.storage.ApplicationStore().FindApplication(ctx, applicationID)
}

// Get returns an application owned by owner.
func (s *Service) Get(ctx context.Context, owner, applicationID string) (*models.Application, error) {
	app, err := s.storage.ApplicationStore().FindApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Owner != owner {
		return nil, ErrForbidden
	}
	return app, nil
}

// List returns the applications owned by owner, oldest first.
func (s *Service) List(ctx context.Context, owner string) ([]*models.Application, error) {
	apps, err := s.storage.ApplicationStore().ListApplicationsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return apps, nil
}

// UpdateName renames an application.
func (s *Service) UpdateName(ctx context.Context, owner, applicationID, name string) (*models.Application, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return s.update(ctx, owner, applicationID, func(app *models.Application) {
		app.Name = strings.TrimSpace(name)
	})
}

// UpdateRedirectURI changes the registered redirect URI. Codes already issued
// keep the URI they were granted with and fail exchange against the new one.
func (s *Service) UpdateRedirectURI(ctx context.Context, owner, applicationID, redirectURI string) (*models.Application, error) {
	if err := validateRedirectURI(redirectURI); err != nil {
		return nil, err
	}
	return s.update(ctx, owner, applicationID, func(app *models.Application) {
		app.RedirectURI = redirectURI
	})
}

// RegenerateSecret replaces the secret. The previous secret stops working immediately.
func (s *Service) RegenerateSecret(ctx context.Context, owner, applicationID string) (string, error) {
	secret, hash, err := s.newSecret()
	if err != nil {
		return "", err
	}
	if _, err := s.update(ctx, owner, applicationID, func(app *models.Application) {
		app.SecretHash = hash
	}); err != nil {
		return "", err
	}
	s.logger.Info().Str("application_id", applicationID).Msg("Application secret regenerated")
	return secret, nil
}

// SetTrusted marks an application as first-party. Operator use only.
func (s *Service) SetTrusted(ctx context.Context, applicationID string, trusted bool) error {
	app, err := s.storage.ApplicationStore().FindApplication(ctx, applicationID)
	if err != nil {
		return err
	}
	app.Trusted = trusted
	if err := s.storage.ApplicationStore().SaveApplication(ctx, app); err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

// CheckSecret reports whether secret is the current secret of the application.
func (s *Service) CheckSecret(ctx context.Context, applicationID, secret string) (bool, error) {
	app, err := s.storage.ApplicationStore().FindApplication(ctx, applicationID)
	if err != nil {
		return false, err
	}
	return VerifySecret(app.SecretHash, secret), nil
}

func (s *Service) update(ctx context.Context, owner, applicationID string, mutate func(*models.Application)) (*models.Application, error) {
	app, err := s.Get(ctx, owner, applicationID)
	if err != nil {
		return nil, err
	}
	mutate(app)
	if err := s.storage.ApplicationStore().SaveApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to save application: %w", err)
	}
	return app, nil
}

func (s *Service) newSecret() (string, string, error) {
	secret, err := s.generate()
	if err != nil {
		return "", "", err
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return "", "", err
	}
	return secret, hash, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return nil
}

func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: redirect URI must be an absolute URL", ErrInvalidInput)
	}
	if u.Fragment != "" {
		return fmt.Errorf("%w: redirect URI must not contain a fragment", ErrInvalidInput)
	}
	return nil
}
