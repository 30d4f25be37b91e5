package interfaces

import (
	"context"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/models"
)

// ApplicationService manages registered applications on behalf of their owners.
type ApplicationService interface {
	Create(ctx context.Context, owner, name, redirectURI string) (*models.Application, string, error)
	Register(ctx context.Context, spec common.BootstrapApplication) (*models.Application, error)
	FindApplication(ctx context.Context, applicationID string) (*models.Application, error)
	Get(ctx context.Context, owner, applicationID string) (*models.Application, error)
	List(ctx context.Context, owner string) ([]*models.Application, error)
	UpdateName(ctx context.Context, owner, applicationID, name string) (*models.Application, error)
	UpdateRedirectURI(ctx context.Context, owner, applicationID, redirectURI string) (*models.Application, error)
	RegenerateSecret(ctx context.Context, owner, applicationID string) (string, error)
	SetTrusted(ctx context.Context, applicationID string, trusted bool) error
	CheckSecret(ctx context.Context, applicationID, secret string) (bool, error)
}
