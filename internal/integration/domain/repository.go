package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	InsertProvider(ctx context.Context, db *gorm.DB, p *Provider) error
	UpdateProvider(ctx context.Context, db *gorm.DB, p *Provider) error
	FindProviderByName(ctx context.Context, db *gorm.DB, name string) (*Provider, error)
	ListProviders(ctx context.Context, db *gorm.DB) ([]Provider, error)

	InsertConnection(ctx context.Context, db *gorm.DB, c *Connection) error
	SaveConnection(ctx context.Context, db *gorm.DB, c *Connection) error
	FindConnection(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Connection, error)
	FindConnectionByProvider(ctx context.Context, db *gorm.DB, companyID, providerID uuid.UUID) (*Connection, error)
	ListConnections(ctx context.Context, db *gorm.DB, companyID uuid.UUID) ([]Connection, error)
	// ListSealedWithout returns connections holding ciphertext not sealed by kid.
	ListSealedWithout(ctx context.Context, db *gorm.DB, kid string) ([]Connection, error)

	// ClaimRefresh marks a connection as refreshing unless another claim newer
	// than staleBefore holds it.
	ClaimRefresh(ctx context.Context, db *gorm.DB, id uuid.UUID, now, staleBefore time.Time) (bool, error)
	ReleaseRefresh(ctx context.Context, db *gorm.DB, id uuid.UUID) error

	DeleteByCompany(ctx context.Context, db *gorm.DB, companyID uuid.UUID) error
}
