package tenant

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CleanerGroup is the fx value group collecting Cleaners.
const CleanerGroup = `group:"company_cleaners"`

// Cleaner deletes the rows a domain owns for a company. Cleaners run inside
// the transaction that deletes the company.
type Cleaner interface {
	DeleteCompanyData(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) error
}

// CleanerFunc adapts a function to Cleaner.
type CleanerFunc func(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) error

func (f CleanerFunc) DeleteCompanyData(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) error {
	return f(ctx, tx, companyID)
}
