// Package tenant carries the authenticated principal on a request context.
package tenant

import (
	"context"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/pkg/apperr"
)

// Principal is the caller a service acts on behalf of.
type Principal struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Role      authorization.Role
}

// HasCompany reports whether the principal is linked to a company.
func (p Principal) HasCompany() bool {
	return p.CompanyID != uuid.Nil
}

type principalKey struct{}

var (
	ErrNoPrincipal = apperr.New(apperr.KindUnauthorized, "unauthenticated")
	ErrNoCompany   = apperr.New(apperr.KindForbidden, "company_required")
)

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != uuid.Nil
}

// Require returns the principal or ErrNoPrincipal.
func Require(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}

// RequireCompany returns the principal when it is linked to a company.
func RequireCompany(ctx context.Context) (Principal, error) {
	p, err := Require(ctx)
	if err != nil {
		return Principal{}, err
	}
	if !p.HasCompany() {
		return Principal{}, ErrNoCompany
	}
	return p, nil
}
