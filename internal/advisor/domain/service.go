package domain

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/pkg/apperr"
)

type SuggestFactorsRequest struct {
	Description string
	Industry    string
}

// Service answers the four advisor contracts. A remote failure never
// reaches the caller: the answer falls back to a deterministic estimate
// with zero confidence.
type Service interface {
	ValidateEmissions(ctx context.Context, footprintID uuid.UUID) (EmissionsValidation, error)
	Benchmark(ctx context.Context) (Benchmark, error)
	ActionPlan(ctx context.Context) (ActionPlan, error)
	SuggestFactors(ctx context.Context, req SuggestFactorsRequest) (FactorSuggestion, error)
}

// Completer sends one prompt to the remote model and returns its text.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

var ErrUnconfigured = errors.New("advisor_unconfigured")

// StatusError is a non-2xx answer from the remote model.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "advisor: remote status " + strconv.Itoa(e.Code)
}

var (
	ErrDescriptionRequired = apperr.Field("description", "required", "description is required")
)
