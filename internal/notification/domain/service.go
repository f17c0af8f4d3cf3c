package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/pkg/db/pagination"
	"gorm.io/gorm"
)

// Message is what an Emitter delivers.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	CompanyID uuid.UUID      `json:"company_id"`
	Kind      Kind           `json:"kind"`
	Title     string         `json:"title"`
	Summary   string         `json:"summary"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Emitter hands a message to the delivery collaborator.
type Emitter interface {
	Emit(ctx context.Context, msg Message) error
}

type ListRequest struct {
	pagination.Pagination
	Kind Kind `form:"kind"`
}

type ListResponse struct {
	PageInfo      pagination.PageInfo `json:"page_info"`
	Notifications []Log               `json:"notifications"`
}

type Service interface {
	// Notify records a notification inside tx. Delivery happens on the next
	// Dispatch after tx commits.
	Notify(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, kind string, payload map[string]any) error
	List(context.Context, ListRequest) (ListResponse, error)

	Milestones(ctx context.Context) (int, error)
	WeeklySummaries(ctx context.Context) (int, error)
	MonthlyReports(ctx context.Context) (int, error)
	DataQuality(ctx context.Context) (int, error)
	Retention(ctx context.Context) (int, error)
	Dispatch(ctx context.Context) (int, error)
}

var ErrUnknownKind = errors.New("unknown_notification_kind")
