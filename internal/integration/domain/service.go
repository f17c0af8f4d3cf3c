package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/pkg/apperr"
)

type ProviderInput struct {
	Name             string
	DisplayName      string
	Category         Category
	AuthMethod       AuthMethod
	AuthURL          string
	TokenURL         string
	APIBaseURL       string
	RecordsPath      string
	DataType         string
	Scopes           []string
	SupportsWebhooks bool
	SupportsRealtime bool
	Beta             bool
	Active           bool
}

// ClientCredentials are the OAuth client settings for one provider.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type CredentialSource interface {
	ClientCredentials(provider string) (ClientCredentials, bool)
}

type AuthorizeResult struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	URL          string    `json:"authorize_url"`
	State        string    `json:"state"`
}

type CallbackRequest struct {
	Provider string
	Code     string
	State    string
}

type SyncResult struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	ImportJobID  uuid.UUID `json:"import_job_id"`
	Records      int       `json:"records"`
	Cursor       string    `json:"cursor,omitempty"`
}

// IngestRequest hands provider records to the bulk import pipeline.
type IngestRequest struct {
	CompanyID uuid.UUID
	UserID    uuid.UUID
	DataType  string
	Source    string
	Name      string
	Headers   []string
	Rows      [][]string
}

type RecordSink interface {
	IngestRecords(ctx context.Context, req IngestRequest) (uuid.UUID, error)
}

type Service interface {
	SeedProviders(ctx context.Context, items []ProviderInput) (int, error)
	ListProviders(ctx context.Context) ([]ProviderView, error)

	ListConnections(ctx context.Context) ([]ConnectionView, error)
	GetConnection(ctx context.Context, id uuid.UUID) (ConnectionView, error)
	Authorize(ctx context.Context, provider string) (AuthorizeResult, error)
	// Callback completes an OAuth flow. The company is taken from the
	// signed state, not from the caller.
	Callback(ctx context.Context, req CallbackRequest) (ConnectionView, error)
	ConnectAPIKey(ctx context.Context, provider, apiKey string) (ConnectionView, error)
	Refresh(ctx context.Context, id uuid.UUID) (ConnectionView, error)
	Disconnect(ctx context.Context, id uuid.UUID) (ConnectionView, error)
	Sync(ctx context.Context, id uuid.UUID) (SyncResult, error)

	// AccessToken returns a usable token, refreshing it silently when it is
	// close to expiry.
	AccessToken(ctx context.Context, id uuid.UUID) (string, error)
	// Rotate re-encrypts every stored credential under the active key id.
	Rotate(ctx context.Context) (int, error)
}

var (
	ErrProviderNotFound   = apperr.New(apperr.KindNotFound, "provider_not_found")
	ErrConnectionNotFound = apperr.New(apperr.KindNotFound, "connection_not_found")
	ErrInvalidState       = apperr.New(apperr.KindInvalidState, "invalid_oauth_state")
	ErrWrongAuthMethod    = apperr.New(apperr.KindInvalidState, "wrong_auth_method")
	ErrNotConfigured      = apperr.New(apperr.KindInvalidState, "provider_not_configured")
	ErrNotActive          = apperr.New(apperr.KindInvalidState, "connection_not_active")
	ErrNoSink             = apperr.New(apperr.KindInvalidState, "sync_target_unavailable")
	ErrSyncUnsupported    = apperr.New(apperr.KindInvalidState, "sync_not_supported")
	ErrInvalidProvider    = apperr.Field("provider", "invalid_provider", "provider record is incomplete")
	ErrInvalidCode        = apperr.Field("code", "invalid_code", "authorization code is required")
	ErrInvalidAPIKey      = apperr.Field("api_key", "invalid_api_key", "api key is required")
)
