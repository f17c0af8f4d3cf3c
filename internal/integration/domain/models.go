package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Category string

const (
	CategoryAccounting    Category = "accounting"
	CategoryCloud         Category = "cloud"
	CategoryCRM           Category = "crm"
	CategoryCommunication Category = "communication"
	CategoryOther         Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryAccounting, CategoryCloud, CategoryCRM, CategoryCommunication, CategoryOther:
		return true
	}
	return false
}

type AuthMethod string

const (
	AuthOAuth2 AuthMethod = "oauth2"
	AuthAPIKey AuthMethod = "api_key"
)

func (m AuthMethod) Valid() bool {
	return m == AuthOAuth2 || m == AuthAPIKey
}

type ConnectionStatus string

const (
	StatusPending      ConnectionStatus = "pending"
	StatusActive       ConnectionStatus = "active"
	StatusExpired      ConnectionStatus = "expired"
	StatusError        ConnectionStatus = "error"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Provider is an external platform a company can link.
type Provider struct {
	ID               uuid.UUID                   `gorm:"type:char(36);primaryKey"`
	Name             string                      `gorm:"type:varchar(64);not null;uniqueIndex"`
	DisplayName      string                      `gorm:"type:text;not null"`
	Category         Category                    `gorm:"type:text;not null"`
	AuthMethod       AuthMethod                  `gorm:"type:text;not null"`
	AuthURL          string                      `gorm:"type:text"`
	TokenURL         string                      `gorm:"type:text"`
	APIBaseURL       string                      `gorm:"type:text"`
	RecordsPath      string                      `gorm:"type:text"`
	DataType         string                      `gorm:"type:text"`
	Scopes           datatypes.JSONSlice[string] `gorm:"type:json"`
	SupportsWebhooks bool                        `gorm:"not null;default:false"`
	SupportsRealtime bool                        `gorm:"not null;default:false"`
	Beta             bool                        `gorm:"not null;default:false"`
	Active           bool                        `gorm:"not null;default:true"`
	CreatedAt        time.Time                   `gorm:"not null"`
	UpdatedAt        time.Time                   `gorm:"not null"`
}

func (Provider) TableName() string { return "integration_providers" }

// Connection links a company to a provider. Token columns hold vault
// ciphertexts tagged with the key id that sealed them.
type Connection struct {
	ID             uuid.UUID        `gorm:"type:char(36);primaryKey"`
	CompanyID      uuid.UUID        `gorm:"type:char(36);not null;uniqueIndex:ux_connection_company_provider"`
	ProviderID     uuid.UUID        `gorm:"type:char(36);not null;uniqueIndex:ux_connection_company_provider"`
	ProviderName   string           `gorm:"type:text;not null"`
	Status         ConnectionStatus `gorm:"type:varchar(32);not null;index"`
	AccessToken    string           `gorm:"column:access_token_enc;type:text"`
	RefreshToken   string           `gorm:"column:refresh_token_enc;type:text"`
	PKCEVerifier   string           `gorm:"column:pkce_verifier_enc;type:text"`
	StateNonce     string           `gorm:"type:text"`
	KeyID          string           `gorm:"type:text"`
	TokenExpiresAt *time.Time       `gorm:"column:token_expires_at"`
	SyncCursor     string           `gorm:"type:text"`
	LastError      string           `gorm:"type:text"`
	LastSyncAt     *time.Time       `gorm:"column:last_sync_at"`
	RefreshingAt   *time.Time       `gorm:"column:refreshing_at"`
	ConnectedBy    uuid.UUID        `gorm:"type:char(36)"`
	CreatedAt      time.Time        `gorm:"not null"`
	UpdatedAt      time.Time        `gorm:"not null"`
}

func (Connection) TableName() string { return "integration_connections" }

// ProviderView is the public shape of a provider.
type ProviderView struct {
	Name         string          `json:"name"`
	DisplayName  string          `json:"display_name"`
	Category     Category        `json:"category"`
	AuthMethod   AuthMethod      `json:"auth_method"`
	APIBaseURL   string          `json:"api_base_url,omitempty"`
	Scopes       []string        `json:"scopes"`
	DataType     string          `json:"data_type,omitempty"`
	Capabilities map[string]bool `json:"capabilities"`
	Configured   bool            `json:"configured"`
}

// ConnectionView never carries token material.
type ConnectionView struct {
	ID              uuid.UUID        `json:"id"`
	Provider        string           `json:"provider"`
	Status          ConnectionStatus `json:"status"`
	HasAccessToken  bool             `json:"has_access_token"`
	HasRefreshToken bool             `json:"has_refresh_token"`
	KeyID           string           `json:"key_id,omitempty"`
	TokenExpiresAt  *time.Time       `json:"token_expires_at,omitempty"`
	SyncCursor      string           `json:"sync_cursor,omitempty"`
	LastError       string           `json:"last_error,omitempty"`
	LastSyncAt      *time.Time       `json:"last_sync_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (c Connection) View() ConnectionView {
	return ConnectionView{
		ID:              c.ID,
		Provider:        c.ProviderName,
		Status:          c.Status,
		HasAccessToken:  c.AccessToken != "",
		HasRefreshToken: c.RefreshToken != "",
		KeyID:           c.KeyID,
		TokenExpiresAt:  c.TokenExpiresAt,
		SyncCursor:      c.SyncCursor,
		LastError:       c.LastError,
		LastSyncAt:      c.LastSyncAt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}
