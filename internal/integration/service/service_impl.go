package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/integration/domain"
	"github.com/smallbiznis/greenledger/internal/integration/oauth"
	"github.com/smallbiznis/greenledger/internal/integration/vault"
	"github.com/smallbiznis/greenledger/internal/observability/metrics"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/smallbiznis/greenledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	// refreshLockTTL is how long a refresh claim holds before another
	// instance may break it.
	refreshLockTTL = 60 * time.Second
	refreshPoll    = 50 * time.Millisecond
	defaultExpiry  = time.Hour

	SourceIntegration = "integration"
)

var errNoRefreshToken = errors.New("connection has no refresh token")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Config      config.Config
	Repo        domain.Repository
	Authz       *authorization.Authorizer
	Vault       *vault.Keyring
	Client      *oauth.Client
	Signer      *oauth.StateSigner
	Credentials domain.CredentialSource
	Sink        domain.RecordSink `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	authz   *authorization.Authorizer
	vault   *vault.Keyring
	client  *oauth.Client
	signer  *oauth.StateSigner
	creds   domain.CredentialSource
	sink    domain.RecordSink
	metrics *metrics.DomainMetrics

	timeout time.Duration
	margin  time.Duration
	flight  singleflight.Group
}

func New(p Params) domain.Service {
	timeout := p.Config.Integration.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	margin := p.Config.Integration.RefreshMargin
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("integration.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		authz:   p.Authz,
		vault:   p.Vault,
		client:  p.Client,
		signer:  p.Signer,
		creds:   p.Credentials,
		sink:    p.Sink,
		metrics: metrics.Domain(),
		timeout: timeout,
		margin:  margin,
	}
}

func (s *Service) principal(ctx context.Context, feature authorization.Feature) (tenant.Principal, error) {
	p, err := tenant.RequireCompany(ctx)
	if err != nil {
		return tenant.Principal{}, err
	}
	if err := s.authz.Require(p.Role, feature); err != nil {
		return tenant.Principal{}, err
	}
	return p, nil
}

// SeedProviders upserts the registry by machine name.
func (s *Service) SeedProviders(ctx context.Context, items []domain.ProviderInput) (int, error) {
	created := 0
	err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		created = 0
		now := s.clock.Now()
		for _, in := range items {
			if strings.TrimSpace(in.Name) == "" || !in.Category.Valid() || !in.AuthMethod.Valid() {
				return fmt.Errorf("provider %q: %w", in.Name, domain.ErrInvalidProvider)
			}
			existing, err := s.repo.FindProviderByName(ctx, tx, in.Name)
			if err != nil {
				return err
			}
			p := domain.Provider{ID: uuid.Must(uuid.NewV7()), CreatedAt: now}
			if existing != nil {
				p = *existing
			}
			applyProvider(&p, in, now)
			if existing == nil {
				if err := s.repo.InsertProvider(ctx, tx, &p); err != nil {
					return err
				}
				created++
				continue
			}
			if err := s.repo.UpdateProvider(ctx, tx, &p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("integration providers seeded", zap.Int("items", len(items)), zap.Int("created", created))
	return created, nil
}

func applyProvider(p *domain.Provider, in domain.ProviderInput, now time.Time) {
	p.Name = strings.ToLower(strings.TrimSpace(in.Name))
	p.DisplayName = in.DisplayName
	if p.DisplayName == "" {
		p.DisplayName = p.Name
	}
	p.Category = in.Category
	p.AuthMethod = in.AuthMethod
	p.AuthURL = in.AuthURL
	p.TokenURL = in.TokenURL
	p.APIBaseURL = in.APIBaseURL
	p.RecordsPath = in.RecordsPath
	p.DataType = in.DataType
	p.Scopes = in.Scopes
	p.SupportsWebhooks = in.SupportsWebhooks
	p.SupportsRealtime = in.SupportsRealtime
	p.Beta = in.Beta
	p.Active = in.Active
	p.UpdatedAt = now
}

func (s *Service) ListProviders(ctx context.Context) ([]domain.ProviderView, error) {
	if _, err := s.principal(ctx, authorization.FeatureIntegrationsRead); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListProviders(ctx, s.db)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProviderView, 0, len(rows))
	for _, p := range rows {
		if !p.Active {
			continue
		}
		configured := p.AuthMethod == domain.AuthAPIKey
		if !configured {
			_, configured = s.creds.ClientCredentials(p.Name)
		}
		scopes := []string(p.Scopes)
		if scopes == nil {
			scopes = []string{}
		}
		out = append(out, domain.ProviderView{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Category:    p.Category,
			AuthMethod:  p.AuthMethod,
			APIBaseURL:  p.APIBaseURL,
			Scopes:      scopes,
			DataType:    p.DataType,
			Capabilities: map[string]bool{
				"webhooks":       p.SupportsWebhooks,
				"real_time_sync": p.SupportsRealtime,
				"beta":           p.Beta,
				"active":         p.Active,
			},
			Configured: configured,
		})
	}
	return out, nil
}

func (s *Service) activeProvider(ctx context.Context, conn *gorm.DB, name string) (*domain.Provider, error) {
	p, err := s.repo.FindProviderByName(ctx, conn, name)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Active {
		return nil, domain.ErrProviderNotFound
	}
	return p, nil
}

func (s *Service) providerConfig(p *domain.Provider) (oauth.ProviderConfig, domain.ClientCredentials, error) {
	cfg := oauth.ProviderConfig{
		Name:        p.Name,
		AuthURL:     p.AuthURL,
		TokenURL:    p.TokenURL,
		APIBaseURL:  p.APIBaseURL,
		RecordsPath: p.RecordsPath,
		Scopes:      p.Scopes,
	}
	if p.AuthMethod != domain.AuthOAuth2 {
		return cfg, domain.ClientCredentials{}, nil
	}
	creds, ok := s.creds.ClientCredentials(p.Name)
	if !ok {
		return cfg, creds, domain.ErrNotConfigured
	}
	cfg.ClientID = creds.ClientID
	cfg.ClientSecret = creds.ClientSecret
	return cfg, creds, nil
}

func (s *Service) ListConnections(ctx context.Context) ([]domain.ConnectionView, error) {
	p, err := s.principal(ctx, authorization.FeatureIntegrationsRead)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListConnections(ctx, s.db, p.CompanyID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConnectionView, len(rows))
	for i, c := range rows {
		out[i] = c.View()
	}
	return out, nil
}

func (s *Service) GetConnection(ctx context.Context, id uuid.UUID) (domain.ConnectionView, error) {
	p, err := s.principal(ctx, authorization.FeatureIntegrationsRead)
	if err != nil {
		return domain.ConnectionView{}, err
	}
	c, err := s.ownedConnection(ctx, s.db, p, id)
	if err != nil {
		return domain.ConnectionView{}, err
	}
	return c.View(), nil
}

func (s *Service) ownedConnection(ctx context.Context, conn *gorm.DB, p tenant.Principal, id uuid.UUID) (*domain.Connection, error) {
	c, err := s.repo.FindConnection(ctx, conn, id)
	if err != nil {
		return nil, err
	}
	if c == nil || c.CompanyID != p.CompanyID {
		return nil, domain.ErrConnectionNotFound
	}
	return c, nil
}

// Authorize starts an OAuth flow. The connection is created pending when it
// does not exist; an existing connection keeps its tokens until the callback
// replaces them.
func (s *Service) Authorize(ctx context.Context, providerName string) (domain.AuthorizeResult, error) {
	p, err := s.principal(ctx, authorization.FeatureIntegrationsManage)
	if err != nil {
		return domain.AuthorizeResult{}, err
	}
	prov, err := s.activeProvider(ctx, s.db, providerName)
	if err != nil {
		return domain.AuthorizeResult{}, err
	}
	if prov.AuthMethod != domain.AuthOAuth2 {
		return domain.AuthorizeResult{}, domain.ErrWrongAuthMethod
	}
	cfg, creds, err := s.providerConfig(prov)
	if err != nil {
		return domain.AuthorizeResult{}, err
	}

	nonce, err := oauth.RandomToken(0)
	if err != nil {
		return domain.AuthorizeResult{}, err
	}
	verifier, err := oauth.RandomToken(0)
	if err != nil {
		return domain.AuthorizeResult{}, err
	}
	now := s.clock.Now()
	state, err := s.signer.Sign(oauth.State{CompanyID: p.CompanyID, Provider: prov.Name, Nonce: nonce}, now)
	if err != nil {
		return domain.AuthorizeResult{}, domain.ErrNotConfigured
	}
	authURL, err := oauth.AuthorizeURL(cfg, creds.RedirectURL, state, verifier)
	if err != nil {
		return domain.AuthorizeResult{}, domain.ErrNotConfigured
	}

	var out domain.AuthorizeResult
	err = db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		c, err := s.repo.FindConnectionByProvider(ctx, tx, p.CompanyID, prov.ID)
		if err != nil {
			return err
		}
		fresh := c == nil
		if fresh {
			c = s.newConnection(p, prov, now)
		}
		if c.Status != domain.StatusActive {
			c.Status = domain.StatusPending
		}
		if err := s.rewrap(c); err != nil {
			return err
		}
		if c.PKCEVerifier, err = s.vault.Encrypt(verifier); err != nil {
			return err
		}
		c.KeyID = s.vault.ActiveKeyID()
		c.StateNonce = oauth.HashNonce(nonce)
		c.ConnectedBy = p.UserID
		c.UpdatedAt = now
		if fresh {
			err = s.repo.InsertConnection(ctx, tx, c)
		} else {
			err = s.repo.SaveConnection(ctx, tx, c)
		}
		if err != nil {
			return err
		}
		out = domain.AuthorizeResult{ConnectionID: c.ID, URL: authURL, State: state}
		return nil
	})
	if err != nil {
		return domain.AuthorizeResult{}, err
	}
	return out, nil
}

func (s *Service) newConnection(p tenant.Principal, prov *domain.Provider, now time.Time) *domain.Connection {
	return &domain.Connection{
		ID:           uuid.Must(uuid.NewV7()),
		CompanyID:    p.CompanyID,
		ProviderID:   prov.ID,
		ProviderName: prov.Name,
		Status:       domain.StatusPending,
		ConnectedBy:  p.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// rewrap moves every ciphertext on c under the active key.
func (s *Service) rewrap(c *domain.Connection) error {
	for _, field := range []*string{&c.AccessToken, &c.RefreshToken, &c.PKCEVerifier} {
		out, _, err := s.vault.Rewrap(*field)
		if err != nil {
			return err
		}
		*field = out
	}
	if c.AccessToken == "" && c.RefreshToken == "" && c.PKCEVerifier == "" {
		c.KeyID = ""
		return nil
	}
	c.KeyID = s.vault.ActiveKeyID()
	return nil
}

func (s *Service) Callback(ctx context.Context, req domain.CallbackRequest) (domain.ConnectionView, error) {
	now := s.clock.Now()
	st, err := s.signer.Verify(req.State, now)
	if err != nil {
		return domain.ConnectionView{}, domain.ErrInvalidState
	}
	if req.Provider != "" && !strings.EqualFold(strings.TrimSpace(req.Provider), st.Provider) {
		return domain.ConnectionView{}, domain.ErrInvalidState
	}
	if strings.TrimSpace(req.Code) == "" {
		return domain.ConnectionView{}, domain.ErrInvalidCode
	}
	prov, err := s.activeProvider(ctx, s.db, st.Provider)
	if err != nil {
		return domain.ConnectionView{}, err
	}
	c, err := s.repo.FindConnectionByProvider(ctx, s.db, st.CompanyID, prov.ID)
	if err != nil {
		return domain.ConnectionView{}, err
	}
	if c == nil || c.StateNonce == "" ||
		subtle.ConstantTimeCompare([]byte(c.StateNonce), []byte(oauth.HashNonce(st.Nonce))) != 1 {
		return domain.ConnectionView{}, domain.ErrInvalidState
	}
	cfg, creds, err := s.providerConfig(prov)
	if err != nil {
		return domain.ConnectionView{}, err
	}
	verifier, err := s.vault.Decrypt(c.PKCEVerifier)
	if err != nil {
		return domain.ConnectionView{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	tok, exchangeErr := s.client.Exchange(callCtx, cfg, req.Code, creds.RedirectURL, verifier)
	cancel()

	c.StateNonce = ""
	c.PKCEVerifier = ""
	c.UpdatedAt = s.clock.Now()
	if exchangeErr != nil {
		c.Status = domain.StatusError
		c.LastError = exchangeErr.Error()
		if err := s.save(ctx, c); err != nil {
			return domain.ConnectionView{}, err
		}
		s.log.Warn("oauth code exchange failed", zap.String("provider", prov.Name), zap.Error(exchangeErr))
		return domain.ConnectionView{}, apperr.Integration(prov.Name, oauth.Retriable(exchangeErr), exchangeErr)
	}
	if err := s.applyTokens(c, tok); err != nil {
		return domain.ConnectionView{}, err
	}
	if err := s.save(ctx, c); err != nil {
		return domain.ConnectionView{}, err
	}
	s.log.Info("integration connected",
		zap.String("provider", prov.Name),
		zap.String("company_id", c.CompanyID.String()),
		zap.String("connection_id", c.ID.String()),
	)
	return c.View(), nil
}

func (s *Service) applyTokens(c *domain.Connection, tok oauth.TokenSet) error {
	if err := s.rewrap(c); err != nil {
		return err
	}
	access, err := s.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return err
	}
	c.AccessToken = access
	if tok.RefreshToken != "" {
		refresh, err := s.vault.Encrypt(tok.RefreshToken)
		if err != nil {
			return err
		}
		c.RefreshToken = refresh
	}
	expiresIn := time.Duration(tok.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = defaultExpiry
	}
	expiresAt := s.clock.Now().Add(expiresIn)
	c.TokenExpiresAt = &expiresAt
	c.KeyID = s.vault.ActiveKeyID()
	c.Status = domain.StatusActive
	c.LastError = ""
	c.RefreshingAt = nil
	c.UpdatedAt = s.clock.Now()
	return nil
}

// save persists c even when the caller's context has expired, so a failed
// remote call still records its outcome.
func (s *Service) save(ctx context.Context, c *domain.Connection) error {
	return s.repo.SaveConnection(context.WithoutCancel(ctx), s.db, c)
}

func (s *Service) ConnectAPIKey(ctx context.Context, providerName, apiKey string) (domain.ConnectionView, error) {
	p, err := s.principal(ctx, authorization.FeatureIntegrationsManage)
	if err != nil {
		return domain.ConnectionView{}, err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return domain.ConnectionView{}, domain.ErrInvalidAPIKey
	}
	prov, err := s.activeProvider(ctx, s.db, providerName)
	if err != nil {
		return domain.ConnectionView{}, err
	}
	if prov.AuthMethod != domain.AuthAPIKey {
		return domain.ConnectionView{}, domain.ErrWrongAuthMethod
	}

	var out domain.Connection
	err = db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		now := s.clock.Now()
		c, err := s.repo.FindConnectionByProvider(ctx, tx, p.CompanyID, prov.ID)
		if err != nil {
			return err
		}
		fresh := c == nil
		if fresh {
			c = s.newConnection(p, prov, now)
		}
		sealed, err := s.vault.Encrypt(apiKey)
		if err != nil {
			return err
		}
		c.AccessToken = sealed
		c.RefreshToken = ""
		c.PKCEVerifier = ""
		c.StateNonce = ""
		c.TokenExpiresAt = nil
		c.KeyID = s.vault.ActiveKeyID()
		c.Status = domain.StatusActive
		c.LastError = ""
		c.ConnectedBy = p.UserID
		c.UpdatedAt = now
		if fresh {
			err = s.repo.InsertConnection(ctx, tx, c)
		} else {
			err = s.repo.SaveConnection(ctx, tx, c)
		}
		if err != nil {
			return err
		}
		out = *c
		return nil
	})
	if err != nil {
		return domain.ConnectionView{}, err
	}
	return out.View(), nil
}

func (s *Service) Disconnect(ctx context.Context, id uuid.UUID) (domain.ConnectionView, error) {
	p, err := s.principal(ctx, authorization.FeatureIntegrationsManage)
	if err != nil {
		return domain.ConnectionView{}, err
	}
	var out domain.Connection
	err = db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		c, err := s.ownedConnection(ctx, tx, p, id)
		if err != nil {
			return err
		}
		c.Status = domain.StatusDisconnected
		c.AccessToken = ""
		c.RefreshToken = ""
		c.PKCEVerifier = ""
		c.StateNonce = ""
		c.KeyID = ""
		c.TokenExpiresAt = nil
		c.RefreshingAt = nil
		c.UpdatedAt = s.clock.Now()
		if err := s.repo.SaveConnection(ctx, tx, c); err != nil {
			return err
		}
		out = *c
		return nil
	})
	if err != nil {
		return domain.ConnectionView{}, err
	}
	s.log.Info("integration disconnected", zap.String("connection_id", id.String()), zap.String("provider", out.ProviderName))
	return out.View(), nil
}

func (s *Service) AccessToken(ctx context.Context, id uuid.UUID) (string, error) {
	p, err := s.principal(ctx, authorization.FeatureIntegrationsRead)
	if err != nil {
		return "", err
	}
	c, err := s.ownedConnection(ctx, s.db, p, id)
	if err != nil {
		return "", err
	}
	return s.token(ctx, c)
}

func (s *Service) Refresh(ctx context.Context, id uuid.UUID) (domain.ConnectionView, error) {
	p, err := s.principal(ctx, authorization.FeatureIntegrationsManage)
	if err != nil {
		return domain.ConnectionView{}, err
	}
	c, err := s.ownedConnection(ctx, s.db, p, id)
	if err != nil {
		return domain.ConnectionView{}, err
	}
	switch c.Status {
	case domain.StatusPending, domain.StatusDisconnected:
		return domain.ConnectionView{}, domain.ErrNotActive
	}
	if c.TokenExpiresAt == nil {
		return c.View(), nil
	}
	if _, err := s.singleRefresh(ctx, c.ID, true); err != nil {
		return domain.ConnectionView{}, err
	}
	refreshed, err := s.repo.FindConnection(ctx, s.db, id)
	if err != nil {
		return domain.ConnectionView{}, err
	}
	return refreshed.View(), nil
}

func (s *Service) needsRefresh(c *domain.Connection, now time.Time) bool {
	return c.TokenExpiresAt != nil && c.TokenExpiresAt.Sub(now) < s.margin
}

func (s *Service) token(ctx context.Context, c *domain.Connection) (string, error) {
	if c.Status != domain.StatusActive {
		return "", domain.ErrNotActive
	}
	if !s.needsRefresh(c, s.clock.Now()) {
		return s.vault.Decrypt(c.AccessToken)
	}
	return s.singleRefresh(ctx, c.ID, false)
}

// singleRefresh collapses concurrent refreshes of one connection in this
// process. The database claim covers other instances.
func (s *Service) singleRefresh(ctx context.Context, id uuid.UUID, force bool) (string, error) {
	key := id.String()
	if force {
		key += ":force"
	}
	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), id, force)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Service) refresh(ctx context.Context, id uuid.UUID, force bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for {
		now := s.clock.Now()
		claimed, err := s.repo.ClaimRefresh(ctx, s.db, id, now, now.Add(-refreshLockTTL))
		if err != nil {
			return "", err
		}
		if claimed {
			break
		}
		select {
		case <-ctx.Done():
			return "", apperr.Integration("", true, ctx.Err())
		case <-time.After(refreshPoll):
		}
		c, err := s.repo.FindConnection(ctx, s.db, id)
		if err != nil {
			return "", err
		}
		if c == nil {
			return "", domain.ErrConnectionNotFound
		}
		if c.RefreshingAt == nil && c.Status == domain.StatusActive && !s.needsRefresh(c, s.clock.Now()) {
			return s.vault.Decrypt(c.AccessToken)
		}
		if c.RefreshingAt == nil && c.Status != domain.StatusActive {
			return "", apperr.Integration(c.ProviderName, false, errors.New(c.LastError))
		}
	}

	c, err := s.repo.FindConnection(ctx, s.db, id)
	if err != nil || c == nil {
		_ = s.repo.ReleaseRefresh(context.WithoutCancel(ctx), s.db, id)
		if err == nil {
			err = domain.ErrConnectionNotFound
		}
		return "", err
	}
	if !force && c.Status == domain.StatusActive && !s.needsRefresh(c, s.clock.Now()) {
		if err := s.repo.ReleaseRefresh(ctx, s.db, id); err != nil {
			return "", err
		}
		return s.vault.Decrypt(c.AccessToken)
	}

	token, err := s.exchangeRefresh(ctx, c)
	c.RefreshingAt = nil
	if saveErr := s.save(ctx, c); saveErr != nil {
		return "", saveErr
	}
	if err != nil {
		s.metrics.RecordTokenRefresh(c.ProviderName, "failed")
		s.log.Warn("token refresh failed",
			zap.String("provider", c.ProviderName),
			zap.String("connection_id", c.ID.String()),
			zap.String("status", string(c.Status)),
			zap.Error(err),
		)
		return "", apperr.Integration(c.ProviderName, oauth.Retriable(err), err)
	}
	s.metrics.RecordTokenRefresh(c.ProviderName, "ok")
	return token, nil
}

// exchangeRefresh calls the provider and applies the outcome to c.
func (s *Service) exchangeRefresh(ctx context.Context, c *domain.Connection) (string, error) {
	fail := func(status domain.ConnectionStatus, err error) (string, error) {
		c.Status = status
		c.LastError = err.Error()
		c.UpdatedAt = s.clock.Now()
		return "", err
	}

	prov, err := s.repo.FindProviderByName(ctx, s.db, c.ProviderName)
	if err != nil {
		return "", err
	}
	if prov == nil {
		return fail(domain.StatusError, domain.ErrProviderNotFound)
	}
	cfg, _, err := s.providerConfig(prov)
	if err != nil {
		return fail(domain.StatusError, err)
	}
	refreshToken, err := s.vault.Decrypt(c.RefreshToken)
	if err != nil {
		return fail(domain.StatusError, err)
	}
	if refreshToken == "" {
		return fail(domain.StatusExpired, errNoRefreshToken)
	}

	tok, err := s.client.Refresh(ctx, cfg, refreshToken)
	if err != nil {
		if errors.Is(err, oauth.ErrGrantRejected) {
			return fail(domain.StatusExpired, err)
		}
		return fail(domain.StatusError, err)
	}
	if err := s.applyTokens(c, tok); err != nil {
		return fail(domain.StatusError, err)
	}
	return tok.AccessToken, nil
}

// Sync pulls the next page of provider records and hands them to the import
// pipeline as a new job.
func (s *Service) Sync(ctx context.Context, id uuid.UUID) (domain.SyncResult, error) {
	p, err := s.principal(ctx, authorization.FeatureIntegrationsManage)
	if err != nil {
		return domain.SyncResult{}, err
	}
	if s.sink == nil {
		return domain.SyncResult{}, domain.ErrNoSink
	}
	c, err := s.ownedConnection(ctx, s.db, p, id)
	if err != nil {
		return domain.SyncResult{}, err
	}
	prov, err := s.activeProvider(ctx, s.db, c.ProviderName)
	if err != nil {
		return domain.SyncResult{}, err
	}
	if prov.RecordsPath == "" || prov.DataType == "" {
		return domain.SyncResult{}, domain.ErrSyncUnsupported
	}
	cfg, _, err := s.providerConfig(prov)
	if err != nil {
		return domain.SyncResult{}, err
	}
	token, err := s.token(ctx, c)
	if err != nil {
		return domain.SyncResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	page, fetchErr := s.client.FetchRecords(callCtx, cfg, token, c.SyncCursor)
	cancel()

	latest, err := s.repo.FindConnection(ctx, s.db, id)
	if err != nil {
		return domain.SyncResult{}, err
	}
	now := s.clock.Now()
	if fetchErr != nil {
		latest.Status = domain.StatusError
		latest.LastError = fetchErr.Error()
		latest.UpdatedAt = now
		if err := s.save(ctx, latest); err != nil {
			return domain.SyncResult{}, err
		}
		return domain.SyncResult{}, apperr.Integration(prov.Name, oauth.Retriable(fetchErr), fetchErr)
	}

	out := domain.SyncResult{ConnectionID: id, Records: len(page.Records), Cursor: latest.SyncCursor}
	if len(page.Records) > 0 {
		headers, rows := tabulate(page.Records)
		jobID, err := s.sink.IngestRecords(ctx, domain.IngestRequest{
			CompanyID: p.CompanyID,
			UserID:    p.UserID,
			DataType:  prov.DataType,
			Source:    SourceIntegration,
			Name:      prov.Name + "-" + now.Format("20060102T150405Z"),
			Headers:   headers,
			Rows:      rows,
		})
		if err != nil {
			return domain.SyncResult{}, err
		}
		out.ImportJobID = jobID
	}
	if page.NextCursor != "" {
		latest.SyncCursor = page.NextCursor
		out.Cursor = page.NextCursor
	}
	latest.LastSyncAt = &now
	latest.LastError = ""
	latest.UpdatedAt = now
	if err := s.save(ctx, latest); err != nil {
		return domain.SyncResult{}, err
	}
	s.log.Info("integration synced",
		zap.String("provider", prov.Name),
		zap.String("connection_id", id.String()),
		zap.Int("records", out.Records),
	)
	return out, nil
}

// tabulate flattens records into a header row and string cells.
func tabulate(records []map[string]any) ([]string, [][]string) {
	seen := map[string]struct{}{}
	var headers []string
	for _, r := range records {
		for k := range r {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			headers = append(headers, k)
		}
	}
	sort.Strings(headers)

	rows := make([][]string, len(records))
	for i, r := range records {
		row := make([]string, len(headers))
		for j, h := range headers {
			row[j] = cell(r[h])
		}
		rows[i] = row
	}
	return headers, rows
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

// Rotate re-seals every connection still tagged with a retired key id.
func (s *Service) Rotate(ctx context.Context) (int, error) {
	if !s.vault.Configured() {
		return 0, vault.ErrNotConfigured
	}
	rows, err := s.repo.ListSealedWithout(ctx, s.db, s.vault.ActiveKeyID())
	if err != nil {
		return 0, err
	}
	rotated := 0
	for i := range rows {
		c := rows[i]
		err := db.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
			if err := s.rewrap(&c); err != nil {
				return err
			}
			c.UpdatedAt = s.clock.Now()
			return s.repo.SaveConnection(ctx, tx, &c)
		})
		if err != nil {
			return rotated, fmt.Errorf("rotate connection %s: %w", c.ID, err)
		}
		rotated++
	}
	s.log.Info("vault rotation finished", zap.String("active_key_id", s.vault.ActiveKeyID()), zap.Int("connections", rotated))
	return rotated, nil
}
