package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/authorization"
	"github.com/smallbiznis/greenledger/internal/clock"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/integration/domain"
	"github.com/smallbiznis/greenledger/internal/integration/oauth"
	"github.com/smallbiznis/greenledger/internal/integration/repository"
	"github.com/smallbiznis/greenledger/internal/integration/vault"
	"github.com/smallbiznis/greenledger/internal/tenant"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticCreds map[string]domain.ClientCredentials

func (c staticCreds) ClientCredentials(provider string) (domain.ClientCredentials, bool) {
	v, ok := c[provider]
	return v, ok
}

type recordingSink struct {
	mu   sync.Mutex
	reqs []domain.IngestRequest
}

func (s *recordingSink) IngestRecords(_ context.Context, req domain.IngestRequest) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return uuid.New(), nil
}

// provider is a fake OAuth server. Refresh responses are chosen by the
// current mode.
type provider struct {
	srv       *httptest.Server
	refreshes atomic.Int32
	exchanges atomic.Int32
	delay     time.Duration
	mode      atomic.Value
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	p := &provider{}
	p.mode.Store("ok")
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") == "authorization_code" {
			p.exchanges.Add(1)
			if r.Form.Get("code_verifier") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"first-access","refresh_token":"first-refresh","expires_in":3600}`))
			return
		}
		p.refreshes.Add(1)
		time.Sleep(p.delay)
		switch p.mode.Load().(string) {
		case "revoked":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		case "down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":3600}`))
		}
	})
	mux.HandleFunc("/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer first-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"records":[{"weight_kg":12.5,"device_type":"laptop"},{"device_type":"phone","serial":"A1"}],"next_cursor":"c2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"records":[]}`))
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

type fixture struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	keyring *vault.Keyring
	sink    *recordingSink
	signer  *oauth.StateSigner
	company uuid.UUID
	user    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := db.NewTest(t, &domain.Provider{}, &domain.Connection{})
	k, err := vault.NewKeyring(testKeys(), "k1")
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return &fixture{
		db:      conn,
		clock:   fc,
		keyring: k,
		sink:    &recordingSink{},
		signer:  oauth.NewStateSigner([]byte("state-secret"), 10*time.Minute),
		company: uuid.New(),
		user:    uuid.New(),
	}
}

func testKeys() map[string][]byte {
	return map[string][]byte{
		"k1": []byte("0123456789abcdef0123456789abcdef"),
		"k2": []byte("fedcba9876543210fedcba9876543210"),
	}
}

func (f *fixture) service(t *testing.T, k *vault.Keyring) *Service {
	t.Helper()
	authz, err := authorization.New()
	require.NoError(t, err)
	return New(Params{
		DB:          f.db,
		Log:         zap.NewNop(),
		Clock:       f.clock,
		Config:      config.Config{Integration: config.IntegrationConfig{Timeout: 5 * time.Second, RefreshMargin: 5 * time.Minute}},
		Repo:        repository.Provide(),
		Authz:       authz,
		Vault:       k,
		Client:      oauth.NewClientWithHTTP(http.DefaultClient),
		Signer:      f.signer,
		Credentials: staticCreds{"ledger": {ClientID: "cid", ClientSecret: "secret", RedirectURL: "https://app.example/cb"}},
		Sink:        f.sink,
	}).(*Service)
}

func (f *fixture) as(role authorization.Role) context.Context {
	return tenant.WithPrincipal(context.Background(), tenant.Principal{UserID: f.user, CompanyID: f.company, Role: role})
}

func (f *fixture) seed(t *testing.T, svc *Service, p *provider) {
	t.Helper()
	_, err := svc.SeedProviders(context.Background(), []domain.ProviderInput{
		{
			Name: "ledger", DisplayName: "Ledger", Category: domain.CategoryAccounting, AuthMethod: domain.AuthOAuth2,
			AuthURL: p.srv.URL + "/authorize", TokenURL: p.srv.URL + "/token", APIBaseURL: p.srv.URL,
			RecordsPath: "/records", DataType: "ewaste", Scopes: []string{"read"}, Active: true,
		},
		{Name: "metering", Category: domain.CategoryCloud, AuthMethod: domain.AuthAPIKey, Active: true},
	})
	require.NoError(t, err)
}

// activeConnection stores a connected ledger connection whose token expires
// after ttl.
func (f *fixture) activeConnection(t *testing.T, svc *Service, ttl time.Duration) *domain.Connection {
	t.Helper()
	prov, err := svc.repo.FindProviderByName(context.Background(), f.db, "ledger")
	require.NoError(t, err)
	access, err := f.keyring.Encrypt("first-access")
	require.NoError(t, err)
	refresh, err := f.keyring.Encrypt("first-refresh")
	require.NoError(t, err)
	expires := f.clock.Now().Add(ttl)
	c := &domain.Connection{
		ID:             uuid.New(),
		CompanyID:      f.company,
		ProviderID:     prov.ID,
		ProviderName:   prov.Name,
		Status:         domain.StatusActive,
		AccessToken:    access,
		RefreshToken:   refresh,
		KeyID:          "k1",
		TokenExpiresAt: &expires,
		ConnectedBy:    f.user,
		CreatedAt:      f.clock.Now(),
		UpdatedAt:      f.clock.Now(),
	}
	require.NoError(t, f.db.Create(c).Error)
	return c
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) domain.Connection {
	t.Helper()
	var c domain.Connection
	require.NoError(t, f.db.First(&c, "id = ?", id).Error)
	return c
}

func TestConcurrentRequestsShareOneRefresh(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	p.delay = 100 * time.Millisecond
	svc := f.service(t, f.keyring)
	f.seed(t, svc, p)
	conn := f.activeConnection(t, svc, 10*time.Second)

	ctx := f.as(authorization.RoleSustainabilityManager)
	tokens := make([]string, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = svc.AccessToken(ctx, conn.ID)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "new-access", tokens[0])
	assert.Equal(t, "new-access", tokens[1])
	assert.EqualValues(t, 1, p.refreshes.Load())

	stored := f.reload(t, conn.ID)
	assert.Equal(t, domain.StatusActive, stored.Status)
	assert.Nil(t, stored.RefreshingAt)
	assert.NotContains(t, stored.AccessToken, "new-access")
	require.NotNil(t, stored.TokenExpiresAt)
	assert.True(t, stored.TokenExpiresAt.After(f.clock.Now().Add(time.Hour-time.Second)))
}

func TestRefreshClaimIsSharedAcrossInstances(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	p.delay = 200 * time.Millisecond
	first := f.service(t, f.keyring)
	second := f.service(t, f.keyring)
	f.seed(t, first, p)
	conn := f.activeConnection(t, first, 10*time.Second)

	ctx := f.as(authorization.RoleDecisionMaker)
	tokens := make([]string, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, svc := range []*Service{first, second} {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			tokens[i], errs[i] = svc.AccessToken(ctx, conn.ID)
		}(i, svc)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, tokens[0], tokens[1])
	assert.EqualValues(t, 1, p.refreshes.Load())
}

func TestFreshTokenSkipsRefresh(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	svc := f.service(t, f.keyring)
	f.seed(t, svc, p)
	conn := f.activeConnection(t, svc, time.Hour)

	token, err := svc.AccessToken(f.as(authorization.RoleDecisionMaker), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "first-access", token)
	assert.EqualValues(t, 0, p.refreshes.Load())
}

func TestStaleRefreshClaimIsBroken(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	svc := f.service(t, f.keyring)
	f.seed(t, svc, p)
	conn := f.activeConnection(t, svc, time.Second)
	stale := f.clock.Now().Add(-2 * time.Minute)
	require.NoError(t, f.db.Model(&domain.Connection{}).Where("id = ?", conn.ID).Update("refreshing_at", stale).Error)

	token, err := svc.AccessToken(f.as(authorization.RoleDecisionMaker), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.EqualValues(t, 1, p.refreshes.Load())
}

func TestRefreshFailureOutcomes(t *testing.T) {
	cases := []struct {
		mode      string
		status    domain.ConnectionStatus
		retriable bool
	}{
		{mode: "revoked", status: domain.StatusExpired},
		{mode: "down", status: domain.StatusError, retriable: true},
	}
	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			f := newFixture(t)
			p := newProvider(t)
			p.mode.Store(tc.mode)
			svc := f.service(t, f.keyring)
			f.seed(t, svc, p)
			conn := f.activeConnection(t, svc, time.Second)

			_, err := svc.AccessToken(f.as(authorization.RoleDecisionMaker), conn.ID)
			require.Error(t, err)
			appErr, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindIntegration, appErr.Kind)
			assert.Equal(t, tc.retriable, appErr.Retriable)

			stored := f.reload(t, conn.ID)
			assert.Equal(t, tc.status, stored.Status)
			assert.Nil(t, stored.RefreshingAt)
			assert.NotEmpty(t, stored.LastError)

			_, err = svc.AccessToken(f.as(authorization.RoleDecisionMaker), conn.ID)
			assert.ErrorIs(t, err, domain.ErrNotActive)
		})
	}
}

func TestAuthorizeAndCallback(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	svc := f.service(t, f.keyring)
	f.seed(t, svc, p)
	ctx := f.as(authorization.RoleSustainabilityManager)

	res, err := svc.Authorize(ctx, "ledger")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.URL, p.srv.URL+"/authorize?"))
	assert.Contains(t, res.URL, "code_challenge=")

	pending := f.reload(t, res.ConnectionID)
	assert.Equal(t, domain.StatusPending, pending.Status)
	assert.NotEmpty(t, pending.PKCEVerifier)

	view, err := svc.Callback(context.Background(), domain.CallbackRequest{Provider: "ledger", Code: "abc", State: res.State})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, view.Status)
	assert.True(t, view.HasAccessToken)
	assert.True(t, view.HasRefreshToken)
	assert.EqualValues(t, 1, p.exchanges.Load())

	stored := f.reload(t, res.ConnectionID)
	assert.Empty(t, stored.StateNonce)
	assert.Empty(t, stored.PKCEVerifier)
	assert.Equal(t, "k1", stored.KeyID)
	assert.NotContains(t, stored.AccessToken, "first-access")

	_, err = svc.Callback(context.Background(), domain.CallbackRequest{Provider: "ledger", Code: "abc", State: res.State})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCallbackRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	svc := f.service(t, f.keyring)
	f.seed(t, svc, p)

	_, err := svc.Callback(context.Background(), domain.CallbackRequest{Provider: "ledger", Code: "abc", State: "forged.state"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	res, err := svc.Authorize(f.as(authorization.RoleAdministrator), "ledger")
	require.NoError(t, err)

	_, err = svc.Callback(context.Background(), domain.CallbackRequest{Provider: "metering", Code: "abc", State: res.State})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.Callback(context.Background(), domain.CallbackRequest{Provider: "ledger", State: res.State})
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	f.clock.Advance(11 * time.Minute)
	_, err = svc.Callback(context.Background(), domain.CallbackRequest{Provider: "ledger", Code: "abc", State: res.State})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.EqualValues(t, 0, p.exchanges.Load())
}

func TestAuthorizeRequiresManage(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	svc := f.service(t, f.keyring)
	f.seed(t, svc, p)

	_, err := svc.Authorize(f.as(authorization.RoleDecisionMaker), "ledger")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = svc.Authorize(f.as(authorization.RoleAdministrator), "metering")
	assert.ErrorIs(t, err, domain.ErrWrongAuthMethod)

	_, err = svc.Authorize(f.as(authorization.RoleAdministrator), "unknown")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestProviderViewsReportConfiguration(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	svc := f.service(t, f.keyring)
	f.seed(t, svc, p)

	views, err := svc.ListProviders(f.as(authorization.RoleDecisionMaker))
	require.NoError(t, err)
	require.Len(t, views, 2)
	byName := map[string]domain.ProviderView{}
	for _, v := range views {
		byName[v.Name] = v
	}
	assert.True(t, byName["ledger"].Configured)
	assert.True(t, byName["metering"].Configured)
	assert.Equal(t, []string{"read"}, byName["ledger"].Scopes)
}

func TestAPIKeyConnectionAndRotation(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	svc := f.service(t, f.keyring)
	f.seed(t, svc, p)
	ctx := f.as(authorization.RoleSustainabilityManager)

	_, err := svc.ConnectAPIKey(ctx, "metering", "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	view, err := svc.ConnectAPIKey(ctx, "metering", "key-123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, view.Status)
	assert.True(t, view.HasAccessToken)
	assert.False(t, view.HasRefreshToken)

	rotatedKeys, err := vault.NewKeyring(testKeys(), "k2")
	require.NoError(t, err)
	rotatedSvc := f.service(t, rotatedKeys)
	n, err := rotatedSvc.Rotate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := f.reload(t, view.ID)
	assert.Equal(t, "k2", stored.KeyID)
	kid, err := vault.KeyID(stored.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "k2", kid)

	token, err := rotatedSvc.AccessToken(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "key-123", token)

	n, err = rotatedSvc.Rotate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDisconnectClearsCredentials(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	svc := f.service(t, f.keyring)
	f.seed(t, svc, p)
	conn := f.activeConnection(t, svc, time.Hour)
	ctx := f.as(authorization.RoleSustainabilityManager)

	view, err := svc.Disconnect(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisconnected, view.Status)
	assert.False(t, view.HasAccessToken)

	stored := f.reload(t, conn.ID)
	assert.Empty(t, stored.AccessToken)
	assert.Empty(t, stored.RefreshToken)

	other := tenant.WithPrincipal(context.Background(), tenant.Principal{UserID: f.user, CompanyID: uuid.New(), Role: authorization.RoleAdministrator})
	_, err = svc.GetConnection(other, conn.ID)
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestSyncHandsRecordsToSink(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	svc := f.service(t, f.keyring)
	f.seed(t, svc, p)
	conn := f.activeConnection(t, svc, time.Hour)
	ctx := f.as(authorization.RoleSustainabilityManager)

	res, err := svc.Sync(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, "c2", res.Cursor)
	assert.NotEqual(t, uuid.Nil, res.ImportJobID)

	require.Len(t, f.sink.reqs, 1)
	req := f.sink.reqs[0]
	assert.Equal(t, "ewaste", req.DataType)
	assert.Equal(t, SourceIntegration, req.Source)
	assert.Equal(t, f.company, req.CompanyID)
	assert.Equal(t, []string{"device_type", "serial", "weight_kg"}, req.Headers)
	assert.Equal(t, [][]string{{"laptop", "", "12.5"}, {"phone", "A1", ""}}, req.Rows)

	res, err = svc.Sync(ctx, conn.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Records)
	assert.Equal(t, uuid.Nil, res.ImportJobID)
	assert.Len(t, f.sink.reqs, 1)

	stored := f.reload(t, conn.ID)
	assert.Equal(t, "c2", stored.SyncCursor)
	require.NotNil(t, stored.LastSyncAt)
}

func TestSyncRequiresRecordsEndpoint(t *testing.T) {
	f := newFixture(t)
	p := newProvider(t)
	svc := f.service(t, f.keyring)
	f.seed(t, svc, p)
	ctx := f.as(authorization.RoleSustainabilityManager)

	view, err := svc.ConnectAPIKey(ctx, "metering", "key-123")
	require.NoError(t, err)
	_, err = svc.Sync(ctx, view.ID)
	assert.True(t, errors.Is(err, domain.ErrSyncUnsupported))
}
