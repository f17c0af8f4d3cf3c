// Package oauth talks to integration providers: authorization code exchange
// with PKCE, token refresh and record pulls.
package oauth

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	obstracing "github.com/smallbiznis/greenledger/internal/observability/tracing"
)

const (
	defaultTokenSize = 32
	maxBodyBytes     = 4 << 20
)

var (
	ErrInvalidProvider = errors.New("oauth provider is not configured")
	ErrGrantRejected   = errors.New("provider rejected the grant")
	ErrSchema          = errors.New("provider response does not match the expected schema")
)

// ProviderError carries the HTTP status of a failed provider call.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider responded %d: %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retriable reports whether err is worth retrying later.
func Retriable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode >= http.StatusInternalServerError || perr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	RecordsPath  string
	Scopes       []string
}

type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RecordPage is one page of provider records.
type RecordPage struct {
	Records    []map[string]any `json:"records"`
	NextCursor string           `json:"next_cursor"`
}

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{httpClient: obstracing.WrapHTTPClient(&http.Client{Timeout: timeout})}
}

// NewClientWithHTTP is used by tests to point at a fake provider.
func NewClientWithHTTP(client *http.Client) *Client {
	return &Client{httpClient: client}
}

// AuthorizeURL builds the provider consent URL with an S256 PKCE challenge.
func AuthorizeURL(cfg ProviderConfig, redirectURI, state, verifier string) (string, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.AuthURL) == "" {
		return "", ErrInvalidProvider
	}
	parsed, err := url.Parse(cfg.AuthURL)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("response_type", "code")
	query.Set("client_id", cfg.ClientID)
	query.Set("redirect_uri", redirectURI)
	if len(cfg.Scopes) > 0 {
		query.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	query.Set("state", state)
	if verifier != "" {
		query.Set("code_challenge", PKCEChallenge(verifier))
		query.Set("code_challenge_method", "S256")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (c *Client) Exchange(ctx context.Context, cfg ProviderConfig, code, redirectURI, verifier string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	if strings.TrimSpace(verifier) != "" {
		form.Set("code_verifier", verifier)
	}
	return c.token(ctx, cfg, form)
}

func (c *Client) Refresh(ctx context.Context, cfg ProviderConfig, refreshToken string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.token(ctx, cfg, form)
}

func (c *Client) token(ctx context.Context, cfg ProviderConfig, form url.Values) (TokenSet, error) {
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return TokenSet{}, ErrInvalidProvider
	}
	form.Set("client_id", cfg.ClientID)
	if strings.TrimSpace(cfg.ClientSecret) != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && perr.StatusCode >= 400 && perr.StatusCode < 500 && perr.StatusCode != http.StatusTooManyRequests {
			return TokenSet{}, &ProviderError{StatusCode: perr.StatusCode, Err: ErrGrantRejected}
		}
		return TokenSet{}, err
	}

	var token TokenSet
	if err := json.Unmarshal(body, &token); err == nil && token.AccessToken != "" {
		return token, nil
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return TokenSet{}, ErrSchema
	}
	token.AccessToken = values.Get("access_token")
	token.RefreshToken = values.Get("refresh_token")
	token.TokenType = values.Get("token_type")
	if token.AccessToken == "" {
		return TokenSet{}, ErrSchema
	}
	if raw := values.Get("expires_in"); raw != "" {
		if _, err := fmt.Sscan(raw, &token.ExpiresIn); err != nil {
			return TokenSet{}, ErrSchema
		}
	}
	return token, nil
}

// FetchRecords pulls one page of records after cursor.
func (c *Client) FetchRecords(ctx context.Context, cfg ProviderConfig, accessToken, cursor string) (RecordPage, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" || strings.TrimSpace(cfg.RecordsPath) == "" {
		return RecordPage{}, ErrInvalidProvider
	}
	endpoint, err := url.Parse(cfg.APIBaseURL + cfg.RecordsPath)
	if err != nil {
		return RecordPage{}, err
	}
	if cursor != "" {
		q := endpoint.Query()
		q.Set("cursor", cursor)
		endpoint.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return RecordPage{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return RecordPage{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var page RecordPage
	if err := dec.Decode(&page); err != nil || page.Records == nil {
		return RecordPage{}, ErrSchema
	}
	return page, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return body, nil
}

// RandomToken returns a URL-safe random string of size bytes.
func RandomToken(size int) (string, error) {
	if size <= 0 {
		size = defaultTokenSize
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func PKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
