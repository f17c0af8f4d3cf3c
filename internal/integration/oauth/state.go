package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultStateTTL bounds how long a consent screen may stay open.
const DefaultStateTTL = 10 * time.Minute

var ErrBadState = errors.New("oauth state is invalid")

// State binds a callback to the company and provider that started the flow.
type State struct {
	CompanyID uuid.UUID `json:"c"`
	Provider  string    `json:"p"`
	Nonce     string    `json:"n"`
	ExpiresAt int64     `json:"x"`
}

type StateSigner struct {
	secret []byte
	ttl    time.Duration
}

func NewStateSigner(secret []byte, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{secret: secret, ttl: ttl}
}

// Sign returns "<payload>.<mac>", both base64url.
func (s *StateSigner) Sign(st State, now time.Time) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrInvalidProvider
	}
	st.ExpiresAt = now.Add(s.ttl).Unix()
	raw, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + s.mac(payload), nil
}

func (s *StateSigner) Verify(token string, now time.Time) (State, error) {
	payload, mac, ok := strings.Cut(token, ".")
	if !ok || len(s.secret) == 0 {
		return State{}, ErrBadState
	}
	if !hmac.Equal([]byte(mac), []byte(s.mac(payload))) {
		return State{}, ErrBadState
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return State{}, ErrBadState
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, ErrBadState
	}
	if now.Unix() > st.ExpiresAt {
		return State{}, ErrBadState
	}
	return st, nil
}

func (s *StateSigner) mac(payload string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// HashNonce is what a connection stores to match the callback nonce.
func HashNonce(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}
