// Package vault seals integration credentials at rest.
//
// Ciphertexts have the form "gl1:<kid>:<base64url(nonce|sealed)>". Each key id
// derives its own AES-256-GCM key through HKDF-SHA256 and the key id is bound
// as additional data, so a ciphertext cannot be replayed under another key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"golang.org/x/crypto/hkdf"
)

const (
	prefix  = "gl1"
	keySize = 32
	info    = "greenledger/integration-vault/v1/"
)

var (
	ErrNotConfigured = apperr.New(apperr.KindInternal, "vault_not_configured")
	ErrUnknownKey    = apperr.New(apperr.KindInternal, "vault_unknown_key")
	ErrMalformed     = apperr.New(apperr.KindInternal, "vault_malformed_ciphertext")
	ErrDecrypt       = apperr.New(apperr.KindInternal, "vault_decrypt_failed")
)

// Keyring holds one AEAD per key id. The active id seals new values; any
// known id opens.
type Keyring struct {
	active string
	aeads  map[string]cipher.AEAD
}

// New builds the keyring from process configuration.
func New(cfg config.Config) (*Keyring, error) {
	return NewKeyring(cfg.Vault.Keys, cfg.Vault.ActiveKeyID)
}

func NewKeyring(keys map[string][]byte, active string) (*Keyring, error) {
	k := &Keyring{active: strings.TrimSpace(active), aeads: make(map[string]cipher.AEAD, len(keys))}
	for kid, raw := range keys {
		if kid == "" || strings.Contains(kid, ":") {
			return nil, fmt.Errorf("%w: invalid vault key id %q", config.ErrInvalidConfig, kid)
		}
		aead, err := deriveAEAD(kid, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: vault key %s: %v", config.ErrInvalidConfig, kid, err)
		}
		k.aeads[kid] = aead
	}
	if len(k.aeads) > 0 {
		if _, ok := k.aeads[k.active]; !ok {
			return nil, fmt.Errorf("%w: active vault key %q is not loaded", config.ErrInvalidConfig, k.active)
		}
	}
	return k, nil
}

func deriveAEAD(kid string, raw []byte) (cipher.AEAD, error) {
	if len(raw) < 16 {
		return nil, errors.New("key material shorter than 16 bytes")
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte(info+kid)), key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Configured reports whether the keyring can seal values.
func (k *Keyring) Configured() bool {
	return k != nil && len(k.aeads) > 0
}

func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.active
}

// KeyIDs lists loaded key ids in order.
func (k *Keyring) KeyIDs() []string {
	ids := make([]string, 0, len(k.aeads))
	for id := range k.aeads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Encrypt seals plaintext under the active key. Empty input stays empty.
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if !k.Configured() {
		return "", ErrNotConfigured
	}
	aead := k.aeads[k.active]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), aad(k.active))
	return prefix + ":" + k.active + ":" + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by any loaded key.
func (k *Keyring) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	kid, payload, err := split(ciphertext)
	if err != nil {
		return "", err
	}
	if k == nil {
		return "", ErrNotConfigured
	}
	aead, ok := k.aeads[kid]
	if !ok {
		return "", ErrUnknownKey
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, aad(kid))
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// KeyID returns the key id a ciphertext is tagged with.
func KeyID(ciphertext string) (string, error) {
	kid, _, err := split(ciphertext)
	return kid, err
}

// Rewrap re-seals ciphertext under the active key. It reports false when the
// value is empty or already sealed by the active key.
func (k *Keyring) Rewrap(ciphertext string) (string, bool, error) {
	if ciphertext == "" {
		return "", false, nil
	}
	kid, err := KeyID(ciphertext)
	if err != nil {
		return "", false, err
	}
	if kid == k.ActiveKeyID() {
		return ciphertext, false, nil
	}
	plain, err := k.Decrypt(ciphertext)
	if err != nil {
		return "", false, err
	}
	out, err := k.Encrypt(plain)
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

func split(ciphertext string) (kid, payload string, err error) {
	parts := strings.SplitN(ciphertext, ":", 3)
	if len(parts) != 3 || parts[0] != prefix || parts[1] == "" || parts[2] == "" {
		return "", "", ErrMalformed
	}
	return parts[1], parts[2], nil
}

func aad(kid string) []byte {
	return []byte(prefix + ":" + kid)
}
