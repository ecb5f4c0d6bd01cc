// Package secrets provides the process-wide signing secrets and the
// tenant-scoped encryption of stored OIDC client secrets.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// Provider resolves the deployment's secret material once at process start.
// Components depend only on this interface; there is one implementation per
// deployment target.
type Provider interface {
	// StateSigningSecret signs the short-lived state tokens.
	StateSigningSecret() []byte
	// MasterKey derives the per-tenant encryption keys.
	MasterKey() []byte
	// BootstrapSecret verifies session-transfer JWTs. Empty means the
	// transfer endpoint is disabled.
	BootstrapSecret() []byte
	// WidgetFallbackSecret verifies widget identify tokens for tenants
	// without their own widget secret. Empty means no fallback.
	WidgetFallbackSecret() []byte
}

// EnvProvider reads secrets from the environment.
type EnvProvider struct{}

var _ Provider = EnvProvider{}

func (EnvProvider) StateSigningSecret() []byte   { return []byte(os.Getenv("AUTH_STATE_SECRET")) }
func (EnvProvider) MasterKey() []byte            { return []byte(os.Getenv("AUTH_MASTER_KEY")) }
func (EnvProvider) BootstrapSecret() []byte      { return []byte(os.Getenv("AUTH_BOOTSTRAP_SECRET")) }
func (EnvProvider) WidgetFallbackSecret() []byte { return []byte(os.Getenv("AUTH_WIDGET_SECRET")) }

// StaticProvider holds fixed secret material (primarily for testing).
type StaticProvider struct {
	StateSecret    []byte
	Master         []byte
	Bootstrap      []byte
	WidgetFallback []byte
}

var _ Provider = StaticProvider{}

func (p StaticProvider) StateSigningSecret() []byte   { return p.StateSecret }
func (p StaticProvider) MasterKey() []byte            { return p.Master }
func (p StaticProvider) BootstrapSecret() []byte      { return p.Bootstrap }
func (p StaticProvider) WidgetFallbackSecret() []byte { return p.WidgetFallback }

// DeriveTenantKey derives a 32-byte AES key from the master key, bound to
// one tenant via the HKDF info string "oidc:{tenantID}". A secret encrypted
// for one tenant can never decrypt under another's key.
func DeriveTenantKey(master []byte, tenantID string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte("oidc:"+tenantID)), key); err != nil {
		return nil, errors.Wrap(err, "[DeriveTenantKey] hkdf")
	}
	return key, nil
}

// EncryptForTenant encrypts a client secret with the tenant-scoped key
// (AES-256-GCM, random nonce prepended, base64url).
func EncryptForTenant(master []byte, tenantID, plaintext string) (string, error) {
	aead, err := tenantAEAD(master, tenantID)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "[EncryptForTenant] nonce")
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptForTenant reverses EncryptForTenant.
func DecryptForTenant(master []byte, tenantID, encrypted string) (string, error) {
	aead, err := tenantAEAD(master, tenantID)
	if err != nil {
		return "", err
	}

	sealed, err := base64.RawURLEncoding.DecodeString(encrypted)
	if err != nil {
		return "", errors.Wrap(err, "[DecryptForTenant] decode")
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("[DecryptForTenant] ciphertext too short")
	}

	plaintext, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	if err != nil {
		return "", errors.Wrap(err, "[DecryptForTenant] open")
	}
	return string(plaintext), nil
}

func tenantAEAD(master []byte, tenantID string) (cipher.AEAD, error) {
	key, err := DeriveTenantKey(master, tenantID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "[tenantAEAD] cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "[tenantAEAD] gcm")
	}
	return aead, nil
}
