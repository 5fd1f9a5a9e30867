package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/renvik/presend/pkg/schema"
)

const (
	keySize           = 32
	defaultIterations = 100_000
)

// VaultConfig selects how the vault key is obtained. A raw MasterKey
// wins when set; otherwise the key is derived from Passphrase and Salt
// with PBKDF2.
type VaultConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int // PBKDF2 rounds, defaults to 100_000
}

// AESVault is the Vault used to fill the secrets namespace of the
// rendering context. Values are sealed with AES-256-GCM on Store and
// opened on Resolve, so the backing store only ever sees ciphertext
// and template expressions like ${{ secrets.api_key }} always receive
// plaintext.
type AESVault struct {
	store SecretStore
	aead  cipher.AEAD
}

var _ Vault = (*AESVault)(nil)

// NewAESVault wraps a SecretStore with AES-256-GCM sealing.
func NewAESVault(s SecretStore, cfg VaultConfig) (*AESVault, error) {
	key, err := vaultKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

// Store seals value and writes the ciphertext under key.
func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	return v.store.StoreSecret(ctx, key, v.aead.Seal(nonce, nonce, value, nil))
}

// Resolve reads the ciphertext under key and returns the plaintext.
func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	size := v.aead.NonceSize()
	if len(sealed) < size {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q: sealed value too short", key)
	}
	plaintext, err := v.aead.Open(nil, sealed[:size], sealed[size:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q: open failed: %s", key, err.Error())
	}
	return plaintext, nil
}

// Delete removes the secret under key.
func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}

// List names every stored secret. The context builder resolves each
// name into the secrets namespace before a cycle renders.
func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}

func vaultKey(cfg VaultConfig) ([]byte, error) {
	switch {
	case len(cfg.MasterKey) == keySize:
		return cfg.MasterKey, nil
	case len(cfg.MasterKey) > 0:
		return nil, schema.NewErrorf(schema.ErrCodeVault,
			"master key must be %d bytes, got %d", keySize, len(cfg.MasterKey))
	case cfg.Passphrase == "":
		return nil, schema.NewError(schema.ErrCodeVault, "either master_key or passphrase is required")
	case len(cfg.Salt) == 0:
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, keySize)
}
