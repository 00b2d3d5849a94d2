package agekey

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

const envAgeSecretKey = "AGE_SECRET_KEY"

const seedSize = 32

// Keeper decrypts age-encrypted payloads using the control plane's X25519
// identity. Secrets at rest (SSH keys, license blobs) are stored encrypted to
// the keeper's recipient.
type Keeper struct {
	identity *age.X25519Identity
}

// NewKeeperFromEnv initialises a Keeper from the AGE_SECRET_KEY environment
// variable. The key is validated as a well-formed bech32 age secret key
// before the identity is parsed.
func NewKeeperFromEnv() (*Keeper, error) {
	secret := strings.TrimSpace(os.Getenv(envAgeSecretKey))
	if secret == "" {
		return nil, fmt.Errorf("%s must be set", envAgeSecretKey)
	}

	if _, err := DecodeSeed(secret); err != nil {
		return nil, fmt.Errorf("parse %s: %w", envAgeSecretKey, err)
	}

	identity, err := age.ParseX25519Identity(secret)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", envAgeSecretKey, err)
	}

	return &Keeper{identity: identity}, nil
}

// Recipient returns the public recipient string secrets should be encrypted to.
func (k *Keeper) Recipient() string {
	if k == nil || k.identity == nil {
		return ""
	}
	return k.identity.Recipient().String()
}

// Decrypt opens an age-encrypted payload and returns the plaintext.
func (k *Keeper) Decrypt(ciphertext []byte) ([]byte, error) {
	if k == nil || k.identity == nil {
		return nil, errors.New("keeper has no identity")
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), k.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}
	return io.ReadAll(r)
}

// Encrypt seals plaintext to the keeper's own recipient. Used when operators
// upload new secrets through the API.
func (k *Keeper) Encrypt(plaintext []byte) ([]byte, error) {
	if k == nil || k.identity == nil {
		return nil, errors.New("keeper has no identity")
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, k.identity.Recipient())
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSeed decodes the raw 32-byte seed from a bech32 age secret key.
func DecodeSeed(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != seedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(decoded))
	}
	return decoded, nil
}
