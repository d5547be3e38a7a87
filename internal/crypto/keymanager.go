// Package crypto provides signing-key management, typed-data receipt
// signatures, and HMAC authentication for the treasury gateway.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Keyfiles hold the service signing key sealed under an operator passphrase:
// PBKDF2-HMAC-SHA256 stretches the passphrase into an AES-256 key and
// AES-GCM seals the key bytes. The envelope is versioned JSON so the KDF
// parameters can change without breaking files already on disk.

const (
	// kdfIterations is the PBKDF2 work factor, OWASP's floor for
	// HMAC-SHA256.
	kdfIterations = 480_000
	kdfSaltLen    = 16
	aesKeyLen     = 32 // AES-256

	keyfileVersion = 1
)

// keyfileEnvelope is the on-disk form of a sealed signing key. Binary fields
// are standard base64.
type keyfileEnvelope struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource tells LoadKey where the signing key lives. An inline key wins
// over a keyfile.
type KeySource struct {
	// Inline is the hex key itself, 0x prefix optional. Dev setups inject
	// it through the environment.
	Inline string

	// KeyfilePath points at an envelope produced by SealKeyfile.
	KeyfilePath string

	// Passphrase opens the keyfile at KeyfilePath.
	Passphrase string
}

// LoadKey resolves the service signing key from src and returns it as bare
// hex without the 0x prefix.
func LoadKey(src KeySource) (string, error) {
	if src.Inline != "" {
		k := strings.TrimPrefix(src.Inline, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto/keymanager: inline key is not hex: %w", err)
		}
		return k, nil
	}

	if src.KeyfilePath != "" {
		data, err := os.ReadFile(src.KeyfilePath)
		if err != nil {
			return "", fmt.Errorf("crypto/keymanager: read keyfile: %w", err)
		}
		return OpenKeyfile(data, src.Passphrase)
	}

	return "", errors.New("crypto/keymanager: no key source configured")
}

// SealKeyfile encrypts a hex private key under passphrase and returns the
// keyfile envelope ready to write to disk.
func SealKeyfile(privateKeyHex, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("crypto/keymanager: empty passphrase")
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/keymanager: private key is not hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto/keymanager: want a 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, kdfSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/keymanager: salt: %w", err)
	}
	aead, err := keyfileAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/keymanager: nonce: %w", err)
	}

	env := keyfileEnvelope{
		Version:    keyfileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(env, "", "  ")
}

// OpenKeyfile decrypts a keyfile envelope and returns the key as bare hex.
// A wrong passphrase fails GCM authentication, not the KDF, so the error is
// the same for a bad passphrase and a corrupt file.
func OpenKeyfile(data []byte, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("crypto/keymanager: empty passphrase")
	}

	var env keyfileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("crypto/keymanager: parse keyfile: %w", err)
	}
	if env.Version != keyfileVersion {
		return "", fmt.Errorf("crypto/keymanager: unsupported keyfile version %d", env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto/keymanager: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto/keymanager: decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto/keymanager: decode ciphertext: %w", err)
	}

	aead, err := keyfileAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("crypto/keymanager: unseal keyfile (wrong passphrase or corrupt file): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// keyfileAEAD derives the AES-256-GCM cipher for one keyfile from its salt.
func keyfileAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto/keymanager: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto/keymanager: gcm: %w", err)
	}
	return aead, nil
}
