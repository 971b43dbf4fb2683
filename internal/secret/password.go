// Package secret stores account passwords encrypted at rest.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

const (
	// DefaultIterations is the OWASP-recommended minimum for HMAC-SHA256.
	DefaultIterations = 480_000
	saltLen           = 16
	aesKeyLen         = 32
	fileVersion       = 1
)

// passwordFile is the on-disk format written by gflexkey.
type passwordFile struct {
	Version    int    `json:"version"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Source says where an account password comes from.
type Source struct {
	Password      string
	EncryptedPath string
	KeyPassword   string
}

// Encrypt seals password under keyPassword and returns the JSON file body.
func Encrypt(password, keyPassword string) ([]byte, error) {
	return encrypt(password, keyPassword, DefaultIterations)
}

func encrypt(password, keyPassword string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, errors.New("secret: password must not be empty")
	}
	if keyPassword == "" {
		return nil, errors.New("secret: key password must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("secret: generating salt: %w", err)
	}
	gcm, err := newGCM(keyPassword, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secret: generating nonce: %w", err)
	}

	return json.MarshalIndent(passwordFile{
		Version:    fileVersion,
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(password), nil)),
	}, "", "  ")
}

// Decrypt opens a file body produced by Encrypt. A wrong key password
// yields domain.ErrDecryptFailure.
func Decrypt(data []byte, keyPassword string) (string, error) {
	if keyPassword == "" {
		return "", errors.New("secret: key password must not be empty")
	}

	var f passwordFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("secret: parsing password file: %w", err)
	}
	if f.Version != fileVersion {
		return "", fmt.Errorf("secret: unsupported version %d", f.Version)
	}
	if f.Iterations <= 0 {
		return "", fmt.Errorf("secret: invalid iteration count %d", f.Iterations)
	}

	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil {
		return "", fmt.Errorf("secret: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(f.Nonce)
	if err != nil {
		return "", fmt.Errorf("secret: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(f.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("secret: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(keyPassword, salt, f.Iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("secret: nonce length %d", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secret: %w (wrong key password?)", domain.ErrDecryptFailure)
	}
	return string(plain), nil
}

// Resolve returns the plain password, reading and decrypting the file when
// no plain password is configured.
func Resolve(src Source) (string, error) {
	if src.Password != "" {
		return src.Password, nil
	}
	if src.EncryptedPath == "" {
		return "", errors.New("secret: no password source configured (set password or encrypted_password_path)")
	}
	data, err := os.ReadFile(src.EncryptedPath)
	if err != nil {
		return "", fmt.Errorf("secret: reading password file: %w", err)
	}
	return Decrypt(data, src.KeyPassword)
}

func newGCM(keyPassword string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(keyPassword), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secret: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret: creating GCM: %w", err)
	}
	return gcm, nil
}
