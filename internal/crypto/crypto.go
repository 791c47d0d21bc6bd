package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeyBytes  = 32
	SaltBytes = 16
	IVBytes   = 12

	pbkdf2Iterations = 100000
	rsaBits          = 2048
)

var (
	// ErrDecrypt is returned on tampering, a wrong key, or a corrupted IV.
	// Callers must surface a placeholder, never corrupted plaintext.
	ErrDecrypt = errors.New("decryption failed")

	// ErrKeyImport is returned for malformed key material. Callers must not
	// silently fall back to plaintext.
	ErrKeyImport = errors.New("invalid key material")
)

// EncryptedPayload is the transportable ciphertext form. Both fields are
// standard base64.
type EncryptedPayload struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// GenerateSymmetricKey returns a fresh AES-GCM-256 key.
func GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, KeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt returns a fresh salt for password-derived keys.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKeyFromPassword derives an AES-GCM-256 key via PBKDF2-SHA256 with
// 100000 iterations. Deterministic for a given (password, salt) pair.
func DeriveKeyFromPassword(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, KeyBytes, sha256.New)
}

// Encrypt seals plaintext with a random 96-bit IV. An IV is never reused with
// the same key.
func Encrypt(plaintext string, key []byte) (EncryptedPayload, error) {
	aead, err := newGCM(key)
	if err != nil {
		return EncryptedPayload{}, err
	}

	iv := make([]byte, IVBytes)
	if _, err := rand.Read(iv); err != nil {
		return EncryptedPayload{}, err
	}

	ct := aead.Seal(nil, iv, []byte(plaintext), nil)
	return EncryptedPayload{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Decrypt opens an EncryptedPayload. Any authentication failure is reported
// as ErrDecrypt.
func Decrypt(payload EncryptedPayload, key []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	ct, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrDecrypt)
	}
	iv, err := base64.StdEncoding.DecodeString(payload.IV)
	if err != nil || len(iv) != IVBytes {
		return "", fmt.Errorf("%w: bad iv", ErrDecrypt)
	}

	pt, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(pt), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyBytes {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrKeyImport, KeyBytes)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// GenerateAsymmetricKeyPair returns a fresh RSA-OAEP 2048 key pair.
func GenerateAsymmetricKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, rsaBits)
}

// EncryptAsymmetric seals a small payload (typically a symmetric key) with
// RSA-OAEP SHA-256.
func EncryptAsymmetric(plaintext []byte, pub *rsa.PublicKey) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
}

// DecryptAsymmetric opens an RSA-OAEP SHA-256 payload.
func DecryptAsymmetric(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RandomToken returns a hex token of the requested byte length.
func RandomToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
