package services

import (
	"fusionchat/internal/crypto"
	"fusionchat/internal/models"
)

// SymmetricCipher implements MessageCipher over an AES-GCM-256 key.
type SymmetricCipher struct {
	key []byte
}

func NewSymmetricCipher(key []byte) *SymmetricCipher {
	return &SymmetricCipher{key: key}
}

func (c *SymmetricCipher) EncryptText(plaintext string) (models.EncryptedContent, error) {
	payload, err := crypto.Encrypt(plaintext, c.key)
	if err != nil {
		return models.EncryptedContent{}, err
	}
	return models.EncryptedContent{Ciphertext: payload.Ciphertext, IV: payload.IV}, nil
}

func (c *SymmetricCipher) DecryptText(content models.EncryptedContent) (string, error) {
	return crypto.Decrypt(crypto.EncryptedPayload{Ciphertext: content.Ciphertext, IV: content.IV}, c.key)
}
