package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// jwk is the JSON Web Key encoding used for transportable symmetric keys.
type jwk struct {
	Kty string `json:"kty"`
	K   string `json:"k"`
	Alg string `json:"alg"`
	Ext bool   `json:"ext"`
}

// ExportSymmetricKey encodes a symmetric key as a JWK string.
func ExportSymmetricKey(key []byte) (string, error) {
	if len(key) != KeyBytes {
		return "", fmt.Errorf("%w: key must be %d bytes", ErrKeyImport, KeyBytes)
	}
	out, err := json.Marshal(jwk{
		Kty: "oct",
		K:   base64.RawURLEncoding.EncodeToString(key),
		Alg: "A256GCM",
		Ext: true,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ImportSymmetricKey decodes a JWK string produced by ExportSymmetricKey.
func ImportSymmetricKey(encoded string) ([]byte, error) {
	var k jwk
	if err := json.Unmarshal([]byte(encoded), &k); err != nil {
		return nil, fmt.Errorf("%w: not a JWK", ErrKeyImport)
	}
	if k.Kty != "oct" {
		return nil, fmt.Errorf("%w: unexpected key type %q", ErrKeyImport, k.Kty)
	}
	key, err := base64.RawURLEncoding.DecodeString(k.K)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key encoding", ErrKeyImport)
	}
	if len(key) != KeyBytes {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrKeyImport, KeyBytes)
	}
	return key, nil
}

// ExportPublicKey encodes an RSA public key as base64 SPKI DER.
func ExportPublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ImportPublicKey decodes a base64 SPKI DER RSA public key.
func ImportPublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64", ErrKeyImport)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: bad SPKI", ErrKeyImport)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrKeyImport)
	}
	return pub, nil
}

// ExportPrivateKey encodes an RSA private key as base64 PKCS8 DER.
func ExportPrivateKey(priv *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ImportPrivateKey decodes a base64 PKCS8 DER RSA private key.
func ImportPrivateKey(encoded string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64", ErrKeyImport)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: bad PKCS8", ErrKeyImport)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrKeyImport)
	}
	return priv, nil
}
