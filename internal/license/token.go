// Package license implements license token verification, tier-based
// feature gating, and encrypted on-device license storage with an offline
// grace-period state machine.
package license

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Token is the decoded license token. Tokens travel as base64-encoded JSON
// with an RSA-SHA256 signature over the canonical field concatenation.
type Token struct {
	Email          string   `json:"email"`
	LicenseKey     string   `json:"licenseKey"`
	Type           Tier     `json:"type"`
	ExpirationDate string   `json:"expirationDate"`
	Features       []string `json:"features"`
	DeviceID       string   `json:"deviceId"`
	IssuedAt       string   `json:"issuedAt"`
	Signature      string   `json:"signature"`
}

// Expiration parses the token's expiration timestamp.
func (t *Token) Expiration() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, t.ExpirationDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiration date: %w", err)
	}
	return ts, nil
}

// signedPayload builds the canonical field order covered by the signature:
// email|type|expirationDate|features.join(',')|deviceId|issuedAt
func (t *Token) signedPayload() []byte {
	return []byte(strings.Join([]string{
		t.Email,
		string(t.Type),
		t.ExpirationDate,
		strings.Join(t.Features, ","),
		t.DeviceID,
		t.IssuedAt,
	}, "|"))
}

// DecodeToken parses a base64-encoded license token string.
func DecodeToken(encoded string) (*Token, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	var token Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if token.Email == "" || token.ExpirationDate == "" || token.Signature == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrInvalidFormat)
	}
	return &token, nil
}

// EncodeToken serializes a token back to its base64 wire form.
func EncodeToken(token *Token) (string, error) {
	raw, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("marshal token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// VerifySignature checks the token's RSA-SHA256 signature against the
// given public key.
func VerifySignature(token *Token, publicKey *rsa.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(token.Signature)
	if err != nil {
		return fmt.Errorf("%w: undecodable signature", ErrInvalidSignature)
	}

	digest := sha256.Sum256(token.signedPayload())
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// Issue creates a signed license token. This is the operator/server side
// of the protocol; the client only verifies, but the scheme must stay
// symmetric with VerifySignature.
func Issue(privateKey *rsa.PrivateKey, email string, tier Tier, expiration time.Time, features []string, deviceID string) (string, error) {
	if privateKey == nil {
		return "", errors.New("private key is required")
	}
	if email == "" {
		return "", errors.New("email is required")
	}
	if !tier.IsValid() {
		return "", fmt.Errorf("invalid license tier: %s", tier)
	}

	token := &Token{
		Email:          email,
		Type:           tier,
		ExpirationDate: expiration.UTC().Format(time.RFC3339),
		Features:       features,
		DeviceID:       deviceID,
		IssuedAt:       time.Now().UTC().Format(time.RFC3339),
	}

	digest := sha256.Sum256(token.signedPayload())
	sig, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	token.Signature = base64.StdEncoding.EncodeToString(sig)

	encoded, err := EncodeToken(token)
	if err != nil {
		return "", err
	}
	// The token string is self-referential: the licenseKey field carries
	// the encoded token itself. Re-encode once with the field set.
	token.LicenseKey = encoded
	return EncodeToken(token)
}

// defaultPublicKeyPEM verifies production license tokens.
const defaultPublicKeyPEM = `-----BEGIN PUBLIC KEY-----
MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEAqbe0lm91nbyr8SYxtB7D
6lUccZJ8s0cUGHV2YgNtC+QBDYP7oPixgOU1x9zmx4eWRTJCLr0mUs0jp3q5H/3Y
I7knY4ZPakgyV9ASJGqgJczk0C354Uj0/BA8sMcVG3VXrktMd8LC8gPDN7ahmcoB
igEJ1qqsWPmKcLAjIXAWQguiqRCTFrIxGMZ9Myph6kpH1PZYK5BrUuRy9bjyjocL
SZ3UWJ0wYokAqD6rvgAOy8N4kx5efgOSFYKjmwNBmAqlTBzt2gz5+BsU5eWp3O3l
YjNwwShK0MepGzYIojVAgPoYiehO7qAkicuCTWkUtF/ABcagZZhyh6C1fZDs5DWr
kQIDAQAB
-----END PUBLIC KEY-----`

// DefaultPublicKey returns the embedded verification key.
func DefaultPublicKey() *rsa.PublicKey {
	key, err := ParsePublicKeyPEM(defaultPublicKeyPEM)
	if err != nil {
		// The embedded key is validated at build time; this is unreachable
		// with a correct binary.
		panic(fmt.Sprintf("embedded license public key invalid: %v", err))
	}
	return key
}

// ParsePublicKeyPEM parses a PEM-encoded RSA public key.
func ParsePublicKeyPEM(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}

// ParsePrivateKeyPEM parses a PEM-encoded RSA private key (PKCS#1 or
// PKCS#8). Used by the operator-side issue tooling.
func ParsePrivateKeyPEM(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}
