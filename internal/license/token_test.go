package license

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func issueTestToken(t *testing.T, key *rsa.PrivateKey, email string, tier Tier, expiration time.Time, deviceID string) string {
	t.Helper()
	encoded, err := Issue(key, email, tier, expiration, []string{"timeline"}, deviceID)
	require.NoError(t, err)
	return encoded
}

func TestIssueAndDecodeRoundTrip(t *testing.T) {
	key := testKey(t)
	expiration := time.Now().Add(30 * 24 * time.Hour)

	encoded := issueTestToken(t, key, "analyst@example.com", TierProfessional, expiration, "device-1")

	token, err := DecodeToken(encoded)
	require.NoError(t, err)
	assert.Equal(t, "analyst@example.com", token.Email)
	assert.Equal(t, TierProfessional, token.Type)
	assert.Equal(t, "device-1", token.DeviceID)
	assert.Equal(t, encoded, token.LicenseKey, "licenseKey field carries the encoded token")
	assert.NoError(t, VerifySignature(token, &key.PublicKey))
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"base64 but not json", base64.StdEncoding.EncodeToString([]byte("hello"))},
		{"json missing fields", base64.StdEncoding.EncodeToString([]byte(`{"email":""}`))},
		{"empty string", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeToken(tt.encoded)
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestVerifySignatureWrongKey(t *testing.T) {
	key := testKey(t)
	other := testKey(t)

	encoded := issueTestToken(t, key, "a@example.com", TierBasic, time.Now().Add(time.Hour), "device-1")
	token, err := DecodeToken(encoded)
	require.NoError(t, err)

	assert.ErrorIs(t, VerifySignature(token, &other.PublicKey), ErrInvalidSignature)
}

// Mutating any signed field must invalidate the signature.
func TestTamperSensitivity(t *testing.T) {
	key := testKey(t)
	encoded := issueTestToken(t, key, "a@example.com", TierBasic, time.Now().Add(time.Hour), "device-1")

	original, err := DecodeToken(encoded)
	require.NoError(t, err)

	mutations := map[string]func(*Token){
		"email":          func(tok *Token) { tok.Email = "b@example.com" },
		"type":           func(tok *Token) { tok.Type = TierEnterprise },
		"expirationDate": func(tok *Token) { tok.ExpirationDate = time.Now().Add(8760 * time.Hour).UTC().Format(time.RFC3339) },
		"features":       func(tok *Token) { tok.Features = append(tok.Features, "team_sharing") },
		"deviceId":       func(tok *Token) { tok.DeviceID = "device-2" },
		"issuedAt":       func(tok *Token) { tok.IssuedAt = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339) },
	}

	for field, mutate := range mutations {
		t.Run(field, func(t *testing.T) {
			tampered := *original
			tampered.Features = append([]string(nil), original.Features...)
			mutate(&tampered)

			assert.ErrorIs(t, VerifySignature(&tampered, &key.PublicKey), ErrInvalidSignature,
				"mutating %s must break the signature", field)
		})
	}
}

func TestSignatureCoversCanonicalFieldOrder(t *testing.T) {
	key := testKey(t)
	encoded := issueTestToken(t, key, "a@example.com", TierBasic, time.Now().Add(time.Hour), "device-1")

	token, err := DecodeToken(encoded)
	require.NoError(t, err)

	// Re-encoding with unchanged signed fields keeps the signature valid
	// even when unsigned fields change.
	token.LicenseKey = "something-else"
	reencoded, err := EncodeToken(token)
	require.NoError(t, err)

	reparsed, err := DecodeToken(reencoded)
	require.NoError(t, err)
	assert.NoError(t, VerifySignature(reparsed, &key.PublicKey))
}

func TestIssueValidation(t *testing.T) {
	key := testKey(t)

	_, err := Issue(nil, "a@example.com", TierBasic, time.Now(), nil, "d")
	assert.Error(t, err)

	_, err = Issue(key, "", TierBasic, time.Now(), nil, "d")
	assert.Error(t, err)

	_, err = Issue(key, "a@example.com", Tier("platinum"), time.Now(), nil, "d")
	assert.Error(t, err)
}

func TestDefaultPublicKeyParses(t *testing.T) {
	assert.NotPanics(t, func() {
		key := DefaultPublicKey()
		assert.NotNil(t, key)
	})
}

func TestTokenJSONShape(t *testing.T) {
	key := testKey(t)
	encoded := issueTestToken(t, key, "a@example.com", TierBasic, time.Now().Add(time.Hour), "device-1")

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, name := range []string{"email", "licenseKey", "type", "expirationDate", "features", "deviceId", "issuedAt", "signature"} {
		assert.Contains(t, fields, name)
	}
}
