package util

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/plaid/plaid-go/v41/plaid"
)

func signedWebhook(t *testing.T, key *ecdsa.PrivateKey, kid string, iat time.Time, body []byte) string {
	t.Helper()
	sum := sha256.Sum256(body)
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iat":                 iat.Unix(),
		"request_body_sha256": hex.EncodeToString(sum[:]),
	})
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func publicJWK(key *ecdsa.PrivateKey, kid string) *plaid.JWKPublicKey {
	x := key.PublicKey.X.FillBytes(make([]byte, 32))
	y := key.PublicKey.Y.FillBytes(make([]byte, 32))
	return &plaid.JWKPublicKey{
		Kid: kid,
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(x),
		Y:   base64.RawURLEncoding.EncodeToString(y),
	}
}

func TestWebhookVerifier(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	other, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"webhook_type":"TRANSFER","webhook_code":"TRANSFER_EVENTS_UPDATE"}`)

	fetches := 0
	v := NewWebhookVerifier(func(ctx context.Context, kid string) (*plaid.JWKPublicKey, error) {
		fetches++
		return publicJWK(key, kid), nil
	})
	v.now = func() time.Time { return now }

	testCases := []struct {
		name    string
		token   string
		body    []byte
		wantErr bool
	}{
		{"valid", signedWebhook(t, key, "k1", now.Add(-time.Minute), body), body, false},
		{"tampered body", signedWebhook(t, key, "k1", now, body), []byte(`{}`), true},
		{"stale", signedWebhook(t, key, "k1", now.Add(-10*time.Minute), body), body, true},
		{"wrong key", signedWebhook(t, other, "k1", now, body), body, true},
		{"missing header", "", body, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.token != "" {
				header.Set("Plaid-Verification", tc.token)
			}
			err := v.Verify(context.Background(), tc.body, header)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Verify: %v", err)
			}
		})
	}

	if fetches != 1 {
		t.Fatalf("key fetched %d times, want 1", fetches)
	}
}
