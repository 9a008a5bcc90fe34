package security

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSigner_IssueAndValidate(t *testing.T) {
	s := NewTestSigner()
	sub := Subject{ID: "u1", Email: "ana@example.com", Name: "ana_reader"}

	token, exp, err := s.IssueAccessToken(sub, 15*time.Minute)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if token == "" {
		t.Fatal("token empty")
	}
	if d := time.Until(exp); d <= 14*time.Minute || d > 15*time.Minute {
		t.Errorf("expiry in %v, want ~15m", d)
	}

	claims, err := s.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.OwnerID() != sub.ID || claims.Email != sub.Email || claims.Name != sub.Name {
		t.Errorf("claims = %+v, want subject %+v", claims, sub)
	}
	if !claims.ExpiresAt.Time.Equal(exp.Truncate(time.Second)) {
		t.Errorf("exp claim = %v, want %v", claims.ExpiresAt.Time, exp)
	}
}

func TestSigner_MissingSubject(t *testing.T) {
	if _, _, err := NewTestSigner().IssueAccessToken(Subject{}, time.Minute); err != ErrMissingSubject {
		t.Errorf("want ErrMissingSubject, got %v", err)
	}
}

func TestSigner_NonPositiveTTL(t *testing.T) {
	s := NewTestSigner()
	for _, ttl := range []time.Duration{0, -time.Second} {
		if _, _, err := s.IssueAccessToken(Subject{ID: "u1"}, ttl); err != ErrInvalidTTL {
			t.Errorf("ttl %v: want ErrInvalidTTL, got %v", ttl, err)
		}
	}
}

func TestSigner_RejectsBadTokens(t *testing.T) {
	s := NewTestSigner()
	good, _, err := s.IssueAccessToken(Subject{ID: "u1"}, time.Minute)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	other, err := NewHMACSigner([]byte(strings.Repeat("x", 32)), "test-issuer", "test-audience")
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	foreign, _, _ := other.IssueAccessToken(Subject{ID: "u1"}, time.Minute)

	wrongIss, err := NewHMACSigner([]byte(TestHMACSecret), "someone-else", "test-audience")
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	badIssuer, _, _ := wrongIss.IssueAccessToken(Subject{ID: "u1"}, time.Minute)

	wrongAud, err := NewHMACSigner([]byte(TestHMACSecret), "test-issuer", "other-api")
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	badAudience, _, _ := wrongAud.IssueAccessToken(Subject{ID: "u1"}, time.Minute)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "test-issuer",
		Audience:  jwt.ClaimStrings{"test-audience"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	i := strings.LastIndex(good, ".") + 1
	c := "A"
	if good[i] == 'A' {
		c = "B"
	}
	tampered := good[:i] + c + good[i+1:]

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "invalid-token"},
		{"tampered signature", tampered},
		{"other secret", foreign},
		{"wrong issuer", badIssuer},
		{"wrong audience", badAudience},
		{"alg none", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ValidateAccessToken(tt.token); err != ErrInvalidToken {
				t.Errorf("want ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestSigner_Expired(t *testing.T) {
	s := NewTestSigner()
	s.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := s.IssueAccessToken(Subject{ID: "u1"}, time.Minute)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := s.ValidateAccessToken(token); err != nil {
		t.Fatalf("token should be valid at issue time: %v", err)
	}
	s.now = time.Now
	if _, err := s.ValidateAccessToken(token); err != ErrInvalidToken {
		t.Errorf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestNewHMACSigner_WeakSecret(t *testing.T) {
	for _, secret := range []string{"", "short", strings.Repeat("a", MinHMACSecretLen-1)} {
		if _, err := NewHMACSigner([]byte(secret), "i", "a"); err != ErrWeakSecret {
			t.Errorf("secret len %d: want ErrWeakSecret, got %v", len(secret), err)
		}
	}
}

func TestKeySigner_RSA(t *testing.T) {
	s, err := NewTestKeySigner()
	if err != nil {
		t.Fatalf("NewTestKeySigner: %v", err)
	}
	if s.Alg() != "RS256" {
		t.Errorf("Alg = %q, want RS256", s.Alg())
	}
	token, _, err := s.IssueAccessToken(Subject{ID: "u1", Email: "e@example.com"}, time.Minute)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	claims, err := s.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.OwnerID() != "u1" {
		t.Errorf("OwnerID = %q", claims.OwnerID())
	}
	// An HS256 token forged with the public key bytes must not pass.
	forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "test-issuer",
			Audience:  jwt.ClaimStrings{"test-audience"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testPublicKeyPEM))
	if _, err := s.ValidateAccessToken(forged); err != ErrInvalidToken {
		t.Errorf("alg confusion: want ErrInvalidToken, got %v", err)
	}
}

func TestKeySigner_ECDSAAndEd25519(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	tests := []struct {
		name    string
		privPEM string
		pubPEM  string
		alg     string
	}{
		{"ES256", pkcs8PEM(t, ecKey), pkixPEM(t, &ecKey.PublicKey), "ES256"},
		{"EdDSA", pkcs8PEM(t, edPriv), pkixPEM(t, edPub), "EdDSA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			priv, err := ParsePrivateKey(tt.privPEM)
			if err != nil {
				t.Fatalf("ParsePrivateKey: %v", err)
			}
			pub, err := ParsePublicKey(tt.pubPEM)
			if err != nil {
				t.Fatalf("ParsePublicKey: %v", err)
			}
			s, err := NewKeySigner(priv, pub, "iss", "aud")
			if err != nil {
				t.Fatalf("NewKeySigner: %v", err)
			}
			if s.Alg() != tt.alg {
				t.Errorf("Alg = %q, want %q", s.Alg(), tt.alg)
			}
			token, _, err := s.IssueAccessToken(Subject{ID: "u9"}, time.Minute)
			if err != nil {
				t.Fatalf("IssueAccessToken: %v", err)
			}
			if _, err := s.ValidateAccessToken(token); err != nil {
				t.Errorf("ValidateAccessToken: %v", err)
			}
		})
	}
}

func TestNewKeySigner_Mismatch(t *testing.T) {
	priv, err := ParsePrivateKey(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := NewKeySigner(priv, &ecKey.PublicKey, "i", "a"); err != ErrKeyMismatch {
		t.Errorf("want ErrKeyMismatch, got %v", err)
	}
	if _, err := NewKeySigner(nil, nil, "i", "a"); err != ErrInvalidKey {
		t.Errorf("nil keys: want ErrInvalidKey, got %v", err)
	}
}

func pkcs8PEM(t *testing.T, key any) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func pkixPEM(t *testing.T, key any) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}
