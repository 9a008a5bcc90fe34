package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinHMACSecretLen is the shortest HS256 secret NewHMACSigner accepts.
const MinHMACSecretLen = 32

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed or expired.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWeakSecret is returned when the HMAC secret is shorter than MinHMACSecretLen.
	ErrWeakSecret = errors.New("signing secret must be at least 32 bytes")
	// ErrKeyMismatch is returned when the configured public key does not belong to the private key.
	ErrKeyMismatch = errors.New("public key does not match private key")
	// ErrMissingSubject is returned when an access token is requested without an owner id.
	ErrMissingSubject = errors.New("access token subject is required")
	// ErrInvalidTTL is returned when an access token is requested with a non-positive lifetime.
	ErrInvalidTTL = errors.New("access token ttl must be positive")
)

// Subject is the identity an access token is issued for.
type Subject struct {
	ID    string
	Email string
	Name  string
}

// AccessClaims holds JWT claims for the access token. The owner id travels in sub.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// OwnerID returns the identity id carried by the token.
func (c *AccessClaims) OwnerID() string { return c.Subject }

// Signer issues and validates access tokens. It signs with HS256 over a shared secret,
// or with RS256/ES256/EdDSA when built from a key pair. Safe for concurrent use.
type Signer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	audience  string
	now       func() time.Time
}

// NewHMACSigner returns a Signer using HS256 with secret.
func NewHMACSigner(secret []byte, issuer, audience string) (*Signer, error) {
	if len(secret) < MinHMACSecretLen {
		return nil, ErrWeakSecret
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Signer{
		method:    jwt.SigningMethodHS256,
		signKey:   key,
		verifyKey: key,
		issuer:    issuer,
		audience:  audience,
		now:       time.Now,
	}, nil
}

// NewKeySigner returns a Signer that signs with privateKey and verifies with publicKey.
// The algorithm is derived from the key type (see KeyAlg).
func NewKeySigner(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string) (*Signer, error) {
	if privateKey == nil || publicKey == nil {
		return nil, ErrInvalidKey
	}
	alg := KeyAlg(publicKey)
	if alg == "" {
		return nil, ErrInvalidKey
	}
	if eq, ok := privateKey.Public().(interface{ Equal(crypto.PublicKey) bool }); !ok || !eq.Equal(publicKey) {
		return nil, ErrKeyMismatch
	}
	return &Signer{
		method:    jwt.GetSigningMethod(alg),
		signKey:   privateKey,
		verifyKey: publicKey,
		issuer:    issuer,
		audience:  audience,
		now:       time.Now,
	}, nil
}

// Alg returns the JWS algorithm name the signer uses.
func (s *Signer) Alg() string { return s.method.Alg() }

// IssueAccessToken signs an access token for sub that expires ttl from now and returns it with its expiry.
func (s *Signer) IssueAccessToken(sub Subject, ttl time.Duration) (token string, expiresAt time.Time, err error) {
	if sub.ID == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	if ttl <= 0 {
		return "", time.Time{}, ErrInvalidTTL
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now().UTC()
	expiresAt = now.Add(ttl)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.ID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: sub.Email,
		Name:  sub.Name,
	}
	token, err = jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ValidateAccessToken checks signature, algorithm, expiry, issuer and audience.
// Every failure is reported as ErrInvalidToken.
func (s *Signer) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &AccessClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.verifyKey, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
