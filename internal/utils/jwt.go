package utils // package utils provides token issuing, password hashing and username generation

import (
	"crypto/sha256" // SHA‑256 digests of refresh tokens for storage
	"encoding/hex"  // hex encoding of the digest
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and verifying signed tokens
	"github.com/google/uuid"       // random token ids (jti)
)

var (
	// ErrSigningKeyMissing means the process was started without one of the
	// signing secrets.  It is a configuration fault, not a request error.
	ErrSigningKeyMissing = errors.New("jwt signing secret is not configured")
	// ErrTokenExpired is returned for a well-formed token past its exp claim.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed covers bad encoding, bad signature, wrong algorithm
	// and tokens signed with the other secret.
	ErrTokenMalformed = errors.New("token malformed")
)

// AccessToken is a signed short‑lived JWT bound to a user id.  It is sent in
// the Authorization header on protected endpoints.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken is a signed long‑lived JWT carrying no identity.  Which user
// it belongs to is decided solely by the store holding its digest.
type RefreshToken struct {
	Raw string    // raw token string returned to the client
	Exp time.Time // UTC expiration time
}

// Hash returns the digest under which the token is stored.
func (t RefreshToken) Hash() string { return HashRefreshRaw(t.Raw) }

// AccessClaims are the claims of an access token.
type AccessClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies both token classes.  The two secrets are
// independent so a leaked refresh secret cannot forge access tokens and
// vice versa.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Ready reports ErrSigningKeyMissing when either secret is unset.
func (i *TokenIssuer) Ready() error {
	if len(i.accessSecret) == 0 || len(i.refreshSecret) == 0 {
		return ErrSigningKeyMissing
	}
	return nil
}

// IssueAccessToken builds and signs an HS256 JWT for a user.
func (i *TokenIssuer) IssueAccessToken(userID string) (AccessToken, error) {
	if len(i.accessSecret) == 0 {
		return AccessToken{}, ErrSigningKeyMissing
	}
	now := i.now()
	exp := now.Add(i.accessTTL)
	claims := AccessClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.accessSecret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// IssueRefreshToken signs a token whose only claims are exp, iat and a
// random jti.  The jti keeps two tokens minted in the same second distinct.
func (i *TokenIssuer) IssueRefreshToken() (RefreshToken, error) {
	if len(i.refreshSecret) == 0 {
		return RefreshToken{}, ErrSigningKeyMissing
	}
	now := i.now()
	exp := now.Add(i.refreshTTL)
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.refreshSecret)
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: signed, Exp: exp}, nil
}

// VerifyAccessToken checks signature and expiry and returns the claims.
func (i *TokenIssuer) VerifyAccessToken(raw string) (AccessClaims, error) {
	if len(i.accessSecret) == 0 {
		return AccessClaims{}, ErrSigningKeyMissing
	}
	var claims AccessClaims
	if err := i.parse(raw, &claims, i.accessSecret); err != nil {
		return AccessClaims{}, err
	}
	if claims.UserID == "" {
		return AccessClaims{}, ErrTokenMalformed
	}
	return claims, nil
}

// VerifyRefreshToken checks signature and expiry and returns the expiry.
func (i *TokenIssuer) VerifyRefreshToken(raw string) (time.Time, error) {
	if len(i.refreshSecret) == 0 {
		return time.Time{}, ErrSigningKeyMissing
	}
	var claims jwt.RegisteredClaims
	if err := i.parse(raw, &claims, i.refreshSecret); err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}

func (i *TokenIssuer) parse(raw string, claims jwt.Claims, secret []byte) error {
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}

// HashRefreshRaw returns the SHA‑256 hash of the raw refresh token as a hex
// string.  Storing only the hash keeps a database dump from yielding usable
// refresh tokens.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
