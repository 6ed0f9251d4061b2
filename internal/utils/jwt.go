package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nammalwarsai/skill3-cie/internal/model"
)

// ErrInvalidToken is returned when an access token fails verification.
var ErrInvalidToken = errors.New("invalid token")

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents a long-lived opaque token used to obtain new
// access tokens. Only a SHA-256 hash of Raw is ever persisted.
type RefreshToken struct {
	Raw string    // raw token string returned to the client
	Exp time.Time // UTC expiration time
}

// NewAccessToken builds and signs an HS256 JWT whose subject is the
// username and whose "role" claim is PATIENT or DOCTOR.
func NewAccessToken(secret, username, role string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  username,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies signature and expiry and returns the principal
// named by the token. Tokens signed with anything but HMAC are rejected.
func ParseAccessToken(secret, raw string) (model.Principal, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return model.Principal{}, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return model.Principal{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || (role != model.RolePatient && role != model.RoleDoctor) {
		return model.Principal{}, ErrInvalidToken
	}
	return model.Principal{Username: sub, Role: role}, nil
}

// NewRefreshToken returns a cryptographically secure random token and its
// expiration time.
func NewRefreshToken(ttl time.Duration) (RefreshToken, error) {
	raw, err := randomHex(48) // 48 bytes -> 96 hex chars
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: raw, Exp: time.Now().UTC().Add(ttl)}, nil
}

// HashRefreshRaw returns the SHA-256 hash of the raw refresh token as hex.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
