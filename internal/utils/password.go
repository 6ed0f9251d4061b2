package utils

import "golang.org/x/crypto/bcrypt"

// MaxPasswordBytes is bcrypt's input limit; longer passwords are rejected
// rather than silently truncated.
const MaxPasswordBytes = 72

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
