// Package secrets generates and hashes the short-lived credentials the
// engine hands out: numeric OTPs and opaque refresh tokens. OTPs and
// refresh tokens are hashed with SHA-256 before storage; they are
// high-entropy (or rate-limited and short-lived), so a slow KDF buys
// nothing here; Argon2id is reserved for passwords.
package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/coverdesk/authcore/internal/ids"
	"github.com/google/uuid"
)

const (
	// OTPLength is the number of digits in every emailed code.
	OTPLength = 6

	refreshTokenBytes = 32
)

var otpDigit = big.NewInt(10)

// NewOTP returns a numeric code with each digit drawn uniformly from
// the CSPRNG.
func NewOTP() (string, error) {
	var b strings.Builder
	b.Grow(OTPLength)

	for i := 0; i < OTPLength; i++ {
		n, err := rand.Int(rand.Reader, otpDigit)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// HashOTP returns the hex SHA-256 digest stored in place of the code.
func HashOTP(otp string) string {
	sum := sha256.Sum256([]byte(otp))
	return hex.EncodeToString(sum[:])
}

// NewRefreshToken returns a 256-bit random token as hex. The raw value
// is handed to the caller exactly once and never persisted.
func NewRefreshToken() (string, error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// HashRefreshToken maps a raw refresh token to its storage/lookup key.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewFamilyID returns a fresh rotation-lineage identifier.
func NewFamilyID() string {
	return uuid.NewString()
}

// NewJTI returns a unique access-token identifier.
func NewJTI() string {
	return uuid.NewString()
}

// DecoyIDs derives a deterministic (userID, organizationID) pair from
// an email address, keyed with a server-side pepper. Registration
// returns these when the email already exists: the same email always
// yields the same pair, so duplicate registrations look idempotent,
// while the pepper keeps the ids unguessable offline.
func DecoyIDs(pepper, email string) (userID, orgID string, err error) {
	if pepper == "" {
		return "", "", errors.New("secrets: decoy pepper must not be empty")
	}

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(strings.ToLower(email)))
	sum := mac.Sum(nil)

	var u, o [16]byte
	copy(u[:], sum[:16])
	copy(o[:], sum[16:])
	return ids.FromBytes(u), ids.FromBytes(o), nil
}
