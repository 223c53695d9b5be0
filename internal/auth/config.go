package auth

import (
	"errors"
	"time"
)

// Config tunes the engine. Construct with DefaultConfig, override, and
// let New run Validate; a rejected config means a misconfigured
// deployment and should stop the process.
type Config struct {
	Registration RegistrationConfig
	Verification VerificationConfig
	Login        LoginConfig
	Refresh      RefreshConfig
	Reset        ResetConfig
}

// RegistrationConfig covers tenant/user creation.
type RegistrationConfig struct {
	// OwnerRoleName is the seeded system role assigned to the first
	// user of a new organization.
	OwnerRoleName string
	// SlugMaxAttempts bounds the -1, -2, ... collision suffix loop.
	SlugMaxAttempts int
	// DecoyPepper keys the deterministic fake ids returned when the
	// email is already registered. Must be secret and stable across
	// restarts, or duplicate registrations stop looking idempotent.
	DecoyPepper string
}

// VerificationConfig covers the emailed email-verification OTP.
type VerificationConfig struct {
	OtpTTL      time.Duration
	MaxAttempts int
}

// LoginConfig covers credential checks and OTP step-up.
type LoginConfig struct {
	// OtpThreshold is the failed-login count that trips the sticky
	// requires-OTP flag.
	OtpThreshold int
	OtpTTL       time.Duration
}

// RefreshConfig covers rotation and reuse detection.
type RefreshConfig struct {
	TokenTTL time.Duration
	// ReuseGraceWindow absorbs a client retrying a dropped refresh
	// response: a second presentation of a just-used token inside the
	// window rotates normally instead of tripping reuse detection.
	ReuseGraceWindow time.Duration
	// MaxFamilyGenerations caps a family's chain length; the rotation
	// after the cap starts generation 1 of a fresh family rather than
	// forcing re-authentication.
	MaxFamilyGenerations int
}

// ResetConfig covers the forgot/reset password OTP.
type ResetConfig struct {
	OtpTTL       time.Duration
	MaxAttempts  int
	SendCooldown time.Duration
}

// DefaultConfig returns production-shaped defaults. DecoyPepper has no
// default on purpose.
func DefaultConfig() Config {
	return Config{
		Registration: RegistrationConfig{
			OwnerRoleName:   "owner",
			SlugMaxAttempts: 25,
		},
		Verification: VerificationConfig{
			OtpTTL:      10 * time.Minute,
			MaxAttempts: 5,
		},
		Login: LoginConfig{
			OtpThreshold: 5,
			OtpTTL:       5 * time.Minute,
		},
		Refresh: RefreshConfig{
			TokenTTL:             30 * 24 * time.Hour,
			ReuseGraceWindow:     10 * time.Second,
			MaxFamilyGenerations: 100,
		},
		Reset: ResetConfig{
			OtpTTL:       10 * time.Minute,
			MaxAttempts:  5,
			SendCooldown: time.Minute,
		},
	}
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	if c.Registration.OwnerRoleName == "" {
		return errors.New("Registration OwnerRoleName is required")
	}
	if c.Registration.SlugMaxAttempts <= 0 {
		return errors.New("Registration SlugMaxAttempts must be > 0")
	}
	if c.Registration.DecoyPepper == "" {
		return errors.New("Registration DecoyPepper is required")
	}
	if c.Verification.OtpTTL <= 0 || c.Verification.OtpTTL > time.Hour {
		return errors.New("Verification OtpTTL must be in (0, 1h]")
	}
	if c.Verification.MaxAttempts <= 0 || c.Verification.MaxAttempts > 10 {
		return errors.New("Verification MaxAttempts must be in [1, 10]")
	}
	if c.Login.OtpThreshold <= 0 {
		return errors.New("Login OtpThreshold must be > 0")
	}
	if c.Login.OtpTTL <= 0 || c.Login.OtpTTL > 30*time.Minute {
		return errors.New("Login OtpTTL must be in (0, 30m]")
	}
	if c.Refresh.TokenTTL <= 0 {
		return errors.New("Refresh TokenTTL must be > 0")
	}
	if c.Refresh.ReuseGraceWindow <= 0 || c.Refresh.ReuseGraceWindow > time.Minute {
		return errors.New("Refresh ReuseGraceWindow must be in (0, 1m]")
	}
	if c.Refresh.MaxFamilyGenerations < 2 {
		return errors.New("Refresh MaxFamilyGenerations must be >= 2")
	}
	if c.Reset.OtpTTL <= 0 || c.Reset.OtpTTL > time.Hour {
		return errors.New("Reset OtpTTL must be in (0, 1h]")
	}
	if c.Reset.MaxAttempts <= 0 || c.Reset.MaxAttempts > 10 {
		return errors.New("Reset MaxAttempts must be in [1, 10]")
	}
	if c.Reset.SendCooldown < 0 {
		return errors.New("Reset SendCooldown must be >= 0")
	}
	return nil
}
