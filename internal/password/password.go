// Package password wraps Argon2id hashing behind a small Hasher with
// fixed cost parameters and a precomputed dummy hash. The dummy hash
// lets login run the full verification routine when the user lookup
// misses, so "unknown email" and "wrong password" are statistically
// indistinguishable by timing.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	memoryKB    uint32 = 64 * 1024
	timeCost    uint32 = 3
	parallelism uint8  = 2
	saltLength         = 16
	keyLength   uint32 = 32

	algorithmID = "argon2id"

	// dummySecret seeds the decoy hash. Its value is irrelevant; it
	// only has to be a hash nobody's password verifies against.
	dummySecret = "authcore-dummy-credential"
)

// ErrMalformedHash reports a stored hash that is not valid PHC text.
var ErrMalformedHash = errors.New("password: malformed hash")

// Hasher hashes and verifies passwords with fixed Argon2id parameters.
type Hasher struct {
	dummy string
}

// NewHasher precomputes the dummy hash once so the timing shield does
// not pay an extra hashing round at request time.
func NewHasher() (*Hasher, error) {
	h := &Hasher{}
	dummy, err := h.Hash(dummySecret)
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

// Hash returns the PHC-encoded Argon2id hash of secret.
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(secret), salt, timeCost, memoryKB, parallelism, keyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		memoryKB,
		timeCost,
		parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches the PHC-encoded hash, in
// constant time over the derived keys.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(secret), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// DummyHash returns the precomputed decoy hash. Callers must verify
// against it (and discard the result) whenever a user lookup misses.
func (h *Hasher) DummyHash() string {
	return h.dummy
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrMalformedHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, ErrMalformedHash
	}

	var p phc
	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, ErrMalformedHash
		}
		v, err := strconv.ParseUint(kv[1], 10, 32)
		if err != nil {
			return nil, ErrMalformedHash
		}
		switch kv[0] {
		case "m":
			p.memory = uint32(v)
		case "t":
			p.time = uint32(v)
		case "p":
			if v > 255 {
				return nil, ErrMalformedHash
			}
			p.parallelism = uint8(v)
		default:
			return nil, ErrMalformedHash
		}
	}
	if p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, ErrMalformedHash
	}

	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, ErrMalformedHash
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, ErrMalformedHash
	}
	if len(p.salt) < saltLength || len(p.key) == 0 {
		return nil, ErrMalformedHash
	}

	return &p, nil
}
