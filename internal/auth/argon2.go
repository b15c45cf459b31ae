package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id hashes come from imported accounts. New passwords use bcrypt.

var (
	// ErrInvalidHash indicates a PHC string that does not parse.
	ErrInvalidHash = errors.New("invalid hash format")
	// ErrIncompatibleVersion indicates an argon2 version other than 0x13.
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	// ErrHashTooExpensive indicates parameters above what login may spend.
	ErrHashTooExpensive = errors.New("argon2 parameters exceed limits")
)

const argon2Prefix = "$argon2id$"

// Upper bounds for imported hashes. A stored hash must not be able to make a
// single login allocate gigabytes or spin for seconds.
const (
	maxArgon2Memory  = 256 * 1024 // KiB
	maxArgon2Time    = 10
	maxArgon2Threads = 16
	maxArgon2KeyLen  = 64
)

// Argon2Params are the cost parameters of an Argon2id hash.
type Argon2Params struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultArgon2Params is the OWASP baseline used by HashArgon2.
var DefaultArgon2Params = Argon2Params{Memory: 64 * 1024, Time: 3, Threads: 4, KeyLen: 32, SaltLen: 16}

type argon2Hash struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

// HashArgon2 encodes password as an Argon2id PHC string with the default
// parameters. Import tooling and tests use it to produce fixtures.
func HashArgon2(password string) (string, error) {
	p := DefaultArgon2Params
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	h := argon2Hash{
		params: p,
		salt:   salt,
		key:    argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen),
	}
	return h.encode(), nil
}

// IsArgon2Hash reports whether the encoded hash is an Argon2id PHC string.
func IsArgon2Hash(encoded string) bool {
	return strings.HasPrefix(encoded, argon2Prefix)
}

// VerifyArgon2 checks password against an Argon2id PHC string in constant
// time. A wrong password is (false, nil); errors mean the hash is unusable.
func VerifyArgon2(password, encoded string) (bool, error) {
	h, err := parseArgon2(encoded)
	if err != nil {
		return false, err
	}

	p := h.params
	computed := argon2.IDKey([]byte(password), h.salt, p.Time, p.Memory, p.Threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(computed, h.key) == 1, nil
}

func (h argon2Hash) encode() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key),
	)
}

// parseArgon2 reads $argon2id$v=19$m=<KiB>,t=<iter>,p=<threads>$<salt>$<key>.
func parseArgon2(encoded string) (argon2Hash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return argon2Hash{}, ErrInvalidHash
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return argon2Hash{}, ErrInvalidHash
	}
	if v, err := strconv.Atoi(version); err != nil {
		return argon2Hash{}, ErrInvalidHash
	} else if v != argon2.Version {
		return argon2Hash{}, ErrIncompatibleVersion
	}

	params, err := parseArgon2Params(parts[3])
	if err != nil {
		return argon2Hash{}, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return argon2Hash{}, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return argon2Hash{}, ErrInvalidHash
	}
	if len(key) > maxArgon2KeyLen {
		return argon2Hash{}, ErrHashTooExpensive
	}

	params.KeyLen = uint32(len(key))
	params.SaltLen = len(salt)
	return argon2Hash{params: params, salt: salt, key: key}, nil
}

func parseArgon2Params(field string) (Argon2Params, error) {
	var p Argon2Params
	seen := 0
	for _, kv := range strings.Split(field, ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return Argon2Params{}, ErrInvalidHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil || n == 0 {
			return Argon2Params{}, ErrInvalidHash
		}
		switch name {
		case "m":
			if n > maxArgon2Memory {
				return Argon2Params{}, ErrHashTooExpensive
			}
			p.Memory = uint32(n)
		case "t":
			if n > maxArgon2Time {
				return Argon2Params{}, ErrHashTooExpensive
			}
			p.Time = uint32(n)
		case "p":
			if n > maxArgon2Threads {
				return Argon2Params{}, ErrHashTooExpensive
			}
			p.Threads = uint8(n)
		default:
			return Argon2Params{}, ErrInvalidHash
		}
		seen++
	}
	if seen != 3 || p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return Argon2Params{}, ErrInvalidHash
	}
	return p, nil
}
