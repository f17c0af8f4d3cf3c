package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// Params are the Argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultParams are used for stored credentials.
var DefaultParams = Params{Time: 1, Memory: 64 * 1024, Threads: 4}

// Hash returns an encoded Argon2id hash using DefaultParams.
func Hash(password string) (string, error) {
	return HashWith(DefaultParams, password)
}

func HashWith(p Params, password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, argonKeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", p.Memory, p.Time, p.Threads, saltB64, hashB64), nil
}

// Verify checks whether a password matches the encoded Argon2id hash. The
// cost parameters are read from the encoding.
func Verify(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	p, ok := parseParams(parts[3])
	if !ok {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	check := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}

func parseParams(raw string) (Params, bool) {
	fields := strings.Split(raw, ",")
	if len(fields) != 3 {
		return Params{}, false
	}
	values := make([]uint64, 3)
	for i, prefix := range []string{"m=", "t=", "p="} {
		v, ok := strings.CutPrefix(fields[i], prefix)
		if !ok {
			return Params{}, false
		}
		bits := 32
		if prefix == "p=" {
			bits = 8
		}
		n, err := strconv.ParseUint(v, 10, bits)
		if err != nil {
			return Params{}, false
		}
		values[i] = n
	}
	return Params{Memory: uint32(values[0]), Time: uint32(values[1]), Threads: uint8(values[2])}, true
}
