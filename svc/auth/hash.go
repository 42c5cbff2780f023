package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

const maxPasswordLength = 1024

// Hasher produces and verifies Argon2id password hashes. Passwords are
// HMAC-peppered before hashing so a database dump alone is not crackable.
type Hasher struct {
	iterations  uint32
	memory      uint32
	parallelism uint8
	keyLength   uint32
	mu          sync.RWMutex
	pepper      []byte
}

func NewHasher(time, memory uint32, parallelism uint8, pepper []byte) (*Hasher, error) {
	if len(pepper) < 32 {
		return nil, errors.New("pepper must be at least 32 bytes")
	}
	if time == 0 || time > 100 {
		return nil, errors.New("iterations must be between 1 and 100")
	}
	if memory < 1*1024 || memory > 2*1024*1024 {
		return nil, errors.New("memory must be between 1024 and 2097152 KiB")
	}
	if parallelism == 0 || parallelism > 128 {
		return nil, errors.New("parallelism must be between 1 and 128")
	}
	pepperCopy := make([]byte, len(pepper))
	copy(pepperCopy, pepper)
	return &Hasher{
		iterations:  time,
		memory:      memory,
		parallelism: parallelism,
		keyLength:   32,
		pepper:      pepperCopy,
	}, nil
}

// Close wipes the pepper. The hasher must not be used afterwards.
func (h *Hasher) Close() {
	h.mu.Lock()
	wipe(h.pepper)
	h.mu.Unlock()
}

func (h *Hasher) Hash(password string) (string, error) {
	if len(password) > maxPasswordLength {
		return "", errors.New("password too long")
	}
	peppered := h.applyPepper(password)
	defer wipe(peppered)
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}
	hash := argon2.IDKey(peppered, salt, h.iterations, h.memory, h.parallelism, h.keyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.iterations, h.parallelism, b64Salt, b64Hash), nil
}

// Verify reports whether pwd matches the encoded hash. Malformed hashes and
// over-length passwords still burn a full argon2 computation so failures
// are not distinguishable by timing.
func (h *Hasher) Verify(pwd, encoded string) (bool, error) {
	if len(pwd) > maxPasswordLength {
		h.verifyDummy()
		return false, nil
	}
	mem, iters, threads := h.memory, h.iterations, h.parallelism
	var salt, hash []byte
	valid := true
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		valid = false
	} else if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &threads); err != nil {
		valid = false
	} else if mem > 2*1024*1024 || iters > 1000 || threads > 128 {
		valid = false
	} else {
		var err error
		if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(salt) == 0 {
			valid = false
		}
		if hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(hash) == 0 || len(hash) > 256 {
			valid = false
		}
	}
	if !valid {
		mem, iters, threads = h.memory, h.iterations, h.parallelism
		salt = make([]byte, 16)
		hash = make([]byte, 32)
	}
	defer wipe(salt)
	defer wipe(hash)
	peppered := h.applyPepper(pwd)
	defer wipe(peppered)
	other := argon2.IDKey(peppered, salt, iters, mem, threads, uint32(len(hash)))
	defer wipe(other)
	match := subtle.ConstantTimeCompare(hash, other) == 1
	return valid && match, nil
}

func (h *Hasher) verifyDummy() {
	salt := make([]byte, 16)
	peppered := h.applyPepper(strings.Repeat("x", 64))
	_ = argon2.IDKey(peppered, salt, h.iterations, h.memory, h.parallelism, h.keyLength)
	wipe(peppered)
}

func (h *Hasher) applyPepper(password string) []byte {
	h.mu.RLock()
	pepper := h.pepper
	h.mu.RUnlock()
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
