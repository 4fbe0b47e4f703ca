package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// GenerateResetToken returns a random reset token in cleartext together with
// the sha256 form that gets persisted. The cleartext leaves the system exactly
// once, inside the reset email; only the hash is ever stored, so a leaked
// database row cannot be replayed as a token.
//
// sha256 is intentional here: the token already has 256 bits of entropy, so
// unlike a password it needs a lookup key, not a slow hash.
func GenerateResetToken() (plain string, hash string) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails if the OS entropy source is broken.
		panic("utils: reading random bytes: " + err.Error())
	}

	plain = hex.EncodeToString(buf)
	return plain, HashResetToken(plain)
}

// HashResetToken re-derives the stored lookup key from a token presented back
// by the user.
func HashResetToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
