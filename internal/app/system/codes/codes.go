// Package codes generates the short human-typed codes used for email
// verification, password reset and classroom joining.
package codes

import (
	"crypto/rand"
	"math/big"
)

// Alphabet excludes "O" and "0" so codes read back unambiguously.
const Alphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"

// Length of verification and reset codes.
const Length = 4

// JoinLength is the length of classroom join codes.
const JoinLength = 6

// Generate returns a random code of n characters from Alphabet.
// Panics if the system's cryptographic random number generator fails.
func Generate(n int) string {
	size := big.NewInt(int64(len(Alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			panic("crypto/rand.Int failed: " + err.Error())
		}
		b[i] = Alphabet[idx.Int64()]
	}
	return string(b)
}

// Verification returns a new email verification or password reset code.
func Verification() string { return Generate(Length) }

// Join returns a new classroom join code.
func Join() string { return Generate(JoinLength) }
