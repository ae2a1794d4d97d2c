package codegen

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// ============================================================================
// Gift card redemption codes
// ============================================================================
//
// Format: XXXX-XXXX-XXXX-XXXX
//
//   - 16 symbols drawn from a 32 symbol alphabet (80 bits of entropy)
//   - 0/O and 1/I are left out so codes survive being read aloud or retyped
//   - grouping is purely cosmetic, Normalize strips and re-applies it
//
// The generator does not check uniqueness. Callers insert the code under a
// unique index and regenerate on collision.
// ============================================================================

const (
	Alphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	Length     = 16
	GroupSize  = 4
	Separator  = '-'
	codeLength = Length + Length/GroupSize - 1
)

var ErrInvalidCode = errors.New("invalid gift card code")

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generate returns a new random code.
func Generate() (string, error) {
	raw := make([]byte, Length)
	for i := range raw {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		raw[i] = Alphabet[n.Int64()]
	}
	return group(raw), nil
}

// Normalize upper-cases user input, drops separators and whitespace and
// re-groups the symbols. Input that is not a well formed code is rejected.
func Normalize(code string) (string, error) {
	raw := make([]byte, 0, Length)
	for _, r := range strings.ToUpper(code) {
		switch {
		case r == Separator || r == ' ' || r == '\t':
			continue
		case r > 127 || strings.IndexByte(Alphabet, byte(r)) < 0:
			return "", ErrInvalidCode
		}
		raw = append(raw, byte(r))
	}
	if len(raw) != Length {
		return "", ErrInvalidCode
	}
	return group(raw), nil
}

// Valid reports whether code is already in canonical form.
func Valid(code string) bool {
	if len(code) != codeLength {
		return false
	}
	normalized, err := Normalize(code)
	return err == nil && normalized == code
}

func group(raw []byte) string {
	var b strings.Builder
	b.Grow(codeLength)
	for i, c := range raw {
		if i > 0 && i%GroupSize == 0 {
			b.WriteByte(Separator)
		}
		b.WriteByte(c)
	}
	return b.String()
}
