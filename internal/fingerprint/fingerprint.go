// Package fingerprint holds the fixed-width video fingerprint and the logic
// used to compare two of them.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"math/bits"
	"strings"

	"github.com/keagan/videohash/internal/errs"
)

// WordBits is the granularity of a fingerprint.
const WordBits = 64

// Fingerprint is an exact-width bit vector. Word 0 holds the most
// significant bits.
type Fingerprint struct {
	words []uint64
	width int
}

// New builds a fingerprint from words. Width is len(words)*64.
func New(words []uint64) (Fingerprint, error) {
	if len(words) == 0 {
		return Fingerprint{}, errs.Configf("fingerprint", "no words")
	}
	w := make([]uint64, len(words))
	copy(w, words)
	return Fingerprint{words: w, width: len(w) * WordBits}, nil
}

// Width returns the number of bits.
func (f Fingerprint) Width() int { return f.width }

// IsZero reports whether f is the zero value rather than a computed fingerprint.
func (f Fingerprint) IsZero() bool { return f.width == 0 }

// Words returns a copy of the underlying words.
func (f Fingerprint) Words() []uint64 {
	w := make([]uint64, len(f.words))
	copy(w, f.words)
	return w
}

// Bit returns bit i, counting from the most significant bit of word 0.
func (f Fingerprint) Bit(i int) bool {
	return f.words[i/WordBits]>>(WordBits-1-i%WordBits)&1 == 1
}

// Equal reports bitwise equality.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.width != o.width {
		return false
	}
	for i := range f.words {
		if f.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// Hex returns the canonical lowercase hex form, width/4 characters long.
func (f Fingerprint) Hex() string {
	var b strings.Builder
	b.Grow(f.width / 4)
	for _, w := range f.words {
		fmt.Fprintf(&b, "%016x", w)
	}
	return b.String()
}

func (f Fingerprint) String() string { return f.Hex() }

// BitString renders the fingerprint as "0b" followed by every bit.
func (f Fingerprint) BitString() string {
	var b strings.Builder
	b.Grow(2 + f.width)
	b.WriteString("0b")
	for _, w := range f.words {
		fmt.Fprintf(&b, "%064b", w)
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	p, err := Parse(string(text))
	if err != nil {
		return err
	}
	*f = p
	return nil
}

// Parse reads a hex fingerprint and infers its width from the length.
func Parse(s string) (Fingerprint, error) {
	if len(s) == 0 || len(s)%(WordBits/4) != 0 {
		return Fingerprint{}, errs.Malformedf("parse", "length %d is not a positive multiple of %d", len(s), WordBits/4)
	}
	return decode(s)
}

// ParseWidth reads a hex fingerprint that must be exactly width bits wide.
func ParseWidth(s string, width int) (Fingerprint, error) {
	if width <= 0 || width%WordBits != 0 {
		return Fingerprint{}, errs.Configf("parse", "width %d is not a positive multiple of %d", width, WordBits)
	}
	if len(s) != width/4 {
		return Fingerprint{}, errs.Malformedf("parse", "expected %d hex characters, got %d", width/4, len(s))
	}
	return decode(s)
}

func decode(s string) (Fingerprint, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, errs.New(errs.ErrMalformedFingerprint, "parse", errs.NoFrame, err, "")
	}
	words := make([]uint64, len(raw)/8)
	for i := range words {
		for _, c := range raw[i*8 : i*8+8] {
			words[i] = words[i]<<8 | uint64(c)
		}
	}
	return Fingerprint{words: words, width: len(words) * WordBits}, nil
}

// popcount of a XOR b, both of the same width.
func hamming(a, b Fingerprint) int {
	d := 0
	for i := range a.words {
		d += bits.OnesCount64(a.words[i] ^ b.words[i])
	}
	return d
}
