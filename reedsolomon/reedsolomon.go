package reedsolomon

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sonictext/galois"
)

var (
	ErrUncorrectable   = errors.New("reedsolomon: codeword is uncorrectable")
	ErrCodewordTooLong = errors.New("reedsolomon: codeword longer than 255 bytes")
	ErrParity          = errors.New("reedsolomon: parity count must be even and between 2 and 254")
)

// Codec is a byte-oriented Reed-Solomon encoder/decoder with a fixed number of parity bytes.
// parity = 2 * correctable errors. A Codec is immutable after New and safe for concurrent use.
type Codec struct {
	gf      *galois.Tables
	parity  int
	genPoly []byte
}

// Result describes what the decoder had to do to a codeword.
type Result struct {
	SyndromeNonzero bool
	Corrected       int
}

func New(gf *galois.Tables, parity int) (*Codec, error) {
	if parity < 2 || parity > galois.FieldSize-2 || parity%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrParity, parity)
	}
	if gf == nil {
		gf = galois.Default
	}
	c := &Codec{gf: gf, parity: parity}
	c.genPoly = c.generatorPoly()
	return c, nil
}

// ForErrorBudget builds a codec able to correct errorBudget byte errors.
func ForErrorBudget(gf *galois.Tables, errorBudget int) (*Codec, error) {
	return New(gf, 2*errorBudget)
}

func (c *Codec) Parity() int {
	return c.parity
}

// MaxPayload is the longest payload that still fits a 255 byte codeword.
func (c *Codec) MaxPayload() int {
	return galois.FieldSize - 1 - c.parity
}

// generatorPoly multiplies (x + a^i) for i = 1..parity. Coefficients are lowest degree first.
func (c *Codec) generatorPoly() []byte {
	gen := make([]byte, c.parity+1)
	gen[0] = 1
	for i := 1; i <= c.parity; i++ {
		root := c.gf.Alpha(i)
		for j := i; j > 0; j-- {
			gen[j] = gen[j-1] ^ c.gf.Mul(gen[j], root)
		}
		gen[0] = c.gf.Mul(gen[0], root)
	}
	return gen
}

// Encode runs the payload through an LFSR built from the generator polynomial and returns
// payload ++ parity, with the parity register emitted highest stage first.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	if len(payload)+c.parity > galois.FieldSize-1 {
		return nil, fmt.Errorf("%w: payload %d + parity %d", ErrCodewordTooLong, len(payload), c.parity)
	}

	lfsr := make([]byte, c.parity)
	for _, b := range payload {
		feedback := b ^ lfsr[c.parity-1]
		for j := c.parity - 1; j > 0; j-- {
			lfsr[j] = lfsr[j-1] ^ c.gf.Mul(c.genPoly[j], feedback)
		}
		lfsr[0] = c.gf.Mul(c.genPoly[0], feedback)
	}

	codeword := make([]byte, len(payload), len(payload)+c.parity)
	copy(codeword, payload)
	for i := c.parity - 1; i >= 0; i-- {
		codeword = append(codeword, lfsr[i])
	}
	return codeword, nil
}

// Syndromes evaluates the codeword polynomial at a^1..a^parity using Horner's rule.
func (c *Codec) Syndromes(codeword []byte) []byte {
	syn := make([]byte, c.parity)
	for j := 0; j < c.parity; j++ {
		root := c.gf.Alpha(j + 1)
		var sum byte
		for _, b := range codeword {
			sum = b ^ c.gf.Mul(root, sum)
		}
		syn[j] = sum
	}
	return syn
}

func nonzero(poly []byte) bool {
	for _, v := range poly {
		if v != 0 {
			return true
		}
	}
	return false
}

// Decode repairs a copy of codeword and returns it. erasures are known-bad byte indexes
// into the codeword and may be nil. The input slice is never modified.
func (c *Codec) Decode(codeword []byte, erasures []int) ([]byte, Result, error) {
	var res Result
	n := len(codeword)
	if n > galois.FieldSize-1 {
		return nil, res, ErrCodewordTooLong
	}
	if n < c.parity {
		return nil, res, fmt.Errorf("%w: codeword of %d bytes is shorter than its parity", ErrUncorrectable, n)
	}
	if len(erasures) > c.parity {
		return nil, res, fmt.Errorf("%w: %d erasures exceed %d parity bytes", ErrUncorrectable, len(erasures), c.parity)
	}

	erasureLocs := make([]int, 0, len(erasures))
	for _, idx := range erasures {
		if idx < 0 || idx >= n {
			return nil, res, fmt.Errorf("%w: erasure index %d outside codeword", ErrUncorrectable, idx)
		}
		erasureLocs = append(erasureLocs, n-1-idx)
	}

	repaired := make([]byte, n)
	copy(repaired, codeword)

	syn := c.Syndromes(repaired)
	if !nonzero(syn) {
		return repaired, res, nil
	}
	res.SyndromeNonzero = true


	b := newBerlekamp(c.gf, c.parity, syn)
	b.modifiedBerlekampMassey(erasureLocs)
	locs := b.findRoots()

	nErrors := len(locs) - len(erasureLocs)
	switch {
	case len(locs) == 0:
		return nil, res, fmt.Errorf("%w: no error locator roots", ErrUncorrectable)
	case nErrors < 0 || 2*nErrors+len(erasureLocs) > c.parity:
		return nil, res, fmt.Errorf("%w: %d errors exceed budget", ErrUncorrectable, len(locs))
	case len(locs) != b.lambdaDegree():
		return nil, res, fmt.Errorf("%w: found %d roots for degree %d locator", ErrUncorrectable, len(locs), b.lambdaDegree())
	}

	for _, loc := range locs {
		if loc >= n {
			return nil, res, fmt.Errorf("%w: error location %d outside codeword of %d bytes", ErrUncorrectable, loc, n)
		}
	}

	for _, loc := range locs {
		magnitude, ok := b.magnitude(loc)
		if !ok {
			return nil, res, fmt.Errorf("%w: zero locator derivative at %d", ErrUncorrectable, loc)
		}
		log.Debugf("[rs] error magnitude 0x%02x at index %d", magnitude, n-1-loc)
		repaired[n-1-loc] ^= magnitude
		if magnitude != 0 {
			res.Corrected++
		}
	}

	if nonzero(c.Syndromes(repaired)) {
		return nil, res, fmt.Errorf("%w: syndromes nonzero after correction", ErrUncorrectable)
	}
	return repaired, res, nil
}
