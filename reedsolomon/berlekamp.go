package reedsolomon

import "github.com/jrwynneiii/sonictext/galois"

// berlekamp holds the working polynomials for one decode. Polynomials are lowest degree first
// and sized 2*parity so repeated multiplication by z never runs off the end.
type berlekamp struct {
	gf     *galois.Tables
	parity int
	maxDeg int
	syn    []byte
	lambda []byte // error locator, lambda[0] == 1
	omega  []byte // error evaluator
}

func newBerlekamp(gf *galois.Tables, parity int, syn []byte) *berlekamp {
	maxDeg := 2 * parity
	s := make([]byte, maxDeg)
	copy(s, syn)
	return &berlekamp{
		gf:     gf,
		parity: parity,
		maxDeg: maxDeg,
		syn:    s,
		lambda: make([]byte, maxDeg),
		omega:  make([]byte, maxDeg),
	}
}

func (b *berlekamp) mulZ(poly []byte) {
	copy(poly[1:], poly[:len(poly)-1])
	poly[0] = 0
}

func (b *berlekamp) mulPolys(p1, p2 []byte) []byte {
	dst := make([]byte, 2*b.maxDeg)
	for i, c1 := range p1 {
		if c1 == 0 {
			continue
		}
		for j, c2 := range p2 {
			dst[i+j] ^= b.gf.Mul(c1, c2)
		}
	}
	return dst
}

// erasureLocator is gamma = prod(1 + a^loc * z) over the known erasure locations.
func (b *berlekamp) erasureLocator(erasureLocs []int) []byte {
	gamma := make([]byte, b.maxDeg)
	gamma[0] = 1
	tmp := make([]byte, b.maxDeg)
	for _, loc := range erasureLocs {
		x := b.gf.Alpha(loc)
		for i := range tmp {
			tmp[i] = b.gf.Mul(x, gamma[i])
		}
		b.mulZ(tmp)
		for i := range gamma {
			gamma[i] ^= tmp[i]
		}
	}
	return gamma
}

func (b *berlekamp) discrepancy(psi []byte, l, n int) byte {
	var sum byte
	for i := 0; i <= l && i <= n; i++ {
		sum ^= b.gf.Mul(psi[i], b.syn[n-i])
	}
	return sum
}

// modifiedBerlekampMassey follows Cain & Clark, "Error-Correction Coding for Digital
// Communications", p. 216, seeded with the erasure locator.
func (b *berlekamp) modifiedBerlekampMassey(erasureLocs []int) {
	gamma := b.erasureLocator(erasureLocs)

	d := make([]byte, b.maxDeg)
	copy(d, gamma)
	b.mulZ(d)

	psi := make([]byte, b.maxDeg)
	copy(psi, gamma)
	psi2 := make([]byte, b.maxDeg)

	k := -1
	l := len(erasureLocs)
	for n := len(erasureLocs); n < b.parity; n++ {
		disc := b.discrepancy(psi, l, n)
		if disc != 0 {
			for i := range psi2 {
				psi2[i] = psi[i] ^ b.gf.Mul(disc, d[i])
			}
			if l < n-k {
				l2 := n - k
				k = n - l
				inv := b.gf.Inv(disc)
				for i := range d {
					d[i] = b.gf.Mul(psi[i], inv)
				}
				l = l2
			}
			copy(psi, psi2)
		}
		b.mulZ(d)
	}

	copy(b.lambda, psi)
	product := b.mulPolys(b.lambda, b.syn)
	clear(b.omega)
	copy(b.omega[:b.parity], product[:b.parity])
}

func (b *berlekamp) lambdaDegree() int {
	for i := len(b.lambda) - 1; i > 0; i-- {
		if b.lambda[i] != 0 {
			return i
		}
	}
	return 0
}

// findRoots evaluates lambda at every nonzero field element. A root at a^r marks an error
// at location 255-r, counted from the end of the codeword.
func (b *berlekamp) findRoots() []int {
	var locs []int
	for r := 1; r < galois.FieldSize; r++ {
		var sum byte
		for k := 0; k <= b.parity; k++ {
			sum ^= b.gf.Mul(b.gf.Alpha(k*r), b.lambda[k])
		}
		if sum == 0 {
			locs = append(locs, galois.FieldSize-1-r)
		}
	}
	return locs
}

// magnitude is Forney's formula: omega(a^-loc) / lambda'(a^-loc). Only odd powers of lambda
// survive the formal derivative.
func (b *berlekamp) magnitude(loc int) (byte, bool) {
	inv := galois.FieldSize - 1 - loc

	var num byte
	for j := 0; j < b.maxDeg; j++ {
		num ^= b.gf.Mul(b.omega[j], b.gf.Alpha(inv*j))
	}

	var denom byte
	for j := 1; j < b.maxDeg; j += 2 {
		denom ^= b.gf.Mul(b.lambda[j], b.gf.Alpha(inv*(j-1)))
	}
	if denom == 0 {
		return 0, false
	}
	return b.gf.Div(num, denom), true
}
