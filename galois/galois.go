package galois

// Primitive polynomial x^8+x^4+x^3+x^2+1
const Generator = 0x11D

// FieldSize is the number of elements in GF(256); codewords can never be longer than FieldSize-1 bytes.
const FieldSize = 256

// Tables holds the exponent and logarithm tables for GF(256) with alpha = 2.
// Exp is doubled so products of two logs can be looked up without reducing mod 255.
type Tables struct {
	Exp [2 * FieldSize]byte
	Log [FieldSize]byte
}

// Default is built once at program start and shared read-only by every codec.
var Default = NewTables()

// NewTables builds the exponent and logarithm tables from the primitive polynomial.
func NewTables() *Tables {
	t := &Tables{}
	x := 1
	for i := 0; i < FieldSize-1; i++ {
		t.Exp[i] = byte(x)
		t.Log[x] = byte(i)
		x <<= 1
		if x&0x100 != 0 {
			x ^= Generator
		}
	}
	for i := FieldSize - 1; i < len(t.Exp); i++ {
		t.Exp[i] = t.Exp[i-(FieldSize-1)]
	}
	return t
}

// Mul multiplies a and b in GF(256).
func (t *Tables) Mul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return t.Exp[int(t.Log[a])+int(t.Log[b])]
}

// Inv returns the multiplicative inverse of a. Zero has no inverse and panics.
func (t *Tables) Inv(a byte) byte {
	if a == 0 {
		panic("galois: inverse of zero")
	}
	return t.Exp[FieldSize-1-int(t.Log[a])]
}

// Div returns a / b. b must not be zero.
func (t *Tables) Div(a, b byte) byte {
	if a == 0 {
		return 0
	}
	return t.Mul(a, t.Inv(b))
}

// Alpha returns alpha^i for any integer i.
func (t *Tables) Alpha(i int) byte {
	i %= FieldSize - 1
	if i < 0 {
		i += FieldSize - 1
	}
	return t.Exp[i]
}

// Pow returns a^n, with 0^0 = 1.
func (t *Tables) Pow(a byte, n int) byte {
	if n == 0 {
		return 1
	}
	if a == 0 {
		return 0
	}
	return t.Alpha(int(t.Log[a]) * n)
}
