// Package fountain implements the symbol-oriented FEC path: the payload is cut into fixed size
// source symbols, each protected by a CRC-8, and followed by repair symbols built from a
// Cauchy matrix over GF(256). Symbols whose CRC fails are treated as erasures, and any K intact
// symbols are enough to rebuild a block of K source symbols.
package fountain

import (
	"errors"
	"fmt"
	"math"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sonictext/galois"
	"github.com/sigurn/crc8"
)

var (
	ErrUnrecoverable = errors.New("fountain: not enough intact symbols to rebuild payload")
	ErrTooManySymbol = errors.New("fountain: source plus repair symbols exceed the field size")
	ErrBodyLength    = errors.New("fountain: body length does not match payload length")
)

var crcTable = crc8.MakeTable(crc8.CRC8)

type Codec struct {
	gf          *galois.Tables
	symbolSize  int
	repairRatio float64
}

type Result struct {
	Erasures int
	Repaired bool
}

func New(gf *galois.Tables, symbolSize int, repairRatio float64) (*Codec, error) {
	if symbolSize < 1 {
		return nil, fmt.Errorf("fountain: symbol size must be positive, got %d", symbolSize)
	}
	if repairRatio < 0 {
		return nil, fmt.Errorf("fountain: repair ratio must be non-negative, got %f", repairRatio)
	}
	if gf == nil {
		gf = galois.Default
	}
	return &Codec{gf: gf, symbolSize: symbolSize, repairRatio: repairRatio}, nil
}

func (c *Codec) SymbolSize() int {
	return c.symbolSize
}

func (c *Codec) counts(payloadLength int) (k, r int) {
	k = (payloadLength + c.symbolSize - 1) / c.symbolSize
	r = int(math.Ceil(float64(k) * c.repairRatio))
	return k, r
}

// EncodedLen is the size of the encoded body for a payload of payloadLength bytes.
func (c *Codec) EncodedLen(payloadLength int) int {
	k, r := c.counts(payloadLength)
	return payloadLength + k + r*(c.symbolSize+1)
}

func (c *Codec) sourceSymbols(payload []byte, k int) [][]byte {
	symbols := make([][]byte, k)
	for j := range symbols {
		sym := make([]byte, c.symbolSize)
		start := j * c.symbolSize
		end := min(start+c.symbolSize, len(payload))
		copy(sym, payload[start:end])
		symbols[j] = sym
	}
	return symbols
}

// coefficient is the Cauchy entry 1/(x_r + y_j) with y_j = j and x_r = k + r, all distinct.
func (c *Codec) coefficient(k, r, j int) byte {
	return c.gf.Inv(byte(k+r) ^ byte(j))
}

func (c *Codec) repairSymbol(source [][]byte, r int) []byte {
	k := len(source)
	out := make([]byte, c.symbolSize)
	for j, sym := range source {
		coef := c.coefficient(k, r, j)
		for b := range out {
			out[b] ^= c.gf.Mul(coef, sym[b])
		}
	}
	return out
}

// Encode returns payload ++ source CRCs ++ (repair symbol ++ CRC)*R.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	k, r := c.counts(len(payload))
	if k+r > galois.FieldSize {
		return nil, fmt.Errorf("%w: %d source + %d repair", ErrTooManySymbol, k, r)
	}
	source := c.sourceSymbols(payload, k)

	body := make([]byte, 0, c.EncodedLen(len(payload)))
	body = append(body, payload...)
	for _, sym := range source {
		body = append(body, crc8.Checksum(sym, crcTable))
	}
	for i := 0; i < r; i++ {
		sym := c.repairSymbol(source, i)
		body = append(body, sym...)
		body = append(body, crc8.Checksum(sym, crcTable))
	}
	return body, nil
}

type row struct {
	coefs []byte
	data  []byte
}

// Decode rebuilds the payload from an encoded body.
func (c *Codec) Decode(body []byte, payloadLength int) ([]byte, Result, error) {
	var res Result
	if len(body) != c.EncodedLen(payloadLength) {
		return nil, res, fmt.Errorf("%w: have %d, want %d", ErrBodyLength, len(body), c.EncodedLen(payloadLength))
	}
	k, r := c.counts(payloadLength)
	if k == 0 {
		return []byte{}, res, nil
	}
	if k+r > galois.FieldSize {
		return nil, res, fmt.Errorf("%w: %d source + %d repair", ErrTooManySymbol, k, r)
	}

	source := c.sourceSymbols(body[:payloadLength], k)
	crcs := body[payloadLength : payloadLength+k]
	repairs := body[payloadLength+k:]

	rows := make([]row, 0, k)
	missing := false
	for j, sym := range source {
		if crc8.Checksum(sym, crcTable) != crcs[j] {
			res.Erasures++
			missing = true
			continue
		}
		coefs := make([]byte, k)
		coefs[j] = 1
		rows = append(rows, row{coefs: coefs, data: sym})
	}
	if !missing {
		return append([]byte(nil), body[:payloadLength]...), res, nil
	}

	for i := 0; i < r; i++ {
		chunk := repairs[i*(c.symbolSize+1) : (i+1)*(c.symbolSize+1)]
		sym := chunk[:c.symbolSize]
		if crc8.Checksum(sym, crcTable) != chunk[c.symbolSize] {
			res.Erasures++
			continue
		}
		if len(rows) >= k {
			continue
		}
		coefs := make([]byte, k)
		for j := range coefs {
			coefs[j] = c.coefficient(k, i, j)
		}
		rows = append(rows, row{coefs: coefs, data: append([]byte(nil), sym...)})
	}

	if len(rows) < k {
		return nil, res, fmt.Errorf("%w: %d of %d symbols intact", ErrUnrecoverable, len(rows), k)
	}
	solved, err := c.solve(rows[:k])
	if err != nil {
		return nil, res, err
	}
	res.Repaired = true
	log.Debugf("[fountain] rebuilt %d source symbols with %d erasures", k, res.Erasures)

	payload := make([]byte, 0, k*c.symbolSize)
	for _, sym := range solved {
		payload = append(payload, sym...)
	}
	return payload[:payloadLength], res, nil
}

// solve runs Gauss-Jordan elimination over GF(256) and returns the source symbols in order.
func (c *Codec) solve(rows []row) ([][]byte, error) {
	k := len(rows)
	for col := 0; col < k; col++ {
		pivot := -1
		for i := col; i < k; i++ {
			if rows[i].coefs[col] != 0 {
				pivot = i
				break
			}
		}
		if pivot < 0 {
			return nil, fmt.Errorf("%w: singular system at column %d", ErrUnrecoverable, col)
		}
		rows[col], rows[pivot] = rows[pivot], rows[col]

		inv := c.gf.Inv(rows[col].coefs[col])
		scale(c.gf, rows[col].coefs, inv)
		scale(c.gf, rows[col].data, inv)

		for i := 0; i < k; i++ {
			factor := rows[i].coefs[col]
			if i == col || factor == 0 {
				continue
			}
			addScaled(c.gf, rows[i].coefs, rows[col].coefs, factor)
			addScaled(c.gf, rows[i].data, rows[col].data, factor)
		}
	}

	out := make([][]byte, k)
	for i := range rows {
		out[i] = rows[i].data
	}
	return out, nil
}

func scale(gf *galois.Tables, v []byte, f byte) {
	for i := range v {
		v[i] = gf.Mul(v[i], f)
	}
}

func addScaled(gf *galois.Tables, dst, src []byte, f byte) {
	for i := range dst {
		dst[i] ^= gf.Mul(src[i], f)
	}
}
