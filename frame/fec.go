package frame

import (
	"fmt"

	"github.com/jrwynneiii/sonictext/fountain"
	"github.com/jrwynneiii/sonictext/galois"
	"github.com/jrwynneiii/sonictext/reedsolomon"
)

type FecKind int

const (
	FecNone FecKind = iota
	FecReedSolomon
	FecFountain
)

func (k FecKind) String() string {
	switch k {
	case FecReedSolomon:
		return "reedsolomon"
	case FecFountain:
		return "fountain"
	default:
		return "none"
	}
}

func ParseFecKind(s string) (FecKind, error) {
	switch s {
	case "", "reedsolomon", "rs":
		return FecReedSolomon, nil
	case "fountain":
		return FecFountain, nil
	case "none":
		return FecNone, nil
	}
	return FecNone, fmt.Errorf("frame: unknown fec scheme %q", s)
}

// FecScheme selects which forward error correction is applied when the FEC flag is active.
// Only the fields belonging to Kind are used.
type FecScheme struct {
	Kind        FecKind
	ErrorBudget int     // ReedSolomon: correctable byte errors, parity = 2*ErrorBudget
	SymbolSize  int     // Fountain: bytes per symbol
	RepairRatio float64 // Fountain: repair symbols per source symbol
}

func ReedSolomon(errorBudget int) FecScheme {
	return FecScheme{Kind: FecReedSolomon, ErrorBudget: errorBudget}
}

func Fountain(symbolSize int, repairRatio float64) FecScheme {
	return FecScheme{Kind: FecFountain, SymbolSize: symbolSize, RepairRatio: repairRatio}
}

// fec hides the scheme specific encoders behind the three operations the frame codec needs.
type fec interface {
	encode(payload []byte) ([]byte, error)
	encodedLen(payloadLength int) int
	decode(protected []byte, payloadLength int) (payload, repaired []byte, corrected int, err error)
}

func newFec(gf *galois.Tables, scheme FecScheme) (fec, error) {
	switch scheme.Kind {
	case FecReedSolomon:
		c, err := reedsolomon.ForErrorBudget(gf, scheme.ErrorBudget)
		if err != nil {
			return nil, err
		}
		return rsFec{c}, nil
	case FecFountain:
		c, err := fountain.New(gf, scheme.SymbolSize, scheme.RepairRatio)
		if err != nil {
			return nil, err
		}
		return fountainFec{c}, nil
	}
	return nil, fmt.Errorf("frame: fec flag set but scheme is %s", scheme.Kind)
}

type rsFec struct {
	codec *reedsolomon.Codec
}

func (r rsFec) encode(payload []byte) ([]byte, error) {
	return r.codec.Encode(payload)
}

func (r rsFec) encodedLen(payloadLength int) int {
	return payloadLength + r.codec.Parity()
}

func (r rsFec) decode(protected []byte, payloadLength int) ([]byte, []byte, int, error) {
	repaired, res, err := r.codec.Decode(protected, nil)
	if err != nil {
		return nil, nil, 0, err
	}
	return repaired[:payloadLength], repaired, res.Corrected, nil
}

type fountainFec struct {
	codec *fountain.Codec
}

func (f fountainFec) encode(payload []byte) ([]byte, error) {
	return f.codec.Encode(payload)
}

func (f fountainFec) encodedLen(payloadLength int) int {
	return f.codec.EncodedLen(payloadLength)
}

// decode rebuilds the payload and re-encodes it so the checksum is checked against the body as sent,
// including repair symbols damaged on the way.
func (f fountainFec) decode(protected []byte, payloadLength int) ([]byte, []byte, int, error) {
	payload, res, err := f.codec.Decode(protected, payloadLength)
	if err != nil {
		return nil, nil, 0, err
	}
	repaired, err := f.codec.Encode(payload)
	if err != nil {
		return nil, nil, 0, err
	}
	return payload, repaired, res.Erasures, nil
}
