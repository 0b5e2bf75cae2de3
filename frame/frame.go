// Package frame turns a text payload into the byte frame carried by the acoustic modem and back.
//
// Wire layout: [flags][payload length][payload][parity iff FEC][checksum iff checksum].
// Flag bits are inverted, a cleared bit means the feature is active.
//
// The checksum is a CRC-8 over the header as well as payload and parity, so a flipped flag or length
// bit is caught too. Peers that checksum only payload and parity do not interoperate.
package frame

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sonictext/galois"
	"github.com/sigurn/crc8"
)

const (
	FlagCompression byte = 0x01
	FlagChecksum    byte = 0x02
	FlagFEC         byte = 0x04

	flagsUnused = ^(FlagCompression | FlagChecksum | FlagFEC)

	MaxPayload = 255
	headerSize = 2
)

var (
	ErrCorruptFrame      = errors.New("corrupt frame")
	ErrUnrepairableFrame = errors.New("unrepairable frame")
	ErrPayloadTooLarge   = errors.New("payload too large")
)

var crcTable = crc8.MakeTable(crc8.CRC8)

// Config is the per-link frame configuration. It is passed by value so every send or receive
// works against its own snapshot.
type Config struct {
	UseCompression bool
	UseChecksum    bool
	UseFEC         bool
	Fec            FecScheme
	Compression    string
}

func DefaultConfig() Config {
	return Config{
		UseCompression: true,
		UseChecksum:    true,
		UseFEC:         true,
		Fec:            ReedSolomon(4),
		Compression:    CompressionSmaz,
	}
}

// Scheme is the FEC scheme in effect, FecNone when FEC is switched off.
func (c Config) Scheme() FecScheme {
	if !c.UseFEC {
		return FecScheme{Kind: FecNone}
	}
	return c.Fec
}

type Stats struct {
	Flags            byte
	PayloadLength    int
	FrameLength      int
	CompressionRatio float64
	Scheme           FecKind
	Corrected        int
}

func Checksum(data []byte) byte {
	return crc8.Checksum(data, crcTable)
}

// Build encodes payload into a wire frame.
func Build(payload []byte, cfg Config) ([]byte, Stats, error) {
	stats := Stats{Flags: 0xFF, CompressionRatio: 1}
	body := payload

	if cfg.UseCompression {
		c, err := CompressorByName(cfg.Compression)
		if err != nil {
			return nil, stats, err
		}
		body, err = c.Compress(payload)
		if err != nil {
			return nil, stats, fmt.Errorf("compressing payload: %w", err)
		}
		if len(payload) > 0 {
			stats.CompressionRatio = float64(len(body)) / float64(len(payload))
		}
		stats.Flags &^= FlagCompression
		log.Debugf("[frame] compressed %d -> %d bytes (%.2f)", len(payload), len(body), stats.CompressionRatio)
	}
	if len(body) > MaxPayload {
		return nil, stats, fmt.Errorf("%w: %d bytes after compression", ErrPayloadTooLarge, len(body))
	}
	stats.PayloadLength = len(body)

	protected := body
	if cfg.UseFEC {
		f, err := newFec(galois.Default, cfg.Fec)
		if err != nil {
			return nil, stats, err
		}
		protected, err = f.encode(body)
		if err != nil {
			return nil, stats, fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
		}
		stats.Flags &^= FlagFEC
		stats.Scheme = cfg.Fec.Kind
	}
	if cfg.UseChecksum {
		stats.Flags &^= FlagChecksum
	}

	out := make([]byte, 0, headerSize+len(protected)+1)
	out = append(out, stats.Flags, byte(len(body)))
	out = append(out, protected...)
	if cfg.UseChecksum {
		out = append(out, Checksum(out))
	}
	stats.FrameLength = len(out)
	return out, stats, nil
}

// Parse decodes a wire frame. The flags on the wire decide which stages run; cfg only supplies the
// FEC parameters and the compression codec.
func Parse(data []byte, cfg Config) ([]byte, Stats, error) {
	stats := Stats{CompressionRatio: 1}
	if len(data) < headerSize {
		return nil, stats, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptFrame, len(data))
	}
	flags := data[0]
	n := int(data[1])
	stats.Flags = flags
	stats.PayloadLength = n
	stats.FrameLength = len(data)
	if flags&flagsUnused != flagsUnused {
		return nil, stats, fmt.Errorf("%w: unknown flags %#02x", ErrCorruptFrame, flags)
	}
	compressed := flags&FlagCompression == 0
	checksummed := flags&FlagChecksum == 0
	protectedByFec := flags&FlagFEC == 0

	var f fec
	protectedLen := n
	if protectedByFec {
		var err error
		f, err = newFec(galois.Default, cfg.Fec)
		if err != nil {
			return nil, stats, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
		}
		protectedLen = f.encodedLen(n)
		stats.Scheme = cfg.Fec.Kind
	}
	want := headerSize + protectedLen
	if checksummed {
		want++
	}
	if len(data) != want {
		return nil, stats, fmt.Errorf("%w: frame is %d bytes, header says %d", ErrCorruptFrame, len(data), want)
	}

	protected := data[headerSize : headerSize+protectedLen]
	payload := protected
	if protectedByFec {
		var (
			repaired []byte
			err      error
		)
		payload, repaired, stats.Corrected, err = f.decode(protected, n)
		if err != nil {
			return nil, stats, fmt.Errorf("%w: %v", ErrUnrepairableFrame, err)
		}
		if stats.Corrected > 0 {
			log.Debugf("[frame] %s repaired %d bytes", cfg.Fec.Kind, stats.Corrected)
		}
		protected = repaired
	}

	if checksummed {
		covered := make([]byte, 0, headerSize+len(protected))
		covered = append(covered, data[:headerSize]...)
		sum := Checksum(append(covered, protected...))
		if sum != data[len(data)-1] {
			return nil, stats, fmt.Errorf("%w: checksum %#02x, computed %#02x", ErrCorruptFrame, data[len(data)-1], sum)
		}
	}

	out := append([]byte(nil), payload...)
	if compressed {
		c, err := CompressorByName(cfg.Compression)
		if err != nil {
			return nil, stats, err
		}
		out, err = c.Decompress(payload)
		if err != nil {
			return nil, stats, fmt.Errorf("%w: decompressing payload: %v", ErrCorruptFrame, err)
		}
		if len(out) > 0 {
			stats.CompressionRatio = float64(n) / float64(len(out))
		}
	}
	return out, stats, nil
}
