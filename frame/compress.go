package frame

import (
	"bytes"
	"fmt"
	"io"

	"github.com/kjk/smaz"
	"github.com/klauspost/compress/flate"
)

// Compressor is a payload compression codec. Both ends of a link must use the same one;
// the wire format only records whether compression was applied.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

const (
	CompressionSmaz    = "smaz"
	CompressionDeflate = "deflate"
)

type smazCompressor struct{}

func (smazCompressor) Name() string { return CompressionSmaz }

func (smazCompressor) Compress(data []byte) ([]byte, error) {
	return smaz.Encode(nil, data), nil
}

func (smazCompressor) Decompress(data []byte) ([]byte, error) {
	return smaz.Decode(nil, data)
}

// deflateCompressor is the Deflater based revision of the protocol.
type deflateCompressor struct {
	level int
}

func (deflateCompressor) Name() string { return CompressionDeflate }

func (d deflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, d.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

func CompressorByName(name string) (Compressor, error) {
	switch name {
	case "", CompressionSmaz:
		return smazCompressor{}, nil
	case CompressionDeflate:
		return deflateCompressor{level: flate.BestCompression}, nil
	}
	return nil, fmt.Errorf("frame: unknown compression codec %q", name)
}
