// core/compress.go
package core

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// DefaultCompressionLevel 对应 zstd level 3，压缩率与速度均衡。
const DefaultCompressionLevel = 3

// NewCompressedWriter wraps w with a streaming zstd encoder. Close flushes
// the final frame; the underlying writer stays open.
func NewCompressedWriter(w io.Writer, level int) (*zstd.Encoder, error) {
	if level <= 0 {
		level = DefaultCompressionLevel
	}
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return enc, nil
}

// DecompressAll inflates a complete zstd stream held in memory.
func DecompressAll(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}
