// internal/checkpoint/compression.go
package checkpoint

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressor squeezes backup content before it lands in a checkpoint record.
// Encoders and decoders are pooled; they are expensive to build and the store
// may capture many files per checkpoint.
type compressor struct {
	minSize  int
	encoders sync.Pool
	decoders sync.Pool
}

func newCompressor(minSize int) (*compressor, error) {
	// Build one of each up front so a bad configuration fails at
	// construction instead of mid-checkpoint.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	enc.Close()

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test decoder: %w", err)
	}
	dec.Close()

	return &compressor{
		minSize: minSize,
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				return dec
			},
		},
	}, nil
}

// compress returns the (possibly compressed) content and whether compression
// was applied. Content below the threshold passes through untouched.
func (c *compressor) compress(content []byte) ([]byte, bool) {
	if len(content) < c.minSize {
		return content, false
	}

	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)

	return enc.EncodeAll(content, nil), true
}

// decompress reverses compress. The record's Compressed flag, not the
// content itself, decides whether to decode: a raw backup whose bytes happen
// to form a zstd frame must come back untouched.
func (c *compressor) decompress(content []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return content, nil
	}

	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)

	out, err := dec.DecodeAll(content, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing backup content: %w", err)
	}
	return out, nil
}
