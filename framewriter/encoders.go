package framewriter

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/frameseq/frameseq/engine"
)

var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// NewFrameEncoder returns a FrameEncoder for a concrete format.
// level follows zstd conventions: lower is faster.
func NewFrameEncoder(f engine.Format, level int) (FrameEncoder, error) {
	switch f {
	case engine.Zstd:
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithZeroFrames(true))
		if err != nil {
			return nil, err
		}
		return enc, nil
	case engine.Gzip:
		return &gzipEncoder{level: clamp(level, gzip.BestSpeed, gzip.BestCompression)}, nil
	case engine.LZ4:
		return &lz4Encoder{level: lz4Levels[clamp(level, 0, len(lz4Levels)-1)]}, nil
	}
	return nil, fmt.Errorf("no frame encoder for %s", f)
}

// gzipEncoder writes every buffer as a separate gzip member.
type gzipEncoder struct {
	level int
}

func (e *gzipEncoder) EncodeAll(src, dst []byte) []byte {
	b := bytes.NewBuffer(dst)
	// level is validated by NewFrameEncoder and writes to a bytes.Buffer do not fail.
	zw, _ := gzip.NewWriterLevel(b, e.level)
	_, _ = zw.Write(src)
	_ = zw.Close()
	return b.Bytes()
}

// lz4Encoder writes every buffer as a separate LZ4 frame.
type lz4Encoder struct {
	level lz4.CompressionLevel
}

func (e *lz4Encoder) EncodeAll(src, dst []byte) []byte {
	b := bytes.NewBuffer(dst)
	zw := lz4.NewWriter(b)
	_ = zw.Apply(lz4.CompressionLevelOption(e.level))
	_, _ = zw.Write(src)
	_ = zw.Close()
	return b.Bytes()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
