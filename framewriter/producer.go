package framewriter

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// FrameEncoder compresses a complete buffer into one self-contained frame
// appended to dst.  EncodeAll must be safe for concurrent use.
type FrameEncoder interface {
	EncodeAll(src, dst []byte) []byte
}

// frame is an encoded buffer with the seek table entry that describes it.
// An empty buffer produces a frame without data, which is never written.
type frame struct {
	data  []byte
	entry seekTableEntry
}

// producer turns buffers into frames of whatever format its encoder writes.
// It holds no per-frame state and may be shared by concurrent workers.
type producer struct {
	enc    FrameEncoder
	logger *zap.Logger
}

func (p *producer) produce(src []byte) (frame, error) {
	if len(src) == 0 {
		return frame{}, nil
	}
	if int64(len(src)) > maxChunkSize {
		return frame{}, fmt.Errorf("chunk size too big for seekable format: %d > %d", len(src), maxChunkSize)
	}

	data := p.enc.EncodeAll(src, nil)
	if int64(len(data)) > maxChunkSize {
		return frame{}, fmt.Errorf("result size too big for seekable format: %d > %d", len(data), maxChunkSize)
	}

	f := frame{
		data: data,
		entry: seekTableEntry{
			CompressedSize:   uint32(len(data)),
			DecompressedSize: uint32(len(src)),
			Checksum:         uint32(xxhash.Sum64(src)),
		},
	}
	p.logger.Debug("encoded frame", zap.Object("frame", &f.entry))
	return f, nil
}
