package env

import (
	"go.uber.org/zap/zapcore"
)

// FrameOffsetEntry describes one frame of a concatenated stream as it was read.
type FrameOffsetEntry struct {
	// ID is the sequence number of the frame since the source was attached.
	ID int64

	// CompOffset is the offset of the first byte of the frame within the compressed stream.
	CompOffset uint64
	// DecompOffset is the offset within the concatenated decompressed stream.
	DecompOffset uint64
	// CompSize is the number of compressed bytes the frame occupies.
	CompSize uint64
	// DecompSize is the size of the decompressed content.
	DecompSize uint64

	// Checksum is the lower 32 bits of the XXH64 hash of the decompressed data.
	Checksum uint32
}

func (o *FrameOffsetEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("ID", o.ID)
	enc.AddUint64("CompOffset", o.CompOffset)
	enc.AddUint64("DecompOffset", o.DecompOffset)
	enc.AddUint64("CompSize", o.CompSize)
	enc.AddUint64("DecompSize", o.DecompSize)
	enc.AddUint32("Checksum", o.Checksum)

	return nil
}

// Less orders entries by decompressed offset.  Empty frames share the offset
// of their successor, so ties are broken by ID.
func Less(a, b *FrameOffsetEntry) bool {
	if a.DecompOffset != b.DecompOffset {
		return a.DecompOffset < b.DecompOffset
	}
	return a.ID < b.ID
}
