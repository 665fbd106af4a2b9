package framewriter

import (
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap/zapcore"

	"github.com/frameseq/frameseq/env"
)

/*
A stream written with the seek table enabled ends with a skippable frame
describing every frame before it:

	|`Skippable_Magic_Number`|`Frame_Size`|`[Seek_Table_Entries]`|`Seek_Table_Footer`|
	|------------------------|------------|----------------------|-------------------|
	| 4 bytes                | 4 bytes    | 8-12 bytes each      | 9 bytes           |

The magic is 0x184D2A5E, a Zstandard skippable frame, so any reader that
understands skippable frames decodes it as an empty frame.

https://github.com/facebook/zstd/blob/dev/contrib/seekable_format/zstd_seekable_compression_format.md
*/
const (
	skippableFrameMagic uint32 = 0x184D2A50
	seekableMagicNumber uint32 = 0x8F92EAB1
	seekableTag         uint32 = 0xE

	seekTableFooterSize = 9
	skippableHeaderSize = 8
	entrySizeChecksum   = 12
	entrySizeNoChecksum = 8

	checksumFlag = 1 << 7
	// bits 6-2 must be zero.
	reservedBitsMask = 0x7c

	maxChunkSize      int64 = math.MaxUint32
	maxNumberOfFrames int64 = math.MaxUint32
)

/*
seekTableFooter closes the seek table:

	|`Number_Of_Frames`|`Seek_Table_Descriptor`|`Seekable_Magic_Number`|
	|------------------|-----------------------|-----------------------|
	| 4 bytes          | 1 byte                | 4 bytes               |

Bit 7 of the descriptor is the checksum flag.
*/
type seekTableFooter struct {
	NumberOfFrames uint32
	ChecksumFlag   bool
}

func (f *seekTableFooter) marshalBinaryInline(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], f.NumberOfFrames)
	dst[4] = 0
	if f.ChecksumFlag {
		dst[4] |= checksumFlag
	}
	binary.LittleEndian.PutUint32(dst[5:], seekableMagicNumber)
}

func (f *seekTableFooter) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("NumberOfFrames", f.NumberOfFrames)
	enc.AddBool("ChecksumFlag", f.ChecksumFlag)
	return nil
}

func (f *seekTableFooter) UnmarshalBinary(p []byte) error {
	if len(p) != seekTableFooterSize {
		return fmt.Errorf("footer length mismatch %d vs %d", len(p), seekTableFooterSize)
	}
	if reserved := p[4] & reservedBitsMask; reserved != 0 {
		return fmt.Errorf("footer reserved bits %d != 0", reserved)
	}
	if magic := binary.LittleEndian.Uint32(p[5:]); magic != seekableMagicNumber {
		return fmt.Errorf("footer magic mismatch %d vs %d", magic, seekableMagicNumber)
	}
	f.NumberOfFrames = binary.LittleEndian.Uint32(p[0:])
	f.ChecksumFlag = p[4]&checksumFlag != 0
	return nil
}

// seekTableEntry describes one frame: `Compressed_Size`, `Decompressed_Size`
// and, with the checksum flag, the lower 32 bits of the XXH64 of the content.
type seekTableEntry struct {
	CompressedSize   uint32
	DecompressedSize uint32
	Checksum         uint32
}

func (e *seekTableEntry) marshalBinaryInline(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], e.CompressedSize)
	binary.LittleEndian.PutUint32(dst[4:], e.DecompressedSize)
	binary.LittleEndian.PutUint32(dst[8:], e.Checksum)
}

func (e *seekTableEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("CompressedSize", e.CompressedSize)
	enc.AddUint32("DecompressedSize", e.DecompressedSize)
	enc.AddUint32("Checksum", e.Checksum)
	return nil
}

func (e *seekTableEntry) UnmarshalBinary(p []byte) error {
	if len(p) < entrySizeNoChecksum {
		return fmt.Errorf("entry length mismatch %d vs %d", len(p), entrySizeNoChecksum)
	}
	e.CompressedSize = binary.LittleEndian.Uint32(p[0:])
	e.DecompressedSize = binary.LittleEndian.Uint32(p[4:])
	if len(p) >= entrySizeChecksum {
		e.Checksum = binary.LittleEndian.Uint32(p[8:])
	}
	return nil
}

// createSkippableFrame wraps payload into a skippable frame:
// a 4 byte magic 0x184D2A5? carrying tag in the low nibble, the 4 byte payload size, and the payload.
func createSkippableFrame(tag uint32, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if tag > 0xf {
		return nil, fmt.Errorf("requested tag (%d) > 0xf", tag)
	}
	if int64(len(payload)) > maxChunkSize {
		return nil, fmt.Errorf("requested skippable frame size (%d) > max uint32", len(payload))
	}

	dst := make([]byte, skippableHeaderSize, len(payload)+skippableHeaderSize)
	binary.LittleEndian.PutUint32(dst[0:], skippableFrameMagic+tag)
	binary.LittleEndian.PutUint32(dst[4:], uint32(len(payload)))
	return append(dst, payload...), nil
}

// seekTable accumulates the entries of the frames written so far.
type seekTable struct {
	entries []seekTableEntry
}

func (t *seekTable) add(e seekTableEntry) {
	t.entries = append(t.entries, e)
}

// marshal returns the table as a skippable frame, or nil without entries.
func (t *seekTable) marshal() ([]byte, error) {
	if int64(len(t.entries)) > maxNumberOfFrames {
		return nil, fmt.Errorf("number of frames for seekable format: %d > %d",
			len(t.entries), maxNumberOfFrames)
	}

	payload := make([]byte, len(t.entries)*entrySizeChecksum+seekTableFooterSize)
	for i := range t.entries {
		t.entries[i].marshalBinaryInline(payload[i*entrySizeChecksum:])
	}
	footer := seekTableFooter{
		NumberOfFrames: uint32(len(t.entries)),
		ChecksumFlag:   true,
	}
	footer.marshalBinaryInline(payload[len(t.entries)*entrySizeChecksum:])
	return createSkippableFrame(seekableTag, payload)
}

// frames converts the entries into frame statistics relative to the start of the stream.
func (t *seekTable) frames() []env.FrameOffsetEntry {
	frames := make([]env.FrameOffsetEntry, 0, len(t.entries))
	var compOffset, decompOffset uint64
	for i, e := range t.entries {
		frames = append(frames, env.FrameOffsetEntry{
			ID:           int64(i),
			CompOffset:   compOffset,
			DecompOffset: decompOffset,
			CompSize:     uint64(e.CompressedSize),
			DecompSize:   uint64(e.DecompressedSize),
			Checksum:     e.Checksum,
		})
		compOffset += uint64(e.CompressedSize)
		decompOffset += uint64(e.DecompressedSize)
	}
	return frames
}

// ParseSeekTable reads the seek table at the end of stream and returns the
// frames it describes, with offsets relative to the start of stream.
func ParseSeekTable(stream []byte) ([]env.FrameOffsetEntry, error) {
	if len(stream) < skippableHeaderSize+seekTableFooterSize {
		return nil, fmt.Errorf("stream too small for a seek table: %d bytes", len(stream))
	}

	var footer seekTableFooter
	if err := footer.UnmarshalBinary(stream[len(stream)-seekTableFooterSize:]); err != nil {
		return nil, err
	}

	entrySize := int64(entrySizeNoChecksum)
	if footer.ChecksumFlag {
		entrySize = entrySizeChecksum
	}
	tableSize := skippableHeaderSize + entrySize*int64(footer.NumberOfFrames) + seekTableFooterSize
	if tableSize > int64(len(stream)) {
		return nil, fmt.Errorf("seek table size %d exceeds stream size %d", tableSize, len(stream))
	}

	table := stream[int64(len(stream))-tableSize:]
	if magic := binary.LittleEndian.Uint32(table[0:]); magic != skippableFrameMagic+seekableTag {
		return nil, fmt.Errorf("skippable frame magic mismatch %d vs %d", magic, skippableFrameMagic+seekableTag)
	}
	if size := int64(binary.LittleEndian.Uint32(table[4:])); size != tableSize-skippableHeaderSize {
		return nil, fmt.Errorf("skippable frame size mismatch %d vs %d", size, tableSize-skippableHeaderSize)
	}

	t := seekTable{entries: make([]seekTableEntry, footer.NumberOfFrames)}
	var covered int64
	p := table[skippableHeaderSize : int64(len(table))-seekTableFooterSize]
	for i := range t.entries {
		off := int64(i) * entrySize
		if err := t.entries[i].UnmarshalBinary(p[off : off+entrySize]); err != nil {
			return nil, err
		}
		covered += int64(t.entries[i].CompressedSize)
	}
	if covered+tableSize != int64(len(stream)) {
		return nil, fmt.Errorf("frames cover %d bytes, expected %d", covered, int64(len(stream))-tableSize)
	}
	return t.frames(), nil
}
