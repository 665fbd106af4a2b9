package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

/*
The zstd engine streams one frame through zstd.Decoder.  The decoder reads
from a feed that frameWalker limits to the bytes of the current frame, so the
decoder sees the end of its input exactly where the frame ends.

	|`Magic_Number`|`Frame_Header`|`Data_Block`|[More data blocks]|[`Content_Checksum`]|
	|--------------|--------------|------------|------------------|--------------------|
	| 4 bytes      | 2-14 bytes   | n bytes    |                  | 0-4 bytes          |

Frame_Header starts with the Frame_Header_Descriptor:

	| Bit number | Field name                |
	| ---------- | ----------                |
	| 7-6        | `Frame_Content_Size_flag` |
	| 5          | `Single_Segment_flag`     |
	| 4          | `Unused_bit`              |
	| 3          | `Reserved_bit`            |
	| 2          | `Content_Checksum_flag`   |
	| 1-0        | `Dictionary_ID_flag`      |

Every block starts with a 3 byte little-endian Block_Header:

	| Bit number | Field name   |
	| ---------- | ----------   |
	| 0          | `Last_Block` |
	| 2-1        | `Block_Type` |
	| 23-3       | `Block_Size` |

Skippable frames carry a 4 byte `Frame_Size` after the magic.  They are
decoded as empty frames without involving the decoder.

https://github.com/facebook/zstd/blob/dev/doc/zstd_compression_format.md
*/
const (
	zstdFrameMagic      uint32 = 0xFD2FB528
	skippableFrameMagic uint32 = 0x184D2A50
	skippableMask       uint32 = 0xFFFFFFF0

	// magic + descriptor + the smallest optional field.
	zstdMinHeaderSize = 6
	// magic + descriptor + window + dictionary ID + content size.
	zstdMaxHeaderSize = 4 + 1 + 1 + 4 + 8

	blockHeaderSize     = 3
	checksumSize        = 4
	frameSizeFieldSize  = 4
	maxCompressedBlock  = 128 << 10
	reservedBitMask     = 1 << 3
	minMemLimit         = zstd.MinWindowSize
	blockTypeRaw        = 0
	blockTypeRLE        = 1
	blockTypeCompressed = 2
	blockTypeReserved   = 3

	// The decoded size of a frame is not bounded, only its window is.
	maxDecodedSize = 1 << 63
)

var errReservedBit = errors.New("reserved bit set on frame header")

type zstdEngine struct {
	*pullEngine
	dec  *zstd.Decoder
	walk frameWalker

	magic  [4]byte
	prefix bytes.Reader
}

func newZstd(o *options) (*zstdEngine, error) {
	window := o.memLimit
	if window > zstd.MaxWindowSize {
		window = zstd.MaxWindowSize
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxWindow(window),
		zstd.WithDecoderMaxMemory(maxDecodedSize),
	)
	if err != nil {
		return nil, err
	}

	e := &zstdEngine{
		dec:  dec,
		walk: frameWalker{memLimit: o.memLimit},
	}
	e.pullEngine = newPull(Zstd.String(), e.open, o)
	e.feed.bound = &e.walk
	e.translate = e.translateError
	return e, nil
}

func (e *zstdEngine) open(r io.Reader) (io.Reader, error) {
	e.walk.reset()
	if _, err := io.ReadFull(r, e.magic[:]); err != nil {
		return nil, err
	}
	if e.walk.skippable() {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return bytes.NewReader(nil), nil
	}

	e.prefix.Reset(e.magic[:])
	if err := e.dec.Reset(io.MultiReader(&e.prefix, r)); err != nil {
		return nil, err
	}
	return e.dec, nil
}

// translateError prefers the walker's diagnosis: the decoder only sees the
// feed failing once the walker rejected the layout.
func (e *zstdEngine) translateError(err error) error {
	if e.walk.err != nil {
		return e.walk.err
	}
	if errors.Is(err, zstd.ErrWindowSizeExceeded) || errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		return fmt.Errorf("%w: %w", ErrMemLimit, err)
	}
	return err
}

func (e *zstdEngine) Close() error {
	err := e.pullEngine.Close()
	e.dec.Close()
	return err
}

type zstdState int

const (
	stateMagic zstdState = iota
	stateDescriptor
	stateHeader
	stateBlockHeader
	stateBlockBody
	stateChecksum
	stateSkipSize
	stateSkipData
	stateDone
)

// frameWalker follows the layout of the frame bytes handed to the decoder.
// It keeps only the header fields, never block contents.
type frameWalker struct {
	memLimit uint64

	state zstdState
	// need is the number of bytes the current field still expects.
	need int
	// header holds magic, descriptor and header fields.
	header []byte
	field  [blockHeaderSize + 1]byte
	nField int

	checksum bool
	last     bool

	err error
}

func (w *frameWalker) reset() {
	w.state = stateMagic
	w.need = 4
	if w.header == nil {
		w.header = make([]byte, 0, zstdMaxHeaderSize)
	}
	w.header = w.header[:0]
	w.nField = 0
	w.checksum = false
	w.last = false
	w.err = nil
}

// skippable reports whether the magic just read starts a skippable frame.
func (w *frameWalker) skippable() bool {
	return w.state == stateSkipSize
}

// span returns how many of the following bytes may still belong to the
// frame; 0 once the frame is complete.
func (w *frameWalker) span() int {
	if w.state == stateDone {
		return 0
	}
	return w.need
}

// consume records p, which must not exceed span().
func (w *frameWalker) consume(p []byte) error {
	if w.err != nil {
		return w.err
	}
	for len(p) > 0 && w.state != stateDone {
		n := len(p)
		if n > w.need {
			n = w.need
		}
		switch w.state {
		case stateMagic, stateDescriptor, stateHeader:
			w.header = append(w.header, p[:n]...)
		case stateBlockHeader, stateSkipSize:
			w.nField += copy(w.field[w.nField:], p[:n])
		}
		p = p[n:]
		w.need -= n

		for w.need == 0 && w.state != stateDone {
			if err := w.next(); err != nil {
				w.err = err
				return err
			}
		}
	}
	return nil
}

// next is called once the current field has all of its bytes.
func (w *frameWalker) next() error {
	switch w.state {
	case stateMagic:
		magic := le32(w.header)
		switch {
		case magic == zstdFrameMagic:
			w.state, w.need = stateDescriptor, 1
		case magic&skippableMask == skippableFrameMagic:
			w.state, w.need, w.nField = stateSkipSize, frameSizeFieldSize, 0
		default:
			return zstd.ErrMagicMismatch
		}

	case stateDescriptor:
		fhd := w.header[4]
		if fhd&reservedBitMask != 0 {
			return errReservedBit
		}
		w.state, w.need = stateHeader, headerFieldsSize(fhd)

	case stateHeader:
		var h zstd.Header
		if err := h.Decode(w.header); err != nil {
			return err
		}
		window := h.WindowSize
		if h.SingleSegment {
			// the whole content is the window
			window = h.FrameContentSize
		}
		if window > w.memLimit {
			return fmt.Errorf("%w: %w: window size %d > %d",
				ErrMemLimit, zstd.ErrWindowSizeExceeded, window, w.memLimit)
		}
		w.checksum = h.HasCheckSum
		w.state, w.need, w.nField = stateBlockHeader, blockHeaderSize, 0

	case stateBlockHeader:
		b := w.field[:blockHeaderSize]
		bh := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
		w.last = bh&1 == 1
		size := int(bh >> 3)
		if size > maxCompressedBlock {
			return zstd.ErrCompressedSizeTooBig
		}
		switch (bh >> 1) & 3 {
		case blockTypeRaw, blockTypeCompressed:
			w.need = size
		case blockTypeRLE:
			w.need = 1
		case blockTypeReserved:
			return zstd.ErrReservedBlockType
		}
		w.state = stateBlockBody

	case stateBlockBody:
		switch {
		case !w.last:
			w.state, w.need, w.nField = stateBlockHeader, blockHeaderSize, 0
		case w.checksum:
			w.state, w.need = stateChecksum, checksumSize
		default:
			w.state = stateDone
		}

	case stateChecksum, stateSkipData:
		w.state = stateDone

	case stateSkipSize:
		w.state, w.need = stateSkipData, int(le32(w.field[:frameSizeFieldSize]))

	default:
		return fmt.Errorf("zstd frame walker in unexpected state %d", w.state)
	}
	return nil
}

// headerFieldsSize returns the size of the frame header fields that follow the descriptor.
func headerFieldsSize(fhd byte) int {
	singleSegment := fhd&(1<<5) != 0
	n := 0
	if !singleSegment {
		n++ // Window_Descriptor
	}
	n += [4]int{0, 1, 2, 4}[fhd&3]
	switch fhd >> 6 {
	case 0:
		if singleSegment {
			n++
		}
	case 1:
		n += 2
	case 2:
		n += 4
	case 3:
		n += 8
	}
	return n
}
