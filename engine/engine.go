// Package engine implements single-frame decoding engines that never consume
// input beyond the end of the frame they are decoding.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMemLimit bounds the history window an engine keeps for a single
// frame.  The content size of a frame is not limited.
const DefaultMemLimit = 80 << 20

var (
	// ErrUnknownFormat is returned when the input does not start with a known frame magic.
	ErrUnknownFormat = errors.New("the input is not in a supported frame format")
	// ErrMemLimit is wrapped by every error caused by the memory ceiling.
	ErrMemLimit = errors.New("memory usage limit reached")
)

// Engine decodes one frame at a time.
//
// Decode consumes a prefix of src and fills a prefix of dst, returning how
// much of each it used.  A nil error means the engine needs more input or more
// output space; io.EOF means the frame is complete and all of its output has
// been delivered; any other error is fatal and sticky.  After io.EOF the
// engine expects the next frame.  Decode never retains src or dst.
type Engine interface {
	Decode(dst, src []byte) (nDst, nSrc int, err error)
	Close() error
}

// Format identifies a frame format.
type Format int

const (
	// Auto selects the format of every frame by its magic number.
	Auto Format = iota
	Zstd
	Gzip
	LZ4
)

func (f Format) String() string {
	switch f {
	case Auto:
		return "auto"
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	case LZ4:
		return "lz4"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParseFormat is the inverse of Format.String.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return Auto, nil
	case "zstd", "zst":
		return Zstd, nil
	case "gzip", "gz":
		return Gzip, nil
	case "lz4":
		return LZ4, nil
	}
	return Auto, fmt.Errorf("unknown format %q", s)
}

// HeaderSize is the smallest number of bytes every frame of the format starts with.
func (f Format) HeaderSize() int {
	switch f {
	case Zstd:
		return zstdMinHeaderSize
	case Gzip:
		return gzipHeaderSize
	case LZ4:
		return lz4MinHeaderSize
	}
	return 0
}

// MagicSize is the number of bytes Detect needs.
const MagicSize = 4

// Detect returns the format whose magic number p starts with.
// Skippable frames are reported as Zstd.
func Detect(p []byte) (Format, bool) {
	if len(p) >= 2 && p[0] == 0x1f && p[1] == 0x8b {
		return Gzip, true
	}
	if len(p) < MagicSize {
		return Auto, false
	}
	switch magic := le32(p); {
	case magic == zstdFrameMagic, magic&skippableMask == skippableFrameMagic:
		return Zstd, true
	case magic == lz4FrameMagic:
		return LZ4, true
	}
	return Auto, false
}

// New returns a fresh engine for a concrete format.
func New(f Format, opts ...Option) (Engine, error) {
	var o options
	o.setDefault()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	switch f {
	case Zstd:
		return newZstd(&o)
	case Gzip:
		return newGzip(&o), nil
	case LZ4:
		return newLZ4(&o), nil
	}
	return nil, fmt.Errorf("cannot create an engine for %s", f)
}

func le32(p []byte) uint32 {
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}
