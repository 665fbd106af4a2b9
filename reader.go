// Package frameseq reads a stream of back-to-back compressed frames one frame
// at a time without consuming any byte of the frame that follows.
package frameseq

import (
	"errors"
	"io"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/frameseq/frameseq/engine"
	"github.com/frameseq/frameseq/env"
)

const (
	// minVisible is the number of bytes Read keeps visible in the source before each decode step.
	minVisible = 4

	// maxHeaderSize bounds engine.Format.HeaderSize over all formats.
	maxHeaderSize = 16

	opOpen   = "frameseq.Open"
	opReopen = "Reader.Reopen"
	opRead   = "Reader.Read"
	opDetect = "detect"
	// opIO names descriptor failures.
	opIO = "read"
)

// errHeaderNotConsumed reports an engine that stopped inside the header probe.
// Every probe is shorter than the smallest complete frame of its format.
var errHeaderNotConsumed = errors.New("frame header was not fully consumed")

// ErrNoFrame is returned by Read when no frame is open, after Close or a failed Reopen.
var ErrNoFrame = errors.New("no frame is open")

// Reader decodes one frame of a concatenated stream at a time.
//
// Read returns the content of the current frame and io.EOF once the frame is
// complete; Reopen moves to the next frame.  The source is borrowed: Reader
// never reads past the end of the current frame, so the bytes that follow it
// stay in the source for the next Reopen or for other consumers.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	src    env.Source
	engine engine.Engine
	format engine.Format
	// eof is set once the current frame has been decoded completely.
	eof bool

	frame        env.FrameOffsetEntry
	digest       *xxhash.Digest
	nextID       int64
	decompOffset uint64

	probe [maxHeaderSize]byte
	o     readerOptions
}

var (
	_ io.Reader = (*Reader)(nil)
	_ io.Closer = (*Reader)(nil)
)

// Open creates a Reader positioned at the content of the first frame of src.
//
// io.EOF is returned if src is empty.  Any other failure is an *Error.
func Open(src env.Source, opts ...ROption) (*Reader, error) {
	r := Reader{
		src:    src,
		digest: xxhash.New(),
	}

	r.o.setDefault()
	for _, o := range opts {
		if err := o(&r.o); err != nil {
			return nil, err
		}
	}
	r.format = r.o.format

	if err := r.begin(opOpen); err != nil {
		_ = r.Close()
		return nil, err
	}
	return &r, nil
}

// Reopen positions the Reader at the next frame.
//
// A non-nil src replaces the current source and restarts frame numbering;
// the previous source is left untouched.  io.EOF is returned if there are no
// more frames.
func (r *Reader) Reopen(src env.Source) error {
	if src != nil {
		r.src = src
		r.nextID = 0
		r.decompOffset = 0
	}

	// An engine can only be reused after it decoded a frame to completion.
	if !r.eof {
		r.o.logger.Debug("resetting engine", zap.Stringer("format", r.format))
		if err := r.closeEngine(); err != nil {
			return r.engineError(err)
		}
	}
	r.eof = false

	return r.begin(opReopen)
}

// Read fills p with the content of the current frame.  Once the frame is
// complete it returns io.EOF without touching the source, until Reopen.
func (r *Reader) Read(p []byte) (int, error) {
	if r.eof {
		return 0, io.EOF
	}
	if r.engine == nil {
		return 0, &Error{Op: opRead, Kind: KindEngine, Err: ErrNoFrame}
	}
	if len(p) == 0 {
		return 0, nil
	}

	total := 0
	for len(p) > 0 && !r.eof {
		visible, err := r.src.Fill(minVisible)
		if err != nil {
			return total, &Error{Op: opIO, Kind: KindIO, Err: err}
		}

		// Tentative read: the engine alone knows where the frame ends, so it
		// gets the whole window and reports how much of it belonged to the frame.
		// An empty window still lets the engine flush the output it holds.
		nDst, nSrc, err := r.engine.Decode(p, r.src.Window())
		r.src.Advance(nSrc)
		r.frame.CompSize += uint64(nSrc)

		if nDst > 0 {
			_, _ = r.digest.Write(p[:nDst])
			r.frame.DecompSize += uint64(nDst)
			p = p[nDst:]
			total += nDst
		}

		switch {
		case errors.Is(err, io.EOF):
			r.complete()
		case err != nil:
			return total, r.engineError(err)
		case nDst == 0 && nSrc == 0 && visible == 0:
			return total, &Error{Op: opRead, Kind: KindMalformed, Err: ErrUnexpectedEOF}
		case nDst == 0 && nSrc == 0:
			return total, r.engineError(io.ErrNoProgress)
		}
	}

	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// Frame returns the statistics of the current frame.
// Checksum is only valid once the frame is complete.
func (r *Reader) Frame() env.FrameOffsetEntry {
	return r.frame
}

// Format returns the format of the current frame.
func (r *Reader) Format() engine.Format {
	return r.format
}

// Close releases the engine.  The source is not closed.
func (r *Reader) Close() error {
	return r.closeEngine()
}

// begin consumes the header of the next frame.
func (r *Reader) begin(op string) error {
	r.frame = env.FrameOffsetEntry{
		ID:           r.nextID,
		CompOffset:   uint64(r.src.Offset()),
		DecompOffset: r.decompOffset,
	}
	r.digest.Reset()

	if r.o.format == engine.Auto {
		if err := r.detect(op); err != nil {
			return err
		}
	}
	if r.engine == nil {
		e, err := engine.New(r.format,
			engine.WithMemLimit(r.o.memLimit), engine.WithLogger(r.o.logger))
		if err != nil {
			return &Error{Op: r.format.String(), Kind: KindEngine, Err: err}
		}
		r.engine = e
	}

	probe := r.probe[:r.format.HeaderSize()]
	n, err := r.src.ReadFull(probe)
	if err != nil {
		return &Error{Op: opIO, Kind: KindIO, Err: err}
	}
	if n == 0 {
		return io.EOF
	}
	r.frame.CompSize = uint64(n)
	if n < len(probe) {
		return &Error{Op: op, Kind: KindMalformed, Err: ErrInputTooSmall}
	}

	_, nSrc, err := r.engine.Decode(nil, probe)
	switch {
	case errors.Is(err, io.EOF):
		r.complete()
	case err != nil:
		return r.engineError(err)
	}
	if nSrc != len(probe) {
		return r.engineError(errHeaderNotConsumed)
	}

	r.o.logger.Debug("frame opened", zap.Stringer("format", r.format), zap.Object("frame", &r.frame))
	return nil
}

// detect selects the engine by the magic number of the next frame without consuming it.
func (r *Reader) detect(op string) error {
	n, err := r.src.Fill(engine.MagicSize)
	if err != nil {
		return &Error{Op: opIO, Kind: KindIO, Err: err}
	}
	if n == 0 {
		return io.EOF
	}

	f, ok := engine.Detect(r.src.Window())
	if !ok {
		if n < engine.MagicSize {
			r.src.Advance(n)
			r.frame.CompSize = uint64(n)
			return &Error{Op: op, Kind: KindMalformed, Err: ErrInputTooSmall}
		}
		return &Error{Op: opDetect, Kind: KindEngine, Err: engine.ErrUnknownFormat}
	}

	if f != r.format {
		if err := r.closeEngine(); err != nil {
			return r.engineError(err)
		}
		r.format = f
	}
	return nil
}

func (r *Reader) complete() {
	r.eof = true
	r.frame.Checksum = uint32((r.digest.Sum64() << 32) >> 32)
	r.nextID++
	r.decompOffset += r.frame.DecompSize

	r.o.logger.Debug("frame complete", zap.Object("frame", &r.frame))
}

// engineError wraps failures of the engine, including an exceeded memory limit.
func (r *Reader) engineError(err error) error {
	return &Error{Op: r.format.String(), Kind: KindEngine, Err: err}
}

func (r *Reader) closeEngine() error {
	if r.engine == nil {
		return nil
	}
	err := r.engine.Close()
	r.engine = nil
	return err
}
