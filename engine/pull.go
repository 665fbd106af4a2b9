package engine

import (
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
)

const pullBufferSize = 64 << 10

var errClosed = errors.New("engine closed")

type eventKind int

const (
	eventNeedInput eventKind = iota
	eventOutput
	eventEnd
	eventError
)

type event struct {
	kind eventKind
	data []byte
	err  error
}

// frameOpener binds a decompressor to r and returns a reader of exactly one frame.
type frameOpener func(r io.Reader) (io.Reader, error)

// pullEngine adapts a pull-style decompressor to the Engine interface.
//
// The decompressor runs on its own goroutine, but only while Decode waits
// for its next event: resume and events strictly alternate, so the two sides
// never run at the same time.  The decompressor reads from feed, which serves
// exactly the window passed to Decode and suspends when it is exhausted.
type pullEngine struct {
	name   string
	open   frameOpener
	logger *zap.Logger

	feed    feed
	buf     []byte
	// translate, if set, rewrites decompressor failures before Decode reports them.
	translate func(error) error
	pending []byte
	err     error

	started bool
	resume  chan struct{}
	events  chan event
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newPull(name string, open frameOpener, o *options) *pullEngine {
	e := &pullEngine{
		name:   name,
		open:   open,
		logger: o.logger,
		buf:    make([]byte, pullBufferSize),
		resume: make(chan struct{}),
		events: make(chan event),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.feed.yield = e.yield
	return e
}

func (e *pullEngine) Decode(dst, src []byte) (nDst, nSrc int, err error) {
	if e.err != nil {
		return 0, 0, e.err
	}

	nDst = copy(dst, e.pending)
	e.pending = e.pending[nDst:]
	if len(e.pending) > 0 {
		return nDst, 0, nil
	}

	e.feed.window, e.feed.off = src, 0
	defer func() { e.feed.window = nil }()

	for {
		ev := e.step()
		switch ev.kind {
		case eventNeedInput:
			return nDst, e.feed.off, nil
		case eventOutput:
			n := copy(dst[nDst:], ev.data)
			nDst += n
			if n < len(ev.data) {
				e.pending = ev.data[n:]
				return nDst, e.feed.off, nil
			}
		case eventEnd:
			return nDst, e.feed.off, io.EOF
		case eventError:
			e.err = ev.err
			return nDst, e.feed.off, ev.err
		}
	}
}

func (e *pullEngine) step() event {
	if !e.started {
		e.started = true
		go e.run()
	}
	e.resume <- struct{}{}
	return <-e.events
}

func (e *pullEngine) Close() error {
	e.once.Do(func() {
		close(e.quit)
		if e.started {
			<-e.done
		}
		e.err = errClosed
	})
	return nil
}

func (e *pullEngine) run() {
	defer close(e.done)

	select {
	case <-e.resume:
	case <-e.quit:
		return
	}

	for {
		r, err := e.open(&e.feed)
		if err == nil {
			err = e.pump(r)
		}
		if err != nil {
			if !errors.Is(err, errClosed) {
				if e.translate != nil {
					err = e.translate(err)
				}
				e.logger.Debug("frame decoding failed", zap.String("engine", e.name), zap.Error(err))
			}
			select {
			case e.events <- event{kind: eventError, err: err}:
			case <-e.quit:
			}
			return
		}
		if e.yield(event{kind: eventEnd}) != nil {
			return
		}
	}
}

// pump copies decompressed output of one frame into events.
func (e *pullEngine) pump(r io.Reader) error {
	for {
		n, err := r.Read(e.buf)
		if n > 0 {
			if yerr := e.yield(event{kind: eventOutput, data: e.buf[:n]}); yerr != nil {
				return yerr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// yield hands ev to Decode and suspends until the next Decode call.
func (e *pullEngine) yield(ev event) error {
	select {
	case e.events <- ev:
	case <-e.quit:
		return errClosed
	}
	select {
	case <-e.resume:
		return nil
	case <-e.quit:
		return errClosed
	}
}

// boundary knows where the current frame ends.
type boundary interface {
	// span returns how many of the following bytes may belong to the frame, 0 at its end.
	span() int
	consume(p []byte) error
}

// feed serves the current window to the decompressor.
// It implements io.ByteReader so that flate never buffers ahead of the frame end.
type feed struct {
	window []byte
	off    int
	yield  func(event) error
	// bound, if set, ends the input at the end of the frame.
	bound boundary
}

func (f *feed) wait() error {
	for {
		if f.bound != nil && f.bound.span() == 0 {
			return io.EOF
		}
		if f.off < len(f.window) {
			return nil
		}
		if err := f.yield(event{kind: eventNeedInput}); err != nil {
			return err
		}
	}
}

func (f *feed) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := f.wait(); err != nil {
		return 0, err
	}
	avail := f.window[f.off:]
	if len(avail) > len(p) {
		avail = avail[:len(p)]
	}
	if f.bound != nil {
		if span := f.bound.span(); len(avail) > span {
			avail = avail[:span]
		}
		if err := f.bound.consume(avail); err != nil {
			return 0, err
		}
	}
	n := copy(p, avail)
	f.off += n
	return n, nil
}

func (f *feed) ReadByte() (byte, error) {
	if err := f.wait(); err != nil {
		return 0, err
	}
	c := f.window[f.off]
	if f.bound != nil {
		if err := f.bound.consume(f.window[f.off : f.off+1]); err != nil {
			return 0, err
		}
	}
	f.off++
	return c, nil
}
