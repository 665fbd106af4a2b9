// Package framewriter produces streams of independent, back-to-back frames,
// optionally terminated by a seek table.
package framewriter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/frameseq/frameseq/env"
)

var errClosed = errors.New("frame writer is closed")

// FrameSource returns one buffer at a time, each to become a frame.
// It returns nil once there are no more buffers.
type FrameSource func() ([]byte, error)

// Writer writes every buffer it is given as a separate frame.  It does not
// coalesce nor split data, and empty buffers produce no frame.
//
// A Writer is not safe for concurrent use; WriteMany parallelizes encoding
// internally.
type Writer struct {
	dst   io.Writer
	p     producer
	table seekTable

	o      writerOptions
	closed bool
}

var (
	_ io.Writer = (*Writer)(nil)
	_ io.Closer = (*Writer)(nil)
)

// NewWriter returns a Writer that encodes frames with enc and writes them to dst.
func NewWriter(dst io.Writer, enc FrameEncoder, opts ...WOption) (*Writer, error) {
	w := Writer{dst: dst}

	w.o.setDefault()
	for _, o := range opts {
		if err := o(&w.o); err != nil {
			return nil, err
		}
	}
	w.p = producer{enc: enc, logger: w.o.logger}
	return &w, nil
}

// Write encodes src as one frame.
func (w *Writer) Write(src []byte) (int, error) {
	if w.closed {
		return 0, errClosed
	}
	f, err := w.p.produce(src)
	if err != nil {
		return 0, err
	}
	if err := w.emit(f); err != nil {
		return 0, err
	}
	return len(src), nil
}

// Frames returns the statistics of the frames written so far.
func (w *Writer) Frames() []env.FrameOffsetEntry {
	return w.table.frames()
}

// Close writes the seek table, if enabled.  The underlying writer is not closed.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.o.seekTable {
		return nil
	}

	table, err := w.table.marshal()
	if err != nil {
		return err
	}
	w.o.logger.Debug("writing seek table", zap.Int("frames", len(w.table.entries)))
	return writeAll(w.dst, table)
}

// emit writes f and records it in the seek table.
func (w *Writer) emit(f frame) error {
	if len(f.data) == 0 {
		return nil
	}
	if err := writeAll(w.dst, f.data); err != nil {
		return err
	}
	w.table.add(f.entry)
	return nil
}

func writeAll(dst io.Writer, p []byte) error {
	n, err := dst.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("partial write: %d out of %d", n, len(p))
	}
	return nil
}

type job struct {
	seq  int
	data []byte
}

type encoded struct {
	seq int
	f   frame
}

// WriteMany drains next, encoding up to the configured number of frames in
// parallel, and writes the frames in the order next returned them.
func (w *Writer) WriteMany(ctx context.Context, next FrameSource, options ...WriteManyOption) error {
	if w.closed {
		return errClosed
	}
	opts := writeManyOptions{concurrency: runtime.GOMAXPROCS(0)}
	for _, o := range options {
		if err := o(&opts); err != nil {
			return err // no wrap, these should be user-comprehensible
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan job)
	results := make(chan encoded, opts.concurrency)
	// inflight bounds the frames read from next but not yet written.
	inflight := make(chan struct{}, 2*opts.concurrency)

	g.Go(func() error {
		defer close(jobs)
		for seq := 0; ; seq++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := next()
			if err != nil {
				return fmt.Errorf("frame source failed: %w", err)
			}
			if data == nil {
				return nil
			}
			select {
			case inflight <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			select {
			case jobs <- job{seq: seq, data: data}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	var encoders sync.WaitGroup
	for i := 0; i < opts.concurrency; i++ {
		encoders.Add(1)
		g.Go(func() error {
			defer encoders.Done()
			for j := range jobs {
				f, err := w.p.produce(j.data)
				if err != nil {
					return fmt.Errorf("failed to encode frame %d: %w", j.seq, err)
				}
				select {
				case results <- encoded{seq: j.seq, f: f}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		encoders.Wait()
		close(results)
	}()

	written := 0
	g.Go(func() error {
		// frames that finished ahead of their turn
		ahead := make(map[int]frame)
		for r := range results {
			ahead[r.seq] = r.f
			for {
				f, ok := ahead[written]
				if !ok {
					break
				}
				delete(ahead, written)
				written++

				if err := w.emit(f); err != nil {
					return fmt.Errorf("failed to write compressed data: %w", err)
				}
				<-inflight
				if len(f.data) > 0 && opts.writeCallback != nil {
					opts.writeCallback(f.entry.DecompressedSize)
				}
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	w.o.logger.Debug("frames written",
		zap.Int("buffers", written), zap.Int("frames", len(w.table.entries)),
		zap.Int("concurrency", opts.concurrency))
	return nil
}
