package framewriter

import (
	"fmt"

	"go.uber.org/zap"
)

type WOption func(*writerOptions) error

type writerOptions struct {
	logger    *zap.Logger
	seekTable bool
}

func (o *writerOptions) setDefault() {
	*o = writerOptions{
		logger:    zap.NewNop(),
		seekTable: true,
	}
}

func WithWLogger(l *zap.Logger) WOption {
	return func(o *writerOptions) error { o.logger = l; return nil }
}

// WithSeekTable controls whether Close appends the seek table.  Enabled by default.
func WithSeekTable(enabled bool) WOption {
	return func(o *writerOptions) error { o.seekTable = enabled; return nil }
}

type WriteManyOption func(*writeManyOptions) error

type writeManyOptions struct {
	concurrency   int
	writeCallback func(size uint32)
}

// WithConcurrency limits the number of frames encoded in parallel.
func WithConcurrency(concurrency int) WriteManyOption {
	return func(o *writeManyOptions) error {
		if concurrency < 1 {
			return fmt.Errorf("concurrency must be positive: %d", concurrency)
		}
		o.concurrency = concurrency
		return nil
	}
}

// WithWriteCallback registers a callback invoked with the decompressed size of every written frame.
func WithWriteCallback(cb func(size uint32)) WriteManyOption {
	return func(o *writeManyOptions) error { o.writeCallback = cb; return nil }
}
