package frameseq

import (
	"go.uber.org/zap"

	"github.com/frameseq/frameseq/engine"
)

type ROption func(*readerOptions) error

type readerOptions struct {
	logger   *zap.Logger
	format   engine.Format
	memLimit uint64
}

func (o *readerOptions) setDefault() {
	*o = readerOptions{
		logger:   zap.NewNop(),
		format:   engine.Auto,
		memLimit: engine.DefaultMemLimit,
	}
}

func WithRLogger(l *zap.Logger) ROption {
	return func(o *readerOptions) error { o.logger = l; return nil }
}

// WithFormat fixes the frame format.  The default, engine.Auto, detects the
// format of every frame from its magic number.
func WithFormat(f engine.Format) ROption {
	return func(o *readerOptions) error { o.format = f; return nil }
}

// WithMemLimit sets the memory ceiling of the decode engine.
func WithMemLimit(n uint64) ROption {
	return func(o *readerOptions) error { o.memLimit = n; return nil }
}
