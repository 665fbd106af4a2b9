package engine

import (
	"fmt"

	"go.uber.org/zap"
)

type Option func(*options) error

type options struct {
	memLimit uint64
	logger   *zap.Logger
}

func (o *options) setDefault() {
	*o = options{
		memLimit: DefaultMemLimit,
		logger:   zap.NewNop(),
	}
}

// WithMemLimit sets the largest frame window the engine accepts.
func WithMemLimit(n uint64) Option {
	return func(o *options) error {
		if n < minMemLimit {
			return fmt.Errorf("memory limit %d is below %d", n, minMemLimit)
		}
		o.memLimit = n
		return nil
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) error { o.logger = l; return nil }
}
