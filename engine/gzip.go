package engine

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// gzipHeaderSize is the fixed part of a gzip member header.
const gzipHeaderSize = 10

// gzipEngine decodes one gzip member per frame.
type gzipEngine struct {
	*pullEngine
	zr *gzip.Reader
}

func newGzip(o *options) *gzipEngine {
	e := &gzipEngine{}
	e.pullEngine = newPull(Gzip.String(), e.open, o)
	return e
}

// open reads the member header from r.  The reader is reused across members;
// Reset re-enables multistream mode, so it is turned off after every Reset.
func (e *gzipEngine) open(r io.Reader) (io.Reader, error) {
	if e.zr == nil {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		e.zr = zr
	} else if err := e.zr.Reset(r); err != nil {
		return nil, err
	}
	e.zr.Multistream(false)
	return e.zr, nil
}
