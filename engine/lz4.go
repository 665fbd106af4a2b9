package engine

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

const (
	lz4FrameMagic uint32 = 0x184D2204

	// magic + FLG + BD + header checksum.
	lz4MinHeaderSize = 7
)

// lz4Engine decodes one LZ4 frame per frame.  Skippable frames that precede
// a data frame are consumed by the library as part of that frame.
type lz4Engine struct {
	*pullEngine
	zr *lz4.Reader
}

func newLZ4(o *options) *lz4Engine {
	e := &lz4Engine{}
	e.pullEngine = newPull(LZ4.String(), e.open, o)
	return e
}

func (e *lz4Engine) open(r io.Reader) (io.Reader, error) {
	if e.zr == nil {
		e.zr = lz4.NewReader(r)
		if err := e.zr.Apply(lz4.ConcurrencyOption(1)); err != nil {
			return nil, err
		}
		return e.zr, nil
	}
	e.zr.Reset(r)
	return e.zr, nil
}
