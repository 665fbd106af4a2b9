package frameseq

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// DefaultBufferSize is the size of the copy buffer Drain allocates when none is given.
const DefaultBufferSize = 256 << 10

// Drain writes the content of the current frame and of every frame after it
// to w, reopening r between frames on the same source.  It returns the index
// of the drained frames; on failure the index holds the frames completed so far.
//
// r must be positioned at a frame, as left by Open or a successful Reopen.
func Drain(w io.Writer, r *Reader, buf []byte) (*Index, error) {
	if len(buf) == 0 {
		buf = make([]byte, DefaultBufferSize)
	}

	index := NewIndex()
	for {
		for {
			n, err := r.Read(buf)
			if n > 0 {
				m, werr := w.Write(buf[:n])
				if werr != nil {
					return index, werr
				}
				if m != n {
					return index, fmt.Errorf("partial write: %d out of %d", m, n)
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return index, err
			}
		}

		frame := r.Frame()
		index.Add(frame)
		r.o.logger.Debug("frame drained", zap.Object("frame", &frame))

		if err := r.Reopen(nil); err != nil {
			if errors.Is(err, io.EOF) {
				return index, nil
			}
			return index, err
		}
	}
}
