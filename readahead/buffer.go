// Package readahead provides the buffered source consumed by frameseq.Reader.
package readahead

import (
	"bufio"
	"errors"
	"io"

	"github.com/frameseq/frameseq/env"
)

// DefaultSize is the default capacity of the read-ahead buffer.
const DefaultSize = 128 << 10

var _ env.Source = (*Buffer)(nil)

// Buffer is a read-ahead buffer over a descriptor.
type Buffer struct {
	rd  *bufio.Reader
	off int64
}

// New returns a Buffer reading from rd with a buffer of at least size bytes.
// size <= 0 selects DefaultSize.
func New(rd io.Reader, size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{rd: bufio.NewReaderSize(rd, size)}
}

// Reset drops all buffered bytes and attaches rd, keeping the allocated buffer.
// Used to rewind after the descriptor has been repositioned.
func (b *Buffer) Reset(rd io.Reader) {
	b.rd.Reset(rd)
	b.off = 0
}

// Size returns the capacity of the buffer; Fill never makes more than Size bytes visible.
func (b *Buffer) Size() int {
	return b.rd.Size()
}

func (b *Buffer) Fill(n int) (int, error) {
	if n > b.rd.Size() {
		n = b.rd.Size()
	}
	if b.rd.Buffered() >= n {
		return b.rd.Buffered(), nil
	}
	_, err := b.rd.Peek(n)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return b.rd.Buffered(), err
	}
	return b.rd.Buffered(), nil
}

func (b *Buffer) ReadFull(p []byte) (int, error) {
	n, err := io.ReadFull(b.rd, p)
	b.off += int64(n)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	return n, err
}

func (b *Buffer) Window() []byte {
	// Peeking at what is already buffered never touches the descriptor.
	p, _ := b.rd.Peek(b.rd.Buffered())
	return p
}

func (b *Buffer) Advance(n int) {
	if n <= 0 {
		return
	}
	if n > b.rd.Buffered() {
		panic("readahead: advance beyond the window")
	}
	d, _ := b.rd.Discard(n)
	b.off += int64(d)
}

func (b *Buffer) Offset() int64 {
	return b.off
}
