package framewriter

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/frameseq/frameseq/engine"
)

func TestWriter(t *testing.T) {
	t.Parallel()

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	require.NoError(t, err)

	var b bytes.Buffer
	w, err := NewWriter(&b, enc)
	require.NoError(t, err)

	bytes1 := []byte("test")
	bytesWritten1, err := w.Write(bytes1)
	require.NoError(t, err)
	bytes2 := []byte("test2")
	bytesWritten2, err := w.Write(bytes2)
	require.NoError(t, err)
	n, err := w.Write(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	frames := w.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, uint64(bytesWritten1), frames[0].DecompSize)
	assert.Equal(t, uint64(bytesWritten2), frames[1].DecompSize)
	assert.Equal(t, frames[0].CompSize, frames[1].CompOffset)
	assert.Equal(t, uint64(b.Len()), frames[1].CompOffset+frames[1].CompSize)

	index1CompressedSize := uint32(frames[0].CompSize)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	require.ErrorIs(t, err, errClosed)

	buf := b.Bytes()
	// magic footer
	assert.Equal(t, []byte{0xb1, 0xea, 0x92, 0x8f}, buf[len(buf)-4:])
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[len(buf)-9:len(buf)-5]))
	// index.1
	indexOffset := len(buf) - 4 - 1 - 4 - 2*12
	assert.Equal(t, index1CompressedSize, binary.LittleEndian.Uint32(buf[indexOffset:indexOffset+4]))
	assert.Equal(t, uint32(len(bytes1)), binary.LittleEndian.Uint32(buf[indexOffset+4:indexOffset+8]))
	// skipframe header
	frameOffset := indexOffset - 4 - 4
	assert.Equal(t, []byte{0x5e, 0x2a, 0x4d, 0x18}, buf[frameOffset:frameOffset+4])
	assert.Equal(t, uint32(0x21), binary.LittleEndian.Uint32(buf[frameOffset+4:frameOffset+8]))

	// a stock decoder skips the seek table
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	decoded, err := dec.DecodeAll(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, "testtest2", string(decoded))

	entries, err := ParseSeekTable(buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(0), entries[0].CompOffset)
	assert.Equal(t, uint64(index1CompressedSize), entries[1].CompOffset)
	assert.Equal(t, uint64(4), entries[1].DecompOffset)
	assert.Equal(t, uint64(5), entries[1].DecompSize)
	assert.Equal(t, frames, entries)
}

func TestWriterWithoutSeekTable(t *testing.T) {
	t.Parallel()

	enc, err := NewFrameEncoder(engine.Gzip, 1)
	require.NoError(t, err)

	var b bytes.Buffer
	w, err := NewWriter(&b, enc, WithSeekTable(false))
	require.NoError(t, err)

	_, err = w.Write([]byte("test"))
	require.NoError(t, err)
	size := b.Len()
	require.NoError(t, w.Close())
	assert.Equal(t, size, b.Len())
	assert.Equal(t, []byte{0x1f, 0x8b}, b.Bytes()[:2])
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) {
	return len(p) / 2, nil
}

type failingWriter struct {
	after int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after == 0 {
		return 0, errors.New("disk full")
	}
	w.after--
	return len(p), nil
}

func TestWriterShortWrite(t *testing.T) {
	t.Parallel()

	enc, err := NewFrameEncoder(engine.LZ4, 1)
	require.NoError(t, err)

	w, err := NewWriter(shortWriter{}, enc)
	require.NoError(t, err)
	_, err = w.Write([]byte("test"))
	require.ErrorContains(t, err, "partial write")
	assert.Empty(t, w.Frames())
}

func makeTestFrame(t *testing.T, idx int) []byte {
	var b bytes.Buffer
	for i := 0; i < 100; i++ {
		s := fmt.Sprintf("test%d", idx+i)
		_, err := b.WriteString(s)
		require.NoError(t, err)
	}
	return b.Bytes()
}

func makeTestFrameSource(t *testing.T, count int) FrameSource {
	idx := 0
	return func() ([]byte, error) {
		if idx >= count {
			return nil, nil
		}
		ret := makeTestFrame(t, idx)
		idx++
		return ret, nil
	}
}

func TestConcurrentWriter(t *testing.T) {
	t.Parallel()

	for _, format := range []engine.Format{engine.Zstd, engine.Gzip, engine.LZ4} {
		format := format
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()

			enc, err := NewFrameEncoder(format, 1)
			require.NoError(t, err)

			frameCount := 20

			// Write concurrently
			var b bytes.Buffer
			concurrentWriter, err := NewWriter(&b, enc)
			require.NoError(t, err)

			var written atomic.Int64
			err = concurrentWriter.WriteMany(context.Background(), makeTestFrameSource(t, frameCount),
				WithConcurrency(5),
				WithWriteCallback(func(size uint32) { written.Add(int64(size)) }))
			require.NoError(t, err)
			require.NoError(t, concurrentWriter.Close())

			// Write one at a time
			var nb bytes.Buffer
			oneWriter, err := NewWriter(&nb, enc)
			require.NoError(t, err)

			var total int64
			for i := 0; i < frameCount; i++ {
				frame := makeTestFrame(t, i)
				total += int64(len(frame))
				_, err = oneWriter.Write(frame)
				require.NoError(t, err)
			}
			require.NoError(t, oneWriter.Close())

			assert.Equal(t, total, written.Load())
			assert.Equal(t, nb.Bytes(), b.Bytes())
		})
	}
}

func TestConcurrentWriterErrors(t *testing.T) {
	t.Parallel()

	enc, err := NewFrameEncoder(engine.Zstd, 1)
	require.NoError(t, err)

	w, err := NewWriter(io.Discard, enc)
	require.NoError(t, err)

	err = w.WriteMany(context.Background(), makeTestFrameSource(t, 1), WithConcurrency(0))
	require.Error(t, err)

	errSource := errors.New("source failed")
	err = w.WriteMany(context.Background(), func() ([]byte, error) { return nil, errSource })
	require.ErrorIs(t, err, errSource)

	// the sink fails while later frames are still being encoded
	w, err = NewWriter(&failingWriter{after: 3}, enc)
	require.NoError(t, err)
	err = w.WriteMany(context.Background(), makeTestFrameSource(t, 50), WithConcurrency(4))
	require.ErrorContains(t, err, "disk full")
	assert.Len(t, w.Frames(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w, err = NewWriter(io.Discard, enc)
	require.NoError(t, err)
	err = w.WriteMany(ctx, makeTestFrameSource(t, 50), WithConcurrency(2))
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, w.Close())
	err = w.WriteMany(context.Background(), makeTestFrameSource(t, 1))
	require.ErrorIs(t, err, errClosed)
}

func TestWriteManyOrder(t *testing.T) {
	t.Parallel()

	enc, err := NewFrameEncoder(engine.Gzip, 1)
	require.NoError(t, err)

	// empty buffers produce no frame and keep the order of the others
	buffers := [][]byte{[]byte("a"), {}, []byte("bb"), []byte("ccc"), {}, []byte("dddd")}
	idx := 0
	source := func() ([]byte, error) {
		if idx == len(buffers) {
			return nil, nil
		}
		idx++
		return buffers[idx-1], nil
	}

	var b bytes.Buffer
	w, err := NewWriter(&b, enc, WithSeekTable(false))
	require.NoError(t, err)
	var sizes []uint32
	err = w.WriteMany(context.Background(), source, WithConcurrency(3),
		WithWriteCallback(func(size uint32) { sizes = append(sizes, size) }))
	require.NoError(t, err)

	assert.Equal(t, []uint32{1, 2, 3, 4}, sizes)
	frames := w.Frames()
	require.Len(t, frames, 4)
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.DecompSize)
	}
	assert.Equal(t, uint64(b.Len()), frames[3].CompOffset+frames[3].CompSize)
}

func TestNewFrameEncoder(t *testing.T) {
	t.Parallel()

	_, err := NewFrameEncoder(engine.Auto, 1)
	require.Error(t, err)

	for _, level := range []int{-10, 0, 5, 100} {
		for _, format := range []engine.Format{engine.Zstd, engine.Gzip, engine.LZ4} {
			enc, err := NewFrameEncoder(format, level)
			require.NoError(t, err, "%s level %d", format, level)

			out := enc.EncodeAll([]byte("test"), []byte("prefix"))
			assert.Equal(t, []byte("prefix"), out[:6])
			f, ok := engine.Detect(out[6:])
			assert.True(t, ok)
			assert.Equal(t, format, f)
		}
	}
}
