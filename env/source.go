package env

// Source is a buffered, forward-only view of a byte stream.
//
// The consumable window is Window(); consumers shrink it from the front
// with Advance and never grow it themselves: only Fill and ReadFull pull
// more bytes from the underlying descriptor.  The window returned by Window
// is invalidated by the next call to Fill or ReadFull.
type Source interface {
	// Fill ensures that at least n bytes are visible in the window, reading
	// from the descriptor as needed.  It returns the number of visible bytes,
	// which is less than n only at the end of input; 0 means the input is
	// exhausted.  An error is returned only if the descriptor failed.
	Fill(n int) (int, error)

	// ReadFull consumes up to len(p) bytes into p, refilling as needed.  A
	// short count means the end of input was reached.  An error is returned
	// only if the descriptor failed.
	ReadFull(p []byte) (int, error)

	// Window returns the currently visible, unconsumed bytes.
	Window() []byte

	// Advance consumes n bytes from the front of the window.
	// n must not exceed len(Window()).
	Advance(n int)

	// Offset returns the number of bytes consumed since the descriptor was attached.
	Offset() int64
}
