package frameseq_test

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/frameseq/frameseq"
	"github.com/frameseq/frameseq/engine"
	"github.com/frameseq/frameseq/framewriter"
	"github.com/frameseq/frameseq/readahead"
)

func Example() {
	var b bytes.Buffer

	enc, err := framewriter.NewFrameEncoder(engine.Zstd, 1)
	if err != nil {
		log.Fatal(err)
	}
	w, err := framewriter.NewWriter(&b, enc, framewriter.WithSeekTable(false))
	if err != nil {
		log.Fatal(err)
	}

	// Every write becomes a separate frame.
	for _, p := range [][]byte{[]byte("Hello"), []byte(" World!")} {
		if _, err = w.Write(p); err != nil {
			log.Fatal(err)
		}
	}
	if err = w.Close(); err != nil {
		log.Fatal(err)
	}

	src := readahead.New(&b, 0)
	r, err := frameseq.Open(src)
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	for {
		content, err := io.ReadAll(r)
		if err != nil {
			log.Fatal(err)
		}
		frame := r.Frame()
		fmt.Printf("frame %d: %q\n", frame.ID, content)

		if err := r.Reopen(nil); err == io.EOF {
			break
		} else if err != nil {
			log.Fatal(err)
		}
	}
	// Output:
	// frame 0: "Hello"
	// frame 1: " World!"
}

func ExampleDrain() {
	var b bytes.Buffer

	for _, f := range []engine.Format{engine.Gzip, engine.LZ4, engine.Zstd} {
		enc, err := framewriter.NewFrameEncoder(f, 1)
		if err != nil {
			log.Fatal(err)
		}
		w, err := framewriter.NewWriter(&b, enc, framewriter.WithSeekTable(false))
		if err != nil {
			log.Fatal(err)
		}
		if _, err = w.Write([]byte(f.String() + "\n")); err != nil {
			log.Fatal(err)
		}
		if err = w.Close(); err != nil {
			log.Fatal(err)
		}
	}

	r, err := frameseq.Open(readahead.New(&b, 0))
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	index, err := frameseq.Drain(os.Stdout, r, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(index.Len(), "frames,", index.Size(), "bytes")
	// Output:
	// gzip
	// lz4
	// zstd
	// 3 frames, 14 bytes
}
