// Command framepack splits its input into content-defined chunks and writes
// every chunk as a separate frame, producing input for framecat.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/SaveTheRbtz/fastcdc-go"
	"github.com/schollz/progressbar/v3"
	"github.com/zeebo/blake3"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/frameseq/frameseq"
	"github.com/frameseq/frameseq/engine"
	"github.com/frameseq/frameseq/framewriter"
	"github.com/frameseq/frameseq/readahead"
)

const prog = "framepack"

type config struct {
	input, output string
	format        engine.Format
	quality       int
	concurrency   int
	chunking      fastcdc.Options
	seekTable     bool
	verify        bool
	progress      bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var (
		inputFlag, outputFlag, chunkingFlag, formatFlag string
		qualityFlag, concurrencyFlag                    int
		seekTableFlag, verifyFlag, verboseFlag, quiet   bool
	)

	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&inputFlag, "f", "", "input filename")
	flags.StringVar(&outputFlag, "o", "", "output filename")
	flags.StringVar(&chunkingFlag, "c", "16:64:1024", "min:avg:max chunking block size (in kb)")
	flags.StringVar(&formatFlag, "F", "zstd", "frame format: zstd, gzip or lz4")
	flags.IntVar(&qualityFlag, "q", 1, "compression quality (lower == faster)")
	flags.IntVar(&concurrencyFlag, "j", runtime.GOMAXPROCS(0), "number of frames compressed concurrently")
	flags.BoolVar(&seekTableFlag, "s", true, "append a seek table")
	flags.BoolVar(&verifyFlag, "t", false, "test reading after the write")
	flags.BoolVar(&quiet, "quiet", false, "do not show progress")
	flags.BoolVar(&verboseFlag, "v", false, "be verbose")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	var err error
	var logger *zap.Logger
	if verboseFlag {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: failed to initialize logger: %v\n", prog, err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	cfg := config{
		input:       inputFlag,
		output:      outputFlag,
		quality:     qualityFlag,
		concurrency: concurrencyFlag,
		seekTable:   seekTableFlag,
		verify:      verifyFlag,
		progress:    !quiet,
	}
	if err := cfg.parse(chunkingFlag, formatFlag); err != nil {
		logger.Error("invalid arguments", zap.Error(err))
		return 2
	}

	if err := pack(context.Background(), cfg, stdin, stdout, stderr, logger); err != nil {
		logger.Error("failed to pack", zap.Error(err))
		return 1
	}
	return 0
}

func (c *config) parse(chunking, format string) (err error) {
	if c.input == "" || c.output == "" {
		return errors.New("both input and output files need to be defined")
	}
	if c.verify && c.output == "-" {
		return errors.New("verify can't be used with stdout output")
	}

	c.format, err = engine.ParseFormat(format)
	if err != nil {
		return err
	}
	if c.format == engine.Auto {
		return errors.New("an output format is required")
	}

	params := strings.SplitN(chunking, ":", 3)
	if len(params) != 3 {
		return fmt.Errorf("failed parse chunker params: expected min:avg:max, got %q", chunking)
	}
	var sizes [3]int
	for i, s := range params {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("failed to parse chunker param %q: %w", s, err)
		}
		sizes[i] = n * 1024
	}
	c.chunking = fastcdc.Options{
		MinSize:     sizes[0],
		AverageSize: sizes[1],
		MaxSize:     sizes[2],
	}
	return nil
}

func pack(ctx context.Context, cfg config, stdin io.Reader, stdout, stderr io.Writer, logger *zap.Logger) (err error) {
	input := stdin
	if cfg.input != "-" {
		f, err := os.Open(cfg.input)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		input = f
	}

	output := stdout
	if cfg.output != "-" {
		f, oerr := os.OpenFile(cfg.output, os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0o644)
		if oerr != nil {
			return fmt.Errorf("failed to open output: %w", oerr)
		}
		// a failed close may lose buffered frames
		defer multierr.AppendInvoke(&err, multierr.Close(f))
		output = f
	}

	enc, err := framewriter.NewFrameEncoder(cfg.format, cfg.quality)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}
	w, err := framewriter.NewWriter(output, enc,
		framewriter.WithWLogger(logger), framewriter.WithSeekTable(cfg.seekTable))
	if err != nil {
		return fmt.Errorf("failed to create frame writer: %w", err)
	}

	chunker, err := fastcdc.NewChunker(input, cfg.chunking)
	if err != nil {
		return fmt.Errorf("failed to create chunker: %w", err)
	}

	expected := blake3.New()
	frameSource := func() ([]byte, error) {
		chunk, err := chunker.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, err
		}
		if cfg.verify {
			if _, err := expected.Write(chunk.Data); err != nil {
				return nil, err
			}
		}
		// The chunker reuses its buffer while the frame is still being compressed.
		return append([]byte(nil), chunk.Data...), nil
	}

	var bar *progressbar.ProgressBar
	if cfg.progress {
		bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetDescription("packing"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish())
	}

	var frames, written atomic.Uint64
	err = w.WriteMany(ctx, frameSource,
		framewriter.WithConcurrency(cfg.concurrency),
		framewriter.WithWriteCallback(func(size uint32) {
			frames.Inc()
			written.Add(uint64(size))
			if bar != nil {
				_ = bar.Add64(int64(size))
			}
		}))
	if err != nil {
		return fmt.Errorf("failed to write frames: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close frame writer: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
	}
	logger.Info("packed input", zap.Uint64("frames", frames.Load()), zap.Uint64("size", written.Load()))

	if !cfg.verify {
		return nil
	}
	return verify(cfg, frames.Load(), written.Load(), expected.Sum(nil), logger)
}

// verify reads the output back frame by frame and compares it with what was written.
func verify(cfg config, frames, size uint64, expected []byte, logger *zap.Logger) error {
	f, err := os.Open(cfg.output)
	if err != nil {
		return fmt.Errorf("failed to open file for verification: %w", err)
	}
	defer f.Close()

	actual := blake3.New()
	index := frameseq.NewIndex()

	// Every frame is detected on its own: the seek table is a zstd skippable frame.
	r, err := frameseq.Open(readahead.New(f, 0), frameseq.WithRLogger(logger))
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		return fmt.Errorf("failed to open frame reader: %w", err)
	default:
		defer r.Close()
		index, err = frameseq.Drain(actual, r, nil)
		if err != nil {
			return fmt.Errorf("failed to read frames back: %w", err)
		}
	}

	dataFrames := uint64(index.Len())
	if cfg.seekTable && dataFrames > 0 {
		dataFrames--
	}
	if dataFrames != frames || index.Size() != size {
		return fmt.Errorf("verification failed: read %d frames of %d bytes, wrote %d frames of %d bytes",
			dataFrames, index.Size(), frames, size)
	}
	if !bytes.Equal(actual.Sum(nil), expected) {
		logger.Error("checksum verification failed",
			zap.Binary("actual", actual.Sum(nil)), zap.Binary("expected", expected))
		return errors.New("checksum verification failed")
	}
	logger.Info("checksum verification succeeded", zap.Binary("actual", actual.Sum(nil)))
	return nil
}
