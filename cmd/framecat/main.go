// Command framecat decompresses a stream of concatenated frames twice: a
// validation pass with the output discarded, then, after rewinding the input,
// a second pass that writes the content to stdout.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/frameseq/frameseq"
	"github.com/frameseq/frameseq/engine"
	"github.com/frameseq/frameseq/readahead"
)

const prog = "framecat"

const (
	callOpen   = "frameseq.Open"
	callDrain  = "frameseq.Drain"
	callReopen = "Reader.Reopen"
	callSeek   = "Seek"
	callVerify = "verify"
)

var (
	errRewind  = errors.New("rewound input has no frames")
	errIndex   = errors.New("frame indexes of both passes differ")
	errContent = errors.New("content digests of both passes differ")
)

type config struct {
	input    string
	format   engine.Format
	memLimit uint64
	verbose  bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.ReadSeeker, stdout, stderr io.Writer) int {
	var (
		inputFlag, formatFlag string
		memLimitFlag          uint64
		verboseFlag           bool
	)

	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&inputFlag, "f", "-", "input filename")
	flags.StringVar(&formatFlag, "F", "auto", "frame format: auto, zstd, gzip or lz4")
	flags.Uint64Var(&memLimitFlag, "m", engine.DefaultMemLimit>>20, "engine memory limit (in MiB)")
	flags.BoolVar(&verboseFlag, "v", false, "be verbose")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	format, err := engine.ParseFormat(formatFlag)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", prog, err)
		return 2
	}
	cfg := config{
		input:    inputFlag,
		format:   format,
		memLimit: memLimitFlag << 20,
		verbose:  verboseFlag,
	}

	logger := newLogger(stderr, cfg.verbose)
	defer func() {
		_ = logger.Sync()
	}()

	input := stdin
	if cfg.input != "-" {
		f, err := os.Open(cfg.input)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", prog, err)
			return 1
		}
		defer f.Close()
		input = f
	}

	empty, err := catTwice(input, stdout, cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, diagnostic(err))
		return 1
	}
	if empty {
		fmt.Fprintf(stderr, "%s: empty input\n", prog)
	}
	return 0
}

// newLogger logs to w; without verbose only warnings are logged so that a
// failure is reported by the diagnostic line alone.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	if verbose {
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), zap.DebugLevel))
	}
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), zap.WarnLevel))
}

// callError names the call that failed.
type callError struct {
	call string
	err  error
}

func (e *callError) Error() string {
	return e.call + ": " + e.err.Error()
}

func (e *callError) Unwrap() error {
	return e.err
}

// diagnostic renders err as "framecat: <call>: <origin>: <message>", leaving
// out the call when the origin already names it.
func diagnostic(err error) string {
	var ce *callError
	if !errors.As(err, &ce) {
		return prog + ": " + err.Error()
	}
	var fe *frameseq.Error
	if errors.As(ce.err, &fe) && fe.Op == ce.call {
		return prog + ": " + fe.Error()
	}
	return prog + ": " + ce.Error()
}

func catTwice(input io.ReadSeeker, stdout io.Writer, cfg config, logger *zap.Logger) (empty bool, err error) {
	src := readahead.New(input, 0)
	r, err := frameseq.Open(src,
		frameseq.WithFormat(cfg.format),
		frameseq.WithMemLimit(cfg.memLimit),
		frameseq.WithRLogger(logger))
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, &callError{callOpen, err}
	}
	defer r.Close()

	buf := make([]byte, frameseq.DefaultBufferSize)

	expected := blake3.New()
	first, err := frameseq.Drain(expected, r, buf)
	if err != nil {
		return false, &callError{callDrain, err}
	}
	logger.Info("validation pass done",
		zap.Int("frames", first.Len()), zap.Uint64("size", first.Size()),
		zap.Binary("blake3", expected.Sum(nil)))

	if _, err := input.Seek(0, io.SeekStart); err != nil {
		return false, &callError{callSeek, err}
	}
	src.Reset(input)
	if err := r.Reopen(src); err != nil {
		if errors.Is(err, io.EOF) {
			err = errRewind
		}
		return false, &callError{callReopen, err}
	}

	actual := blake3.New()
	second, err := frameseq.Drain(io.MultiWriter(stdout, actual), r, buf)
	if err != nil {
		return false, &callError{callDrain, err}
	}

	if !first.Equal(second) {
		return false, &callError{callVerify, errIndex}
	}
	if !bytes.Equal(actual.Sum(nil), expected.Sum(nil)) {
		logger.Warn("content mismatch",
			zap.Binary("actual", actual.Sum(nil)), zap.Binary("expected", expected.Sum(nil)))
		return false, &callError{callVerify, errContent}
	}
	logger.Info("output pass done", zap.Int("frames", second.Len()), zap.Uint64("size", second.Size()))
	return false, nil
}
