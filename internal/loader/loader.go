// Package loader reads a patients.csv source and maps every data row to a
// fhir.Patient, keeping source order and collecting rows it had to skip.
//
// The source format is fixed: one header line, then comma-separated rows
// with no quoting. Each line is trimmed and split on ','. A blank line maps
// to a one-field row and is reported like any other malformed row.
package loader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/JonMunkholm/fhirmap/internal/fhir"
	"github.com/JonMunkholm/fhirmap/internal/mapper"
)

// ContextCheckInterval is how often, in rows, cancellation is checked.
var ContextCheckInterval = 100

const (
	DefaultChunkSize = 1000
	maxWorkers       = 64
)

// Options configures a Loader. The zero value loads sequentially and
// collects malformed rows.
type Options struct {
	// FailFast aborts on the first malformed row.
	FailFast bool

	// Workers > 1 maps rows in parallel. Output order is unchanged.
	Workers int

	// ChunkSize is the number of lines handed to the workers at once.
	ChunkSize int

	DateMode mapper.DateMode

	// SourceSize is used for progress reporting when known.
	SourceSize int64

	Logger *slog.Logger
}

// FailedRow is a data row that was skipped.
type FailedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Data   string `json:"data"`
}

// Result is the outcome of one load.
type Result struct {
	Source    string
	Patients  []fhir.Patient
	Failed    []FailedRow
	Fallbacks mapper.Fallbacks

	// ReadErr is set when the source could not be opened or broke off
	// mid-stream. Patients then holds the rows read before the failure.
	ReadErr error

	// Lines counts data lines up to the last row processed, failed lines
	// included.
	Lines     int
	BytesRead int64
	Duration  time.Duration
}

// Warning returns the read error message, or "".
func (r *Result) Warning() string {
	if r.ReadErr == nil {
		return ""
	}
	return r.ReadErr.Error()
}

// ReadError wraps an I/O failure on the source.
type ReadError struct {
	Line int
	Err  error
}

func (e *ReadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("read source after line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("read source: %v", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// RowResult is one data row: either a Patient or an error. Err is a
// *mapper.MalformedRowError for a bad row and a *ReadError when the source
// failed, after which the sequence ends.
type RowResult struct {
	Line      int
	Data      string
	Patient   fhir.Patient
	Fallbacks mapper.Fallbacks
	Err       error
}

// Loader maps patients.csv sources. It holds no per-load state and may be
// shared.
type Loader struct {
	opts   Options
	mapper mapper.Mapper
	logger *slog.Logger
}

func New(opts Options) *Loader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers > maxWorkers {
		opts.Workers = maxWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		opts:   opts,
		mapper: mapper.New(opts.DateMode),
		logger: logger,
	}
}

// Options returns the effective options.
func (l *Loader) Options() Options { return l.opts }

type line struct {
	num  int
	text string
	err  error
}

// lines yields trimmed data lines. The first line is discarded.
func lines(r io.Reader) iter.Seq[line] {
	return func(yield func(line) bool) {
		br := bufio.NewReaderSize(r, 64*1024)
		num := 0
		for {
			s, err := br.ReadString('\n')
			if s != "" {
				num++
				if num > 1 && !yield(line{num: num, text: strings.TrimSpace(s)}) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(line{num: num, err: &ReadError{Line: num, Err: err}})
				return
			}
		}
	}
}

func (l *Loader) mapLine(ln line) RowResult {
	if ln.err != nil {
		return RowResult{Line: ln.num, Err: ln.err}
	}
	p, fb, err := l.mapper.MapRowCounted(strings.Split(ln.text, ","))
	if err != nil {
		var mre *mapper.MalformedRowError
		if errors.As(err, &mre) {
			mre.Line = ln.num
		}
		return RowResult{Line: ln.num, Data: ln.text, Err: err}
	}
	return RowResult{Line: ln.num, Data: ln.text, Patient: p, Fallbacks: fb}
}

// Rows lazily maps r one line at a time. Each call reads r from its current
// position; nothing is read until the sequence is ranged over.
func (l *Loader) Rows(r io.Reader) iter.Seq[RowResult] {
	return func(yield func(RowResult) bool) {
		for ln := range lines(wrapSource(r, l.opts.SourceSize)) {
			if !yield(l.mapLine(ln)) {
				return
			}
		}
	}
}

// Load maps every row of r. Malformed rows are logged and collected in
// Result.Failed unless FailFast is set, in which case the first one is
// returned as the error. A read failure ends the load early and is reported
// in Result.ReadErr; it is not an error. The only other error is context
// cancellation.
func (l *Loader) Load(ctx context.Context, r io.Reader) (*Result, error) {
	start := time.Now()
	src := wrapSource(r, l.opts.SourceSize)
	res := &Result{}

	var err error
	if l.opts.Workers > 1 {
		err = l.loadParallel(ctx, src, res)
	} else {
		err = l.loadSequential(ctx, src, res)
	}

	res.BytesRead = src.BytesRead()
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}

	l.logger.Info("load complete",
		"loaded", len(res.Patients),
		"failed", len(res.Failed),
		"bytes", res.BytesRead,
		"duration_ms", res.Duration.Milliseconds(),
	)
	if res.Fallbacks != (mapper.Fallbacks{}) {
		l.logger.Debug("vocabulary fallbacks",
			"gender", res.Fallbacks.Gender,
			"marital", res.Fallbacks.Marital,
		)
	}
	return res, nil
}

// LoadFile opens path and loads it. A file that cannot be opened yields an
// empty Result with ReadErr set.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		l.logger.Warn("source unavailable", "path", path, "error", err)
		return &Result{Source: path, ReadErr: &ReadError{Err: err}}, nil
	}
	defer f.Close()

	ll := *l
	if ll.opts.SourceSize == 0 {
		if fi, err := f.Stat(); err == nil {
			ll.opts.SourceSize = fi.Size()
		}
	}
	ll.logger = l.logger.With("source", path)

	res, err := ll.Load(ctx, f)
	if res != nil {
		res.Source = path
	}
	return res, err
}

func (l *Loader) loadSequential(ctx context.Context, src io.Reader, res *Result) error {
	i := 0
	for ln := range lines(src) {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		i++
		if stop, err := l.collect(res, l.mapLine(ln)); stop {
			return err
		}
	}
	return nil
}

// collect folds one row into res. It returns stop=true when the load must
// end, with a non-nil error only for fail-fast.
func (l *Loader) collect(res *Result, rr RowResult) (bool, error) {
	if rr.Line-1 > res.Lines {
		res.Lines = rr.Line - 1
	}

	if rr.Err == nil {
		res.Patients = append(res.Patients, rr.Patient)
		res.Fallbacks.Gender += rr.Fallbacks.Gender
		res.Fallbacks.Marital += rr.Fallbacks.Marital
		return false, nil
	}

	var readErr *ReadError
	if errors.As(rr.Err, &readErr) {
		l.logger.Warn("source read failed, result truncated",
			"line", readErr.Line,
			"loaded", len(res.Patients),
			"error", readErr.Err,
		)
		res.ReadErr = readErr
		return true, nil
	}

	reason := rr.Err.Error()
	var mre *mapper.MalformedRowError
	if errors.As(rr.Err, &mre) {
		reason = mre.Reason
	}
	if l.opts.FailFast {
		return true, rr.Err
	}
	l.logger.Warn("skipping malformed row", "line", rr.Line, "reason", reason)
	res.Failed = append(res.Failed, FailedRow{Line: rr.Line, Reason: reason, Data: rr.Data})
	return false, nil
}
