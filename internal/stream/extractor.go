// Package stream extracts JSON records from a named array inside a byte
// stream without holding the whole document in memory.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrArrayNotFound is returned at end of input when the target array never opened.
var ErrArrayNotFound = errors.New("target array not found")

const (
	defaultChunkSize = 32 * 1024
	defaultMaxBuffer = 1024 * 1024
	defaultTail      = 64 * 1024
	defaultMaxRecord = 8 * 1024 * 1024
	defaultLookahead = 64
)

type options struct {
	chunkSize int
	maxBuffer int
	tail      int
	maxRecord int
	lookahead int
	logger    *slog.Logger
}

// Option configures an Extractor.
type Option func(*options)

// WithChunkSize sets how many bytes are requested per read.
func WithChunkSize(n int) Option { return func(o *options) { o.chunkSize = n } }

// WithMaxBuffer sets the intake size above which the key search buffer is trimmed.
func WithMaxBuffer(n int) Option { return func(o *options) { o.maxBuffer = n } }

// WithTailWindow sets how much of the search buffer survives a trim.
func WithTailWindow(n int) Option { return func(o *options) { o.tail = n } }

// WithMaxRecordBytes sets the largest record that is accumulated. Larger
// records are skipped without losing synchronization.
func WithMaxRecordBytes(n int) Option { return func(o *options) { o.maxRecord = n } }

// WithLookahead bounds the distance between the key and its opening bracket.
func WithLookahead(n int) Option { return func(o *options) { o.lookahead = n } }

// WithLogger sets the logger used for skipped-record diagnostics.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// Stats summarizes an extraction.
type Stats struct {
	BytesRead    int64 `json:"bytes_read"`
	Emitted      int   `json:"emitted"`
	Skipped      int   `json:"skipped"`
	TrimmedBytes int   `json:"trimmed_bytes"`
}

// Extractor lazily yields the object elements of one JSON array. It is single
// pass: records come out in input order, each exactly once.
type Extractor struct {
	r      io.Reader
	key    string
	scan   *scanner
	chunk  []byte
	logger *slog.Logger

	queue []json.RawMessage
	index int
	eof   bool
	stats Stats
}

// NewExtractor reads from r and yields the elements of the array stored under
// key. An empty key selects a root-level array.
func NewExtractor(r io.Reader, key string, opts ...Option) *Extractor {
	o := options{
		chunkSize: defaultChunkSize,
		maxBuffer: defaultMaxBuffer,
		tail:      defaultTail,
		maxRecord: defaultMaxRecord,
		lookahead: defaultLookahead,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.chunkSize <= 0 {
		o.chunkSize = defaultChunkSize
	}
	if o.lookahead <= 0 {
		o.lookahead = defaultLookahead
	}
	if o.maxRecord <= 0 {
		o.maxRecord = defaultMaxRecord
	}
	if o.tail < len(key)+2+o.lookahead {
		o.tail = len(key) + 2 + o.lookahead
	}
	if o.maxBuffer < o.tail {
		o.maxBuffer = o.tail
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Extractor{
		r:      r,
		key:    key,
		scan:   newScanner(key, o),
		chunk:  make([]byte, o.chunkSize),
		logger: o.logger,
	}
}

// Next returns the next record. It returns io.EOF once the array is closed or
// the input ends, and ErrArrayNotFound if the array never opened. The context
// is checked before every read.
func (e *Extractor) Next(ctx context.Context) (json.RawMessage, error) {
	for {
		if len(e.queue) > 0 {
			rec := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			return rec, nil
		}
		if e.eof || e.scan.done() {
			if !e.scan.insideTargetArray {
				return nil, fmt.Errorf("%w: %q", ErrArrayNotFound, e.key)
			}
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := e.r.Read(e.chunk)
		if n > 0 {
			e.stats.BytesRead += int64(n)
			e.scan.feed(e.chunk[:n], e)
			e.stats.TrimmedBytes = e.scan.trimmed
		}
		if errors.Is(err, io.EOF) {
			e.eof = true
			if e.scan.midRecord() {
				e.drop("input ended inside a record")
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
	}
}

// Stats returns the counters accumulated so far.
func (e *Extractor) Stats() Stats { return e.stats }

// record implements sink. Elements that are not valid JSON are skipped.
func (e *Extractor) record(raw []byte) {
	idx := e.index
	e.index++
	if !json.Valid(raw) {
		e.stats.Skipped++
		e.logger.Warn("skipping malformed record",
			"array", e.key,
			"index", idx,
			"bytes", len(raw),
		)
		return
	}
	e.stats.Emitted++
	e.queue = append(e.queue, json.RawMessage(raw))
}

// drop implements sink.
func (e *Extractor) drop(reason string) {
	idx := e.index
	e.index++
	e.stats.Skipped++
	e.logger.Warn("skipping record", "array", e.key, "index", idx, "reason", reason)
}
