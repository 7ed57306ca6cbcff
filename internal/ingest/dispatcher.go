// Package ingest routes an export to the right normalizer. It decides between
// streaming and buffered reading, runs detection on a bounded sample when the
// caller did not name a platform, and classifies failures.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/MikeSquared-Agency/scribe/internal/detect"
	"github.com/MikeSquared-Agency/scribe/internal/model"
	"github.com/MikeSquared-Agency/scribe/internal/normalize"
	"github.com/MikeSquared-Agency/scribe/internal/stream"
)

// PlatformAuto asks the dispatcher to detect the platform.
const PlatformAuto = "auto"

const (
	DefaultStreamThreshold = 50 * 1024 * 1024
	DefaultSampleBytes     = 64 * 1024
)

// Payload describes one import.
type Payload struct {
	Platform    string `json:"platform"`
	FileName    string `json:"file_name"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
}

// Report describes how an import was handled.
type Report struct {
	Detection     detect.Result  `json:"detection"`
	Platform      model.Platform `json:"platform"`
	Format        model.Format   `json:"format"`
	Streamed      bool           `json:"streamed"`
	FellBack      bool           `json:"fell_back"`
	Records       int            `json:"records"`
	Skipped       int            `json:"skipped"`
	PreValidation *Verdict       `json:"pre_validation,omitempty"`
}

// Result is a successful import.
type Result struct {
	Conversation *model.NormalizedConversation `json:"conversation"`
	Report       Report                        `json:"report"`
}

// Verdict is an advisory opinion on whether a sample is a conversation.
type Verdict struct {
	LooksLikeConversation bool   `json:"looks_like_conversation"`
	Reason                string `json:"reason,omitempty"`
}

// PreValidator gives an advisory verdict on a content sample. Its answer is
// recorded and logged, never enforced.
type PreValidator interface {
	Validate(ctx context.Context, sample string) (Verdict, error)
}

// Observer is told about every finished import.
type Observer interface {
	ObserveImport(platform, format, outcome string, skipped int, confidence float64, elapsed time.Duration)
}

// Config tunes the dispatcher. Zero values take the defaults.
type Config struct {
	StreamThreshold int64
	SampleBytes     int
	ConfidenceFloor float64
	StreamOptions   []stream.Option
}

// Dispatcher runs imports. It holds no per-import state and is safe for
// concurrent use.
type Dispatcher struct {
	cfg          Config
	logger       *slog.Logger
	detector     *detect.Detector
	registry     *normalize.Registry
	archive      ArchiveExtractor
	prevalidator PreValidator
	observer     Observer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithArchiveExtractor replaces the default ZIP extractor.
func WithArchiveExtractor(a ArchiveExtractor) Option {
	return func(d *Dispatcher) { d.archive = a }
}

// WithPreValidator enables advisory pre-validation.
func WithPreValidator(p PreValidator) Option {
	return func(d *Dispatcher) { d.prevalidator = p }
}

// WithObserver reports finished imports, e.g. to metrics.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithRegistry replaces the normalizer set.
func WithRegistry(r *normalize.Registry) Option {
	return func(d *Dispatcher) { d.registry = r }
}

// New creates a dispatcher.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if cfg.StreamThreshold <= 0 {
		cfg.StreamThreshold = DefaultStreamThreshold
	}
	if cfg.SampleBytes <= 0 {
		cfg.SampleBytes = DefaultSampleBytes
	}
	if cfg.ConfidenceFloor <= 0 || cfg.ConfidenceFloor > 1 {
		cfg.ConfidenceFloor = detect.DefaultConfidenceFloor
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		detector: detect.New(nil, cfg.ConfidenceFloor),
		archive:  ZipExtractor{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = normalize.NewRegistry(logger, nil)
	}
	return d
}

// Detect classifies a sample without importing it.
func (d *Dispatcher) Detect(sample []byte, fileName, contentType string) detect.Result {
	if len(sample) > d.cfg.SampleBytes {
		sample = sample[:d.cfg.SampleBytes]
	}
	return d.detector.Detect(detectionSample(sample), fileName, contentType)
}

// Import reads r and returns the normalized conversation. Only the first
// SampleBytes are inspected for detection; payloads above StreamThreshold in
// JSON form are never held in memory whole.
func (d *Dispatcher) Import(ctx context.Context, p Payload, r io.Reader) (*Result, error) {
	start := time.Now()
	res, err := d.run(ctx, p, r)

	platform, format, outcome := string(model.PlatformUnknown), "", "ok"
	skipped, confidence := 0, 0.0
	if res != nil {
		platform, format = string(res.Report.Platform), string(res.Report.Format)
		skipped, confidence = res.Report.Skipped, res.Report.Detection.Confidence
	}
	if err != nil {
		outcome = string(CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
		d.logger.Warn("import failed", "file", p.FileName, "platform", p.Platform, "error", err)
	} else {
		d.logger.Info("import completed",
			"file", p.FileName,
			"platform", platform,
			"format", format,
			"messages", res.Conversation.Conversation.MessageCount,
			"skipped", skipped,
			"streamed", res.Report.Streamed,
		)
	}
	if d.observer != nil {
		d.observer.ObserveImport(platform, format, outcome, skipped, confidence, time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) run(ctx context.Context, p Payload, r io.Reader) (*Result, error) {
	br := bufio.NewReaderSize(r, d.cfg.SampleBytes)
	sample, err := br.Peek(d.cfg.SampleBytes)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, newError(CodeParse, "", fmt.Errorf("read sample: %w", err))
	}
	if len(bytes.TrimSpace(sample)) == 0 {
		return nil, newError(CodeEmptyContent, "", errors.New("no content"))
	}

	sample = detectionSample(sample)
	rep := Report{Detection: d.detector.Detect(sample, p.FileName, p.ContentType)}
	rep.Format = rep.Detection.Format
	auto := p.Platform == "" || strings.EqualFold(p.Platform, PlatformAuto)

	if auto {
		rep.Platform = rep.Detection.Platform
		if rep.Platform == model.PlatformUnknown {
			d.logger.Info("falling back to generic normalizer",
				"file", p.FileName,
				"confidence", rep.Detection.Confidence,
				"reason", ErrDetectionAmbiguous,
			)
			rep.Platform = model.PlatformGeneric
			rep.FellBack = true
		}
	} else {
		platform, ok := model.ParsePlatform(strings.ToLower(strings.TrimSpace(p.Platform)))
		if !ok || !d.registry.Supports(platform) {
			return nil, newError(CodeUnsupportedPlatform, model.Platform(p.Platform), fmt.Errorf("%q is not a supported platform", p.Platform))
		}
		rep.Platform = platform
	}
	if rep.Format == model.FormatUnknown {
		rep.Format = model.FormatText
	}

	if d.prevalidator != nil && rep.Format != model.FormatZip {
		d.prevalidate(ctx, sample, p, &rep)
	}

	var nc *model.NormalizedConversation
	switch {
	case rep.Format == model.FormatZip:
		nc, err = d.importArchive(ctx, br, p, &rep)
	case rep.Format == model.FormatJSON && p.SizeBytes > d.cfg.StreamThreshold:
		nc, err = d.importStream(ctx, br, p, &rep, isRootArray(sample))
	default:
		nc, err = d.importBuffered(ctx, br, p, &rep, auto)
	}
	if err != nil {
		return nil, err
	}
	if len(nc.Messages) == 0 {
		return nil, newError(CodeEmptyContent, rep.Platform, errors.New("no messages could be read"))
	}
	return &Result{Conversation: nc, Report: rep}, nil
}

func (d *Dispatcher) prevalidate(ctx context.Context, sample []byte, p Payload, rep *Report) {
	v, err := d.prevalidator.Validate(ctx, string(sample))
	if err != nil {
		d.logger.Warn("pre-validation unavailable", "file", p.FileName, "error", err)
		return
	}
	rep.PreValidation = &v
	if !v.LooksLikeConversation {
		d.logger.Info("pre-validation doubts content", "file", p.FileName, "reason", v.Reason)
	}
}

func (d *Dispatcher) lookup(rep *Report) (normalize.Normalizer, error) {
	n, ok := d.registry.Lookup(rep.Platform, rep.Format)
	if !ok {
		return nil, newError(CodeStructuralMismatch, rep.Platform,
			fmt.Errorf("%s exports cannot be read as %s", rep.Platform, rep.Format))
	}
	return n, nil
}

// importStream reads records incrementally. A document whose root is an array
// is read from the root whatever field the normalizer names.
func (d *Dispatcher) importStream(ctx context.Context, r io.Reader, p Payload, rep *Report, rootArray bool) (*model.NormalizedConversation, error) {
	n, err := d.lookup(rep)
	if err != nil {
		return nil, err
	}
	keyer, ok := n.(normalize.RecordKeyer)
	if !ok {
		return nil, newError(CodeStructuralMismatch, rep.Platform, errors.New("normalizer does not read records"))
	}

	opts := append([]stream.Option{stream.WithLogger(d.logger)}, d.cfg.StreamOptions...)
	key := keyer.RecordKey()
	if rootArray {
		key = ""
	}
	ext := stream.NewExtractor(r, key, opts...)
	rep.Streamed = true

	var stats normalize.Stats
	nc, err := n.Normalize(ctx, normalize.Input{FileName: p.FileName, Records: ext, Stats: &stats})

	es := ext.Stats()
	rep.Records = stats.Records + es.Skipped
	rep.Skipped = stats.Skipped + es.Skipped
	if err != nil {
		return nil, classify(rep.Platform, err)
	}
	return nc, nil
}

func (d *Dispatcher) importBuffered(ctx context.Context, r io.Reader, p Payload, rep *Report, auto bool) (*model.NormalizedConversation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, newError(CodeParse, rep.Platform, fmt.Errorf("read: %w", err))
	}

	nc, err := d.normalizeBuffered(ctx, data, p, rep)
	if err == nil || !auto || rep.Platform == model.PlatformGeneric || !errors.Is(err, ErrStructuralMismatch) {
		return nc, err
	}

	d.logger.Info("retrying with generic normalizer", "file", p.FileName, "platform", rep.Platform, "error", err)
	rep.Platform = model.PlatformGeneric
	rep.FellBack = true
	rep.Records, rep.Skipped = 0, 0
	return d.normalizeBuffered(ctx, data, p, rep)
}

func (d *Dispatcher) normalizeBuffered(ctx context.Context, data []byte, p Payload, rep *Report) (*model.NormalizedConversation, error) {
	n, err := d.lookup(rep)
	if err != nil {
		return nil, err
	}

	var stats normalize.Stats
	in := normalize.Input{FileName: p.FileName, Stats: &stats}
	if rep.Format == model.FormatJSON {
		key := ""
		if k, ok := n.(normalize.RecordKeyer); ok {
			key = k.RecordKey()
		}
		src, meta, err := normalize.SplitDocument(data, key)
		if err != nil {
			return nil, classify(rep.Platform, err)
		}
		in.Records, in.Meta = src, meta
	} else {
		in.Text = decodeText(data)
	}

	nc, err := n.Normalize(ctx, in)
	rep.Records, rep.Skipped = stats.Records, stats.Skipped
	if err != nil {
		return nil, classify(rep.Platform, err)
	}
	return nc, nil
}

func (d *Dispatcher) importArchive(ctx context.Context, r io.Reader, p Payload, rep *Report) (*model.NormalizedConversation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, newError(CodeParse, rep.Platform, fmt.Errorf("read: %w", err))
	}
	contents, err := d.archive.Extract(ctx, data)
	if err != nil {
		return nil, classify(rep.Platform, fmt.Errorf("extract archive: %w", err))
	}
	if strings.TrimSpace(contents.ChatText) == "" {
		return nil, newError(CodeEmptyContent, rep.Platform, errors.New("archive chat text is empty"))
	}

	n, err := d.lookup(rep)
	if err != nil {
		return nil, err
	}
	var stats normalize.Stats
	nc, err := n.Normalize(ctx, normalize.Input{
		FileName: p.FileName,
		Text:     decodeText([]byte(contents.ChatText)),
		Media:    contents.MediaArtifacts,
		Stats:    &stats,
	})
	rep.Records, rep.Skipped = stats.Records, stats.Skipped
	if err != nil {
		return nil, classify(rep.Platform, err)
	}
	return nc, nil
}

// classify maps internal failures onto the error taxonomy. Cancellation is
// passed through untouched.
func classify(p model.Platform, err error) error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, normalize.ErrStructuralMismatch),
		errors.Is(err, stream.ErrArrayNotFound),
		errors.Is(err, ErrStructuralMismatch):
		return newError(CodeStructuralMismatch, p, err)
	default:
		return newError(CodeParse, p, err)
	}
}

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
)

// detectionSample decodes a UTF-16 sample so text patterns can match it. An
// odd trailing byte left by the sample cut is dropped first.
func detectionSample(sample []byte) []byte {
	if !bytes.HasPrefix(sample, utf16LEBOM) && !bytes.HasPrefix(sample, utf16BEBOM) {
		return sample
	}
	return []byte(decodeText(sample[:len(sample)&^1]))
}

func isRootArray(sample []byte) bool {
	t := bytes.TrimLeft(bytes.TrimPrefix(sample, utf8BOM), " \t\r\n")
	return len(t) > 0 && t[0] == '['
}

// decodeText honours UTF-16 byte order marks, strips a UTF-8 one and falls
// back to Windows-1252 for bytes that are not valid UTF-8.
func decodeText(data []byte) string {
	if bytes.HasPrefix(data, utf16LEBOM) || bytes.HasPrefix(data, utf16BEBOM) {
		if out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data); err == nil {
			return string(out)
		}
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	if out, err := charmap.Windows1252.NewDecoder().Bytes(data); err == nil {
		return string(out)
	}
	return string(data)
}
