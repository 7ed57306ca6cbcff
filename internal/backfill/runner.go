// Package backfill imports every export found under a directory, resuming
// from a state file across runs.
package backfill

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/ingest"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// Config holds the directory import configuration.
type Config struct {
	Dir string
	// StatePath defaults to StateFileName inside Dir.
	StatePath string
	// DryRun imports and reports without publishing or writing the ledger.
	DryRun bool
	// KeepDuplicates publishes conversations that overlap an earlier file of
	// the same run.
	KeepDuplicates bool
}

// Importer runs one import.
type Importer interface {
	Import(ctx context.Context, p ingest.Payload, r io.Reader) (*ingest.Result, error)
}

type Publisher interface {
	PublishImportCompleted(res *ingest.Result) error
}

type Ledger interface {
	RecordImport(ctx context.Context, rec store.ImportRecord) error
}

// Runner orchestrates a directory import.
type Runner struct {
	cfg       Config
	importer  Importer
	publisher Publisher
	ledger    Ledger
	logger    *slog.Logger
	out       io.Writer
}

type Option func(*Runner)

func WithPublisher(p Publisher) Option { return func(r *Runner) { r.publisher = p } }
func WithLedger(l Ledger) Option       { return func(r *Runner) { r.ledger = l } }

// WithOutput redirects the printed summary; the default is stdout.
func WithOutput(w io.Writer) Option { return func(r *Runner) { r.out = w } }

// NewRunner creates a directory import runner.
func NewRunner(cfg Config, importer Importer, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{cfg: cfg, importer: importer, logger: logger, out: os.Stdout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) statePath() string {
	if r.cfg.StatePath != "" {
		return r.cfg.StatePath
	}
	return filepath.Join(r.cfg.Dir, StateFileName)
}

// Run imports every file not yet recorded in the state. Per-file failures are
// recorded and skipped; cancellation stops between files after saving.
func (r *Runner) Run(ctx context.Context) (*ImportState, error) {
	state, err := LoadState(r.statePath())
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	files, err := discoverFiles(r.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	var pending []string
	for _, f := range files {
		if !state.IsProcessed(f) {
			pending = append(pending, f)
		}
	}
	state.FilesRemaining = len(pending)
	r.logger.Info("files discovered", "dir", r.cfg.Dir, "total", len(files), "pending", len(pending))

	var seen []fingerprint
	for _, path := range pending {
		if err := ctx.Err(); err != nil {
			_ = state.Save()
			return state, err
		}

		p, res, err := r.importFile(ctx, path)
		switch {
		case err != nil && ctx.Err() != nil:
			// Interrupted mid-file: leave it pending for the next run.
			_ = state.Save()
			return state, ctx.Err()
		case err != nil:
			r.logger.Warn("import failed", "path", path, "code", ingest.CodeOf(err), "error", err)
			state.Failed++
			state.AddError(fmt.Sprintf("%s: %v", path, err))
		default:
			fp := buildFingerprint(path, res.Conversation)
			if prev, dup := findDuplicate(seen, fp); dup && !r.cfg.KeepDuplicates {
				r.logger.Info("skipping duplicate export", "path", path, "duplicate_of", prev.Path)
				state.Duplicates++
				break
			}
			seen = append(seen, fp)
			state.Imported++
			state.MessagesImported += res.Conversation.Conversation.MessageCount
			state.RecordsSkipped += res.Report.Skipped
			r.deliver(ctx, p, res)
		}

		state.MarkProcessed(path)
		state.FilesRemaining--
		if err := state.Save(); err != nil {
			r.logger.Warn("failed to save state", "path", state.Path(), "error", err)
		}
	}

	if err := state.Save(); err != nil {
		return state, fmt.Errorf("save state: %w", err)
	}

	r.logger.Info("directory import complete",
		"imported", state.Imported,
		"failed", state.Failed,
		"duplicates", state.Duplicates,
		"messages", state.MessagesImported,
		"dry_run", r.cfg.DryRun,
	)
	r.printSummary(state, len(files))
	return state, nil
}

func (r *Runner) importFile(ctx context.Context, path string) (ingest.Payload, *ingest.Result, error) {
	p := ingest.Payload{
		Platform:    ingest.PlatformAuto,
		FileName:    filepath.Base(path),
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
	}
	f, err := os.Open(path)
	if err != nil {
		return p, nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return p, nil, fmt.Errorf("stat: %w", err)
	}
	p.SizeBytes = info.Size()

	res, err := r.importer.Import(ctx, p, f)
	return p, res, err
}

func (r *Runner) deliver(ctx context.Context, p ingest.Payload, res *ingest.Result) {
	path := p.FileName
	if r.cfg.DryRun {
		return
	}
	if r.publisher != nil {
		if err := r.publisher.PublishImportCompleted(res); err != nil {
			r.logger.Warn("failed to publish import event", "path", path, "error", err)
		}
	}
	if r.ledger != nil {
		rec, err := store.NewImportRecord(p, res)
		if err == nil {
			err = r.ledger.RecordImport(ctx, rec)
		}
		if err != nil {
			r.logger.Warn("failed to record import", "path", path, "error", err)
		}
	}
}

func (r *Runner) printSummary(state *ImportState, total int) {
	fmt.Fprintf(r.out, "\n=== Import Summary ===\n")
	fmt.Fprintf(r.out, "Files found: %d\n", total)
	fmt.Fprintf(r.out, "Imported: %d\n", state.Imported)
	fmt.Fprintf(r.out, "Duplicates skipped: %d\n", state.Duplicates)
	fmt.Fprintf(r.out, "Failed: %d\n", state.Failed)
	fmt.Fprintf(r.out, "Messages: %d\n", state.MessagesImported)
	fmt.Fprintf(r.out, "Records skipped: %d\n", state.RecordsSkipped)
	if r.cfg.DryRun {
		fmt.Fprintf(r.out, "Mode: DRY RUN (nothing published)\n")
	}
	fmt.Fprintf(r.out, "State file: %s\n", state.Path())
}

// discoverFiles lists regular files under dir in lexical order, skipping
// dotfiles and dot directories.
func discoverFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		hidden := strings.HasPrefix(d.Name(), ".") && path != dir
		if d.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !d.Type().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
