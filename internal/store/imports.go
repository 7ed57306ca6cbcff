package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/scribe/internal/ingest"
)

// ErrNotFound is returned when no ledger row matches.
var ErrNotFound = errors.New("not found")

// ImportRecord is one row of import_log.
type ImportRecord struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Platform       string    `json:"platform"`
	Format         string    `json:"format"`
	FileName       string    `json:"file_name"`
	SizeBytes      int64     `json:"size_bytes"`
	MessageCount   int       `json:"message_count"`
	Skipped        int       `json:"skipped"`
	Streamed       bool      `json:"streamed"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewImportRecord builds the ledger row for a finished import.
func NewImportRecord(p ingest.Payload, res *ingest.Result) (ImportRecord, error) {
	convID, err := uuid.Parse(res.Conversation.Conversation.ID)
	if err != nil {
		return ImportRecord{}, fmt.Errorf("conversation id: %w", err)
	}
	return ImportRecord{
		ID:             uuid.New(),
		ConversationID: convID,
		Platform:       string(res.Report.Platform),
		Format:         string(res.Report.Format),
		FileName:       p.FileName,
		SizeBytes:      p.SizeBytes,
		MessageCount:   res.Conversation.Conversation.MessageCount,
		Skipped:        res.Report.Skipped,
		Streamed:       res.Report.Streamed,
		Confidence:     res.Report.Detection.Confidence,
	}, nil
}

// RecordImport appends one finished import to the ledger.
func (s *Store) RecordImport(ctx context.Context, rec ImportRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_log (id, conversation_id, platform, format, file_name, size_bytes,
			message_count, skipped, streamed, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		rec.ID, rec.ConversationID, rec.Platform, rec.Format, rec.FileName, rec.SizeBytes,
		rec.MessageCount, rec.Skipped, rec.Streamed, rec.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert import: %w", err)
	}
	return nil
}

const importColumns = `id, conversation_id, platform, format, file_name, size_bytes,
	message_count, skipped, streamed, confidence, created_at`

func scanImport(row pgx.Row) (ImportRecord, error) {
	var r ImportRecord
	err := row.Scan(&r.ID, &r.ConversationID, &r.Platform, &r.Format, &r.FileName, &r.SizeBytes,
		&r.MessageCount, &r.Skipped, &r.Streamed, &r.Confidence, &r.CreatedAt)
	return r, err
}

// ImportByConversation returns the ledger row for a conversation id.
func (s *Store) ImportByConversation(ctx context.Context, conversationID uuid.UUID) (ImportRecord, error) {
	r, err := scanImport(s.pool.QueryRow(ctx,
		`SELECT `+importColumns+` FROM import_log WHERE conversation_id = $1`, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ImportRecord{}, ErrNotFound
	}
	if err != nil {
		return ImportRecord{}, fmt.Errorf("query import: %w", err)
	}
	return r, nil
}

// RecentImports lists the newest imports first.
func (s *Store) RecentImports(ctx context.Context, limit int) ([]ImportRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+importColumns+` FROM import_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query imports: %w", err)
	}
	defer rows.Close()

	var out []ImportRecord
	for rows.Next() {
		r, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
