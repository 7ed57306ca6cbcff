package store

import (
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/detect"
	"github.com/MikeSquared-Agency/scribe/internal/ingest"
	"github.com/MikeSquared-Agency/scribe/internal/model"
)

func TestNewImportRecord(t *testing.T) {
	convID := uuid.New()
	res := &ingest.Result{
		Conversation: &model.NormalizedConversation{
			Conversation: model.Conversation{ID: convID.String(), MessageCount: 12},
		},
		Report: ingest.Report{
			Detection: detect.Result{Platform: model.PlatformSignal, Confidence: 0.7},
			Platform:  model.PlatformSignal,
			Format:    model.FormatJSON,
			Streamed:  true,
			Skipped:   3,
		},
	}

	rec, err := NewImportRecord(ingest.Payload{FileName: "signal.json", SizeBytes: 4096}, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == uuid.Nil || rec.ConversationID != convID {
		t.Errorf("unexpected ids %s %s", rec.ID, rec.ConversationID)
	}
	if rec.Platform != "signal" || rec.Format != "json" || rec.FileName != "signal.json" || rec.SizeBytes != 4096 {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.MessageCount != 12 || rec.Skipped != 3 || !rec.Streamed || rec.Confidence != 0.7 {
		t.Errorf("unexpected counters %+v", rec)
	}
}

func TestNewImportRecord_BadConversationID(t *testing.T) {
	res := &ingest.Result{Conversation: &model.NormalizedConversation{
		Conversation: model.Conversation{ID: "not-a-uuid"},
	}}
	if _, err := NewImportRecord(ingest.Payload{}, res); err == nil {
		t.Error("expected an error for a malformed conversation id")
	}
}
