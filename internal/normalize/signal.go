package normalize

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

type signalMessage struct {
	SentAt      json.RawMessage    `json:"sent_at"`
	Timestamp   json.RawMessage    `json:"timestamp"`
	Date        json.RawMessage    `json:"date"`
	Source      string             `json:"source"`
	Sender      string             `json:"sender"`
	SourceName  string             `json:"sourceName"`
	Type        string             `json:"type"`
	Body        string             `json:"body"`
	Attachments []signalAttachment `json:"attachments"`
}

type signalAttachment struct {
	ContentType string `json:"contentType"`
	FileName    string `json:"fileName"`
	Path        string `json:"path"`
}

// selfName labels the exporting user when the source does not name them.
const selfName = "You"

// Signal normalizes Signal backup exports. Outgoing messages belong to the
// exporting user; records without a type fall back to first-sender inference.
type Signal struct {
	logger *slog.Logger
}

// NewSignal creates a Signal normalizer.
func NewSignal(logger *slog.Logger) *Signal {
	return &Signal{logger: logger}
}

func (s *Signal) Platform() model.Platform { return model.PlatformSignal }
func (s *Signal) RecordKey() string        { return "messages" }

func (s *Signal) Normalize(ctx context.Context, in Input) (*model.NormalizedConversation, error) {
	b := newBuilder(model.PlatformSignal, s.logger, in.Stats)
	b.title = metaString(in.Meta, "name")

	err := eachRecord(ctx, in.Records, func(i int, raw json.RawMessage) {
		b.seen()
		var m signalMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			b.skip(i, "malformed record")
			return
		}

		at, ok := signalTime(m)
		if !ok {
			b.skip(i, "unparseable timestamp")
			return
		}

		id := m.Source
		if id == "" {
			id = m.Sender
		}
		name := m.SourceName
		if name == "" {
			name = id
		}

		var senderID string
		switch m.Type {
		case "outgoing":
			if name == "" {
				name = selfName
			}
			senderID = b.senderWithRole(id, name, model.RoleUser)
		case "incoming":
			senderID = b.senderWithRole(id, name, model.RoleOther)
		case "":
			senderID = b.sender(id, name)
		default:
			b.message(b.system(), at, m.Body, true)
			return
		}

		idx := b.message(senderID, at, m.Body, false)
		for _, a := range m.Attachments {
			b.attach(idx, model.MediaArtifact{
				OriginalFilename:   a.FileName,
				ContentType:        a.ContentType,
				TransientPathOrURL: a.Path,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return b.finish(), nil
}

// signalTime tries sent_at, then timestamp, then date; numbers are read as
// milliseconds first.
func signalTime(m signalMessage) (time.Time, bool) {
	for _, raw := range []json.RawMessage{m.SentAt, m.Timestamp, m.Date} {
		if t, ok := parseMillisFirst(raw); ok {
			return t, true
		}
	}
	return time.Time{}, false
}
