package normalize

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

// discordMessage follows DiscordChatExporter's JSON layout.
type discordMessage struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	Timestamp   json.RawMessage     `json:"timestamp"`
	Content     string              `json:"content"`
	Author      discordAuthor       `json:"author"`
	Attachments []discordAttachment `json:"attachments"`
}

type discordAuthor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
}

type discordAttachment struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

type discordChannel struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Discord normalizes DiscordChatExporter JSON.
type Discord struct {
	logger *slog.Logger
}

// NewDiscord creates a Discord normalizer.
func NewDiscord(logger *slog.Logger) *Discord {
	return &Discord{logger: logger}
}

func (d *Discord) Platform() model.Platform { return model.PlatformDiscord }
func (d *Discord) RecordKey() string        { return "messages" }

// Normalize converts the records. Message types other than Default and Reply
// (joins, pins, calls) become system lines.
func (d *Discord) Normalize(ctx context.Context, in Input) (*model.NormalizedConversation, error) {
	b := newBuilder(model.PlatformDiscord, d.logger, in.Stats)
	if raw, ok := in.Meta["channel"]; ok {
		var ch discordChannel
		if err := json.Unmarshal(raw, &ch); err == nil {
			b.title = ch.Name
		}
	}

	err := eachRecord(ctx, in.Records, func(i int, raw json.RawMessage) {
		b.seen()
		var m discordMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			b.skip(i, "malformed record")
			return
		}

		at, ok := parseMillisFirst(m.Timestamp)
		if !ok {
			b.skip(i, "unparseable timestamp")
			return
		}

		switch m.Type {
		case "", "Default", "Reply":
		default:
			b.message(b.system(), at, m.Content, true)
			return
		}

		name := m.Author.Nickname
		if name == "" {
			name = m.Author.Name
		}
		idx := b.message(b.sender(m.Author.ID, name), at, m.Content, false)
		for _, a := range m.Attachments {
			b.attach(idx, model.MediaArtifact{
				OriginalFilename:   a.FileName,
				TransientPathOrURL: a.URL,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return b.finish(), nil
}
