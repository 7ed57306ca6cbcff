package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

type imessageMessage struct {
	Date        json.RawMessage      `json:"date"`
	Text        string               `json:"text"`
	IsFromMe    json.RawMessage      `json:"is_from_me"`
	Sender      string               `json:"sender"`
	HandleID    json.RawMessage      `json:"handle_id"`
	Attachments []imessageAttachment `json:"attachments"`
}

type imessageAttachment struct {
	Filename     string `json:"filename"`
	TransferName string `json:"transfer_name"`
	MimeType     string `json:"mime_type"`
}

// IMessage normalizes iMessage exports. JSON exports usually carry is_from_me,
// which fixes roles; text exports share the WhatsApp line format.
type IMessage struct {
	logger *slog.Logger
	lines  *chatLines
}

// NewIMessage creates an iMessage normalizer for both renditions.
func NewIMessage(logger *slog.Logger) *IMessage {
	return &IMessage{logger: logger, lines: newChatLines(model.PlatformIMessage, logger)}
}

func (n *IMessage) Platform() model.Platform { return model.PlatformIMessage }
func (n *IMessage) RecordKey() string        { return "messages" }

func (n *IMessage) Normalize(ctx context.Context, in Input) (*model.NormalizedConversation, error) {
	if in.Records == nil {
		return n.lines.Normalize(ctx, in)
	}

	b := newBuilder(model.PlatformIMessage, n.logger, in.Stats)
	b.title = metaString(in.Meta, "chat_identifier")

	err := eachRecord(ctx, in.Records, func(i int, raw json.RawMessage) {
		b.seen()
		var m imessageMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			b.skip(i, "malformed record")
			return
		}

		at, ok := parseAppleDate(m.Date)
		if !ok {
			b.skip(i, "unparseable timestamp")
			return
		}

		handle := flexString(m.HandleID)
		name := m.Sender
		if name == "" {
			name = handle
		}
		var senderID string
		switch {
		case absent(m.IsFromMe):
			senderID = b.sender(handle, name)
		case truthy(m.IsFromMe):
			senderID = b.senderWithRole("", selfName, model.RoleUser)
		default:
			senderID = b.senderWithRole(handle, name, model.RoleOther)
		}

		idx := b.message(senderID, at, m.Text, false)
		for _, a := range m.Attachments {
			name := a.TransferName
			if name == "" {
				name = baseName(a.Filename)
			}
			b.attach(idx, model.MediaArtifact{
				OriginalFilename:   name,
				ContentType:        a.MimeType,
				TransientPathOrURL: a.Filename,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return b.finish(), nil
}

// truthy accepts true, 1 and "1".
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "true", "1", `"1"`, `"true"`:
		return true
	}
	return false
}

func absent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || string(raw) == "null"
}
