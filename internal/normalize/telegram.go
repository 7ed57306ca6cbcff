package normalize

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

// telegramMessage is one element of a Telegram Desktop export's messages array.
type telegramMessage struct {
	ID           json.RawMessage `json:"id"`
	Type         string          `json:"type"`
	Date         string          `json:"date"`
	DateUnixtime json.RawMessage `json:"date_unixtime"`
	From         *string         `json:"from"`
	FromID       json.RawMessage `json:"from_id"`
	Actor        string          `json:"actor"`
	ActorID      json.RawMessage `json:"actor_id"`
	Action       string          `json:"action"`
	Title        string          `json:"title"`
	Text         json.RawMessage `json:"text"`
	MediaType    string          `json:"media_type"`
	Photo        string          `json:"photo"`
	File         string          `json:"file"`
	FileName     string          `json:"file_name"`
	MimeType     string          `json:"mime_type"`
	StickerEmoji string          `json:"sticker_emoji"`
}

// telegramEntity is an element of the array form of "text".
type telegramEntity struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Telegram normalizes Telegram Desktop JSON exports.
type Telegram struct {
	logger *slog.Logger
}

// NewTelegram creates a Telegram normalizer.
func NewTelegram(logger *slog.Logger) *Telegram {
	return &Telegram{logger: logger}
}

func (t *Telegram) Platform() model.Platform { return model.PlatformTelegram }
func (t *Telegram) RecordKey() string        { return "messages" }

// Normalize converts the records. date_unixtime wins over date; service
// messages are kept as system lines.
func (t *Telegram) Normalize(ctx context.Context, in Input) (*model.NormalizedConversation, error) {
	b := newBuilder(model.PlatformTelegram, t.logger, in.Stats)
	b.title = metaString(in.Meta, "name")

	err := eachRecord(ctx, in.Records, func(i int, raw json.RawMessage) {
		b.seen()
		var m telegramMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			b.skip(i, "malformed record")
			return
		}

		at, ok := parseUnixSeconds(m.DateUnixtime)
		if !ok {
			at, ok = parseISO(m.Date)
		}
		if !ok {
			b.skip(i, "unparseable timestamp")
			return
		}

		text := telegramText(m.Text)
		if m.Type == "service" {
			b.message(b.system(), at, serviceText(m), true)
			return
		}

		name := ""
		if m.From != nil {
			name = *m.From
		}
		idx := b.message(b.sender(flexString(m.FromID), name), at, text, false)
		if a, ok := telegramMedia(m); ok {
			b.attach(idx, a)
		}
	})
	if err != nil {
		return nil, err
	}
	return b.finish(), nil
}

// telegramText flattens "text", which is a string or an array mixing
// strings and entity objects.
func telegramText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range parts {
		var str string
		if err := json.Unmarshal(p, &str); err == nil {
			sb.WriteString(str)
			continue
		}
		var ent telegramEntity
		if err := json.Unmarshal(p, &ent); err == nil {
			sb.WriteString(ent.Text)
		}
	}
	return sb.String()
}

func serviceText(m telegramMessage) string {
	action := strings.ReplaceAll(m.Action, "_", " ")
	var parts []string
	for _, s := range []string{m.Actor, action, m.Title} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if text := telegramText(m.Text); text != "" {
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

// telegramMedia classifies a message's attachment by media_type, then by
// which media fields are present.
func telegramMedia(m telegramMessage) (model.MediaArtifact, bool) {
	a := model.MediaArtifact{ContentType: m.MimeType}
	switch {
	case m.Photo != "":
		a.Type = model.MediaImage
		a.TransientPathOrURL = m.Photo
		a.OriginalFilename = baseName(m.Photo)
		return a, true
	case m.File == "" && m.MediaType == "" && m.StickerEmoji == "":
		return a, false
	}

	a.TransientPathOrURL = m.File
	a.OriginalFilename = m.FileName
	if a.OriginalFilename == "" {
		a.OriginalFilename = baseName(m.File)
	}
	switch m.MediaType {
	case "sticker":
		a.Type = model.MediaSticker
	case "animation":
		a.Type = model.MediaGIF
	case "voice_message", "audio_file":
		a.Type = model.MediaAudio
	case "video_file", "video_message":
		a.Type = model.MediaVideo
	default:
		if m.StickerEmoji != "" {
			a.Type = model.MediaSticker
		} else {
			a.Type = model.ClassifyMedia(a.OriginalFilename, m.MimeType)
		}
	}
	return a, true
}

// baseName strips directories from an export-relative path.
func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// flexString reads an id that may be encoded as a string or a number.
func flexString(raw json.RawMessage) string {
	num, str, ok := scalar(raw)
	if !ok {
		return ""
	}
	if num != "" {
		return num
	}
	return str
}
