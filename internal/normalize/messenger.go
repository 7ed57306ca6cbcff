package normalize

import (
	"context"
	"encoding/json"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

type messengerMessage struct {
	SenderName  string           `json:"sender_name"`
	TimestampMS json.RawMessage  `json:"timestamp_ms"`
	Content     string           `json:"content"`
	Type        string           `json:"type"`
	Photos      []messengerMedia `json:"photos"`
	Videos      []messengerMedia `json:"videos"`
	AudioFiles  []messengerMedia `json:"audio_files"`
	Gifs        []messengerMedia `json:"gifs"`
	Files       []messengerMedia `json:"files"`
	Sticker     *messengerMedia  `json:"sticker"`
}

type messengerMedia struct {
	URI string `json:"uri"`
}

// Messenger normalizes Facebook Messenger "Download your information" JSON.
type Messenger struct {
	logger *slog.Logger
}

// NewMessenger creates a Messenger normalizer.
func NewMessenger(logger *slog.Logger) *Messenger {
	return &Messenger{logger: logger}
}

func (m *Messenger) Platform() model.Platform { return model.PlatformMessenger }
func (m *Messenger) RecordKey() string        { return "messages" }

func (m *Messenger) Normalize(ctx context.Context, in Input) (*model.NormalizedConversation, error) {
	b := newBuilder(model.PlatformMessenger, m.logger, in.Stats)
	b.title = repairMojibake(metaString(in.Meta, "title"))

	err := eachRecord(ctx, in.Records, func(i int, raw json.RawMessage) {
		b.seen()
		var msg messengerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			b.skip(i, "malformed record")
			return
		}

		at, ok := parseMillisFirst(msg.TimestampMS)
		if !ok {
			b.skip(i, "unparseable timestamp")
			return
		}

		text := repairMojibake(msg.Content)
		switch msg.Type {
		case "Subscribe", "Unsubscribe":
			b.message(b.system(), at, text, true)
			return
		}

		idx := b.message(b.sender("", repairMojibake(msg.SenderName)), at, text, false)
		b.attach(idx, messengerArtifacts(msg)...)
	})
	if err != nil {
		return nil, err
	}
	return b.finish(), nil
}

func messengerArtifacts(msg messengerMessage) []model.MediaArtifact {
	var out []model.MediaArtifact
	add := func(list []messengerMedia, t model.MediaType) {
		for _, m := range list {
			if m.URI == "" {
				continue
			}
			out = append(out, model.MediaArtifact{
				Type:               t,
				OriginalFilename:   baseName(m.URI),
				TransientPathOrURL: m.URI,
			})
		}
	}
	add(msg.Photos, model.MediaImage)
	add(msg.Videos, model.MediaVideo)
	add(msg.AudioFiles, model.MediaAudio)
	add(msg.Gifs, model.MediaGIF)
	add(msg.Files, "")
	if msg.Sticker != nil {
		add([]messengerMedia{*msg.Sticker}, model.MediaSticker)
	}
	return out
}

// repairMojibake undoes Messenger's export encoding, which writes each UTF-8
// byte as a separate \u00XX escape. Strings that do not decode back to valid
// UTF-8 are returned unchanged.
func repairMojibake(s string) string {
	suspect := false
	for _, r := range s {
		if r > 0xFF {
			return s
		}
		if r >= 0x80 {
			suspect = true
		}
	}
	if !suspect {
		return s
	}
	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil || !utf8.ValidString(raw) {
		return s
	}
	return raw
}
