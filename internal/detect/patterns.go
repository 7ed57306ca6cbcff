package detect

import (
	"regexp"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

// Pattern is one platform's detection signature. Every field is optional;
// a pattern only earns points for the signals it declares.
type Pattern struct {
	Platform     model.Platform
	FileName     *regexp.Regexp
	ContentTypes []string
	ArrayField   string
	RequiredKeys []string
	OptionalKeys []string
	TextPattern  *regexp.Regexp
}

// chatLine matches the timestamped line prefix shared by WhatsApp, Viber and
// iMessage text exports: "05/01/2024, 12:15 - ", "[2024/01/05, 12:15:03] ".
var chatLine = regexp.MustCompile(`(?m)^\[?\d{1,4}[/.\-]\d{1,2}[/.\-]\d{1,4},?\s+\d{1,2}:\d{2}(?::\d{2})?`)

const (
	ctJSON = "application/json"
	ctText = "text/plain"
	ctZip  = "application/zip"
)

// DefaultPatterns is the registration-ordered platform table.
var DefaultPatterns = []Pattern{
	{
		Platform:     model.PlatformTelegram,
		FileName:     regexp.MustCompile(`(?i)(telegram|tg_export|result\.json$)`),
		ContentTypes: []string{ctJSON},
		ArrayField:   "messages",
		RequiredKeys: []string{"id", "type", "date"},
		OptionalKeys: []string{"from", "from_id", "text", "text_entities", "date_unixtime", "media_type", "photo", "actor"},
	},
	{
		Platform:     model.PlatformWhatsApp,
		FileName:     regexp.MustCompile(`(?i)(whatsapp|wa_chat|_chat\.txt$)`),
		ContentTypes: []string{ctText, ctZip},
		TextPattern:  chatLine,
	},
	{
		Platform:     model.PlatformSignal,
		FileName:     regexp.MustCompile(`(?i)signal`),
		ContentTypes: []string{ctJSON},
		ArrayField:   "messages",
		RequiredKeys: []string{"sent_at", "body"},
		OptionalKeys: []string{"source", "type", "conversationId", "attachments", "timestamp", "received_at"},
	},
	{
		Platform:     model.PlatformDiscord,
		FileName:     regexp.MustCompile(`(?i)(discord|dce_)`),
		ContentTypes: []string{ctJSON},
		ArrayField:   "messages",
		RequiredKeys: []string{"id", "timestamp", "content", "author"},
		OptionalKeys: []string{"type", "attachments", "embeds", "reactions", "timestampEdited", "isPinned"},
	},
	{
		Platform:     model.PlatformMessenger,
		FileName:     regexp.MustCompile(`(?i)(messenger|facebook|message_\d+\.json$)`),
		ContentTypes: []string{ctJSON},
		ArrayField:   "messages",
		RequiredKeys: []string{"sender_name", "timestamp_ms"},
		OptionalKeys: []string{"content", "photos", "videos", "audio_files", "gifs", "sticker", "reactions"},
	},
	{
		Platform:     model.PlatformIMessage,
		FileName:     regexp.MustCompile(`(?i)(imessage|ichat|sms)`),
		ContentTypes: []string{ctJSON, ctText},
		ArrayField:   "messages",
		RequiredKeys: []string{"date", "text", "is_from_me"},
		OptionalKeys: []string{"handle_id", "sender", "service", "attachments", "chat_identifier"},
		TextPattern:  chatLine,
	},
	{
		Platform:     model.PlatformViber,
		FileName:     regexp.MustCompile(`(?i)viber`),
		ContentTypes: []string{ctText},
		TextPattern:  chatLine,
	},
}
