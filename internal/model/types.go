package model

import "time"

// Platform identifies the messaging platform an export came from.
type Platform string

const (
	PlatformUnknown   Platform = ""
	PlatformTelegram  Platform = "telegram"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformSignal    Platform = "signal"
	PlatformDiscord   Platform = "discord"
	PlatformMessenger Platform = "messenger"
	PlatformIMessage  Platform = "imessage"
	PlatformViber     Platform = "viber"
	PlatformGeneric   Platform = "generic"
)

// Platforms lists every known platform in registration order. Detection ties
// are broken by this order.
var Platforms = []Platform{
	PlatformTelegram,
	PlatformWhatsApp,
	PlatformSignal,
	PlatformDiscord,
	PlatformMessenger,
	PlatformIMessage,
	PlatformViber,
	PlatformGeneric,
}

// ParsePlatform maps a caller-supplied name to a Platform. The second return
// is false for names that are not registered.
func ParsePlatform(s string) (Platform, bool) {
	for _, p := range Platforms {
		if string(p) == s {
			return p, true
		}
	}
	return PlatformUnknown, false
}

// Format is the physical encoding of an export.
type Format string

const (
	FormatUnknown Format = ""
	FormatJSON    Format = "json"
	FormatText    Format = "text"
	FormatZip     Format = "zip"
)

// Role is a participant's position in the conversation.
type Role string

const (
	RoleUser        Role = "user"
	RoleOther       Role = "other"
	RoleGroupMember Role = "groupMember"
	RoleUnknown     Role = "unknown"
)

// MediaType classifies a media artifact.
type MediaType string

const (
	MediaImage   MediaType = "image"
	MediaSticker MediaType = "sticker"
	MediaGIF     MediaType = "gif"
	MediaAudio   MediaType = "audio"
	MediaVideo   MediaType = "video"
	MediaOther   MediaType = "other"
)

// StatusNormalized is the only status a conversation leaves the core with.
const StatusNormalized = "normalized"

// Conversation is the canonical, platform-independent view of one import.
type Conversation struct {
	ID             string     `json:"id"`
	SourcePlatform Platform   `json:"source_platform"`
	Title          string     `json:"title,omitempty"`
	StartedAt      *time.Time `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	ParticipantIDs []string   `json:"participant_ids"`
	LanguageCodes  []string   `json:"language_codes"`
	MessageCount   int        `json:"message_count"`
	Status         string     `json:"status"`
}

// Participant is one distinct sender identity.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Message is a single entry of the conversation. ConversationID is a
// back-reference only.
type Message struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	SenderID        string    `json:"sender_id"`
	SentAt          time.Time `json:"sent_at"`
	Text            string    `json:"text,omitempty"`
	MediaArtifactID string    `json:"media_artifact_id,omitempty"`
	IsSystem        bool      `json:"is_system"`
}

// MediaArtifact describes an attachment referenced by zero or more messages.
type MediaArtifact struct {
	ID                 string    `json:"id"`
	ConversationID     string    `json:"conversation_id"`
	Type               MediaType `json:"type"`
	OriginalFilename   string    `json:"original_filename,omitempty"`
	ContentType        string    `json:"content_type,omitempty"`
	TransientPathOrURL string    `json:"transient_path_or_url,omitempty"`
}

// NormalizedConversation is the sole handoff to the analysis pipeline.
type NormalizedConversation struct {
	Conversation Conversation    `json:"conversation"`
	Participants []Participant   `json:"participants"`
	Messages     []Message       `json:"messages"`
	Media        []MediaArtifact `json:"media"`
}

// HasMedia reports whether any artifact was attached to the conversation.
func (n *NormalizedConversation) HasMedia() bool {
	return len(n.Media) > 0
}

// Participant returns the participant with the given id.
func (n *NormalizedConversation) Participant(id string) (Participant, bool) {
	for _, p := range n.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}
