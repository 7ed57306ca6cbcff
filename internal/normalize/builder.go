package normalize

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

// systemKey is the identity of the reserved participant that owns service
// lines. It cannot collide with a folded display name.
const systemKey = "\x00system"

// unknownSender names records whose sender field is missing.
const unknownSender = "Unknown"

// builder accumulates one conversation. Normalizers feed it records in input
// order and call finish once.
type builder struct {
	logger   *slog.Logger
	platform model.Platform
	convID   string
	stats    *Stats
	title    string

	participants []model.Participant
	byKey        map[string]string
	position     map[string]int
	slugs        map[string]bool
	userID       string
	explicit     bool

	messages []model.Message
	media    []model.MediaArtifact
}

func newBuilder(p model.Platform, logger *slog.Logger, stats *Stats) *builder {
	if stats == nil {
		stats = &Stats{}
	}
	return &builder{
		logger:   logger,
		platform: p,
		convID:   uuid.New().String(),
		stats:    stats,
		byKey:    make(map[string]string),
		position: make(map[string]int),
		slugs:    make(map[string]bool),
	}
}

// seen counts one input record.
func (b *builder) seen() { b.stats.Records++ }

// skip counts and logs a dropped record.
func (b *builder) skip(index int, reason string) {
	b.stats.Skipped++
	b.logger.Warn("skipping record",
		"platform", b.platform,
		"index", index,
		"reason", reason,
	)
}

// sender returns the participant id for an identity, registering it on first
// sight. key is a platform sender id when one exists; otherwise the display
// name is the identity. The first distinct sender becomes the user unless the
// source states roles explicitly.
func (b *builder) sender(key, name string) string {
	k := b.identity(key, name)
	if id, ok := b.byKey[k]; ok {
		return id
	}
	role := model.RoleOther
	if !b.explicit && b.userID == "" {
		role = model.RoleUser
	}
	return b.register(k, name, role)
}

// senderWithRole is sender for sources that say who the exporting user is.
// Once used, first-sender inference is off for the conversation.
func (b *builder) senderWithRole(key, name string, role model.Role) string {
	if !b.explicit {
		b.explicit = true
		if b.userID != "" {
			// An inferred user loses the slot to the source's own statement.
			b.participants[b.position[b.userID]].Role = model.RoleOther
			b.userID = ""
		}
	}

	k := b.identity(key, name)
	id, ok := b.byKey[k]
	if !ok {
		if role == model.RoleUser && b.userID != "" {
			role = model.RoleOther
		}
		return b.register(k, name, role)
	}
	if role == model.RoleUser && b.userID == "" {
		b.participants[b.position[id]].Role = model.RoleUser
		b.userID = id
	}
	return id
}

// system returns the reserved participant for service lines.
func (b *builder) system() string {
	if id, ok := b.byKey[systemKey]; ok {
		return id
	}
	return b.register(systemKey, "System", model.RoleUnknown)
}

func (b *builder) identity(key, name string) string {
	if k := model.IdentityKey(key); k != "" {
		return "id:" + k
	}
	return model.IdentityKey(displayName(name))
}

func (b *builder) register(key, name string, role model.Role) string {
	name = displayName(name)
	slug := model.Slugify(name)
	id := slug
	for n := 2; b.slugs[id]; n++ {
		id = fmt.Sprintf("%s-%d", slug, n)
	}
	b.slugs[id] = true
	b.byKey[key] = id
	b.position[id] = len(b.participants)
	b.participants = append(b.participants, model.Participant{ID: id, DisplayName: name, Role: role})
	if role == model.RoleUser {
		b.userID = id
	}
	return id
}

func displayName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return unknownSender
	}
	return name
}

// message appends a message and returns its index.
func (b *builder) message(senderID string, at time.Time, text string, isSystem bool) int {
	b.messages = append(b.messages, model.Message{
		ID:             uuid.New().String(),
		ConversationID: b.convID,
		SenderID:       senderID,
		SentAt:         at.UTC(),
		Text:           strings.TrimSpace(text),
		IsSystem:       isSystem,
	})
	return len(b.messages) - 1
}

// appendText extends a message with a continuation line.
func (b *builder) appendText(i int, line string) {
	m := &b.messages[i]
	if m.Text == "" {
		m.Text = strings.TrimSpace(line)
		return
	}
	m.Text += "\n" + strings.TrimRight(line, " \t\r")
}

// artifact registers a media artifact and returns its id.
func (b *builder) artifact(a model.MediaArtifact) string {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.ConversationID = b.convID
	if a.Type == "" {
		a.Type = model.ClassifyMedia(a.OriginalFilename, a.ContentType)
	}
	if a.ContentType == "" {
		a.ContentType = model.ContentTypeFor(a.OriginalFilename)
	}
	b.media = append(b.media, a)
	return a.ID
}

// attach links artifacts to message i. A message holds one reference, so
// every further artifact gets a media-only message from the same sender.
func (b *builder) attach(i int, artifacts ...model.MediaArtifact) {
	for _, a := range artifacts {
		id := b.artifact(a)
		if b.messages[i].MediaArtifactID == "" {
			b.messages[i].MediaArtifactID = id
			continue
		}
		src := b.messages[i]
		j := b.message(src.SenderID, src.SentAt, "", src.IsSystem)
		b.messages[j].MediaArtifactID = id
	}
}

// link points message i at an already registered artifact.
func (b *builder) link(i int, artifactID string) {
	if b.messages[i].MediaArtifactID == "" {
		b.messages[i].MediaArtifactID = artifactID
	}
}

// finish derives the conversation-level fields.
func (b *builder) finish() *model.NormalizedConversation {
	conv := model.Conversation{
		ID:             b.convID,
		SourcePlatform: b.platform,
		Title:          strings.TrimSpace(b.title),
		ParticipantIDs: make([]string, 0, len(b.participants)),
		MessageCount:   len(b.messages),
		Status:         model.StatusNormalized,
	}

	lang := model.NewLanguageDetector()
	var first, last time.Time
	for i, m := range b.messages {
		if i == 0 || m.SentAt.Before(first) {
			first = m.SentAt
		}
		if i == 0 || m.SentAt.After(last) {
			last = m.SentAt
		}
		if !m.IsSystem {
			lang.Add(m.Text)
		}
	}
	if len(b.messages) > 0 {
		conv.StartedAt = &first
		conv.EndedAt = &last
	}
	conv.LanguageCodes = lang.Codes()

	speakers := 0
	for _, p := range b.participants {
		if p.Role != model.RoleUnknown {
			speakers++
		}
	}
	for i := range b.participants {
		if speakers > 2 && b.participants[i].Role == model.RoleOther {
			b.participants[i].Role = model.RoleGroupMember
		}
		conv.ParticipantIDs = append(conv.ParticipantIDs, b.participants[i].ID)
	}

	messages := b.messages
	if messages == nil {
		messages = []model.Message{}
	}
	media := b.media
	if media == nil {
		media = []model.MediaArtifact{}
	}
	participants := b.participants
	if participants == nil {
		participants = []model.Participant{}
	}
	return &model.NormalizedConversation{
		Conversation: conv,
		Participants: participants,
		Messages:     messages,
		Media:        media,
	}
}
