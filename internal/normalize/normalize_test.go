package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func records(t *testing.T, doc string, key string) RecordSource {
	t.Helper()
	src, _, err := SplitDocument([]byte(doc), key)
	if err != nil {
		t.Fatalf("split document: %v", err)
	}
	return src
}

// checkInvariants asserts the shape every normalizer output must have.
func checkInvariants(t *testing.T, nc *model.NormalizedConversation) {
	t.Helper()
	if nc.Conversation.MessageCount != len(nc.Messages) {
		t.Errorf("message count %d != %d messages", nc.Conversation.MessageCount, len(nc.Messages))
	}
	if len(nc.Conversation.LanguageCodes) == 0 {
		t.Error("language codes must never be empty")
	}
	if nc.Conversation.Status != model.StatusNormalized {
		t.Errorf("status = %q", nc.Conversation.Status)
	}
	if len(nc.Conversation.ParticipantIDs) != len(nc.Participants) {
		t.Errorf("participant ids %v do not match participants", nc.Conversation.ParticipantIDs)
	}
	ids := make(map[string]bool)
	for _, p := range nc.Participants {
		if ids[p.ID] {
			t.Errorf("duplicate participant id %q", p.ID)
		}
		ids[p.ID] = true
	}
	media := make(map[string]bool)
	for _, a := range nc.Media {
		media[a.ID] = true
		if a.ConversationID != nc.Conversation.ID {
			t.Errorf("artifact %s has conversation %s", a.ID, a.ConversationID)
		}
	}
	users := 0
	for _, p := range nc.Participants {
		if p.Role == model.RoleUser {
			users++
		}
	}
	if users > 1 {
		t.Errorf("expected at most one user, got %d", users)
	}
	for i, m := range nc.Messages {
		if m.ConversationID != nc.Conversation.ID {
			t.Errorf("message %d has conversation %s", i, m.ConversationID)
		}
		if !ids[m.SenderID] {
			t.Errorf("message %d references unknown sender %q", i, m.SenderID)
		}
		if m.MediaArtifactID != "" && !media[m.MediaArtifactID] {
			t.Errorf("message %d references unknown artifact %q", i, m.MediaArtifactID)
		}
		if m.SentAt.IsZero() {
			t.Errorf("message %d has zero timestamp", i)
		}
	}
}

func roleOf(t *testing.T, nc *model.NormalizedConversation, name string) model.Role {
	t.Helper()
	for _, p := range nc.Participants {
		if p.DisplayName == name {
			return p.Role
		}
	}
	t.Fatalf("no participant named %q in %+v", name, nc.Participants)
	return ""
}

func TestChatLines_TwelveHourClock(t *testing.T) {
	tests := []struct {
		line         string
		hour, minute int
	}{
		{"2024/01/05, 12:15 AM - Alice: hi", 0, 15},
		{"2024/01/05, 12:15 PM - Alice: hi", 12, 15},
		{"2024/01/05, 01:05 PM - Alice: hi", 13, 5},
		{"2024/01/05, 11:59 p.m. - Alice: hi", 23, 59},
		{"2024/01/05, 07:30 am - Alice: hi", 7, 30},
		{"2024/01/05, 17:45 - Alice: hi", 17, 45},
	}
	for _, tt := range tests {
		h, ok := parseHeader(tt.line)
		if !ok {
			t.Fatalf("%q: header not recognised", tt.line)
		}
		at, ok := h.resolve(true)
		if !ok {
			t.Fatalf("%q: timestamp rejected", tt.line)
		}
		if at.Hour() != tt.hour || at.Minute() != tt.minute {
			t.Errorf("%q: got %02d:%02d, want %02d:%02d", tt.line, at.Hour(), at.Minute(), tt.hour, tt.minute)
		}
		if at.Year() != 2024 || at.Month() != time.January || at.Day() != 5 {
			t.Errorf("%q: got date %s", tt.line, at.Format("2006-01-02"))
		}
	}
}

func TestTo24Hour_RejectsImpossibleHours(t *testing.T) {
	for _, tc := range []struct {
		hour int
		m    byte
	}{{0, 'a'}, {13, 'p'}, {24, 0}} {
		if _, ok := to24Hour(tc.hour, tc.m); ok {
			t.Errorf("hour %d with marker %q accepted", tc.hour, tc.m)
		}
	}
}

const whatsappExport = "12/03/2024, 09:15 - Messages and calls are end-to-end encrypted.\n" +
	"12/03/2024, 09:16 - Alice: hey\n" +
	"12/03/2024, 09:17 - Bob: hi there\n" +
	"this line continues Bob's message\n" +
	"25/03/2024, 21:05 - Alice: IMG-20240325-WA0001.jpg (file attached)\n" +
	"\u200e[26/03/2024, 08:00:01] Bob: <attached: 00000012-AUDIO-2024-03-26.opus>\n"

func TestWhatsApp_ExportWithMediaAndContinuations(t *testing.T) {
	media := []model.MediaArtifact{
		{OriginalFilename: "IMG-20240325-WA0001.jpg", TransientPathOrURL: "zip://IMG-20240325-WA0001.jpg"},
		{OriginalFilename: "00000012-AUDIO-2024-03-26.opus", TransientPathOrURL: "zip://00000012-AUDIO-2024-03-26.opus"},
	}
	stats := &Stats{}
	nc, err := NewWhatsApp(quietLogger()).Normalize(context.Background(), Input{
		FileName: "WhatsApp Chat with Bob.txt",
		Text:     whatsappExport,
		Media:    media,
		Stats:    stats,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	if len(nc.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(nc.Messages))
	}
	if !nc.Messages[0].IsSystem {
		t.Error("expected the encryption notice to be a system message")
	}
	if roleOf(t, nc, "Alice") != model.RoleUser || roleOf(t, nc, "Bob") != model.RoleOther {
		t.Errorf("unexpected roles %+v", nc.Participants)
	}
	if roleOf(t, nc, "System") != model.RoleUnknown {
		t.Error("system participant must have role unknown")
	}
	if got := nc.Messages[2].Text; got != "hi there\nthis line continues Bob's message" {
		t.Errorf("continuation not appended: %q", got)
	}

	// 12/03 is read day-first because 25/03 appears in the same export.
	if nc.Messages[1].SentAt.Month() != time.March || nc.Messages[1].SentAt.Day() != 12 {
		t.Errorf("expected 12 March, got %s", nc.Messages[1].SentAt)
	}

	if nc.Messages[3].MediaArtifactID == "" || nc.Messages[4].MediaArtifactID == "" {
		t.Fatalf("expected both attachments linked, got %+v", nc.Messages[3:])
	}
	if nc.Messages[3].Text != "" {
		t.Errorf("marker should be stripped, got %q", nc.Messages[3].Text)
	}
	if nc.Messages[4].SentAt.Second() != 1 {
		t.Errorf("expected seconds from bracketed header, got %s", nc.Messages[4].SentAt)
	}
	if nc.Conversation.Title != "Bob" {
		t.Errorf("title = %q", nc.Conversation.Title)
	}
	if !nc.HasMedia() || len(nc.Media) != 2 {
		t.Errorf("expected 2 artifacts, got %d", len(nc.Media))
	}
	if nc.Media[1].Type != model.MediaAudio {
		t.Errorf("expected audio artifact, got %q", nc.Media[1].Type)
	}
	if stats.Records != 5 || stats.Skipped != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestChatLines_MonthFirstInferred(t *testing.T) {
	text := "1/13/24, 9:00 PM - Ann: first\n1/14/24, 9:01 PM - Ben: second\n2/1/24, 10:00 AM - Ann: third\n"
	nc, err := NewViber(quietLogger()).Normalize(context.Background(), Input{Text: text})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := nc.Messages[2].SentAt
	if got.Month() != time.February || got.Day() != 1 || got.Hour() != 10 {
		t.Errorf("expected 1 February 10:00, got %s", got)
	}
	if nc.Conversation.SourcePlatform != model.PlatformViber {
		t.Errorf("platform = %q", nc.Conversation.SourcePlatform)
	}
}

func TestChatLines_InvalidDateDropsLineAndContinuation(t *testing.T) {
	text := "30/01/2024, 10:00 - A: ok\n31/02/2024, 10:00 - A: impossible\nstill impossible\n01/02/2024, 10:00 - B: fine\n"
	stats := &Stats{}
	nc, err := NewWhatsApp(quietLogger()).Normalize(context.Background(), Input{Text: text, Stats: stats})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nc.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(nc.Messages))
	}
	if nc.Messages[0].Text != "ok" {
		t.Errorf("continuation of dropped line leaked: %q", nc.Messages[0].Text)
	}
	if stats.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", stats.Skipped)
	}
}

func telegramDoc(n int, froms []string) string {
	var sb strings.Builder
	sb.WriteString(`{"name":"Family","type":"private_group","id":7,"messages":[`)
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		from := froms[i%len(froms)]
		fmt.Fprintf(&sb, `{"id":%d,"type":"message","date":"1999-01-01T00:00:00","date_unixtime":"%d","from":%q,"from_id":"user%d","text":["hello ",{"type":"bold","text":"world"}]}`,
			i+1, 1704448800+i*60, from, i%len(froms))
	}
	sb.WriteString(`]}`)
	return sb.String()
}

func TestTelegram_RecordsBecomeMessages(t *testing.T) {
	const n = 25
	froms := []string{"Alice", "Bob", "Carol"}

	nc, err := NewTelegram(quietLogger()).Normalize(context.Background(), Input{
		Records: records(t, telegramDoc(n, froms), "messages"),
		Meta:    map[string]json.RawMessage{"name": json.RawMessage(`"Family"`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	if len(nc.Messages) != n {
		t.Fatalf("expected %d messages, got %d", n, len(nc.Messages))
	}
	if len(nc.Participants) != len(froms) {
		t.Errorf("expected %d participants, got %d", len(froms), len(nc.Participants))
	}
	for i, m := range nc.Messages {
		if _, err := time.Parse(time.RFC3339, m.SentAt.Format(time.RFC3339)); err != nil {
			t.Errorf("message %d timestamp not ISO: %v", i, err)
		}
		// date_unixtime wins over the bogus 1999 date string.
		if m.SentAt.Year() != 2024 {
			t.Errorf("message %d: expected unix time to win, got %s", i, m.SentAt)
		}
	}
	if nc.Messages[0].Text != "hello world" {
		t.Errorf("entity text not flattened: %q", nc.Messages[0].Text)
	}
	if roleOf(t, nc, "Alice") != model.RoleUser || roleOf(t, nc, "Bob") != model.RoleGroupMember {
		t.Errorf("unexpected roles %+v", nc.Participants)
	}
	if nc.Conversation.Title != "Family" {
		t.Errorf("title = %q", nc.Conversation.Title)
	}
	if nc.Conversation.StartedAt == nil || !nc.Conversation.StartedAt.Equal(time.Unix(1704448800, 0)) {
		t.Errorf("startedAt = %v", nc.Conversation.StartedAt)
	}
}

func TestTelegram_ServiceMediaAndBadRecords(t *testing.T) {
	doc := `{"messages":[
		{"id":1,"type":"service","date":"2024-01-05T10:00:00","actor":"Alice","actor_id":"user1","action":"create_group","title":"Trip"},
		{"id":2,"type":"message","date":"2024-01-05T10:01:00","from":"Alice","from_id":"user1","text":"","photo":"photos/photo_1.jpg"},
		{"id":3,"type":"message","date":"not a date","from":"Bob","from_id":"user2","text":"lost"},
		{"id":4,"type":"message","date":"2024-01-05T10:02:00","from":"Bob","from_id":"user2","text":"","file":"voice/audio_1.ogg","media_type":"voice_message","mime_type":"audio/ogg"},
		{"id":5,"type":"message","date":"2024-01-05T10:03:00","from":"Bob","from_id":"user2","text":"","file":"stickers/s.webp","media_type":"sticker","sticker_emoji":"x"},
		"not an object"
	]}`
	stats := &Stats{}
	nc, err := NewTelegram(quietLogger()).Normalize(context.Background(), Input{Records: records(t, doc, "messages"), Stats: stats})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	if len(nc.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(nc.Messages))
	}
	if !nc.Messages[0].IsSystem || nc.Messages[0].Text != "Alice create group Trip" {
		t.Errorf("service message = %+v", nc.Messages[0])
	}
	if roleOf(t, nc, "Alice") != model.RoleUser {
		t.Error("first real sender should be the user")
	}
	wantTypes := []model.MediaType{model.MediaImage, model.MediaAudio, model.MediaSticker}
	if len(nc.Media) != len(wantTypes) {
		t.Fatalf("expected %d artifacts, got %d", len(wantTypes), len(nc.Media))
	}
	for i, want := range wantTypes {
		if nc.Media[i].Type != want {
			t.Errorf("artifact %d type = %q, want %q", i, nc.Media[i].Type, want)
		}
	}
	if stats.Records != 6 || stats.Skipped != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestGenericText_EndToEnd(t *testing.T) {
	nc, err := NewGenericText(quietLogger(), clock).Normalize(context.Background(), Input{
		Text: "Alice: hi\nBob: hello\nAlice: how are you",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	if len(nc.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %+v", nc.Participants)
	}
	if roleOf(t, nc, "Alice") != model.RoleUser || roleOf(t, nc, "Bob") != model.RoleOther {
		t.Errorf("unexpected roles %+v", nc.Participants)
	}
	want := []string{"hi", "hello", "how are you"}
	if len(nc.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(nc.Messages))
	}
	for i, m := range nc.Messages {
		if m.Text != want[i] {
			t.Errorf("message %d = %q, want %q", i, m.Text, want[i])
		}
		if i > 0 && !m.SentAt.After(nc.Messages[i-1].SentAt) {
			t.Errorf("message %d timestamp not strictly increasing", i)
		}
	}
	if !nc.Messages[0].SentAt.Equal(fixedNow) {
		t.Errorf("expected synthetic clock to start at import instant, got %s", nc.Messages[0].SentAt)
	}
}

func TestGenericText_NeverDropsLines(t *testing.T) {
	inputs := []string{
		"just one line",
		"intro without sender\nAlice: hi\n\n   \n10:30: meeting moved\nhttps://example.com: link\n: empty name\nAlice:",
		"a\nb\nc\n",
		strings.Repeat("x: y\n", 50),
		"\n\n\n",
	}
	for _, in := range inputs {
		want := 0
		for _, l := range strings.Split(in, "\n") {
			if strings.TrimSpace(l) != "" {
				want++
			}
		}
		nc, err := NewGenericText(quietLogger(), clock).Normalize(context.Background(), Input{Text: in})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		checkInvariants(t, nc)
		if len(nc.Messages) != want {
			t.Errorf("input %q: expected %d messages, got %d", in, want, len(nc.Messages))
		}
	}
}

func TestGenericText_UnattributedLines(t *testing.T) {
	nc, err := NewGenericText(quietLogger(), clock).Normalize(context.Background(), Input{
		Text: "hello?\nBob: hey\nsecond line from bob\n10:30: meeting",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	senders := make([]string, len(nc.Messages))
	for i, m := range nc.Messages {
		p, _ := nc.Participant(m.SenderID)
		senders[i] = p.DisplayName
	}
	if fmt.Sprint(senders) != "[You Bob Bob Bob]" {
		t.Errorf("senders = %v", senders)
	}
	if nc.Messages[3].Text != "10:30: meeting" {
		t.Errorf("clock-like prefix must stay in the text, got %q", nc.Messages[3].Text)
	}
}

func TestGenericJSON_DropsUnparseableDates(t *testing.T) {
	doc := `[
		{"user":"Ann","message":"one","time":"2024-01-05 10:00"},
		{"user":"Ben","message":"two","time":"yesterday"},
		{"user":{"name":"Ben"},"message":"three","time":1704448920000},
		{"user":"Ann","message":"four"},
		{"author":"Cy","content":["multi","line"],"timestamp":1704449000}
	]`
	stats := &Stats{}
	nc, err := NewGenericJSON(quietLogger()).Normalize(context.Background(), Input{Records: records(t, doc, ""), Stats: stats})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	if len(nc.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(nc.Messages))
	}
	if stats.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", stats.Skipped)
	}
	if got := nc.Messages[2].SentAt; !got.Equal(time.Unix(1704449000, 0)) {
		t.Errorf("seconds epoch misread: %s", got)
	}
	if nc.Messages[2].Text != "multi\nline" {
		t.Errorf("text = %q", nc.Messages[2].Text)
	}
}

func TestSignal_ExplicitRoles(t *testing.T) {
	doc := `{"messages":[
		{"sent_at":1704448800000,"body":"hi","source":"+15550100","sourceName":"Bob","type":"incoming"},
		{"sent_at":"1704448860000","body":"hello","type":"outgoing","attachments":[{"contentType":"image/jpeg","fileName":"a.jpg","path":"att/a.jpg"}]},
		{"timestamp":1704448900,"body":"group renamed","type":"group-update"},
		{"date":"2024-01-05T10:05:00Z","body":"iso","source":"+15550100","type":"incoming"},
		{"body":"no time","source":"+15550100","type":"incoming"}
	]}`
	stats := &Stats{}
	nc, err := NewSignal(quietLogger()).Normalize(context.Background(), Input{Records: records(t, doc, "messages"), Stats: stats})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	if roleOf(t, nc, "Bob") != model.RoleOther {
		t.Error("incoming sender must be other even when first")
	}
	if roleOf(t, nc, selfName) != model.RoleUser {
		t.Error("outgoing sender must be the user")
	}
	if len(nc.Messages) != 4 || stats.Skipped != 1 {
		t.Fatalf("expected 4 messages and 1 skip, got %d and %+v", len(nc.Messages), stats)
	}
	if !nc.Messages[2].IsSystem {
		t.Error("group update should be a system message")
	}
	if got := nc.Messages[2].SentAt; !got.Equal(time.Unix(1704448900, 0)) {
		t.Errorf("seconds fallback misread: %s", got)
	}
	if nc.Messages[3].SenderID != nc.Messages[0].SenderID {
		t.Error("same source number must map to one participant")
	}
	if len(nc.Media) != 1 || nc.Media[0].Type != model.MediaImage {
		t.Errorf("unexpected media %+v", nc.Media)
	}
}

func TestSignal_MissingTypeInfersUser(t *testing.T) {
	doc := `{"messages":[
		{"sent_at":1704448800000,"body":"hi","source":"+111"},
		{"sent_at":1704448860000,"body":"hello","source":"+222"},
		{"sent_at":1704448920000,"body":"again","source":"+111"}
	]}`
	nc, err := NewSignal(quietLogger()).Normalize(context.Background(), Input{Records: records(t, doc, "messages")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	if roleOf(t, nc, "+111") != model.RoleUser {
		t.Errorf("first sender should be the user without a type field: %+v", nc.Participants)
	}
	if roleOf(t, nc, "+222") != model.RoleOther {
		t.Errorf("second sender should be other: %+v", nc.Participants)
	}
}

func TestDiscord_SystemTypesAndTitle(t *testing.T) {
	doc := `{"guild":{"name":"G"},"channel":{"name":"general"},"messages":[
		{"id":"1","type":"GuildMemberJoin","timestamp":"2024-01-05T10:00:00.123+00:00","content":"Joined the server.","author":{"id":"9","name":"zed"}},
		{"id":"2","type":"Default","timestamp":"2024-01-05T10:01:00+00:00","content":"yo","author":{"id":"7","name":"alice","nickname":"Alice"},"attachments":[{"url":"https://cdn/x.png","fileName":"x.png"},{"url":"https://cdn/y.mp4","fileName":"y.mp4"}]},
		{"id":"3","type":"Reply","timestamp":1704448920000,"content":"hey","author":{"id":"8","name":"bob"}}
	]}`
	src, meta, err := SplitDocument([]byte(doc), "messages")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	nc, err := NewDiscord(quietLogger()).Normalize(context.Background(), Input{Records: src, Meta: meta})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	if nc.Conversation.Title != "general" {
		t.Errorf("title = %q", nc.Conversation.Title)
	}
	if !nc.Messages[0].IsSystem {
		t.Error("member join should be a system message")
	}
	// Two attachments: the second gets its own media-only message.
	if len(nc.Messages) != 4 || len(nc.Media) != 2 {
		t.Fatalf("expected 4 messages and 2 artifacts, got %d and %d", len(nc.Messages), len(nc.Media))
	}
	if nc.Messages[2].Text != "" || nc.Messages[2].MediaArtifactID != nc.Media[1].ID {
		t.Errorf("second attachment message = %+v", nc.Messages[2])
	}
	if roleOf(t, nc, "Alice") != model.RoleUser {
		t.Error("nickname should be the display name and first sender the user")
	}
}

func TestMessenger_RepairsMojibake(t *testing.T) {
	doc := `{"participants":[{"name":"RenÃ©"}],"title":"CafÃ© crew","messages":[
		{"sender_name":"RenÃ©","timestamp_ms":1704448860000,"content":"Ã§a va?","photos":[{"uri":"messages/photos/1.jpg"}],"type":"Generic"},
		{"sender_name":"ZoÃ©","timestamp_ms":1704448800000,"content":"ZoÃ© left the group.","type":"Unsubscribe"}
	]}`
	src, meta, err := SplitDocument([]byte(doc), "messages")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	nc, err := NewMessenger(quietLogger()).Normalize(context.Background(), Input{Records: src, Meta: meta})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	if nc.Conversation.Title != "Café crew" {
		t.Errorf("title = %q", nc.Conversation.Title)
	}
	if roleOf(t, nc, "René") != model.RoleUser {
		t.Errorf("participants = %+v", nc.Participants)
	}
	if nc.Messages[0].Text != "ça va?" {
		t.Errorf("text = %q", nc.Messages[0].Text)
	}
	if !nc.Messages[1].IsSystem {
		t.Error("unsubscribe should be a system message")
	}
	// Messenger lists newest first; the conversation range still spans both.
	if !nc.Conversation.StartedAt.Before(*nc.Conversation.EndedAt) {
		t.Errorf("range %v..%v", nc.Conversation.StartedAt, nc.Conversation.EndedAt)
	}
	if repairMojibake("plain ascii") != "plain ascii" || repairMojibake("日本") != "日本" {
		t.Error("repair must leave clean strings alone")
	}
}

func TestIMessage_JSONAndText(t *testing.T) {
	doc := `{"chat_identifier":"+15550123","messages":[
		{"date":726141600,"text":"hey","is_from_me":0,"handle_id":"+15550123","sender":"Dana"},
		{"date":726141660000000000,"text":"hi Dana","is_from_me":1},
		{"date":"2024-01-05T10:02:00Z","text":"iso works","is_from_me":false,"handle_id":"+15550123"}
	]}`
	src, meta, err := SplitDocument([]byte(doc), "messages")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	n := NewIMessage(quietLogger())
	nc, err := n.Normalize(context.Background(), Input{Records: src, Meta: meta})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	if roleOf(t, nc, "Dana") != model.RoleOther || roleOf(t, nc, selfName) != model.RoleUser {
		t.Errorf("unexpected roles %+v", nc.Participants)
	}
	want := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	if !nc.Messages[0].SentAt.Equal(want) {
		t.Errorf("apple seconds: got %s, want %s", nc.Messages[0].SentAt, want)
	}
	if !nc.Messages[1].SentAt.Equal(want.Add(time.Minute)) {
		t.Errorf("apple nanoseconds: got %s", nc.Messages[1].SentAt)
	}
	if nc.Messages[2].SenderID != nc.Messages[0].SenderID {
		t.Error("same handle must map to one participant")
	}

	text, err := n.Normalize(context.Background(), Input{Text: "05/01/2024, 10:00 - Dana: hey\n05/01/2024, 10:01 - Me: hi"})
	if err != nil {
		t.Fatalf("text rendition: %v", err)
	}
	if len(text.Messages) != 2 || text.Conversation.SourcePlatform != model.PlatformIMessage {
		t.Errorf("unexpected text result %+v", text.Conversation)
	}
}

func TestIMessage_MissingDirectionInfersUser(t *testing.T) {
	doc := `{"messages":[
		{"date":726141600,"text":"hey","sender":"Alice"},
		{"date":726141660,"text":"hi","sender":"Bob"},
		{"date":726141720,"text":"lunch?","sender":"Alice","is_from_me":null}
	]}`
	nc, err := NewIMessage(quietLogger()).Normalize(context.Background(), Input{Records: records(t, doc, "messages")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	if roleOf(t, nc, "Alice") != model.RoleUser || roleOf(t, nc, "Bob") != model.RoleOther {
		t.Errorf("unexpected roles %+v", nc.Participants)
	}
	if nc.Messages[2].SenderID != nc.Messages[0].SenderID {
		t.Error("same sender must map to one participant")
	}
}

func TestIMessage_OutOfRangeDatesSkipped(t *testing.T) {
	doc := `{"messages":[
		{"date":111111111101,"text":"overflow","is_from_me":1},
		{"date":99999999999999,"text":"far future","is_from_me":1},
		{"date":"1e30","text":"huge","is_from_me":1},
		{"date":726141600,"text":"ok","is_from_me":1}
	]}`
	stats := &Stats{}
	nc, err := NewIMessage(quietLogger()).Normalize(context.Background(), Input{Records: records(t, doc, "messages"), Stats: stats})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nc.Messages) != 1 || nc.Messages[0].Text != "ok" {
		t.Fatalf("expected only the in-range message, got %+v", nc.Messages)
	}
	if stats.Skipped != 3 {
		t.Errorf("expected 3 skipped, got %d", stats.Skipped)
	}

	for _, n := range []int64{1e10, 111111111101, 5e12, 1e14 - 1, -1e14 + 1} {
		if at, ok := parseAppleDate(json.RawMessage(fmt.Sprint(n))); ok {
			t.Errorf("%d accepted as %s", n, at)
		}
	}
}

func TestSplitDocument(t *testing.T) {
	if _, _, err := SplitDocument([]byte(`{"chats":[]}`), "messages"); !errors.Is(err, ErrStructuralMismatch) {
		t.Errorf("missing array: expected ErrStructuralMismatch, got %v", err)
	}
	if _, _, err := SplitDocument([]byte(`{"messages":{"a":1}}`), "messages"); !errors.Is(err, ErrStructuralMismatch) {
		t.Errorf("non-array: expected ErrStructuralMismatch, got %v", err)
	}
	if _, _, err := SplitDocument([]byte(`"text"`), ""); !errors.Is(err, ErrStructuralMismatch) {
		t.Errorf("scalar: expected ErrStructuralMismatch, got %v", err)
	}
	if _, _, err := SplitDocument([]byte(`{"messages":[`), "messages"); err == nil || errors.Is(err, ErrStructuralMismatch) {
		t.Errorf("truncated: expected a decode error, got %v", err)
	}

	src, meta, err := SplitDocument([]byte(`{"b":[{"x":1}],"a":[1,2],"title":"t"}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.Len() != 1 || metaString(meta, "title") != "t" {
		t.Errorf("expected the object array under b, got %d records, meta %v", src.Len(), meta)
	}

	src, meta, err = SplitDocument([]byte("\xEF\xBB\xBF[{\"x\":1},{\"x\":2}]"), "messages")
	if err != nil || src.Len() != 2 || meta != nil {
		t.Errorf("root array: %v %v %v", err, src, meta)
	}
}

func TestBuilder_IdentityAndSlugCollisions(t *testing.T) {
	nc, err := NewGenericText(quietLogger(), clock).Normalize(context.Background(), Input{
		Text: "Bob: one\n  BOB  : two\nBob!: three\nJosé: four",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkInvariants(t, nc)

	var ids []string
	for _, p := range nc.Participants {
		ids = append(ids, p.ID)
	}
	if fmt.Sprint(ids) != "[bob bob-2 jose]" {
		t.Errorf("participant ids = %v", ids)
	}
	if nc.Participants[1].Role != model.RoleGroupMember {
		t.Errorf("three speakers should promote others to group members: %+v", nc.Participants)
	}
}

func TestNormalize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTelegram(quietLogger()).Normalize(ctx, Input{Records: records(t, telegramDoc(3, []string{"A"}), "messages")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestJSONNormalizers_RequireRecords(t *testing.T) {
	for _, n := range []Normalizer{NewTelegram(quietLogger()), NewSignal(quietLogger()), NewGenericJSON(quietLogger())} {
		if _, err := n.Normalize(context.Background(), Input{}); !errors.Is(err, ErrStructuralMismatch) {
			t.Errorf("%s: expected ErrStructuralMismatch, got %v", n.Platform(), err)
		}
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(quietLogger(), clock)
	tests := []struct {
		p    model.Platform
		f    model.Format
		want bool
	}{
		{model.PlatformTelegram, model.FormatJSON, true},
		{model.PlatformTelegram, model.FormatText, false},
		{model.PlatformWhatsApp, model.FormatZip, true},
		{model.PlatformIMessage, model.FormatText, true},
		{model.PlatformIMessage, model.FormatJSON, true},
		{model.PlatformGeneric, model.FormatText, true},
		{model.PlatformUnknown, model.FormatJSON, false},
	}
	for _, tt := range tests {
		if _, ok := r.Lookup(tt.p, tt.f); ok != tt.want {
			t.Errorf("Lookup(%q, %q) = %v, want %v", tt.p, tt.f, ok, tt.want)
		}
	}
	if r.FormatFor(model.PlatformWhatsApp) != model.FormatText || r.FormatFor(model.PlatformSignal) != model.FormatJSON {
		t.Error("unexpected default formats")
	}
}
