package normalize

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

// defaultSender owns pasted lines that precede any named sender.
const defaultSender = "You"

const (
	maxGenericSenderRunes = 40
	maxGenericSenderWords = 5
)

// GenericText normalizes pasted conversations. The source has no timestamps,
// so messages get synthetic ones one second apart from the import instant.
// Every non-empty line becomes a message.
type GenericText struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewGenericText creates the pasted-text normalizer. now defaults to time.Now.
func NewGenericText(logger *slog.Logger, now func() time.Time) *GenericText {
	if now == nil {
		now = time.Now
	}
	return &GenericText{logger: logger, now: now}
}

func (g *GenericText) Platform() model.Platform { return model.PlatformGeneric }

func (g *GenericText) Normalize(ctx context.Context, in Input) (*model.NormalizedConversation, error) {
	b := newBuilder(model.PlatformGeneric, g.logger, in.Stats)
	for _, a := range in.Media {
		b.artifact(a)
	}

	base := g.now().UTC().Truncate(time.Second)
	lastSender := ""
	n := 0
	for i, line := range strings.Split(in.Text, "\n") {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b.seen()

		sender, text, ok := genericSplit(line)
		if !ok {
			sender, text = lastSender, line
			if sender == "" {
				sender = defaultSender
			}
		}
		lastSender = sender

		b.message(b.sender("", sender), base.Add(time.Duration(n)*time.Second), text, false)
		n++
	}
	return b.finish(), nil
}

// genericSplit accepts "Name: text" when Name looks like a person: short,
// not purely digits (a clock time) and not a URL scheme.
func genericSplit(line string) (string, string, bool) {
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return "", "", false
	}
	name := strings.TrimSpace(line[:i])
	text := strings.TrimSpace(line[i+1:])
	switch {
	case name == "" || text == "":
		return "", "", false
	case utf8.RuneCountInString(name) > maxGenericSenderRunes:
		return "", "", false
	case len(strings.Fields(name)) > maxGenericSenderWords:
		return "", "", false
	case strings.HasPrefix(line[i+1:], "//"):
		return "", "", false
	case strings.IndexFunc(name, func(r rune) bool { return !unicode.IsDigit(r) && !unicode.IsSpace(r) }) < 0:
		return "", "", false
	}
	return name, text, true
}

// GenericJSON normalizes arrays of records that carry sender-ish, text-ish
// and date-ish fields under any of the common key names.
type GenericJSON struct {
	logger *slog.Logger
}

// NewGenericJSON creates the generic JSON normalizer.
func NewGenericJSON(logger *slog.Logger) *GenericJSON {
	return &GenericJSON{logger: logger}
}

func (g *GenericJSON) Platform() model.Platform { return model.PlatformGeneric }
func (g *GenericJSON) RecordKey() string        { return "" }

// Normalize converts the records. Records without a parseable date are
// dropped rather than given an invented one.
func (g *GenericJSON) Normalize(ctx context.Context, in Input) (*model.NormalizedConversation, error) {
	b := newBuilder(model.PlatformGeneric, g.logger, in.Stats)
	b.title = metaString(in.Meta, "title")
	if b.title == "" {
		b.title = metaString(in.Meta, "name")
	}

	err := eachRecord(ctx, in.Records, func(i int, raw json.RawMessage) {
		b.seen()
		var rec map[string]json.RawMessage
		if err := json.Unmarshal(raw, &rec); err != nil {
			b.skip(i, "malformed record")
			return
		}

		dateRaw, ok := firstField(rec, model.DateKeys)
		if !ok {
			b.skip(i, "missing timestamp")
			return
		}
		at, ok := parseMillisFirst(dateRaw)
		if !ok {
			b.skip(i, "unparseable timestamp")
			return
		}

		var sender, text string
		if raw, ok := firstField(rec, model.SenderKeys); ok {
			sender = genericName(raw)
		}
		if raw, ok := firstField(rec, model.TextKeys); ok {
			text = genericText(raw)
		}
		if sender == "" && text == "" {
			b.skip(i, "no sender or text")
			return
		}
		b.message(b.sender("", sender), at, text, false)
	})
	if err != nil {
		return nil, err
	}
	return b.finish(), nil
}

func firstField(rec map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := rec[k]; ok && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}

// genericName reads a sender given as a string, a number or an object with a
// name-like field.
func genericName(raw json.RawMessage) string {
	if s := flexString(raw); s != "" {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, k := range []string{"name", "display_name", "username", "nickname", "id"} {
		if s := flexString(obj[k]); s != "" {
			return s
		}
	}
	return ""
}

// genericText reads a string or an array of strings.
func genericText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err == nil {
		return strings.Join(parts, "\n")
	}
	return ""
}
