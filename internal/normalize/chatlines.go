package normalize

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

// lineHeader matches the timestamp prefix of a chat export line:
//
//	05/01/2024, 09:16 - Alice: hey
//	[05/01/2024, 09:16:03] Alice: hey
//	2024/01/05, 12:15 AM - Alice: hi
var lineHeader = regexp.MustCompile(
	`^\[?(\d{1,4})[/.\-](\d{1,2})[/.\-](\d{1,4}),?\s+(\d{1,2})[:.](\d{2})(?:[:.](\d{2}))?(?:\s*([AaPp])\.?\s?[Mm]\.?)?\]?\s*(?:-\s+)?(.*)$`)

var (
	attachedMarker = regexp.MustCompile(`<attached:\s*([^>]+?)\s*>`)
	fileAttached   = regexp.MustCompile(`^(.+?)\s+\(file attached\)`)
)

// invisibles are direction marks and odd spaces that exports sprinkle into lines.
var invisibles = strings.NewReplacer(
	"\u200e", "", "\u200f", "", "\u202a", "", "\u202b", "", "\u202c", "",
	"\u202d", "", "\u202e", "", "\u2066", "", "\u2067", "", "\u2068", "",
	"\u2069", "", "\ufeff", "",
	"\u00a0", " ", "\u202f", " ", "\u2007", " ",
)

// maxSenderRunes bounds what is taken for a sender name before ": ".
const maxSenderRunes = 64

// chatLines parses the "date, time - Sender: text" format shared by the
// WhatsApp, Viber and iMessage text exports.
type chatLines struct {
	platform model.Platform
	logger   *slog.Logger
}

func newChatLines(p model.Platform, logger *slog.Logger) *chatLines {
	return &chatLines{platform: p, logger: logger}
}

// NewWhatsApp creates the WhatsApp text normalizer.
func NewWhatsApp(logger *slog.Logger) Normalizer { return newChatLines(model.PlatformWhatsApp, logger) }

// NewViber creates the Viber text normalizer.
func NewViber(logger *slog.Logger) Normalizer { return newChatLines(model.PlatformViber, logger) }

func (c *chatLines) Platform() model.Platform { return c.platform }

// header is a parsed line prefix.
type header struct {
	a, b, c      string
	hour, minute int
	second       int
	meridiem     byte
	rest         string
}

func parseHeader(line string) (header, bool) {
	m := lineHeader.FindStringSubmatch(line)
	if m == nil {
		return header{}, false
	}
	h := header{a: m[1], b: m[2], c: m[3], rest: m[8]}
	h.hour, _ = strconv.Atoi(m[4])
	h.minute, _ = strconv.Atoi(m[5])
	if m[6] != "" {
		h.second, _ = strconv.Atoi(m[6])
	}
	if m[7] != "" {
		h.meridiem = m[7][0] | 0x20
	}
	return h, true
}

// to24Hour applies the 12-hour clock rules: 12 AM is 0, 12 PM is 12, any
// other PM hour adds 12. Without a marker the hour is already 24-hour.
func to24Hour(hour int, meridiem byte) (int, bool) {
	switch meridiem {
	case 0:
		return hour, hour >= 0 && hour <= 23
	case 'a':
		if hour < 1 || hour > 12 {
			return 0, false
		}
		if hour == 12 {
			return 0, true
		}
		return hour, true
	case 'p':
		if hour < 1 || hour > 12 {
			return 0, false
		}
		if hour == 12 {
			return 12, true
		}
		return hour + 12, true
	}
	return 0, false
}

// resolve computes the header's timestamp. A four digit first group means Y/M/D.
// Otherwise the export-wide dayFirst decides between D/M/Y and M/D/Y, unless
// the line itself only makes sense the other way round.
func (h header) resolve(dayFirst bool) (time.Time, bool) {
	var year, month, day int
	if len(h.a) == 4 {
		year, _ = strconv.Atoi(h.a)
		month, _ = strconv.Atoi(h.b)
		day, _ = strconv.Atoi(h.c)
	} else {
		x, _ := strconv.Atoi(h.a)
		y, _ := strconv.Atoi(h.b)
		switch {
		case dayFirst && y > 12 && x <= 12:
			dayFirst = false
		case !dayFirst && x > 12 && y <= 12:
			dayFirst = true
		}
		if dayFirst {
			day, month = x, y
		} else {
			month, day = x, y
		}
		switch len(h.c) {
		case 2:
			year, _ = strconv.Atoi(h.c)
			year += 2000
		case 4:
			year, _ = strconv.Atoi(h.c)
		default:
			return time.Time{}, false
		}
	}

	hour, ok := to24Hour(h.hour, h.meridiem)
	if !ok || h.minute > 59 || h.second > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, h.minute, h.second, 0, time.UTC)
	// time.Date normalizes overflow, so a changed field means an invalid date.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, plausible(t)
}

// decideDayFirst looks at every header in the export. Day-first is the
// default; month-first wins only when some line has a second group above 12
// and none has a first group above 12.
func decideDayFirst(lines []string) bool {
	monthFirstSeen := false
	for _, line := range lines {
		h, ok := parseHeader(line)
		if !ok || len(h.a) == 4 {
			continue
		}
		x, _ := strconv.Atoi(h.a)
		y, _ := strconv.Atoi(h.b)
		if x > 12 {
			return true
		}
		if y > 12 {
			monthFirstSeen = true
		}
	}
	return !monthFirstSeen
}

// splitSender splits "Sender: text". ok is false for lines without a
// plausible sender, which are system lines.
func splitSender(rest string) (sender, text string, ok bool) {
	i := strings.Index(rest, ": ")
	if i < 0 {
		if strings.HasSuffix(rest, ":") {
			i = len(rest) - 1
		} else {
			return "", rest, false
		}
	}
	sender = strings.TrimSpace(rest[:i])
	if sender == "" || utf8.RuneCountInString(sender) > maxSenderRunes {
		return "", rest, false
	}
	text = ""
	if i+2 <= len(rest) {
		text = rest[i+2:]
	}
	return sender, text, true
}

// Normalize parses the export text line by line. Lines without a header are
// continuations of the previous message. Lines with an invalid date are
// dropped together with their continuations.
func (c *chatLines) Normalize(ctx context.Context, in Input) (*model.NormalizedConversation, error) {
	b := newBuilder(c.platform, c.logger, in.Stats)
	b.title = chatTitle(in.FileName)

	available := make([]attachable, 0, len(in.Media))
	for _, a := range in.Media {
		available = append(available, attachable{name: strings.ToLower(a.OriginalFilename), id: b.artifact(a)})
	}

	lines := strings.Split(invisibles.Replace(in.Text), "\n")
	dayFirst := decideDayFirst(lines)

	current := -1
	dropping := false
	for i, line := range lines {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line = strings.TrimRight(line, "\r")

		h, ok := parseHeader(line)
		if !ok {
			if strings.TrimSpace(line) == "" {
				continue
			}
			switch {
			case dropping:
			case current >= 0:
				b.appendText(current, line)
			default:
				b.seen()
				b.skip(i, "text before the first timestamped line")
			}
			continue
		}

		b.seen()
		at, ok := h.resolve(dayFirst)
		if !ok {
			b.skip(i, "invalid date")
			dropping = true
			continue
		}
		dropping = false

		sender, text, ok := splitSender(h.rest)
		if !ok {
			current = b.message(b.system(), at, h.rest, true)
			continue
		}

		artifactID := ""
		if stripped, ref := mediaMarker(text); ref != "" {
			if artifactID = matchArtifact(available, ref); artifactID != "" {
				text = stripped
			}
		}
		current = b.message(b.sender("", sender), at, text, false)
		if artifactID != "" {
			b.link(current, artifactID)
		}
	}
	return b.finish(), nil
}

// mediaMarker removes an attachment marker from text and returns the
// referenced filename.
func mediaMarker(text string) (string, string) {
	if m := attachedMarker.FindStringSubmatchIndex(text); m != nil {
		ref := text[m[2]:m[3]]
		return strings.TrimSpace(text[:m[0]] + text[m[1]:]), ref
	}
	if m := fileAttached.FindStringSubmatchIndex(text); m != nil {
		ref := text[m[2]:m[3]]
		return strings.TrimSpace(text[m[1]:]), ref
	}
	return text, ""
}

type attachable struct {
	name string
	id   string
}

// matchArtifact finds the artifact whose filename equals, contains or is
// contained in ref, ignoring case.
func matchArtifact(available []attachable, ref string) string {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return ""
	}
	for _, a := range available {
		if a.name == ref {
			return a.id
		}
	}
	for _, a := range available {
		if a.name != "" && (strings.Contains(a.name, ref) || strings.Contains(ref, a.name)) {
			return a.id
		}
	}
	return ""
}

// chatTitle derives a title from export names like "WhatsApp Chat with Bob.txt".
func chatTitle(fileName string) string {
	name := baseName(fileName)
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	for _, prefix := range []string{"WhatsApp Chat with ", "WhatsApp Chat - ", "Viber chat with ", "Chat with "} {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(name, prefix))
		}
	}
	return ""
}
