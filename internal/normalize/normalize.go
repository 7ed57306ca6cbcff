// Package normalize turns platform-shaped export records into the canonical
// conversation model. There is one Normalizer per platform; each call owns
// all of its state, so a Normalizer is safe for concurrent use.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

// ErrStructuralMismatch is returned when the input does not have the shape a
// normalizer expects, e.g. a JSON document without its record array.
var ErrStructuralMismatch = errors.New("structural mismatch")

// RecordSource yields raw JSON records one at a time and returns io.EOF when
// exhausted. *stream.Extractor satisfies it.
type RecordSource interface {
	Next(ctx context.Context) (json.RawMessage, error)
}

// SliceSource is a RecordSource over records already in memory.
type SliceSource struct {
	records []json.RawMessage
	pos     int
}

// NewSliceSource wraps records.
func NewSliceSource(records []json.RawMessage) *SliceSource {
	return &SliceSource{records: records}
}

// Next returns the next record or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

// Len reports how many records the source holds in total.
func (s *SliceSource) Len() int { return len(s.records) }

// Stats counts what a normalizer saw. Records includes skipped ones.
type Stats struct {
	Records int `json:"records"`
	Skipped int `json:"skipped"`
}

// Input is everything a normalizer may consume. Text formats fill Text;
// JSON formats fill Records and, when the document was buffered, Meta with
// the top-level fields other than the record array.
type Input struct {
	FileName string
	Text     string
	Records  RecordSource
	Meta     map[string]json.RawMessage
	Media    []model.MediaArtifact

	// Stats, when non-nil, receives record counts.
	Stats *Stats
}

// Normalizer converts one platform's export into a NormalizedConversation.
type Normalizer interface {
	Platform() model.Platform
	Normalize(ctx context.Context, in Input) (*model.NormalizedConversation, error)
}

// RecordKeyer is implemented by JSON normalizers. RecordKey names the array
// holding the records; "" means a root-level array.
type RecordKeyer interface {
	RecordKey() string
}

// Registry holds the normalizers for every platform and format.
type Registry struct {
	json map[model.Platform]Normalizer
	text map[model.Platform]Normalizer
}

// NewRegistry builds the default normalizer set. now drives the synthetic
// clock of the generic text path; nil means time.Now.
func NewRegistry(logger *slog.Logger, now func() time.Time) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	im := NewIMessage(logger)
	return &Registry{
		json: map[model.Platform]Normalizer{
			model.PlatformTelegram:  NewTelegram(logger),
			model.PlatformSignal:    NewSignal(logger),
			model.PlatformDiscord:   NewDiscord(logger),
			model.PlatformMessenger: NewMessenger(logger),
			model.PlatformIMessage:  im,
			model.PlatformGeneric:   NewGenericJSON(logger),
		},
		text: map[model.Platform]Normalizer{
			model.PlatformWhatsApp: NewWhatsApp(logger),
			model.PlatformViber:    NewViber(logger),
			model.PlatformIMessage: im,
			model.PlatformGeneric:  NewGenericText(logger, now),
		},
	}
}

// Lookup returns the normalizer for a platform and format. ZIP archives carry
// chat text, so they resolve to the text normalizers.
func (r *Registry) Lookup(p model.Platform, f model.Format) (Normalizer, bool) {
	var n Normalizer
	var ok bool
	switch f {
	case model.FormatJSON:
		n, ok = r.json[p]
	case model.FormatText, model.FormatZip:
		n, ok = r.text[p]
	}
	return n, ok
}

// Supports reports whether any normalizer is registered for p.
func (r *Registry) Supports(p model.Platform) bool {
	_, j := r.json[p]
	_, t := r.text[p]
	return j || t
}

// FormatFor returns the format a platform's export is read as when the caller
// did not say. Platforms with both renditions prefer JSON.
func (r *Registry) FormatFor(p model.Platform) model.Format {
	if _, ok := r.json[p]; ok {
		return model.FormatJSON
	}
	if _, ok := r.text[p]; ok {
		return model.FormatText
	}
	return model.FormatUnknown
}

// preferredArrayKeys are tried first when looking for a record array under an
// unnamed key.
var preferredArrayKeys = []string{"messages", "chats", "conversation", "data", "items", "records"}

// SplitDocument parses a buffered JSON document into its records and the
// remaining top-level fields. A root-level array is accepted for any key. For
// an object, key selects the array; an empty key picks the first field that
// holds an array of objects.
func SplitDocument(doc []byte, key string) (*SliceSource, map[string]json.RawMessage, error) {
	doc = bytes.TrimPrefix(bytes.TrimSpace(doc), []byte{0xEF, 0xBB, 0xBF})
	if len(doc) == 0 {
		return nil, nil, fmt.Errorf("empty document: %w", ErrStructuralMismatch)
	}

	switch doc[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(doc, &records); err != nil {
			return nil, nil, fmt.Errorf("decode array: %w", err)
		}
		return NewSliceSource(records), nil, nil
	case '{':
	default:
		return nil, nil, fmt.Errorf("document is not an object or array: %w", ErrStructuralMismatch)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil {
		return nil, nil, fmt.Errorf("decode object: %w", err)
	}

	if key == "" {
		key = firstObjectArray(obj)
		if key == "" {
			return nil, nil, fmt.Errorf("no array of records: %w", ErrStructuralMismatch)
		}
	}

	raw, ok := obj[key]
	if !ok {
		return nil, nil, fmt.Errorf("missing %q array: %w", key, ErrStructuralMismatch)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, nil, fmt.Errorf("%q is not an array: %w", key, ErrStructuralMismatch)
	}
	delete(obj, key)
	return NewSliceSource(records), obj, nil
}

func firstObjectArray(obj map[string]json.RawMessage) string {
	isObjectArray := func(raw json.RawMessage) bool {
		var arr []json.RawMessage
		if json.Unmarshal(raw, &arr) != nil || len(arr) == 0 {
			return false
		}
		first := bytes.TrimSpace(arr[0])
		return len(first) > 0 && first[0] == '{'
	}

	for _, k := range preferredArrayKeys {
		if raw, ok := obj[k]; ok && isObjectArray(raw) {
			return k
		}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if isObjectArray(obj[k]) {
			return k
		}
	}
	return ""
}

// eachRecord drains src, calling fn with each record's index. Read errors are
// returned wrapped; malformed records are fn's concern.
func eachRecord(ctx context.Context, src RecordSource, fn func(i int, raw json.RawMessage)) error {
	if src == nil {
		return fmt.Errorf("no records: %w", ErrStructuralMismatch)
	}
	for i := 0; ; i++ {
		raw, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read record %d: %w", i, err)
		}
		fn(i, raw)
	}
}

// metaString reads a string field from buffered document metadata.
func metaString(meta map[string]json.RawMessage, key string) string {
	raw, ok := meta[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
