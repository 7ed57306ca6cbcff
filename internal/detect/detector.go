// Package detect classifies a blob of export bytes by platform and format.
// Detection is a pure function of the sample, filename and declared content
// type; it performs no I/O.
package detect

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

const (
	// maxScore is the per-platform point ceiling.
	maxScore = 10.0

	// DefaultConfidenceFloor is the confidence below which no platform is reported.
	DefaultConfidenceFloor = 0.3

	// sampleRecords bounds how many array elements are inspected for keys.
	sampleRecords = 10

	// textBonusOccurrences is the match count after which a text pattern earns its bonus.
	textBonusOccurrences = 5
)

// DefaultZipPlatform is assumed for archives whose filename carries no hint.
// WhatsApp is the only supported platform that exports chats as ZIP files.
const DefaultZipPlatform = model.PlatformWhatsApp

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Result is the outcome of a detection. Platform is empty when the best score
// is below the floor; Confidence then still carries the partial score.
type Result struct {
	Platform   model.Platform `json:"platform"`
	Format     model.Format   `json:"format"`
	Confidence float64        `json:"confidence"`
}

// Detector scores samples against a registration-ordered pattern table.
type Detector struct {
	patterns []Pattern
	floor    float64

	// Matchers for truncated samples, keyed by JSON key.
	arrayKeys map[string]*regexp.Regexp
	fieldKeys map[string]*regexp.Regexp
}

// New creates a detector. A nil pattern table means DefaultPatterns; a floor
// outside (0, 1] means DefaultConfidenceFloor.
func New(patterns []Pattern, floor float64) *Detector {
	if patterns == nil {
		patterns = DefaultPatterns
	}
	if floor <= 0 || floor > 1 {
		floor = DefaultConfidenceFloor
	}
	d := &Detector{
		patterns:  patterns,
		floor:     floor,
		arrayKeys: make(map[string]*regexp.Regexp),
		fieldKeys: make(map[string]*regexp.Regexp),
	}
	for _, p := range patterns {
		if p.ArrayField == "" {
			continue
		}
		if _, ok := d.arrayKeys[p.ArrayField]; !ok {
			d.arrayKeys[p.ArrayField] = arrayKeyRegexp(p.ArrayField)
		}
		for _, keys := range [][]string{p.RequiredKeys, p.OptionalKeys} {
			for _, k := range keys {
				if _, ok := d.fieldKeys[k]; !ok {
					d.fieldKeys[k] = keyRegexp(k)
				}
			}
		}
	}
	return d
}

var defaultDetector = New(nil, DefaultConfidenceFloor)

// Detect runs the default detector.
func Detect(sample []byte, fileName, contentType string) Result {
	return defaultDetector.Detect(sample, fileName, contentType)
}

// Detect classifies sample. The sample may be a prefix of a larger input.
func (d *Detector) Detect(sample []byte, fileName, contentType string) Result {
	if len(bytes.TrimSpace(sample)) == 0 {
		return Result{}
	}

	if IsZip(sample) {
		return d.detectZip(fileName)
	}

	sample = bytes.TrimPrefix(sample, utf8BOM)
	contentType = normalizeContentType(contentType)

	var doc any
	if err := json.Unmarshal(sample, &doc); err == nil {
		return d.pick(model.FormatJSON, d.scoreJSON(doc, fileName, contentType))
	}
	if looksLikeJSON(sample) {
		return d.pick(model.FormatJSON, d.scoreTruncatedJSON(sample, fileName, contentType))
	}
	return d.pick(model.FormatText, d.scoreText(string(sample), fileName, contentType))
}

// IsZip reports whether b starts with the ZIP local-file signature.
func IsZip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x50 && b[1] == 0x4B
}

func (d *Detector) detectZip(fileName string) Result {
	for _, p := range d.patterns {
		if p.FileName != nil && p.FileName.MatchString(fileName) {
			return Result{Platform: p.Platform, Format: model.FormatZip, Confidence: 0.8}
		}
	}
	return Result{Platform: DefaultZipPlatform, Format: model.FormatZip, Confidence: 0.5}
}

type candidate struct {
	platform model.Platform
	score    float64
}

// pick returns the highest scoring candidate. Candidates arrive in
// registration order, so a strict comparison keeps the earliest on ties.
func (d *Detector) pick(format model.Format, cands []candidate) Result {
	var best candidate
	for _, c := range cands {
		if c.score > best.score {
			best = c
		}
	}
	conf := best.score / maxScore
	if conf > 1 {
		conf = 1
	}
	if conf < d.floor {
		return Result{Format: format, Confidence: conf}
	}
	return Result{Platform: best.platform, Format: format, Confidence: conf}
}

func (d *Detector) scoreJSON(doc any, fileName, contentType string) []candidate {
	cands := make([]candidate, 0, len(d.patterns)+1)

	root, isRootArray := doc.([]any)
	obj, _ := doc.(map[string]any)

	for _, p := range d.patterns {
		score := d.scoreMeta(p, fileName, contentType)
		// A root-level array names no field, so only the generic heuristic
		// below can claim it.
		if p.ArrayField != "" && !isRootArray {
			var records []map[string]any
			if arr, ok := obj[p.ArrayField].([]any); ok {
				records = objectRecords(arr)
			}
			if len(records) > 0 {
				score += 3
				score += keyScore(p, func(k string) bool { return anyRecordHas(records, k) })
			}
		}
		cands = append(cands, candidate{p.Platform, score})
	}

	if isRootArray {
		cands = append(cands, candidate{model.PlatformGeneric, genericArrayScore(objectRecords(root))})
	}
	return cands
}

// scoreTruncatedJSON handles prefix samples of documents too large to parse
// whole. Key presence is approximated by "key": occurrences in the raw text.
func (d *Detector) scoreTruncatedJSON(sample []byte, fileName, contentType string) []candidate {
	text := string(sample)
	cands := make([]candidate, 0, len(d.patterns))
	for _, p := range d.patterns {
		score := d.scoreMeta(p, fileName, contentType)
		if p.ArrayField != "" && d.arrayKeys[p.ArrayField].MatchString(text) {
			score += 3
			score += keyScore(p, func(k string) bool { return d.fieldKeys[k].MatchString(text) })
		}
		cands = append(cands, candidate{p.Platform, score})
	}
	return cands
}

func (d *Detector) scoreText(text, fileName, contentType string) []candidate {
	cands := make([]candidate, 0, len(d.patterns))
	for _, p := range d.patterns {
		score := d.scoreMeta(p, fileName, contentType)
		if p.TextPattern != nil {
			matches := p.TextPattern.FindAllStringIndex(text, textBonusOccurrences+1)
			if len(matches) > 0 {
				score += 4
			}
			if len(matches) > textBonusOccurrences {
				score++
			}
		}
		cands = append(cands, candidate{p.Platform, score})
	}
	return cands
}

func (d *Detector) scoreMeta(p Pattern, fileName, contentType string) float64 {
	var score float64
	if p.FileName != nil && fileName != "" && p.FileName.MatchString(fileName) {
		score += 2
	}
	if contentType != "" {
		for _, ct := range p.ContentTypes {
			if ct == contentType {
				score++
				break
			}
		}
	}
	return score
}

// keyScore awards +3 when every required key is present, +1 when only some
// are, and up to +1 for optional key coverage.
func keyScore(p Pattern, has func(string) bool) float64 {
	var score float64
	present := 0
	for _, k := range p.RequiredKeys {
		if has(k) {
			present++
		}
	}
	switch {
	case len(p.RequiredKeys) > 0 && present == len(p.RequiredKeys):
		score += 3
	case present > 0:
		score++
	}
	if len(p.OptionalKeys) > 0 {
		opt := 0
		for _, k := range p.OptionalKeys {
			if has(k) {
				opt++
			}
		}
		score += float64(opt) / float64(len(p.OptionalKeys))
	}
	return score
}

// genericArrayScore rates a root-level array of records by whether they carry
// something that looks like a sender, a text and a date.
func genericArrayScore(records []map[string]any) float64 {
	if len(records) == 0 {
		return 0
	}
	families := 0
	for _, keys := range [][]string{model.SenderKeys, model.TextKeys, model.DateKeys} {
		for _, k := range keys {
			if anyRecordHas(records, k) {
				families++
				break
			}
		}
	}
	score := 3.0
	switch families {
	case 3:
		score += 3
	case 2:
		score++
	}
	return score
}

func objectRecords(arr []any) []map[string]any {
	var out []map[string]any
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
			if len(out) == sampleRecords {
				break
			}
		}
	}
	return out
}

func anyRecordHas(records []map[string]any, key string) bool {
	for _, r := range records {
		if _, ok := r[key]; ok {
			return true
		}
	}
	return false
}

func looksLikeJSON(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) > 0 && (t[0] == '{' || t[0] == '[')
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func keyRegexp(key string) *regexp.Regexp {
	return regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:`)
}

func arrayKeyRegexp(key string) *regexp.Regexp {
	return regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*\[`)
}
