package model

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// languageSampleBytes caps how much text the detector looks at.
const languageSampleBytes = 64 * 1024

// minShare is the fraction of letters a script needs before its language is reported.
const minShare = 0.15

type scriptLang struct {
	table *unicode.RangeTable
	tag   language.Tag
}

var nonLatinScripts = []scriptLang{
	{unicode.Cyrillic, language.Russian},
	{unicode.Arabic, language.Arabic},
	{unicode.Hebrew, language.Hebrew},
	{unicode.Greek, language.Greek},
	{unicode.Hangul, language.Korean},
	{unicode.Thai, language.Thai},
	{unicode.Devanagari, language.Hindi},
	{unicode.Han, language.Chinese},
}

var stopwords = map[language.Tag][]string{
	language.English:    {"the", "and", "you", "that", "is", "are", "was", "what", "with", "have", "for", "this", "not", "it's", "i'm", "yes", "okay"},
	language.Spanish:    {"que", "de", "el", "la", "los", "las", "es", "por", "para", "con", "pero", "como", "estoy", "qué", "sí", "hola", "muy"},
	language.French:     {"le", "les", "des", "est", "et", "je", "tu", "pas", "vous", "avec", "pour", "mais", "c'est", "oui", "bonjour", "très"},
	language.German:     {"der", "die", "das", "und", "ist", "nicht", "ich", "du", "mit", "auch", "aber", "ja", "wir", "hallo", "sehr"},
	language.Portuguese: {"que", "não", "você", "de", "um", "uma", "com", "para", "mas", "está", "sim", "olá", "muito", "obrigado"},
	language.Italian:    {"che", "il", "non", "sono", "per", "con", "ma", "ciao", "anche", "della", "questo", "grazie", "molto"},
	language.Dutch:      {"de", "het", "een", "en", "niet", "ik", "je", "met", "maar", "ook", "dat", "hoi", "heel", "dank"},
}

var latinOrder = []language.Tag{
	language.English, language.Spanish, language.French, language.German,
	language.Portuguese, language.Italian, language.Dutch,
}

// LanguageDetector accumulates message text and guesses which languages a
// conversation is written in. It is a heuristic: script ranges for non-Latin
// text, stopword hits for Latin text.
type LanguageDetector struct {
	seen    int
	letters int
	latin   int
	kana    int
	scripts map[language.Tag]int
	hits    map[language.Tag]int
}

// NewLanguageDetector returns an empty detector.
func NewLanguageDetector() *LanguageDetector {
	return &LanguageDetector{
		scripts: make(map[language.Tag]int),
		hits:    make(map[language.Tag]int),
	}
}

// Add feeds one message text. Input beyond the sample budget is ignored.
func (d *LanguageDetector) Add(text string) {
	if d.seen >= languageSampleBytes || text == "" {
		return
	}
	if rem := languageSampleBytes - d.seen; len(text) > rem {
		text = text[:rem]
	}
	d.seen += len(text)

	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		d.letters++
		switch {
		case unicode.Is(unicode.Latin, r):
			d.latin++
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			d.kana++
		default:
			for _, s := range nonLatinScripts {
				if unicode.Is(s.table, r) {
					d.scripts[s.tag]++
					break
				}
			}
		}
	}

	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		for _, tag := range latinOrder {
			for _, sw := range stopwords[tag] {
				if w == sw {
					d.hits[tag]++
				}
			}
		}
	}
}

// Codes returns BCP-47 codes ordered by prevalence. It never returns an empty
// slice: "und" is reported when nothing is recognized.
func (d *LanguageDetector) Codes() []string {
	type scored struct {
		tag   language.Tag
		count int
	}
	var found []scored

	if d.letters > 0 {
		if d.kana > 0 {
			// Kanji in a text with kana is Japanese, not Chinese.
			n := d.kana + d.scripts[language.Chinese]
			if float64(n)/float64(d.letters) >= minShare {
				found = append(found, scored{language.Japanese, n})
			}
		}
		for tag, n := range d.scripts {
			if tag == language.Chinese && d.kana > 0 {
				continue
			}
			if float64(n)/float64(d.letters) >= minShare {
				found = append(found, scored{tag, n})
			}
		}
		if float64(d.latin)/float64(d.letters) >= minShare {
			best, bestHits := language.Und, 1
			for _, tag := range latinOrder {
				if d.hits[tag] > bestHits {
					best, bestHits = tag, d.hits[tag]
				}
			}
			if best != language.Und {
				found = append(found, scored{best, d.latin})
			}
		}
	}

	if len(found) == 0 {
		return []string{language.Und.String()}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].count != found[j].count {
			return found[i].count > found[j].count
		}
		return found[i].tag.String() < found[j].tag.String()
	})
	codes := make([]string, len(found))
	for i, f := range found {
		codes[i] = f.tag.String()
	}
	return codes
}
