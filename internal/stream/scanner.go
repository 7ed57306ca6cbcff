package stream

import (
	"bytes"
)

// sink receives the scanner's output. record gets a private copy of the
// element bytes; drop is told about elements that were discarded unparsed.
type sink interface {
	record(raw []byte)
	drop(reason string)
}

// scanner is the byte-level state machine behind Extractor. It owns all
// parsing state, performs no I/O and can be fed arbitrary chunk boundaries.
//
// Two phases: searching for `"key"` followed by `[` within the look-ahead
// window, then capturing elements of that array by brace depth.
type scanner struct {
	key       []byte // quoted key; nil selects the root array
	lookahead int
	maxBuffer int
	tail      int
	maxRecord int

	// search phase
	pending  []byte
	searched int
	trimmed  int

	// capture phase
	insideTargetArray bool
	closed            bool
	braceDepth        int
	insideString      bool
	escapeNext        bool
	currentItem       []byte
	discarding        bool
}

func newScanner(key string, o options) *scanner {
	s := &scanner{
		lookahead: o.lookahead,
		maxBuffer: o.maxBuffer,
		tail:      o.tail,
		maxRecord: o.maxRecord,
	}
	if key != "" {
		s.key = []byte(`"` + key + `"`)
	}
	return s
}

// done reports whether the target array has been fully consumed.
func (s *scanner) done() bool { return s.closed }

// midRecord reports whether input ended inside an element.
func (s *scanner) midRecord() bool { return s.insideTargetArray && !s.closed && s.braceDepth > 0 }

// feed advances the machine over p.
func (s *scanner) feed(p []byte, out sink) {
	if s.closed || len(p) == 0 {
		return
	}
	if !s.insideTargetArray {
		p = s.search(p)
		if p == nil {
			return
		}
	}
	s.capture(p, out)
}

// search accumulates intake until the array opening is located. It returns
// the bytes following the opening bracket, or nil when more input is needed.
func (s *scanner) search(p []byte) []byte {
	s.pending = append(s.pending, p...)

	if s.key == nil {
		return s.searchRoot()
	}

	from := s.searched
	for {
		idx := bytes.Index(s.pending[from:], s.key)
		if idx < 0 {
			// A key prefix may straddle the end of the buffer.
			s.searched = len(s.pending) - len(s.key) + 1
			if s.searched < 0 {
				s.searched = 0
			}
			s.trimPending()
			return nil
		}
		idx += from

		pos, state := s.matchOpening(idx + len(s.key))
		switch state {
		case openFound:
			rest := s.enter(pos + 1)
			return rest
		case openNeedMore:
			// Keep the candidate key so the bracket can arrive in a later read.
			s.pending = append(s.pending[:0], s.pending[idx:]...)
			s.searched = 0
			return nil
		default:
			from = idx + 1
		}
	}
}

func (s *scanner) searchRoot() []byte {
	for i, c := range s.pending {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case 0xEF, 0xBB, 0xBF:
			// UTF-8 byte order mark.
			continue
		case '[':
			return s.enter(i + 1)
		default:
			s.closed = true
			s.pending = nil
			return nil
		}
	}
	s.pending = s.pending[:0]
	return nil
}

type openState int

const (
	openMismatch openState = iota
	openNeedMore
	openFound
)

// matchOpening checks for `\s*:\s*[` starting at i, bounded by the
// look-ahead window. It returns the bracket position on success.
func (s *scanner) matchOpening(i int) (int, openState) {
	colon := false
	limit := i + s.lookahead
	for j := i; j < len(s.pending); j++ {
		if j >= limit {
			return 0, openMismatch
		}
		switch c := s.pending[j]; c {
		case ' ', '\t', '\r', '\n':
		case ':':
			if colon {
				return 0, openMismatch
			}
			colon = true
		case '[':
			if !colon {
				return 0, openMismatch
			}
			return j, openFound
		default:
			return 0, openMismatch
		}
	}
	return 0, openNeedMore
}

// trimPending bounds the search buffer. The retained tail is always longer
// than the key plus the look-ahead window, so a key split across reads
// survives the trim.
func (s *scanner) trimPending() {
	if len(s.pending) <= s.maxBuffer {
		return
	}
	keep := s.tail
	if floor := len(s.key) + s.lookahead; keep < floor {
		keep = floor
	}
	if keep >= len(s.pending) {
		return
	}
	cut := len(s.pending) - keep
	s.trimmed += cut
	s.pending = append(s.pending[:0], s.pending[cut:]...)
	s.searched -= cut
	if s.searched < 0 {
		s.searched = 0
	}
}

func (s *scanner) enter(next int) []byte {
	rest := append([]byte(nil), s.pending[next:]...)
	s.pending = nil
	s.insideTargetArray = true
	return rest
}

func (s *scanner) capture(p []byte, out sink) {
	for _, c := range p {
		if s.braceDepth == 0 {
			if s.insideString {
				// String element of the target array: skip it.
				s.stepString(c)
				continue
			}
			switch c {
			case '{', '[':
				s.braceDepth = 1
				s.discarding = false
				s.currentItem = append(s.currentItem[:0], c)
			case ']':
				s.closed = true
				return
			case '"':
				s.insideString = true
			}
			continue
		}

		if !s.discarding {
			s.currentItem = append(s.currentItem, c)
			if len(s.currentItem) > s.maxRecord {
				s.discarding = true
				s.currentItem = nil
			}
		}

		if s.insideString {
			s.stepString(c)
			continue
		}
		switch c {
		case '"':
			s.insideString = true
		case '{', '[':
			s.braceDepth++
		case '}', ']':
			s.braceDepth--
			if s.braceDepth == 0 {
				s.complete(out)
			}
		}
	}
}

func (s *scanner) stepString(c byte) {
	switch {
	case s.escapeNext:
		s.escapeNext = false
	case c == '\\':
		s.escapeNext = true
	case c == '"':
		s.insideString = false
	}
}

func (s *scanner) complete(out sink) {
	switch {
	case s.discarding:
		out.drop("record exceeds size limit")
		s.discarding = false
	case s.currentItem[0] != '{':
		out.drop("array element is not an object")
	default:
		out.record(append([]byte(nil), s.currentItem...))
	}
	s.currentItem = s.currentItem[:0]
}
