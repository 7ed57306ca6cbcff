package backfill

import (
	"slices"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

// dedupWindow is the tolerance for matching timestamps across exports of the
// same chat in different formats.
const dedupWindow = 1 * time.Second

// overlapThreshold is the fraction of timestamps that must match to consider
// two conversations the same.
const overlapThreshold = 0.8

// minFingerprintMessages keeps tiny conversations from matching by accident.
const minFingerprintMessages = 3

// fingerprint holds the timing of one imported conversation as sorted Unix
// milliseconds.
type fingerprint struct {
	Path     string
	Platform model.Platform
	Millis   []int64
}

// buildFingerprint takes the non-system message times of nc. Conversations
// with synthetic timestamps (generic text) are not fingerprinted.
func buildFingerprint(path string, nc *model.NormalizedConversation) fingerprint {
	fp := fingerprint{Path: path, Platform: nc.Conversation.SourcePlatform}
	if fp.Platform == model.PlatformGeneric {
		return fp
	}
	for _, m := range nc.Messages {
		if !m.IsSystem && !m.SentAt.IsZero() {
			fp.Millis = append(fp.Millis, m.SentAt.UnixMilli())
		}
	}
	slices.Sort(fp.Millis)
	return fp
}

// findDuplicate returns the earlier fingerprint fp overlaps with, if any.
func findDuplicate(seen []fingerprint, fp fingerprint) (fingerprint, bool) {
	if len(fp.Millis) < minFingerprintMessages {
		return fingerprint{}, false
	}
	for _, prev := range seen {
		if isOverlapping(prev, fp) {
			return prev, true
		}
	}
	return fingerprint{}, false
}

// isOverlapping checks if at least overlapThreshold of b's timestamps appear
// in a within dedupWindow. Both lists are sorted, so one forward walk over a
// serves every timestamp of b.
func isOverlapping(a, b fingerprint) bool {
	if len(b.Millis) == 0 || len(a.Millis) == 0 {
		return false
	}

	window := dedupWindow.Milliseconds()
	matches, i := 0, 0
	for _, bt := range b.Millis {
		for i < len(a.Millis) && a.Millis[i] < bt-window {
			i++
		}
		if i == len(a.Millis) {
			break
		}
		if a.Millis[i] <= bt+window {
			matches++
		}
	}

	return float64(matches)/float64(len(b.Millis)) >= overlapThreshold
}
