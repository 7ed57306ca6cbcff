package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/scribe/internal/ingest"
)

// maxSampleRunes bounds what is sent upstream regardless of the dispatcher's
// sample size.
const maxSampleRunes = 4000

const prevalidateSystem = `You check uploads to a chat-import service.
You receive the first part of an uploaded file. Decide whether it is an export of a conversation between people (chat log, messenger export, transcript).
Answer with JSON only: {"conversation": true|false, "reason": "<one short sentence>"}`

// PreValidator asks the model whether a sample looks like a conversation.
// It implements ingest.PreValidator.
type PreValidator struct {
	client *Client
}

func NewPreValidator(c *Client) *PreValidator {
	return &PreValidator{client: c}
}

type verdictJSON struct {
	Conversation bool   `json:"conversation"`
	Reason       string `json:"reason"`
}

func (p *PreValidator) Validate(ctx context.Context, sample string) (ingest.Verdict, error) {
	sample = truncateRunes(strings.ToValidUTF8(sample, ""), maxSampleRunes)
	text, err := p.client.Complete(ctx, prevalidateSystem, []Message{{Role: "user", Content: sample}}, 200)
	if err != nil {
		return ingest.Verdict{}, fmt.Errorf("prevalidate: %w", err)
	}
	return parseVerdict(text)
}

// parseVerdict reads the first JSON object in text. Models sometimes wrap
// their answer in prose or a code fence.
func parseVerdict(text string) (ingest.Verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ingest.Verdict{}, fmt.Errorf("no JSON object in %q", text)
	}
	var v verdictJSON
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return ingest.Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	return ingest.Verdict{LooksLikeConversation: v.Conversation, Reason: strings.TrimSpace(v.Reason)}, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
