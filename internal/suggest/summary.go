package suggest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rsvedant/a2apayments-sub000/internal/llm"
	"github.com/rsvedant/a2apayments-sub000/internal/segment"
)

// SummaryBatch is the number of new chunks that triggers a summary update.
const SummaryBatch = 3

const summarySystemPrompt = `You maintain a running summary of a live sales call.
Keep it under 120 words. Capture needs, objections, commitments and next steps. Reply with the summary text only.`

// Summarizer creates or updates the rolling conversation summary.
type Summarizer struct {
	client  llm.Client
	backoff []time.Duration
	sleep   func(time.Duration)
}

func NewSummarizer(client llm.Client) *Summarizer {
	return &Summarizer{
		client:  client,
		backoff: []time.Duration{500 * time.Millisecond, 2 * time.Second},
		sleep:   time.Sleep,
	}
}

// Update folds recent into existing. With no existing summary it writes the
// initial one from recent alone.
func (s *Summarizer) Update(ctx context.Context, existing string, recent []segment.Chunk) (string, error) {
	if s.client == nil {
		return existing, fmt.Errorf("summarize: %s", ReasonNoAPIKey)
	}
	if len(recent) == 0 {
		return existing, nil
	}

	var b strings.Builder
	if existing == "" {
		b.WriteString("Write the initial summary from these lines:\n")
	} else {
		fmt.Fprintf(&b, "Current summary:\n%s\n\nUpdate it with these new lines:\n", existing)
	}
	for _, c := range recent {
		b.WriteString(segment.FormatLine(c))
		b.WriteString("\n")
	}

	messages := []llm.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: b.String()},
	}

	var lastErr error
	for attempt := 0; attempt <= len(s.backoff); attempt++ {
		result, err := s.client.Complete(ctx, messages)
		if err == nil {
			return strings.TrimSpace(result), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(s.backoff) {
			s.sleep(s.backoff[attempt])
		}
	}
	return existing, fmt.Errorf("summarize failed after retries: %w", lastErr)
}
