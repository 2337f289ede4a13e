// Package suggest turns utterance chunks from the other party into short
// reply suggestions while keeping a rolling conversation summary.
package suggest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rsvedant/a2apayments-sub000/internal/llm"
	"github.com/rsvedant/a2apayments-sub000/internal/segment"
)

const (
	MinRequestInterval = 5 * time.Second
	MaxSuggestions     = 3
	HistoryLimit       = 10
)

// Failure reasons reported in Result.Error.
const (
	ReasonRateLimited = "Rate limited"
	ReasonNoAPIKey    = "No suggestions API key configured"
	ReasonEmptyText   = "Empty caption text"
	ReasonParseFailed = "Failed to parse suggestions"
)

// FallbackSuggestions is shown when the generation response is unparseable.
var FallbackSuggestions = []string{
	"Could you tell me more about that?",
	"What would an ideal outcome look like for you?",
	"Let me make sure I understand your priorities here.",
}

// Result is the outcome of one suggestion request. Suggestions holds at most
// MaxSuggestions non-empty strings. Error is empty on success.
type Result struct {
	Suggestions []string  `json:"suggestions"`
	Error       string    `json:"error,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

const systemPrompt = `You are a live sales call assistant. Given the latest statement from the other party, suggest what the user could say next.
Return a JSON array of exactly three short suggestions.
If the statement is not substantive (greetings, acknowledgments, fragments), return ["", "", ""].`

// Generator issues rate-limited suggestion requests. A request arriving
// before the interval elapses fails fast; it is never queued.
type Generator struct {
	client  llm.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewGenerator creates a generator. A nil client reports ReasonNoAPIKey for
// every request. interval <= 0 uses MinRequestInterval.
func NewGenerator(client llm.Client, interval time.Duration) *Generator {
	if interval <= 0 {
		interval = MinRequestInterval
	}
	return &Generator{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     time.Now,
	}
}

// Generate requests suggestions for chunk given recent history and the
// rolling summary.
func (g *Generator) Generate(ctx context.Context, chunk segment.Chunk, history []segment.Chunk, summary string) Result {
	if g.client == nil {
		return Result{Suggestions: []string{}, Error: ReasonNoAPIKey}
	}
	if strings.TrimSpace(chunk.Text) == "" {
		return Result{Suggestions: []string{}, Error: ReasonEmptyText}
	}
	if !g.limiter.AllowN(g.now(), 1) {
		return Result{Suggestions: []string{}, Error: ReasonRateLimited}
	}

	raw, err := g.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildPrompt(chunk, history, summary)},
	})
	if err != nil {
		return Result{Suggestions: []string{}, Error: err.Error()}
	}

	suggestions, ok := ParseSuggestions(raw)
	if !ok {
		fallback := make([]string, len(FallbackSuggestions))
		copy(fallback, FallbackSuggestions)
		return Result{Suggestions: fallback, Error: ReasonParseFailed, GeneratedAt: g.now()}
	}
	return Result{Suggestions: suggestions, GeneratedAt: g.now()}
}

func buildPrompt(chunk segment.Chunk, history []segment.Chunk, summary string) string {
	var b strings.Builder
	if summary != "" {
		fmt.Fprintf(&b, "Conversation summary so far:\n%s\n\n", summary)
	}
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, c := range history {
			b.WriteString(segment.FormatLine(c))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Latest statement from %s:\n%s", chunk.Speaker, strings.TrimSpace(chunk.Text))
	return b.String()
}
