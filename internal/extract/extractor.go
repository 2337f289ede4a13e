// Package extract turns a finished call transcript into a validated bundle
// of CRM entities with a single LLM completion.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rsvedant/a2apayments-sub000/internal/llm"
)

// Input carries everything known about a call at extraction time.
type Input struct {
	Transcript       string
	ParticipantsJSON string
	SystemPrompt     string
	SalesScript      string
	CompanyDocs      string
	CallTime         time.Time
}

const baseSystemPrompt = `You extract CRM records from sales call transcripts.
Return one JSON object with these keys:
  "contacts": [{"firstname","lastname","email","phone","company","jobtitle"}]
  "tickets": [{"subject","content","priority"}]   support questions or issues raised by the customer
  "deals": [{"dealname","amount","closedate"}]    concrete buying signals only
  "note": string                                  a concise call summary, always required
  "meeting": {"title","body"}                     the meeting record, always required
  "topics": [string]                              short topic labels
Prefer creating fewer records over inventing ones. Omit unknown fields. Use empty arrays when nothing applies.`

type Extractor struct {
	client llm.Client
}

func New(client llm.Client) *Extractor {
	return &Extractor{client: client}
}

// Extract runs one JSON-mode completion and returns a normalized bundle
// whose contacts are merged into the known participants.
func (e *Extractor) Extract(ctx context.Context, in Input) (Bundle, error) {
	if e.client == nil {
		return Bundle{}, errors.New("extraction LLM client not configured")
	}
	if strings.TrimSpace(in.Transcript) == "" {
		return Bundle{}, errors.New("empty transcript")
	}

	participants, err := ParseParticipants(in.ParticipantsJSON)
	if err != nil {
		slog.Warn("ignoring unparseable participants", "error", err)
		participants = nil
	}

	raw, err := e.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt(in)},
		{Role: "user", Content: userPrompt(in, participants)},
	}, llm.JSONObject())
	if err != nil {
		return Bundle{}, fmt.Errorf("extraction completion: %w", err)
	}

	bundle, err := ParseBundle(raw)
	if err != nil {
		return Bundle{}, err
	}
	bundle = Normalize(bundle)
	bundle.Contacts = MergeContacts(participants, bundle.Contacts)
	return bundle, nil
}

func systemPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)
	if s := strings.TrimSpace(in.SystemPrompt); s != "" {
		b.WriteString("\n\nAdditional instructions:\n")
		b.WriteString(s)
	}
	if s := strings.TrimSpace(in.SalesScript); s != "" {
		b.WriteString("\n\nSales script:\n")
		b.WriteString(s)
	}
	if s := strings.TrimSpace(in.CompanyDocs); s != "" {
		b.WriteString("\n\nCompany documentation:\n")
		b.WriteString(s)
	}
	return b.String()
}

func userPrompt(in Input, participants []Contact) string {
	var b strings.Builder
	callTime := in.CallTime
	if callTime.IsZero() {
		callTime = time.Now()
	}
	fmt.Fprintf(&b, "Call time: %s\n", callTime.UTC().Format(time.RFC3339))
	if len(participants) > 0 {
		b.WriteString("Known participants:\n")
		for _, p := range participants {
			fmt.Fprintf(&b, "- %s", p.FullName())
			if p.Email != "" {
				fmt.Fprintf(&b, " <%s>", p.Email)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(in.Transcript)
	return b.String()
}
