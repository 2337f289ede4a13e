package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrMalformedResponse = errors.New("malformed extraction response")
	ErrMissingField      = errors.New("extraction response missing required field")
)

// Ticket and deal defaults applied during normalization.
const (
	DefaultTicketPriority = "MEDIUM"
	DefaultTicketPipeline = "0"
	DefaultTicketStage    = "1"
	DefaultDealPipeline   = "default"
	DefaultDealStage      = "appointmentscheduled"
)

// Contact is a call participant. Name is the display name; when empty the
// full name is FirstName and LastName joined.
type Contact struct {
	Name      string `json:"name,omitempty"`
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Company   string `json:"company,omitempty"`
	JobTitle  string `json:"jobtitle,omitempty"`
}

// FullName returns "firstname lastname", falling back to Name.
func (c Contact) FullName() string {
	full := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if full != "" {
		return full
	}
	return strings.TrimSpace(c.Name)
}

type Ticket struct {
	Subject  string `json:"subject"`
	Content  string `json:"content,omitempty"`
	Priority string `json:"priority,omitempty"`
	Pipeline string `json:"pipeline,omitempty"`
	Stage    string `json:"stage,omitempty"`
}

type Deal struct {
	Name      string `json:"dealname"`
	Amount    string `json:"amount,omitempty"`
	Pipeline  string `json:"pipeline,omitempty"`
	Stage     string `json:"dealstage,omitempty"`
	CloseDate string `json:"closedate,omitempty"`
}

type Meeting struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Bundle is the validated extraction result for one call. Note and Meeting
// are always populated.
type Bundle struct {
	Contacts []Contact `json:"contacts"`
	Tickets  []Ticket  `json:"tickets"`
	Deals    []Deal    `json:"deals"`
	Note     string    `json:"note"`
	Meeting  Meeting   `json:"meeting"`
	Topics   []string  `json:"topics,omitempty"`
}

// rawBundle mirrors the model output with optional required fields so
// absence can be detected.
type rawBundle struct {
	Contacts []Contact `json:"contacts"`
	Tickets  []Ticket  `json:"tickets"`
	Deals    []Deal    `json:"deals"`
	Note     *string   `json:"note"`
	Meeting  *Meeting  `json:"meeting"`
	Topics   []string  `json:"topics"`
}

var objectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ParseBundle validates a model response. Non-JSON bodies fail with
// ErrMalformedResponse; a missing or empty note or meeting fails with
// ErrMissingField. No partial bundle is returned on error.
func ParseBundle(raw string) (Bundle, error) {
	body := objectPattern.FindString(raw)
	if body == "" {
		return Bundle{}, fmt.Errorf("%w: no JSON object in response", ErrMalformedResponse)
	}

	var rb rawBundle
	if err := json.Unmarshal([]byte(body), &rb); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if rb.Note == nil || strings.TrimSpace(*rb.Note) == "" {
		return Bundle{}, fmt.Errorf("%w: note", ErrMissingField)
	}
	if rb.Meeting == nil {
		return Bundle{}, fmt.Errorf("%w: meeting", ErrMissingField)
	}
	if strings.TrimSpace(rb.Meeting.Title) == "" {
		return Bundle{}, fmt.Errorf("%w: meeting.title", ErrMissingField)
	}
	if strings.TrimSpace(rb.Meeting.Body) == "" {
		return Bundle{}, fmt.Errorf("%w: meeting.body", ErrMissingField)
	}

	b := Bundle{
		Contacts: rb.Contacts,
		Tickets:  rb.Tickets,
		Deals:    rb.Deals,
		Note:     strings.TrimSpace(*rb.Note),
		Meeting: Meeting{
			Title: strings.TrimSpace(rb.Meeting.Title),
			Body:  strings.TrimSpace(rb.Meeting.Body),
		},
		Topics: rb.Topics,
	}
	if b.Contacts == nil {
		b.Contacts = []Contact{}
	}
	if b.Tickets == nil {
		b.Tickets = []Ticket{}
	}
	if b.Deals == nil {
		b.Deals = []Deal{}
	}
	return b, nil
}

// Normalize defaults every ticket and deal so CRM writes never miss required
// fields. Entries without a subject or name are dropped.
func Normalize(b Bundle) Bundle {
	tickets := make([]Ticket, 0, len(b.Tickets))
	for _, t := range b.Tickets {
		t.Subject = strings.TrimSpace(t.Subject)
		if t.Subject == "" {
			continue
		}
		t.Priority = normalizePriority(t.Priority)
		if t.Pipeline == "" {
			t.Pipeline = DefaultTicketPipeline
		}
		if t.Stage == "" {
			t.Stage = DefaultTicketStage
		}
		tickets = append(tickets, t)
	}
	b.Tickets = tickets

	deals := make([]Deal, 0, len(b.Deals))
	for _, d := range b.Deals {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			continue
		}
		if d.Pipeline == "" {
			d.Pipeline = DefaultDealPipeline
		}
		if d.Stage == "" {
			d.Stage = DefaultDealStage
		}
		deals = append(deals, d)
	}
	b.Deals = deals

	if len(b.Topics) == 0 {
		for _, t := range b.Tickets {
			b.Topics = append(b.Topics, t.Subject)
		}
		for _, d := range b.Deals {
			b.Topics = append(b.Topics, d.Name)
		}
	}
	return b
}

func normalizePriority(p string) string {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "LOW":
		return "LOW"
	case "HIGH":
		return "HIGH"
	default:
		return DefaultTicketPriority
	}
}
