package crmsync

import "strings"

type Outcome int

const (
	Succeeded Outcome = iota
	Partial
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Partial:
		return "partial"
	default:
		return "failed"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result reports what one call sync did. Entity failures are counted and
// described in Errors rather than aborting sibling work.
type Result struct {
	CallID           string   `json:"call_id"`
	Outcome          Outcome  `json:"outcome"`
	Processed        bool     `json:"processed"`
	ContactIDs       []string `json:"contact_ids,omitempty"`
	ContactsFailed   int      `json:"contacts_failed"`
	TicketsCreated   int      `json:"tickets_created"`
	TicketsFailed    int      `json:"tickets_failed"`
	DealsCreated     int      `json:"deals_created"`
	DealsFailed      int      `json:"deals_failed"`
	NoteID           string   `json:"note_id,omitempty"`
	MeetingID        string   `json:"meeting_id,omitempty"`
	Errors           []string `json:"errors,omitempty"`
	AlreadyProcessed bool     `json:"already_processed,omitempty"`
}

func (r *Result) fail(msg string) {
	r.Errors = append(r.Errors, msg)
}

// ErrorText joins entity failures, or returns "" when there were none.
func (r Result) ErrorText() string {
	return strings.Join(r.Errors, "; ")
}

func (r *Result) settle() {
	switch {
	case !r.Processed:
		r.Outcome = Failed
	case len(r.Errors) > 0:
		r.Outcome = Partial
	default:
		r.Outcome = Succeeded
	}
}
