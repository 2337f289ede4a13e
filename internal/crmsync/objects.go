package crmsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rsvedant/a2apayments-sub000/internal/crm"
	"github.com/rsvedant/a2apayments-sub000/internal/extract"
)

// ContactRef is a resolved CRM contact.
type ContactRef struct {
	ID      string
	Created bool
}

// ContactProperties maps a participant to CRM contact properties. Empty
// values are omitted.
func ContactProperties(c extract.Contact) map[string]string {
	first, last := strings.TrimSpace(c.FirstName), strings.TrimSpace(c.LastName)
	if first == "" && last == "" && strings.TrimSpace(c.Name) != "" {
		parts := strings.Fields(c.Name)
		first = parts[0]
		last = strings.Join(parts[1:], " ")
	}
	props := map[string]string{}
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			props[k] = v
		}
	}
	set("email", strings.ToLower(c.Email))
	set("firstname", first)
	set("lastname", last)
	set("phone", c.Phone)
	set("company", c.Company)
	set("jobtitle", c.JobTitle)
	return props
}

// FindOrCreateContact searches by email when present. An existing contact
// only receives properties it lacks; otherwise a new contact is created.
func (e *Engine) FindOrCreateContact(ctx context.Context, props map[string]string) (ContactRef, error) {
	if email := props["email"]; email != "" {
		found, err := e.crm.SearchContacts(ctx, "email", email)
		if err != nil {
			return ContactRef{}, err
		}
		if len(found) > 0 {
			existing := found[0]
			patch := map[string]string{}
			for k, v := range props {
				if strings.TrimSpace(existing.Properties[k]) == "" {
					patch[k] = v
				}
			}
			if len(patch) > 0 {
				if err := e.crm.Update(ctx, crm.ObjectContact, existing.ID, patch); err != nil {
					return ContactRef{}, err
				}
			}
			return ContactRef{ID: existing.ID, Created: false}, nil
		}
	}

	if len(props) == 0 {
		return ContactRef{}, fmt.Errorf("contact has no properties")
	}
	id, err := e.crm.Create(ctx, crm.ObjectContact, props, nil)
	if err != nil {
		return ContactRef{}, err
	}
	return ContactRef{ID: id, Created: true}, nil
}

func (e *Engine) CreateTicket(ctx context.Context, t extract.Ticket, contactIDs []string) (string, error) {
	props := map[string]string{
		"subject":            t.Subject,
		"hs_pipeline":        t.Pipeline,
		"hs_pipeline_stage":  t.Stage,
		"hs_ticket_priority": t.Priority,
	}
	if t.Content != "" {
		props["content"] = t.Content
	}
	return e.crm.Create(ctx, crm.ObjectTicket, props, crm.ContactAssociations(crm.AssocTicketToContact, contactIDs))
}

func (e *Engine) CreateDeal(ctx context.Context, d extract.Deal, contactIDs []string) (string, error) {
	props := map[string]string{
		"dealname":  d.Name,
		"pipeline":  d.Pipeline,
		"dealstage": d.Stage,
	}
	if d.Amount != "" {
		props["amount"] = d.Amount
	}
	if d.CloseDate != "" {
		props["closedate"] = d.CloseDate
	}
	return e.crm.Create(ctx, crm.ObjectDeal, props, crm.ContactAssociations(crm.AssocDealToContact, contactIDs))
}

func (e *Engine) CreateNote(ctx context.Context, body string, at time.Time, contactIDs []string) (string, error) {
	props := map[string]string{
		"hs_note_body": body,
		"hs_timestamp": at.UTC().Format(time.RFC3339),
	}
	return e.crm.Create(ctx, crm.ObjectNote, props, crm.ContactAssociations(crm.AssocNoteToContact, contactIDs))
}

// CreateMeeting records the call as a completed meeting spanning duration.
func (e *Engine) CreateMeeting(ctx context.Context, m extract.Meeting, start time.Time, duration time.Duration, contactIDs []string) (string, error) {
	props := map[string]string{
		"hs_meeting_title":      m.Title,
		"hs_meeting_body":       m.Body,
		"hs_timestamp":          start.UTC().Format(time.RFC3339),
		"hs_meeting_start_time": start.UTC().Format(time.RFC3339),
		"hs_meeting_end_time":   start.Add(duration).UTC().Format(time.RFC3339),
		"hs_meeting_outcome":    "COMPLETED",
	}
	return e.crm.Create(ctx, crm.ObjectMeeting, props, crm.ContactAssociations(crm.AssocMeetingToContact, contactIDs))
}
