// Package crm defines the CRM collaborator used by the sync engine and a
// HubSpot implementation on the CRM v3 objects API.
package crm

import (
	"context"
	"fmt"
)

// Object types understood by Client.
const (
	ObjectContact = "contacts"
	ObjectTicket  = "tickets"
	ObjectDeal    = "deals"
	ObjectNote    = "notes"
	ObjectMeeting = "meetings"
)

// HubSpot-defined association type IDs from each object to a contact.
const (
	AssocTicketToContact  = 16
	AssocDealToContact    = 3
	AssocNoteToContact    = 202
	AssocMeetingToContact = 200
)

// Association links a created object to an existing CRM record.
type Association struct {
	ToID   string
	TypeID int
}

// Object is a CRM record with its string-valued properties.
type Object struct {
	ID         string
	Properties map[string]string
}

// Client is the CRM surface the sync engine depends on.
type Client interface {
	Create(ctx context.Context, objectType string, properties map[string]string, associations []Association) (string, error)
	Update(ctx context.Context, objectType, id string, properties map[string]string) error
	SearchContacts(ctx context.Context, field, value string) ([]Object, error)
}

// APIError is a non-2xx CRM response.
type APIError struct {
	StatusCode int
	Category   string
	Message    string
}

func (e *APIError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("crm api %d %s: %s", e.StatusCode, e.Category, e.Message)
	}
	return fmt.Sprintf("crm api %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// ContactAssociations associates an object with every contact ID.
func ContactAssociations(typeID int, contactIDs []string) []Association {
	if len(contactIDs) == 0 {
		return nil
	}
	out := make([]Association, 0, len(contactIDs))
	for _, id := range contactIDs {
		out = append(out, Association{ToID: id, TypeID: typeID})
	}
	return out
}
