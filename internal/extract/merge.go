package extract

import (
	"encoding/json"
	"strings"
)

// ParseParticipants decodes the participants JSON sent with a call. Both an
// array of contact objects and an array of plain names are accepted. Empty
// input yields no participants.
func ParseParticipants(raw string) ([]Contact, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var contacts []Contact
	if err := json.Unmarshal([]byte(raw), &contacts); err == nil {
		return contacts, nil
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, err
	}
	contacts = make([]Contact, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			contacts = append(contacts, Contact{Name: name})
		}
	}
	return contacts, nil
}

// MergeContacts merges model-extracted contacts into the known participants.
// A model contact matches a participant by email (case-insensitive), then by
// exact full name. Matches only fill fields the participant lacks; unmatched
// contacts are appended.
func MergeContacts(participants, extracted []Contact) []Contact {
	merged := make([]Contact, len(participants), len(participants)+len(extracted))
	copy(merged, participants)

	for _, c := range extracted {
		idx := matchContact(merged, c)
		if idx < 0 {
			merged = append(merged, c)
			continue
		}
		merged[idx] = enrich(merged[idx], c)
	}
	return merged
}

func matchContact(list []Contact, c Contact) int {
	if email := strings.TrimSpace(c.Email); email != "" {
		for i, p := range list {
			if strings.EqualFold(strings.TrimSpace(p.Email), email) {
				return i
			}
		}
	}
	if name := c.FullName(); name != "" {
		for i, p := range list {
			if p.FullName() == name {
				return i
			}
		}
	}
	return -1
}

func enrich(known, extra Contact) Contact {
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&known.Name, extra.Name)
	fill(&known.FirstName, extra.FirstName)
	fill(&known.LastName, extra.LastName)
	fill(&known.Email, extra.Email)
	fill(&known.Phone, extra.Phone)
	fill(&known.Company, extra.Company)
	fill(&known.JobTitle, extra.JobTitle)
	return known
}
