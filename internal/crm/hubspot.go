package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const DefaultBaseURL = "https://api.hubapi.com"

var contactSearchProperties = []string{"email", "firstname", "lastname", "phone", "company", "jobtitle"}

type HubSpot struct {
	baseURL string
	http    *http.Client
}

type HubSpotOption func(*HubSpot)

func WithBaseURL(u string) HubSpotOption {
	return func(h *HubSpot) {
		if u != "" {
			h.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// NewHubSpot creates a client authenticated with a private app token.
func NewHubSpot(ctx context.Context, token string, opts ...HubSpotOption) (*HubSpot, error) {
	if token == "" {
		return nil, errors.New("hubspot token is required")
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	httpClient.Timeout = 30 * time.Second

	h := &HubSpot{baseURL: DefaultBaseURL, http: httpClient}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type assocTarget struct {
	ID string `json:"id"`
}

type assocType struct {
	Category string `json:"associationCategory"`
	TypeID   int    `json:"associationTypeId"`
}

type assocPayload struct {
	To    assocTarget `json:"to"`
	Types []assocType `json:"types"`
}

type objectPayload struct {
	Properties   map[string]string `json:"properties"`
	Associations []assocPayload    `json:"associations,omitempty"`
}

type objectResponse struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

func (h *HubSpot) Create(ctx context.Context, objectType string, properties map[string]string, associations []Association) (string, error) {
	payload := objectPayload{Properties: properties}
	for _, a := range associations {
		payload.Associations = append(payload.Associations, assocPayload{
			To:    assocTarget{ID: a.ToID},
			Types: []assocType{{Category: "HUBSPOT_DEFINED", TypeID: a.TypeID}},
		})
	}

	var resp objectResponse
	if err := h.do(ctx, http.MethodPost, "/crm/v3/objects/"+url.PathEscape(objectType), payload, &resp); err != nil {
		return "", fmt.Errorf("create %s: %w", objectType, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create %s: response missing id", objectType)
	}
	return resp.ID, nil
}

func (h *HubSpot) Update(ctx context.Context, objectType, id string, properties map[string]string) error {
	path := "/crm/v3/objects/" + url.PathEscape(objectType) + "/" + url.PathEscape(id)
	if err := h.do(ctx, http.MethodPatch, path, objectPayload{Properties: properties}, nil); err != nil {
		return fmt.Errorf("update %s %s: %w", objectType, id, err)
	}
	return nil
}

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type filterGroup struct {
	Filters []searchFilter `json:"filters"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
}

type searchResponse struct {
	Total   int              `json:"total"`
	Results []objectResponse `json:"results"`
}

// SearchContacts finds contacts whose field equals value exactly.
func (h *HubSpot) SearchContacts(ctx context.Context, field, value string) ([]Object, error) {
	req := searchRequest{
		FilterGroups: []filterGroup{{Filters: []searchFilter{{PropertyName: field, Operator: "EQ", Value: value}}}},
		Properties:   contactSearchProperties,
		Limit:        10,
	}

	var resp searchResponse
	if err := h.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search contacts: %w", err)
	}

	out := make([]Object, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, Object{ID: r.ID, Properties: r.Properties})
	}
	return out, nil
}

func (h *HubSpot) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var payload struct {
			Category string `json:"category"`
			Message  string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
			apiErr.Category = payload.Category
			apiErr.Message = payload.Message
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
