package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request is the body of POST /api/calls/create.
type Request struct {
	UserID        string          `json:"userId" validate:"required"`
	Title         string          `json:"title" validate:"required"`
	Transcription string          `json:"transcription" validate:"required"`
	Participants  json.RawMessage `json:"participants,omitempty"`
	Duration      float64         `json:"duration,omitempty" validate:"gte=0"`
	RecordingURL  string          `json:"recordingUrl,omitempty" validate:"omitempty,uri"`
}

// ValidationError is a client input error reported as HTTP 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var requiredFields = map[string]bool{"userId": true, "title": true, "transcription": true}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeRequest parses and validates a request body. Missing, blank or
// wrongly typed required fields yield a *ValidationError.
func DecodeRequest(body []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			if requiredFields[typeErr.Field] {
				return Request{}, &ValidationError{Field: typeErr.Field, Message: typeErr.Field + " is required"}
			}
			return Request{}, &ValidationError{Field: typeErr.Field, Message: typeErr.Field + " is invalid"}
		}
		return Request{}, &ValidationError{Message: "invalid JSON body"}
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.Title = strings.TrimSpace(req.Title)
	if strings.TrimSpace(req.Transcription) == "" {
		req.Transcription = ""
	}

	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			switch fe.Tag() {
			case "required":
				return Request{}, &ValidationError{Field: fe.Field(), Message: fe.Field() + " is required"}
			default:
				return Request{}, &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("%s is invalid", fe.Field())}
			}
		}
		return Request{}, &ValidationError{Message: err.Error()}
	}
	return req, nil
}

// ParticipantsJSON returns the participants as a JSON array string. The
// field may arrive as a JSON-encoded string or as an inline array.
func (r Request) ParticipantsJSON() (string, error) {
	raw := strings.TrimSpace(string(r.Participants))
	if raw == "" || raw == "null" {
		return "", nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return "", &ValidationError{Field: "participants", Message: "participants is invalid"}
		}
		return strings.TrimSpace(s), nil
	}
	if strings.HasPrefix(raw, "[") {
		return raw, nil
	}
	return "", &ValidationError{Field: "participants", Message: "participants is invalid"}
}
