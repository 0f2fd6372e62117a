package ops

import (
	"encoding/json"

	"github.com/t-henke/glaskasten/internal/errdefs"
)

// Envelope is the wire form of every operation response: the operation's
// result fields at the top level plus the success flag, or an error record
// when the operation failed.
type Envelope map[string]any

type errorBody struct {
	Code      errdefs.Code   `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// ErrorCode returns the taxonomy code carried by a failure envelope, or ""
// for a success envelope. Only meaningful before JSON encoding.
func (e Envelope) ErrorCode() errdefs.Code {
	body, ok := e["error"].(errorBody)
	if !ok {
		return ""
	}
	return body.Code
}

// success merges the result struct's fields into an affirmative envelope.
func success(result any) (Envelope, error) {
	env := Envelope{"success": true}
	if result == nil {
		return env, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		env[k] = v
	}
	return env, nil
}

// failure renders an already classified error. The cause chain stays out of
// the envelope; callers see code, message, retryability, and details only.
func failure(e *errdefs.Error) Envelope {
	return Envelope{
		"success": false,
		"error": errorBody{
			Code:      e.Code,
			Message:   e.Message,
			Retryable: e.Retryable,
			Details:   e.Details,
		},
	}
}

// Failure builds a failure envelope for errors raised outside the dispatch
// path, such as transport-level rejections before any operation runs.
func Failure(code errdefs.Code, message string) Envelope {
	return failure(&errdefs.Error{Code: code, Message: message})
}
