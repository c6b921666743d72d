package ingest

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Envelope is the unit carried by both queues.
type Envelope struct {
	Priority int          `json:"priority"`
	Config   PluginConfig `json:"config"`
	Message  *Record      `json:"message"`
	Result   *Record      `json:"result,omitempty"`
}

// Encode serializes the envelope into a queue priority and body.
func (e Envelope) Encode() (int, string, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return 0, "", fmt.Errorf("encode envelope: %w", err)
	}
	return e.Priority, string(body), nil
}

// DecodeEnvelope parses a queue body.
func DecodeEnvelope(body string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Message == nil {
		env.Message = NewRecord()
	}
	return env, nil
}
