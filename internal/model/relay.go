// Package model defines shared types for the relay.
package model

import (
	"bytes"
	"encoding/json"
)

// RelayRequest describes one caller-specified HTTP call to proxy through the
// anonymizing transport.
type RelayRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    Body              `json:"body,omitempty"`
}

// Body is an opaque request payload. A JSON string contributes its contents;
// any other JSON value contributes its raw JSON text. null means no body.
type Body []byte

// UnmarshalJSON implements json.Unmarshaler.
func (b *Body) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = Body(s)
		return nil
	}
	*b = append((*b)[:0], data...)
	return nil
}

// MarshalJSON implements json.Marshaler, encoding the payload as a string.
func (b Body) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(b))
}

// Envelope is the normalized result of a completed relay call.
type Envelope struct {
	Success    bool              `json:"success"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	// Response holds the decoded JSON value when the origin body parses as
	// JSON, otherwise the raw text.
	Response any `json:"response"`
}

// ErrorEnvelope is returned when the relay mechanics themselves fail.
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}
