// Package model defines shared types for the forwarding proxy.
package model

import (
	"net/http"
)

// InboundRequest is one framed request received from the caller.
// Body is nil until the request body has been drained.
type InboundRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// ResponseEnvelope is the single response returned to the caller for one
// InboundRequest.
type ResponseEnvelope struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Stage names the failed stage for diagnostic envelopes; empty when the
	// envelope carries a real backend response.
	Stage string
}

// Failed reports whether the envelope describes a forwarding failure.
func (r *ResponseEnvelope) Failed() bool {
	return r.Stage != ""
}

// FailureEnvelope builds the diagnostic envelope for a failed stage. It is
// 200-shaped with the human-readable message as body and no headers.
func FailureEnvelope(stage, message string) *ResponseEnvelope {
	return &ResponseEnvelope{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       []byte(message),
		Stage:      stage,
	}
}
