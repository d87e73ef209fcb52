package models

import "time"

// SynthesisRequest holds the form fields of an inbound speech request
type SynthesisRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Style  string `json:"style"`
	Role   string `json:"role"`
	Rate   string `json:"rate"`
	Volume string `json:"volume"`
}

// TokenRecord is a cached provider bearer token
type TokenRecord struct {
	Token     string `json:"token"`
	Timestamp int64  `json:"timestamp"` // unix seconds at issue time
}

// Expired reports whether the record is too old to be used at now.
func (r TokenRecord) Expired(now time.Time, ttl time.Duration) bool {
	return now.Unix()-r.Timestamp >= int64(ttl/time.Second)
}

// ErrorLogTimeFormat is the layout of ErrorLogEntry.Timestamp
const ErrorLogTimeFormat = "2006-01-02 15:04:05"

// ErrorLogEntry records a request rejected by the access guard
type ErrorLogEntry struct {
	ID        string `json:"id,omitempty"`
	Message   string `json:"message"`
	Origin    string `json:"origin"`
	Referer   string `json:"referer"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the JSON body returned for every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// RequestState is the furthest point a relay request reached
type RequestState string

const (
	StateReceived      RequestState = "RECEIVED"
	StateGuardChecked  RequestState = "GUARD_CHECKED"
	StateTokenResolved RequestState = "TOKEN_RESOLVED"
	StateSynthesized   RequestState = "SYNTHESIZED"
	StateResponded     RequestState = "RESPONDED"
	StateRejected      RequestState = "REJECTED"
	StateFailed        RequestState = "FAILED"
)

// Event types broadcast to monitor clients
const (
	EventRequestRejected   = "request-rejected"
	EventTokenIssued       = "token-issued"
	EventSynthesisComplete = "synthesis-complete"
	EventSynthesisFailed   = "synthesis-failed"
)

// Event describes something the relay did, for monitor clients
type Event struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	State     RequestState `json:"state,omitempty"`
	Status    int          `json:"status,omitempty"`
	Message   string       `json:"message,omitempty"`
	Origin    string       `json:"origin,omitempty"`
	Referer   string       `json:"referer,omitempty"`
	Voice     string       `json:"voice,omitempty"`
	Bytes     int          `json:"bytes,omitempty"`
	Timestamp int64        `json:"timestamp"`
}
