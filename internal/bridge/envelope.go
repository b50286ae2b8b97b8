package bridge

import "encoding/json"

type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// ErrorKind is the stable, machine readable failure class every transport
// reports.
type ErrorKind string

const (
	ErrValidation ErrorKind = "ValidationError"
	ErrNotFound   ErrorKind = "NotFound"
	ErrUpstream   ErrorKind = "UpstreamError"
	ErrInternal   ErrorKind = "InternalError"
)

// Client facing messages for faults whose details stay in the server log.
const (
	upstreamMessage = "upstream service unavailable"
	internalMessage = "internal error"
)

// Envelope is the transport neutral result of one invocation.
type Envelope struct {
	Outcome   Outcome
	Payload   Payload
	ErrorKind ErrorKind
	Message   string
	// Field is the argument path of a validation failure.
	Field string
}

func Success(payload Payload) *Envelope {
	if payload == nil {
		payload = Payload{}
	}
	return &Envelope{Outcome: OutcomeOK, Payload: payload}
}

func Failure(kind ErrorKind, message string) *Envelope {
	return &Envelope{Outcome: OutcomeError, ErrorKind: kind, Message: message}
}

func (e *Envelope) OK() bool {
	return e.Outcome == OutcomeOK
}

// Body is the wire shape shared by all transports:
//
//	{"success": true, <payload fields>}
//	{"success": false, "error": "...", "error_kind": "...", "field": "..."}
func (e *Envelope) Body() map[string]any {
	if e.OK() {
		body := make(map[string]any, len(e.Payload)+1)
		for k, v := range e.Payload {
			body[k] = v
		}
		body["success"] = true
		return body
	}
	body := map[string]any{
		"success":    false,
		"error":      e.Message,
		"error_kind": string(e.ErrorKind),
	}
	if e.Field != "" {
		body["field"] = e.Field
	}
	return body
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Body())
}
