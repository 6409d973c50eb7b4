package event

import (
	"time"

	"github.com/garyjia/expense-approval/internal/idgen"
)

// Payload keys shared by producers and subscribers
const (
	KeyRequestID   = "request_id"
	KeyExpenseID   = "expense_id"
	KeyOrgID       = "org_id"
	KeySubmitterID = "submitter_id"
	KeyFromStatus  = "from_status"
	KeyToStatus    = "to_status"
	KeyTaskID      = "task_id"
	KeyApproverID  = "approver_id"
	KeySequence    = "sequence"
	KeyAmount      = "amount"
	KeyCurrency    = "currency"
	KeyActorID     = "actor_id"
	KeyDueDate     = "due_date"
)

// Event is a domain event raised after a workflow transaction commits
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	RequestID     string                 `json:"request_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates an event with a fresh ID. The request ID doubles as the
// correlation ID so every event of one request can be traced together.
func NewEvent(eventType Type, requestID string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, requestID, payload, requestID)
}

// NewEventWithCorrelation creates an event linked to an explicit correlation chain
func NewEventWithCorrelation(eventType Type, requestID string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:            idgen.New(),
		Type:          eventType,
		RequestID:     requestID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// WithPayload returns a copy of the event with key set
func (e *Event) WithPayload(key string, value interface{}) *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value

	cp := *e
	cp.Payload = payload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case interface{ String() string }:
			return v.String()
		}
	}
	return ""
}

// GetPayloadInt retrieves an integer value from the payload. JSON decoding
// turns numbers into float64, so that case is accepted too.
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
