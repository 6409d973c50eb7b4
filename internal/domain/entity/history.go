package entity

import "time"

// ApprovalHistory is one append-only audit entry. Seq is monotonic per request.
// System-acted entries have ActorType SYSTEM and an empty ActorID.
type ApprovalHistory struct {
	ID         string        `json:"id"`
	RequestID  string        `json:"request_id"`
	Seq        int64         `json:"seq"`
	TaskID     string        `json:"task_id,omitempty"`
	ActorID    string        `json:"actor_id,omitempty"`
	ActorType  ActorType     `json:"actor_type"`
	Action     HistoryAction `json:"action"`
	FromStatus RequestStatus `json:"from_status,omitempty"`
	ToStatus   RequestStatus `json:"to_status"`
	Comments   string        `json:"comments,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}
