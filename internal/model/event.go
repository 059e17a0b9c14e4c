package model

// EventType names a session notification pushed to the view.
type EventType string

const (
	EventTick           EventType = "tick"
	EventExpired        EventType = "expired"
	EventSubmitted      EventType = "submitted"
	EventSubmitFailed   EventType = "submit_failed"
	EventSnapshotFailed EventType = "snapshot_failed"
)

// SessionEvent is a notification emitted by a session controller.
type SessionEvent struct {
	Type        EventType     `json:"event"`
	ExamID      string        `json:"exam_id"`
	Status      SessionStatus `json:"status"`
	RemainingMs int64         `json:"remaining_ms"`
	RedirectTo  string        `json:"redirect_to,omitempty"`
	Message     string        `json:"message,omitempty"`
	Result      *SubmitResult `json:"result,omitempty"`
}
