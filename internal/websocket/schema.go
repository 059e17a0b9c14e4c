package websocket

import "github.com/stemsi/exstem-portal/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionNavigate Action = "navigate"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest selects an option for one question.
type AnswerRequest struct {
	Action Action `json:"action"`
	model.SelectAnswerRequest
}

// NavigateRequest moves the cursor.
type NavigateRequest struct {
	Action Action `json:"action"`
	model.NavigateRequest
}

// SubmitRequest is sent by the client to finish the exam. Confirm must be true.
type SubmitRequest struct {
	Action Action `json:"action"`
	model.SubmitExamRequest
}

// ─── Events (Server → Client) ───────────────────────────────────────
// Session notifications (tick, expired, submitted, submit_failed,
// snapshot_failed) are forwarded as model.SessionEvent.

type Event string

const (
	EventState Event = "state"
	EventAck   Event = "ack"
	EventError Event = "error"
	EventPong  Event = "pong"
)

// StateResponse carries the full session view, sent on connect.
type StateResponse struct {
	Event Event               `json:"event"`
	State *model.SessionState `json:"state"`
}

// AckResponse confirms an answer or navigate action.
type AckResponse struct {
	Event                Event                      `json:"event"`
	Action               Action                     `json:"action"`
	CurrentQuestionIndex int                        `json:"current_question_index"`
	AnsweredCount        int                        `json:"answered_count"`
	Answers              map[string]model.OptionKey `json:"answers,omitempty"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code,omitempty"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
