package model

import (
	"errors"
	"time"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusLoading    SessionStatus = "LOADING"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitting SessionStatus = "SUBMITTING"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
)

// Snapshot is the persisted cache entry of an in-progress session.
// EndTime is the absolute deadline in epoch milliseconds; it is written once
// when the session starts and reused verbatim on every resume.
type Snapshot struct {
	Answers              map[string]OptionKey `json:"answers"`
	CurrentQuestionIndex int                  `json:"currentQuestionIndex"`
	EndTime              int64                `json:"endTime"`
}

// Deadline returns EndTime as a time.Time.
func (s *Snapshot) Deadline() time.Time {
	return time.UnixMilli(s.EndTime)
}

// Validate rejects snapshots that cannot drive a session.
func (s *Snapshot) Validate() error {
	if s.EndTime <= 0 {
		return errors.New("snapshot has no deadline")
	}
	if s.Answers == nil {
		s.Answers = make(map[string]OptionKey)
	}
	return nil
}

// SessionState is the read model of a live session returned to the view.
type SessionState struct {
	ExamID               string               `json:"exam_id"`
	UserID               int                  `json:"user_id"`
	Title                string               `json:"title"`
	Status               SessionStatus        `json:"status"`
	DurationMinutes      int                  `json:"duration_minutes"`
	DeadlineEpochMs      int64                `json:"deadline_epoch_ms"`
	RemainingMs          int64                `json:"remaining_ms"`
	CurrentQuestionIndex int                  `json:"current_question_index"`
	QuestionCount        int                  `json:"question_count"`
	AnsweredCount        int                  `json:"answered_count"`
	Questions            []Question           `json:"questions"`
	Answers              map[string]OptionKey `json:"answers"`
	Result               *SubmitResult        `json:"result,omitempty"`
}

// SelectAnswerRequest is the payload for choosing an option.
type SelectAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,max=64"`
	Option     string `json:"option" binding:"required,option_key"`
}

// NavigateRequest moves the cursor by one step or jumps to an index.
// Exactly one of Direction and Index is expected; Index wins when both are set.
type NavigateRequest struct {
	Direction string `json:"direction" binding:"omitempty,oneof=next prev"`
	Index     *int   `json:"index" binding:"omitempty,min=0"`
}

// SubmitExamRequest must carry confirm=true; the view asks the student first.
type SubmitExamRequest struct {
	Confirm bool `json:"confirm" binding:"required"`
}
