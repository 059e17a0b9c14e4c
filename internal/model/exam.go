package model

// Exam is the exam metadata served by the backend.
type Exam struct {
	ID              ID     `json:"id"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration"`
	Description     string `json:"description,omitempty"`
	QuestionCount   int    `json:"question_count,omitempty"`
	// Status is the backend's publish flag; nil means the backend did not send one.
	Status *bool `json:"status,omitempty"`
}

// Visible reports whether the exam may be listed to students. A missing flag
// counts as published: backends that omit it only return published exams, so
// only an explicit false hides an exam.
func (e Exam) Visible() bool {
	return e.Status == nil || *e.Status
}

// ExamResult is a graded attempt as reported by GET /exams/{id}/results/{userId}.
type ExamResult struct {
	Score      float64 `json:"score"`
	Percentage float64 `json:"percentage"`
}

// ResultBand buckets a percentage for display.
type ResultBand string

const (
	ResultBandLow    ResultBand = "low"
	ResultBandMedium ResultBand = "medium"
	ResultBandHigh   ResultBand = "high"
)

// Band grades the result: below 50% is low, below 80% medium.
func (r ExamResult) Band() ResultBand {
	switch {
	case r.Percentage < 50:
		return ResultBandLow
	case r.Percentage < 80:
		return ResultBandMedium
	default:
		return ResultBandHigh
	}
}

// AnswerEntry is one answered question in a submission.
type AnswerEntry struct {
	QuestionID     string    `json:"question_id"`
	SelectedOption OptionKey `json:"selected_option"`
}

// SubmitRequest is the body of POST /exams/{id}/submit.
type SubmitRequest struct {
	UserID  int           `json:"user_id"`
	Answers []AnswerEntry `json:"answers"`
}

// SubmitResult is whatever the backend returns for an accepted submission.
// Every field is optional.
type SubmitResult struct {
	Score      *float64 `json:"score,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
	Message    string   `json:"message,omitempty"`
}
