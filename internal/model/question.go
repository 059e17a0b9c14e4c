package model

import "strings"

// OptionKey identifies one choice of a multiple-choice question.
type OptionKey string

const (
	OptionA OptionKey = "a"
	OptionB OptionKey = "b"
	OptionC OptionKey = "c"
	OptionD OptionKey = "d"
)

// OptionKeys lists every key in display order.
var OptionKeys = []OptionKey{OptionA, OptionB, OptionC, OptionD}

// Valid reports whether k is one of OptionKeys.
func (k OptionKey) Valid() bool {
	for _, known := range OptionKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Choice is one keyed answer option.
type Choice struct {
	Key  OptionKey `json:"key"`
	Text string    `json:"text"`
}

// Question is a multiple-choice question as shown to the student.
// The correct answer never reaches the client.
type Question struct {
	ID      ID       `json:"id"`
	Text    string   `json:"text"`
	Choices []Choice `json:"choices"`
}

// HasChoice reports whether key is offered by q.
func (q Question) HasChoice(key OptionKey) bool {
	for _, ch := range q.Choices {
		if ch.Key == key {
			return true
		}
	}
	return false
}

// QuestionDTO is the wire shape of GET /exams/{id}/questions.
type QuestionDTO struct {
	ID      ID     `json:"id"`
	Content string `json:"content"`
	OptionA string `json:"option_a"`
	OptionB string `json:"option_b"`
	OptionC string `json:"option_c"`
	OptionD string `json:"option_d"`
}

// ToQuestion converts the column-per-option wire shape into explicit keyed
// choices. Blank options are dropped, so two- and three-choice questions keep
// their remaining keys.
func (d QuestionDTO) ToQuestion() Question {
	texts := [...]string{d.OptionA, d.OptionB, d.OptionC, d.OptionD}

	choices := make([]Choice, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		choices = append(choices, Choice{Key: OptionKeys[i], Text: text})
	}

	return Question{
		ID:      d.ID,
		Text:    d.Content,
		Choices: choices,
	}
}
