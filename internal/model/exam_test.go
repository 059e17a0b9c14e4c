package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExamVisible(t *testing.T) {
	yes, no := true, false

	assert.True(t, Exam{ID: "E1", Status: &yes}.Visible())
	assert.False(t, Exam{ID: "E2", Status: &no}.Visible())
	assert.True(t, Exam{ID: "E3"}.Visible(), "missing flag is treated as published")
}

func TestResultBand(t *testing.T) {
	tests := []struct {
		pct  float64
		want ResultBand
	}{
		{0, ResultBandLow},
		{49.9, ResultBandLow},
		{50, ResultBandMedium},
		{79.9, ResultBandMedium},
		{80, ResultBandHigh},
		{100, ResultBandHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExamResult{Percentage: tt.pct}.Band(), "percentage %v", tt.pct)
	}
}
