package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, 2*time.Second, zerolog.Nop())
}

func TestWithTokenSendsBearer(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get("Authorization"))
		mu.Unlock()
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := c.ListExams(context.Background())
	require.NoError(t, err)
	_, err = c.WithToken("abc").ListExams(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "Bearer abc"}, got)
}

func TestDecodesBareAndEnvelopedBodies(t *testing.T) {
	ctx := context.Background()

	bare := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":12,"title":"Biologi","duration":45}`)
	})
	exam, err := bare.GetExam(ctx, "12")
	require.NoError(t, err)
	assert.Equal(t, model.ID("12"), exam.ID)
	assert.Equal(t, 45, exam.DurationMinutes)

	wrapped := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"id":"E-1","title":"Biologi","duration":45},"error":null}`)
	})
	exam, err = wrapped.GetExam(ctx, "E-1")
	require.NoError(t, err)
	assert.Equal(t, model.ID("E-1"), exam.ID)
	assert.Equal(t, "Biologi", exam.Title)
}

func TestGetQuestionsBuildsKeyedChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exams/E1/questions", r.URL.Path)
		_, _ = io.WriteString(w, `[{"id":3,"content":"Ibu kota?","option_a":"Jakarta","option_b":"Bandung","option_c":" ","option_d":"Medan"}]`)
	})

	qs, err := c.GetQuestions(context.Background(), "E1")
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, model.ID("3"), qs[0].ID)
	assert.Equal(t, []model.Choice{
		{Key: model.OptionA, Text: "Jakarta"},
		{Key: model.OptionB, Text: "Bandung"},
		{Key: model.OptionD, Text: "Medan"},
	}, qs[0].Choices)
}

func TestSubmitSendsPayload(t *testing.T) {
	var (
		mu   sync.Mutex
		body model.SubmitRequest
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/exams/E1/submit", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		mu.Lock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Unlock()
		_, _ = io.WriteString(w, `{"score":80}`)
	})

	res, err := c.Submit(context.Background(), "E1", &model.SubmitRequest{
		UserID:  9,
		Answers: []model.AnswerEntry{{QuestionID: "1", SelectedOption: model.OptionC}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Score)
	assert.Equal(t, 80.0, *res.Score)
	assert.Nil(t, res.Percentage)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 9, body.UserID)
	assert.Equal(t, model.OptionC, body.Answers[0].SelectedOption)
}

func TestGetResult(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		status int
		body   string
		want   *model.ExamResult
	}{
		{"graded", http.StatusOK, `{"data":{"score":42,"percentage":70}}`, &model.ExamResult{Score: 42, Percentage: 70}},
		{"not found", http.StatusNotFound, `{"error":"not found"}`, nil},
		{"empty data", http.StatusOK, `{"data":null}`, nil},
		{"empty body", http.StatusOK, ``, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/exams/E1/results/5", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			got, err := c.GetResult(ctx, "E1", 5)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorTaxonomy(t *testing.T) {
	ctx := context.Background()

	t.Run("backend message is kept verbatim", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"error":{"code":"EXAM_CLOSED","message":"Ujian sudah ditutup"}}`)
		})
		_, err := c.Submit(ctx, "E1", &model.SubmitRequest{})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
		assert.Equal(t, "Ujian sudah ditutup", apiErr.UserMessage())
	})

	t.Run("error in a 200 body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"error":"Soal belum tersedia"}`)
		})
		_, err := c.GetQuestions(ctx, "E1")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "Soal belum tersedia", apiErr.Message)
	})

	t.Run("server error is unavailable", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := c.ListExams(ctx)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("connection refused is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := New(url, time.Second, zerolog.Nop()).ListExams(ctx)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("not found", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
		_, err := c.GetExam(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("undecodable body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `[1,2`)
		})
		_, err := c.ListExams(ctx)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrUnavailable))
	})
}

func TestLoginRequiresToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"user":{"id":1}}}`)
	})
	_, err := c.Login(context.Background(), "a@b.c", "x")
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
}
