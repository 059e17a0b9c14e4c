package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/model"
)

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 4 << 20

// Transport-level errors.
var (
	ErrUnavailable = errors.New("backend unavailable")
	ErrNotFound    = errors.New("backend resource not found")
)

// APIError is an error reported by the backend itself. Message is shown to
// the student verbatim.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error (%d): %s", e.StatusCode, e.Message)
}

// UserMessage returns the backend's own wording.
func (e *APIError) UserMessage() string {
	return e.Message
}

// Client talks to the platform backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	log     zerolog.Logger
}

// New creates a Client rooted at baseURL (no trailing slash).
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "api_client").Logger(),
	}
}

// WithToken returns a copy of the client that sends token as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (*model.LoginResult, error) {
	var out model.LoginResult
	body := model.LoginRequest{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "login response carried no token"}
	}
	return &out, nil
}

// ListExams returns the exams visible to the authenticated student.
func (c *Client) ListExams(ctx context.Context) ([]model.Exam, error) {
	var exams []model.Exam
	if err := c.do(ctx, http.MethodGet, "/exams", nil, &exams); err != nil {
		return nil, err
	}
	return exams, nil
}

// GetExam fetches exam metadata.
func (c *Client) GetExam(ctx context.Context, examID string) (*model.Exam, error) {
	var exam model.Exam
	if err := c.do(ctx, http.MethodGet, "/exams/"+url.PathEscape(examID), nil, &exam); err != nil {
		return nil, err
	}
	return &exam, nil
}

// GetQuestions fetches the ordered question list of an exam.
func (c *Client) GetQuestions(ctx context.Context, examID string) ([]model.Question, error) {
	var dtos []model.QuestionDTO
	if err := c.do(ctx, http.MethodGet, "/exams/"+url.PathEscape(examID)+"/questions", nil, &dtos); err != nil {
		return nil, err
	}

	questions := make([]model.Question, 0, len(dtos))
	for _, d := range dtos {
		questions = append(questions, d.ToQuestion())
	}
	return questions, nil
}

// Submit sends the final answers of an attempt.
func (c *Client) Submit(ctx context.Context, examID string, req *model.SubmitRequest) (*model.SubmitResult, error) {
	var out model.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/exams/"+url.PathEscape(examID)+"/submit", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetResult returns the student's graded result, or nil when none exists yet.
func (c *Client) GetResult(ctx context.Context, examID string, userID int) (*model.ExamResult, error) {
	var out struct {
		Score      *float64 `json:"score"`
		Percentage *float64 `json:"percentage"`
	}
	path := "/exams/" + url.PathEscape(examID) + "/results/" + strconv.Itoa(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if out.Score == nil && out.Percentage == nil {
		return nil, nil
	}

	res := &model.ExamResult{}
	if out.Score != nil {
		res.Score = *out.Score
	}
	if out.Percentage != nil {
		res.Percentage = *out.Percentage
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %v", ErrUnavailable, method, path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Backend call")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, method, path, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		msg := backendError(raw)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	// A 2xx body may still carry {"error": ...}.
	if msg := backendError(raw); msg != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return decodeData(raw, out)
}

type errorEnvelope struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// backendError extracts the error text from {"error": "..."} or
// {"error": {"message": "..."}} bodies. It returns "" when there is none.
func backendError(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ""
	}

	var env errorEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return ""
	}

	switch string(env.Error) {
	case "", "null", "false", `""`:
		return ""
	}

	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Code != "" {
			return obj.Code
		}
	}
	if env.Message != "" {
		return env.Message
	}
	return string(env.Error)
}

// decodeData accepts both bare payloads and {"data": payload} envelopes.
func decodeData(raw []byte, out any) error {
	payload := bytes.TrimSpace(raw)
	if len(payload) > 0 && payload[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(payload, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
			payload = env.Data
		}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
