package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apiclient"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/handler"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/store"
	"github.com/stemsi/exstem-portal/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    response.ErrCode  `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
	Metadata response.Metadata `json:"metadata"`
}

func signToken(t *testing.T, claims service.Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func fakeBackend(t *testing.T, studentToken string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "rahasia" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"Email atau kata sandi salah"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"token": studentToken,
				"user":  map[string]any{"id": 7, "name": "Siti", "email": req.Email, "role": "student"},
			},
		})
	})
	mux.HandleFunc("GET /exams", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id":"E1","title":"Fisika","duration":30,"status":true},
			{"id":"E2","title":"Draft","duration":10,"status":false},
			{"id":"E3","title":"Kimia","duration":20}
		]`)
	})
	mux.HandleFunc("GET /exams/E1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"id":"E1","title":"Fisika","duration":30}}`)
	})
	mux.HandleFunc("GET /exams/E1/questions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[
			{"id":1,"content":"Satuan gaya?","option_a":"Joule","option_b":"Newton","option_c":"","option_d":""},
			{"id":2,"content":"Satuan daya?","option_a":"Joule","option_b":"Newton","option_c":"Watt","option_d":"Pascal"}
		]}`)
	})
	mux.HandleFunc("POST /exams/E1/submit", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"score":100,"percentage":100,"message":"Jawaban diterima"}}`)
	})
	mux.HandleFunc("GET /exams/E3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"E3","title":"Kimia","duration":20}`)
	})
	mux.HandleFunc("GET /exams/E3/questions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":1,"content":"H2O?","option_a":"Air","option_b":"Garam"}]`)
	})
	mux.HandleFunc("GET /exams/E3/results/7", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"score":85,"percentage":85}}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setupTestRouter(t *testing.T, backendURL string) *gin.Engine {
	t.Helper()
	validator.Setup()

	cfg := &config.Config{
		GinMode:        gin.TestMode,
		JWTSecret:      testSecret,
		SnapshotStore:  config.StoreMemory,
		TickInterval:   time.Second,
		BlockReattempt: true,
		ExamListPath:   "/exams",
		LoginRateLimit: 100,
	}
	log := zerolog.Nop()

	api := apiclient.New(backendURL, 5*time.Second, log)
	authService := service.NewAuthService(cfg, api)
	sessionService := service.NewExamSessionService(api, store.NewMemoryStore(), cfg, log)
	t.Cleanup(sessionService.Shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return SetupRouter(ctx, authService, &Handlers{
		Auth:          handler.NewAuthHandler(authService, log),
		StudentPortal: handler.NewStudentPortalHandler(sessionService, log),
		WS:            handler.NewWSHandler(sessionService, log, nil),
		System:        handler.NewSystemHandler(sessionService, cfg.SnapshotStore, log),
	}, cfg)
}

func call(t *testing.T, r http.Handler, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestHealth(t *testing.T) {
	r := setupTestRouter(t, "http://127.0.0.1:0")

	code, env := call(t, r, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, code)

	var health struct {
		Status        string `json:"status"`
		SnapshotStore string `json:"snapshot_store"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "memory", health.SnapshotStore)
	assert.NotEmpty(t, env.Metadata.RequestID)
}

func TestLogin(t *testing.T) {
	token := signToken(t, service.Claims{UserID: 7, TokenType: service.TokenTypeStudent})
	r := setupTestRouter(t, fakeBackend(t, token).URL)

	code, env := call(t, r, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "siti@example.com", "password": "rahasia",
	})
	require.Equal(t, http.StatusOK, code)
	var res struct {
		Token string `json:"token"`
		User  struct {
			ID int `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, token, res.Token)
	assert.Equal(t, 7, res.User.ID)

	code, env = call(t, r, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "siti@example.com", "password": "salah",
	})
	require.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.ErrInvalidCredentials, env.Error.Code)
	assert.Equal(t, "Email atau kata sandi salah", env.Error.Message)

	code, env = call(t, r, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "bukan-email"})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)
	assert.Contains(t, env.Error.Fields, "email")
	assert.Contains(t, env.Error.Fields, "password")
}

func TestStudentRoutesRequireStudentToken(t *testing.T) {
	r := setupTestRouter(t, "http://127.0.0.1:0")

	code, env := call(t, r, http.MethodGet, "/api/v1/student/exams", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.ErrTokenRequired, env.Error.Code)

	code, env = call(t, r, http.MethodGet, "/api/v1/student/exams", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.ErrTokenInvalid, env.Error.Code)

	expired := signToken(t, service.Claims{
		UserID:           7,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	code, env = call(t, r, http.MethodGet, "/api/v1/student/exams", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.ErrTokenExpired, env.Error.Code)

	admin := signToken(t, service.Claims{UserID: 1, TokenType: service.TokenTypeAdmin})
	code, env = call(t, r, http.MethodGet, "/api/v1/student/exams", admin, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, response.ErrStudentAccessOnly, env.Error.Code)
}

func TestExamSessionFlow(t *testing.T) {
	token := signToken(t, service.Claims{UserID: 7, TokenType: service.TokenTypeStudent})
	r := setupTestRouter(t, fakeBackend(t, token).URL)
	base := "/api/v1/student/exams/E1/session"

	// Not open yet.
	code, env := call(t, r, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrSessionNotOpen, env.Error.Code)

	// Start.
	code, env = call(t, r, http.MethodPost, base, token, nil)
	require.Equal(t, http.StatusOK, code, string(env.Data))
	var started struct {
		Session struct {
			Status          string `json:"status"`
			QuestionCount   int    `json:"question_count"`
			DeadlineEpochMs int64  `json:"deadline_epoch_ms"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &started))
	assert.Equal(t, "IN_PROGRESS", started.Session.Status)
	assert.Equal(t, 2, started.Session.QuestionCount)

	// Starting again resumes with the same deadline.
	code, env = call(t, r, http.MethodPost, base, token, nil)
	require.Equal(t, http.StatusOK, code)
	var again struct {
		Session struct {
			DeadlineEpochMs int64 `json:"deadline_epoch_ms"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, started.Session.DeadlineEpochMs, again.Session.DeadlineEpochMs)

	// Answers.
	code, _ = call(t, r, http.MethodPut, base+"/answers", token, map[string]string{"question_id": "1", "option": "b"})
	require.Equal(t, http.StatusOK, code)

	code, env = call(t, r, http.MethodPut, base+"/answers", token, map[string]string{"question_id": "1", "option": "c"})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrInvalidOption, env.Error.Code)

	code, env = call(t, r, http.MethodPut, base+"/answers", token, map[string]string{"question_id": "99", "option": "a"})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrUnknownQuestion, env.Error.Code)

	code, env = call(t, r, http.MethodPut, base+"/answers", token, map[string]string{"question_id": "1", "option": "e"})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)

	// Navigation.
	code, env = call(t, r, http.MethodPost, base+"/navigate", token, map[string]string{"direction": "next"})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"current_question_index":1}`, string(env.Data))

	code, env = call(t, r, http.MethodPost, base+"/navigate", token, map[string]int{"index": 5})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrIndexOutOfRange, env.Error.Code)

	code, env = call(t, r, http.MethodPost, base+"/navigate", token, map[string]any{})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)

	// Lobby while the attempt is open.
	code, env = call(t, r, http.MethodGet, "/api/v1/student/exams", token, nil)
	require.Equal(t, http.StatusOK, code)
	var lobby struct {
		Exams []struct {
			ID          string `json:"id"`
			LobbyStatus string `json:"lobby_status"`
			Resumable   bool   `json:"resumable"`
			ResultBand  string `json:"result_band"`

			Result *struct {
				Percentage float64 `json:"percentage"`
			} `json:"result"`
		} `json:"exams"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &lobby))
	require.Len(t, lobby.Exams, 2)
	assert.Equal(t, "E1", lobby.Exams[0].ID)
	assert.Equal(t, "IN_PROGRESS", lobby.Exams[0].LobbyStatus)
	assert.True(t, lobby.Exams[0].Resumable)
	assert.Equal(t, "E3", lobby.Exams[1].ID)
	assert.Equal(t, "COMPLETED", lobby.Exams[1].LobbyStatus)
	assert.Equal(t, "high", lobby.Exams[1].ResultBand)
	require.NotNil(t, lobby.Exams[1].Result)
	assert.Equal(t, 85.0, lobby.Exams[1].Result.Percentage)

	// Submission needs confirmation.
	code, env = call(t, r, http.MethodPost, base+"/submit", token, map[string]bool{"confirm": false})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrSubmitNotConfirmed, env.Error.Code)

	code, env = call(t, r, http.MethodPost, base+"/submit", token, map[string]bool{"confirm": true})
	require.Equal(t, http.StatusOK, code)
	var submitted struct {
		Result struct {
			Message string `json:"message"`
		} `json:"result"`
		RedirectTo string `json:"redirect_to"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	assert.Equal(t, "Jawaban diterima", submitted.Result.Message)
	assert.Equal(t, "/exams", submitted.RedirectTo)

	// A submitted session is released at once.
	assert.Equal(t, 0, activeSessions(t, r))

	code, env = call(t, r, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrSessionNotOpen, env.Error.Code)

	code, env = call(t, r, http.MethodPost, base+"/submit", token, map[string]bool{"confirm": true})
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrSessionNotOpen, env.Error.Code)

	code, _ = call(t, r, http.MethodDelete, base, token, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestLeaveKeepsCachedAttempt(t *testing.T) {
	token := signToken(t, service.Claims{UserID: 7, TokenType: service.TokenTypeStudent})
	r := setupTestRouter(t, fakeBackend(t, token).URL)
	base := "/api/v1/student/exams/E1/session"

	code, _ := call(t, r, http.MethodPost, base, token, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, r, http.MethodPut, base+"/answers", token, map[string]string{"question_id": "2", "option": "c"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, activeSessions(t, r))

	code, _ = call(t, r, http.MethodDelete, base, token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, activeSessions(t, r))
	code, _ = call(t, r, http.MethodDelete, base, token, nil)
	require.Equal(t, http.StatusNotFound, code)

	code, env := call(t, r, http.MethodPost, base, token, nil)
	require.Equal(t, http.StatusOK, code)
	var resumed struct {
		Session struct {
			Answers map[string]string `json:"answers"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resumed))
	assert.Equal(t, map[string]string{"2": "c"}, resumed.Session.Answers)
}

func TestBlockedReattemptIsNotKept(t *testing.T) {
	token := signToken(t, service.Claims{UserID: 7, TokenType: service.TokenTypeStudent})
	r := setupTestRouter(t, fakeBackend(t, token).URL)

	code, env := call(t, r, http.MethodPost, "/api/v1/student/exams/E3/session", token, nil)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrAlreadySubmitted, env.Error.Code)
	assert.Equal(t, 0, activeSessions(t, r))
}

func activeSessions(t *testing.T, r http.Handler) int {
	t.Helper()
	code, env := call(t, r, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	var health struct {
		ActiveSessions int `json:"active_sessions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &health))
	return health.ActiveSessions
}

func TestResultEndpoint(t *testing.T) {
	token := signToken(t, service.Claims{UserID: 7, TokenType: service.TokenTypeStudent})
	r := setupTestRouter(t, fakeBackend(t, token).URL)

	code, env := call(t, r, http.MethodGet, "/api/v1/student/exams/E3/result", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"result":{"score":85,"percentage":85},"band":"high"}`, string(env.Data))

	code, env = call(t, r, http.MethodGet, "/api/v1/student/exams/E1/result", token, nil)
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrResultNotFound, env.Error.Code)

	code, env = call(t, r, http.MethodGet, "/api/v1/student/exams/bad%20id/result", token, nil)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrInvalidID, env.Error.Code)
}

func TestStartUnknownExam(t *testing.T) {
	token := signToken(t, service.Claims{UserID: 7, TokenType: service.TokenTypeStudent})
	r := setupTestRouter(t, fakeBackend(t, token).URL)

	code, env := call(t, r, http.MethodPost, "/api/v1/student/exams/E404/session", token, nil)
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrNotFound, env.Error.Code)
}

func TestWebSocketStream(t *testing.T) {
	token := signToken(t, service.Claims{UserID: 7, TokenType: service.TokenTypeStudent})
	r := setupTestRouter(t, fakeBackend(t, token).URL)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/student/exams/E1/stream?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// next reads frames until one with the wanted event, skipping ticks.
	next := func(want string) map[string]json.RawMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		for {
			var msg map[string]json.RawMessage
			require.NoError(t, conn.ReadJSON(&msg))
			var event string
			require.NoError(t, json.Unmarshal(msg["event"], &event))
			if event == "tick" && want != "tick" {
				continue
			}
			require.Equal(t, want, event, "unexpected frame")
			return msg
		}
	}

	next("state")

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "answer", "question_id": "2", "option": "d"}))
	ack := next("ack")
	assert.JSONEq(t, `{"2":"d"}`, string(ack["answers"]))

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "answer", "question_id": "1", "option": "d"}))
	errFrame := next("error")
	assert.JSONEq(t, `"INVALID_OPTION"`, string(errFrame["code"]))

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "navigate", "index": 1}))
	ack = next("ack")
	assert.JSONEq(t, `1`, string(ack["current_question_index"]))

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	next("pong")

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "submit", "confirm": false}))
	errFrame = next("error")
	assert.JSONEq(t, `"SUBMIT_NOT_CONFIRMED"`, string(errFrame["code"]))

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "submit", "confirm": true}))
	done := next("submitted")
	assert.JSONEq(t, `"/exams"`, string(done["redirect_to"]))

	// The server closes the stream after submission.
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWebSocketRequiresToken(t *testing.T) {
	r := setupTestRouter(t, "http://127.0.0.1:0")
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/student/exams/E1/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
