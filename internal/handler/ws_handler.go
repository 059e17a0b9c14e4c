package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/middleware"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/session"
	"github.com/stemsi/exstem-portal/internal/validator"
	ws "github.com/stemsi/exstem-portal/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live exam session over WebSocket.
type WSHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Opens (or resumes) the session, then pushes countdown ticks and session
// events while accepting answer, navigate, submit and ping actions.
// Closing the socket without submitting leaves the attempt resumable.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	student, ok := middleware.GetStudent(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID := c.Param("exam_id")
	if !validator.ValidExamID(examID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Open before upgrading so load failures get a proper HTTP status.
	ctrl, state, err := h.sessionService.Open(c.Request.Context(), student, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", student.UserID).
		Str("exam_id", examID).
		Logger()
	wsLog.Info().Msg("Student connected")

	events, unsubscribe := ctrl.Subscribe(32)
	if err := conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: state}); err != nil {
		unsubscribe()
		return
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for ev := range events {
			if err := conn.WriteTyped(ev); err != nil {
				return
			}
			if ev.Type == model.EventSubmitted {
				_ = conn.CloseNormal("submitted")
				return
			}
		}
	}()

	ctx := c.Request.Context()
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		h.dispatch(ctx, conn, ctrl, wsLog, data)
	}

	unsubscribe()
	<-pumpDone

	// The view is gone: stop the countdown, keep the cached attempt. A submitted
	// controller has already been released.
	if st := ctrl.Status(); st != model.SessionStatusSubmitting && st != model.SessionStatusSubmitted {
		_ = h.sessionService.Leave(student, examID)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, conn *ws.Conn, ctrl *session.Controller, wsLog zerolog.Logger, data []byte) {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		_ = conn.WriteError(string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload), nil)
		return
	}

	switch env.Action {
	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if !decodeAction(conn, data, &req) {
			return
		}
		if err := ctrl.SelectAnswer(ctx, req.QuestionID, model.OptionKey(req.Option)); err != nil {
			writeActionError(conn, err)
			return
		}
		h.ack(conn, ctrl, ws.ActionAnswer)

	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if !decodeAction(conn, data, &req) {
			return
		}
		if req.Direction == "" && req.Index == nil {
			_ = conn.WriteError(string(response.ErrValidation), "direction or index is required", nil)
			return
		}
		if _, err := navigate(ctx, ctrl, &req.NavigateRequest); err != nil {
			writeActionError(conn, err)
			return
		}
		h.ack(conn, ctrl, ws.ActionNavigate)

	case ws.ActionSubmit:
		var req ws.SubmitRequest
		if err := json.Unmarshal(data, &req); err != nil || !req.Confirm {
			_ = conn.WriteError(string(response.ErrSubmitNotConfirmed), response.GetMessage(response.ErrSubmitNotConfirmed), nil)
			return
		}
		// Success and failure both arrive as session events.
		if _, err := ctrl.Submit(ctx); err != nil {
			wsLog.Warn().Err(err).Msg("Submit action failed")
			if errors.Is(err, session.ErrSubmitInFlight) || errors.Is(err, session.ErrAlreadySubmitted) || errors.Is(err, session.ErrNotInProgress) {
				writeActionError(conn, err)
			}
		}

	case ws.ActionPing:
		_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})

	default:
		wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		_ = conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(env.Action), nil)
	}
}

func (h *WSHandler) ack(conn *ws.Conn, ctrl *session.Controller, action ws.Action) {
	st := ctrl.State()
	_ = conn.WriteTyped(ws.AckResponse{
		Event:                ws.EventAck,
		Action:               action,
		CurrentQuestionIndex: st.CurrentQuestionIndex,
		AnsweredCount:        st.AnsweredCount,
		Answers:              st.Answers,
	})
}

func decodeAction(conn *ws.Conn, data []byte, dst interface{}) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		_ = conn.WriteError(string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload), nil)
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		_ = conn.WriteError(string(response.ErrValidation), response.GetMessage(response.ErrValidation), fields)
		return false
	}
	return true
}

func writeActionError(conn *ws.Conn, err error) {
	_, code, message := classify(err)
	if message == "" {
		message = response.GetMessage(code)
	}
	_ = conn.WriteError(string(code), message, nil)
}
