package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/middleware"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/session"
	"github.com/stemsi/exstem-portal/internal/validator"
)

// StudentPortalHandler handles student-facing endpoints (exam taking, lobby).
type StudentPortalHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(sessionService *service.ExamSessionService, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// GetLobby godoc
// GET /api/v1/student/exams
// Returns the exams the student can take, flagging attempts that can be resumed.
func (h *StudentPortalHandler) GetLobby(c *gin.Context) {
	student, ok := middleware.GetStudent(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	lobby, err := h.sessionService.Lobby(c.Request.Context(), student)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exams": lobby})
}

// StartSession godoc
// POST /api/v1/student/exams/:exam_id/session
// Starts the exam or resumes the cached attempt (idempotent).
func (h *StudentPortalHandler) StartSession(c *gin.Context) {
	student, examID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	_, state, err := h.sessionService.Open(c.Request.Context(), student, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": state})
}

// GetSession godoc
// GET /api/v1/student/exams/:exam_id/session
// Returns the current state of the open session. Covers page reloads: the view
// gets its answers, cursor and remaining time back.
func (h *StudentPortalHandler) GetSession(c *gin.Context) {
	student, examID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	ctrl, err := h.sessionService.Get(student, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": ctrl.State()})
}

// SelectAnswer godoc
// PUT /api/v1/student/exams/:exam_id/session/answers
func (h *StudentPortalHandler) SelectAnswer(c *gin.Context) {
	student, examID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req model.SelectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctrl, err := h.sessionService.Get(student, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if err := ctrl.SelectAnswer(c.Request.Context(), req.QuestionID, model.OptionKey(req.Option)); err != nil {
		respondError(c, h.log, err)
		return
	}

	st := ctrl.State()
	response.Success(c, http.StatusOK, gin.H{
		"answers":        st.Answers,
		"answered_count": st.AnsweredCount,
	})
}

// Navigate godoc
// POST /api/v1/student/exams/:exam_id/session/navigate
// Accepts {"direction": "next"|"prev"} or {"index": n}.
func (h *StudentPortalHandler) Navigate(c *gin.Context) {
	student, examID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if req.Direction == "" && req.Index == nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"direction": "direction or index is required",
		})
		return
	}

	ctrl, err := h.sessionService.Get(student, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	index, err := navigate(c.Request.Context(), ctrl, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"current_question_index": index})
}

// SubmitSession godoc
// POST /api/v1/student/exams/:exam_id/session/submit
// Requires {"confirm": true}. A failed submission leaves the attempt resumable.
func (h *StudentPortalHandler) SubmitSession(c *gin.Context) {
	student, examID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req model.SubmitExamRequest
	if fields := validator.Bind(c, &req); fields != nil || !req.Confirm {
		response.Fail(c, http.StatusBadRequest, response.ErrSubmitNotConfirmed)
		return
	}

	ctrl, err := h.sessionService.Get(student, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	res, err := ctrl.Submit(c.Request.Context())
	if err != nil {
		status, code, message := classify(err)
		if status >= http.StatusInternalServerError {
			// The attempt is intact; tell the student to retry.
			h.log.Warn().Err(err).Str("exam_id", examID).Int("user_id", student.UserID).Msg("Submission failed")
			response.FailWithMessage(c, status, response.ErrSubmitFailed, message)
			return
		}
		response.FailWithMessage(c, status, code, message)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"result":      res,
		"redirect_to": h.sessionService.RedirectTo(),
	})
}

// LeaveSession godoc
// DELETE /api/v1/student/exams/:exam_id/session
// Stops the countdown for this view. The cached attempt is kept.
func (h *StudentPortalHandler) LeaveSession(c *gin.Context) {
	student, examID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	if err := h.sessionService.Leave(student, examID); err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// GetResult godoc
// GET /api/v1/student/exams/:exam_id/result
func (h *StudentPortalHandler) GetResult(c *gin.Context) {
	student, examID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	res, err := h.sessionService.Result(c.Request.Context(), student, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"result": res,
		"band":   res.Band(),
	})
}

// sessionParams extracts the student and a validated exam id, writing the
// error response itself when either is missing.
func (h *StudentPortalHandler) sessionParams(c *gin.Context) (service.Student, string, bool) {
	student, ok := middleware.GetStudent(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return service.Student{}, "", false
	}

	examID := c.Param("exam_id")
	if !validator.ValidExamID(examID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return service.Student{}, "", false
	}
	return student, examID, true
}

// navigate applies req; an index wins over a direction.
func navigate(ctx context.Context, ctrl *session.Controller, req *model.NavigateRequest) (int, error) {
	if req.Index != nil {
		return ctrl.JumpTo(ctx, *req.Index)
	}
	dir := session.Next
	if req.Direction == "prev" {
		dir = session.Prev
	}
	return ctrl.Navigate(ctx, dir)
}
