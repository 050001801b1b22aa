package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
)

// Presence counts connected socket clients per session.
type Presence interface {
	Join(ctx context.Context, sessionID int64, clientID string) error
	Leave(ctx context.Context, sessionID int64, clientID string) error
	Count(ctx context.Context, sessionID int64) (int, error)
}

// PollHandler serves the pull channel and the lecturer controls.
type PollHandler struct {
	service  *app.PollService
	hub      *app.Hub
	presence Presence
	log      zerolog.Logger
}

func NewPollHandler(service *app.PollService, hub *app.Hub, presence Presence, log zerolog.Logger) *PollHandler {
	return &PollHandler{
		service:  service,
		hub:      hub,
		presence: presence,
		log:      log.With().Str("component", "poll_handler").Logger(),
	}
}

type sessionQuery struct {
	SessionID int64 `form:"sessionId" binding:"required,gt=0"`
}

type questionQuery struct {
	QuestionID int64 `form:"questionId" binding:"required,gt=0"`
}

type submitRequest struct {
	QuestionID int64   `json:"questionId" binding:"required,gt=0"`
	OptionIDs  []int64 `json:"optionIds"`
}

type setActiveRequest struct {
	ActiveQuestionID int64 `json:"activeQuestionId" binding:"required,gt=0"`
}

type wildcardRequest struct {
	Position     *int   `json:"position" binding:"required,gte=0"`
	QuestionType string `json:"questionType" binding:"required,oneof=MCQ MSQ"`
}

type createQuestionRequest struct {
	Text    string        `json:"text" binding:"required"`
	Type    string        `json:"type" binding:"required,oneof=MCQ MSQ"`
	Options []optionInput `json:"options" binding:"required,min=2,dive"`
}

type optionInput struct {
	Text      string `json:"text" binding:"required"`
	IsCorrect bool   `json:"isCorrect"`
}

type submitResponse struct {
	Success   bool              `json:"success"`
	Responses []domain.Response `json:"responses"`
}

type sessionQuestionsResponse struct {
	SessionID int64             `json:"sessionId"`
	Questions []domain.Question `json:"questions"`
}

type presenceResponse struct {
	SessionID   int64 `json:"sessionId"`
	Connected   int   `json:"connected"`
	Subscribers int   `json:"subscribers"`
}

// GetActiveQuestion godoc
// GET /api/v1/getActiveQuestion?sessionId=
func (h *PollHandler) GetActiveQuestion(c *gin.Context) {
	var q sessionQuery
	if fields := bindQuery(c, &q); fields != nil {
		failWithFields(c, fields)
		return
	}
	view, err := h.service.GetActiveQuestion(c.Request.Context(), q.SessionID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetQuestionByID godoc
// GET /api/v1/getQuestionById?questionId=
func (h *PollHandler) GetQuestionByID(c *gin.Context) {
	var q questionQuery
	if fields := bindQuery(c, &q); fields != nil {
		failWithFields(c, fields)
		return
	}
	question, err := h.service.QuestionForViewer(c.Request.Context(), q.QuestionID, userIDFrom(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, question)
}

// GetSessionQuestions godoc
// GET /api/v1/getSessionQuestions?sessionId=
func (h *PollHandler) GetSessionQuestions(c *gin.Context) {
	var q sessionQuery
	if fields := bindQuery(c, &q); fields != nil {
		failWithFields(c, fields)
		return
	}
	questions, err := h.service.SessionQuestionsForViewer(c.Request.Context(), q.SessionID, userIDFrom(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sessionQuestionsResponse{SessionID: q.SessionID, Questions: questions})
}

// SubmitResponse godoc
// POST /api/v1/submitResponse
func (h *PollHandler) SubmitResponse(c *gin.Context) {
	var req submitRequest
	if fields := bindJSON(c, &req); fields != nil {
		failWithFields(c, fields)
		return
	}
	result, err := h.service.SubmitResponse(c.Request.Context(), userIDFrom(c), req.QuestionID, req.OptionIDs)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, submitResponse{Success: true, Responses: result.Responses})
}

// GetResponseCounts godoc
// GET /api/v1/getResponseCounts?questionId=
func (h *PollHandler) GetResponseCounts(c *gin.Context) {
	var q questionQuery
	if fields := bindQuery(c, &q); fields != nil {
		failWithFields(c, fields)
		return
	}
	counts, err := h.service.GetResponseCounts(c.Request.Context(), q.QuestionID, userIDFrom(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// SetActiveQuestion godoc
// PATCH /api/v1/sessions/:sessionId/setActiveQuestion
func (h *PollHandler) SetActiveQuestion(c *gin.Context) {
	sessionID, ok := h.pathID(c, "sessionId")
	if !ok {
		return
	}
	var req setActiveRequest
	if fields := bindJSON(c, &req); fields != nil {
		failWithFields(c, fields)
		return
	}
	session, err := h.service.SetActiveQuestion(c.Request.Context(), sessionID, req.ActiveQuestionID, userIDFrom(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// CreateWildcardQuestion godoc
// POST /api/v1/sessions/:sessionId/createWildcardQuestion
func (h *PollHandler) CreateWildcardQuestion(c *gin.Context) {
	sessionID, ok := h.pathID(c, "sessionId")
	if !ok {
		return
	}
	var req wildcardRequest
	if fields := bindJSON(c, &req); fields != nil {
		failWithFields(c, fields)
		return
	}
	question, err := h.service.CreateWildcardQuestion(c.Request.Context(), sessionID, userIDFrom(c), *req.Position, domain.QuestionType(req.QuestionType))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, question)
}

// AdvanceQuestion godoc
// POST /api/v1/sessions/:sessionId/advance
func (h *PollHandler) AdvanceQuestion(c *gin.Context) {
	sessionID, ok := h.pathID(c, "sessionId")
	if !ok {
		return
	}
	session, err := h.service.AdvanceQuestion(c.Request.Context(), sessionID, userIDFrom(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// EndSession godoc
// POST /api/v1/sessions/:sessionId/end
func (h *PollHandler) EndSession(c *gin.Context) {
	sessionID, ok := h.pathID(c, "sessionId")
	if !ok {
		return
	}
	session, err := h.service.EndSession(c.Request.Context(), sessionID, userIDFrom(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetPresence godoc
// GET /api/v1/sessions/:sessionId/presence
func (h *PollHandler) GetPresence(c *gin.Context) {
	sessionID, ok := h.pathID(c, "sessionId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	lecturer, err := h.service.IsLecturer(ctx, sessionID, userIDFrom(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if !lecturer {
		fail(c, h.log, fmt.Errorf("%w: presence is visible to the lecturer only", domain.ErrUnauthorized))
		return
	}

	resp := presenceResponse{SessionID: sessionID, Subscribers: h.hub.Count(sessionID)}
	if h.presence != nil {
		n, err := h.presence.Count(ctx, sessionID)
		if err != nil {
			fail(c, h.log, err)
			return
		}
		resp.Connected = n
	}
	c.JSON(http.StatusOK, resp)
}

// OpenSession godoc
// POST /api/v1/courses/:courseId/sessions
func (h *PollHandler) OpenSession(c *gin.Context) {
	courseID, ok := h.pathID(c, "courseId")
	if !ok {
		return
	}
	session, err := h.service.OpenSession(c.Request.Context(), courseID, userIDFrom(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// CreateQuestion godoc
// POST /api/v1/courses/:courseId/questions
func (h *PollHandler) CreateQuestion(c *gin.Context) {
	courseID, ok := h.pathID(c, "courseId")
	if !ok {
		return
	}
	var req createQuestionRequest
	if fields := bindJSON(c, &req); fields != nil {
		failWithFields(c, fields)
		return
	}

	nq := domain.NewQuestion{Text: req.Text, Type: domain.QuestionType(req.Type)}
	for _, opt := range req.Options {
		nq.Options = append(nq.Options, domain.NewOption{Text: opt.Text, IsCorrect: opt.IsCorrect})
	}
	question, err := h.service.CreateQuestion(c.Request.Context(), courseID, userIDFrom(c), nq)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, question)
}

func (h *PollHandler) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		failWithFields(c, map[string]string{name: "must be a positive integer"})
		return 0, false
	}
	return id, true
}
