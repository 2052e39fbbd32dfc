package polls

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/moedor-live/backend/internal/middleware"
	"github.com/moedor-live/backend/pkg/response"
)

// CreateRequest is the body for POST /polls.
type CreateRequest struct {
	Prompt          string   `json:"prompt" binding:"required"`
	Options         []string `json:"options" binding:"required"`
	DurationMinutes int      `json:"duration_minutes"`
}

// VoteRequest is the body for POST /polls/:id/vote.
type VoteRequest struct {
	OptionID uuid.UUID `json:"option_id" binding:"required"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler creates a polls handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Create handles POST /polls (operator).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = int(DefaultLength / time.Minute)
	}
	s, err := h.engine.Create(c.Request.Context(), CreateParams{
		Prompt:   req.Prompt,
		Options:  req.Options,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
		Origin:   OriginManual,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, s)
}

// Vote handles POST /polls/:id/vote (viewer).
func (h *Handler) Vote(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: option_id is required")
		return
	}
	upd, err := h.engine.Vote(c.Request.Context(), pollID, middleware.UserID(c), req.OptionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, upd)
}

// Close handles POST /polls/:id/close (operator).
func (h *Handler) Close(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	s, err := h.engine.Close(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// Active handles GET /polls/active.
func (h *Handler) Active(c *gin.Context) {
	response.OK(c, h.engine.Active())
}

// Results handles GET /polls/:id/results.
func (h *Handler) Results(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	s, err := h.engine.Results(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// History handles GET /polls/history?limit=20.
func (h *Handler) History(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		response.BadRequest(c, "limit must be between 1 and 100")
		return
	}
	list, err := h.engine.History(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}
