package messages

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/moedor-live/backend/internal/middleware"
	"github.com/moedor-live/backend/internal/ratelimit"
	"github.com/moedor-live/backend/pkg/response"
)

// SubmitRequest is the body for POST /messages.
type SubmitRequest struct {
	Pseudonym string `json:"pseudonym"`
	Body      string `json:"body" binding:"required"`
}

// Limits are the per-minute quotas applied by the HTTP surface.
type Limits struct {
	MessagesPerMinute int
	LikesPerMinute    int
}

// Handler handles chat HTTP endpoints.
type Handler struct {
	svc     *Service
	limiter ratelimit.Limiter
	limits  Limits
}

// NewHandler creates a messages handler.
func NewHandler(svc *Service, limiter ratelimit.Limiter, limits Limits) *Handler {
	return &Handler{svc: svc, limiter: limiter, limits: limits}
}

// Submit handles POST /messages (viewer).
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := middleware.UserID(c)
	if req.Pseudonym == "" {
		req.Pseudonym = middleware.UserName(c)
	}
	if err := h.svc.Validate(req.Pseudonym, req.Body); err != nil {
		response.Error(c, err)
		return
	}
	if err := ratelimit.Enforce(c.Request.Context(), h.limiter, userID.String(), ratelimit.ActionMessage, h.limits.MessagesPerMinute); err != nil {
		response.Error(c, err)
		return
	}
	m, err := h.svc.Submit(c.Request.Context(), userID, req.Pseudonym, req.Body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, m)
}

// Like handles POST /messages/:id/like (viewer).
func (h *Handler) Like(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	userID := middleware.UserID(c)
	if err := ratelimit.Enforce(c.Request.Context(), h.limiter, userID.String(), ratelimit.ActionLike, h.limits.LikesPerMinute); err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.svc.ToggleLike(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Top handles GET /messages/top.
func (h *Handler) Top(c *gin.Context) {
	m, ok := h.svc.PeekTop()
	if !ok {
		response.OK(c, nil)
		return
	}
	response.OK(c, m)
}

// Queue handles GET /messages/queue?limit=10.
func (h *Handler) Queue(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 || limit > 100 {
		response.BadRequest(c, "limit must be between 1 and 100")
		return
	}
	response.OK(c, h.svc.Queue(limit))
}

// MarkDisplayed handles POST /messages/:id/displayed (operator).
func (h *Handler) MarkDisplayed(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	if err := h.svc.MarkDisplayed(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": id, "displayed": true})
}

// Stats handles GET /messages/stats.
func (h *Handler) Stats(c *gin.Context) {
	s, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	s.PendingMessages = h.svc.ranker.Len()
	response.OK(c, s)
}
