package stunts

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/moedor-live/backend/pkg/response"
)

// TriggerRequest is the body for POST /stunts.
type TriggerRequest struct {
	UserName string `json:"user_name"`
}

// TruthRequest is the body for POST /truths.
type TruthRequest struct {
	TargetMember string `json:"target_member" binding:"required"`
	Content      string `json:"content" binding:"required"`
}

// Handler handles stunt HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a stunts handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Trigger handles POST /stunts (operator): queue a stunt outside the payment flow.
func (h *Handler) Trigger(c *gin.Context) {
	var req TriggerRequest
	_ = c.ShouldBindJSON(&req)
	acc, err := h.svc.Request(c.Request.Context(), req.UserName)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, acc)
}

// Stats handles GET /stunts/stats.
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

// Recent handles GET /stunts/recent?limit=10 (overlay, operator).
func (h *Handler) Recent(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 || limit > 100 {
		response.BadRequest(c, "limit must be between 1 and 100")
		return
	}
	list, err := h.svc.Recent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// AddTruth handles POST /truths (operator).
func (h *Handler) AddTruth(c *gin.Context) {
	var req TruthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	t, err := h.svc.AddTruth(c.Request.Context(), req.TargetMember, req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, t)
}

// Truths handles GET /truths (operator).
func (h *Handler) Truths(c *gin.Context) {
	list, err := h.svc.Truths(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}
