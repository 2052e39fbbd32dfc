package session

import (
	"github.com/gin-gonic/gin"

	"github.com/moedor-live/backend/pkg/response"
)

// StartRequest is the body for POST /sessions.
type StartRequest struct {
	Title string `json:"title"`
}

// Handler handles session HTTP endpoints (operator only).
type Handler struct {
	mgr *Manager
}

// NewHandler creates a session handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

// Start handles POST /sessions.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	snap, err := h.mgr.Start(c.Request.Context(), req.Title)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, snap)
}

// End handles POST /sessions/current/end.
func (h *Handler) End(c *gin.Context) {
	snap, err := h.mgr.End(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}

// Current handles GET /sessions/current.
func (h *Handler) Current(c *gin.Context) {
	snap, err := h.mgr.Snapshot()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}
