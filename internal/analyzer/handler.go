package analyzer

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/moedor-live/backend/pkg/response"
)

// Handler exposes transcript analysis to operators.
type Handler struct {
	analyzer *Analyzer
}

// NewHandler creates an analyzer handler.
func NewHandler(a *Analyzer) *Handler {
	return &Handler{analyzer: a}
}

// Preview handles POST /analyzer/preview: classify without opening a poll.
func (h *Handler) Preview(c *gin.Context) {
	var t Transcript
	if err := c.ShouldBindJSON(&t); err != nil || t.Text == "" {
		response.BadRequest(c, "text is required")
		return
	}
	f, ok := h.analyzer.Preview(t)
	if !ok {
		response.OK(c, gin.H{"match": false})
		return
	}
	response.OK(c, gin.H{"match": true, "finding": f, "options": buildOptions(f)})
}

// Recent handles GET /transcripts?limit=20.
func (h *Handler) Recent(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		response.BadRequest(c, "limit must be between 1 and 100")
		return
	}
	list, err := h.analyzer.Recent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}
