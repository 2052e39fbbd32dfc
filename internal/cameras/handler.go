package cameras

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/moedor-live/backend/pkg/response"
)

const streamBoundary = "frame"

// Handler handles camera HTTP endpoints.
type Handler struct {
	mgr *Manager
}

// NewHandler creates a cameras handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func cameraID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid camera id")
		return uuid.Nil, false
	}
	return id, true
}

// List handles GET /cameras.
func (h *Handler) List(c *gin.Context) {
	list, err := h.mgr.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if list == nil {
		list = []Camera{}
	}
	response.OK(c, list)
}

// Create handles POST /cameras.
func (h *Handler) Create(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	cam, err := h.mgr.Create(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cam)
}

// Update handles PUT /cameras/:id.
func (h *Handler) Update(c *gin.Context) {
	id, ok := cameraID(c)
	if !ok {
		return
	}
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	cam, err := h.mgr.Update(c.Request.Context(), id, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, cam)
}

// Delete handles DELETE /cameras/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := cameraID(c)
	if !ok {
		return
	}
	if err := h.mgr.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"deleted": true})
}

// Start handles POST /cameras/:id/start.
func (h *Handler) Start(c *gin.Context) {
	id, ok := cameraID(c)
	if !ok {
		return
	}
	if err := h.mgr.Start(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"camera_id": id, "streaming": true})
}

// Stop handles POST /cameras/:id/stop.
func (h *Handler) Stop(c *gin.Context) {
	id, ok := cameraID(c)
	if !ok {
		return
	}
	was := h.mgr.Stop(id)
	response.OK(c, gin.H{"camera_id": id, "streaming": false, "was_running": was})
}

// StartAll handles POST /cameras/start-all.
func (h *Handler) StartAll(c *gin.Context) {
	n, err := h.mgr.StartAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"started": n})
}

// StopAll handles POST /cameras/stop-all.
func (h *Handler) StopAll(c *gin.Context) {
	response.OK(c, gin.H{"stopped": h.mgr.StopAll()})
}

// Status handles GET /cameras/status.
func (h *Handler) Status(c *gin.Context) {
	ov, err := h.mgr.Status(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ov)
}

// Snapshot handles GET /cameras/:id/snapshot.
func (h *Handler) Snapshot(c *gin.Context) {
	id, ok := cameraID(c)
	if !ok {
		return
	}
	data, err := h.mgr.Snapshot(id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Stream handles GET /cameras/:id/stream as multipart MJPEG.
func (h *Handler) Stream(c *gin.Context) {
	id, ok := cameraID(c)
	if !ok {
		return
	}
	frames, err := h.mgr.Stream(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	c.Header("Cache-Control", "no-cache, no-store")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	// lift the server write timeout for this long-lived response
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})
	c.Stream(func(w io.Writer) bool {
		data, ok := <-frames
		if !ok {
			return false
		}
		return writePart(w, data) == nil
	})
}

func writePart(w io.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
