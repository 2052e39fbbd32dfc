package engine

import (
	"math"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/analyzer"
	"github.com/moedor-live/backend/pkg/response"
)

// Purchase statuses accepted by the purchase webhook.
const (
	StatusApproved = "approved"
	StatusCanceled = "canceled"
)

// PurchasePayload is the normalized body for POST /webhooks/purchase.
type PurchasePayload struct {
	PaymentID    string  `json:"payment_id"`
	Status       string  `json:"status" binding:"required"`
	BuyerEmail   string  `json:"buyer_email"`
	BuyerName    string  `json:"buyer_name"`
	Amount       float64 `json:"amount"`
	DonationType string  `json:"donation_type"`
	Reason       string  `json:"reason"`
}

// TranscriptionPayload is the body for POST /webhooks/transcription.
type TranscriptionPayload struct {
	Text      string             `json:"text" binding:"required"`
	Timestamp *time.Time         `json:"timestamp"`
	Segments  []analyzer.Segment `json:"segments"`
}

// WebhookHandler turns collaborator webhooks into inbound events.
type WebhookHandler struct {
	router *Router
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(router *Router, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{router: router, logger: logger}
}

// Purchase handles POST /webhooks/purchase.
func (h *WebhookHandler) Purchase(c *gin.Context) {
	var body PurchasePayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var ev Event
	switch strings.ToLower(body.Status) {
	case StatusApproved:
		if body.Amount < 0 {
			response.BadRequest(c, "amount must not be negative")
			return
		}
		ev = PurchaseApproved{
			PaymentID:    body.PaymentID,
			BuyerEmail:   body.BuyerEmail,
			BuyerName:    body.BuyerName,
			AmountCents:  int64(math.Round(body.Amount * 100)),
			DonationType: body.DonationType,
			At:           time.Now(),
		}
	case StatusCanceled, "cancelled", "rejected", "refunded":
		reason := body.Reason
		if reason == "" {
			reason = body.Status
		}
		ev = PurchaseCanceled{PaymentID: body.PaymentID, BuyerEmail: body.BuyerEmail, Reason: reason}
	default:
		h.logger.Info("purchase webhook ignored", zap.String("status", body.Status), zap.String("payment_id", body.PaymentID))
		response.OK(c, gin.H{"ignored": true})
		return
	}
	if err := h.router.Submit(c.Request.Context(), ev); err != nil {
		response.ServiceUnavailable(c, "event backlog full")
		return
	}
	response.Accepted(c, gin.H{"event": ev.kind()})
}

// Transcription handles POST /webhooks/transcription.
func (h *WebhookHandler) Transcription(c *gin.Context) {
	var body TranscriptionPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	t := analyzer.Transcript{Text: body.Text, SpokenAt: time.Now(), Segments: body.Segments}
	if body.Timestamp != nil {
		t.SpokenAt = *body.Timestamp
	}
	if err := h.router.Submit(c.Request.Context(), TranscriptReceived{Transcript: t}); err != nil {
		response.ServiceUnavailable(c, "event backlog full")
		return
	}
	response.Accepted(c, gin.H{"event": "transcript"})
}
