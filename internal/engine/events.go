// Package engine connects the inbound collaborators (payments, transcription,
// viewer sockets) to the live-show services.
package engine

import (
	"strings"
	"time"

	"github.com/moedor-live/backend/internal/analyzer"
)

// Donation types carried by purchase events.
const (
	DonationEmbarrassing = "embarrassing"
	DonationFree         = "free"
	DonationSubscription = "subscription"
)

// Event is an inbound event consumed by Router.Run.
type Event interface {
	kind() string
}

// PurchaseApproved is a payment or subscription that went through.
type PurchaseApproved struct {
	PaymentID    string
	BuyerEmail   string
	BuyerName    string
	AmountCents  int64
	DonationType string
	At           time.Time
}

// PurchaseCanceled is a refused, canceled or refunded payment.
type PurchaseCanceled struct {
	PaymentID  string
	BuyerEmail string
	Reason     string
}

// TranscriptReceived is a piece of speech from the transcription relay.
type TranscriptReceived struct {
	Transcript analyzer.Transcript
}

func (PurchaseApproved) kind() string   { return "purchase_approved" }
func (PurchaseCanceled) kind() string   { return "purchase_canceled" }
func (TranscriptReceived) kind() string { return "transcript" }

// displayName is how a buyer is announced on air.
func (p PurchaseApproved) displayName() string {
	if n := strings.TrimSpace(p.BuyerName); n != "" {
		return n
	}
	if at := strings.IndexByte(p.BuyerEmail, '@'); at > 0 {
		return p.BuyerEmail[:at]
	}
	return ""
}
