package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/moedor-live/backend/internal/analyzer"
	"github.com/moedor-live/backend/internal/realtime"
	"github.com/moedor-live/backend/internal/stunts"
)

const defaultBacklog = 256

// Broadcaster publishes events to a room.
type Broadcaster interface {
	Publish(room, event string, payload interface{})
}

// StuntRequester queues a paid stunt.
type StuntRequester interface {
	Request(ctx context.Context, displayName string) (stunts.Accepted, error)
}

// DonationRecorder adds money to the active session.
type DonationRecorder interface {
	RecordDonation(ctx context.Context, cents int64) error
}

// PaymentLedger remembers which approved payments were already handled.
// Claim returns false when paymentID was claimed before.
type PaymentLedger interface {
	Claim(ctx context.Context, p PurchaseApproved) (bool, error)
	Release(ctx context.Context, paymentID string) error
}

// TranscriptSink analyzes speech.
type TranscriptSink interface {
	Ingest(ctx context.Context, t analyzer.Transcript) (analyzer.Outcome, error)
}

// Router consumes inbound events one at a time.
type Router struct {
	events    chan Event
	stunts    StuntRequester
	donations DonationRecorder
	payments  PaymentLedger
	speech    TranscriptSink
	bus       Broadcaster
	stats     *StatsPublisher
	logger    *zap.Logger
}

// NewRouter creates a router with a buffered inbound channel. payments may be
// nil, in which case redelivered payments are not detected.
func NewRouter(st StuntRequester, donations DonationRecorder, payments PaymentLedger, speech TranscriptSink, bus Broadcaster, stats *StatsPublisher, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		events:    make(chan Event, defaultBacklog),
		stunts:    st,
		donations: donations,
		payments:  payments,
		speech:    speech,
		bus:       bus,
		stats:     stats,
		logger:    logger,
	}
}

// Submit hands ev to the router, waiting for room in the backlog until ctx ends.
func (r *Router) Submit(ctx context.Context, ev Event) error {
	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", ev.kind(), ctx.Err())
	}
}

// Run handles events until ctx is canceled.
func (r *Router) Run(ctx context.Context) {
	r.logger.Info("inbound router started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("inbound router stopped")
			return
		case ev := <-r.events:
			if err := r.handle(ctx, ev); err != nil {
				r.logger.Warn("inbound event failed", zap.String("kind", ev.kind()), zap.Error(err))
			}
		}
	}
}

func (r *Router) handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case PurchaseApproved:
		return r.approved(ctx, e)
	case PurchaseCanceled:
		r.logger.Info("purchase canceled",
			zap.String("payment_id", e.PaymentID),
			zap.String("reason", e.Reason))
		return nil
	case TranscriptReceived:
		out, err := r.speech.Ingest(ctx, e.Transcript)
		if err != nil {
			return err
		}
		if out.Skipped != "" {
			r.logger.Debug("transcript skipped", zap.String("reason", out.Skipped))
		}
		return nil
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
}

func (r *Router) approved(ctx context.Context, p PurchaseApproved) error {
	if p.At.IsZero() {
		p.At = time.Now()
	}
	if r.payments != nil && p.PaymentID != "" {
		fresh, err := r.payments.Claim(ctx, p)
		if err != nil {
			return fmt.Errorf("claim payment %s: %w", p.PaymentID, err)
		}
		if !fresh {
			r.logger.Info("payment already processed", zap.String("payment_id", p.PaymentID))
			return nil
		}
	}

	kind := strings.ToLower(p.DonationType)
	switch kind {
	case DonationEmbarrassing:
		acc, err := r.stunts.Request(ctx, p.displayName())
		if err != nil {
			r.release(ctx, p.PaymentID)
			return fmt.Errorf("stunt for payment %s: %w", p.PaymentID, err)
		}
		r.logger.Info("stunt purchased",
			zap.String("payment_id", p.PaymentID),
			zap.String("stunt_id", acc.StuntID.String()),
			zap.Int("remaining", acc.Remaining))
	case DonationFree:
		r.bus.Publish(realtime.RoomOverlay, realtime.EventDonationApproved, map[string]interface{}{
			"amount":    float64(p.AmountCents) / 100,
			"user_name": p.displayName(),
			"type":      DonationFree,
			"timestamp": p.At,
		})
	default:
		r.bus.Publish(realtime.RoomOverlay, realtime.EventNewBuyer, map[string]interface{}{
			"email":     strings.ToLower(strings.TrimSpace(p.BuyerEmail)),
			"name":      p.displayName(),
			"timestamp": p.At,
		})
		r.stats.Publish()
		return nil
	}

	// both donation kinds count toward the money raised
	if err := r.donations.RecordDonation(ctx, p.AmountCents); err != nil {
		r.logger.Warn("record donation", zap.String("payment_id", p.PaymentID), zap.Error(err))
	}
	r.stats.Donation(p.AmountCents, kind)
	return nil
}

// release frees a payment claim so a redelivery can retry it.
func (r *Router) release(ctx context.Context, paymentID string) {
	if r.payments == nil || paymentID == "" {
		return
	}
	if err := r.payments.Release(ctx, paymentID); err != nil {
		r.logger.Warn("release payment claim", zap.String("payment_id", paymentID), zap.Error(err))
	}
}
