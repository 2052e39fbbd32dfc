package engine

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moedor-live/backend/pkg/database"
)

// PaymentRepository records approved payments in the donations table. The
// unique transaction_id makes each payment claimable once.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a payment ledger backed by PostgreSQL.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Claim inserts p and reports false when its payment id is already stored.
func (r *PaymentRepository) Claim(ctx context.Context, p PurchaseApproved) (bool, error) {
	const q = `INSERT INTO donations (session_id, transaction_id, buyer_name, buyer_email, amount_cents, kind, status)
		VALUES ((SELECT id FROM live_sessions WHERE ended_at IS NULL), $1, $2, $3, $4, $5, 'approved')
		ON CONFLICT (transaction_id) DO NOTHING`
	kind := strings.ToLower(p.DonationType)
	if kind == "" {
		kind = DonationSubscription
	}
	tag, err := r.pool.Exec(ctx, q,
		p.PaymentID,
		truncate(p.BuyerName, 100),
		truncate(strings.ToLower(strings.TrimSpace(p.BuyerEmail)), 255),
		p.AmountCents,
		truncate(kind, 32))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release forgets a claim whose handling failed.
func (r *PaymentRepository) Release(ctx context.Context, paymentID string) error {
	const q = `DELETE FROM donations WHERE transaction_id = $1`
	_, err := r.pool.Exec(ctx, q, paymentID)
	return err
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
