package storage

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"pointswap/native/exchange"
)

// PayoutQueue adapts the audit payout table to the engine's asset transfer
// interface. Settlements enqueue a payout row which the treasury operator
// settles out of band; a failed insert aborts and rolls back the settlement.
type PayoutQueue struct {
	audit   *Audit
	timeout time.Duration
}

// NewPayoutQueue wraps the audit store.
func NewPayoutQueue(audit *Audit) *PayoutQueue {
	return &PayoutQueue{audit: audit, timeout: 5 * time.Second}
}

// Transfer implements exchange.AssetTransferor.
func (q *PayoutQueue) Transfer(cfg *exchange.AssetConfig, to exchange.Address, amount *big.Int) error {
	if q == nil || q.audit == nil {
		return fmt.Errorf("payout queue not configured")
	}
	if cfg == nil {
		return fmt.Errorf("asset config required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if _, err := q.audit.EnqueuePayout(ctx, "", cfg.Symbol, to, amount); err != nil {
		return fmt.Errorf("enqueue payout: %w", err)
	}
	return nil
}
