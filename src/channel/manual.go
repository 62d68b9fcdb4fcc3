// Package channel holds the external disbursement channels the ledger can
// pay out through.
package channel

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"fundflow-server/src/ledger"
)

// Manual records a payout an admin made outside the system, such as a
// cash handover or a bank transfer keyed in by hand. It settles at once.
type Manual struct {
	fee int64
}

func NewManual(fee int64) *Manual {
	return &Manual{fee: fee}
}

func (m *Manual) Name() string {
	return "manual"
}

func (m *Manual) Initiate(ctx context.Context, req ledger.DisbursementRequest) (ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, err
	}
	if req.Amount <= 0 {
		return ledger.Receipt{}, fmt.Errorf("manual payout amount must be positive, got %d", req.Amount)
	}
	return ledger.Receipt{
		Ref:     "manual-" + uuid.NewString(),
		Settled: true,
		Fee:     m.fee,
	}, nil
}
