package ledger

import (
	"context"

	"fundflow-server/src/models"
)

// position is a budget's money state recomputed from ledger rows. Nothing in
// it is ever read from a stored counter.
type position struct {
	allocated    int64
	totals       models.LedgerTotals
	approvedSupp int64
	pendingSupp  int64
	spent        int64
	perItem      map[int64]int64
}

func loadPosition(ctx context.Context, tx Tx, b *models.Budget) (position, error) {
	p := position{allocated: b.AllocatedAmount}
	var err error
	if p.totals, err = tx.LedgerTotals(ctx, b.ID); err != nil {
		return p, err
	}
	supps, err := tx.ListSupplementaries(ctx, b.ID)
	if err != nil {
		return p, err
	}
	for _, sb := range supps {
		switch sb.Status {
		case models.SupplementaryApproved:
			p.approvedSupp += sb.Amount
		case models.SupplementaryPending:
			p.pendingSupp += sb.Amount
		}
	}
	if p.spent, p.perItem, err = tx.SpentTotals(ctx, b.ID); err != nil {
		return p, err
	}
	return p, nil
}

// effective is the allocation ceiling: the approved allocation plus every
// approved supplementary.
func (p position) effective() int64 {
	return p.allocated + p.approvedSupp
}

func (p position) disbursed() int64 {
	return p.totals.Net()
}

// headroom is what may still be disbursed. In-flight disbursements hold
// their amount until they settle or fail.
func (p position) headroom() int64 {
	return p.effective() - p.disbursed() - p.totals.Pending
}

// uncovered is spend that neither the effective allocation nor a pending
// supplementary request accounts for.
func (p position) uncovered() int64 {
	if over := p.spent - p.effective() - p.pendingSupp; over > 0 {
		return over
	}
	return 0
}

// disbursing reports whether a budget in status follows its ledger.
func disbursing(status string) bool {
	switch status {
	case models.StatusApproved, models.StatusPartiallyDisbursed, models.StatusDisbursed:
		return true
	}
	return false
}

func derivedStatus(p position) string {
	d := p.disbursed()
	switch {
	case d <= 0:
		return models.StatusApproved
	case d >= p.effective():
		return models.StatusDisbursed
	default:
		return models.StatusPartiallyDisbursed
	}
}

// syncStatus moves a disbursing budget to the status its ledger implies and
// reports whether it changed.
func syncStatus(ctx context.Context, tx Tx, b *models.Budget, p position) (string, bool, error) {
	if !disbursing(b.Status) {
		return b.Status, false, nil
	}
	next := derivedStatus(p)
	if next == b.Status {
		return b.Status, false, nil
	}
	prev := b.Status
	b.Status = next
	if err := tx.UpdateBudget(ctx, b); err != nil {
		return prev, false, err
	}
	return prev, true, nil
}
