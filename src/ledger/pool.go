package ledger

import (
	"context"
	"fmt"
	"log"

	"fundflow-server/src/models"
)

func (s *Service) Pool(ctx context.Context, actor models.Actor) (models.FundPool, error) {
	if err := Authorize(actor, CapViewPool, nil); err != nil {
		return models.FundPool{}, err
	}
	var pool models.FundPool
	err := s.read(ctx, func(tx Tx) error {
		var err error
		pool, err = tx.GetPool(ctx)
		return err
	})
	return pool, err
}

// AdjustPool deposits (positive delta) into or withdraws from the fund pool.
// The balance never goes below zero.
func (s *Service) AdjustPool(ctx context.Context, delta int64, note string, actor models.Actor) (models.FundPool, error) {
	if err := Authorize(actor, CapAdjustPool, nil); err != nil {
		return models.FundPool{}, err
	}
	if delta == 0 {
		return models.FundPool{}, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidAmount)
	}
	var pool models.FundPool
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		balance, ok, err := tx.AdjustPool(ctx, delta)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: withdrawing %s would overdraw the fund pool (balance %s)",
				ErrInsufficientBalance, s.display(-delta), s.display(balance))
		}
		if err := s.record(ctx, tx, "pool.adjusted", "fund_pool", 1, actor, map[string]any{
			"delta": delta, "balance": balance, "note": note,
		}); err != nil {
			return err
		}
		pool, err = tx.GetPool(ctx)
		return err
	})
	if err != nil {
		log.Printf("ERROR: admin %d could not adjust pool by %d: %v", actor.ID, delta, err)
		return models.FundPool{}, err
	}
	log.Printf("INFO: admin %d adjusted pool by %d, balance %d", actor.ID, delta, pool.Balance)
	return pool, nil
}
