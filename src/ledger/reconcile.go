package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"fundflow-server/src/models"
)

type ReconcileReport struct {
	Checked      int `json:"checked"`
	Settled      int `json:"settled"`
	Failed       int `json:"failed"`
	StillPending int `json:"still_pending"`
	Errors       int `json:"errors"`
}

// Reconcile resolves disbursements that have been PENDING for longer than
// window. Channels that support lookups are asked first; anything they cannot
// resolve, or that stays pending past twice the window, is failed so its
// reservation is released and an admin is told.
func (s *Service) Reconcile(ctx context.Context, window time.Duration, actor models.Actor) (ReconcileReport, error) {
	var report ReconcileReport
	if err := Authorize(actor, CapReconcile, nil); err != nil {
		return report, err
	}
	if window <= 0 {
		return report, fmt.Errorf("%w: reconcile window must be positive", ErrInvalidInput)
	}
	now := s.now()
	var stale []models.Transaction
	if err := s.read(ctx, func(tx Tx) error {
		var err error
		stale, err = tx.ListStalePending(ctx, now.Add(-window))
		return err
	}); err != nil {
		return report, err
	}

	for _, t := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		if lookup, ok := s.channels[t.Method].(SettlementLookup); ok && t.ChannelRef != "" {
			st, err := lookup.Lookup(ctx, t.ChannelRef)
			if err != nil {
				log.Printf("WARN: lookup of %s ref %s failed: %v", t.Method, t.ChannelRef, err)
			} else if st.Outcome != models.TxnStatusPending {
				if _, err := s.Settle(ctx, SettleInput{
					Method: t.Method, ChannelRef: t.ChannelRef, SettlementID: st.ID, Outcome: st.Outcome, Note: st.Note,
				}, actor); err != nil {
					report.Errors++
					continue
				}
				report.Settled++
				continue
			}
			if t.CreatedAt.After(now.Add(-2 * window)) {
				report.StillPending++
				continue
			}
		}

		reason := fmt.Sprintf("no settlement from %s within %s", t.Method, window)
		if _, err := s.finish(ctx, t.ID, "", models.TxnStatusFailed, reason, 0, actor); err != nil {
			log.Printf("ERROR: could not fail stale disbursement %d: %v", t.ID, err)
			report.Errors++
			continue
		}
		report.Failed++
	}
	log.Printf("INFO: reconcile checked %d, settled %d, failed %d, pending %d, errors %d",
		report.Checked, report.Settled, report.Failed, report.StillPending, report.Errors)
	return report, nil
}

// RunReconciler reconciles every interval until ctx is done.
func (s *Service) RunReconciler(ctx context.Context, interval, window time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx, window, models.SystemActor); err != nil && ctx.Err() == nil {
				log.Printf("ERROR: reconcile pass failed: %v", err)
			}
		}
	}
}
