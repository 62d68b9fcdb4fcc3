package ledger

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"math"
	"slices"
	"strings"

	"fundflow-server/src/models"
)

type ItemInput struct {
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
}

type BudgetInput struct {
	Title           string
	Description     string
	Priority        string
	RequestedAmount int64
	Items           []ItemInput
	Submit          bool
}

// normalize validates the input and returns the requested amount it implies.
func (in *BudgetInput) normalize() (int64, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return 0, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	in.Priority = strings.ToUpper(in.Priority)
	if !models.ValidPriority(in.Priority) {
		return 0, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}
	if len(in.Items) == 0 {
		if in.RequestedAmount <= 0 {
			return 0, fmt.Errorf("%w: requested amount must be positive", ErrInvalidAmount)
		}
		return in.RequestedAmount, nil
	}
	var total int64
	for i, item := range in.Items {
		if strings.TrimSpace(item.Name) == "" {
			return 0, fmt.Errorf("%w: item %d has no name", ErrInvalidInput, i+1)
		}
		if item.UnitPrice <= 0 || item.Quantity <= 0 {
			return 0, fmt.Errorf("%w: item %q needs a positive unit price and quantity", ErrInvalidAmount, item.Name)
		}
		if item.UnitPrice > math.MaxInt64/item.Quantity {
			return 0, fmt.Errorf("%w: item %q amount is too large", ErrInvalidAmount, item.Name)
		}
		amount := item.UnitPrice * item.Quantity
		if total > math.MaxInt64-amount {
			return 0, fmt.Errorf("%w: items total is too large", ErrInvalidAmount)
		}
		total += amount
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w: requested amount must be positive", ErrInvalidAmount)
	}
	if in.RequestedAmount != 0 && in.RequestedAmount != total {
		return 0, fmt.Errorf("%w: requested amount %d does not match the items total %d", ErrInvalidAmount, in.RequestedAmount, total)
	}
	return total, nil
}

func itemRows(in []ItemInput) []models.BudgetItem {
	rows := make([]models.BudgetItem, 0, len(in))
	for _, item := range in {
		rows = append(rows, models.BudgetItem{
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return rows
}

func (s *Service) CreateBudget(ctx context.Context, in BudgetInput, actor models.Actor) (*models.BudgetSummary, error) {
	if err := Authorize(actor, CapCreateBudget, nil); err != nil {
		return nil, err
	}
	requested, err := in.normalize()
	if err != nil {
		return nil, err
	}

	var summary *models.BudgetSummary
	err = s.commit(ctx, func(tx Tx, out *outbox) error {
		b := &models.Budget{
			OwnerID:         actor.ID,
			Title:           in.Title,
			Description:     in.Description,
			Currency:        s.currency,
			Priority:        in.Priority,
			Status:          models.StatusDraft,
			RequestedAmount: requested,
		}
		if in.Submit {
			b.Status = models.StatusPending
		}
		if err := tx.InsertBudget(ctx, b); err != nil {
			return err
		}
		if _, err := tx.ReplaceBudgetItems(ctx, b.ID, itemRows(in.Items)); err != nil {
			return err
		}
		if err := s.record(ctx, tx, "budget.created", "budget", b.ID, actor, map[string]any{
			"status":           b.Status,
			"priority":         b.Priority,
			"requested_amount": b.RequestedAmount,
			"items":            len(in.Items),
		}); err != nil {
			return err
		}
		if b.Status == models.StatusPending {
			out.notify(s.admins(ctx, tx), "Budget submitted",
				fmt.Sprintf("%q requests %s", b.Title, s.display(b.RequestedAmount)),
				"budget_submitted", map[string]any{"budget_id": b.ID, "priority": b.Priority})
		}
		out.touch(b.ID)
		summary, err = buildSummary(ctx, tx, b)
		return err
	})
	if err != nil {
		log.Printf("ERROR: user %d could not create budget: %v", actor.ID, err)
		return nil, err
	}
	log.Printf("INFO: user %d created budget %d (%s)", actor.ID, summary.Budget.ID, summary.Budget.Status)
	return summary, nil
}

// UpdateBudget lets the owner edit a budget that has not been decided yet.
// Any open revision requests count as addressed by the edit.
func (s *Service) UpdateBudget(ctx context.Context, budgetID int64, in BudgetInput, actor models.Actor) (*models.BudgetSummary, error) {
	requested, err := in.normalize()
	if err != nil {
		return nil, err
	}

	var summary *models.BudgetSummary
	err = s.commit(ctx, func(tx Tx, out *outbox) error {
		b, err := tx.LockBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, CapEditBudget, b); err != nil {
			return err
		}
		if b.Status != models.StatusDraft && b.Status != models.StatusPending {
			return fmt.Errorf("%w: budget %d is %s and can no longer be edited", ErrInvalidTransition, b.ID, b.Status)
		}
		before := map[string]any{"title": b.Title, "priority": b.Priority, "requested_amount": b.RequestedAmount}
		b.Title = in.Title
		b.Description = in.Description
		b.Priority = in.Priority
		b.RequestedAmount = requested
		if err := tx.UpdateBudget(ctx, b); err != nil {
			return err
		}
		if _, err := tx.ReplaceBudgetItems(ctx, b.ID, itemRows(in.Items)); err != nil {
			return err
		}
		if err := tx.AddressRevisions(ctx, b.ID, s.now()); err != nil {
			return err
		}
		if err := s.record(ctx, tx, "budget.updated", "budget", b.ID, actor, map[string]any{
			"before": before,
			"after":  map[string]any{"title": b.Title, "priority": b.Priority, "requested_amount": b.RequestedAmount},
		}); err != nil {
			return err
		}
		if b.Status == models.StatusPending {
			out.notify(s.admins(ctx, tx), "Budget revised",
				fmt.Sprintf("%q was updated and now requests %s", b.Title, s.display(b.RequestedAmount)),
				"budget_updated", map[string]any{"budget_id": b.ID})
		}
		out.touch(b.ID)
		summary, err = buildSummary(ctx, tx, b)
		return err
	})
	if err != nil {
		log.Printf("ERROR: user %d could not update budget %d: %v", actor.ID, budgetID, err)
		return nil, err
	}
	log.Printf("INFO: user %d updated budget %d", actor.ID, budgetID)
	return summary, nil
}

func (s *Service) SubmitBudget(ctx context.Context, budgetID int64, actor models.Actor) (*models.Budget, error) {
	var result *models.Budget
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		b, err := tx.LockBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, CapEditBudget, b); err != nil {
			return err
		}
		if b.Status != models.StatusDraft {
			return fmt.Errorf("%w: budget %d is %s, only drafts can be submitted", ErrInvalidTransition, b.ID, b.Status)
		}
		b.Status = models.StatusPending
		if err := tx.UpdateBudget(ctx, b); err != nil {
			return err
		}
		if err := s.record(ctx, tx, "budget.submitted", "budget", b.ID, actor, map[string]any{
			"from": models.StatusDraft, "to": models.StatusPending,
		}); err != nil {
			return err
		}
		out.notify(s.admins(ctx, tx), "Budget submitted",
			fmt.Sprintf("%q requests %s", b.Title, s.display(b.RequestedAmount)),
			"budget_submitted", map[string]any{"budget_id": b.ID, "priority": b.Priority})
		out.touch(b.ID)
		result = b
		return nil
	})
	if err != nil {
		log.Printf("ERROR: user %d could not submit budget %d: %v", actor.ID, budgetID, err)
		return nil, err
	}
	log.Printf("INFO: user %d submitted budget %d", actor.ID, budgetID)
	return result, nil
}

// DeleteBudget removes a draft that nothing refers to yet.
func (s *Service) DeleteBudget(ctx context.Context, budgetID int64, actor models.Actor) error {
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		b, err := tx.LockBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, CapEditBudget, b); err != nil {
			return err
		}
		if b.Status != models.StatusDraft {
			return fmt.Errorf("%w: budget %d is %s, only drafts can be deleted", ErrInvalidTransition, b.ID, b.Status)
		}
		dependents, err := tx.HasDependents(ctx, b.ID)
		if err != nil {
			return err
		}
		if dependents {
			return fmt.Errorf("%w: budget %d has ledger records attached", ErrInvalidTransition, b.ID)
		}
		if err := tx.DeleteBudget(ctx, b.ID); err != nil {
			return err
		}
		out.touch(b.ID)
		return s.record(ctx, tx, "budget.deleted", "budget", b.ID, actor, map[string]any{
			"title": b.Title, "requested_amount": b.RequestedAmount,
		})
	})
	if err != nil {
		log.Printf("ERROR: user %d could not delete budget %d: %v", actor.ID, budgetID, err)
		return err
	}
	log.Printf("INFO: user %d deleted budget %d", actor.ID, budgetID)
	return nil
}

// Summary returns the read model for one budget, from the cache when one is
// configured.
func (s *Service) Summary(ctx context.Context, budgetID int64, actor models.Actor) (*models.BudgetSummary, error) {
	load := func(ctx context.Context) (*models.BudgetSummary, error) {
		var summary *models.BudgetSummary
		err := s.read(ctx, func(tx Tx) error {
			b, err := tx.GetBudget(ctx, budgetID)
			if err != nil {
				return err
			}
			summary, err = buildSummary(ctx, tx, b)
			return err
		})
		return summary, err
	}
	var (
		summary *models.BudgetSummary
		err     error
	)
	if s.cache != nil {
		summary, err = s.cache.Get(ctx, budgetID, load)
	} else {
		summary, err = load(ctx)
	}
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, CapViewBudget, &summary.Budget); err != nil {
		return nil, err
	}
	return summary, nil
}

func buildSummary(ctx context.Context, tx Tx, b *models.Budget) (*models.BudgetSummary, error) {
	p, err := loadPosition(ctx, tx, b)
	if err != nil {
		return nil, err
	}
	sum := &models.BudgetSummary{
		Budget:              *b,
		Disbursed:           p.disbursed(),
		PendingDisbursement: p.totals.Pending,
		Spent:               p.spent,
		ApprovedSupplement:  p.approvedSupp,
		EffectiveAllocation: p.effective(),
		UncoveredOverspend:  p.uncovered(),
	}
	if disbursing(b.Status) {
		sum.RemainingToDisburse = max(p.headroom(), 0)
	}
	if sum.Items, err = tx.ListBudgetItems(ctx, b.ID); err != nil {
		return nil, err
	}
	if sum.Batches, err = tx.ListBatches(ctx, b.ID); err != nil {
		return nil, err
	}
	if sum.Supplementaries, err = tx.ListSupplementaries(ctx, b.ID); err != nil {
		return nil, err
	}
	if sum.Revisions, err = tx.ListRevisions(ctx, b.ID); err != nil {
		return nil, err
	}
	return sum, nil
}

// ListBudgets returns the actor's own budgets, or every budget for admins in
// queue order: priority first, then oldest first.
func (s *Service) ListBudgets(ctx context.Context, actor models.Actor, status string) ([]models.Budget, error) {
	filter := models.BudgetFilter{Status: strings.ToUpper(status)}
	if !actor.IsAdmin() {
		filter.OwnerID = ptr(actor.ID)
	}
	var budgets []models.Budget
	err := s.read(ctx, func(tx Tx) error {
		var err error
		budgets, err = tx.ListBudgets(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() {
		slices.SortStableFunc(budgets, func(a, b models.Budget) int {
			if c := cmp.Compare(models.PriorityRank(a.Priority), models.PriorityRank(b.Priority)); c != 0 {
				return c
			}
			return a.CreatedAt.Compare(b.CreatedAt)
		})
	}
	return budgets, nil
}

func (s *Service) ListTransactions(ctx context.Context, budgetID int64, actor models.Actor) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.read(ctx, func(tx Tx) error {
		b, err := tx.GetBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, CapViewBudget, b); err != nil {
			return err
		}
		txns, err = tx.ListTransactions(ctx, budgetID)
		return err
	})
	return txns, err
}

func (s *Service) ListExpenditures(ctx context.Context, budgetID int64, actor models.Actor) ([]models.Expenditure, error) {
	var exps []models.Expenditure
	err := s.read(ctx, func(tx Tx) error {
		b, err := tx.GetBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, CapViewBudget, b); err != nil {
			return err
		}
		exps, err = tx.ListExpenditures(ctx, budgetID)
		return err
	})
	return exps, err
}

func (s *Service) AuditTrail(ctx context.Context, filter models.AuditFilter, actor models.Actor) ([]models.AuditLog, error) {
	if err := Authorize(actor, CapViewAudit, nil); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	var entries []models.AuditLog
	err := s.read(ctx, func(tx Tx) error {
		var err error
		entries, err = tx.ListAudit(ctx, filter)
		return err
	})
	return entries, err
}
