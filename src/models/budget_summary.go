package models

// BudgetSummary is the read model for a single budget. Every total is derived
// from ledger rows at read time.
type BudgetSummary struct {
	Budget              Budget                `json:"budget"`
	Items               []BudgetItem          `json:"items"`
	Batches             []Batch               `json:"batches"`
	Supplementaries     []SupplementaryBudget `json:"supplementaries"`
	Revisions           []Revision            `json:"revisions"`
	Disbursed           int64                 `json:"disbursed"`
	PendingDisbursement int64                 `json:"pending_disbursement"`
	Spent               int64                 `json:"spent"`
	ApprovedSupplement  int64                 `json:"approved_supplement"`
	EffectiveAllocation int64                 `json:"effective_allocation"`
	RemainingToDisburse int64                 `json:"remaining_to_disburse"`
	UncoveredOverspend  int64                 `json:"uncovered_overspend"`
}
