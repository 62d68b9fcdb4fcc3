package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fundflow-server/src/ledger"
	"fundflow-server/src/models"
)

type PayoutStore interface {
	InsertPayoutAccount(ctx context.Context, a *models.PayoutAccount) error
	ListPayoutAccounts(ctx context.Context, userID int64) ([]models.PayoutAccount, error)
	GetPayoutAccount(ctx context.Context, id int64) (*models.PayoutAccount, error)
}

func ApproveBudget(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		var req struct {
			AllocatedAmount  string   `json:"allocated_amount"`
			DisbursementType string   `json:"disbursement_type"`
			BatchAmounts     []string `json:"batch_amounts"`
			BatchCount       int      `json:"batch_count"`
			Note             string   `json:"note"`
		}
		if !decode(w, r, &req, "approve budget") {
			return
		}
		allocated, ok := amountField(w, req.AllocatedAmount, "allocated_amount", svc.Currency())
		if !ok {
			return
		}
		batches, err := parseAmounts(req.BatchAmounts, svc.Currency())
		if err != nil {
			http.Error(w, "invalid batch_amounts: "+err.Error(), http.StatusUnprocessableEntity)
			return
		}

		budget, err := svc.Approve(r.Context(), budgetID, ledger.ApprovalInput{
			AllocatedAmount:  allocated,
			DisbursementType: req.DisbursementType,
			BatchAmounts:     batches,
			BatchCount:       req.BatchCount,
			Note:             req.Note,
		}, actor)
		if err != nil {
			writeError(w, err, "approve budget")
			return
		}
		writeJSON(w, http.StatusOK, budget)
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func RejectBudget(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		var req reasonRequest
		if !decode(w, r, &req, "reject budget") {
			return
		}
		budget, err := svc.Reject(r.Context(), budgetID, req.Reason, actor)
		if err != nil {
			writeError(w, err, "reject budget")
			return
		}
		writeJSON(w, http.StatusOK, budget)
	}
}

func RequestRevision(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		var req reasonRequest
		if !decode(w, r, &req, "request revision") {
			return
		}
		revision, err := svc.RequestRevision(r.Context(), budgetID, req.Reason, actor)
		if err != nil {
			writeError(w, err, "request revision")
			return
		}
		writeJSON(w, http.StatusCreated, revision)
	}
}

// Disburse pays out part of a budget. For the plaid channel the destination
// must be a payout account linked by the budget's owner.
func Disburse(svc *ledger.Service, payouts PayoutStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		var req struct {
			Amount      string `json:"amount"`
			Method      string `json:"method"`
			Destination string `json:"destination"`
		}
		if !decode(w, r, &req, "disburse") {
			return
		}
		amount, ok := amountField(w, req.Amount, "amount", svc.Currency())
		if !ok {
			return
		}

		if req.Method == "plaid" {
			if !payoutBelongsToOwner(w, r, svc, payouts, budgetID, req.Destination, actor) {
				return
			}
		}

		txn, err := svc.Disburse(r.Context(), budgetID, ledger.DisburseInput{
			Amount:      amount,
			Method:      req.Method,
			Destination: req.Destination,
		}, actor)
		if err != nil {
			writeError(w, err, "disburse")
			return
		}
		status := http.StatusCreated
		if txn.Status == models.TxnStatusPending {
			status = http.StatusAccepted
		}
		writeJSON(w, status, txn)
	}
}

func payoutBelongsToOwner(w http.ResponseWriter, r *http.Request, svc *ledger.Service, payouts PayoutStore, budgetID int64, destination string, actor models.Actor) bool {
	if payouts == nil {
		http.Error(w, "plaid payouts are not configured", http.StatusUnprocessableEntity)
		return false
	}
	accountID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		http.Error(w, "destination must be a payout account id", http.StatusUnprocessableEntity)
		return false
	}
	account, err := payouts.GetPayoutAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, err, "find payout account")
		return false
	}
	summary, err := svc.Summary(r.Context(), budgetID, actor)
	if err != nil {
		writeError(w, err, "get budget")
		return false
	}
	if account.UserID != summary.Budget.OwnerID {
		log.Printf("ERROR: Payout account %d does not belong to owner of budget %d", accountID, budgetID)
		http.Error(w, "payout account does not belong to the budget owner", http.StatusUnprocessableEntity)
		return false
	}
	return true
}

// SettleTransaction records a channel outcome reported out of band, such as
// a bank confirming a manual transfer.
func SettleTransaction(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		var req struct {
			Method       string `json:"method"`
			ChannelRef   string `json:"channel_ref"`
			SettlementID string `json:"settlement_id"`
			Outcome      string `json:"outcome"`
			Note         string `json:"note"`
		}
		if !decode(w, r, &req, "settle") {
			return
		}
		txn, err := svc.Settle(r.Context(), ledger.SettleInput{
			Method:       req.Method,
			ChannelRef:   req.ChannelRef,
			SettlementID: req.SettlementID,
			Outcome:      req.Outcome,
			Note:         req.Note,
		}, actor)
		if err != nil {
			writeError(w, err, "settle")
			return
		}
		writeJSON(w, http.StatusOK, txn)
	}
}

func RevokeBudget(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		var req reasonRequest
		if !decode(w, r, &req, "revoke budget") {
			return
		}
		budget, err := svc.Revoke(r.Context(), budgetID, req.Reason, actor)
		if err != nil {
			writeError(w, err, "revoke budget")
			return
		}
		writeJSON(w, http.StatusOK, budget)
	}
}

func RebatchBudget(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		var req struct {
			Amounts []string `json:"amounts"`
			Reason  string   `json:"reason"`
		}
		if !decode(w, r, &req, "rebatch budget") {
			return
		}
		amounts, err := parseAmounts(req.Amounts, svc.Currency())
		if err != nil {
			http.Error(w, "invalid amounts: "+err.Error(), http.StatusUnprocessableEntity)
			return
		}
		batches, err := svc.Rebatch(r.Context(), budgetID, amounts, req.Reason, actor)
		if err != nil {
			writeError(w, err, "rebatch budget")
			return
		}
		writeJSON(w, http.StatusOK, batches)
	}
}

func DecideSupplementary(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		supplementaryID, ok := urlID(w, r, "supplementary_id")
		if !ok {
			return
		}
		var req struct {
			Decision string `json:"decision"`
			Note     string `json:"note"`
		}
		if !decode(w, r, &req, "decide supplementary") {
			return
		}
		sb, err := svc.DecideSupplementary(r.Context(), supplementaryID, req.Decision, req.Note, actor)
		if err != nil {
			writeError(w, err, "decide supplementary")
			return
		}
		writeJSON(w, http.StatusOK, sb)
	}
}

func GetPool(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		pool, err := svc.Pool(r.Context(), actor)
		if err != nil {
			writeError(w, err, "get pool")
			return
		}
		writeJSON(w, http.StatusOK, pool)
	}
}

func AdjustPool(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		var req struct {
			Delta string `json:"delta"`
			Note  string `json:"note"`
		}
		if !decode(w, r, &req, "adjust pool") {
			return
		}
		delta, ok := amountField(w, req.Delta, "delta", svc.Currency())
		if !ok {
			return
		}
		pool, err := svc.AdjustPool(r.Context(), delta, req.Note, actor)
		if err != nil {
			writeError(w, err, "adjust pool")
			return
		}
		writeJSON(w, http.StatusOK, pool)
	}
}

func GetAuditTrail(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		filter := models.AuditFilter{Entity: q.Get("entity")}
		if raw := q.Get("entity_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, "invalid entity_id", http.StatusBadRequest)
				return
			}
			filter.EntityID = &id
		}
		if raw := q.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			filter.Limit = limit
		}

		logs, err := svc.AuditTrail(r.Context(), filter, actor)
		if err != nil {
			writeError(w, err, "get audit trail")
			return
		}
		writeJSON(w, http.StatusOK, logs)
	}
}

func Reconcile(svc *ledger.Service, defaultWindow time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		window := defaultWindow
		if raw := r.URL.Query().Get("window"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				http.Error(w, "invalid window", http.StatusBadRequest)
				return
			}
			window = d
		}
		report, err := svc.Reconcile(r.Context(), window, actor)
		if err != nil {
			writeError(w, err, "reconcile")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

type Clearer interface {
	Clear()
}

func ClearCache(caches map[string]Clearer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.ToLower(chi.URLParam(r, "cache_name"))
		cache, ok := caches[name]
		if !ok {
			http.Error(w, "unknown cache", http.StatusNotFound)
			return
		}
		cache.Clear()
		log.Printf("INFO: Cache %s cleared", name)
		writeJSON(w, http.StatusOK, map[string]string{"cleared": name})
	}
}
