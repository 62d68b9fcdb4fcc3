package handlers

import (
	"log"
	"net/http"

	"fundflow-server/src/ledger"
)

type itemRequest struct {
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
}

type budgetRequest struct {
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Priority        string        `json:"priority"`
	RequestedAmount string        `json:"requested_amount"`
	Items           []itemRequest `json:"items"`
	Submit          bool          `json:"submit"`
}

func (req budgetRequest) input(w http.ResponseWriter, currency string) (ledger.BudgetInput, bool) {
	in := ledger.BudgetInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Submit:      req.Submit,
	}
	if req.RequestedAmount != "" {
		amount, ok := amountField(w, req.RequestedAmount, "requested_amount", currency)
		if !ok {
			return in, false
		}
		in.RequestedAmount = amount
	}
	for _, item := range req.Items {
		price, ok := amountField(w, item.UnitPrice, "unit_price", currency)
		if !ok {
			return in, false
		}
		in.Items = append(in.Items, ledger.ItemInput{Name: item.Name, UnitPrice: price, Quantity: item.Quantity})
	}
	return in, true
}

func CreateBudget(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		var req budgetRequest
		if !decode(w, r, &req, "create budget") {
			return
		}
		in, ok := req.input(w, svc.Currency())
		if !ok {
			return
		}

		summary, err := svc.CreateBudget(r.Context(), in, actor)
		if err != nil {
			writeError(w, err, "create budget")
			return
		}
		writeJSON(w, http.StatusCreated, summary)
	}
}

func GetAllBudgets(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgets, err := svc.ListBudgets(r.Context(), actor, r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, err, "list budgets")
			return
		}
		writeJSON(w, http.StatusOK, budgets)
	}
}

func GetBudgetByID(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		summary, err := svc.Summary(r.Context(), budgetID, actor)
		if err != nil {
			writeError(w, err, "get budget")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func UpdateBudget(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		var req budgetRequest
		if !decode(w, r, &req, "update budget") {
			return
		}
		in, ok := req.input(w, svc.Currency())
		if !ok {
			return
		}

		summary, err := svc.UpdateBudget(r.Context(), budgetID, in, actor)
		if err != nil {
			writeError(w, err, "update budget")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func SubmitBudget(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		budget, err := svc.SubmitBudget(r.Context(), budgetID, actor)
		if err != nil {
			writeError(w, err, "submit budget")
			return
		}
		writeJSON(w, http.StatusOK, budget)
	}
}

func DeleteBudget(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		if err := svc.DeleteBudget(r.Context(), budgetID, actor); err != nil {
			writeError(w, err, "delete budget")
			return
		}
		log.Printf("INFO: Budget %d deleted by user %d", budgetID, actor.ID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func GetBudgetTransactions(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		txns, err := svc.ListTransactions(r.Context(), budgetID, actor)
		if err != nil {
			writeError(w, err, "list transactions")
			return
		}
		writeJSON(w, http.StatusOK, txns)
	}
}

func GetBudgetExpenditures(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		budgetID, ok := urlID(w, r, "budget_id")
		if !ok {
			return
		}
		expenditures, err := svc.ListExpenditures(r.Context(), budgetID, actor)
		if err != nil {
			writeError(w, err, "list expenditures")
			return
		}
		writeJSON(w, http.StatusOK, expenditures)
	}
}

func PostExpenditure(svc *ledger.Service) http.HandlerFunc {
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
			Title                string `json:"title"`
			Priority             string `json:"priority"`
			RequestSupplementary bool   `json:"request_supplementary"`
			SupplementaryReason  string `json:"supplementary_reason"`
			Items                []struct {
				BudgetItemID int64  `json:"budget_item_id"`
				SpentAmount  string `json:"spent_amount"`
				Note         string `json:"note"`
			} `json:"items"`
		}
		if !decode(w, r, &req, "post expenditure") {
			return
		}

		in := ledger.ExpenditureInput{
			Title:                req.Title,
			Priority:             req.Priority,
			RequestSupplementary: req.RequestSupplementary,
			SupplementaryReason:  req.SupplementaryReason,
		}
		for _, item := range req.Items {
			spent, ok := amountField(w, item.SpentAmount, "spent_amount", svc.Currency())
			if !ok {
				return
			}
			in.Items = append(in.Items, ledger.ExpenditureLine{BudgetItemID: item.BudgetItemID, SpentAmount: spent, Note: item.Note})
		}

		result, err := svc.PostExpenditure(r.Context(), budgetID, in, actor)
		if err != nil {
			writeError(w, err, "post expenditure")
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

func RequestSupplementary(svc *ledger.Service) http.HandlerFunc {
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
			Amount string `json:"amount"`
			Reason string `json:"reason"`
		}
		if !decode(w, r, &req, "request supplementary") {
			return
		}
		amount, ok := amountField(w, req.Amount, "amount", svc.Currency())
		if !ok {
			return
		}

		sb, err := svc.RequestSupplementary(r.Context(), budgetID, amount, req.Reason, actor)
		if err != nil {
			writeError(w, err, "request supplementary")
			return
		}
		writeJSON(w, http.StatusCreated, sb)
	}
}
