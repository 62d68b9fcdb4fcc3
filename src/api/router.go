package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"fundflow-server/src/handlers"
	"fundflow-server/src/ledger"
	"fundflow-server/src/middleware"
	"fundflow-server/src/notify"
)

type Deps struct {
	Service         *ledger.Service
	Users           handlers.UserStore
	Payouts         handlers.PayoutStore
	Hub             *notify.Hub
	Caches          map[string]handlers.Clearer
	JWTSecret       []byte
	TokenTTL        time.Duration
	ReconcileWindow time.Duration
	CORSOrigins     []string
	ReadOnly        bool
	// Plaid is nil when no Plaid credentials are configured.
	Plaid *PlaidDeps
}

type PlaidDeps struct {
	Linker   handlers.PlaidLinker
	Verifier handlers.WebhookVerifier
	Syncer   handlers.TransferSyncer
}

func NewRouter(d Deps) *chi.Mux {
	svc := d.Service

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORSMiddleware(d.CORSOrigins))
	r.Use(middleware.ReadOnlyMiddleware(d.ReadOnly))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", handlers.Login(d.Users, d.JWTSecret, d.TokenTTL))
		if d.Plaid != nil {
			r.Post("/plaid/webhook", handlers.PlaidWebhook(d.Plaid.Verifier, d.Plaid.Syncer, svc))
		}

		// Protected routes
		r.With(middleware.JWTAuthMiddleware(d.JWTSecret)).Group(func(r chi.Router) {
			r.Get("/me", handlers.GetCurrentUser(d.Users))

			// Budget
			r.Post("/budgets", handlers.CreateBudget(svc))
			r.Get("/budgets", handlers.GetAllBudgets(svc))
			r.Get("/budgets/{budget_id}", handlers.GetBudgetByID(svc))
			r.Put("/budgets/{budget_id}", handlers.UpdateBudget(svc))
			r.Post("/budgets/{budget_id}/submit", handlers.SubmitBudget(svc))
			r.Delete("/budgets/{budget_id}", handlers.DeleteBudget(svc))
			r.Get("/budgets/{budget_id}/transactions", handlers.GetBudgetTransactions(svc))
			r.Get("/budgets/{budget_id}/expenditures", handlers.GetBudgetExpenditures(svc))
			r.Post("/budgets/{budget_id}/expenditures", handlers.PostExpenditure(svc))
			r.Post("/budgets/{budget_id}/supplementary", handlers.RequestSupplementary(svc))

			// Notifications
			r.Get("/notifications", handlers.GetNotifications(d.Hub))
			r.Get("/notifications/stream", handlers.StreamNotifications(d.Hub))

			// Payout accounts
			r.Get("/payout-accounts", handlers.GetPayoutAccounts(d.Payouts))
			if d.Plaid != nil {
				r.Post("/plaid/create-link-token", handlers.CreateLinkToken(d.Plaid.Linker))
				r.Post("/plaid/exchange-public-token", handlers.ExchangePublicToken(d.Plaid.Linker, d.Payouts))
			}
		})

		// Admin routes
		r.With(middleware.JWTAuthMiddleware(d.JWTSecret), middleware.AdminMiddleware).Route("/admin", func(r chi.Router) {
			r.Post("/users", handlers.CreateUser(d.Users))

			r.Post("/budgets/{budget_id}/approve", handlers.ApproveBudget(svc))
			r.Post("/budgets/{budget_id}/reject", handlers.RejectBudget(svc))
			r.Post("/budgets/{budget_id}/revision", handlers.RequestRevision(svc))
			r.Post("/budgets/{budget_id}/disburse", handlers.Disburse(svc, d.Payouts))
			r.Post("/budgets/{budget_id}/revoke", handlers.RevokeBudget(svc))
			r.Put("/budgets/{budget_id}/batches", handlers.RebatchBudget(svc))
			r.Post("/supplementary/{supplementary_id}/decision", handlers.DecideSupplementary(svc))
			r.Post("/transactions/settle", handlers.SettleTransaction(svc))
			r.Post("/reconcile", handlers.Reconcile(svc, d.ReconcileWindow))

			r.Get("/pool", handlers.GetPool(svc))
			r.Post("/pool/adjust", handlers.AdjustPool(svc))
			r.Get("/audit", handlers.GetAuditTrail(svc))

			// Cache
			r.Post("/cache/clear/{cache_name}", handlers.ClearCache(d.Caches))
		})
	})

	return r
}
