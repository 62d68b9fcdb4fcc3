package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"fundflow-server/src/ledger"
	"fundflow-server/src/models"
	plaidclient "fundflow-server/src/plaid"
)

type PlaidLinker interface {
	CreateLinkToken(ctx context.Context, userID int64) (string, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (string, string, []plaidclient.Account, error)
}

type WebhookVerifier interface {
	Verify(ctx context.Context, body []byte, header http.Header) error
}

type TransferSyncer interface {
	Sync(ctx context.Context) ([]ledger.Settlement, error)
}

func CreateLinkToken(linker PlaidLinker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		linkToken, err := linker.CreateLinkToken(r.Context(), actor.ID)
		if err != nil {
			log.Printf("ERROR: Plaid link token creation failed for user %d: %v", actor.ID, err)
			http.Error(w, "Failed to create link token", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"link_token": linkToken})
	}
}

// ExchangePublicToken stores every account of the linked item as a payout
// account of the caller.
func ExchangePublicToken(linker PlaidLinker, payouts PayoutStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		var req struct {
			PublicToken string `json:"public_token"`
			LegalName   string `json:"legal_name"`
		}
		if !decode(w, r, &req, "exchange public token") {
			return
		}
		if req.PublicToken == "" || req.LegalName == "" {
			http.Error(w, "public_token and legal_name are required", http.StatusBadRequest)
			return
		}

		accessToken, itemID, accounts, err := linker.ExchangePublicToken(r.Context(), req.PublicToken)
		if err != nil {
			log.Printf("ERROR: Plaid public token exchange failed for user %d: %v", actor.ID, err)
			http.Error(w, "Failed to exchange public token", http.StatusBadGateway)
			return
		}

		saved := make([]models.PayoutAccount, 0, len(accounts))
		for _, a := range accounts {
			account := models.PayoutAccount{
				UserID:      actor.ID,
				ItemID:      itemID,
				AccessToken: accessToken,
				AccountID:   a.ID,
				Name:        a.Name,
				Mask:        a.Mask,
				LegalName:   req.LegalName,
			}
			if err := payouts.InsertPayoutAccount(r.Context(), &account); err != nil {
				writeError(w, err, "save payout account")
				return
			}
			saved = append(saved, account)
		}

		log.Printf("INFO: Linked %d payout accounts for user %d, item %s", len(saved), actor.ID, itemID)
		writeJSON(w, http.StatusCreated, saved)
	}
}

func GetPayoutAccounts(payouts PayoutStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		accounts, err := payouts.ListPayoutAccounts(r.Context(), actor.ID)
		if err != nil {
			writeError(w, err, "list payout accounts")
			return
		}
		if accounts == nil {
			accounts = []models.PayoutAccount{}
		}
		writeJSON(w, http.StatusOK, accounts)
	}
}

// PlaidWebhook verifies the webhook and, for transfer events, syncs the
// event feed and settles every final outcome in it.
func PlaidWebhook(verifier WebhookVerifier, syncer TransferSyncer, svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := verifier.Verify(r.Context(), body, r.Header); err != nil {
			log.Printf("ERROR: Plaid webhook verification failed: %v", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var payload struct {
			WebhookType string `json:"webhook_type"`
			WebhookCode string `json:"webhook_code"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			log.Printf("ERROR: Failed to decode Plaid webhook body: %v", err)
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		log.Printf("INFO: Plaid webhook received - type %s, code %s", payload.WebhookType, payload.WebhookCode)

		if payload.WebhookCode != "TRANSFER_EVENTS_UPDATE" {
			w.WriteHeader(http.StatusOK)
			return
		}

		settlements, err := syncer.Sync(r.Context())
		if err != nil {
			log.Printf("ERROR: Plaid transfer event sync failed: %v", err)
		}
		applied := 0
		for _, s := range settlements {
			_, err := svc.Settle(r.Context(), ledger.SettleInput{
				Method:       "plaid",
				ChannelRef:   s.Ref,
				SettlementID: s.ID,
				Outcome:      s.Outcome,
				Note:         s.Note,
			}, models.SystemActor)
			switch {
			case err == nil:
				applied++
			case errors.Is(err, ledger.ErrNotFound):
				log.Printf("WARN: Plaid transfer %s has no ledger transaction yet", s.Ref)
			default:
				log.Printf("ERROR: Failed to settle Plaid transfer %s: %v", s.Ref, err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]int{"events": len(settlements), "applied": applied})
	}
}
