// Package plaid wraps the Plaid calls the server makes: Link for payout
// accounts, Transfer for disbursements and webhook key lookup.
package plaid

import (
	"context"
	"fmt"
	"strconv"

	"github.com/plaid/plaid-go/v41/plaid"
)

func NewPlaidClient(clientID, secret, env string) (*plaid.APIClient, error) {
	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", clientID)
	configuration.AddDefaultHeader("PLAID-SECRET", secret)

	switch env {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	default:
		return nil, fmt.Errorf("invalid Plaid environment: %q", env)
	}

	return plaid.NewAPIClient(configuration), nil
}

type Account struct {
	ID   string `json:"account_id"`
	Name string `json:"name"`
	Mask string `json:"mask"`
}

// Payout describes a credit transfer to a linked account. Amount is a
// decimal string in major units.
type Payout struct {
	AccessToken    string
	AccountID      string
	LegalName      string
	Amount         string
	Description    string
	IdempotencyKey string
}

type Transfer struct {
	ID     string
	Status string
}

type TransferEvent struct {
	EventID    int32
	TransferID string
	EventType  string
}

// Client is the subset of the Plaid API used by the server.
type Client struct {
	api        *plaid.APIClient
	clientName string
	webhookURL string
}

func NewClient(api *plaid.APIClient, clientName, webhookURL string) *Client {
	if clientName == "" {
		clientName = "Fundflow"
	}
	return &Client{api: api, clientName: clientName, webhookURL: webhookURL}
}

func (c *Client) CreateLinkToken(ctx context.Context, userID int64) (string, error) {
	user := plaid.LinkTokenCreateRequestUser{
		ClientUserId: strconv.FormatInt(userID, 10),
	}
	request := plaid.NewLinkTokenCreateRequest(
		c.clientName,
		"en",
		[]plaid.CountryCode{plaid.COUNTRYCODE_US},
		user,
	)
	request.SetProducts([]plaid.Products{plaid.Products("transfer")})
	if c.webhookURL != "" {
		request.SetWebhook(c.webhookURL)
	}
	resp, _, err := c.api.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
	if err != nil {
		return "", fmt.Errorf("link token create: %w", err)
	}
	return resp.GetLinkToken(), nil
}

// ExchangePublicToken trades a Link public token for an access token and
// returns the item's accounts.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, []Account, error) {
	exchangeReq := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	exchangeResp, _, err := c.api.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*exchangeReq).Execute()
	if err != nil {
		return "", "", nil, fmt.Errorf("public token exchange: %w", err)
	}
	accessToken := exchangeResp.GetAccessToken()
	itemID := exchangeResp.GetItemId()

	accountsReq := plaid.NewAccountsGetRequest(accessToken)
	accountsResp, _, err := c.api.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*accountsReq).Execute()
	if err != nil {
		return "", "", nil, fmt.Errorf("accounts get: %w", err)
	}

	var accounts []Account
	for _, a := range accountsResp.GetAccounts() {
		accounts = append(accounts, Account{ID: a.GetAccountId(), Name: a.GetName(), Mask: a.GetMask()})
	}
	return accessToken, itemID, accounts, nil
}

// CreatePayout authorizes and then creates an ACH credit transfer.
func (c *Client) CreatePayout(ctx context.Context, p Payout) (Transfer, error) {
	user := plaid.TransferAuthorizationUserInRequest{}
	user.SetLegalName(p.LegalName)

	authReq := plaid.TransferAuthorizationCreateRequest{}
	authReq.SetAccessToken(p.AccessToken)
	authReq.SetAccountId(p.AccountID)
	authReq.SetType(plaid.TransferType("credit"))
	authReq.SetNetwork(plaid.TransferNetwork("ach"))
	authReq.SetAchClass(plaid.ACHClass("ppd"))
	authReq.SetAmount(p.Amount)
	authReq.SetUser(user)
	if p.IdempotencyKey != "" {
		authReq.SetIdempotencyKey(p.IdempotencyKey)
	}

	authResp, _, err := c.api.PlaidApi.TransferAuthorizationCreate(ctx).TransferAuthorizationCreateRequest(authReq).Execute()
	if err != nil {
		return Transfer{}, fmt.Errorf("transfer authorization: %w", err)
	}
	auth := authResp.GetAuthorization()
	if decision := string(auth.GetDecision()); decision != "approved" {
		return Transfer{}, fmt.Errorf("transfer authorization %s: decision %q", auth.GetId(), decision)
	}

	createReq := plaid.TransferCreateRequest{}
	createReq.SetAccessToken(p.AccessToken)
	createReq.SetAccountId(p.AccountID)
	createReq.SetAuthorizationId(auth.GetId())
	createReq.SetAmount(p.Amount)
	createReq.SetDescription(p.Description)

	createResp, _, err := c.api.PlaidApi.TransferCreate(ctx).TransferCreateRequest(createReq).Execute()
	if err != nil {
		return Transfer{}, fmt.Errorf("transfer create: %w", err)
	}
	transfer := createResp.GetTransfer()
	return Transfer{ID: transfer.GetId(), Status: string(transfer.GetStatus())}, nil
}

func (c *Client) GetTransfer(ctx context.Context, transferID string) (Transfer, error) {
	req := plaid.TransferGetRequest{}
	req.SetTransferId(transferID)
	resp, _, err := c.api.PlaidApi.TransferGet(ctx).TransferGetRequest(req).Execute()
	if err != nil {
		return Transfer{}, fmt.Errorf("transfer get: %w", err)
	}
	transfer := resp.GetTransfer()
	return Transfer{ID: transfer.GetId(), Status: string(transfer.GetStatus())}, nil
}

// SyncTransferEvents returns transfer events with an id greater than afterID.
func (c *Client) SyncTransferEvents(ctx context.Context, afterID int32) ([]TransferEvent, error) {
	req := plaid.TransferEventSyncRequest{}
	req.SetAfterId(afterID)
	resp, _, err := c.api.PlaidApi.TransferEventSync(ctx).TransferEventSyncRequest(req).Execute()
	if err != nil {
		return nil, fmt.Errorf("transfer event sync: %w", err)
	}

	var events []TransferEvent
	for _, ev := range resp.GetTransferEvents() {
		events = append(events, TransferEvent{
			EventID:    ev.GetEventId(),
			TransferID: ev.GetTransferId(),
			EventType:  string(ev.GetEventType()),
		})
	}
	return events, nil
}

func (c *Client) WebhookKey(ctx context.Context, kid string) (*plaid.JWKPublicKey, error) {
	req := *plaid.NewWebhookVerificationKeyGetRequest(kid)
	resp, _, err := c.api.PlaidApi.WebhookVerificationKeyGet(ctx).
		WebhookVerificationKeyGetRequest(req).
		Execute()
	if err != nil {
		return nil, err
	}
	key := resp.GetKey()
	return &key, nil
}
