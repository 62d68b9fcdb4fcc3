package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fundflow-server/src/api"
	"fundflow-server/src/channel"
	"fundflow-server/src/config"
	"fundflow-server/src/db"
	"fundflow-server/src/db/memory"
	sqlstore "fundflow-server/src/db/sql"
	"fundflow-server/src/handlers"
	"fundflow-server/src/ledger"
	"fundflow-server/src/notify"
	plaidclient "fundflow-server/src/plaid"
	"fundflow-server/src/util"
)

var (
	flagServePort          string
	flagServeMemory        bool
	flagServeAdminUser     string
	flagServeAdminPassword string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background reconciler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServePort, "port", "", "Listen port (overrides PORT)")
	serveCmd.Flags().BoolVar(&flagServeMemory, "memory", false, "Keep all state in memory instead of Postgres")
	serveCmd.Flags().StringVar(&flagServeAdminUser, "admin-user", "admin", "Bootstrap admin username for --memory")
	serveCmd.Flags().StringVar(&flagServeAdminPassword, "admin-password", "", "Bootstrap admin password for --memory")
	rootCmd.AddCommand(serveCmd)
}

// backend is what a storage implementation must offer to back the server.
type backend interface {
	ledger.Store
	handlers.UserStore
	handlers.PayoutStore
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagServePort != "" {
		cfg.Port = flagServePort
	}
	if err := cfg.Validate(flagServeMemory); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var store backend
	if flagServeMemory {
		mem := memory.New(cfg.Ledger.Currency)
		if err := bootstrapAdmin(ctx, mem); err != nil {
			return err
		}
		store = mem
		log.Println("WARN: Running with in-memory storage, all data is lost on exit")
	} else {
		pool, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool, cfg.Ledger.Currency); err != nil {
			return err
		}
		store = sqlstore.NewPgStore(pool)
	}

	cache, err := db.NewSummaryCache(cfg.Cache.MaxEntries)
	if err != nil {
		return fmt.Errorf("create summary cache: %w", err)
	}
	defer cache.Close()

	hub := notify.NewHub(cfg.Ledger.NotificationBuffer)
	channels, plaidDeps, err := ledgerChannels(cfg, store)
	if err != nil {
		return err
	}

	svc := ledger.New(store, hub, ledger.Options{
		Currency: cfg.Ledger.Currency,
		Channels: channels,
		Cache:    cache,
	})

	go svc.RunReconciler(ctx, cfg.Ledger.ReconcileInterval, cfg.Ledger.ReconcileWindow)

	router := api.NewRouter(api.Deps{
		Service:         svc,
		Users:           store,
		Payouts:         store,
		Hub:             hub,
		Caches:          map[string]handlers.Clearer{"summaries": cache},
		JWTSecret:       []byte(cfg.JWTSecret),
		TokenTTL:        cfg.TokenTTL,
		ReconcileWindow: cfg.Ledger.ReconcileWindow,
		CORSOrigins:     cfg.CORSOrigins,
		ReadOnly:        cfg.ReadOnly,
		Plaid:           plaidDeps,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Println("API server running on port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("INFO: Shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

// ledgerChannels returns the manual channel plus Plaid when it is configured.
// The Plaid endpoint dependencies are nil without Plaid.
func ledgerChannels(cfg config.Config, accounts channel.PayoutAccounts) ([]ledger.Channel, *api.PlaidDeps, error) {
	channels := []ledger.Channel{channel.NewManual(cfg.Ledger.ManualFee)}
	if !cfg.Plaid.Enabled() {
		return channels, nil, nil
	}
	deps, payouts, err := wirePlaid(cfg.Plaid, accounts)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("INFO: Plaid transfers enabled (%s)", cfg.Plaid.Env)
	return append(channels, payouts), deps, nil
}

// wirePlaid builds the Plaid client once and shares it between the payout
// channel and the link and webhook endpoints.
func wirePlaid(cfg config.PlaidConfig, accounts channel.PayoutAccounts) (*api.PlaidDeps, *channel.Plaid, error) {
	apiClient, err := plaidclient.NewPlaidClient(cfg.ClientID, cfg.Secret, cfg.Env)
	if err != nil {
		return nil, nil, fmt.Errorf("configure plaid: %w", err)
	}
	client := plaidclient.NewClient(apiClient, cfg.ClientName, cfg.WebhookURL)
	payouts := channel.NewPlaid(client, accounts)
	return &api.PlaidDeps{
		Linker:   client,
		Verifier: util.NewWebhookVerifier(client.WebhookKey),
		Syncer:   payouts,
	}, payouts, nil
}

func bootstrapAdmin(ctx context.Context, users handlers.UserStore) error {
	if flagServeAdminPassword == "" {
		return errors.New("--admin-password is required with --memory")
	}
	u, err := util.NewUser(flagServeAdminUser, flagServeAdminUser+"@localhost.localdomain", flagServeAdminPassword, true)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if err := users.CreateUser(ctx, u); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	log.Printf("INFO: Created admin %s for this in-memory session", u.Username)
	return nil
}
