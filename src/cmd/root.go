package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"fundflow-server/src/config"
	"fundflow-server/src/db"
	sqlstore "fundflow-server/src/db/sql"
	"fundflow-server/src/ledger"
	"fundflow-server/src/models"
)

var flagConfigFile string

var rootCmd = &cobra.Command{
	Use:           "fundflow",
	Short:         "Budget lifecycle and disbursement ledger",
	Long:          "Run the fundflow API server or operate on its ledger from the command line.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "", "TOML config file (overrides LEDGER_CONFIG)")
}

func loadConfig() (config.Config, error) {
	if flagConfigFile != "" {
		if err := os.Setenv("LEDGER_CONFIG", flagConfigFile); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load()
}

// openLedger connects to Postgres and builds a service for the one-shot
// commands. The caller closes the returned pool.
func openLedger(ctx context.Context, cfg config.Config) (*ledger.Service, *sqlstore.PgStore, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, nil, errors.New("DATABASE_URL is required")
	}
	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Migrate(ctx, pool, cfg.Ledger.Currency); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	store := sqlstore.NewPgStore(pool)
	channels, _, err := ledgerChannels(cfg, store)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	svc := ledger.New(store, logNotifier{}, ledger.Options{Currency: cfg.Ledger.Currency, Channels: channels})
	return svc, store, pool, nil
}

// logNotifier stands in for the hub when no client can be listening.
type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, userIDs []int64, n models.Notification) error {
	log.Printf("INFO: Notification %q for users %v: %s", n.Type, userIDs, n.Message)
	return nil
}

var _ ledger.Dispatcher = logNotifier{}
