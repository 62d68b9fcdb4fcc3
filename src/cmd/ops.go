package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fundflow-server/src/db"
	"fundflow-server/src/models"
	"fundflow-server/src/util"
)

var (
	flagReconcileWindow time.Duration
	flagPoolDelta       string
	flagPoolNote        string
	flagPoolActor       string
	flagUserName        string
	flagUserEmail       string
	flagUserPassword    string
	flagUserAdmin       bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create missing tables and the fund pool row",
	RunE:  runMigrate,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Resolve disbursements stuck in PENDING once",
	RunE:  runReconcile,
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect or adjust the fund pool",
	RunE:  runPoolShow,
}

var poolShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the fund pool balance",
	RunE:  runPoolShow,
}

var poolAdjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Credit or debit the fund pool",
	RunE:  runPoolAdjust,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account",
	RunE:  runUserCreate,
}

func init() {
	reconcileCmd.Flags().DurationVar(&flagReconcileWindow, "window", 0, "Age after which a pending disbursement is checked (default from config)")

	poolAdjustCmd.Flags().StringVar(&flagPoolDelta, "delta", "", "Signed amount in major units, e.g. 2500 or -100.50")
	poolAdjustCmd.Flags().StringVar(&flagPoolNote, "note", "", "Reason recorded in the audit trail")
	poolAdjustCmd.Flags().StringVar(&flagPoolActor, "actor", "", "Admin username the adjustment is attributed to")
	_ = poolAdjustCmd.MarkFlagRequired("delta")
	_ = poolAdjustCmd.MarkFlagRequired("actor")
	poolCmd.AddCommand(poolShowCmd, poolAdjustCmd)

	userCreateCmd.Flags().StringVar(&flagUserName, "username", "", "Username")
	userCreateCmd.Flags().StringVar(&flagUserEmail, "email", "", "Email address")
	userCreateCmd.Flags().StringVar(&flagUserPassword, "password", "", "Password")
	userCreateCmd.Flags().BoolVar(&flagUserAdmin, "admin", false, "Grant the admin role")
	_ = userCreateCmd.MarkFlagRequired("username")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("password")
	userCmd.AddCommand(userCreateCmd)

	rootCmd.AddCommand(migrateCmd, reconcileCmd, poolCmd, userCmd)
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	ctx, cancel := commandContext()
	defer cancel()

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, cfg.Ledger.Currency); err != nil {
		return err
	}
	fmt.Println("  Schema is up to date")
	return nil
}

func runReconcile(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	svc, _, pool, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	window := flagReconcileWindow
	if window == 0 {
		window = cfg.Ledger.ReconcileWindow
	}
	report, err := svc.Reconcile(ctx, window, models.SystemActor)
	if err != nil {
		return err
	}
	fmt.Printf("  Checked:       %d\n", report.Checked)
	fmt.Printf("  Settled:       %d\n", report.Settled)
	fmt.Printf("  Failed:        %d\n", report.Failed)
	fmt.Printf("  Still pending: %d\n", report.StillPending)
	if report.Errors > 0 {
		return fmt.Errorf("%d disbursements could not be reconciled, see the log", report.Errors)
	}
	return nil
}

func runPoolShow(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	svc, _, pool, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	fp, err := svc.Pool(ctx, models.Actor{Role: models.RoleAdmin})
	if err != nil {
		return err
	}
	printPool(fp)
	return nil
}

func runPoolAdjust(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	delta, err := util.ParseAmount(flagPoolDelta, cfg.Ledger.Currency)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	svc, store, pool, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	admin, err := store.GetUserByUsername(ctx, flagPoolActor)
	if err != nil {
		return fmt.Errorf("look up %s: %w", flagPoolActor, err)
	}
	fp, err := svc.AdjustPool(ctx, delta, flagPoolNote, admin.Actor())
	if err != nil {
		return err
	}
	printPool(fp)
	return nil
}

func printPool(fp models.FundPool) {
	fmt.Printf("  Balance: %s\n", util.FormatAmount(fp.Balance, fp.Currency))
	if !fp.UpdatedAt.IsZero() {
		fmt.Printf("  Updated: %s\n", fp.UpdatedAt.Format(time.RFC3339))
	}
}

func runUserCreate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	u, err := util.NewUser(flagUserName, flagUserEmail, flagUserPassword, flagUserAdmin)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	_, store, pool, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := store.CreateUser(ctx, u); err != nil {
		return err
	}
	fmt.Printf("  Created %s %s (id %d)\n", u.Role, u.Username, u.ID)
	return nil
}
