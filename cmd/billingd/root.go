package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/warp/invoice-engine/config"
	"github.com/warp/invoice-engine/documents"
	"github.com/warp/invoice-engine/invoicing"
	"github.com/warp/invoice-engine/logger"
	"github.com/warp/invoice-engine/store/redisstore"
	"github.com/warp/invoice-engine/store/sqlite"
)

var version = "0.1.0"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "billingd",
	Short: "Invoice lifecycle and outstanding balance engine",
	Long: `billingd creates invoices from a firm's ledger of transactions,
retainers, payments and write-offs, and keeps every invoice chain's
outstanding balance up to date as payments arrive.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		if err := logger.Setup(c.LoggerConfig()); err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		cfg = c
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log := logger.WithComponent("cmd")
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired dependencies shared by every subcommand.
type app struct {
	store  *sqlite.Store
	engine *invoicing.Engine
	close  []func() error
}

// newApp opens the database, the document store and, when REDIS_ADDR is
// set, the redis numbering and locking backend.
func newApp(ctx context.Context, c *config.Config, log zerolog.Logger) (*app, error) {
	store, err := sqlite.New(c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{store: store, close: []func() error{store.Close}}

	engine := &invoicing.Engine{
		Store:       store,
		Numbers:     store,
		Locker:      invoicing.NewLocalLocker(),
		DueDays:     c.InvoiceDueDays,
		Concurrency: c.InvoiceConcurrency,
		Log:         logger.WithComponent("invoicing"),
	}

	if c.GCSBucket != "" {
		gcs, err := documents.NewGCS(ctx, c.GCSBucket, c.GCSCredentialsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.close = append(a.close, gcs.Close)
		engine.Documents, engine.Archiver = gcs, gcs
		log.Info().Str("bucket", c.GCSBucket).Msg("documents stored in gcs")
	} else {
		local, err := documents.NewLocal(c.DocumentsDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("documents dir: %w", err)
		}
		engine.Documents, engine.Archiver = local, local
		log.Info().Str("dir", c.DocumentsDir).Msg("documents stored on disk")
	}

	if c.RedisAddr != "" {
		rs, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.close = append(a.close, rs.Close)
		engine.Numbers, engine.Locker = rs, rs
		log.Info().Str("addr", c.RedisAddr).Msg("invoice numbering and run lock in redis")
	}

	a.engine = engine
	return a, nil
}

// Close releases everything newApp opened, last opened first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.close) - 1; i >= 0; i-- {
		errs = append(errs, a.close[i]())
	}
	return errors.Join(errs...)
}
