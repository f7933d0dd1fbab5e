package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/psicash"
	"github.com/loykin/psicash/internal/testserver"
)

// newLedgerCmd serves the in-process fake ledger for local experiments.
func newLedgerCmd() *cobra.Command {
	var (
		addr    string
		balance int64
		skew    time.Duration
		noTest  bool
	)
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Serve a local fake ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []testserver.Option{testserver.WithInitialBalance(balance), testserver.WithClockSkew(skew)}
			if noTest {
				opts = append(opts, testserver.WithoutMutators())
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           testserver.New(opts...).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			psicash.GetLogger().WithComponent("ledger").Info("fake ledger listening", "addr", addr)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().Int64Var(&balance, "initial-balance", 0, "balance of new trackers")
	cmd.Flags().DurationVar(&skew, "clock-skew", 0, "offset applied to the ledger's Date header")
	cmd.Flags().BoolVar(&noTest, "no-test-mode", false, "reject test mutators and rewards")
	return cmd
}
