package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/psicash"
	"github.com/loykin/psicash/internal/util"
)

func newRefreshCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [class...]",
		Short: "Refresh tokens, balance and prices from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, doc, err := openClient(ctx, v)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			classes := util.SplitList(strings.Join(args, ","))
			if len(classes) == 0 {
				classes = doc.Classes
			}
			res, err := c.RefreshState(ctx, classes)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "status: %s\n", res.Status)
			_, _ = fmt.Fprintf(out, "tokens: %v\n", res.ValidTokenTypes)
			_, _ = fmt.Fprintf(out, "account: %t\n", res.IsAccount)
			_, _ = fmt.Fprintf(out, "balance: %s\n", formatBalance(res.Balance))
			for _, p := range res.PurchasePrices {
				_, _ = fmt.Fprintf(out, "price: %s/%s %d\n", p.TransactionClass, p.Distinguisher, p.Price)
			}
			return nil
		},
	}
}

func newPurchaseCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "purchase <class> <distinguisher> <expected-price>",
		Short: "Make an expiring purchase",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid expected price %q: %w", args[2], err)
			}
			ctx := cmd.Context()
			c, _, err := openClient(ctx, v)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			res, err := c.NewExpiringPurchase(ctx, args[0], args[1], price)
			if err != nil {
				return err
			}
			printPurchase(cmd.OutOrStdout(), res)
			if res.Status != psicash.StatusSuccess && res.Status != psicash.StatusExistingTransaction {
				return fmt.Errorf("purchase rejected: %s", res.Status)
			}
			return nil
		},
	}
}

func printPurchase(out io.Writer, res *psicash.PurchaseResult) {
	_, _ = fmt.Fprintf(out, "status: %s\n", res.Status)
	if res.TransactionID != "" {
		_, _ = fmt.Fprintf(out, "transaction: %s\n", res.TransactionID)
	}
	if res.Price != nil {
		_, _ = fmt.Fprintf(out, "price: %d\n", *res.Price)
	}
	_, _ = fmt.Fprintf(out, "balance: %s\n", formatBalance(res.Balance))
	if !res.Expiry.IsZero() {
		_, _ = fmt.Fprintf(out, "expiry: %s\n", res.Expiry.UTC().Format(time.RFC3339))
	}
}

func newExpireCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Drop purchases that have expired in server time",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, _, err := openClient(ctx, v)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			expired, err := c.ExpirePurchases(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "expired: %d\n", len(expired))
			return nil
		},
	}
}

func newClearCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget identity, balance and purchases (request metadata is kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, _, err := openClient(ctx, v)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			return c.Clear(ctx)
		},
	}
}

func newMetadataCmd(v *viper.Viper) *cobra.Command {
	md := &cobra.Command{
		Use:   "metadata",
		Short: "Manage request metadata sent with every ledger request",
	}
	md.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one metadata item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, _, err := openClient(ctx, v)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			return c.SetRequestMetadataItem(ctx, args[0], args[1])
		},
	})
	return md
}

func formatBalance(b *int64) string {
	if b == nil {
		return "unknown"
	}
	return strconv.FormatInt(*b, 10)
}
