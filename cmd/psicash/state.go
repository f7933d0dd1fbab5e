package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/loykin/psicash"
)

type purchaseView struct {
	Class         string `yaml:"class"`
	Distinguisher string `yaml:"distinguisher"`
	TransactionID string `yaml:"transaction_id"`
	Expiry        string `yaml:"expiry,omitempty"`
	Expired       bool   `yaml:"expired"`
}

// stateView is the printable datastore. Token values are never shown.
type stateView struct {
	TokenTypes        []psicash.TokenType     `yaml:"token_types"`
	IsAccount         bool                    `yaml:"is_account"`
	Balance           *int64                  `yaml:"balance"`
	ServerTimeDiff    string                  `yaml:"server_time_diff"`
	PurchasePrices    []psicash.PurchasePrice `yaml:"purchase_prices"`
	Purchases         []purchaseView          `yaml:"purchases"`
	LastTransactionID string                  `yaml:"last_transaction_id,omitempty"`
	RequestMetadata   map[string]any          `yaml:"request_metadata,omitempty"`
}

func buildStateView(c *psicash.Client) stateView {
	valid := map[string]struct{}{}
	for _, p := range c.ValidPurchases() {
		valid[p.TransactionID] = struct{}{}
	}
	view := stateView{
		TokenTypes:        c.ValidTokenTypes(),
		IsAccount:         c.IsAccount(),
		Balance:           c.Balance(),
		ServerTimeDiff:    c.ServerTimeDiff().String(),
		PurchasePrices:    c.PurchasePrices(),
		LastTransactionID: c.LastTransactionID(),
		RequestMetadata:   c.RequestMetadata(),
	}
	for _, p := range c.Purchases() {
		pv := purchaseView{Class: p.TransactionClass, Distinguisher: p.Distinguisher, TransactionID: p.TransactionID}
		if !p.Expiry.IsZero() {
			pv.Expiry = p.Expiry.UTC().Format(time.RFC3339)
		}
		_, ok := valid[p.TransactionID]
		pv.Expired = !ok
		view.Purchases = append(view.Purchases, pv)
	}
	return view
}

func newStateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the local datastore as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := openClient(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(buildStateView(c)); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
