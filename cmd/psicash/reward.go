//go:build !psicash_release

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/psicash"
)

func init() {
	extraCommands = append(extraCommands, newRewardCmd)
}

func newRewardCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "reward [count]",
		Short: "Claim rewards from a test ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid reward count %q", args[0])
				}
				count = n
			}
			ctx := cmd.Context()
			c, _, err := openClient(ctx, v)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			status, err := c.MakeRewardRequest(ctx, count)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nbalance: %s\n", status, formatBalance(c.Balance()))
			if status != psicash.StatusSuccess {
				return fmt.Errorf("reward rejected: %s", status)
			}
			return nil
		},
	}
}
