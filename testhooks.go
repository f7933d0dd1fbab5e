//go:build !psicash_release

package psicash

import "context"

// SetRequestMutators queues test mutators consumed one per request attempt.
// Only test ledgers honour them.
func (c *Client) SetRequestMutators(mutators []string) {
	c.ctrl.SetRequestMutators(mutators)
}

// CheckMutatorSupport reports whether the ledger runs in test mode.
func (c *Client) CheckMutatorSupport(ctx context.Context) (bool, error) {
	return c.ctrl.CheckMutatorSupport(ctx)
}

// MakeRewardRequest credits count rewards on a test ledger.
func (c *Client) MakeRewardRequest(ctx context.Context, count int) (Status, error) {
	return c.ctrl.MakeRewardRequest(ctx, count)
}

// SetIsAccount overrides the stored account flag.
func (c *Client) SetIsAccount(ctx context.Context, isAccount bool) error {
	return c.ctrl.SetIsAccount(ctx, isAccount)
}

// AuthTokens exposes the raw stored tokens.
func (c *Client) AuthTokens() AuthTokens {
	return c.ctrl.AuthTokens()
}
