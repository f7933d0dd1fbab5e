//go:build !psicash_release

package psicash

import (
	"context"
	"testing"
)

func TestClient_RewardAndPurchase(t *testing.T) {
	srv := startLedger(t)
	ctx := context.Background()

	c, err := NewClient(ctx, testConfig(t, srv))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	enabled, err := c.CheckMutatorSupport(ctx)
	if err != nil || !enabled {
		t.Fatalf("CheckMutatorSupport = %v, %v", enabled, err)
	}
	if _, err := c.RefreshState(ctx, []string{"speed-boost"}); err != nil {
		t.Fatal(err)
	}
	if st, err := c.MakeRewardRequest(ctx, 1); err != nil || st != StatusSuccess {
		t.Fatalf("MakeRewardRequest = %v, %v", st, err)
	}
	before := *c.Balance()

	res, err := c.NewExpiringPurchase(ctx, "speed-boost", "1hr", 100)
	if err != nil {
		t.Fatalf("NewExpiringPurchase: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status = %v", res.Status)
	}
	if *c.Balance() != before-100 {
		t.Errorf("balance = %d, want %d", *c.Balance(), before-100)
	}
	if c.LastTransactionID() != res.TransactionID {
		t.Errorf("last transaction = %q", c.LastTransactionID())
	}
	if p, ok := c.NextExpiringPurchase(); !ok || p.TransactionID != res.TransactionID {
		t.Errorf("next expiring = %+v %v", p, ok)
	}
	if got := c.PurchasesByClass("speed-boost"); len(got) != 1 {
		t.Errorf("by class = %v", got)
	}
	removed, err := c.RemovePurchases(ctx, []string{res.TransactionID})
	if err != nil || len(removed) != 1 || len(c.Purchases()) != 0 {
		t.Errorf("RemovePurchases = %v, %v", removed, err)
	}
}

func TestClient_MutatorForcesServerError(t *testing.T) {
	srv := startLedger(t)
	ctx := context.Background()
	c, err := NewClient(ctx, testConfig(t, srv))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	c.SetRequestMutators([]string{"Response:code=500", "Response:code=500"})
	res, err := c.RefreshState(ctx, nil)
	if res.Status != StatusServerError || StatusOf(err) != StatusServerError {
		t.Fatalf("status = %v, err = %v", res.Status, err)
	}
	if len(c.AuthTokens()) != 0 {
		t.Error("failed refresh stored tokens")
	}
	if err := c.SetIsAccount(ctx, true); err != nil || !c.IsAccount() {
		t.Errorf("SetIsAccount: %v", err)
	}
}
