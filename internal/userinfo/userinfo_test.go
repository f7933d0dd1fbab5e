package userinfo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/psicash/internal/store"
)

type failingPersister struct {
	store.Memory
	mu   sync.Mutex
	fail bool
}

func (f *failingPersister) Write(ctx context.Context, data []byte) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Memory.Write(ctx, data)
}

func (f *failingPersister) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func newTestUserInfo(t *testing.T) (*UserInfo, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	u, err := New(context.Background(), mem)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return u, mem
}

func int64p(v int64) *int64 { return &v }

func TestNew_Empty(t *testing.T) {
	u, _ := newTestUserInfo(t)
	if len(u.AuthTokens()) != 0 || u.IsAccount() {
		t.Errorf("fresh store has identity: %v %v", u.AuthTokens(), u.IsAccount())
	}
	if u.Balance() != nil || u.PurchasePrices() != nil {
		t.Error("fresh store has balance or prices")
	}
	if p := u.Purchases(); p == nil || len(p) != 0 {
		t.Errorf("Purchases() = %#v, want empty non-nil", p)
	}
	if _, err := New(context.Background(), nil); err == nil {
		t.Error("New(nil) should fail")
	}
}

func TestSetAuthTokens_ReplacesIdentityTogether(t *testing.T) {
	ctx := context.Background()
	u, _ := newTestUserInfo(t)

	if err := u.SetAuthTokens(ctx, AuthTokens{TokenEarner: "e", TokenSpender: "s", TokenIndicator: "i"}, false); err != nil {
		t.Fatal(err)
	}
	if err := u.SetAuthTokens(ctx, AuthTokens{TokenAccount: "a"}, true); err != nil {
		t.Fatal(err)
	}
	snap := u.Snapshot()
	if !snap.IsAccount || len(snap.Tokens) != 1 || snap.Tokens[TokenAccount] != "a" {
		t.Errorf("identity not replaced wholesale: %+v", snap)
	}
	if got := u.ValidTokenTypes(); len(got) != 1 || got[0] != TokenAccount {
		t.Errorf("ValidTokenTypes() = %v", got)
	}
}

func TestIndicatorInvariant(t *testing.T) {
	ctx := context.Background()
	u, _ := newTestUserInfo(t)

	err := u.Update(ctx, func(s *State) {
		s.Tokens = AuthTokens{TokenIndicator: "i"}
		s.Balance = int64p(10)
		s.PurchasePrices = []PurchasePrice{{"speed-boost", "1hr", 100}}
	})
	if err != nil {
		t.Fatal(err)
	}
	if u.Balance() == nil || u.PurchasePrices() == nil {
		t.Fatal("balance and prices should be present with indicator token")
	}

	// dropping the indicator drops balance and prices with it
	if err := u.SetAuthTokens(ctx, AuthTokens{TokenEarner: "e"}, false); err != nil {
		t.Fatal(err)
	}
	if u.Balance() != nil || u.PurchasePrices() != nil {
		t.Errorf("balance=%v prices=%v after losing indicator", u.Balance(), u.PurchasePrices())
	}
}

func TestAddPurchase_Deduplicates(t *testing.T) {
	ctx := context.Background()
	u, _ := newTestUserInfo(t)
	p := Purchase{TransactionClass: "speed-boost", Distinguisher: "1hr", TransactionID: "tx1"}

	added, err := u.AddPurchase(ctx, p)
	if err != nil || !added {
		t.Fatalf("first AddPurchase = %v, %v", added, err)
	}
	added, err = u.AddPurchase(ctx, p)
	if err != nil || added {
		t.Fatalf("duplicate AddPurchase = %v, %v", added, err)
	}
	if n := len(u.Purchases()); n != 1 {
		t.Errorf("len(Purchases) = %d", n)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	u, mem := newTestUserInfo(t)

	_ = u.SetRequestMetadataAtKey(ctx, "client_version", "42")
	_ = u.Update(ctx, func(s *State) {
		s.Tokens = AuthTokens{TokenIndicator: "i", TokenSpender: "s"}
		s.IsAccount = true
		s.Balance = int64p(500)
		s.PurchasePrices = []PurchasePrice{{"speed-boost", "1hr", 100}}
		s.Purchases = []Purchase{{TransactionID: "tx"}}
		s.ServerTimeDiff = 3 * time.Second
		s.LastTransactionID = "tx"
	})

	for i := 0; i < 2; i++ {
		if err := u.Clear(ctx); err != nil {
			t.Fatalf("Clear #%d: %v", i+1, err)
		}
	}

	if len(u.AuthTokens()) != 0 || u.IsAccount() {
		t.Error("identity survived Clear")
	}
	if u.Balance() != nil || u.PurchasePrices() != nil {
		t.Error("balance/prices survived Clear")
	}
	if p := u.Purchases(); p == nil || len(p) != 0 {
		t.Errorf("Purchases() = %#v", p)
	}
	if u.ServerTimeDiff() != 0 || u.LastTransactionID() != "" {
		t.Error("server time diff or last transaction survived Clear")
	}
	if u.RequestMetadata()["client_version"] != "42" {
		t.Error("request metadata should survive Clear")
	}

	reloaded, err := New(ctx, mem)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.AuthTokens()) != 0 || reloaded.Balance() != nil {
		t.Error("Clear was not persisted")
	}
}

func TestUpdate_PersistFailureKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	fp := &failingPersister{}
	u, err := New(ctx, fp)
	if err != nil {
		t.Fatal(err)
	}
	_ = u.SetAuthTokens(ctx, AuthTokens{TokenIndicator: "i"}, false)

	fp.setFail(true)
	err = u.Update(ctx, func(s *State) {
		s.Tokens = AuthTokens{}
		s.IsAccount = true
	})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Update error = %v", err)
	}
	if !u.HasTokenType(TokenIndicator) || u.IsAccount() {
		t.Error("failed write became visible")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	u, mem := newTestUserInfo(t)
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

	_ = u.Update(ctx, func(s *State) {
		s.Tokens = AuthTokens{TokenIndicator: "i", TokenSpender: "s", TokenEarner: "e"}
		s.IsAccount = false
		s.Balance = int64p(900)
		s.PurchasePrices = []PurchasePrice{}
		s.Purchases = []Purchase{{TransactionClass: "speed-boost", Distinguisher: "1hr", TransactionID: "tx9", Expiry: expiry, Authorization: "auth"}}
		s.ServerTimeDiff = -2500 * time.Millisecond
		s.LastTransactionID = "tx9"
	})
	_ = u.SetRequestMetadataAtKey(ctx, "sponsor_id", "abc")

	reloaded, err := New(ctx, mem)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	snap := reloaded.Snapshot()
	if *snap.Balance != 900 || snap.PurchasePrices == nil || len(snap.PurchasePrices) != 0 {
		t.Errorf("balance/prices = %v %#v", snap.Balance, snap.PurchasePrices)
	}
	if len(snap.Purchases) != 1 || !snap.Purchases[0].Expiry.Equal(expiry) || snap.Purchases[0].Authorization != "auth" {
		t.Errorf("purchases = %+v", snap.Purchases)
	}
	if snap.ServerTimeDiff != -2500*time.Millisecond || snap.LastTransactionID != "tx9" {
		t.Errorf("diff=%v last=%q", snap.ServerTimeDiff, snap.LastTransactionID)
	}
	if snap.RequestMetadata["sponsor_id"] != "abc" {
		t.Errorf("metadata = %v", snap.RequestMetadata)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode([]byte(`{`)); err == nil {
		t.Error("expected JSON error")
	}
	if _, err := Decode([]byte(`{"version":7}`)); err == nil || !strings.Contains(err.Error(), "unsupported datastore version 7") {
		t.Errorf("version error = %v", err)
	}
	if _, err := Decode([]byte(`{"version":1,"purchases":[{"id":"x","expiry":"soon"}]}`)); err == nil {
		t.Error("expected expiry parse error")
	}
	// balance without indicator is dropped on load
	s, err := Decode([]byte(`{"version":1,"authTokens":{"earner":"e"},"balance":5,"purchasePrices":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	if s.Balance != nil || s.PurchasePrices != nil {
		t.Errorf("invariant not enforced on load: %+v", s)
	}
}

func TestPurchaseExpiry(t *testing.T) {
	ctx := context.Background()
	u, _ := newTestUserInfo(t)
	local := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	u.SetClock(func() time.Time { return local })

	// server clock runs 10 minutes ahead
	_ = u.Update(ctx, func(s *State) {
		s.ServerTimeDiff = 10 * time.Minute
		s.Purchases = []Purchase{
			{TransactionClass: "speed-boost", TransactionID: "expired", Expiry: local.Add(5 * time.Minute)},
			{TransactionClass: "speed-boost", TransactionID: "later", Expiry: local.Add(2 * time.Hour)},
			{TransactionClass: "speed-boost", TransactionID: "sooner", Expiry: local.Add(30 * time.Minute)},
			{TransactionClass: "other", TransactionID: "forever"},
		}
	})

	valid := u.ValidPurchases()
	if len(valid) != 3 {
		t.Fatalf("ValidPurchases = %+v", valid)
	}
	next, ok := u.NextExpiringPurchase()
	if !ok || next.TransactionID != "sooner" {
		t.Errorf("NextExpiringPurchase = %+v, %v", next, ok)
	}
	if got := u.PurchasesByClass("other"); len(got) != 1 || got[0].TransactionID != "forever" {
		t.Errorf("PurchasesByClass = %+v", got)
	}

	expired, err := u.ExpirePurchases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].TransactionID != "expired" {
		t.Errorf("ExpirePurchases = %+v", expired)
	}
	if len(u.Purchases()) != 3 {
		t.Errorf("Purchases after expiry = %+v", u.Purchases())
	}
	if again, _ := u.ExpirePurchases(ctx); again != nil {
		t.Errorf("second ExpirePurchases = %+v", again)
	}
}

func TestRemovePurchases(t *testing.T) {
	ctx := context.Background()
	u, _ := newTestUserInfo(t)
	_, _ = u.AddPurchase(ctx, Purchase{TransactionID: "a"})
	_, _ = u.AddPurchase(ctx, Purchase{TransactionID: "b"})

	removed, err := u.RemovePurchases(ctx, []string{"a", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0].TransactionID != "a" {
		t.Errorf("removed = %+v", removed)
	}
	if p := u.Purchases(); len(p) != 1 || p[0].TransactionID != "b" {
		t.Errorf("remaining = %+v", p)
	}
}

func TestSetRequestMetadataAtKey(t *testing.T) {
	ctx := context.Background()
	u, _ := newTestUserInfo(t)
	if err := u.SetRequestMetadataAtKey(ctx, "", 1); err == nil {
		t.Error("empty key should fail")
	}
	_ = u.SetRequestMetadataAtKey(ctx, "k", "v1")
	_ = u.SetRequestMetadataAtKey(ctx, "k", "v2")
	md := u.RequestMetadata()
	if len(md) != 1 || md["k"] != "v2" {
		t.Errorf("metadata = %v", md)
	}
	md["k"] = "mutated"
	if u.RequestMetadata()["k"] != "v2" {
		t.Error("RequestMetadata returned shared map")
	}
}

func TestConcurrentUpdatesAreSnapshotConsistent(t *testing.T) {
	ctx := context.Background()
	u, _ := newTestUserInfo(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := u.Snapshot()
			_, hasIndicator := s.Tokens[TokenIndicator]
			if (s.Balance != nil) != hasIndicator || (s.PurchasePrices != nil) != hasIndicator {
				t.Errorf("inconsistent snapshot: %+v", s)
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			_ = u.Update(ctx, func(s *State) {
				s.Tokens = AuthTokens{TokenIndicator: "i"}
				s.Balance = int64p(int64(i))
				s.PurchasePrices = []PurchasePrice{}
			})
		} else {
			_ = u.Clear(ctx)
		}
	}
	close(stop)
	wg.Wait()
}
