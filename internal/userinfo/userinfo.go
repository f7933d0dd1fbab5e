package userinfo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loykin/psicash/internal/common"
	"github.com/loykin/psicash/internal/dates"
	"github.com/loykin/psicash/internal/store"
)

// UserInfo is the local copy of a user's PsiCash state. Every mutation is
// copy-on-write: the new state is persisted first and only then published,
// so readers see either the old or the new state in full.
type UserInfo struct {
	writeMu   sync.Mutex // serializes mutations
	mu        sync.RWMutex
	state     *State
	persister store.Persister
	now       func() time.Time
}

// New loads the stored snapshot from persister, starting empty when none
// exists.
func New(ctx context.Context, persister store.Persister) (*UserInfo, error) {
	if persister == nil {
		return nil, errors.New("userinfo: nil persister")
	}
	data, err := persister.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("load datastore: %w", err)
	}
	st, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return &UserInfo{state: st, persister: persister, now: time.Now}, nil
}

// SetClock overrides the local clock used for expiry checks.
func (u *UserInfo) SetClock(now func() time.Time) {
	u.mu.Lock()
	u.now = now
	u.mu.Unlock()
}

// Now returns the local time from the configured clock.
func (u *UserInfo) Now() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.now()
}

// Update applies fn to a private copy of the state and commits it as one
// atomic, durable write. If persisting fails the previous state remains.
func (u *UserInfo) Update(ctx context.Context, fn func(s *State)) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()

	u.mu.RLock()
	next := u.state.Clone()
	u.mu.RUnlock()

	fn(next)
	next.normalize()

	data, err := Encode(next)
	if err != nil {
		return err
	}
	if err := u.persister.Write(ctx, data); err != nil {
		common.GetLogger().WithComponent("userinfo").Error("failed to persist datastore", "error", err)
		return fmt.Errorf("persist datastore: %w", err)
	}

	u.mu.Lock()
	u.state = next
	u.mu.Unlock()
	return nil
}

// Clear resets identity, balance, prices, purchases, server time diff and
// last transaction ID. Request metadata survives.
func (u *UserInfo) Clear(ctx context.Context) error {
	return u.Update(ctx, func(s *State) {
		md := s.RequestMetadata
		*s = *newState()
		s.RequestMetadata = md
	})
}

// SetAuthTokens replaces the tokens and account flag together.
func (u *UserInfo) SetAuthTokens(ctx context.Context, tokens AuthTokens, isAccount bool) error {
	return u.Update(ctx, func(s *State) {
		s.Tokens = tokens.Clone()
		s.IsAccount = isAccount
	})
}

// AddPurchase appends p to history. It reports false, without writing,
// when a purchase with the same transaction ID is already stored.
func (u *UserInfo) AddPurchase(ctx context.Context, p Purchase) (bool, error) {
	if u.HasPurchase(p.TransactionID) {
		return false, nil
	}
	added := false
	err := u.Update(ctx, func(s *State) {
		if s.HasPurchase(p.TransactionID) {
			return
		}
		s.Purchases = append(s.Purchases, p)
		added = true
	})
	return added, err
}

// RemovePurchases drops the purchases with the given IDs and returns them.
func (u *UserInfo) RemovePurchases(ctx context.Context, ids []string) ([]Purchase, error) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	var removed []Purchase
	err := u.Update(ctx, func(s *State) {
		removed = nil
		kept := make([]Purchase, 0, len(s.Purchases))
		for _, p := range s.Purchases {
			if _, ok := drop[p.TransactionID]; ok {
				removed = append(removed, p)
				continue
			}
			kept = append(kept, p)
		}
		s.Purchases = kept
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ExpirePurchases drops every purchase expired at the current server time
// and returns them.
func (u *UserInfo) ExpirePurchases(ctx context.Context) ([]Purchase, error) {
	var expired []string
	serverNow := u.ServerNow()
	for _, p := range u.Purchases() {
		if p.ExpiredAt(serverNow) {
			expired = append(expired, p.TransactionID)
		}
	}
	if len(expired) == 0 {
		return nil, nil
	}
	return u.RemovePurchases(ctx, expired)
}

// SetRequestMetadataAtKey upserts one request metadata entry.
func (u *UserInfo) SetRequestMetadataAtKey(ctx context.Context, key string, value any) error {
	if key == "" {
		return errors.New("userinfo: empty metadata key")
	}
	return u.Update(ctx, func(s *State) {
		s.RequestMetadata[key] = value
	})
}

// Snapshot returns a deep copy of the whole state.
func (u *UserInfo) Snapshot() *State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state.Clone()
}

func (u *UserInfo) AuthTokens() AuthTokens {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state.Tokens.Clone()
}

func (u *UserInfo) IsAccount() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state.IsAccount
}

// ValidTokenTypes returns the token types currently held.
func (u *UserInfo) ValidTokenTypes() []TokenType {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state.Tokens.Types()
}

func (u *UserInfo) HasTokenType(t TokenType) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.state.Tokens[t]
	return ok
}

// Balance returns nil when no indicator token is held.
func (u *UserInfo) Balance() *int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.state.Balance == nil {
		return nil
	}
	b := *u.state.Balance
	return &b
}

// PurchasePrices returns nil when no indicator token is held.
func (u *UserInfo) PurchasePrices() []PurchasePrice {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.state.PurchasePrices == nil {
		return nil
	}
	return append([]PurchasePrice{}, u.state.PurchasePrices...)
}

func (u *UserInfo) Purchases() []Purchase {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]Purchase{}, u.state.Purchases...)
}

func (u *UserInfo) HasPurchase(id string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state.HasPurchase(id)
}

func (u *UserInfo) ServerTimeDiff() time.Duration {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state.ServerTimeDiff
}

// ServerNow is the local clock shifted by the server time diff.
func (u *UserInfo) ServerNow() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return dates.ServerNow(u.now(), u.state.ServerTimeDiff)
}

func (u *UserInfo) LastTransactionID() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state.LastTransactionID
}

func (u *UserInfo) RequestMetadata() map[string]any {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make(map[string]any, len(u.state.RequestMetadata))
	for k, v := range u.state.RequestMetadata {
		out[k] = v
	}
	return out
}

// ValidPurchases returns the purchases not yet expired in server time.
func (u *UserInfo) ValidPurchases() []Purchase {
	serverNow := u.ServerNow()
	var out []Purchase
	for _, p := range u.Purchases() {
		if !p.ExpiredAt(serverNow) {
			out = append(out, p)
		}
	}
	return out
}

// NextExpiringPurchase returns the valid purchase with the earliest expiry.
func (u *UserInfo) NextExpiringPurchase() (Purchase, bool) {
	var expiring []Purchase
	for _, p := range u.ValidPurchases() {
		if !p.Expiry.IsZero() {
			expiring = append(expiring, p)
		}
	}
	if len(expiring) == 0 {
		return Purchase{}, false
	}
	sort.SliceStable(expiring, func(i, j int) bool { return expiring[i].Expiry.Before(expiring[j].Expiry) })
	return expiring[0], true
}

// PurchasesByClass returns the purchases whose class matches one of classes.
func (u *UserInfo) PurchasesByClass(classes ...string) []Purchase {
	want := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		want[c] = struct{}{}
	}
	var out []Purchase
	for _, p := range u.Purchases() {
		if _, ok := want[p.TransactionClass]; ok {
			out = append(out, p)
		}
	}
	return out
}
