package userinfo

import (
	"sort"
	"time"
)

// TokenType names one kind of auth token issued by the ledger.
type TokenType string

const (
	TokenEarner    TokenType = "earner"
	TokenIndicator TokenType = "indicator"
	TokenSpender   TokenType = "spender"
	TokenLogout    TokenType = "logout"
	TokenAccount   TokenType = "account"
)

// AuthTokens maps token type to opaque token value.
type AuthTokens map[TokenType]string

// Clone returns an independent copy. A nil set clones to an empty one.
func (a AuthTokens) Clone() AuthTokens {
	out := make(AuthTokens, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Types returns the token types held, sorted.
func (a AuthTokens) Types() []TokenType {
	out := make([]TokenType, 0, len(a))
	for k := range a {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Values returns the token values ordered by token type.
func (a AuthTokens) Values() []string {
	types := a.Types()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = a[t]
	}
	return out
}

// PurchasePrice is one entry of the price list.
type PurchasePrice struct {
	TransactionClass string `json:"class" yaml:"class"`
	Distinguisher    string `json:"distinguisher" yaml:"distinguisher"`
	Price            int64  `json:"price" yaml:"price"`
}

// Purchase is a completed transaction. Expiry is in server time; a zero
// Expiry never expires.
type Purchase struct {
	TransactionClass string    `yaml:"class"`
	Distinguisher    string    `yaml:"distinguisher"`
	TransactionID    string    `yaml:"id"`
	Expiry           time.Time `yaml:"expiry,omitempty"`
	Authorization    string    `yaml:"-"`
}

// ExpiredAt reports whether p has expired at the given server time.
func (p Purchase) ExpiredAt(serverNow time.Time) bool {
	return !p.Expiry.IsZero() && !p.Expiry.After(serverNow)
}

// State is one consistent view of everything the store holds.
type State struct {
	IsAccount         bool
	Tokens            AuthTokens
	Balance           *int64
	PurchasePrices    []PurchasePrice
	Purchases         []Purchase
	ServerTimeDiff    time.Duration
	LastTransactionID string
	RequestMetadata   map[string]any
}

func newState() *State {
	return &State{
		Tokens:          AuthTokens{},
		Purchases:       []Purchase{},
		RequestMetadata: map[string]any{},
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := &State{
		IsAccount:         s.IsAccount,
		Tokens:            s.Tokens.Clone(),
		ServerTimeDiff:    s.ServerTimeDiff,
		LastTransactionID: s.LastTransactionID,
		Purchases:         append([]Purchase{}, s.Purchases...),
		RequestMetadata:   make(map[string]any, len(s.RequestMetadata)),
	}
	if s.Balance != nil {
		b := *s.Balance
		out.Balance = &b
	}
	if s.PurchasePrices != nil {
		out.PurchasePrices = append([]PurchasePrice{}, s.PurchasePrices...)
	}
	for k, v := range s.RequestMetadata {
		out.RequestMetadata[k] = v
	}
	return out
}

// HasPurchase reports whether a purchase with id is in history.
func (s *State) HasPurchase(id string) bool {
	for _, p := range s.Purchases {
		if p.TransactionID == id {
			return true
		}
	}
	return false
}

// normalize enforces that balance and price list exist only together with
// an indicator token.
func (s *State) normalize() {
	if s.Tokens == nil {
		s.Tokens = AuthTokens{}
	}
	if s.Purchases == nil {
		s.Purchases = []Purchase{}
	}
	if s.RequestMetadata == nil {
		s.RequestMetadata = map[string]any{}
	}
	if _, ok := s.Tokens[TokenIndicator]; !ok {
		s.Balance = nil
		s.PurchasePrices = nil
	}
}
