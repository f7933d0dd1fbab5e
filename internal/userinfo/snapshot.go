package userinfo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/loykin/psicash/internal/constants"
	"github.com/loykin/psicash/internal/dates"
)

// snapshot is the persisted form of State.
type snapshot struct {
	Version               int               `json:"version"`
	IsAccount             bool              `json:"isAccount"`
	AuthTokens            map[string]string `json:"authTokens"`
	Balance               *int64            `json:"balance"`
	PurchasePrices        []PurchasePrice   `json:"purchasePrices"`
	Purchases             []purchaseRecord  `json:"purchases"`
	ServerTimeDiffSeconds float64           `json:"serverTimeDiffSeconds"`
	LastTransactionID     string            `json:"lastTransactionID,omitempty"`
	RequestMetadata       map[string]any    `json:"requestMetadata"`
}

type purchaseRecord struct {
	Class         string `json:"class"`
	Distinguisher string `json:"distinguisher"`
	ID            string `json:"id"`
	Expiry        string `json:"expiry,omitempty"`
	Authorization string `json:"authorization,omitempty"`
}

// Encode serializes s into the versioned datastore document.
func Encode(s *State) ([]byte, error) {
	snap := snapshot{
		Version:               constants.DatastoreVersion,
		IsAccount:             s.IsAccount,
		AuthTokens:            make(map[string]string, len(s.Tokens)),
		Balance:               s.Balance,
		PurchasePrices:        s.PurchasePrices,
		Purchases:             make([]purchaseRecord, 0, len(s.Purchases)),
		ServerTimeDiffSeconds: s.ServerTimeDiff.Seconds(),
		LastTransactionID:     s.LastTransactionID,
		RequestMetadata:       s.RequestMetadata,
	}
	for k, v := range s.Tokens {
		snap.AuthTokens[string(k)] = v
	}
	if snap.RequestMetadata == nil {
		snap.RequestMetadata = map[string]any{}
	}
	for _, p := range s.Purchases {
		rec := purchaseRecord{
			Class:         p.TransactionClass,
			Distinguisher: p.Distinguisher,
			ID:            p.TransactionID,
			Authorization: p.Authorization,
		}
		if !p.Expiry.IsZero() {
			rec.Expiry = dates.FormatISO8601(p.Expiry)
		}
		snap.Purchases = append(snap.Purchases, rec)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode datastore: %w", err)
	}
	return data, nil
}

// Decode parses a datastore document. Empty input yields an empty State.
func Decode(data []byte) (*State, error) {
	if len(data) == 0 {
		return newState(), nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode datastore: %w", err)
	}
	if snap.Version != constants.DatastoreVersion {
		return nil, fmt.Errorf("unsupported datastore version %d", snap.Version)
	}

	s := newState()
	s.IsAccount = snap.IsAccount
	for k, v := range snap.AuthTokens {
		s.Tokens[TokenType(k)] = v
	}
	s.Balance = snap.Balance
	s.PurchasePrices = snap.PurchasePrices
	s.ServerTimeDiff = time.Duration(snap.ServerTimeDiffSeconds * float64(time.Second))
	s.LastTransactionID = snap.LastTransactionID
	for k, v := range snap.RequestMetadata {
		s.RequestMetadata[k] = v
	}
	for _, rec := range snap.Purchases {
		p := Purchase{
			TransactionClass: rec.Class,
			Distinguisher:    rec.Distinguisher,
			TransactionID:    rec.ID,
			Authorization:    rec.Authorization,
		}
		if rec.Expiry != "" {
			t, err := dates.ParseISO8601(rec.Expiry)
			if err != nil {
				return nil, fmt.Errorf("decode purchase %s: %w", rec.ID, err)
			}
			p.Expiry = t
		}
		s.Purchases = append(s.Purchases, p)
	}
	s.normalize()
	return s, nil
}
