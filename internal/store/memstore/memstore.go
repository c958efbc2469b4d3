// Package memstore is an in-process Store implementation used by
// component tests, mirroring the "test suite substitutes an in-memory
// implementation" design note in spec.md §9.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
)

// Store is a mutex-guarded, entirely in-memory implementation of
// store.Store. Every append is deduplicated by tx_hash exactly as
// spec.md §4.2/Invariant 6 require.
type Store struct {
	mu sync.Mutex

	trustLineHashes map[string]bool
	tradeHashes     map[string]bool

	trustLines []model.TrustLineEvent
	trades     []model.TradeEvent

	tokens map[model.TokenID]*model.TokenState
	prices map[model.TokenID][]model.PriceSample

	wallets map[string]*model.WalletState
	alerts  []model.TokenAlert
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		trustLineHashes: make(map[string]bool),
		tradeHashes:     make(map[string]bool),
		tokens:          make(map[model.TokenID]*model.TokenState),
		prices:          make(map[model.TokenID][]model.PriceSample),
		wallets:         make(map[string]*model.WalletState),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) AppendTrustLine(_ context.Context, ev model.TrustLineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ev.TxHash + "|" + ev.Wallet + "|" + ev.TokenID.String()
	if s.trustLineHashes[key] {
		return store.ErrDuplicate
	}
	s.trustLineHashes[key] = true
	s.trustLines = append(s.trustLines, ev)

	w := s.wallets[ev.Wallet]
	if w == nil {
		w = &model.WalletState{Address: ev.Wallet, FirstSeen: ev.Timestamp}
		s.wallets[ev.Wallet] = w
	}
	w.LastActive = ev.Timestamp
	return nil
}

func (s *Store) AppendTrade(_ context.Context, ev model.TradeEvent) error {
	if ev.Buyer == "" || ev.Seller == "" {
		return store.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tradeHashes[ev.TxHash] {
		return store.ErrDuplicate
	}
	s.tradeHashes[ev.TxHash] = true
	s.trades = append(s.trades, ev)

	for _, addr := range []string{ev.Buyer, ev.Seller} {
		w := s.wallets[addr]
		if w == nil {
			w = &model.WalletState{Address: addr, FirstSeen: ev.Timestamp}
			s.wallets[addr] = w
		}
		w.LastActive = ev.Timestamp
	}
	return nil
}

func (s *Store) getOrCreate(id model.TokenID) *model.TokenState {
	ts, ok := s.tokens[id]
	if !ok {
		ts = &model.TokenState{TokenID: id, Status: model.StatusPending, TotalVolume: decimal.Zero}
		s.tokens[id] = ts
	}
	return ts
}

func (s *Store) UpsertTokenState(_ context.Context, id model.TokenID, patch store.TokenStatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.getOrCreate(id)

	if patch.FirstSeen != nil {
		ts.FirstSeen = *patch.FirstSeen
	}
	if patch.FirstSeenTxHash != nil {
		ts.FirstSeenTxHash = *patch.FirstSeenTxHash
	}
	if patch.TrustLines != nil {
		ts.TrustLines = *patch.TrustLines
	}
	if patch.TrustLineDelta != nil {
		ts.TrustLines += *patch.TrustLineDelta
		if ts.TrustLines < 0 {
			ts.TrustLines = 0
		}
	}
	if patch.Trades != nil {
		ts.Trades = *patch.Trades
	}
	if patch.TradesDelta != nil {
		ts.Trades += *patch.TradesDelta
	}
	if patch.TotalVolumeDelta != nil {
		ts.TotalVolume = ts.TotalVolume.Add(*patch.TotalVolumeDelta)
	}
	if patch.FirstTradeAt != nil && ts.FirstTradeAt == nil {
		ts.FirstTradeAt = patch.FirstTradeAt
	}
	if patch.Status != nil {
		if ts.Status != model.StatusTooOld {
			ts.Status = *patch.Status
		}
	}
	if patch.CreationDate != nil {
		ts.CreationDate = patch.CreationDate
	}
	if patch.Creator != nil {
		ts.Creator = *patch.Creator
	}
	if patch.IsFrozen != nil {
		ts.IsFrozen = *patch.IsFrozen
	}
	if patch.CurrentPrice != nil {
		ts.CurrentPrice = patch.CurrentPrice
	}
	if patch.FirstPrice != nil && ts.FirstPrice == nil {
		ts.FirstPrice = patch.FirstPrice
		ts.FirstPriceAt = patch.FirstPriceAt
	}
	ts.LastUpdated = time.Now().UTC()
	return nil
}

func (s *Store) MarkToken(_ context.Context, id model.TokenID, status model.TokenStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.getOrCreate(id)
	// Invariant 4: a too_old token is never re-promoted.
	if ts.Status == model.StatusTooOld {
		return nil
	}
	ts.Status = status
	ts.LastUpdated = time.Now().UTC()
	return nil
}

func (s *Store) GetTokenState(_ context.Context, id model.TokenID) (model.TokenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tokens[id]
	if !ok {
		return model.TokenState{}, store.ErrNotFound
	}
	return *ts, nil
}

func (s *Store) RecordPriceSample(_ context.Context, id model.TokenID, price decimal.Decimal, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[id] = append(s.prices[id], model.PriceSample{TokenID: id, Price: price, Timestamp: ts})
	state := s.getOrCreate(id)
	state.CurrentPrice = &price
	if state.FirstPrice == nil {
		state.FirstPrice = &price
		state.FirstPriceAt = &ts
	}
	return nil
}

func (s *Store) UpdateMaxPriceIfHigher(_ context.Context, id model.TokenID, price decimal.Decimal, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getOrCreate(id)
	if state.MaxPrice == nil || price.GreaterThan(*state.MaxPrice) {
		state.MaxPrice = &price
		state.MaxPriceAt = &ts
		return true, nil
	}
	return false, nil
}

func (s *Store) GetActiveTokens(_ context.Context, maxAge *time.Duration) ([]model.TokenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TokenState
	now := time.Now().UTC()
	for _, ts := range s.tokens {
		if ts.Status != model.StatusActive {
			continue
		}
		if maxAge != nil && now.Sub(ts.LastUpdated) < *maxAge {
			continue
		}
		out = append(out, *ts)
	}
	return out, nil
}

func (s *Store) GetUnanalyzedTokens(_ context.Context, cutoff time.Time) ([]model.TokenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TokenState
	for _, ts := range s.tokens {
		if ts.Status == model.StatusPending {
			out = append(out, *ts)
			continue
		}
		if ts.Status == model.StatusActive && ts.LastUpdated.Before(cutoff) {
			out = append(out, *ts)
		}
	}
	return out, nil
}

func (s *Store) GetWalletTrustLines(_ context.Context, wallet string, since *time.Time) ([]model.TrustLineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TrustLineEvent
	for _, ev := range s.trustLines {
		if ev.Wallet != wallet {
			continue
		}
		if since != nil && ev.Timestamp.Before(*since) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) GetWalletTrades(_ context.Context, wallet string, id *model.TokenID) ([]model.TradeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TradeEvent
	for _, ev := range s.trades {
		if ev.Buyer != wallet && ev.Seller != wallet {
			continue
		}
		if id != nil && ev.TokenID != *id {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) GetPriceHistory(_ context.Context, id model.TokenID, from, to time.Time) ([]model.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PriceSample
	for _, p := range s.prices[id] {
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) GetMaxPrice(_ context.Context, id model.TokenID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tokens[id]
	if !ok || ts.MaxPrice == nil {
		return decimal.Zero, store.ErrNotFound
	}
	return *ts.MaxPrice, nil
}

func (s *Store) GetActiveWallets(_ context.Context, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for addr, w := range s.wallets {
		if w.LastActive.After(since) {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) GetTrustlinePosition(_ context.Context, id model.TokenID, ts time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matching []model.TrustLineEvent
	for _, ev := range s.trustLines {
		if ev.TokenID == id && !ev.IsRemoval {
			matching = append(matching, ev)
		}
	}
	sort.Slice(matching, func(i, j int) bool { return matching[i].Timestamp.Before(matching[j].Timestamp) })

	// Position is 1-based rank among trust lines opened at or before ts.
	count := 0
	for _, ev := range matching {
		if !ev.Timestamp.After(ts) {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpsertWalletState(_ context.Context, address string, patch store.WalletStatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[address]
	if !ok {
		w = &model.WalletState{Address: address}
		s.wallets[address] = w
	}
	if patch.FirstSeen != nil {
		w.FirstSeen = *patch.FirstSeen
	}
	if patch.LastActive != nil {
		w.LastActive = *patch.LastActive
	}
	return nil
}

func (s *Store) UpdateWalletAlphaScore(_ context.Context, address string, score decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[address]
	if !ok {
		w = &model.WalletState{Address: address}
		s.wallets[address] = w
	}
	w.AlphaScore = &score
	w.ScoreUpdated = &at
	return nil
}

func (s *Store) RecordAlert(_ context.Context, alert model.TokenAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *Store) RecentAlerts(_ context.Context, limit int) ([]model.TokenAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.alerts) {
		limit = len(s.alerts)
	}
	out := make([]model.TokenAlert, limit)
	for i := range out {
		out[i] = s.alerts[len(s.alerts)-1-i]
	}
	return out, nil
}
