// Package tracker maintains the in-memory TokenState/HotSet
// projection TokenTracker owns (spec.md §4.4), fed by the events
// Controller extracts from TxParser's classified frames and passes in
// directly. It periodically snapshots
// non-filtered state to disk for crash recovery and observability.
// Grounded in the reference's internal/token.Engine (in-memory cache
// over a backing store) and internal/reactivation.System (ticker-
// driven periodic task shape).
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
)

// Config bounds the hot-token threshold and snapshot cadence.
type Config struct {
	HotThreshold     int64
	SnapshotInterval time.Duration
	SnapshotPath     string
}

// DefaultConfig mirrors spec.md §4.4's stated default save interval.
func DefaultConfig(path string) Config {
	return Config{HotThreshold: 5, SnapshotInterval: 300 * time.Second, SnapshotPath: path}
}

// entry is the tracker's private view of a token: the subset of
// TokenState it owns plus the moment it entered HotSet.
type entry struct {
	state      model.TokenState
	filtered   bool
	timeToHot  *time.Duration
}

// Tracker owns the in-memory TokenState/HotSet projection. Exactly one
// goroutine calls OnTrustLine/OnPayment; other components read through
// Store, never through Tracker directly (spec §5 shared-resource
// policy).
type Tracker struct {
	cfg    Config
	store  store.Store
	logger *logrus.Logger

	mu      sync.RWMutex
	tokens  map[model.TokenID]*entry
	hotSet  map[model.TokenID]bool

	onHot func(model.TokenID)
}

// New constructs a Tracker.
func New(cfg Config, st store.Store, logger *logrus.Logger, onHot func(model.TokenID)) *Tracker {
	return &Tracker{
		cfg:    cfg,
		store:  st,
		logger: logger,
		tokens: make(map[model.TokenID]*entry),
		hotSet: make(map[model.TokenID]bool),
		onHot:  onHot,
	}
}

// Run starts the periodic snapshot loop; it returns when ctx is
// cancelled, matching the reference reactivation.System.scanRoutine
// ticker-with-ctx.Done shape.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.WriteSnapshot(); err != nil {
				t.logger.WithError(err).Warn("tracker: snapshot write failed")
			}
		}
	}
}

// OnTrustLine applies a TrustLineEvent to the in-memory state per
// spec.md §4.4's TrustSet-handling bullets.
func (t *Tracker) OnTrustLine(ctx context.Context, ev model.TrustLineEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, known := t.tokens[ev.TokenID]
	if !known {
		state, err := t.store.GetTokenState(ctx, ev.TokenID)
		if err == nil && state.Status == model.StatusTooOld {
			t.tokens[ev.TokenID] = &entry{state: model.TokenState{TokenID: ev.TokenID, Status: model.StatusFiltered}, filtered: true}
			return
		}
		if ev.IsRemoval {
			// A removal for a token we have never tracked is a no-op.
			return
		}
		e = &entry{state: model.TokenState{
			TokenID:         ev.TokenID,
			FirstSeen:       ev.Timestamp,
			FirstSeenTxHash: ev.TxHash,
			TrustLines:      1,
			Status:          model.StatusPending,
			TotalVolume:     decimal.Zero,
			LastUpdated:     ev.Timestamp,
		}}
		t.tokens[ev.TokenID] = e
		delta := int64(1)
		status := model.StatusPending
		first := ev.Timestamp
		firstHash := ev.TxHash
		_ = t.store.UpsertTokenState(ctx, ev.TokenID, store.TokenStatePatch{TrustLineDelta: &delta, Status: &status, FirstSeen: &first, FirstSeenTxHash: &firstHash})
		t.logger.WithField("token", ev.TokenID.String()).Info("tracker: discovered new token")
		return
	}

	if e.filtered {
		return
	}

	if ev.IsRemoval {
		if e.state.TrustLines > 0 {
			e.state.TrustLines--
		}
		delta := int64(-1)
		_ = t.store.UpsertTokenState(ctx, ev.TokenID, store.TokenStatePatch{TrustLineDelta: &delta})
		return
	}

	e.state.TrustLines++
	delta := int64(1)
	_ = t.store.UpsertTokenState(ctx, ev.TokenID, store.TokenStatePatch{TrustLineDelta: &delta})

	if e.state.TrustLines == t.cfg.HotThreshold && !t.hotSet[ev.TokenID] {
		t.hotSet[ev.TokenID] = true
		ttHot := ev.Timestamp.Sub(e.state.FirstSeen)
		e.timeToHot = &ttHot
		t.logger.WithFields(logrus.Fields{"token": ev.TokenID.String(), "time_to_hot": ttHot}).Info("tracker: token reached hot threshold")
		if t.onHot != nil {
			t.onHot(ev.TokenID)
		}
	}
}

// OnPayment applies a TradeEvent to the in-memory state per spec.md
// §4.4's Payment-handling bullet.
func (t *Tracker) OnPayment(ctx context.Context, ev model.TradeEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, known := t.tokens[ev.TokenID]
	if !known || e.filtered {
		return
	}

	e.state.Trades++
	e.state.TotalVolume = e.state.TotalVolume.Add(ev.DeliveredAmount)
	if e.state.FirstTradeAt == nil {
		ts := ev.Timestamp
		e.state.FirstTradeAt = &ts
	}

	tradesDelta := int64(1)
	volDelta := ev.DeliveredAmount
	firstTrade := e.state.FirstTradeAt
	_ = t.store.UpsertTokenState(ctx, ev.TokenID, store.TokenStatePatch{TradesDelta: &tradesDelta, TotalVolumeDelta: &volDelta, FirstTradeAt: firstTrade})

	if t.hotSet[ev.TokenID] {
		t.logger.WithFields(logrus.Fields{
			"token": ev.TokenID.String(), "buyer": ev.Buyer, "seller": ev.Seller,
		}).Info("tracker: trade observed on hot token")
	}
}

// IsHot reports current HotSet membership (latching, Invariant 2).
func (t *Tracker) IsHot(id model.TokenID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hotSet[id]
}

// snapshotDoc is the on-disk shape spec.md §4.4/§6 describes.
type snapshotDoc struct {
	Timestamp time.Time                      `json:"timestamp"`
	Tokens    map[string]snapshotTokenState  `json:"tokens"`
	HotTokens []string                       `json:"hot_tokens"`
}

type snapshotTokenState struct {
	Status      string `json:"status"`
	TrustLines  int64  `json:"trust_lines"`
	Trades      int64  `json:"trades"`
	TotalVolume string `json:"total_volume"`
	FirstSeen   time.Time `json:"first_seen"`
}

// WriteSnapshot serializes non-filtered in-memory state to
// cfg.SnapshotPath.
func (t *Tracker) WriteSnapshot() error {
	t.mu.RLock()
	doc := snapshotDoc{Timestamp: time.Now().UTC(), Tokens: make(map[string]snapshotTokenState)}
	for id, e := range t.tokens {
		if e.filtered {
			continue
		}
		doc.Tokens[id.String()] = snapshotTokenState{
			Status:      string(e.state.Status),
			TrustLines:  e.state.TrustLines,
			Trades:      e.state.Trades,
			TotalVolume: e.state.TotalVolume.String(),
			FirstSeen:   e.state.FirstSeen,
		}
	}
	for id := range t.hotSet {
		doc.HotTokens = append(doc.HotTokens, id.String())
	}
	t.mu.RUnlock()

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("tracker: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(t.cfg.SnapshotPath, raw, 0o644); err != nil {
		return fmt.Errorf("tracker: write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores in-memory state from disk on startup. It is a
// restoration aid only — if the Store disagrees, the Store wins, per
// spec.md §4.4.
func (t *Tracker) LoadSnapshot() error {
	raw, err := os.ReadFile(t.cfg.SnapshotPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tracker: read snapshot: %w", err)
	}
	var doc snapshotDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("tracker: unmarshal snapshot: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, st := range doc.Tokens {
		id, ok := parseTokenKey(key)
		if !ok {
			continue
		}
		vol, _ := decimal.NewFromString(st.TotalVolume)
		t.tokens[id] = &entry{state: model.TokenState{
			TokenID: id, Status: model.TokenStatus(st.Status), TrustLines: st.TrustLines,
			Trades: st.Trades, TotalVolume: vol, FirstSeen: st.FirstSeen,
		}}
	}
	for _, key := range doc.HotTokens {
		if id, ok := parseTokenKey(key); ok {
			t.hotSet[id] = true
		}
	}
	return nil
}

func parseTokenKey(key string) (model.TokenID, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return model.TokenID{Currency: key[:i], Issuer: key[i+1:]}, true
		}
	}
	return model.TokenID{}, false
}
