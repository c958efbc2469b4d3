// Package analyzer implements TokenAnalyzer (spec.md §4.6): the
// periodic worker that ages pending tokens into active/too_old and
// enriches active tokens with creator, creation-date and freeze
// metadata. No holder count is stored: the TrustSet accounts enrich
// sees in account_tx are collected but not persisted.
// Grounded in original_source/token_analyzer.py.
package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
	"github.com/ledgeroracle/xrpl-oracle/internal/streaming"
)

// Config bounds the analyzer's cadence and batching.
type Config struct {
	AnalysisInterval time.Duration
	BatchSize        int
	MaxTokenAgeHours float64
}

// DefaultConfig matches original_source/token_analyzer.py's defaults.
func DefaultConfig() Config {
	return Config{AnalysisInterval: 300 * time.Second, BatchSize: 10, MaxTokenAgeHours: 12}
}

// Analyzer is the TokenAnalyzer background worker.
type Analyzer struct {
	cfg     Config
	st      store.Store
	rpc     streaming.RequestResponse
	limiter *RateLimiter
	logger  *logrus.Logger
}

// New constructs an Analyzer with its own per-worker RateLimiter.
func New(cfg Config, st store.Store, rpc streaming.RequestResponse, logger *logrus.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, st: st, rpc: rpc, limiter: NewRateLimiter(), logger: logger}
}

// Run loops every AnalysisInterval until ctx is cancelled, matching
// the reference's ticker-driven periodic-task shape.
func (a *Analyzer) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.AnalysisInterval)
	defer ticker.Stop()
	for {
		if err := a.runOnce(ctx); err != nil {
			a.logger.WithError(err).Warn("analyzer: pass failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Analyzer) runOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	tokens, err := a.st.GetUnanalyzedTokens(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("analyzer: get unanalyzed tokens: %w", err)
	}

	for start := 0; start < len(tokens); start += a.cfg.BatchSize {
		end := start + a.cfg.BatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]

		var wg sync.WaitGroup
		for _, tok := range batch {
			tok := tok
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := a.analyzeToken(ctx, tok); err != nil {
					a.logger.WithError(err).WithField("token", tok.TokenID.String()).Debug("analyzer: token analysis failed")
				}
			}()
		}
		wg.Wait()
	}
	return nil
}

func (a *Analyzer) analyzeToken(ctx context.Context, tok model.TokenState) error {
	if err := a.limiter.WaitIfNeeded(ctx); err != nil {
		return err
	}

	// Age is derived from the first-seen transaction's ledger
	// timestamp, per spec.md §4.6 bullet 1.
	ageHours, err := a.tokenAgeHours(ctx, tok)
	if err != nil {
		if _, ok := err.(streaming.RateLimited); ok {
			a.limiter.Handle429()
			return nil
		}
		return err
	}
	a.limiter.HandleSuccess()

	if ageHours > a.cfg.MaxTokenAgeHours {
		return a.st.MarkToken(ctx, tok.TokenID, model.StatusTooOld)
	}

	if err := a.st.MarkToken(ctx, tok.TokenID, model.StatusActive); err != nil {
		return fmt.Errorf("analyzer: mark active: %w", err)
	}

	return a.enrich(ctx, tok.TokenID)
}

func (a *Analyzer) tokenAgeHours(ctx context.Context, tok model.TokenState) (float64, error) {
	if err := a.limiter.WaitIfNeeded(ctx); err != nil {
		return 0, err
	}
	hash := tok.FirstSeenTxHash
	if hash == "" {
		return 0, fmt.Errorf("analyzer: %s has no recorded first-seen tx hash", tok.TokenID.String())
	}
	result, err := a.rpc.Tx(ctx, hash)
	if err != nil {
		return 0, err
	}
	createdAt := model.RippleTimeToUTC(result.Date)
	return time.Since(createdAt).Hours(), nil
}

func (a *Analyzer) enrich(ctx context.Context, id model.TokenID) error {
	if err := a.limiter.WaitIfNeeded(ctx); err != nil {
		return err
	}
	txs, err := a.rpc.AccountTx(ctx, id.Issuer, 20)
	if err != nil {
		if _, ok := err.(streaming.RateLimited); ok {
			a.limiter.Handle429()
			return nil
		}
		return fmt.Errorf("analyzer: account_tx: %w", err)
	}
	a.limiter.HandleSuccess()

	patch := store.TokenStatePatch{}
	var creator string
	var creationDate *time.Time
	frozen := false
	seenTrustlineWallets := map[string]bool{}

	for _, tx := range txs {
		switch tx.TransactionType {
		case "TrustSet":
			seenTrustlineWallets[tx.Account] = true
		case "AccountSet":
			if model.HasGlobalFreeze(tx.Flags) {
				frozen = true
			}
		}
		ts := model.RippleTimeToUTC(tx.Date)
		if creationDate == nil || ts.Before(*creationDate) {
			creationDate = &ts
			creator = tx.Account
		}
	}

	patch.CreationDate = creationDate
	patch.Creator = &creator
	patch.IsFrozen = &frozen
	if err := a.st.UpsertTokenState(ctx, id, patch); err != nil {
		return fmt.Errorf("analyzer: upsert enrichment: %w", err)
	}

	return a.samplePrice(ctx, id)
}

func (a *Analyzer) samplePrice(ctx context.Context, id model.TokenID) error {
	offers, err := a.rpc.BookOffers(ctx, "XRP", "", id.Currency, id.Issuer)
	if err != nil || len(offers) == 0 {
		return nil
	}
	gets, err1 := decimal.NewFromString(offers[0].TakerGetsValue)
	pays, err2 := decimal.NewFromString(offers[0].TakerPaysValue)
	if err1 != nil || err2 != nil || pays.IsZero() {
		return nil
	}
	price := gets.Div(pays)

	now := time.Now().UTC()
	if err := a.st.RecordPriceSample(ctx, id, price, now); err != nil {
		return fmt.Errorf("analyzer: record price sample: %w", err)
	}
	if _, err := a.st.UpdateMaxPriceIfHigher(ctx, id, price, now); err != nil {
		return fmt.Errorf("analyzer: update max price: %w", err)
	}
	return nil
}
