// Package walletscorer implements WalletScorer (spec.md §4.8): a
// periodic worker that scores each active wallet's historical skill at
// finding tokens early and trading them profitably, then writes the
// wallets clearing a minimum score to a CSV "alpha file".
// Grounded in original_source/wallet_scorer.py.
package walletscorer

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
)

// Config bounds the scorer's cadence and scoring thresholds, matching
// wallet_scorer.py's constructor defaults.
type Config struct {
	AnalysisInterval time.Duration
	MinTrades        int
	MinROI           decimal.Decimal
	EarlyAdopterMax  int
	AlphaThreshold   decimal.Decimal
	OutputFile       string
	ActiveWindow     time.Duration
}

// DefaultConfig matches wallet_scorer.py: 1h interval, min_roi=2.0
// (200%), early_adopter_max=10, alpha cutoff score>=7, 30-day window.
func DefaultConfig(outputFile string) Config {
	return Config{
		AnalysisInterval: time.Hour,
		MinTrades:        5,
		MinROI:           decimal.NewFromFloat(2.0),
		EarlyAdopterMax:  10,
		AlphaThreshold:   decimal.NewFromInt(7),
		OutputFile:       outputFile,
		ActiveWindow:     30 * 24 * time.Hour,
	}
}

// Scorer is the WalletScorer background worker.
type Scorer struct {
	cfg    Config
	st     store.Store
	logger *logrus.Logger
}

// New constructs a Scorer.
func New(cfg Config, st store.Store, logger *logrus.Logger) *Scorer {
	return &Scorer{cfg: cfg, st: st, logger: logger}
}

// Run loops every cfg.AnalysisInterval until ctx is cancelled.
func (s *Scorer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.AnalysisInterval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.WithError(err).Warn("walletscorer: pass failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type scored struct {
	address string
	score   decimal.Decimal
}

// RunOnce executes a single scoring pass over every active wallet and
// (re)writes the alpha file. Run calls this on every tick; the CLI's
// "alpha export" subcommand calls it directly for an immediate pass.
func (s *Scorer) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.ActiveWindow)
	wallets, err := s.st.GetActiveWallets(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("walletscorer: get active wallets: %w", err)
	}
	s.logger.WithField("count", len(wallets)).Info("walletscorer: scoring pass started")

	var alpha []scored
	for _, w := range wallets {
		score, err := s.scoreWallet(ctx, w)
		if err != nil {
			s.logger.WithError(err).WithField("wallet", w).Warn("walletscorer: score failed")
			continue
		}
		if score.IsZero() {
			continue
		}
		if err := s.st.UpdateWalletAlphaScore(ctx, w, score, time.Now().UTC()); err != nil {
			s.logger.WithError(err).WithField("wallet", w).Warn("walletscorer: update alpha score failed")
		}
		if score.GreaterThanOrEqual(s.cfg.AlphaThreshold) {
			alpha = append(alpha, scored{address: w, score: score})
		}
	}

	sort.Slice(alpha, func(i, j int) bool { return alpha[i].score.GreaterThan(alpha[j].score) })
	return s.writeAlphaFile(alpha)
}

// scoreWallet computes the 0-10 alpha score: 40% early-adoption rate,
// 40% trade success rate, 20% activity consistency.
func (s *Scorer) scoreWallet(ctx context.Context, wallet string) (decimal.Decimal, error) {
	trustlines, err := s.st.GetWalletTrustLines(ctx, wallet, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("walletscorer: get trustlines: %w", err)
	}
	if len(trustlines) < s.cfg.MinTrades {
		return decimal.Zero, nil
	}

	totalTokens := map[model.TokenID]bool{}
	for _, t := range trustlines {
		totalTokens[t.TokenID] = true
	}

	earlyAdoptions, err := s.countEarlyAdoptions(ctx, wallet, trustlines)
	if err != nil {
		return decimal.Zero, err
	}
	earlyRate := float64(earlyAdoptions) / float64(max1(len(totalTokens)))

	successfulTrades, err := s.analyzeTradingSuccess(ctx, wallet)
	if err != nil {
		return decimal.Zero, err
	}
	tradeSuccessRate := float64(successfulTrades) / float64(max1(len(totalTokens)))

	consistency := calculateConsistency(trustlines)

	score := earlyRate*4.0 + tradeSuccessRate*4.0 + consistency*2.0
	if score > 10 {
		score = 10
	}
	return decimal.NewFromFloat(score), nil
}

func (s *Scorer) countEarlyAdoptions(ctx context.Context, wallet string, trustlines []model.TrustLineEvent) (int, error) {
	count := 0
	for _, tl := range trustlines {
		position, err := s.st.GetTrustlinePosition(ctx, tl.TokenID, tl.Timestamp)
		if err != nil {
			return 0, fmt.Errorf("walletscorer: trustline position: %w", err)
		}
		if position <= s.cfg.EarlyAdopterMax {
			count++
		}
	}
	return count, nil
}

// analyzeTradingSuccess counts tokens where the wallet's first-3-buys
// average entry price, compared to the token's recorded max price,
// cleared MinROI.
func (s *Scorer) analyzeTradingSuccess(ctx context.Context, wallet string) (int, error) {
	trades, err := s.st.GetWalletTrades(ctx, wallet, nil)
	if err != nil {
		return 0, fmt.Errorf("walletscorer: get trades: %w", err)
	}

	byToken := map[model.TokenID][]model.TradeEvent{}
	for _, t := range trades {
		byToken[t.TokenID] = append(byToken[t.TokenID], t)
	}

	successCount := 0
	for id, tokenTrades := range byToken {
		maxPrice, err := s.st.GetMaxPrice(ctx, id)
		if err != nil {
			continue
		}

		var entries []model.TradeEvent
		for _, t := range tokenTrades {
			if t.Buyer == wallet {
				entries = append(entries, t)
			}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
		if len(entries) > 3 {
			entries = entries[:3]
		}
		if len(entries) == 0 {
			continue
		}

		sum := decimal.Zero
		for _, e := range entries {
			sum = sum.Add(e.PriceNative)
		}
		avgEntry := sum.Div(decimal.NewFromInt(int64(len(entries))))
		if avgEntry.IsZero() {
			continue
		}

		roi := maxPrice.Sub(avgEntry).Div(avgEntry)
		if roi.GreaterThanOrEqual(s.cfg.MinROI) {
			successCount++
		}
	}
	return successCount, nil
}

// calculateConsistency scores regular activity over time: 1 minus the
// standard deviation of hour-gaps between trustline events, normalized
// against a one-week (168h) expected spread.
func calculateConsistency(trustlines []model.TrustLineEvent) float64 {
	if len(trustlines) == 0 {
		return 0
	}
	sorted := make([]model.TrustLineEvent, len(trustlines))
	copy(sorted, trustlines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var gaps []float64
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Hours()
		gaps = append(gaps, gap)
	}
	if len(gaps) == 0 {
		return 0
	}

	var sum float64
	for _, g := range gaps {
		sum += g
	}
	avg := sum / float64(len(gaps))

	var variance float64
	for _, g := range gaps {
		variance += (g - avg) * (g - avg)
	}
	variance /= float64(len(gaps))
	stdDev := math.Sqrt(variance)

	const maxExpectedStdDev = 168.0
	ratio := stdDev / maxExpectedStdDev
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

func (s *Scorer) writeAlphaFile(alpha []scored) error {
	content := "PUBLIC_ADDRESS,SCORE\n"
	for _, a := range alpha {
		content += fmt.Sprintf("%s,%s\n", a.address, a.score.StringFixed(2))
	}
	if err := os.WriteFile(s.cfg.OutputFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("walletscorer: write alpha file: %w", err)
	}
	s.logger.WithField("count", len(alpha)).Info("walletscorer: alpha file written")
	return nil
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
