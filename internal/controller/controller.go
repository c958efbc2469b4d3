// Package controller implements the Controller (spec.md §4.9): the
// single owner of every long-lived component's lifecycle. It wires
// parsed frames from the market-wide StreamingMonitor to TokenTracker
// and the Store, and frames from the account-scoped monitor to the
// optional Follower, launches the four background workers (analyzer,
// price monitor, wallet scorer, reactivation scanner) as independent
// supervised tasks, and exposes the status document the
// observability surface serves. Grounded in the reference's
// cmd/oracle/startup.Application.
package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/alerting"
	"github.com/ledgeroracle/xrpl-oracle/internal/analyzer"
	"github.com/ledgeroracle/xrpl-oracle/internal/eventbus"
	"github.com/ledgeroracle/xrpl-oracle/internal/follower"
	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/internal/pricemonitor"
	"github.com/ledgeroracle/xrpl-oracle/internal/reactivation"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
	"github.com/ledgeroracle/xrpl-oracle/internal/streaming"
	"github.com/ledgeroracle/xrpl-oracle/internal/tracker"
	"github.com/ledgeroracle/xrpl-oracle/internal/txparser"
	"github.com/ledgeroracle/xrpl-oracle/internal/walletscorer"
)

// Config toggles the grace period and the two reporting flags spec.md
// §4.9's status struct carries.
type Config struct {
	GracePeriod time.Duration
	DebugMode   bool
	TestMode    bool
}

// DefaultConfig matches spec.md §5's stated 10-second shutdown grace
// period.
func DefaultConfig() Config {
	return Config{GracePeriod: 10 * time.Second}
}

// Status is the observability document spec.md §4.9 names.
type Status struct {
	Running                bool      `json:"running"`
	StartedAt              time.Time `json:"started_at"`
	LastError              string    `json:"last_error,omitempty"`
	TrustLinesToday        int64     `json:"trust_lines_today"`
	TransactionsToday      int64     `json:"transactions_today"`
	LastTransactionSummary string    `json:"last_transaction_summary,omitempty"`
	DebugMode              bool      `json:"debug_mode"`
	TestMode               bool      `json:"test_mode"`
}

// Controller owns every component's lifecycle and the dispatch points
// from the market-wide monitor's frames to TokenTracker and the Store
// (HandleFrame) and from the account-scoped monitor's frames to the
// optional Follower (HandleFollowerFrame).
type Controller struct {
	cfg    Config
	logger *logrus.Logger

	st       store.Store
	parser   *txparser.Parser
	track    *tracker.Tracker
	follow   *follower.Follower // nil when unconfigured
	marketMonitor *streaming.Monitor
	followerMonitor *streaming.Monitor // nil when unconfigured

	ana    *analyzer.Analyzer
	price  *pricemonitor.Monitor
	scorer *walletscorer.Scorer
	react  *reactivation.Scanner
	alerts *alerting.Manager
	bus    *eventbus.Bus // nil when no internal event fan-out is configured

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	lastErr   string
	lastTxSummary string

	trustLinesToday   int64
	transactionsToday int64
	dayRollover       time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dependencies bundles every constructed component the Controller
// wires together and owns. The market/follower StreamingMonitors are
// not included here: they must be constructed with HandleFrame /
// HandleFollowerFrame as their FrameHandler, which requires a
// Controller to already exist — wire them afterward with SetMonitors.
type Dependencies struct {
	Store        store.Store
	Parser       *txparser.Parser
	Tracker      *tracker.Tracker
	Follower     *follower.Follower
	Analyzer     *analyzer.Analyzer
	PriceMonitor *pricemonitor.Monitor
	WalletScorer *walletscorer.Scorer
	Reactivation *reactivation.Scanner
	Alerting     *alerting.Manager
	EventBus     *eventbus.Bus // optional; nil disables the trade_events fan-out
}

// New constructs a Controller from already-built dependencies. Call
// SetMonitors before Start.
func New(cfg Config, deps Dependencies, logger *logrus.Logger) *Controller {
	return &Controller{
		cfg:         cfg,
		logger:      logger,
		st:          deps.Store,
		parser:      deps.Parser,
		track:       deps.Tracker,
		follow:      deps.Follower,
		ana:         deps.Analyzer,
		price:       deps.PriceMonitor,
		scorer:      deps.WalletScorer,
		react:       deps.Reactivation,
		alerts:      deps.Alerting,
		bus:         deps.EventBus,
		dayRollover: time.Now().UTC(),
	}
}

// SetMonitors wires the market-wide and (optional) follower
// StreamingMonitors. followerMonitor is nil when no Follower is
// configured.
func (c *Controller) SetMonitors(market, followerMonitor *streaming.Monitor) {
	c.marketMonitor = market
	c.followerMonitor = followerMonitor
}

// Start launches every component as an independent supervised
// goroutine and wires the market monitor's raw frames through
// TxParser into TokenTracker.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("controller: already running")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.running = true
	c.startedAt = time.Now().UTC()
	c.mu.Unlock()

	c.launch("market monitor", c.marketMonitor.Run)

	if c.follow != nil && c.followerMonitor != nil {
		c.launch("follower monitor", c.followerMonitor.Run)
	}

	c.launch("tracker snapshot loop", c.track.Run)
	c.launch("analyzer", c.ana.Run)
	c.launch("price monitor", c.price.Run)
	c.launch("wallet scorer", c.scorer.Run)
	c.launch("reactivation scanner", c.react.Run)

	c.logger.Info("controller: all components started")
	return nil
}

func (c *Controller) launch(name string, run func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := run(c.ctx); err != nil {
			c.reportError(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// Stop cancels every component and waits up to cfg.GracePeriod for
// graceful exit before returning regardless, per spec.md §5's
// cancellation semantics.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("controller: all components exited cleanly")
	case <-time.After(c.cfg.GracePeriod):
		c.logger.Warn("controller: grace period elapsed, forcing shutdown")
	}
	return nil
}

// HandleFrame is the single dispatch point from the market monitor's
// raw frames to TxParser and TokenTracker. Pass this as the
// FrameHandler when constructing the market StreamingMonitor.
func (c *Controller) HandleFrame(ctx context.Context, raw []byte) {
	frame := c.parser.Parse(raw)
	c.rollDayIfNeeded()

	switch frame.Kind {
	case model.KindTrustSet:
		atomic.AddInt64(&c.trustLinesToday, 1)
		limit, err := decimal.NewFromString(frame.TrustSet.Value)
		if err != nil {
			c.reportError(fmt.Errorf("controller: non-decimal trust-line limit %q: %w", frame.TrustSet.Value, err))
			return
		}
		ev := model.TrustLineEvent{
			TokenID:   model.TokenID{Currency: frame.TrustSet.Currency, Issuer: frame.TrustSet.Issuer},
			Wallet:    frame.TrustSet.Wallet,
			Limit:     limit,
			TxHash:    frame.Hash,
			Timestamp: frame.Timestamp,
			IsRemoval: frame.TrustSet.Value == "0",
		}
		if err := c.st.AppendTrustLine(ctx, ev); err != nil && err != store.ErrDuplicate {
			c.reportError(fmt.Errorf("controller: append trust line: %w", err))
			return
		}
		c.track.OnTrustLine(ctx, ev)
		c.setLastTxSummary(fmt.Sprintf("TrustSet %s by %s", ev.TokenID.String(), ev.Wallet))

	case model.KindPayment:
		atomic.AddInt64(&c.transactionsToday, 1)
		ev := model.TradeEvent{
			TokenID:         model.TokenID{Currency: frame.Payment.Currency, Issuer: frame.Payment.Issuer},
			Buyer:           frame.Payment.Buyer,
			Seller:          frame.Payment.Seller,
			Amount:          frame.Payment.Value,
			DeliveredAmount: frame.Payment.DeliveredValue,
			PriceNative:     frame.Payment.PriceNative,
			TxHash:          frame.Hash,
			Timestamp:       frame.Timestamp,
		}
		if err := c.st.AppendTrade(ctx, ev); err != nil && err != store.ErrDuplicate {
			c.reportError(fmt.Errorf("controller: append trade: %w", err))
			return
		}
		c.track.OnPayment(ctx, ev)
		c.setLastTxSummary(fmt.Sprintf("Payment %s: %s -> %s", ev.TokenID.String(), ev.Seller, ev.Buyer))
		c.publishTrade(ctx, ev)
	}
}

// publishTrade fans a validated trade out onto the internal event bus
// for consumers decoupled from the frame-dispatch hot path (currently
// the dump-pattern detector). Best effort: a publish failure is logged
// but never blocks or fails frame handling.
func (c *Controller) publishTrade(ctx context.Context, ev model.TradeEvent) {
	if c.bus == nil {
		return
	}
	payload := map[string]interface{}{
		"currency":  ev.TokenID.Currency,
		"issuer":    ev.TokenID.Issuer,
		"seller":    ev.Seller,
		"buyer":     ev.Buyer,
		"tx_hash":   ev.TxHash,
		"timestamp": ev.Timestamp.Format(time.RFC3339),
	}
	if err := c.bus.Publish(ctx, "trade_events", payload); err != nil {
		c.logger.WithError(err).Debug("controller: trade_events publish failed")
	}
}

// HandleFollowerFrame is the dispatch point from the account-scoped
// monitor subscribed to the target wallet. Pass this as the
// FrameHandler when constructing the follower StreamingMonitor.
func (c *Controller) HandleFollowerFrame(ctx context.Context, raw []byte) {
	frame := c.parser.Parse(raw)
	if frame.Kind != model.KindTrustSet {
		return
	}
	c.follow.OnTrustLine(ctx, frame)
}

func (c *Controller) rollDayIfNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	if now.YearDay() != c.dayRollover.YearDay() || now.Year() != c.dayRollover.Year() {
		atomic.StoreInt64(&c.trustLinesToday, 0)
		atomic.StoreInt64(&c.transactionsToday, 0)
		c.dayRollover = now
	}
}

// RecordTrustLineSubmission folds the Follower's own validated TrustSet
// submissions into the same daily counter HandleFrame increments for
// market-observed trust lines (Testable Scenario S4, spec.md §8).
func (c *Controller) RecordTrustLineSubmission() {
	atomic.AddInt64(&c.trustLinesToday, 1)
}

// ReportFatal records an out-of-band component failure (e.g. the
// observability server's own listener) into the status document's
// LastError field, the same path component goroutines launched via
// launch use.
func (c *Controller) ReportFatal(err error) {
	c.reportError(err)
}

func (c *Controller) reportError(err error) {
	c.logger.WithError(err).Error("controller: component error")
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func (c *Controller) setLastTxSummary(summary string) {
	c.mu.Lock()
	c.lastTxSummary = summary
	c.mu.Unlock()
}

// Status returns a snapshot of the observability document.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Running:                c.running,
		StartedAt:              c.startedAt,
		LastError:              c.lastErr,
		TrustLinesToday:        atomic.LoadInt64(&c.trustLinesToday),
		TransactionsToday:      atomic.LoadInt64(&c.transactionsToday),
		LastTransactionSummary: c.lastTxSummary,
		DebugMode:              c.cfg.DebugMode,
		TestMode:               c.cfg.TestMode,
	}
}
