// Package startup wires every long-lived component together from a
// loaded config.Config and hands back the Controller and the
// observability Server, the same separation of concerns as the
// reference's cmd/oracle/startup.InitializeApplication (constructor
// does the wiring, main.go only starts/stops and handles signals).
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ledgeroracle/xrpl-oracle/internal/alerting"
	"github.com/ledgeroracle/xrpl-oracle/internal/analyzer"
	"github.com/ledgeroracle/xrpl-oracle/internal/api"
	"github.com/ledgeroracle/xrpl-oracle/internal/cache"
	"github.com/ledgeroracle/xrpl-oracle/internal/controller"
	"github.com/ledgeroracle/xrpl-oracle/internal/dumpdetector"
	"github.com/ledgeroracle/xrpl-oracle/internal/eventbus"
	"github.com/ledgeroracle/xrpl-oracle/internal/follower"
	"github.com/ledgeroracle/xrpl-oracle/internal/pricemonitor"
	"github.com/ledgeroracle/xrpl-oracle/internal/reactivation"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
	"github.com/ledgeroracle/xrpl-oracle/internal/store/memstore"
	"github.com/ledgeroracle/xrpl-oracle/internal/store/pgstore"
	"github.com/ledgeroracle/xrpl-oracle/internal/streaming"
	"github.com/ledgeroracle/xrpl-oracle/internal/tracker"
	"github.com/ledgeroracle/xrpl-oracle/internal/txparser"
	"github.com/ledgeroracle/xrpl-oracle/internal/walletscorer"
	"github.com/ledgeroracle/xrpl-oracle/internal/model"
	"github.com/ledgeroracle/xrpl-oracle/pkg/config"

	"github.com/shopspring/decimal"
)

// closer is satisfied by both store backends' Close(), letting
// InitializeApplication treat memstore and pgstore uniformly.
type closer interface {
	Close() error
}

// Application bundles the fully wired Controller and observability
// Server, plus the infrastructure handles that need an explicit
// Close() independent of Controller.Stop().
type Application struct {
	Controller *controller.Controller
	APIServer  *api.Server

	db    closer
	redis *cache.Redis
}

// InitializeApplication constructs every component named in spec.md
// §4 and wires them into a Controller, matching the reference's
// InitializeApplication but targeting this domain's component set
// instead of the gmgn/token/wallet/memory stack it originally built.
func InitializeApplication(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Application, error) {
	st, storeCloser, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	redisClient, err := cache.New(ctx, cache.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		storeCloser.Close()
		return nil, fmt.Errorf("startup: connect redis: %w", err)
	}

	bus := eventbus.New(redisClient.Client(), logger)

	parser := txparser.New(txparser.Config{
		MinTradeVolume: decimal.NewFromFloat(cfg.Monitoring.MinTradeVolume),
	}, logger)

	alerts := alerting.New(st, logger)

	trackerCfg := tracker.DefaultConfig(cfg.Monitoring.DataFile)
	trackerCfg.HotThreshold = cfg.Monitoring.MinTrustLines
	trackerCfg.SnapshotInterval = time.Duration(cfg.Monitoring.SaveIntervalMinutes) * time.Minute
	trk := tracker.New(trackerCfg, st, logger, func(id model.TokenID) {
		logger.WithField("token", id.String()).Info("tracker: token promoted to hot set")
	})

	reconnectDelay := time.Duration(cfg.Network.ReconnectDelaySeconds) * time.Second
	rpc, err := streaming.DialRPC(ctx, cfg.Network.WebsocketURL, 30*time.Second)
	if err != nil {
		redisClient.Close()
		storeCloser.Close()
		return nil, fmt.Errorf("startup: dial rpc client: %w", err)
	}

	ana := analyzer.New(analyzer.DefaultConfig(), st, rpc, logger)
	price := pricemonitor.New(pricemonitor.DefaultConfig(), st, rpc, logger)
	scorer := walletscorer.New(walletscorer.DefaultConfig("alpha_wallets.csv"), st, logger)
	react := reactivation.New(reactivation.DefaultConfig(), st, alerts, logger)

	detector := dumpdetector.New(dumpdetector.DefaultConfig(), alerts, logger)
	if err := detector.Subscribe(ctx, bus, "dumpdetector-1"); err != nil {
		logger.WithError(err).Warn("startup: dump detector subscribe failed, dump alerts disabled")
	}

	// ctrl is assigned below, after Controller construction; the
	// closure captures the variable, not its (nil) value at this point,
	// so by the time the Follower ever calls onSubmitted a live
	// Controller is in place. Mirrors the SetMonitors post-construction
	// wiring used for the StreamingMonitors' FrameHandlers.
	var ctrl *controller.Controller

	var foll *follower.Follower
	if cfg.Wallets.TargetWallet != "" && cfg.Wallets.FollowerSeed != "" {
		submitter := streaming.NewSubmitter(rpc, cfg.Wallets.TargetWallet, cfg.Wallets.FollowerSeed)
		foll = follower.New(follower.Config{
			TargetWallet:          cfg.Wallets.TargetWallet,
			MinTrustLineAmount:    decimal.NewFromInt(cfg.Trading.MinTrustLineAmount),
			MaxTrustLineAmount:    decimal.NewFromInt(cfg.Trading.MaxTrustLineAmount),
			AutoPurchaseOnTrust:   cfg.Trading.AutoPurchaseOnTrust,
			InitialPurchaseAmount: decimal.NewFromFloat(cfg.Trading.InitialPurchaseAmount),
			SendMaxNative:         decimal.NewFromFloat(cfg.Trading.SendMaxNative),
			SlippagePercent:       decimal.NewFromFloat(cfg.Trading.SlippagePercent),
		}, submitter, logger, func(err error) {
			logger.WithError(err).Error("follower: mirror failed")
		}, func() {
			if ctrl != nil {
				ctrl.RecordTrustLineSubmission()
			}
		})
	}

	ctrl = controller.New(controller.DefaultConfig(), controller.Dependencies{
		Store:        st,
		Parser:       parser,
		Tracker:      trk,
		Follower:     foll,
		Analyzer:     ana,
		PriceMonitor: price,
		WalletScorer: scorer,
		Reactivation: react,
		Alerting:     alerts,
		EventBus:     bus,
	}, logger)

	marketMonitor := streaming.New(streaming.Config{
		URL:                  cfg.Network.WebsocketURL,
		Streams:              []string{"transactions"},
		MaxReconnectAttempts: cfg.Network.MaxReconnectAttempts,
		InitialBackoff:       reconnectDelay,
		MaxBackoff:           320 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
	}, streaming.DialWebsocket, ctrl.HandleFrame, logger, nil)

	var followerMonitor *streaming.Monitor
	if foll != nil {
		followerMonitor = streaming.New(streaming.Config{
			URL:                  cfg.Network.WebsocketURL,
			Accounts:             []string{cfg.Wallets.TargetWallet},
			MaxReconnectAttempts: cfg.Network.MaxReconnectAttempts,
			InitialBackoff:       reconnectDelay,
			MaxBackoff:           320 * time.Second,
			HeartbeatInterval:    30 * time.Second,
			HeartbeatTimeout:     10 * time.Second,
		}, streaming.DialWebsocket, ctrl.HandleFollowerFrame, logger, nil)
	}
	ctrl.SetMonitors(marketMonitor, followerMonitor)

	apiSrv := api.NewServer(api.Config{
		Host:         cfg.API.Host,
		Port:         cfg.API.Port,
		ReadTimeout:  time.Duration(cfg.API.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.API.WriteTimeout) * time.Second,
	}, ctrl, alerts, logger)

	return &Application{
		Controller: ctrl,
		APIServer:  apiSrv,
		db:         storeCloser,
		redis:      redisClient,
	}, nil
}

// Closer is the minimal interface OpenStore's second return value
// satisfies, exported so CLI subcommands that only need read access to
// the store can release it without depending on this package's
// private closer type.
type Closer interface {
	Close() error
}

// OpenStore connects to Postgres, falling back to an in-memory store
// (logged as a warning, never a fatal error) when Postgres is
// unreachable — useful for the inspection subcommands run against a
// throwaway environment.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, Closer, error) {
	return buildStore(ctx, cfg, logger)
}

func buildStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, closer, error) {
	pg, err := pgstore.New(ctx, pgstore.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxConnections),
		MinConns:        int32(cfg.Database.MinConnections),
		MaxConnLifetime: time.Duration(cfg.Database.MaxConnLifetime) * time.Second,
		MaxConnIdleTime: time.Duration(cfg.Database.MaxConnIdleTime) * time.Second,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("startup: postgres unreachable, falling back to in-memory store")
		return memstore.New(), nopCloser{}, nil
	}
	return pg, pg, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Start launches the Controller and the observability server.
func (app *Application) Start() error {
	if err := app.Controller.Start(); err != nil {
		return fmt.Errorf("startup: start controller: %w", err)
	}
	go func() {
		if err := app.APIServer.Start(); err != nil {
			app.Controller.ReportFatal(fmt.Errorf("api server: %w", err))
		}
	}()
	return nil
}

// Stop shuts down the observability server, the Controller, and every
// infrastructure connection, in reverse order of construction.
func (app *Application) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.APIServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("startup: shutdown api server: %w", err)
	}
	if err := app.Controller.Stop(); err != nil {
		return fmt.Errorf("startup: stop controller: %w", err)
	}
	app.redis.Close()
	app.db.Close()
	return nil
}
