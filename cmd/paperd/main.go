package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/engine"
	"main/internal/ledger"
	"main/internal/monitor"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/pricefeed"
)

var defaultMockPrices = map[string]decimal.Decimal{
	"BTCUSDT": decimal.NewFromInt(100000),
	"ETHUSDT": decimal.NewFromInt(3000),
	"SOLUSDT": decimal.NewFromInt(150),
}

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...interface{})  {}
func (emptyLogger) Debugf(string, ...interface{}) {}
func (emptyLogger) Errorf(string, ...interface{}) {}

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	profile := flag.String("profile", "", "Account profile (overrides config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("load config: %+v", err)
		os.Exit(1)
	}
	if *profile != "" {
		cfg.Profile = *profile
	}

	if cfg.Profiler != nil {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiler.ApplicationName,
			ServerAddress:   cfg.Profiler.ServerAddress,
			Tags:            map[string]string{"profile": cfg.Profile},
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("start profiler: %+v", err)
			os.Exit(1)
		}
		defer func() { _ = profiler.Stop() }()
	}

	cat, err := cfg.BuildCatalog()
	if err != nil {
		logs.Errorf("build catalog: %+v", err)
		os.Exit(1)
	}

	store, err := buildStore(cfg)
	if err != nil {
		logs.Errorf("build store: %+v", err)
		os.Exit(1)
	}
	defer store.Close()

	feed, cleanup, err := buildFeed(ctx, cfg, cat.Symbols())
	if err != nil {
		logs.Errorf("build feed: %+v", err)
		os.Exit(1)
	}
	defer cleanup()

	var metrics *obs.Metrics
	if cfg.Metrics.Enabled {
		metrics = obs.NewMetrics(cfg.Profile)
		listen := cfg.Metrics.Listen
		if listen == "" {
			listen = ":9090"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(listen, mux); err != nil {
				logs.Errorf("metrics server: %+v", err)
			}
		}()
		logs.Infof("metrics listening on %s", listen)
	}

	eng := engine.New(engine.Config{
		Profile:              cfg.Profile,
		Currency:             cfg.Account.Currency,
		InitialBalance:       cfg.Account.InitialBalance,
		LimitOrderTTL:        cfg.Account.LimitOrderTTL.Std(24 * time.Hour),
		WarnOnlyLiquidations: cfg.Monitors.LiquidationWarnOnly,
	}, cat, feed, store, metrics)
	if err := eng.Open(ctx); err != nil {
		logs.Errorf("open engine: %+v", err)
		os.Exit(1)
	}

	liquidation := monitor.NewLiquidationMonitor(eng, cfg.Monitors.LiquidationInterval.Std(2*time.Second))
	stops := monitor.NewStopMonitor(eng, cfg.Monitors.StopInterval.Std(2*time.Second))
	sweeper := monitor.NewOrderSweepMonitor(eng, cfg.Monitors.OrderSweepInterval.Std(5*time.Second))
	funding := monitor.NewFundingScheduler(eng, cfg.Monitors.FundingPoll.Std(time.Minute))

	liquidation.Start(ctx)
	stops.Start(ctx)
	sweeper.Start(ctx)
	funding.Start(ctx)

	logs.Infof("paperd running, profile: %s, symbols: %v", cfg.Profile, cat.Symbols())
	<-ctx.Done()
	logs.Info("shutting down")

	funding.Stop()
	sweeper.Stop()
	stops.Stop()
	liquidation.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Close(shutdownCtx); err != nil {
		logs.Errorf("close engine: %+v", err)
	}
}

func buildStore(cfg ops.FileConfig) (ledger.Store, error) {
	switch cfg.Storage.Backend {
	case "", "file":
		dir := cfg.Storage.Dir
		if dir == "" {
			dir = "data"
		}
		return ledger.NewFile(dir)
	case "memory":
		return ledger.NewMemory(), nil
	case "postgres":
		pg := cfg.Storage.Postgres
		return ledger.NewPostgres(ledger.PostgresOption{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Database: pg.Database,
			SSLMode:  pg.SSLMode,
		})
	}
	return nil, nil
}

func buildFeed(ctx context.Context, cfg ops.FileConfig, symbols []string) (pricefeed.Feed, func(), error) {
	ttl := cfg.Feed.CacheTTL.Std(5 * time.Second)

	switch cfg.Feed.Source {
	case "", "binance":
		src := pricefeed.NewBinance(ctx)
		if err := src.Start(ctx); err != nil {
			return nil, nil, err
		}
		for _, symbol := range symbols {
			if err := src.SubscribeMarkPrice(ctx, symbol); err != nil {
				src.Close()
				return nil, nil, err
			}
		}
		return pricefeed.NewCached(src, ttl), src.Close, nil
	default:
		base := cfg.BasePrices()
		if len(base) == 0 {
			base = defaultMockPrices
		}
		src := pricefeed.NewMock(cfg.Feed.MockSeed, base)
		if !cfg.Feed.FundingRate.IsZero() {
			for symbol := range base {
				src.SetFundingRate(symbol, cfg.Feed.FundingRate)
			}
		}
		return pricefeed.NewCached(src, ttl), func() {}, nil
	}
}
