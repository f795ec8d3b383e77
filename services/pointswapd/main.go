package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"pointswap/native/exchange"
	"pointswap/observability/logging"
	telemetry "pointswap/observability/otel"
	"pointswap/services/pointswapd/config"
	"pointswap/services/pointswapd/ledger"
	"pointswap/services/pointswapd/oracle"
	"pointswap/services/pointswapd/server"
	"pointswap/services/pointswapd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/pointswapd/config.yaml", "path to pointswapd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("POINTSWAP_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("pointswapd: load config: %v", err)
	}
	logger := logging.SetupWithFile("pointswapd", env, logging.FileConfig{
		Path:       cfg.LogFile.Path,
		MaxSizeMB:  cfg.LogFile.MaxSizeMB,
		MaxBackups: cfg.LogFile.MaxBackups,
		MaxAgeDays: cfg.LogFile.MaxAgeDays,
	})
	logger.Info("configuration loaded",
		"listen", cfg.ListenAddress,
		"precedence", cfg.Oracle.Precedence,
		logging.MaskField("ledger_auth_token", cfg.Ledger.AuthToken),
		logging.MaskField("admin_bearer_token", cfg.Admin.BearerToken),
	)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "pointswapd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("pointswapd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	kv, err := storage.OpenKV(cfg.StatePath)
	if err != nil {
		log.Fatalf("pointswapd: open state store: %v", err)
	}
	defer kv.Close()

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("pointswapd: resolve audit DSN: %v", err)
	}
	audit, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("pointswapd: open audit storage: %v", err)
	}
	defer audit.Close()

	ledgerClient, err := ledger.New(nil, cfg.Ledger.Endpoint, cfg.Ledger.AuthToken, cfg.Ledger.Timeout.Duration)
	if err != nil {
		log.Fatalf("pointswapd: ledger client: %v", err)
	}

	precedence, err := exchange.ParsePrecedence(cfg.Oracle.Precedence)
	if err != nil {
		log.Fatalf("pointswapd: %v", err)
	}

	feed := oracle.NewFeed()
	resolver := exchange.NewResolver(kv, feed, precedence, cfg.Exchange.Staleness.Duration)
	resolver.SetPointOracleRef(cfg.Oracle.PointFeed)

	engine := exchange.NewEngine(kv, ledgerClient, storage.NewPayoutQueue(audit), resolver)

	admin, err := config.ParseAddress(cfg.Admin.Address)
	if err != nil {
		log.Fatalf("pointswapd: admin address: %v", err)
	}
	if err := seedEngine(engine, admin, cfg, logger); err != nil {
		log.Fatalf("pointswapd: seed engine: %v", err)
	}

	var mgr *oracle.Manager
	if precedence != exchange.PrecedenceExternalOnly {
		sources := make([]oracle.Source, 0, len(cfg.Sources))
		for _, src := range cfg.Sources {
			built, err := oracle.BuildSource(nil, src.Name, src.Type, src.Endpoint, src.APIKey, src.Assets)
			if err != nil {
				log.Fatalf("pointswapd: build source %s: %v", src.Name, err)
			}
			sources = append(sources, built)
		}
		feeds := make([]oracle.FeedSpec, 0, len(cfg.Feeds))
		for _, spec := range cfg.Feeds {
			feeds = append(feeds, oracle.FeedSpec{Ref: spec.Ref, Base: spec.Base, Quote: spec.Quote})
		}
		mgr, err = oracle.New(audit, feed, sources, feeds,
			cfg.Oracle.Interval.Duration, cfg.Oracle.MaxAge.Duration, cfg.Oracle.MinFeeds,
			oracle.WithLogger(logger))
		if err != nil {
			log.Fatalf("pointswapd: oracle manager: %v", err)
		}
	}

	authenticator, err := server.NewAuthenticator(cfg.Admin.BearerToken)
	if err != nil {
		log.Fatalf("pointswapd: configure auth: %v", err)
	}
	srv, err := server.New(server.Config{ListenAddress: cfg.ListenAddress}, engine, audit, admin, authenticator, logger)
	if err != nil {
		log.Fatalf("pointswapd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mgr != nil {
		go func() {
			if err := mgr.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("oracle manager exited", "error", err)
				stop()
			}
		}()
	}

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}

// seedEngine applies configuration-driven engine parameters at boot. Every
// call is idempotent so restarts converge on the configured state.
func seedEngine(engine *exchange.Engine, admin exchange.Address, cfg config.Config, logger *slog.Logger) error {
	if err := engine.InitializeAdmin(admin); err != nil {
		if !errors.Is(err, exchange.ErrUnauthorized) {
			return err
		}
	} else {
		logger.Info("bootstrap admin initialised")
	}
	mode, _ := exchange.ParseAccessMode(cfg.Exchange.AccessMode)
	if err := engine.SetAccessMode(admin, mode); err != nil {
		return err
	}
	if cfg.Exchange.MaxFeeBps > 0 {
		if err := engine.UpdateMaxFee(admin, cfg.Exchange.MaxFeeBps); err != nil {
			return err
		}
	}
	if err := engine.SetRateConfig(admin, cfg.Exchange.RateNumerator, cfg.Exchange.RateDenominator); err != nil {
		return err
	}
	if limit := strings.TrimSpace(cfg.Exchange.DailyLimit); limit != "" {
		parsed, ok := new(big.Int).SetString(limit, 10)
		if !ok {
			return errors.New("invalid daily limit")
		}
		if err := engine.SetDailyVolumeLimit(admin, parsed); err != nil {
			return err
		}
	}
	for _, asset := range cfg.Assets {
		tokenCfg := &exchange.AssetConfig{
			Symbol:    asset.Symbol,
			Decimals:  asset.Decimals,
			FeeBps:    asset.FeeBps,
			Enabled:   asset.Enabled,
			OracleRef: asset.OracleRef,
			UpdatedAt: uint64(time.Now().Unix()),
		}
		if strings.TrimSpace(asset.Address) != "" {
			addr, err := config.ParseAddress(asset.Address)
			if err != nil {
				return err
			}
			tokenCfg.Address = addr
		}
		if err := engine.ConfigureToken(admin, tokenCfg); err != nil {
			return err
		}
		logger.Info("asset configured", "symbol", asset.Symbol)
	}
	return nil
}
