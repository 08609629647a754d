package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tickerhub/internal/application/port"
	"tickerhub/internal/application/service"
	"tickerhub/internal/domain"
	"tickerhub/internal/infrastructure/bus/kafka"
	"tickerhub/internal/infrastructure/config"
	"tickerhub/internal/infrastructure/logger"
	"tickerhub/internal/infrastructure/storage/postgres"
	redisstore "tickerhub/internal/infrastructure/storage/redis"
	"tickerhub/internal/infrastructure/storage/sqlite"
	"tickerhub/internal/infrastructure/venue/broker"
	"tickerhub/internal/infrastructure/venue/exchange"
	"tickerhub/internal/interfaces/stream"
)

// demandRouter sends on-demand subscriptions to the venue that carries the
// symbol's market.
type demandRouter struct {
	equities *service.DemandManager
	crypto   *service.DemandManager
}

func (r *demandRouter) pick(symbol string) *service.DemandManager {
	if domain.ClassifySymbol(symbol) == domain.MarketCrypto {
		return r.crypto
	}
	return r.equities
}

func (r *demandRouter) Acquire(symbol string) error {
	if m := r.pick(symbol); m != nil {
		return m.Acquire(symbol)
	}
	return errors.New("venue disabled for symbol " + symbol)
}

func (r *demandRouter) Release(symbol string) error {
	if m := r.pick(symbol); m != nil {
		return m.Release(symbol)
	}
	return nil
}

// logAlertBus stands in for the durable bus when kafka is disabled.
type logAlertBus struct{}

func (logAlertBus) PublishAlert(_ context.Context, ev domain.AlertEvent) error {
	log.Info().
		Str("user", ev.UserEmail).
		Str("symbol", ev.Symbol).
		Float64("price", ev.CurrentPrice).
		Str("condition", ev.Condition).
		Msg("alert fired (bus disabled)")
	return nil
}

func main() {
	logger.Setup("info")

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable")
	}
	cache := redisstore.New(rdb)

	// durable bus
	var (
		alertBus   port.AlertPublisher = logAlertBus{}
		tickWriter port.TickPublisher
	)
	if cfg.Kafka.Enabled {
		kafka.EnsureTopic(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic)
		kafka.EnsureTopic(cfg.Kafka.Brokers, cfg.Kafka.TickTopic)

		aw := kafka.NewAlertWriter(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic)
		defer aw.Close()
		alertBus = aw

		tw := kafka.NewTickWriter(cfg.Kafka.Brokers, cfg.Kafka.TickTopic)
		defer tw.Close()
		tickWriter = tw

		mirrorReader := kafka.NewReader(cfg.Kafka.Brokers, cfg.Kafka.TickTopic, cfg.Kafka.GroupID)
		defer mirrorReader.Close()
		mirror := service.NewTickMirror(mirrorReader, cache, cfg.ExchangeQuoteTTL())
		go mirror.Run(ctx)
	}

	// alert history
	if cfg.SQLite.Enabled {
		history, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SQLite.Path).Msg("open alert history failed")
		}
		defer history.Close()

		if cfg.Kafka.Enabled {
			historyReader := kafka.NewReader(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic, cfg.Kafka.GroupID+"-history")
			defer historyReader.Close()
			recorder := service.NewAlertRecorder(historyReader, history)
			go recorder.Run(ctx)
		}
	}

	matcher := service.NewAlertMatcher(cache, cache, alertBus)
	moveThreshold := decimal.NewFromFloat(cfg.App.MoveThreshold)

	router := &demandRouter{}
	hub := stream.NewHub(router, cache)
	go hub.Run(ctx)

	// broker venue: domestic and foreign equities
	if cfg.Broker.Enabled {
		auth := broker.NewAuthProvider(cfg.Broker.RestURL, cfg.Broker.AppKey, cfg.Broker.AppSecret, cache)
		feed := broker.NewFeed(cfg.Broker.WsURL, auth)

		rotCfg := service.RotationConfig{
			BatchSize: cfg.Broker.BatchSize,
			Interval:  time.Duration(cfg.Broker.RotationMs) * time.Millisecond,
			SendDelay: 100 * time.Millisecond,
			MidPause:  500 * time.Millisecond,
		}
		domestic := service.NewRotationScheduler(feed, cfg.Broker.DomesticSymbols, rotCfg)
		foreign := service.NewRotationScheduler(feed, cfg.Broker.ForeignSymbols, rotCfg)
		demand := service.NewDemandManager(feed)
		router.equities = demand

		feed.SetReplaySource(func() []string {
			var out []string
			out = append(out, domestic.ActiveBatch()...)
			out = append(out, foreign.ActiveBatch()...)
			out = append(out, demand.Snapshot()...)
			return out
		})

		universe := append(append([]string(nil), cfg.Broker.DomesticSymbols...), cfg.Broker.ForeignSymbols...)
		ticks, err := feed.Start(ctx, universe)
		if err != nil {
			log.Fatal().Err(err).Msg("broker feed start failed")
		}
		defer feed.Stop()
		go domestic.Run(ctx)
		go foreign.Run(ctx)

		gate := service.NewPriceGate(cache, cfg.BrokerQuoteTTL())
		pipeline := service.NewPipeline(feed.Name(), gate, matcher, hub, tickWriter, moveThreshold)
		go pipeline.Run(ctx, ticks)
	} else {
		log.Warn().Msg("broker venue disabled by config")
	}

	// exchange venue: crypto
	if cfg.Exchange.Enabled {
		rest := exchange.NewRestClient(cfg.Exchange.RestURL)
		feed := exchange.NewFeed(cfg.Exchange.WsURL, rest)

		universe, err := cryptoUniverse(ctx, rest, cfg.Postgres.Enabled, cfg.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("crypto universe bootstrap failed")
		}

		rotCfg := service.RotationConfig{
			BatchSize: cfg.Exchange.BatchSize,
			Interval:  time.Duration(cfg.Exchange.RotationMs) * time.Millisecond,
			SendDelay: 100 * time.Millisecond,
			MidPause:  500 * time.Millisecond,
		}
		scheduler := service.NewRotationScheduler(feed, universe, rotCfg)
		demand := service.NewDemandManager(feed)
		router.crypto = demand

		feed.SetReplaySource(func() []string {
			return append(scheduler.ActiveBatch(), demand.Snapshot()...)
		})

		ticks, err := feed.Start(ctx, universe)
		if err != nil {
			log.Fatal().Err(err).Msg("exchange feed start failed")
		}
		defer feed.Stop()
		go scheduler.Run(ctx)

		gate := service.NewPriceGate(cache, cfg.ExchangeQuoteTTL())
		pipeline := service.NewPipeline(feed.Name(), gate, matcher, hub, tickWriter, moveThreshold)
		go pipeline.Run(ctx, ticks)
	} else {
		log.Warn().Msg("exchange venue disabled by config")
	}

	if !cfg.Broker.Enabled && !cfg.Exchange.Enabled {
		log.Fatal().Msg("no venue feeds enabled")
	}

	srv := stream.NewServer(cfg.Stream.ListenAddr, hub)
	go func() {
		log.Info().Str("addr", cfg.Stream.ListenAddr).Msg("stream server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("stream server exited")
			stop()
		}
	}()

	log.Info().Str("config", *configPath).Msg("tickerhub started")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("stream server shutdown failed")
	}
	log.Info().Msg("tickerhub stopped")
}

// cryptoUniverse lists the tracked pairs, refreshing the durable catalog
// when one is configured.
func cryptoUniverse(ctx context.Context, rest *exchange.RestClient, pgEnabled bool, dsn string) ([]string, error) {
	assets, err := rest.Markets(ctx)
	if err != nil {
		return nil, err
	}

	if pgEnabled {
		catalog, err := postgres.New(dsn)
		if err != nil {
			return nil, err
		}
		defer catalog.Close()
		if err := catalog.UpsertAssets(ctx, assets); err != nil {
			log.Warn().Err(err).Msg("catalog refresh failed")
		}
	}

	var universe []string
	for _, a := range assets {
		if strings.HasPrefix(a.Symbol, "KRW-") {
			universe = append(universe, a.Symbol)
		}
	}
	return universe, nil
}
