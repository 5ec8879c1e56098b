package main

import (
	"context"
	stderrors "errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/infrastructure/binance"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/infrastructure/coinbase"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/infrastructure/pagestore"
	bookstaterepo "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/infrastructure/questdb/bookstate"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/collector"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/eventbus"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/l2book"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/l3book"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/session"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/sink"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/usecase/statepublisher"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/config"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/errors"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/logger"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/questdb"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/redis"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(logger.WithLoggingLevel(logger.Level(cfg.App.LogLevel)))
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	sessionID := session.NewID()
	ctx, stop := signal.NotifyContext(
		util.WithSessionID(context.Background(), sessionID),
		syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	store, err := pagestore.Open(cfg.Storage.Dir, sessionID, cfg.Storage.PagePrefix)
	if err != nil {
		appLogger.Error(err)
		return
	}
	defer store.Close()
	if err := store.MarkLatest(ctx); err != nil {
		appLogger.Error(err)
		return
	}

	var tees []sink.RowTee
	var options []collector.Option

	if cfg.QuestDB.Enabled {
		questdbClient, err := questdb.NewClient(ctx, cfg.QuestDB.Client)
		if err != nil {
			appLogger.Error(errors.TracerFromError(err))
			return
		}
		defer questdbClient.Close()
		if err := questdbClient.Ping(ctx); err != nil {
			appLogger.Error(errors.TracerFromError(err))
			return
		}
		var repo bookstaterepo.BookStateRepository = bookstaterepo.NewRepository(questdbClient)
		tees = append(tees, repo)
	}

	if cfg.StateKafka.Enabled {
		publisher := statepublisher.NewPublisher(cfg.StateKafka, appLogger)
		defer publisher.Close()
		tees = append(tees, publisher)
	}

	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(appLogger, &cfg.Redis.Client)
		if err := redisClient.Connect(ctx); err != nil {
			appLogger.Error(err)
			return
		}
		defer redisClient.Disconnect(context.Background())

		sessionStore := session.NewStore(redisClient, sessionID)
		if err := sessionStore.MarkLatest(ctx); err != nil {
			appLogger.Error(err)
			return
		}
		options = append(options, collector.WithLatestStore(sessionStore))
	}

	bus := eventbus.New(cfg.Bus.Capacity)
	bookSink := sink.New(store, appLogger, sink.Config{
		BucketWindow:  cfg.Storage.BucketWindow,
		FlushInterval: cfg.Storage.FlushInterval,
	}, tees...)

	c := collector.New(bus, bookSink, appLogger, cfg.App.HeartbeatInterval, options...)

	if cfg.Binance.Enabled {
		feed := binance.NewFeed(cfg.Binance, appLogger)
		c.AddBuilder(feed.Venue(), l2book.NewBuilder(feed, bus, appLogger, l2book.Config{
			TopN:          cfg.App.TopN,
			EmitFull:      cfg.Binance.EmitFull,
			ResyncBackoff: cfg.Binance.ResyncBackoff,
		}))
	}
	if cfg.Coinbase.Enabled {
		feed := coinbase.NewFeed(cfg.Coinbase, appLogger)
		c.AddBuilder(feed.Venue(), l3book.NewBuilder(feed, bus, appLogger, l3book.Config{
			TopN:                cfg.App.TopN,
			SnapshotRetryBudget: cfg.Coinbase.SnapshotRetryBudget,
			FallbackPoll:        cfg.Coinbase.FallbackPoll,
			AllowFallback:       true,
			ResyncBackoff:       cfg.Coinbase.ResyncBackoff,
		}))
	}

	appLogger.InfoContext(ctx, "orderbook collector started",
		logger.Field{Key: "app", Value: cfg.App.Name},
		logger.Field{Key: "environment", Value: cfg.App.Environment},
		logger.Field{Key: "storage_dir", Value: cfg.Storage.Dir},
		logger.Field{Key: "binance_enabled", Value: cfg.Binance.Enabled},
		logger.Field{Key: "coinbase_enabled", Value: cfg.Coinbase.Enabled},
	)

	if err := c.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
		appLogger.Error(err)
		return
	}
	appLogger.Info("orderbook collector stopped")
}
