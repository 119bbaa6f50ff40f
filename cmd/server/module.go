package main

import (
	"context"
	"net/http"
	"time"

	"shuq/internal/catalog"
	"shuq/internal/clock"
	"shuq/internal/config"
	"shuq/internal/ledger"
	"shuq/internal/logger"
	"shuq/internal/negotiation"
	"shuq/internal/notify"
	"shuq/internal/queue"
	"shuq/internal/router"
	"shuq/internal/session"
	"shuq/internal/storage"
	pkgredis "shuq/pkg/redis"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module 组装全部组件。
var Module = fx.Options(
	fx.Provide(
		config.Load,
		newLogger,
		newDB,
		newRedis,
		func() clock.Clock { return clock.NewRealClock() },
		newFeeds,
		newLedger,
		catalog.NewStore,
		newProductCache,
		newService,
		newEngine,
	),
)

func newLogger(lc fx.Lifecycle, cfg config.AppConfig) *zap.Logger {
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	zap.ReplaceGlobals(log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log
}

func newDB(lc fx.Lifecycle, cfg config.AppConfig, log *zap.Logger) (*gorm.DB, error) {
	db, err := storage.OpenWithLevel(cfg.DB.Driver, cfg.DB.DSN, log, logger.GormLevel(cfg.Log.Level))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return storage.Close(db) },
	})
	return db, nil
}

func newRedis(lc fx.Lifecycle, cfg config.AppConfig) (*rd.Client, error) {
	rdb := rd.NewClient(&rd.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping")
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return rdb.Close() },
	})
	return rdb, nil
}

// feeds 账本变更的发布端与两类订阅端。
type feeds struct {
	publisher notify.Publisher
	session   notify.Subscriber
	admin     notify.Subscriber
}

// newFeeds Kafka 关闭时 Redis Pub/Sub 同时服务会话与管理端；
// 开启时变更额外写入 Stream outbox，管理端改由 Kafka 消费者喂给本地总线。
func newFeeds(lc fx.Lifecycle, cfg config.AppConfig, rdb *rd.Client, clk clock.Clock, log *zap.Logger) feeds {
	redisBus := notify.NewRedisBus(rdb, log)
	if !cfg.Kafka.Enabled {
		return feeds{publisher: redisBus, session: redisBus, admin: redisBus}
	}

	k := cfg.Kafka
	outbox := queue.NewStreamOutbox(rdb, k.EventStream, clk)
	adminBus := notify.NewMemoryBus(0, log)
	producer := queue.NewProducer(k.Brokers, k.Topic)
	relay := queue.NewRelay(rdb, producer, k.EventStream, k.EventGroup, k.EventConsumer, log)
	groupID := queue.InstanceGroupID(k.GroupID)
	log.Info("admin feed consumer group", zap.String("group_id", groupID))
	consumer := queue.NewConsumer(k.Brokers, k.Topic, groupID, adminBus, log)

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go relay.Run(runCtx)
			go consumer.Run(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return errors.CombineErrors(consumer.Close(), producer.Close())
		},
	})
	return feeds{
		publisher: notify.Multi{redisBus, outbox},
		session:   redisBus,
		admin:     adminBus,
	}
}

func newLedger(db *gorm.DB, f feeds, clk clock.Clock, log *zap.Logger) *ledger.Ledger {
	return ledger.New(db, f.publisher, clk, log)
}

func newProductCache(store *catalog.Store, rdb *rd.Client, cfg config.AppConfig, log *zap.Logger) *catalog.Cached {
	return catalog.NewCached(store, rdb, cfg.Offer.ProductCacheTTL, log)
}

func newEngine(cfg config.AppConfig) *negotiation.Engine {
	return negotiation.NewEngine(cfg.Offer.CurrencyPrecision)
}

func newService(e *negotiation.Engine, l *ledger.Ledger, cache *catalog.Cached, rdb *rd.Client, cfg config.AppConfig, clk clock.Clock, log *zap.Logger) *negotiation.Service {
	locker := pkgredis.NewSubmitLocker(rdb, cfg.Offer.SubmitLockTTL)
	return negotiation.NewService(e, l, cache, locker, clk, log)
}

type serverParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.AppConfig
	Log       *zap.Logger
	Service   *negotiation.Service
	Ledger    *ledger.Ledger
	Products  *catalog.Store
	Cache     *catalog.Cached
	Feeds     feeds
	Redis     *rd.Client
	Clock     clock.Clock
}

func startServer(p serverParams) {
	r := gin.New()
	ttl := p.Config.Redis.DeviceTTL
	router.Setup(r, router.Deps{
		Service:     p.Service,
		Ledger:      p.Ledger,
		Products:    p.Products,
		Cache:       p.Cache,
		SessionFeed: p.Feeds.session,
		AdminFeed:   p.Feeds.admin,
		DeviceStore: func(_ *gin.Context, sessionID string) session.Store {
			return session.NewRedisStore(p.Redis, sessionID, ttl)
		},
		Redis:  p.Redis,
		Config: p.Config,
		Clock:  p.Clock,
		Log:    p.Log,
	})

	srv := &http.Server{
		Addr:              p.Config.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("mode", gin.Mode()))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.Log.Error("http server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Log.Info("http server stopping")
			return srv.Shutdown(ctx)
		},
	})
}
