package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig 聚合运行时配置，全部通过环境变量注入。
type AppConfig struct {
	HTTP  HTTPConfig
	DB    DBConfig
	Redis RedisConfig
	Kafka KafkaConfig
	Offer OfferConfig
	Log   LogConfig
	Admin AdminConfig
}

type HTTPConfig struct {
	Addr string `envconfig:"HTTP_ADDR" default:":8080"`
	// SessionCookie 会话 cookie 名前缀，完整名为 <prefix>session_id。
	SessionCookie string `envconfig:"SESSION_COOKIE" default:"shuq_"`
}

type DBConfig struct {
	Driver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"DB_DSN" default:"shuq.db"`
}

type RedisConfig struct {
	Addr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	DB   int    `envconfig:"REDIS_DB" default:"0"`
	// DeviceTTL 服务端设备存储（Redis hash）的过期时间。
	DeviceTTL time.Duration `envconfig:"DEVICE_STORE_TTL" default:"168h"`
}

// KafkaConfig Kafka 默认关闭；开启后变更经 Redis Stream outbox 转发到 Kafka。
type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Topic   string   `envconfig:"KAFKA_TOPIC" default:"shuq-offer-events"`
	// GroupID 是消费组前缀，每个实例再追加主机名与随机后缀。
	GroupID string `envconfig:"KAFKA_GROUP_ID" default:"shuq-admin-feed"`

	EventStream   string `envconfig:"OFFER_EVENT_STREAM" default:"shuq:offer_events"`
	EventGroup    string `envconfig:"OFFER_EVENT_GROUP" default:"shuq-relay-group"`
	EventConsumer string `envconfig:"OFFER_EVENT_CONSUMER" default:"shuq-relay-1"`
}

type OfferConfig struct {
	RateLimit         int           `envconfig:"OFFER_RATE_LIMIT" default:"10"`
	RateWindow        time.Duration `envconfig:"OFFER_RATE_WINDOW" default:"1s"`
	ProductCacheTTL   time.Duration `envconfig:"PRODUCT_CACHE_TTL" default:"24h"`
	SubmitLockTTL     time.Duration `envconfig:"SUBMIT_LOCK_TTL" default:"10s"`
	CurrencyPrecision int32         `envconfig:"CURRENCY_PRECISION" default:"2"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

type AdminConfig struct {
	Token string `envconfig:"ADMIN_TOKEN" default:"dev-admin-token"`
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, errors.Wrap(err, "process env config")
	}
	cfg.Kafka.Brokers = trimAll(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 检查取值范围与必填项。
func (c AppConfig) Validate() error {
	switch strings.ToLower(c.DB.Driver) {
	case "sqlite", "postgres":
	default:
		return errors.Newf("DB_DRIVER must be sqlite or postgres, got %q", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return errors.New("DB_DSN must not be empty")
	}
	if c.Offer.RateLimit <= 0 {
		return errors.New("OFFER_RATE_LIMIT must be > 0")
	}
	if c.Offer.RateWindow < time.Second {
		return errors.New("OFFER_RATE_WINDOW must be >= 1s")
	}
	if c.Offer.ProductCacheTTL <= 0 {
		return errors.New("PRODUCT_CACHE_TTL must be > 0")
	}
	if c.Offer.SubmitLockTTL <= 0 {
		return errors.New("SUBMIT_LOCK_TTL must be > 0")
	}
	if c.Offer.CurrencyPrecision < 0 || c.Offer.CurrencyPrecision > 8 {
		return errors.New("CURRENCY_PRECISION must be between 0 and 8")
	}
	if c.Admin.Token == "" {
		return errors.New("ADMIN_TOKEN must not be empty")
	}
	if !c.Kafka.Enabled {
		return nil
	}
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS must not be empty")
	}
	if c.Kafka.Topic == "" {
		return errors.New("KAFKA_TOPIC must not be empty")
	}
	if c.Kafka.GroupID == "" {
		return errors.New("KAFKA_GROUP_ID must not be empty")
	}
	if c.Kafka.EventStream == "" || c.Kafka.EventGroup == "" || c.Kafka.EventConsumer == "" {
		return errors.New("OFFER_EVENT_STREAM, OFFER_EVENT_GROUP and OFFER_EVENT_CONSUMER must not be empty")
	}
	return nil
}

// NewTestConfig 测试用配置：内存 SQLite，其余取默认值。
func NewTestConfig() AppConfig {
	return AppConfig{
		HTTP:  HTTPConfig{Addr: ":0", SessionCookie: "shuq_"},
		DB:    DBConfig{Driver: "sqlite", DSN: ":memory:"},
		Redis: RedisConfig{Addr: "localhost:6379", DeviceTTL: time.Hour},
		Kafka: KafkaConfig{
			Topic: "shuq-offer-events", GroupID: "shuq-admin-feed",
			EventStream: "shuq:offer_events", EventGroup: "shuq-relay-group", EventConsumer: "shuq-relay-1",
		},
		Offer: OfferConfig{
			RateLimit:         100,
			RateWindow:        time.Second,
			ProductCacheTTL:   time.Hour,
			SubmitLockTTL:     5 * time.Second,
			CurrencyPrecision: 2,
		},
		Log:   LogConfig{Level: "error", Format: "json"},
		Admin: AdminConfig{Token: "test-admin-token"},
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
