package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/questdb"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/redis"
)

// Config represents the application configuration.
type Config struct {
	App        AppConfig        `envPrefix:"APP_"`
	Bus        BusConfig        `envPrefix:"BUS_"`
	Storage    StorageConfig    `envPrefix:"STORAGE_"`
	Binance    BinanceConfig    `envPrefix:"BINANCE_"`
	Coinbase   CoinbaseConfig   `envPrefix:"COINBASE_"`
	QuestDB    QuestDBConfig    `envPrefix:"QUESTDB_"`
	StateKafka StateKafkaConfig `envPrefix:"STATE_KAFKA_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
}

// AppConfig represents the application configuration.
type AppConfig struct {
	Name              string        `env:"NAME" envDefault:"orderbook-collector"`
	Environment       string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	TopN              int           `env:"TOP_N" envDefault:"10"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"`
}

// BusConfig configures the in-process event bus.
type BusConfig struct {
	Capacity int `env:"CAPACITY" envDefault:"10000"`
}

// StorageConfig configures the page store and the sink's flushing cadence.
type StorageConfig struct {
	Dir           string        `env:"DIR" envDefault:"out/orderbook-collector"`
	PagePrefix    string        `env:"PAGE_PREFIX" envDefault:"book_states"`
	BucketWindow  time.Duration `env:"BUCKET_WINDOW" envDefault:"5m"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"5s"`
}

// BinanceConfig configures the Binance diff-stream builder.
type BinanceConfig struct {
	Enabled       bool          `env:"ENABLED" envDefault:"true"`
	Symbol        string        `env:"SYMBOL" envDefault:"BTCUSDT"`
	WSURL         string        `env:"WS_URL" envDefault:"wss://stream.binance.com:9443/ws"`
	RESTURL       string        `env:"REST_URL" envDefault:"https://api.binance.com/api/v3/depth"`
	SnapshotDepth int           `env:"SNAPSHOT_DEPTH" envDefault:"5000"`
	EmitFull      bool          `env:"EMIT_FULL" envDefault:"false"`
	ResyncBackoff time.Duration `env:"RESYNC_BACKOFF" envDefault:"1s"`
}

// CoinbaseConfig configures the Coinbase order-stream builder.
type CoinbaseConfig struct {
	Enabled             bool          `env:"ENABLED" envDefault:"true"`
	ProductID           string        `env:"PRODUCT_ID" envDefault:"BTC-USD"`
	WSURL               string        `env:"WS_URL" envDefault:"wss://ws-feed.exchange.coinbase.com"`
	RESTURL             string        `env:"REST_URL" envDefault:"https://api.exchange.coinbase.com/products"`
	SnapshotRetryBudget int           `env:"SNAPSHOT_RETRY_BUDGET" envDefault:"3"`
	FallbackPoll        time.Duration `env:"FALLBACK_POLL" envDefault:"1s"`
	ResyncBackoff       time.Duration `env:"RESYNC_BACKOFF" envDefault:"1s"`
}

// QuestDBConfig configures the optional QuestDB row tee.
type QuestDBConfig struct {
	Enabled bool           `env:"ENABLED" envDefault:"false"`
	Client  questdb.Config `envPrefix:""`
}

// StateKafkaConfig configures the optional book-state Kafka publisher.
type StateKafkaConfig struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"TOPIC" envDefault:"book-states"`
}

// RedisConfig configures the optional session/latest-state store.
type RedisConfig struct {
	Enabled bool         `env:"ENABLED" envDefault:"false"`
	Client  redis.Config `envPrefix:""`
}

// Load loads the configuration from the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
