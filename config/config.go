package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	postgres_wrapper "github.com/joripage/mini-exchange/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/mini-exchange/pkg/infra/redis"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	StoreDriverRedis  = "redis"
	StoreDriverMemory = "memory"
)

type AppConfig struct {
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`

	Store     StoreConfig                      `yaml:"store"`
	Redis     *redis_wrapper.RedisConfig       `yaml:"redis"`
	Gateway   GatewayConfig                    `yaml:"gateway"`
	Tape      TapeConfig                       `yaml:"tape"`
	Notifier  NotifierConfig                   `yaml:"notifier"`
	Client    ClientConfig                     `yaml:"client"`
	Kafka     KafkaConfig                      `yaml:"kafka"`
	ArchiveDB *postgres_wrapper.PostgresConfig `yaml:"archive_db"`
	Metrics   MetricsConfig                    `yaml:"metrics"`
}

type StoreConfig struct {
	// Driver is redis or memory. The memory store only works when the
	// publisher and notifier run inside the exchange process.
	Driver string `yaml:"driver"`
}

type GatewayConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	MaxSymbolLen   int    `yaml:"max_symbol_len"`
	MaxClientIDLen int    `yaml:"max_client_id_len"`
	// run the tape publisher and the execution notifier in the exchange process
	EmbedPublisher bool `yaml:"embed_publisher"`
	EmbedNotifier  bool `yaml:"embed_notifier"`
}

func (c GatewayConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

func (c GatewayConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

type TapeConfig struct {
	GroupAddr  string `yaml:"group_addr"`
	Interface  string `yaml:"interface"`
	TTL        int    `yaml:"ttl"`
	Loopback   bool   `yaml:"loopback"`
	IntervalMs int    `yaml:"interval_ms"`
}

func (c TapeConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

type NotifierConfig struct {
	IntervalMs    int `yaml:"interval_ms"`
	ClientPort    int `yaml:"client_port"`
	DialTimeoutMs int `yaml:"dial_timeout_ms"`
	AckTimeoutMs  int `yaml:"ack_timeout_ms"`
	Concurrency   int `yaml:"concurrency"`
}

func (c NotifierConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c NotifierConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

func (c NotifierConfig) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMs) * time.Millisecond
}

type ClientConfig struct {
	GatewayAddr   string `yaml:"gateway_addr"`
	ListenAddr    string `yaml:"listen_addr"`
	TapeGroupAddr string `yaml:"tape_group_addr"`
	TapeInterface string `yaml:"tape_interface"`
	IdentityFile  string `yaml:"identity_file"`
	MaxPeers      int    `yaml:"max_peers"`
	// CacheDriver is redis or memory.
	CacheDriver string                     `yaml:"cache_driver"`
	CacheRedis  *redis_wrapper.RedisConfig `yaml:"cache_redis"`
}

type KafkaConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers"`
	Topic           string   `yaml:"topic"`
	GroupID         string   `yaml:"group_id"`
	BatchSize       int      `yaml:"batch_size"`
	FlushIntervalMs int      `yaml:"flush_interval_ms"`
}

func (c KafkaConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

type MetricsConfig struct {
	// ListenAddr of the /metrics endpoint; empty disables it.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() *AppConfig {
	cfg := &AppConfig{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *AppConfig) applyDefaults() {
	setStr := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}

	setStr(&cfg.ServiceName, "mini-exchange")
	setStr(&cfg.LogLevel, "info")
	setStr(&cfg.Store.Driver, StoreDriverRedis)

	setStr(&cfg.Gateway.ListenAddr, "0.0.0.0:8000")
	setInt(&cfg.Gateway.ReadTimeoutMs, 2000)
	setInt(&cfg.Gateway.WriteTimeoutMs, 2000)
	setInt(&cfg.Gateway.MaxSymbolLen, 10)
	setInt(&cfg.Gateway.MaxClientIDLen, 36)

	setStr(&cfg.Tape.GroupAddr, "239.0.0.1:9000")
	setInt(&cfg.Tape.TTL, 1)
	setInt(&cfg.Tape.IntervalMs, 1000)

	setInt(&cfg.Notifier.IntervalMs, 500)
	setInt(&cfg.Notifier.ClientPort, 8100)
	setInt(&cfg.Notifier.DialTimeoutMs, 2000)
	setInt(&cfg.Notifier.AckTimeoutMs, 2000)
	setInt(&cfg.Notifier.Concurrency, 1)

	setStr(&cfg.Client.GatewayAddr, "127.0.0.1:8000")
	setStr(&cfg.Client.ListenAddr, "0.0.0.0:8100")
	setStr(&cfg.Client.TapeGroupAddr, cfg.Tape.GroupAddr)
	setStr(&cfg.Client.IdentityFile, "id.txt")
	setInt(&cfg.Client.MaxPeers, 64)
	setStr(&cfg.Client.CacheDriver, StoreDriverMemory)

	setStr(&cfg.Kafka.Topic, "executions")
	setStr(&cfg.Kafka.GroupID, "archiver")
	setInt(&cfg.Kafka.BatchSize, 100)
	setInt(&cfg.Kafka.FlushIntervalMs, 1000)
}

// Load load config from file and environment variables. A .env file in the
// working directory, when present, is loaded into the environment first.
func Load(filePath string) (*AppConfig, error) {
	_ = godotenv.Load()

	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")
	zap.S().Debugf("CONFIG_FILE=%v", filePath)

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}

	err = yaml.Unmarshal(configBytes, cfg)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}
	cfg.applyDefaults()

	zap.S().Debugf("config: %+v", cfg)

	return cfg, nil
}
