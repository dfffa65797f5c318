package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Mpesa      MpesaConfig      `mapstructure:"mpesa"`
	Services   ServicesConfig   `mapstructure:"services"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Outbox     OutboxConfig     `mapstructure:"outbox"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres, sqlite
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	OrderTTL time.Duration `mapstructure:"order_ttl"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// MpesaConfig Daraja 网关配置，启动时必须齐全
type MpesaConfig struct {
	Environment     string        `mapstructure:"environment"` // sandbox, production
	ConsumerKey     string        `mapstructure:"consumer_key"`
	ConsumerSecret  string        `mapstructure:"consumer_secret"`
	ShortCode       string        `mapstructure:"shortcode"`
	PassKey         string        `mapstructure:"passkey"`
	InitiatorName   string        `mapstructure:"initiator_name"`
	CallbackBaseURL string        `mapstructure:"callback_base_url"`
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type ServicesConfig struct {
	InventoryURL    string        `mapstructure:"inventory_url"`
	NotificationURL string        `mapstructure:"notification_url"`
	PaymentsURL     string        `mapstructure:"payments_url"`
	ServiceToken    string        `mapstructure:"service_token"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	Workers      int           `mapstructure:"workers"`
}

type DispatcherConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type SentryConfig struct {
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

// Load 读取配置：config.yaml（可选）+ 环境变量覆盖，例如 MPESA_CONSUMER_KEY
func Load(paths ...string) (*Config, error) {
	cfg, err := read(paths)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadMpesa 只校验网关配置，供运维 CLI 使用
func LoadMpesa(paths ...string) (*MpesaConfig, error) {
	cfg, err := read(paths)
	if err != nil {
		return nil, err
	}
	if err := cfg.Mpesa.Validate(); err != nil {
		return nil, err
	}
	return &cfg.Mpesa, nil
}

func read(paths []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=orders port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.order_ttl", 5*time.Minute)

	v.SetDefault("jwt.issuer", "")

	v.SetDefault("mpesa.environment", "sandbox")
	v.SetDefault("mpesa.timeout", 30*time.Second)

	v.SetDefault("services.inventory_url", "http://localhost:8082")
	v.SetDefault("services.notification_url", "http://localhost:8083")
	v.SetDefault("services.payments_url", "http://localhost:8084")
	v.SetDefault("services.timeout", 10*time.Second)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "order-events")

	v.SetDefault("outbox.poll_interval", 500*time.Millisecond)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.workers", 1)

	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("dispatcher.queue_size", 1024)

	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)

	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "order-service")
	v.SetDefault("tracing.insecure", true)
}

// bindEnvs 让没有默认值的密钥也能只靠环境变量注入
func bindEnvs(v *viper.Viper) {
	for _, key := range []string{
		"jwt.secret",
		"mpesa.consumer_key",
		"mpesa.consumer_secret",
		"mpesa.shortcode",
		"mpesa.passkey",
		"mpesa.initiator_name",
		"mpesa.callback_base_url",
		"mpesa.base_url",
		"services.service_token",
		"redis.password",
		"sentry.dsn",
		"sentry.environment",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate 启动时校验必填项，一次列出全部缺失字段
func (c *Config) Validate() error {
	if err := c.Mpesa.Validate(); err != nil {
		return err
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("config: jwt.secret is required")
	}
	return nil
}

// Validate 校验网关配置
func (m MpesaConfig) Validate() error {
	var missing []string
	check := func(name, val string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, name)
		}
	}
	check("mpesa.environment", m.Environment)
	check("mpesa.consumer_key", m.ConsumerKey)
	check("mpesa.consumer_secret", m.ConsumerSecret)
	check("mpesa.shortcode", m.ShortCode)
	check("mpesa.passkey", m.PassKey)
	check("mpesa.initiator_name", m.InitiatorName)
	check("mpesa.callback_base_url", m.CallbackBaseURL)
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required fields: %s", strings.Join(missing, ", "))
	}
	if m.Environment != "sandbox" && m.Environment != "production" {
		return fmt.Errorf("config: mpesa.environment must be sandbox or production, got %q", m.Environment)
	}
	return nil
}
