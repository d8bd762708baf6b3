package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ChainPulse/internal/domain/fault"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required"`
	Logging     LoggingConfig    `yaml:"logging"`
	Upstream    UpstreamConfig   `yaml:"upstream"`
	Fetch       FetchConfig      `yaml:"fetch"`
	Analysis    AnalysisConfig   `yaml:"analysis"`
	Storage     StorageConfig    `yaml:"storage"`
	EOD         EODConfig        `yaml:"eod"`
	AI          AIConfig         `yaml:"ai"`
	Packet      PacketConfig     `yaml:"packet"`
	TopStocks   []StockConfig    `yaml:"top_stocks" validate:"dive"`
	Sinks       SinksConfig      `yaml:"sinks"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Redis       RedisConfig      `yaml:"redis"`
	Queue       QueueConfig      `yaml:"queue"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output string `yaml:"output" default:"stderr"`
}

type UpstreamConfig struct {
	BaseURL            string        `yaml:"base_url" default:"https://www.nseindia.com" validate:"required,url"`
	IndexLandingPath   string        `yaml:"index_landing_path" default:"/option-chain"`
	EquityLandingPath  string        `yaml:"equity_landing_path" default:"/get-quotes/derivatives?symbol=%s"`
	IndexEndpoint      string        `yaml:"index_endpoint" default:"/api/option-chain-indices"`
	EquityEndpoint     string        `yaml:"equity_endpoint" default:"/api/option-chain-equities"`
	WarmupSymbol       string        `yaml:"warmup_symbol" default:"RELIANCE" validate:"required"`
	UserAgent          string        `yaml:"user_agent" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36" validate:"required"`
	Timeout            time.Duration `yaml:"timeout" default:"15s" validate:"gt=0"`
	MaxAttempts        int           `yaml:"max_attempts" default:"3" validate:"gte=1,lte=10"`
	BackoffBase        time.Duration `yaml:"backoff_base" default:"5s" validate:"gte=0"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" default:"true"`
	SessionTTL         time.Duration `yaml:"session_ttl" default:"5m" validate:"gt=0"`
	RequestsPerMinute  int           `yaml:"requests_per_minute" default:"40" validate:"gte=1"`
	Breaker            BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	MinRequests  uint32        `yaml:"min_requests" default:"3"`
	FailureRatio float64       `yaml:"failure_ratio" default:"0.6" validate:"gt=0,lte=1"`
	OpenTimeout  time.Duration `yaml:"open_timeout" default:"60s"`
	Interval     time.Duration `yaml:"interval" default:"5m"`
}

type FetchConfig struct {
	SymbolIndex          string        `yaml:"symbol_index" default:"NIFTY" validate:"required"`
	SymbolBankNifty      string        `yaml:"symbol_banknifty" default:"BANKNIFTY" validate:"required"`
	FetchIntervalSeconds int           `yaml:"fetch_interval_seconds" default:"600" validate:"gte=1"`
	EnableLoopFetching   bool          `yaml:"enable_loop_fetching" default:"true"`
	EnableMultiExpiry    bool          `yaml:"enable_multi_expiry" default:"true"`
	EnableStockDisplay   bool          `yaml:"enable_stock_display" default:"true"`
	EquityConcurrency    int           `yaml:"equity_concurrency" default:"1" validate:"gte=1,lte=4"`
	PacingDelay          time.Duration `yaml:"pacing_delay" default:"1s" validate:"gte=0"`
}

// Interval is the inter-cycle sleep.
func (f FetchConfig) Interval() time.Duration {
	return time.Duration(f.FetchIntervalSeconds) * time.Second
}

type AnalysisConfig struct {
	ATMWindowK                int     `yaml:"atm_window_k" default:"2" validate:"gte=0"`
	PersistFullChain          bool    `yaml:"persist_full_chain"`
	StrikeOIThreshold         int64   `yaml:"strike_oi_threshold" default:"1000" validate:"gte=0"`
	NextWeekDayRange          []int   `yaml:"next_week_day_range" default:"[5,9]" validate:"len=2,dive,gte=0"`
	MonthlyThresholdDays      int     `yaml:"monthly_threshold_days" default:"20" validate:"gte=1"`
	MonthlyWeekday            string  `yaml:"monthly_weekday" default:"Thursday" validate:"oneof=Monday Tuesday Wednesday Thursday Friday"`
	WriterEfficiencyThreshold float64 `yaml:"writer_efficiency_threshold" default:"0.15" validate:"gte=0"`
	ATMZoneWidth              int     `yaml:"atm_zone_width" default:"1" validate:"gte=0"`
	HistoryDepth              int     `yaml:"history_depth" default:"3" validate:"gte=0,lte=50"`
}

type StorageConfig struct {
	MaxFetchCycles int    `yaml:"max_fetch_cycles" default:"10" validate:"gte=1,lte=1000"`
	RetentionDays  int    `yaml:"retention_days" default:"30" validate:"gte=1"`
	RetainHistory  bool   `yaml:"retain_history"`
	SnapshotDir    string `yaml:"snapshot_dir"`
	DBFile         string `yaml:"db_file" default:"option_chain.db" validate:"required"`
	EODDir         string `yaml:"eod_dir"`
	PacketDir      string `yaml:"packet_dir"`
}

type EODConfig struct {
	EveryRun  bool   `yaml:"every_run"`
	After     string `yaml:"after" default:"15:25" validate:"datetime=15:04"`
	Extension string `yaml:"extension" default:"json" validate:"required,alphanum"`
}

type AIConfig struct {
	EnableAIAnalysis bool          `yaml:"enable_ai_analysis"`
	AIQueryMode      string        `yaml:"ai_query_mode" default:"single" validate:"oneof=single multi both"`
	Provider         string        `yaml:"provider" default:"gemini" validate:"oneof=gemini"`
	APIKey           string        `yaml:"api_key"`
	Model            string        `yaml:"model" default:"gemini-2.0-flash"`
	BaseURL          string        `yaml:"base_url" default:"https://generativelanguage.googleapis.com/v1beta" validate:"url"`
	Timeout          time.Duration `yaml:"timeout" default:"600s" validate:"gt=0,lte=600s"`
	RolePromptFile   string        `yaml:"role_prompt_file"`
}

type PacketConfig struct {
	Prefix    string `yaml:"prefix" default:"option_chain_analysis" validate:"required"`
	Extension string `yaml:"extension" default:"txt" validate:"required,alphanum"`
}

type StockConfig struct {
	Symbol      string  `yaml:"symbol" validate:"required"`
	DisplayName string  `yaml:"display_name"`
	Weight      float64 `yaml:"weight" validate:"gt=0,lte=1"`
}

type SinksConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
}

type TelegramConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BotToken       string        `yaml:"bot_token"`
	ChatID         string        `yaml:"chat_id"`
	APIBase        string        `yaml:"api_base" default:"https://api.telegram.org" validate:"url"`
	MaxMessageLen  int           `yaml:"max_message_len" default:"4096" validate:"gte=64"`
	Timeout        time.Duration `yaml:"timeout" default:"30s" validate:"gt=0,lte=30s"`
	SendPacketText bool          `yaml:"send_packet_text"`
}

type EmailConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port" default:"587"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	From          string        `yaml:"from"`
	To            []string      `yaml:"to"`
	Timeout       time.Duration `yaml:"timeout" default:"30s" validate:"gt=0,lte=30s"`
	SubjectPrefix string        `yaml:"subject_prefix" default:"[ChainPulse]"`
}

type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	AllowOrigins    []string      `yaml:"allow_origins"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type KafkaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	TopicSnapshots string   `yaml:"topic_snapshots" default:"chainpulse.snapshots"`
	TopicVerdicts  string   `yaml:"topic_verdicts" default:"chainpulse.verdicts"`
	TopicPackets   string   `yaml:"topic_packets" default:"chainpulse.packets"`
	RequiredAcks   int      `yaml:"required_acks" default:"-1"`
	Compression    string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
	Producer       struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"200ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID         string        `yaml:"group_id" default:"chainpulse-tail"`
		AutoOffsetReset string        `yaml:"auto_offset_reset" default:"latest" validate:"oneof=earliest latest"`
		Workers         int           `yaml:"workers" default:"1" validate:"gte=1"`
		RetryMax        int           `yaml:"retry_max" default:"3" validate:"gte=0"`
		BackoffMin      time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax      time.Duration `yaml:"backoff_max" default:"2s"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"chainpulse"`
	Table            string        `yaml:"table" default:"option_chain_archive"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"chainpulse"`
	PoolSize int    `yaml:"pool_size" default:"10" validate:"gte=1"`
	// PoolTimeout bounds the wait for a free connection.
	PoolTimeout time.Duration `yaml:"pool_timeout" default:"30s"`
}

type QueueConfig struct {
	Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
	RetryLimit int           `yaml:"retry_limit" default:"3" validate:"gte=0"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
}

var validate = validator.New()

// Default returns a config with every default applied and platform directories set.
func Default() *Config {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	c.applyPlatformDirs()
	c.TopStocks = DefaultTopStocks()
	return c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Config("read config", err)
	}
	return Parse(b)
}

// Parse decodes YAML over defaults, expands ${VAR} references and validates.
func Parse(b []byte) (*Config, error) {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fault.Config("apply defaults", err)
	}

	expanded := os.ExpandEnv(string(b))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fault.Config("parse config", err)
	}

	c.applyPlatformDirs()
	if c.TopStocks == nil {
		c.TopStocks = DefaultTopStocks()
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadWithEnv loads an optional .env file, then YAML, then environment overrides.
func LoadWithEnv(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fault.Config("load env file", err)
		}
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Sinks.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Sinks.Telegram.ChatID = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.Sinks.Email.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.Sinks.Email.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("CHAINPULSE_FETCH_INTERVAL_SECONDS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			c.Fetch.FetchIntervalSeconds = n
		}
	}
	if v := os.Getenv("CHAINPULSE_ENABLE_LOOP_FETCHING"); v != "" {
		c.Fetch.EnableLoopFetching = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CHAINPULSE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks field constraints, then rejects contradictory settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fault.Config("validate config", fmt.Errorf("%s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
		}
		return fault.Config("validate config", err)
	}

	rng := c.Analysis.NextWeekDayRange
	if rng[0] > rng[1] {
		return fault.Newf(fault.KindConfig, "validate config", "next_week_day_range %v is inverted", rng)
	}
	if c.Analysis.MonthlyThresholdDays <= rng[1] {
		return fault.Newf(fault.KindConfig, "validate config", "monthly_threshold_days %d overlaps next_week_day_range %v", c.Analysis.MonthlyThresholdDays, rng)
	}
	if c.Fetch.SymbolIndex == c.Fetch.SymbolBankNifty {
		return fault.Newf(fault.KindConfig, "validate config", "symbol_index and symbol_banknifty are both %q", c.Fetch.SymbolIndex)
	}
	if c.Fetch.EnableStockDisplay && len(c.TopStocks) == 0 {
		return fault.Newf(fault.KindConfig, "validate config", "enable_stock_display requires top_stocks")
	}
	seen := make(map[string]bool, len(c.TopStocks))
	var total float64
	for _, s := range c.TopStocks {
		if seen[s.Symbol] {
			return fault.Newf(fault.KindConfig, "validate config", "duplicate stock symbol %q", s.Symbol)
		}
		seen[s.Symbol] = true
		total += s.Weight
	}
	if total > 1.0001 {
		return fault.Newf(fault.KindConfig, "validate config", "top_stocks weights sum to %.3f", total)
	}
	if c.AI.EnableAIAnalysis && c.AI.APIKey == "" {
		return fault.Newf(fault.KindConfig, "validate config", "enable_ai_analysis requires ai.api_key")
	}
	if c.Sinks.Telegram.Enabled && (c.Sinks.Telegram.BotToken == "" || c.Sinks.Telegram.ChatID == "") {
		return fault.Newf(fault.KindConfig, "validate config", "telegram sink requires bot_token and chat_id")
	}
	if e := c.Sinks.Email; e.Enabled && (e.Host == "" || e.From == "" || len(e.To) == 0) {
		return fault.Newf(fault.KindConfig, "validate config", "email sink requires host, from and to")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fault.Newf(fault.KindConfig, "validate config", "kafka.enabled requires brokers")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fault.Newf(fault.KindConfig, "validate config", "clickhouse.enabled requires host")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fault.Newf(fault.KindConfig, "validate config", "redis.enabled requires host")
	}
	return nil
}

// EnsureDirs creates artifact directories. Failure is a configuration error.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Storage.SnapshotDir, c.Storage.EODDir, c.Storage.PacketDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fault.Config("create directory "+dir, err)
		}
	}
	return nil
}
