package config

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `env:", prefix=SERVER_"`
	TickStore  TickStoreConfig  `env:", prefix=TICKSTORE_"`
	MySQL      MySQLConfig      `env:", prefix=MYSQL_"`
	InfluxDB   InfluxConfig     `env:", prefix=INFLUXDB_"`
	Redis      RedisConfig      `env:", prefix=REDIS_"`
	NATS       NATSConfig       `env:", prefix=NATS_"`
	Exchange   ExchangeConfig   `env:", prefix=EXCHANGE_"`
	Analysis   AnalysisConfig   `env:", prefix=ANALYSIS_"`
	Filters    FiltersConfig    `env:", prefix=FILTER_"`
	Sessions   SessionsConfig   `env:", prefix=SESSION_"`
	News       NewsConfig       `env:", prefix=NEWS_"`
	Memory     MemoryConfig     `env:", prefix=MEMORY_"`
	Security   SecurityConfig   `env:", prefix=SECURITY_"`
	Logging    LoggingConfig    `env:", prefix=LOG_"`
	Monitoring MonitoringConfig `env:", prefix=MONITORING_"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=60s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
	Symbol       string        `env:"SYMBOL, default=GC"`
}

// TickStoreConfig selects and sizes the durable tick log
type TickStoreConfig struct {
	Driver        string        `env:"DRIVER, default=sqlite"` // sqlite or mysql
	Path          string        `env:"PATH, default=data/ticks.db"`
	RingCapacity  int           `env:"RING_CAPACITY, default=10000"`
	RetentionDays int           `env:"RETENTION_DAYS, default=15"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL, default=24h"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host            string        `env:"HOST, default=localhost"`
	Port            int           `env:"PORT, default=3306"`
	Database        string        `env:"DATABASE, default=imo"`
	User            string        `env:"USER, default=imo"`
	Password        string        `env:"PASSWORD"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, default=25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, default=5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, default=5m"`
}

// InfluxConfig holds InfluxDB configuration
type InfluxConfig struct {
	Enabled bool          `env:"ENABLED, default=false"`
	URL     string        `env:"URL, default=http://localhost:8086"`
	Token   string        `env:"TOKEN"`
	Org     string        `env:"ORG, default=imo"`
	Bucket  string        `env:"BUCKET, default=bars"`
	Timeout time.Duration `env:"TIMEOUT, default=10s"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled      bool          `env:"ENABLED, default=false"`
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	PoolSize     int           `env:"POOL_SIZE, default=10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS, default=2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
	SnapshotTTL  time.Duration `env:"SNAPSHOT_TTL, default=1m"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	Enabled       bool          `env:"ENABLED, default=false"`
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
	DrainTimeout  time.Duration `env:"DRAIN_TIMEOUT, default=30s"`
}

// ExchangeConfig holds feed adapter configuration
type ExchangeConfig struct {
	Feed              string        `env:"FEED, default=none"` // none, binance, oanda, websocket
	QueueSize         int           `env:"QUEUE_SIZE, default=4096"`
	BatchSize         int           `env:"BATCH_SIZE, default=100"`
	FlushInterval     time.Duration `env:"FLUSH_INTERVAL, default=100ms"`
	StaleTimeout      time.Duration `env:"STALE_TIMEOUT, default=5s"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY, default=1s"`
	ConnectionTimeout time.Duration `env:"CONNECTION_TIMEOUT, default=30s"`

	Binance   BinanceConfig   `env:", prefix=BINANCE_"`
	OANDA     OANDAConfig     `env:", prefix=OANDA_"`
	WebSocket WebSocketConfig `env:", prefix=WS_"`
}

// BinanceConfig holds Binance-specific configuration
type BinanceConfig struct {
	Symbol         string  `env:"SYMBOL, default=PAXGUSDT"`
	SizeMultiplier float64 `env:"SIZE_MULTIPLIER, default=1"`
}

// OANDAConfig holds OANDA-specific configuration
type OANDAConfig struct {
	APIKey      string `env:"API_KEY"`
	AccountID   string `env:"ACCOUNT_ID"`
	Environment string `env:"ENVIRONMENT, default=practice"` // live or practice
	StreamURL   string `env:"STREAM_URL"`
	Instrument  string `env:"INSTRUMENT, default=XAU_USD"`
}

// WebSocketConfig configures the generic JSON tick websocket feed
type WebSocketConfig struct {
	URL          string        `env:"URL"`
	PingInterval time.Duration `env:"PING_INTERVAL, default=30s"`
}

// AnalysisConfig holds detector and scorer tunables
type AnalysisConfig struct {
	TickSize                 float64       `env:"TICK_SIZE, default=0.1"`
	AbsorptionThreshold      int64         `env:"ABSORPTION_THRESHOLD, default=400"`
	AbsorptionBucketDecimals int           `env:"ABSORPTION_BUCKET_DECIMALS, default=1"`
	SweepToleranceBars       int           `env:"SWEEP_TOLERANCE_BARS, default=1"`
	ExecuteThreshold         float64       `env:"CONFIDENCE_THRESHOLD, default=0.70"`
	WaitThreshold            float64       `env:"WAIT_THRESHOLD, default=0.50"`
	VolumeReference          float64       `env:"VOLUME_REFERENCE, default=2000"`
	OrderFlowTicks           int           `env:"ORDERFLOW_TICKS, default=500"`
	OrderFlowWindow          time.Duration `env:"ORDERFLOW_WINDOW, default=60s"`
	OrderFlowDeadband        int64         `env:"ORDERFLOW_DEADBAND, default=50"`
	SignalHorizonBars        int           `env:"SIGNAL_HORIZON_BARS, default=20"`
}

// FiltersConfig selects the filter preset
type FiltersConfig struct {
	Preset          string `env:"PRESET, default=normal"` // strict, normal, lenient
	PresetsPath     string `env:"PRESETS_PATH"`
	AllowOffSession bool   `env:"ALLOW_OFF_SESSION, default=false"`
	AllowKillZone   bool   `env:"ALLOW_KILL_ZONE, default=false"`
}

// SessionsConfig holds UTC session boundaries as HH:MM-HH:MM
type SessionsConfig struct {
	Asia    string `env:"ASIA, default=00:00-06:00"`
	London  string `env:"LONDON, default=06:00-13:00"`
	NewYork string `env:"NEW_YORK, default=13:00-21:00"`
}

// NewsConfig holds news window configuration
type NewsConfig struct {
	CalendarPath    string        `env:"CALENDAR_PATH"`
	WindowMinutes   int           `env:"WINDOW_MINUTES, default=10"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL, default=15m"`
}

// MemoryConfig holds zone memory configuration
type MemoryConfig struct {
	Path           string  `env:"PATH, default=data/zone_memory.json"`
	MergeTolerance float64 `env:"MERGE_TOLERANCE, default=2"`
	RetentionDays  int     `env:"RETENTION_DAYS, default=10"`
	MaxRecords     int     `env:"MAX_RECORDS, default=100"`
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	CORSEnabled bool     `env:"CORS_ENABLED, default=true"`
	CORSOrigins []string `env:"CORS_ORIGINS, default=*"`
	CORSMethods []string `env:"CORS_METHODS, default=GET,POST,OPTIONS"`
	CORSHeaders []string `env:"CORS_HEADERS, default=Content-Type"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
	Output string `env:"OUTPUT, default=stdout"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	MetricsEnabled bool `env:"METRICS_ENABLED, default=true"`
}

// Load loads configuration from environment variables using go-envconfig
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

// LoadWithLookuper is Load with an explicit variable source (tests)
func LoadWithLookuper(l envconfig.Lookuper) (*Config, error) {
	return load(context.Background(), l)
}

// Defaults returns the configuration with every default applied and no
// environment consulted. It panics if the defaults themselves are invalid.
func Defaults() *Config {
	cfg, err := LoadWithLookuper(envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		panic(err)
	}
	return cfg
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("%w: failed to process config: %v", models.ErrConfigInvalid, err)
	}

	if cfg.Exchange.OANDA.StreamURL == "" {
		if cfg.Exchange.OANDA.Environment == "live" {
			cfg.Exchange.OANDA.StreamURL = "https://stream-fxtrade.oanda.com"
		} else {
			cfg.Exchange.OANDA.StreamURL = "https://stream-fxpractice.oanda.com"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects impossible thresholds. Every failure wraps ErrConfigInvalid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", models.ErrConfigInvalid, fmt.Sprintf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("invalid server port: %d", c.Server.Port)
	}

	a := c.Analysis
	if a.TickSize <= 0 {
		return invalid("tick_size must be positive, got %v", a.TickSize)
	}
	if a.AbsorptionThreshold <= 0 {
		return invalid("absorption_threshold must be positive, got %d", a.AbsorptionThreshold)
	}
	if a.AbsorptionBucketDecimals < 0 || a.AbsorptionBucketDecimals > 6 {
		return invalid("absorption_bucket_decimals out of range: %d", a.AbsorptionBucketDecimals)
	}
	if a.SweepToleranceBars != 1 {
		return invalid("sweep_tolerance_bars is fixed at 1, got %d", a.SweepToleranceBars)
	}
	if a.ExecuteThreshold <= 0 || a.ExecuteThreshold > 1 {
		return invalid("confidence_threshold must be in (0, 1], got %v", a.ExecuteThreshold)
	}
	if a.WaitThreshold <= 0 || a.WaitThreshold > 1 {
		return invalid("wait threshold must be in (0, 1], got %v", a.WaitThreshold)
	}
	if a.WaitThreshold > a.ExecuteThreshold {
		return invalid("wait threshold %v exceeds execute threshold %v", a.WaitThreshold, a.ExecuteThreshold)
	}
	if a.VolumeReference <= 0 {
		return invalid("volume reference must be positive")
	}
	if a.OrderFlowTicks <= 0 || a.OrderFlowWindow <= 0 {
		return invalid("order-flow window must be positive")
	}
	if a.SignalHorizonBars <= 0 {
		return invalid("signal horizon must be positive")
	}

	bucket := math.Pow10(-a.AbsorptionBucketDecimals)
	if c.Memory.MergeTolerance < 2*bucket {
		return invalid("zone_merge_tolerance %v must be at least twice the bucket size %v", c.Memory.MergeTolerance, bucket)
	}
	if c.Memory.RetentionDays <= 0 || c.TickStore.RetentionDays <= 0 {
		return invalid("retention days must be positive")
	}
	if c.Memory.MaxRecords <= 0 {
		return invalid("memory_max_records must be positive")
	}
	if c.TickStore.RingCapacity <= 0 {
		return invalid("tick ring capacity must be positive")
	}
	switch c.TickStore.Driver {
	case "sqlite", "mysql":
	default:
		return invalid("unknown tick store driver %q", c.TickStore.Driver)
	}

	switch strings.ToLower(c.Filters.Preset) {
	case "strict", "normal", "lenient":
	default:
		return invalid("unknown filter preset %q", c.Filters.Preset)
	}
	if c.News.WindowMinutes <= 0 {
		return invalid("news_window_minutes must be positive")
	}

	for name, window := range map[string]string{
		"asia":     c.Sessions.Asia,
		"london":   c.Sessions.London,
		"new_york": c.Sessions.NewYork,
	} {
		if _, _, err := ParseWindow(window); err != nil {
			return invalid("session %s: %v", name, err)
		}
	}

	switch c.Exchange.Feed {
	case "none", "binance", "oanda", "websocket":
	default:
		return invalid("unknown feed %q", c.Exchange.Feed)
	}
	if c.Exchange.QueueSize <= 0 || c.Exchange.BatchSize <= 0 {
		return invalid("exchange queue and batch sizes must be positive")
	}

	return nil
}

// ParseWindow parses "HH:MM-HH:MM" into offsets from UTC midnight
func ParseWindow(s string) (time.Duration, time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("window %q is not HH:MM-HH:MM", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("window %q ends before it starts", s)
	}
	return start, end, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// DSN returns the go-sql-driver data source name
func (m MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		m.User,
		m.Password,
		m.Host,
		m.Port,
		m.Database,
	)
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// GetMySQLDSN returns MySQL DSN string
func (c *Config) GetMySQLDSN() string {
	return c.MySQL.DSN()
}

// GetRedisAddr returns Redis address
func (c *Config) GetRedisAddr() string {
	return c.Redis.Addr()
}

// GetServerAddr returns server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
