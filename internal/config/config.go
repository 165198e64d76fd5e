package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. ENHANCER_SERVER_PORT.
const EnvPrefix = "ENHANCER"

// Location is a configured coordinate pair.
type Location struct {
	Lat float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `yaml:"lon" validate:"gte=-180,lte=180"`
}

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	TestingMode bool

	ServerPort     string        `validate:"required,numeric"`
	RequestTimeout time.Duration `validate:"gt=0"`

	UpstreamURL       string        `validate:"required,url"`
	UpstreamUserAgent string        `validate:"required"`
	UpstreamTimeout   time.Duration `validate:"gt=0"`

	CacheBackend string `validate:"oneof=in_memory memcached redis none"`
	CacheLRUSize int    `validate:"gt=0"`

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int `validate:"gte=0"`
	RedisTimeout  time.Duration

	FlagshipTTL time.Duration `validate:"gt=0"`
	PopularTTL  time.Duration `validate:"gt=0"`
	DefaultTTL  time.Duration `validate:"gt=0"`

	Flagship *Location
	Popular  []Location `validate:"dive"`

	RefreshEnabled     bool
	RefreshInterval    time.Duration `validate:"gt=0"`
	RefreshConcurrency int           `validate:"gt=0"`
	WarmOnStartup      bool

	FastModelPath      string
	RichEnabled        bool
	RichEndpoint       string `validate:"omitempty,url"`
	RichModel          string
	RichInitTimeout    time.Duration
	RichRequestTimeout time.Duration
	RichSeed           int
	RichMaxTokens      int `validate:"gte=0"`

	CoalesceEnabled bool

	RateLimitRPS            int `validate:"gt=0"`
	RateLimitBurst          int `validate:"gt=0"`
	BreakerFailureThreshold int `validate:"gt=0"`
	BreakerSuccessThreshold int `validate:"gt=0"`
	BreakerTimeout          time.Duration

	SnapshotDSN     string
	SnapshotTimeout time.Duration

	DegradedWindow     time.Duration
	DegradedErrorPct   int `validate:"gt=0,lte=100"`
	DegradedMinSamples int

	ShutdownTimeout time.Duration `validate:"gt=0"`
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"server"`

	Upstream struct {
		URL       string `yaml:"url"`
		UserAgent string `yaml:"user_agent"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"upstream"`

	Cache struct {
		Backend   string `yaml:"backend"`
		LRUSize   int    `yaml:"lru_size"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr    string `yaml:"addr"`
			DB      int    `yaml:"db"`
			Timeout string `yaml:"timeout"`
		} `yaml:"redis"`
		TTL struct {
			Flagship string `yaml:"flagship"`
			Popular  string `yaml:"popular"`
			Default  string `yaml:"default"`
		} `yaml:"ttl"`
	} `yaml:"cache"`

	Locations struct {
		Flagship *Location `yaml:"flagship"`
		Popular  []Location `yaml:"popular"`
	} `yaml:"locations"`

	Refresh struct {
		Enabled       *bool  `yaml:"enabled"`
		Interval      string `yaml:"interval"`
		Concurrency   int    `yaml:"concurrency"`
		WarmOnStartup *bool  `yaml:"warm_on_startup"`
	} `yaml:"refresh"`

	Analysis struct {
		FastModelPath string `yaml:"fast_model_path"`
		Rich          struct {
			Enabled        bool   `yaml:"enabled"`
			Endpoint       string `yaml:"endpoint"`
			Model          string `yaml:"model"`
			InitTimeout    string `yaml:"init_timeout"`
			RequestTimeout string `yaml:"request_timeout"`
			Seed           int    `yaml:"seed"`
			MaxTokens      int    `yaml:"max_tokens"`
		} `yaml:"rich"`
	} `yaml:"analysis"`

	Coalescing struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"coalescing"`

	Reliability struct {
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Snapshot struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"snapshot"`

	Health struct {
		DegradedWindow     string `yaml:"degraded_window"`
		DegradedErrorPct   int    `yaml:"degraded_error_pct"`
		DegradedMinSamples int    `yaml:"degraded_min_samples"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	RedisPassword string `yaml:"redis_password"`
	SnapshotDSN   string `yaml:"snapshot_dsn"`
}

// envOverrides is read with envconfig under EnvPrefix. Unset variables leave
// the pointer nil and the file value in place.
type envOverrides struct {
	ServerPort        *string        `envconfig:"SERVER_PORT"`
	UpstreamURL       *string        `envconfig:"UPSTREAM_URL"`
	UpstreamUserAgent *string        `envconfig:"UPSTREAM_USER_AGENT"`
	UpstreamTimeout   *time.Duration `envconfig:"UPSTREAM_TIMEOUT"`
	CacheBackend      *string        `envconfig:"CACHE_BACKEND"`
	MemcachedAddrs    *string        `envconfig:"MEMCACHED_ADDRS"`
	RedisAddr         *string        `envconfig:"REDIS_ADDR"`
	RedisPassword     *string        `envconfig:"REDIS_PASSWORD"`
	RefreshEnabled    *bool          `envconfig:"REFRESH_ENABLED"`
	RefreshInterval   *time.Duration `envconfig:"REFRESH_INTERVAL"`
	RichEnabled       *bool          `envconfig:"RICH_ENABLED"`
	RichEndpoint      *string        `envconfig:"RICH_ENDPOINT"`
	RichModel         *string        `envconfig:"RICH_MODEL"`
	CoalesceEnabled   *bool          `envconfig:"COALESCE_ENABLED"`
	RateLimitRPS      *int           `envconfig:"RATE_LIMIT_RPS"`
	SnapshotDSN       *string        `envconfig:"SNAPSHOT_DSN"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), the
// optional config/secrets.yaml and .env, then ENHANCER_* environment
// overrides. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom is Load rooted at dir.
func LoadFrom(dir string) (*Config, error) {
	// Absent .env is fine; existing environment variables win.
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(&fc)

	sec, err := readSecrets(filepath.Join(dir, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.RedisPassword = sec.RedisPassword
	cfg.SnapshotDSN = sec.SnapshotDSN

	var ov envOverrides
	if err := envconfig.Process(EnvPrefix, &ov); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	ov.apply(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc *fileConfig) *Config {
	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = strings.TrimSpace(fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 10*time.Second)

	cfg.UpstreamURL = fc.Upstream.URL
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = "https://api.met.no/weatherapi/locationforecast/2.0/compact"
	}
	cfg.UpstreamUserAgent = strings.TrimSpace(fc.Upstream.UserAgent)
	cfg.UpstreamTimeout = parseDurationOrZero(fc.Upstream.Timeout, 5*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheLRUSize = fc.Cache.LRUSize
	if cfg.CacheLRUSize <= 0 {
		cfg.CacheLRUSize = 4096
	}
	cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisAddr = strings.TrimSpace(fc.Cache.Redis.Addr)
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)

	cfg.FlagshipTTL = parseDuration(fc.Cache.TTL.Flagship, 300*time.Second)
	cfg.PopularTTL = parseDuration(fc.Cache.TTL.Popular, 600*time.Second)
	cfg.DefaultTTL = parseDuration(fc.Cache.TTL.Default, 900*time.Second)

	cfg.Flagship = fc.Locations.Flagship
	cfg.Popular = fc.Locations.Popular

	cfg.RefreshEnabled = true
	if fc.Refresh.Enabled != nil {
		cfg.RefreshEnabled = *fc.Refresh.Enabled
	}
	cfg.RefreshInterval = parseDuration(fc.Refresh.Interval, 10*time.Minute)
	cfg.RefreshConcurrency = fc.Refresh.Concurrency
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = 4
	}
	cfg.WarmOnStartup = true
	if fc.Refresh.WarmOnStartup != nil {
		cfg.WarmOnStartup = *fc.Refresh.WarmOnStartup
	}

	cfg.FastModelPath = strings.TrimSpace(fc.Analysis.FastModelPath)
	rich := fc.Analysis.Rich
	cfg.RichEnabled = rich.Enabled
	cfg.RichEndpoint = strings.TrimSpace(rich.Endpoint)
	cfg.RichModel = strings.TrimSpace(rich.Model)
	cfg.RichInitTimeout = parseDuration(rich.InitTimeout, 2*time.Minute)
	cfg.RichRequestTimeout = parseDuration(rich.RequestTimeout, 20*time.Second)
	cfg.RichSeed = rich.Seed
	cfg.RichMaxTokens = rich.MaxTokens
	if cfg.RichMaxTokens <= 0 {
		cfg.RichMaxTokens = 160
	}

	cfg.CoalesceEnabled = fc.Coalescing.Enabled

	r := fc.Reliability
	cfg.RateLimitRPS = r.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = r.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.BreakerFailureThreshold = r.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = r.BreakerSuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 1
	}
	cfg.BreakerTimeout = parseDuration(r.BreakerTimeout, 30*time.Second)

	cfg.SnapshotTimeout = parseDuration(fc.Snapshot.Timeout, 5*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 20
	}
	cfg.DegradedMinSamples = fc.Health.DegradedMinSamples
	if cfg.DegradedMinSamples <= 0 {
		cfg.DegradedMinSamples = 10
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	return cfg
}

func readSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func (o envOverrides) apply(cfg *Config) {
	setString(&cfg.ServerPort, o.ServerPort)
	setString(&cfg.UpstreamURL, o.UpstreamURL)
	setString(&cfg.UpstreamUserAgent, o.UpstreamUserAgent)
	if o.UpstreamTimeout != nil {
		cfg.UpstreamTimeout = *o.UpstreamTimeout
	}
	if o.CacheBackend != nil {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(*o.CacheBackend))
	}
	setString(&cfg.MemcachedAddrs, o.MemcachedAddrs)
	setString(&cfg.RedisAddr, o.RedisAddr)
	setString(&cfg.RedisPassword, o.RedisPassword)
	if o.RefreshEnabled != nil {
		cfg.RefreshEnabled = *o.RefreshEnabled
	}
	if o.RefreshInterval != nil {
		cfg.RefreshInterval = *o.RefreshInterval
	}
	if o.RichEnabled != nil {
		cfg.RichEnabled = *o.RichEnabled
	}
	setString(&cfg.RichEndpoint, o.RichEndpoint)
	setString(&cfg.RichModel, o.RichModel)
	if o.CoalesceEnabled != nil {
		cfg.CoalesceEnabled = *o.CoalesceEnabled
	}
	if o.RateLimitRPS != nil {
		cfg.RateLimitRPS = *o.RateLimitRPS
	}
	setString(&cfg.SnapshotDSN, o.SnapshotDSN)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is so validation can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

var structValidator = validator.New()

// validate checks struct tags, then cross-field rules. RequestTimeout is
// raised above UpstreamTimeout when needed.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.RequestTimeout <= cfg.UpstreamTimeout {
		cfg.RequestTimeout = cfg.UpstreamTimeout + time.Second
	}
	if !(cfg.FlagshipTTL <= cfg.PopularTTL && cfg.PopularTTL <= cfg.DefaultTTL) {
		return fmt.Errorf("cache.ttl must satisfy flagship <= popular <= default, got %s/%s/%s",
			cfg.FlagshipTTL, cfg.PopularTTL, cfg.DefaultTTL)
	}
	if cfg.RichEnabled && (cfg.RichEndpoint == "" || cfg.RichModel == "") {
		return fmt.Errorf("analysis.rich.endpoint and analysis.rich.model required when rich analysis is enabled")
	}
	if cfg.CacheBackend == "memcached" && cfg.MemcachedAddrs == "" {
		return fmt.Errorf("cache.memcached.addrs required for memcached backend")
	}
	return nil
}
