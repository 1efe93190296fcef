package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// DefaultQuery is the search term list used when a run names no query
var DefaultQuery = []string{
	"vue",
	"react",
	"python",
	"java",
	".net",
	"Software Developer",
	"Software Engineer",
	"Software Entwickler",
	"Software Ingenieur",
	"Software Architekt",
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"json", "console"}
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Worker   WorkerConfig   `yaml:"worker"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Geocoder GeocoderConfig `yaml:"geocoder"`
	Redis    RedisConfig    `yaml:"redis"`
	Enricher EnricherConfig `yaml:"enricher"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
}

// ScraperConfig holds job board and normalization settings
type ScraperConfig struct {
	Enabled              []string      `yaml:"enabled"`
	DefaultQuery         []string      `yaml:"default_query"`
	OstjobURL            string        `yaml:"ostjob_url"`
	PageSize             int           `yaml:"page_size"`
	Concurrency          int           `yaml:"concurrency"`
	JitterMin            time.Duration `yaml:"jitter_min"`
	JitterMax            time.Duration `yaml:"jitter_max"`
	MaxPages             int           `yaml:"max_pages"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	DomesticCountryCodes []string      `yaml:"domestic_country_codes"`
	DescriptionURL       string        `yaml:"description_url"`
}

// GeocoderConfig holds photon client settings
type GeocoderConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	Rate     float64       `yaml:"rate"`
	Burst    int           `yaml:"burst"`
	Limit    int           `yaml:"limit"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// RedisConfig holds the geocode cache connection. An empty Addr disables the cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EnricherConfig holds geocode worker settings
type EnricherConfig struct {
	Workers int `yaml:"workers"`
	// PollInterval repeats the pass; zero runs a single pass and exits.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	s := &c.Scraper
	if len(s.Enabled) == 0 {
		s.Enabled = []string{"ostjob"}
	}
	if len(s.DefaultQuery) == 0 {
		s.DefaultQuery = slices.Clone(DefaultQuery)
	}
	if s.PageSize == 0 {
		s.PageSize = 10
	}
	if s.Concurrency == 0 {
		s.Concurrency = 3
	}
	if s.JitterMin == 0 && s.JitterMax == 0 {
		s.JitterMin = 100 * time.Millisecond
		s.JitterMax = 1000 * time.Millisecond
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = 15 * time.Second
	}
	if len(s.DomesticCountryCodes) == 0 {
		s.DomesticCountryCodes = []string{"CH", "LI"}
	}

	if c.Geocoder.Timeout == 0 {
		c.Geocoder.Timeout = 15 * time.Second
	}
	if c.Geocoder.CacheTTL == 0 {
		c.Geocoder.CacheTTL = 30 * 24 * time.Hour
	}

	if c.Enricher.Workers == 0 {
		c.Enricher.Workers = 1
	}
}

// Validate checks the sections every service shares
func (c *Config) Validate() error {
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("invalid logging level: %q (must be one of %v)", c.Logging.Level, validLevels)
	}

	if !slices.Contains(validFormats, c.Logging.Format) {
		return fmt.Errorf("invalid logging format: %q (must be one of %v)", c.Logging.Format, validFormats)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateAPIConfig checks the configuration of the api service
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateRabbitMQ()
}

// ValidateWorkerConfig checks the configuration of the scrape worker
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.RunTimeout <= 0 {
		return fmt.Errorf("worker run_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return c.validateScraper()
}

func (c *Config) validateScraper() error {
	if c.Scraper.PageSize <= 0 {
		return fmt.Errorf("scraper page_size must be greater than 0")
	}

	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper concurrency must be greater than 0")
	}

	if c.Scraper.JitterMin < 0 || c.Scraper.JitterMax < c.Scraper.JitterMin {
		return fmt.Errorf("invalid scraper jitter: %s..%s", c.Scraper.JitterMin, c.Scraper.JitterMax)
	}

	return nil
}

// ValidateEnricherConfig checks the configuration of the geocode worker
func (c *Config) ValidateEnricherConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Geocoder.BaseURL == "" {
		return fmt.Errorf("geocoder base_url is required")
	}

	if c.Geocoder.Rate < 0 {
		return fmt.Errorf("geocoder rate must not be negative")
	}

	if c.Enricher.Workers <= 0 {
		return fmt.Errorf("enricher workers must be greater than 0")
	}

	if c.Enricher.PollInterval < 0 {
		return fmt.Errorf("enricher poll_interval must not be negative")
	}

	return nil
}
