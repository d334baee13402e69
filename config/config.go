package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// Production fallbacks used when the environment does not say otherwise.
const (
	DefaultAPIBaseURL       = "https://api.qrmenu.app/api"
	DefaultPrinterBridgeURL = "http://localhost:3001"
)

// Ordering holds the tunables of the table flows. Tenants may override them
// through the YAML file named by ORDERING_CONFIG.
type Ordering struct {
	GracePeriodSeconds  int           `yaml:"grace_period_seconds"`
	StaffPollInterval   time.Duration `yaml:"staff_poll_interval"`
	TablePollInterval   time.Duration `yaml:"table_poll_interval"`
	TokenDurationHours  int           `yaml:"token_duration_hours"`
	RestaurantCacheTTL  time.Duration `yaml:"restaurant_cache_ttl"`
	HTTPTimeout         time.Duration `yaml:"http_timeout"`
	BridgeTimeout       time.Duration `yaml:"bridge_timeout"`
	DeactivateRecheck   bool          `yaml:"deactivate_recheck"`
	StrictQRRatePerHour int           `yaml:"strict_qr_rate_per_hour"`
	FlowIdleTTL         time.Duration `yaml:"flow_idle_ttl"`

	// Stations receive a ticket for every approved order.
	Stations []models.Station `yaml:"stations"`
}

// DefaultOrdering mirrors the constants the dashboards shipped with.
func DefaultOrdering() Ordering {
	return Ordering{
		GracePeriodSeconds:  60,
		StaffPollInterval:   30 * time.Second,
		TablePollInterval:   5 * time.Second,
		TokenDurationHours:  24,
		RestaurantCacheTTL:  10 * time.Minute,
		HTTPTimeout:         15 * time.Second,
		BridgeTimeout:       5 * time.Second,
		DeactivateRecheck:   true,
		StrictQRRatePerHour: 120,
		FlowIdleTTL:         30 * time.Minute,
	}
}

type Config struct {
	Port             string
	GinMode          string
	APIBaseURL       string
	PrinterBridgeURL string
	DefaultSubdomain string
	JWTSecret        string

	// SessionSecret keys the table session hash. Defaults to JWTSecret.
	SessionSecret string

	// BackendToken authenticates staff-only calls to the REST backend.
	BackendToken string

	DBDriver string
	DBDSN    string

	RedisURL     string
	KafkaBrokers string
	OTLPEndpoint string

	LogLevel  string
	LogFormat string

	AllowedOrigins []string

	Ordering Ordering
}

// Load reads .env (if any), the environment and the optional ordering file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		utils.InfoLogger.Debugf("no .env file loaded: %v", err)
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		GinMode:          getEnv("GIN_MODE", "debug"),
		APIBaseURL:       getEnv("API_BASE_URL", DefaultAPIBaseURL),
		PrinterBridgeURL: getEnv("PRINTER_BRIDGE_URL", DefaultPrinterBridgeURL),
		DefaultSubdomain: os.Getenv("DEFAULT_SUBDOMAIN"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		SessionSecret:    os.Getenv("SESSION_KEY_SECRET"),
		BackendToken:     os.Getenv("BACKEND_API_TOKEN"),
		DBDriver:         getEnv("DB_DRIVER", "sqlite"),
		DBDSN:            getEnv("DB_DSN", "qr_ordering.db"),
		RedisURL:         os.Getenv("REDIS_URL"),
		KafkaBrokers:     os.Getenv("KAFKA_BROKERS"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
		AllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		Ordering:         DefaultOrdering(),
	}

	if path := os.Getenv("ORDERING_CONFIG"); path != "" {
		if err := loadOrderingFile(path, &cfg.Ordering); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("GRACE_PERIOD_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("GRACE_PERIOD_SECONDS must be a positive integer, got %q", v)
		}
		cfg.Ordering.GracePeriodSeconds = n
	}

	return cfg, cfg.Validate()
}

// Validate rejects tunables the flows cannot work with.
func (c *Config) Validate() error {
	o := c.Ordering
	switch {
	case o.GracePeriodSeconds <= 0:
		return fmt.Errorf("grace_period_seconds must be positive")
	case o.StaffPollInterval <= 0 || o.TablePollInterval <= 0:
		return fmt.Errorf("poll intervals must be positive")
	case o.TokenDurationHours <= 0:
		return fmt.Errorf("token_duration_hours must be positive")
	case o.FlowIdleTTL <= 0:
		return fmt.Errorf("flow_idle_ttl must be positive")
	case c.GinMode == "release" && c.JWTSecret == "":
		return fmt.Errorf("JWT_SECRET is required when GIN_MODE=release")
	case c.DBDriver != "sqlite" && c.DBDriver != "mysql":
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	return nil
}

// SessionKeySecret is the key of the table session hash. Outside release mode
// it falls back to a fixed development key.
func (c *Config) SessionKeySecret() []byte {
	switch {
	case c.SessionSecret != "":
		return []byte(c.SessionSecret)
	case c.JWTSecret != "":
		return []byte(c.JWTSecret)
	}
	return []byte("qr-table-ordering-dev-session")
}

func loadOrderingFile(path string, o *Ordering) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ordering config: %w", err)
	}
	// Fields absent from the file keep their defaults.
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("parse ordering config %s: %w", path, err)
	}
	return nil
}

// InitDB opens the local ledger database.
func InitDB(cfg *Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "mysql":
		dialector = mysql.Open(cfg.DBDSN)
	default:
		dialector = sqlite.Open(cfg.DBDSN)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DBDriver, err)
	}
	return db, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
