package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gymbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	LeadModeClock    = "clock"
	LeadModeCalendar = "calendar"

	WeekAnchorNow  = "now"
	WeekAnchorSlot = "slot"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Backup     BackupConfig     `yaml:"backup"`
	API        APIConfig        `yaml:"api"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Rules      RulesConfig      `yaml:"rules"`
	Guard      GuardConfig      `yaml:"guard"`
	Google     GoogleConfig     `yaml:"google"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// ScheduleConfig describes which slots exist: opening hours are inclusive on
// both ends and blocked hours are skipped.
type ScheduleConfig struct {
	Timezone         string        `yaml:"timezone"`
	HorizonDays      int           `yaml:"horizon_days"`
	OpenHour         int           `yaml:"open_hour"`
	CloseHour        int           `yaml:"close_hour"`
	BlockedHours     []int         `yaml:"blocked_hours"`
	Capacity         int           `yaml:"capacity"`
	GenerateInterval time.Duration `yaml:"generate_interval"`
}

// Location resolves Timezone, falling back to UTC when it is empty.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

type RulesConfig struct {
	MinLeadHours int    `yaml:"min_lead_hours"`
	LeadMode     string `yaml:"lead_mode"`
	DailyLimit   int    `yaml:"daily_limit"`
	WeeklyLimit  int    `yaml:"weekly_limit"`
	WeekAnchor   string `yaml:"week_anchor"`
}

type GuardConfig struct {
	IdempotencyTTL  time.Duration `yaml:"idempotency_ttl"`
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

type GoogleConfig struct {
	Enabled               bool   `yaml:"enabled"`
	GoogleCredentialsFile string `yaml:"credentials_file"`
	AuditSpreadSheetID    string `yaml:"audit_spreadsheet_id"`
	AuditSheetName        string `yaml:"audit_sheet_name"`
	MaxRetries            int    `yaml:"max_retries"`
}

type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotToken    string `yaml:"bot_token"`
	AdminChatID int64  `yaml:"admin_chat_id"`
	Debug       bool   `yaml:"debug"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if err := c.Schedule.validate(); err != nil {
		return err
	}

	switch c.Rules.LeadMode {
	case LeadModeClock, LeadModeCalendar:
	default:
		return fmt.Errorf("unknown rules.lead_mode %q", c.Rules.LeadMode)
	}
	switch c.Rules.WeekAnchor {
	case WeekAnchorNow, WeekAnchorSlot:
	default:
		return fmt.Errorf("unknown rules.week_anchor %q", c.Rules.WeekAnchor)
	}
	if c.Rules.DailyLimit <= 0 || c.Rules.WeeklyLimit <= 0 || c.Rules.MinLeadHours < 0 {
		return errors.New("rules limits must be positive")
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE") {
		return errors.New("telegram bot token is required when telegram is enabled")
	}
	if c.API.GRPC.TLS.Enabled && (c.API.GRPC.TLS.CertFile == "" || c.API.GRPC.TLS.KeyFile == "") {
		return errors.New("grpc tls requires cert_file and key_file")
	}
	if c.Google.Enabled && (c.Google.GoogleCredentialsFile == "" || c.Google.AuditSpreadSheetID == "") {
		return errors.New("google credentials file and audit spreadsheet id are required when google is enabled")
	}

	return nil
}

func (s ScheduleConfig) validate() error {
	if s.OpenHour < 0 || s.CloseHour > 23 || s.OpenHour > s.CloseHour {
		return fmt.Errorf("invalid opening hours %d..%d", s.OpenHour, s.CloseHour)
	}
	if s.Capacity <= 0 {
		return errors.New("schedule capacity must be positive")
	}
	if s.HorizonDays <= 0 {
		return errors.New("schedule horizon_days must be positive")
	}
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("invalid schedule timezone %q: %w", s.Timezone, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "gymbook"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}

	// Schedule defaults
	if c.Schedule.HorizonDays == 0 {
		c.Schedule.HorizonDays = models.DefaultHorizonDays
	}
	if c.Schedule.OpenHour == 0 && c.Schedule.CloseHour == 0 {
		c.Schedule.OpenHour = models.DefaultOpenHour
		c.Schedule.CloseHour = models.DefaultCloseHour
	}
	if c.Schedule.BlockedHours == nil {
		c.Schedule.BlockedHours = []int{models.DefaultBlockedHour}
	}
	if c.Schedule.Capacity == 0 {
		c.Schedule.Capacity = models.DefaultSlotCapacity
	}
	if c.Schedule.GenerateInterval == 0 {
		c.Schedule.GenerateInterval = 24 * time.Hour
	}

	// Rules defaults
	if c.Rules.MinLeadHours == 0 {
		c.Rules.MinLeadHours = models.DefaultMinLeadHours
	}
	if c.Rules.LeadMode == "" {
		c.Rules.LeadMode = LeadModeClock
	}
	if c.Rules.DailyLimit == 0 {
		c.Rules.DailyLimit = models.DefaultDailyLimit
	}
	if c.Rules.WeeklyLimit == 0 {
		c.Rules.WeeklyLimit = models.DefaultWeeklyLimit
	}
	if c.Rules.WeekAnchor == "" {
		c.Rules.WeekAnchor = WeekAnchorNow
	}

	// Guard defaults
	if c.Guard.IdempotencyTTL == 0 {
		c.Guard.IdempotencyTTL = models.DefaultIdempotencyTTL * time.Second
	}
	if c.Guard.RateLimit == 0 {
		c.Guard.RateLimit = models.RateLimitRequests
	}
	if c.Guard.RateLimitWindow == 0 {
		c.Guard.RateLimitWindow = models.RateLimitWindow * time.Second
	}

	if c.Google.AuditSheetName == "" {
		c.Google.AuditSheetName = "Audit"
	}
	if c.Google.MaxRetries == 0 {
		c.Google.MaxRetries = 5
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
