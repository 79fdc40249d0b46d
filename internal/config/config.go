package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Notifier backends.
const (
	NotifierSMTP = "smtp"
	NotifierLog  = "log"
)

// Config holds the settings for every process. It is read once at startup
// and treated as immutable.
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort        string
	RequestTimeout    time.Duration
	CORSAllowedOrigin string

	// Passwords
	BcryptCost int

	// Verification codes
	CodeTTL         time.Duration
	CodeMaxAttempts int
	CodeRateLimit   int
	CodeRateWindow  time.Duration

	// Tokens
	TokenTTL time.Duration

	// Notifier
	Notifier      string
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPass      string
	SMTPFromEmail string
	SMTPFromName  string
	SiteName      string

	// Edge rate limit
	EdgeRatePerMin int
	EdgeBurst      int
	RedisURL       string

	// Worker
	CleanupInterval time.Duration
	MetricsPort     string

	// Logging
	LogLevel string
	LogDev   bool
}

// source resolves a key from the environment first and the optional config
// file second. Values that fail to parse or fall outside their range are
// collected in invalid.
type source struct {
	file    map[string]string
	invalid []string
}

func (s *source) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

// loadFile reads a YAML mapping of variable names to values.
func loadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	vals := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		vals[k] = fmt.Sprint(v)
	}
	return vals, nil
}

// Load reads the Config from the environment and, when CONFIG_FILE is set,
// from that YAML file. Environment values win. Missing required values
// are reported together, as are unparseable or out-of-range ones.
func Load() (*Config, error) {
	src := &source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		vals, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		src.file = vals
	}

	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = src.get("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.Notifier = src.getString("NOTIFIER", NotifierSMTP)
	if cfg.Notifier != NotifierSMTP && cfg.Notifier != NotifierLog {
		return nil, fmt.Errorf("invalid NOTIFIER %q: want %q or %q", cfg.Notifier, NotifierSMTP, NotifierLog)
	}

	cfg.SMTPHost = src.get("SMTP_HOST")
	if cfg.Notifier == NotifierSMTP && cfg.SMTPHost == "" {
		missing = append(missing, "SMTP_HOST")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = src.getString("SERVER_PORT", "8080")
	cfg.RequestTimeout = src.getPositiveDuration("REQUEST_TIMEOUT", 10*time.Second)
	cfg.CORSAllowedOrigin = src.getString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.BcryptCost = src.getInt("BCRYPT_COST", 12)
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		src.reject("BCRYPT_COST", fmt.Sprintf("must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	cfg.CodeTTL = src.getPositiveDuration("CODE_TTL", 15*time.Minute)
	cfg.CodeMaxAttempts = src.getPositiveInt("CODE_MAX_ATTEMPTS", 3)
	cfg.CodeRateLimit = src.getPositiveInt("CODE_RATE_LIMIT", 3)
	cfg.CodeRateWindow = src.getPositiveDuration("CODE_RATE_WINDOW", 60*time.Minute)
	cfg.TokenTTL = src.getPositiveDuration("TOKEN_TTL", 7*24*time.Hour)
	cfg.SMTPPort = src.getPositiveInt("SMTP_PORT", 587)
	cfg.SMTPUser = src.get("SMTP_USER")
	cfg.SMTPPass = src.get("SMTP_PASS")
	cfg.SMTPFromEmail = src.getString("SMTP_FROM_EMAIL", cfg.SMTPUser)
	cfg.SMTPFromName = src.get("SMTP_FROM_NAME")
	cfg.SiteName = src.getString("SITE_NAME", "authcore")
	cfg.EdgeRatePerMin = src.getPositiveInt("EDGE_RATE_PER_MIN", 20)
	cfg.EdgeBurst = src.getPositiveInt("EDGE_BURST", 10)
	cfg.RedisURL = src.get("REDIS_URL")
	cfg.CleanupInterval = src.getPositiveDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.MetricsPort = src.getString("METRICS_PORT", "9090")
	cfg.LogDev = src.get("LOG_DEV") == "1"
	if cfg.LogDev {
		cfg.LogLevel = src.getString("LOG_LEVEL", "debug")
	} else {
		cfg.LogLevel = src.getString("LOG_LEVEL", "info")
	}

	if len(src.invalid) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", src.invalid)
	}

	return cfg, nil
}

func (s *source) getString(key, defaultVal string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return defaultVal
}

func (s *source) reject(key, reason string) {
	s.invalid = append(s.invalid, key+" "+reason)
}

func (s *source) getInt(key string, defaultVal int) int {
	v := s.get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		s.reject(key, fmt.Sprintf("%q is not an integer", v))
		return defaultVal
	}
	return i
}

func (s *source) getPositiveInt(key string, defaultVal int) int {
	i := s.getInt(key, defaultVal)
	if i <= 0 {
		s.reject(key, "must be positive")
	}
	return i
}

func (s *source) getDuration(key string, defaultVal time.Duration) time.Duration {
	v := s.get(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		s.reject(key, fmt.Sprintf("%q is not a duration", v))
		return defaultVal
	}
	return d
}

func (s *source) getPositiveDuration(key string, defaultVal time.Duration) time.Duration {
	d := s.getDuration(key, defaultVal)
	if d <= 0 {
		s.reject(key, "must be positive")
	}
	return d
}
