package cfg

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Secret wraps sensitive config values so they never land in logs via %v.
type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}

func (s Secret) Value() string {
	return string(s.value)
}

func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}

func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port        string
	Environment string
	LogLevel    string

	DatabasePath   string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBQueryTimeout time.Duration

	RedisURL      string
	RedisTLS      bool
	RedisUsername string
	RedisPassword Secret
	RedisTimeout  time.Duration
	RedisServer   string
	RedisCACert   string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey Secret
	MinioBucket    string
	MinioUseSSL    bool

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword Secret
	SMTPFrom     string

	GoogleClientID     string
	GoogleClientSecret Secret
	GoogleRedirectURL  string

	Argon2Time        uint32
	Argon2Memory      uint32
	Argon2Parallelism uint8
	Pepper            Secret

	JWTSecret  Secret
	SessionTTL time.Duration

	MaxPasteSize   int64
	MaxFileSize    int64
	DefaultTTL     time.Duration
	MaxTTL         time.Duration
	SweepInterval  time.Duration
	SweepBatch     int
	BulkMaxIDs     int
	CascadeWorkers int

	RateLimit      RateLimitCfg
	TrustedProxies []string
	AllowedOrigins []string
	ContextTimeout time.Duration

	MetricsUser string
	MetricsPass Secret

	PublicBaseURL string
}

type RateLimitCfg struct {
	RPM               int
	ConservativeLimit int
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabasePath = getEnv("DATABASE_PATH", "linkvault.db")
	var err error
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 100)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.RedisServer = getEnv("REDIS_SERVER_NAME", "")
	c.RedisCACert = getEnv("REDIS_CA_CERT", "")
	c.MinioEndpoint = getEnv("MINIO_ENDPOINT", "")
	c.MinioAccessKey = getEnv("MINIO_ACCESS_KEY", "")
	c.MinioSecretKey = NewSecret(getEnv("MINIO_SECRET_KEY", ""))
	c.MinioBucket = getEnv("MINIO_BUCKET", "linkvault-files")
	c.MinioUseSSL = getEnv("MINIO_USE_SSL", "false") == "true"
	c.SMTPHost = getEnv("SMTP_HOST", "")
	c.SMTPPort, err = getInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	c.SMTPUsername = getEnv("SMTP_USERNAME", "")
	c.SMTPPassword = NewSecret(getEnv("SMTP_PASSWORD", ""))
	c.SMTPFrom = getEnv("SMTP_FROM", "noreply@localhost")
	c.GoogleClientID = getEnv("GOOGLE_CLIENT_ID", "")
	c.GoogleClientSecret = NewSecret(getEnv("GOOGLE_CLIENT_SECRET", ""))
	c.GoogleRedirectURL = getEnv("GOOGLE_REDIRECT_URL", "")
	c.Argon2Time, err = getUint32("ARGON2_TIME", 4)
	if err != nil {
		return nil, err
	}
	c.Argon2Memory, err = getUint32("ARGON2_MEMORY", 128*1024)
	if err != nil {
		return nil, err
	}
	p, err := getUint32("ARGON2_PARALLELISM", 2)
	if err != nil {
		return nil, err
	}
	if p > 255 {
		return nil, errors.New("ARGON2_PARALLELISM must be <= 255")
	}
	c.Argon2Parallelism = uint8(p)
	c.Pepper = NewSecret(getEnv("PEPPER", ""))
	c.JWTSecret = NewSecret(getEnv("JWT_SECRET", ""))
	c.SessionTTL, err = getDuration("SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 64*1024)
	if err != nil {
		return nil, err
	}
	c.MaxFileSize, err = getInt64("MAX_FILE_SIZE", 10*1024*1024)
	if err != nil {
		return nil, err
	}
	c.DefaultTTL, err = getDuration("DEFAULT_TTL", 600*time.Second)
	if err != nil {
		return nil, err
	}
	c.MaxTTL, err = getDuration("MAX_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	c.SweepInterval, err = getDuration("SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	c.SweepBatch, err = getInt("SWEEP_BATCH", 100)
	if err != nil {
		return nil, err
	}
	c.BulkMaxIDs, err = getInt("BULK_MAX_IDS", 100)
	if err != nil {
		return nil, err
	}
	c.CascadeWorkers, err = getInt("CASCADE_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	c.RateLimit.RPM, err = getInt("RATE_LIMIT_RPM", 60)
	if err != nil {
		return nil, err
	}
	c.RateLimit.ConservativeLimit, err = getInt("RATE_LIMIT_CONSERVATIVE", 5)
	if err != nil {
		return nil, err
	}
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.PublicBaseURL = getEnv("PUBLIC_BASE_URL", "http://localhost:"+c.Port)
	return c, nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}
	absDBPath, err := filepath.Abs(c.DatabasePath)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_PATH: %w", err)
	}
	if !strings.HasPrefix(absDBPath, absWorkDir+string(filepath.Separator)) && absDBPath != absWorkDir {
		return fmt.Errorf("DATABASE_PATH must be within working directory %s", absWorkDir)
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
		if c.RedisTLS && c.RedisServer == "" {
			return errors.New("REDIS_SERVER_NAME is required when REDIS_TLS=true")
		}
	}
	if c.MinioEndpoint == "" {
		return errors.New("MINIO_ENDPOINT is required")
	}
	if c.Argon2Time < 4 {
		return errors.New("ARGON2_TIME must be >= 4")
	}
	if c.Argon2Memory < 128*1024 {
		return errors.New("ARGON2_MEMORY must be >= 131072 (128MB)")
	}
	if c.Argon2Parallelism < 1 {
		return errors.New("ARGON2_PARALLELISM must be at least 1")
	}
	if len(c.Pepper.Value()) < 32 {
		return errors.New("PEPPER must be at least 32 bytes")
	}
	if len(c.JWTSecret.Value()) < 32 {
		return errors.New("JWT_SECRET must be at least 32 bytes")
	}
	if c.SessionTTL < time.Minute || c.SessionTTL > 30*24*time.Hour {
		return errors.New("SESSION_TTL must be between 1 minute and 30 days")
	}
	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.MaxFileSize <= 0 {
		return errors.New("MAX_FILE_SIZE must be positive")
	}
	if c.MaxFileSize > 100*1024*1024 {
		return errors.New("MAX_FILE_SIZE cannot exceed 100MB")
	}
	if c.DefaultTTL < time.Minute {
		return errors.New("DEFAULT_TTL must be at least 1 minute")
	}
	if c.MaxTTL < c.DefaultTTL {
		return errors.New("MAX_TTL cannot be below DEFAULT_TTL")
	}
	if c.SweepInterval < 10*time.Second {
		return errors.New("SWEEP_INTERVAL must be at least 10 seconds")
	}
	if c.SweepBatch <= 0 || c.SweepBatch > 10000 {
		return errors.New("SWEEP_BATCH must be between 1 and 10000")
	}
	if c.BulkMaxIDs <= 0 || c.BulkMaxIDs > 1000 {
		return errors.New("BULK_MAX_IDS must be between 1 and 1000")
	}
	if c.CascadeWorkers <= 0 {
		return errors.New("CASCADE_WORKERS must be positive")
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else {
			if net.ParseIP(proxy) == nil {
				return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
			}
		}
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}

func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MinioSecretKey.Wipe()
	c.SMTPPassword.Wipe()
	c.GoogleClientSecret.Wipe()
	c.MetricsPass.Wipe()
	c.Pepper.Wipe()
	c.JWTSecret.Wipe()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}

func getUint32(key string, fallback uint32) (uint32, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid uint32 for %s: %w", key, err)
	}
	return uint32(v), nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}

func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
