package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Video   VideoConfig
	Billing BillingConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// AuthConfig covers token verification only. This service never issues
// tokens; the identity service does.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// VideoConfig holds the Twilio Video API key credentials. The API key SID
// and secret sign access tokens; the account SID goes into the token subject.
type VideoConfig struct {
	AccountSID   string
	APIKeySID    string
	APIKeySecret string
}

// BillingConfig tunes the metering schedulers. Every field has a default;
// env overrides exist for load tests and staging.
type BillingConfig struct {
	TickInterval     time.Duration
	FreeTickInterval time.Duration
	SweepInterval    time.Duration
	StaleAfter       time.Duration
	MaxDuration      time.Duration
	RequestTTL       time.Duration
	FreeWindow       time.Duration
	BatchSize        int
	LeaseTTL         time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	c.Video.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Video.APIKeySID = strings.TrimSpace(os.Getenv("TWILIO_API_KEY_SID"))
	c.Video.APIKeySecret = os.Getenv("TWILIO_API_KEY_SECRET")

	// Scheduler knobs are optional; defaults applied in Validate().
	c.Billing.TickInterval = mustDuration("BILLING_TICK_INTERVAL")
	c.Billing.FreeTickInterval = mustDuration("BILLING_FREE_TICK_INTERVAL")
	c.Billing.SweepInterval = mustDuration("BILLING_SWEEP_INTERVAL")
	c.Billing.StaleAfter = mustDuration("BILLING_STALE_AFTER")
	c.Billing.MaxDuration = mustDuration("BILLING_MAX_DURATION")
	c.Billing.RequestTTL = mustDuration("SESSION_REQUEST_TTL")
	c.Billing.FreeWindow = mustDuration("FREE_TRIAL_WINDOW")
	c.Billing.LeaseTTL = mustDuration("BILLING_LEASE_TTL")
	{
		v := strings.TrimSpace(os.Getenv("BILLING_BATCH_SIZE"))
		if v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("BILLING_BATCH_SIZE must be an integer, got %q", v))
			}
			c.Billing.BatchSize = n
		}
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Video.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Video.APIKeySID == "" {
		errs = append(errs, errors.New("TWILIO_API_KEY_SID is required"))
	}
	if c.Video.APIKeySecret == "" {
		errs = append(errs, errors.New("TWILIO_API_KEY_SECRET is required"))
	}

	if c.Billing.TickInterval <= 0 {
		c.Billing.TickInterval = 30 * time.Second
	}
	if c.Billing.FreeTickInterval <= 0 {
		c.Billing.FreeTickInterval = 30 * time.Second
	}
	if c.Billing.SweepInterval <= 0 {
		c.Billing.SweepInterval = 5 * time.Minute
	}
	if c.Billing.StaleAfter <= 0 {
		c.Billing.StaleAfter = 10 * time.Minute
	}
	if c.Billing.MaxDuration <= 0 {
		c.Billing.MaxDuration = time.Hour
	}
	if c.Billing.RequestTTL <= 0 {
		c.Billing.RequestTTL = 30 * time.Second
	}
	if c.Billing.FreeWindow <= 0 {
		c.Billing.FreeWindow = 3 * time.Minute
	}
	if c.Billing.BatchSize <= 0 {
		c.Billing.BatchSize = 50
	}
	if c.Billing.LeaseTTL <= 0 {
		c.Billing.LeaseTTL = 2 * time.Minute
	}
	// A lease shorter than the tick interval would expire between ticks and
	// defeat the at-most-one guarantee.
	if c.Billing.LeaseTTL < c.Billing.TickInterval {
		errs = append(errs, errors.New("BILLING_LEASE_TTL must not be shorter than BILLING_TICK_INTERVAL"))
	}
	if c.Billing.StaleAfter <= c.Billing.TickInterval {
		errs = append(errs, errors.New("BILLING_STALE_AFTER must be greater than BILLING_TICK_INTERVAL"))
	}

	return joinErrors(errs)
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c *Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
