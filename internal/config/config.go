package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the dialer process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Dialer DialerConfig
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

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// DialerConfig tunes the admission-and-rate-control engine.
// Every knob is env-driven with a safe default; Validate() rejects
// combinations that must never reach the hot loop (fatal config errors).
type DialerConfig struct {
	// Gateway selects the call-origination adapter: "sim" or "sip".
	Gateway string

	// TickInterval is the admission loop cadence.
	TickInterval time.Duration

	// CPS bounds and ramp tuning.
	MinCPS       float64
	MaxCPS       float64
	InitialCPS   float64
	RampStep     float64
	RampInterval time.Duration

	// QualityThreshold is the trailing success rate required to keep ramping
	// up, and the recovery bar for releasing the emergency brake.
	QualityThreshold float64
	// BrakeThreshold engages the emergency brake when the trailing success
	// rate drops below it. Must stay below QualityThreshold (hysteresis).
	BrakeThreshold float64
	// BrakeWindow is the lookback used for the brake's success-rate check.
	BrakeWindow time.Duration
	// LoadCeiling is the concurrent/max-concurrent ratio above which ramping
	// up is suspended.
	LoadCeiling float64
	// AbandonThreshold scales the agent-capacity formula (safety factor).
	AbandonThreshold float64

	// AvailableAgents is the answering capacity used by the capacity formula.
	AvailableAgents int

	// Concurrency and dispatch pool limits.
	MaxConcurrentCalls int
	OriginateWorkers   int

	// Retry policy for transient call failures.
	MaxAttempts   int
	RetryInterval time.Duration

	// StaleCallTimeout force-terminates calls with no terminating event.
	StaleCallTimeout time.Duration
	// TerminalGrace keeps terminal calls attributable to late events.
	TerminalGrace time.Duration

	// MetricsWindow is the trailing duration retained for rate computation.
	MetricsWindow time.Duration

	// CLI selection policy: round_robin, random, least_used.
	CliPolicy   string
	CliCooldown time.Duration

	// Frequency caps (attempts per destination in trailing windows).
	FrequencyCapDay  int
	FrequencyCapWeek int
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
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")

	c.Dialer.Gateway = strings.TrimSpace(os.Getenv("DIALER_GATEWAY"))
	c.Dialer.TickInterval = optDuration("DIALER_TICK_INTERVAL")
	c.Dialer.MinCPS = optFloat("DIALER_MIN_CPS")
	c.Dialer.MaxCPS = optFloat("DIALER_MAX_CPS")
	c.Dialer.InitialCPS = optFloat("DIALER_INITIAL_CPS")
	c.Dialer.RampStep = optFloat("DIALER_RAMP_STEP")
	c.Dialer.RampInterval = optDuration("DIALER_RAMP_INTERVAL")
	c.Dialer.QualityThreshold = optFloat("DIALER_QUALITY_THRESHOLD")
	c.Dialer.BrakeThreshold = optFloat("DIALER_BRAKE_THRESHOLD")
	c.Dialer.BrakeWindow = optDuration("DIALER_BRAKE_WINDOW")
	c.Dialer.LoadCeiling = optFloat("DIALER_LOAD_CEILING")
	c.Dialer.AbandonThreshold = optFloat("DIALER_ABANDON_THRESHOLD")
	c.Dialer.AvailableAgents = optInt("DIALER_AVAILABLE_AGENTS")
	c.Dialer.MaxConcurrentCalls = optInt("DIALER_MAX_CONCURRENT_CALLS")
	c.Dialer.OriginateWorkers = optInt("DIALER_ORIGINATE_WORKERS")
	c.Dialer.MaxAttempts = optInt("DIALER_MAX_ATTEMPTS")
	c.Dialer.RetryInterval = optDuration("DIALER_RETRY_INTERVAL")
	c.Dialer.StaleCallTimeout = optDuration("DIALER_STALE_CALL_TIMEOUT")
	c.Dialer.TerminalGrace = optDuration("DIALER_TERMINAL_GRACE")
	c.Dialer.MetricsWindow = optDuration("DIALER_METRICS_WINDOW")
	c.Dialer.CliPolicy = strings.TrimSpace(os.Getenv("DIALER_CLI_POLICY"))
	c.Dialer.CliCooldown = optDuration("DIALER_CLI_COOLDOWN")
	c.Dialer.FrequencyCapDay = optInt("DIALER_FREQUENCY_CAP_DAY")
	c.Dialer.FrequencyCapWeek = optInt("DIALER_FREQUENCY_CAP_WEEK")

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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
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
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	errs = append(errs, c.Dialer.ApplyDefaults()...)

	return joinErrors(errs)
}

// ApplyDefaults fills safe defaults and collects fatal config errors.
// Invalid combinations are rejected here so they never reach the hot loop.
func (d *DialerConfig) ApplyDefaults() []error {
	var errs []error

	if d.Gateway == "" {
		d.Gateway = "sim"
	}
	if d.Gateway != "sim" && d.Gateway != "sip" {
		errs = append(errs, fmt.Errorf("DIALER_GATEWAY must be sim or sip, got %q", d.Gateway))
	}

	if d.TickInterval <= 0 {
		d.TickInterval = 25 * time.Millisecond
	}
	if d.MinCPS <= 0 {
		d.MinCPS = 0.1
	}
	if d.MaxCPS <= 0 {
		d.MaxCPS = 10
	}
	if d.MinCPS > d.MaxCPS {
		errs = append(errs, fmt.Errorf("DIALER_MIN_CPS (%v) must not exceed DIALER_MAX_CPS (%v)", d.MinCPS, d.MaxCPS))
	}
	if d.InitialCPS <= 0 {
		d.InitialCPS = d.MinCPS
	}
	if d.RampStep <= 0 {
		d.RampStep = 0.1
	}
	if d.RampInterval <= 0 {
		d.RampInterval = 10 * time.Second
	}

	if d.QualityThreshold <= 0 {
		d.QualityThreshold = 0.80
	}
	if d.BrakeThreshold <= 0 {
		d.BrakeThreshold = 0.10
	}
	if d.BrakeThreshold >= d.QualityThreshold {
		// Hysteresis requires distinct thresholds.
		errs = append(errs, fmt.Errorf("DIALER_BRAKE_THRESHOLD (%v) must be below DIALER_QUALITY_THRESHOLD (%v)", d.BrakeThreshold, d.QualityThreshold))
	}
	if d.BrakeWindow <= 0 {
		d.BrakeWindow = 10 * time.Minute
	}
	if d.LoadCeiling <= 0 || d.LoadCeiling > 1 {
		d.LoadCeiling = 0.9
	}
	if d.AbandonThreshold < 0 || d.AbandonThreshold >= 1 {
		d.AbandonThreshold = 0.05
	}

	if d.AvailableAgents <= 0 {
		errs = append(errs, fmt.Errorf("DIALER_AVAILABLE_AGENTS must be > 0, got %d", d.AvailableAgents))
	}
	if d.MaxConcurrentCalls <= 0 {
		d.MaxConcurrentCalls = 100
	}
	if d.OriginateWorkers <= 0 {
		d.OriginateWorkers = 50
	}

	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 3
	}
	if d.RetryInterval <= 0 {
		d.RetryInterval = 5 * time.Minute
	}
	if d.StaleCallTimeout <= 0 {
		d.StaleCallTimeout = 300 * time.Second
	}
	if d.TerminalGrace <= 0 {
		d.TerminalGrace = 30 * time.Second
	}
	if d.MetricsWindow <= 0 {
		d.MetricsWindow = 10 * time.Minute
	}

	if d.CliPolicy == "" {
		d.CliPolicy = "least_used"
	}
	if !isValidCliPolicy(d.CliPolicy) {
		errs = append(errs, fmt.Errorf("DIALER_CLI_POLICY must be one of round_robin, random, least_used, got %q", d.CliPolicy))
	}
	if d.CliCooldown < 0 {
		d.CliCooldown = 0
	}

	if d.FrequencyCapDay <= 0 {
		d.FrequencyCapDay = 3
	}
	if d.FrequencyCapWeek <= 0 {
		d.FrequencyCapWeek = 7
	}
	if d.FrequencyCapWeek < d.FrequencyCapDay {
		errs = append(errs, fmt.Errorf("DIALER_FREQUENCY_CAP_WEEK (%d) must be >= DIALER_FREQUENCY_CAP_DAY (%d)", d.FrequencyCapWeek, d.FrequencyCapDay))
	}

	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
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

func (c Config) RedisAddr() string {
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

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optFloat(key string) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func optDuration(key string) time.Duration {
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

func isValidCliPolicy(v string) bool {
	switch v {
	case "round_robin", "random", "least_used":
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
