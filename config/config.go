// Package config loads the herald binary's settings from HERALD_*
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/importer"
	"github.com/xraph/herald/queue"
	"github.com/xraph/herald/retention"
	"github.com/xraph/herald/send"
	"github.com/xraph/herald/transport/smpp"
	"github.com/xraph/herald/transport/smtp"
)

// Prefix is prepended to every variable name.
const Prefix = "HERALD_"

// Queue backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr    string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	WaitTimeout time.Duration `env:"WAIT_TIMEOUT" envDefault:"30s"`
	// SendTimeout bounds one transport call for one recipient.
	SendTimeout time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`

	// QueueBackend selects where jobs, dead letters and balances live.
	// Contacts and the message log always use Postgres unless the
	// backend is memory.
	QueueBackend  string `env:"QUEUE_BACKEND" envDefault:"postgres"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	Engine    EngineConfig    `envPrefix:"ENGINE_"`
	Lanes     LaneConfig      `envPrefix:"LANE_"`
	Price     PriceConfig     `envPrefix:"PRICE_"`
	SMPP      SMPPConfig      `envPrefix:"SMPP_"`
	SMTP      SMTPConfig      `envPrefix:"SMTP_"`
	Retention RetentionConfig `envPrefix:"RETENTION_"`
}

// EngineConfig mirrors herald.Config.
type EngineConfig struct {
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`
	StaleJobThreshold time.Duration `env:"STALE_JOB_THRESHOLD" envDefault:"1m"`
	WaitPollInterval  time.Duration `env:"WAIT_POLL_INTERVAL" envDefault:"1s"`
}

// LaneConfig overrides the per-type lane defaults. Zero keeps the default.
type LaneConfig struct {
	ContactConcurrency int           `env:"CONTACT_CONCURRENCY"`
	ContactAttempts    int           `env:"CONTACT_ATTEMPTS"`
	ContactBackoff     time.Duration `env:"CONTACT_BACKOFF"`
	ContactBackoffMax  time.Duration `env:"CONTACT_BACKOFF_MAX"`
	ContactRateLimit   float64       `env:"CONTACT_RATE_LIMIT"`
	GroupConcurrency   int           `env:"GROUP_CONCURRENCY"`
	BulkConcurrency    int           `env:"BULK_CONCURRENCY"`
	ImportConcurrency  int           `env:"IMPORT_CONCURRENCY"`
}

// PriceConfig is the unit cost per message in minor units.
type PriceConfig struct {
	SMS   int64 `env:"SMS" envDefault:"1"`
	Email int64 `env:"EMAIL" envDefault:"1"`
}

// SMPPConfig configures the SMS gateway. An empty Addr disables SMS.
type SMPPConfig struct {
	Addr        string        `env:"ADDR"`
	User        string        `env:"USER"`
	Password    string        `env:"PASSWORD"`
	SystemType  string        `env:"SYSTEM_TYPE"`
	Source      string        `env:"SOURCE"`
	RespTimeout time.Duration `env:"RESP_TIMEOUT" envDefault:"10s"`
	RatePerSec  float64       `env:"RATE_PER_SEC"`
}

// SMTPConfig configures the mail relay. An empty Host disables email.
type SMTPConfig struct {
	Host     string        `env:"HOST"`
	Port     int           `env:"PORT" envDefault:"587"`
	Username string        `env:"USERNAME"`
	Password string        `env:"PASSWORD"`
	From     string        `env:"FROM"`
	TLS      string        `env:"TLS" envDefault:"mandatory"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

// RetentionConfig controls the sweep job. Zero TTLs keep data forever.
type RetentionConfig struct {
	JobTTL   time.Duration `env:"JOB_TTL" envDefault:"168h"`
	DLQTTL   time.Duration `env:"DLQ_TTL" envDefault:"720h"`
	Schedule string        `env:"SCHEDULE" envDefault:"@daily"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("%w: parse environment: %v", herald.ErrValidation, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.QueueBackend {
	case BackendMemory:
	case BackendPostgres, BackendRedis:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: %sPOSTGRES_DSN is required for the %s backend", herald.ErrValidation, Prefix, c.QueueBackend)
		}
	default:
		return fmt.Errorf("%w: unknown queue backend %q", herald.ErrValidation, c.QueueBackend)
	}
	if c.QueueBackend == BackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("%w: %sREDIS_ADDR is required for the redis backend", herald.ErrValidation, Prefix)
	}
	if c.Price.SMS < 0 || c.Price.Email < 0 {
		return fmt.Errorf("%w: prices must be non-negative", herald.ErrValidation)
	}
	if c.Retention.Schedule != "" {
		if _, err := retention.ParseSchedule(c.Retention.Schedule); err != nil {
			return err
		}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// EngineSettings returns the engine-wide settings.
func (c Config) EngineSettings() herald.Config {
	return herald.Config{
		PollInterval:      c.Engine.PollInterval,
		ShutdownTimeout:   c.Engine.ShutdownTimeout,
		HeartbeatInterval: c.Engine.HeartbeatInterval,
		StaleJobThreshold: c.Engine.StaleJobThreshold,
		WaitPollInterval:  c.Engine.WaitPollInterval,
	}
}

// QueueConfigs returns the lane settings that differ from the registered
// defaults. Types left unset here keep what send.Register and
// importer.Register declare.
func (c Config) QueueConfigs() []queue.Config {
	var out []queue.Config
	l := c.Lanes

	if l.ContactConcurrency > 0 || l.ContactAttempts > 0 || l.ContactBackoff > 0 || l.ContactRateLimit > 0 {
		cfg := send.DefaultQueueConfigs()[0]
		if l.ContactConcurrency > 0 {
			cfg.Concurrency = l.ContactConcurrency
		}
		if l.ContactAttempts > 0 {
			cfg.Attempts = l.ContactAttempts
		}
		if l.ContactBackoff > 0 {
			maxDelay := l.ContactBackoffMax
			if maxDelay <= 0 {
				maxDelay = cfg.Backoff.Max
			}
			cfg.Backoff = backoff.ExponentialPolicy(l.ContactBackoff, maxDelay)
		}
		cfg.RateLimit = l.ContactRateLimit
		out = append(out, cfg)
	}
	if l.GroupConcurrency > 0 {
		cfg := send.DefaultQueueConfigs()[1]
		cfg.Concurrency = l.GroupConcurrency
		out = append(out, cfg)
	}
	if l.BulkConcurrency > 0 {
		cfg := send.DefaultQueueConfigs()[2]
		cfg.Concurrency = l.BulkConcurrency
		out = append(out, cfg)
	}
	if l.ImportConcurrency > 0 {
		out = append(out, queue.Config{
			Type:        importer.TypeImport,
			Concurrency: l.ImportConcurrency,
			Attempts:    3,
			Backoff:     backoff.FixedPolicy(5 * time.Second),
		})
	}
	return out
}

// Pricing returns the send unit costs.
func (c Config) Pricing() send.Pricing {
	return send.Pricing{SMS: c.Price.SMS, Email: c.Price.Email}
}

// SMPPSettings returns the SMPP sender settings.
func (c Config) SMPPSettings() smpp.Config {
	return smpp.Config{
		Addr:        c.SMPP.Addr,
		User:        c.SMPP.User,
		Password:    c.SMPP.Password,
		SystemType:  c.SMPP.SystemType,
		Source:      c.SMPP.Source,
		RespTimeout: c.SMPP.RespTimeout,
		RatePerSec:  c.SMPP.RatePerSec,
	}
}

// SMTPSettings returns the SMTP sender settings.
func (c Config) SMTPSettings() smtp.Config {
	return smtp.Config{
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		TLS:      c.SMTP.TLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// RetentionSettings returns the sweep TTLs.
func (c Config) RetentionSettings() retention.Config {
	return retention.Config{JobTTL: c.Retention.JobTTL, DLQTTL: c.Retention.DLQTTL}
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel) //nolint:errcheck // checked by Validate
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log level %q", herald.ErrValidation, s)
	}
	return lvl, nil
}
