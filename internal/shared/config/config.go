package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	JWT        JWTConfig
	Scheduler  SchedulerConfig
	TLS        TLSConfig
	Firebase   FirebaseConfig
	AMQP       AMQPConfig
	Telemetry  TelemetryConfig
	Logging    LoggingConfig
	Simulation SimulationConfig
	Messages   MessagesConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	AllowedHosts   []string
	AllowedOrigins []string
	MaxUploadSize  int64
}

// JWTConfig enables bearer-token checks on the API when Secret is set. Tokens
// are issued by the dashboard's identity service.
type JWTConfig struct {
	Secret string
}

type SchedulerConfig struct {
	Enabled      bool
	TickInterval time.Duration
	WorkerCount  int
	JobDelay     time.Duration
	QueueSize    int
	SessionTTL   time.Duration
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type FirebaseConfig struct {
	CredentialsFile string
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
}

type LoggingConfig struct {
	Level string
	Dev   bool
	File  string
}

// SimulationConfig controls the stand-in collaborators. A zero Seed draws
// from the clock; any other value makes every simulated outcome reproducible.
type SimulationConfig struct {
	Seed       uint64
	FastTiming bool
}

type MessagesConfig struct {
	Path string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("MAX_UPLOAD_SIZE", 25<<20)

	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("SCHEDULER_TICK_INTERVAL", "30s")
	v.SetDefault("SCHEDULER_WORKERS", 4)
	v.SetDefault("SCHEDULER_JOB_DELAY", "0s")
	v.SetDefault("SCHEDULER_QUEUE_SIZE", 100)
	v.SetDefault("SESSION_TTL", "2h")

	v.SetDefault("AMQP_EXCHANGE", "accountlink.events")

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "accountlink-api")
	v.SetDefault("OTEL_EXPORTER_ENDPOINT", "localhost:4317")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEV", false)
}

// Load reads configuration from the environment. Call godotenv first to pick
// up a .env file.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("PORT"),
			Host:           v.GetString("HOST"),
			AllowedHosts:   splitList(v.GetString("ALLOWED_HOSTS")),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
			MaxUploadSize:  v.GetInt64("MAX_UPLOAD_SIZE"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
		},
		Scheduler: SchedulerConfig{
			Enabled:      v.GetBool("SCHEDULER_ENABLED"),
			TickInterval: v.GetDuration("SCHEDULER_TICK_INTERVAL"),
			WorkerCount:  v.GetInt("SCHEDULER_WORKERS"),
			JobDelay:     v.GetDuration("SCHEDULER_JOB_DELAY"),
			QueueSize:    v.GetInt("SCHEDULER_QUEUE_SIZE"),
			SessionTTL:   v.GetDuration("SESSION_TTL"),
		},
		TLS: TLSConfig{
			Enabled:      v.GetBool("TLS_ENABLED"),
			CertPath:     v.GetString("TLS_CERT_PATH"),
			KeyPath:      v.GetString("TLS_KEY_PATH"),
			RedirectHTTP: v.GetBool("TLS_REDIRECT_HTTP"),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: v.GetString("FIREBASE_CREDENTIALS_FILE"),
		},
		AMQP: AMQPConfig{
			URL:      v.GetString("AMQP_URL"),
			Exchange: v.GetString("AMQP_EXCHANGE"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      v.GetBool("OTEL_ENABLED"),
			ServiceName:  v.GetString("OTEL_SERVICE_NAME"),
			OTLPEndpoint: v.GetString("OTEL_EXPORTER_ENDPOINT"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
			Dev:   v.GetBool("LOG_DEV"),
			File:  v.GetString("LOG_FILE"),
		},
		Simulation: SimulationConfig{
			Seed:       v.GetUint64("SIMULATION_SEED"),
			FastTiming: v.GetBool("SIMULATION_FAST"),
		},
		Messages: MessagesConfig{
			Path: v.GetString("MESSAGES_FILE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.TickInterval < time.Second {
			return fmt.Errorf("SCHEDULER_TICK_INTERVAL must be a duration of at least 1s")
		}
		if c.Scheduler.WorkerCount < 1 {
			return fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
		}
		if c.Scheduler.QueueSize < 1 {
			return fmt.Errorf("SCHEDULER_QUEUE_SIZE must be at least 1")
		}
	}
	if c.Scheduler.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be a positive duration")
	}

	if c.Server.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}

	// Validate TLS configuration
	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return nil
}

// AuthEnabled reports whether API requests must carry a valid token.
func (c *Config) AuthEnabled() bool {
	return c.JWT.Secret != ""
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
