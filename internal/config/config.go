package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	NATS struct {
		URL     string             `mapstructure:"url"`
		Webhook ConsumerNatsConfig `mapstructure:"webhook"`
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Workspace struct {
		ID            string `mapstructure:"id"`
		DefaultRegion string `mapstructure:"defaultRegion"` // region hint for phone normalization
	} `mapstructure:"workspace"`
	Channels struct {
		WhatsApp  ChannelConfig `mapstructure:"whatsapp"`
		Instagram ChannelConfig `mapstructure:"instagram"`
		Facebook  ChannelConfig `mapstructure:"facebook"`
		LeadAds   ChannelConfig `mapstructure:"leadads"`
	} `mapstructure:"channels"`
	Runner struct {
		Token          string        `mapstructure:"token"`          // static bearer token for /run-outbound
		MaxBatch       int           `mapstructure:"maxBatch"`       // default claim batch size
		MaxAttempts    int           `mapstructure:"maxAttempts"`    // per-job retry bound
		StaleAfter     time.Duration `mapstructure:"staleAfter"`     // running jobs older than this are surfaced as stuck
		SendTimeout    time.Duration `mapstructure:"sendTimeout"`    // per provider send call
		GenerateWindow time.Duration `mapstructure:"generateWindow"` // free-form messaging window
	} `mapstructure:"runner"`
	Reply struct {
		URL      string        `mapstructure:"url"`   // reply generator endpoint
		Token    string        `mapstructure:"token"` // bearer for the generator
		Timeout  time.Duration `mapstructure:"timeout"`
		Language string        `mapstructure:"language"`
	} `mapstructure:"reply"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Runner RunnerWorkerPoolConfig `mapstructure:"runner"`
	} `mapstructure:"workerPools"`
}

// ChannelConfig holds per-channel provider credentials and webhook secrets.
type ChannelConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	AccessToken string `mapstructure:"accessToken"` // provider API token
	PhoneID     string `mapstructure:"phoneID"`     // WhatsApp Cloud phone-number id
	VerifyToken string `mapstructure:"verifyToken"` // GET handshake token
	AppSecret   string `mapstructure:"appSecret"`   // HMAC-SHA256 signature secret
	APIBaseURL  string `mapstructure:"apiBaseURL"`
	Template    string `mapstructure:"template"` // fallback template outside the messaging window
	Locale      string `mapstructure:"locale"`
}

// RunnerWorkerPoolConfig holds configuration for the job runner worker pool
type RunnerWorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Task queue buffer size
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in days
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // Max delivery attempts
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // Base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // Maximum delay for exponential backoff NAK
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)
	v.SetDefault("workspace.defaultRegion", "AE")

	// NATS webhook stream defaults
	v.SetDefault("nats.webhook.stream", "webhook_events")
	v.SetDefault("nats.webhook.consumer", "webhook_processor")
	v.SetDefault("nats.webhook.group", "webhook_processor")
	v.SetDefault("nats.webhook.subjectList", []string{"v1.webhook.whatsapp", "v1.webhook.instagram", "v1.webhook.facebook", "v1.webhook.leadads"})
	v.SetDefault("nats.webhook.maxAge", int64(7))
	v.SetDefault("nats.webhook.maxDeliver", 5)
	v.SetDefault("nats.webhook.nakBaseDelay", 2*time.Second)
	v.SetDefault("nats.webhook.nakMaxDelay", 30*time.Second)

	// Runner defaults
	v.SetDefault("runner.maxBatch", 20)
	v.SetDefault("runner.maxAttempts", 3)
	v.SetDefault("runner.staleAfter", 5*time.Minute)
	v.SetDefault("runner.sendTimeout", 15*time.Second)
	v.SetDefault("runner.generateWindow", 24*time.Hour)

	// Reply generator defaults
	v.SetDefault("reply.timeout", 20*time.Second)
	v.SetDefault("reply.language", "en")

	// WorkerPools defaults
	v.SetDefault("workerPools.runner.poolSize", 8)
	v.SetDefault("workerPools.runner.queueSize", 256)
	v.SetDefault("workerPools.runner.expiryTime", time.Minute)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("/etc/crm-reply-pipeline")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if ws := os.Getenv("WORKSPACE_ID"); ws != "" {
		v.Set("workspace.id", ws)
	}
	if token := os.Getenv("RUNNER_TOKEN"); token != "" {
		v.Set("runner.token", token)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// ChannelFor returns the config block for a channel name, nil when unknown.
func (c *Config) ChannelFor(channel string) *ChannelConfig {
	switch strings.ToLower(channel) {
	case "whatsapp":
		return &c.Channels.WhatsApp
	case "instagram":
		return &c.Channels.Instagram
	case "facebook":
		return &c.Channels.Facebook
	case "leadads":
		return &c.Channels.LeadAds
	}
	return nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		// Get the field tag value (mapstructure)
		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		// Build the env var path
		path := append(parts, tag)
		key := strings.Join(path, ".")

		// If it's a struct, recursively bind its fields
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		// Bind the env var
		_ = v.BindEnv(key)
	}
}
