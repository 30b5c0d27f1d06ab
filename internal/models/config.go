package models

import "time"

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `koanf:"server" json:"server"`
	Database DatabaseConfig `koanf:"database" json:"database"`
	Gateway  GatewayConfig  `koanf:"gateway" json:"gateway"`
	Pipeline PipelineConfig `koanf:"pipeline" json:"pipeline"`
	Media    MediaConfig    `koanf:"media" json:"media"`
	Intake   IntakeConfig   `koanf:"intake" json:"intake"`
	Replay   ReplayConfig   `koanf:"replay" json:"replay"`
	Logging  LoggingConfig  `koanf:"logging" json:"logging"`
	Tracing  TracingConfig  `koanf:"tracing" json:"tracing"`
	GeoIP    GeoIPConfig    `koanf:"geoip" json:"geoip"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port                int           `koanf:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout         time.Duration `koanf:"read_timeout" json:"read_timeout"`
	WriteTimeout        time.Duration `koanf:"write_timeout" json:"write_timeout"`
	IdleTimeout         time.Duration `koanf:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout     time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	MaxRequestBodyBytes int64         `koanf:"max_request_body_bytes" json:"max_request_body_bytes"`
	TrustProxyHeaders   bool          `koanf:"trust_proxy_headers" json:"trust_proxy_headers"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path          string `koanf:"path" json:"path" validate:"required"`
	RetryAttempts int    `koanf:"retry_attempts" json:"retry_attempts"`
}

// GatewayConfig holds WAHA gateway settings
type GatewayConfig struct {
	APIBaseURL     string        `koanf:"api_base_url" json:"api_base_url" validate:"required,url"`
	APIKey         string        `koanf:"api_key" json:"-"`
	Timeout        time.Duration `koanf:"timeout" json:"timeout"`
	LookupTimeout  time.Duration `koanf:"lookup_timeout" json:"lookup_timeout"`
	PresenceDelay  time.Duration `koanf:"presence_delay" json:"presence_delay"`
	BreakerMaxFail int           `koanf:"breaker_max_failures" json:"breaker_max_failures"`
	BreakerReset   time.Duration `koanf:"breaker_reset" json:"breaker_reset"`
	HealthCheck    time.Duration `koanf:"health_check_interval" json:"health_check_interval"`
	StartupTimeout time.Duration `koanf:"startup_timeout" json:"startup_timeout"`
}

// PipelineConfig holds dispatch pipeline settings
type PipelineConfig struct {
	DefaultCountryCode    string        `koanf:"default_country_code" json:"default_country_code" validate:"omitempty,numeric"`
	StepDelay             time.Duration `koanf:"step_delay" json:"step_delay"`
	Workers               int           `koanf:"workers" json:"workers" validate:"min=1"`
	QueueSize             int           `koanf:"queue_size" json:"queue_size" validate:"min=1"`
	TicketDedupeWindow    time.Duration `koanf:"ticket_dedupe_window" json:"ticket_dedupe_window"`
	Timezone              string        `koanf:"timezone" json:"timezone"`
	ProfilePictureTimeout time.Duration `koanf:"profile_picture_timeout" json:"profile_picture_timeout"`
}

// MediaConfig holds image resolution settings
type MediaConfig struct {
	PublicRoot             string   `koanf:"public_root" json:"public_root" validate:"required"`
	PublicPrefix           string   `koanf:"public_prefix" json:"public_prefix"`
	AllowedImageExtensions []string `koanf:"allowed_image_extensions" json:"allowed_image_extensions"`
	MaxImageMB             int      `koanf:"max_image_mb" json:"max_image_mb" validate:"min=1"`
}

// IntakeConfig holds submission intake limits
type IntakeConfig struct {
	MaxPerIPPerHour  int `koanf:"max_per_ip_per_hour" json:"max_per_ip_per_hour"`
	MaxFieldLength   int `koanf:"max_field_length" json:"max_field_length"`
	MaxFieldsPerForm int `koanf:"max_fields_per_form" json:"max_fields_per_form"`
}

// ReplayConfig holds settings for re-dispatching unprocessed submissions
type ReplayConfig struct {
	Enabled     bool          `koanf:"enabled" json:"enabled"`
	Interval    time.Duration `koanf:"interval" json:"interval"`
	MinAge      time.Duration `koanf:"min_age" json:"min_age"`
	MaxAttempts int           `koanf:"max_attempts" json:"max_attempts"`
	BatchSize   int           `koanf:"batch_size" json:"batch_size"`
}

// LoggingConfig holds log level and optional rotated file sink settings
type LoggingConfig struct {
	Level      string `koanf:"level" json:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	File       string `koanf:"file" json:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days" json:"max_age_days"`
}

// TracingConfig holds OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled      bool    `koanf:"enabled" json:"enabled"`
	ServiceName  string  `koanf:"service_name" json:"service_name"`
	OTLPEndpoint string  `koanf:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `koanf:"sample_rate" json:"sample_rate" validate:"min=0,max=1"`
	UseStdout    bool    `koanf:"use_stdout" json:"use_stdout"`
}

// GeoIPConfig points at an optional MaxMind country database
type GeoIPConfig struct {
	DatabasePath string `koanf:"database_path" json:"database_path"`
}

// ConfigError is returned when the configuration is unusable
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
