package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"leadflow/internal/constants"
	"leadflow/internal/models"
	"leadflow/internal/security"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
)

// EnvPrefix scopes environment overrides: LEADFLOW_PIPELINE__STEP_DELAY -> pipeline.step_delay
const EnvPrefix = "LEADFLOW_"

var ErrMissingGatewayURL = models.ConfigError{Message: "missing gateway API base URL"}

var validate = validator.New()

// LoadConfig merges the YAML file at path with LEADFLOW_* environment variables,
// applies defaults and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	// .env next to the config file is optional
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var cfg models.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// an explicit zero window disables ticket reuse
	if !k.Exists("pipeline.ticket_dedupe_window") {
		cfg.Pipeline.TicketDedupeWindow = constants.DefaultTicketDedupeWindowSec * time.Second
	}

	if err := Finalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize applies defaults and validates an already decoded configuration.
func Finalize(cfg *models.Config) error {
	applyDefaults(cfg)
	if err := checkRequired(cfg); err != nil {
		return err
	}
	if err := validate.Struct(cfg); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid configuration: %v", err)}
	}
	if _, err := time.LoadLocation(cfg.Pipeline.Timezone); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid pipeline timezone %q", cfg.Pipeline.Timezone)}
	}
	return nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func checkRequired(c *models.Config) error {
	if c.Gateway.APIBaseURL == "" {
		return ErrMissingGatewayURL
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = constants.DefaultServerReadTimeoutSec * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = constants.DefaultServerWriteTimeoutSec * time.Second
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = constants.DefaultServerIdleTimeoutSec * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = constants.DefaultGracefulShutdownSec * time.Second
	}
	if c.Server.MaxRequestBodyBytes <= 0 {
		c.Server.MaxRequestBodyBytes = constants.DefaultMaxRequestBodyBytes
	}

	if c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}
	if c.Database.RetryAttempts <= 0 {
		c.Database.RetryAttempts = constants.DefaultDatabaseRetryAttempts
	}

	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = constants.DefaultGatewayTimeoutSec * time.Second
	}
	if c.Gateway.LookupTimeout <= 0 {
		c.Gateway.LookupTimeout = constants.DefaultGatewayLookupTimeoutSec * time.Second
	}
	if c.Gateway.PresenceDelay <= 0 {
		c.Gateway.PresenceDelay = constants.DefaultPresenceDelayMs * time.Millisecond
	}
	if c.Gateway.BreakerMaxFail <= 0 {
		c.Gateway.BreakerMaxFail = 5
	}
	if c.Gateway.BreakerReset <= 0 {
		c.Gateway.BreakerReset = 30 * time.Second
	}
	if c.Gateway.HealthCheck <= 0 {
		c.Gateway.HealthCheck = constants.DefaultSessionHealthCheckSec * time.Second
	}
	if c.Gateway.StartupTimeout <= 0 {
		c.Gateway.StartupTimeout = constants.DefaultSessionStartupTimeoutSec * time.Second
	}

	if c.Pipeline.DefaultCountryCode == "" {
		c.Pipeline.DefaultCountryCode = constants.DefaultCountryCode
	}
	c.Pipeline.DefaultCountryCode = strings.TrimPrefix(c.Pipeline.DefaultCountryCode, "+")
	if c.Pipeline.StepDelay <= 0 {
		c.Pipeline.StepDelay = constants.DefaultStepDelayMs * time.Millisecond
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = constants.DefaultWorkers
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = constants.DefaultQueueSize
	}
	if c.Pipeline.TicketDedupeWindow < 0 {
		c.Pipeline.TicketDedupeWindow = 0
	}
	if c.Pipeline.Timezone == "" {
		c.Pipeline.Timezone = constants.DefaultTimezone
	}
	if c.Pipeline.ProfilePictureTimeout <= 0 {
		c.Pipeline.ProfilePictureTimeout = constants.DefaultProfilePictureTimeoutSec * time.Second
	}

	if c.Media.PublicRoot == "" {
		c.Media.PublicRoot = constants.DefaultPublicRoot
	}
	if c.Media.PublicPrefix == "" {
		c.Media.PublicPrefix = constants.DefaultPublicPrefix
	}
	if len(c.Media.AllowedImageExtensions) == 0 {
		c.Media.AllowedImageExtensions = append([]string(nil), constants.DefaultImageExtensions...)
	}
	for i, ext := range c.Media.AllowedImageExtensions {
		c.Media.AllowedImageExtensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
	if c.Media.MaxImageMB <= 0 {
		c.Media.MaxImageMB = constants.DefaultMaxImageMB
	}

	if c.Intake.MaxPerIPPerHour < 0 {
		c.Intake.MaxPerIPPerHour = 0
	}
	if c.Intake.MaxFieldLength <= 0 {
		c.Intake.MaxFieldLength = constants.DefaultMaxFieldLength
	}
	if c.Intake.MaxFieldsPerForm <= 0 {
		c.Intake.MaxFieldsPerForm = constants.DefaultMaxFieldsPerForm
	}

	if c.Replay.Interval <= 0 {
		c.Replay.Interval = constants.DefaultReplayIntervalSec * time.Second
	}
	if c.Replay.MinAge <= 0 {
		c.Replay.MinAge = constants.DefaultReplayMinAgeSec * time.Second
	}
	if c.Replay.MaxAttempts <= 0 {
		c.Replay.MaxAttempts = constants.DefaultReplayMaxAttempts
	}
	if c.Replay.BatchSize <= 0 {
		c.Replay.BatchSize = constants.DefaultReplayBatchSize
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 28
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "leadflow"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}
}

// IsProduction reports whether the process runs with LEADFLOW_ENV=production
func IsProduction() bool {
	return os.Getenv(EnvPrefix+"ENV") == "production"
}
