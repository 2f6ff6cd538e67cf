// Package config provides configuration management for the playback engine
// using Viper. It supports configuration from files, environment variables,
// and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/avplayer/playcore/internal/abr"
	"github.com/avplayer/playcore/internal/bufferaccountant"
	"github.com/avplayer/playcore/internal/models"
	"github.com/avplayer/playcore/internal/retrypolicy"
)

// Default configuration values.
const (
	defaultDesktopMaxBuffer    = 40
	defaultDesktopTargetBuffer = 30
	defaultDesktopMinBuffer    = 10
	defaultDesktopBackBuffer   = 30

	defaultMobileMaxBuffer    = 20
	defaultMobileTargetBuffer = 15
	defaultMobileMinBuffer    = 5
	defaultMobileBackBuffer   = 20

	defaultBandwidthSafetyDesktop = 0.8
	defaultBandwidthSafetyMobile  = 0.6
	defaultUpgradeBufferDesktop   = 10 * time.Second
	defaultUpgradeBufferMobile    = 15 * time.Second
	defaultDowngradeBuffer        = 5 * time.Second

	defaultNetworkTransientMaxAttempts = 5
	defaultNetworkTransientBaseDelay   = 1000 * time.Millisecond
	defaultNetworkTransientMaxDelay    = 16000 * time.Millisecond

	defaultSegmentCorruptionMaxAttempts = 2
	defaultDecodeFailureMaxAttempts     = 1

	defaultMediaSourceMaxAttempts = 2
	defaultMediaSourceBaseDelay   = 1000 * time.Millisecond
	defaultMediaSourceMaxDelay    = 2000 * time.Millisecond

	defaultKeySystemMaxAttempts = 1
	defaultKeySystemDelay       = 1000 * time.Millisecond

	defaultUnknownMaxAttempts = 2
	defaultUnknownBaseDelay   = 1000 * time.Millisecond
	defaultUnknownMaxDelay    = 4000 * time.Millisecond

	defaultQueueMaxPendingBytes = 16 * 1024 * 1024 // 16MB
	defaultQueueMaxPendingOps   = 64
)

// Config holds all configuration for the playback engine.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Buffer   BufferConfig   `mapstructure:"buffer"`
	Queue    QueueConfig    `mapstructure:"queue"`
	ABR      ABRConfig      `mapstructure:"abr"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Playback PlaybackConfig `mapstructure:"playback"`
}

// QueueConfig holds append/remove queue (C6) backpressure configuration.
type QueueConfig struct {
	// MaxPendingBytes bounds the total size of queued-but-not-yet-submitted
	// Append operations. Submissions beyond this bound are rejected with
	// ErrQueueBackpressure rather than queued unbounded. Supports
	// human-readable sizes like "16MB". Zero means unbounded.
	MaxPendingBytes ByteSize `mapstructure:"max_pending_bytes"`
	// MaxPendingOps bounds the number of queued operations regardless of
	// byte size. Zero means unbounded.
	MaxPendingOps int `mapstructure:"max_pending_ops"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PlatformClass selects which default buffer/ABR envelope applies (§4.5, §4.7).
type PlatformClass string

const (
	// PlatformDesktop uses the larger desktop buffer/ABR defaults.
	PlatformDesktop PlatformClass = "desktop"
	// PlatformMobile uses the tighter mobile buffer/ABR defaults.
	PlatformMobile PlatformClass = "mobile"
)

// BufferConfig holds buffer accountant (C5) configuration. Zero values mean
// "use the platform-class default"; explicit overrides always win (§4.5).
type BufferConfig struct {
	PlatformClass      PlatformClass `mapstructure:"platform_class"`
	MaxBufferLength    Duration      `mapstructure:"max_buffer_length"`
	TargetBufferLength Duration      `mapstructure:"target_buffer_length"`
	MinBufferLength    Duration      `mapstructure:"min_buffer_length"`
	BackBufferLength   Duration      `mapstructure:"back_buffer_length"`
}

// ABRConfig holds ABR controller (C7) configuration.
type ABRConfig struct {
	// StartLevel is one of "lowest", "highest", "auto", or a decimal index.
	StartLevel             string   `mapstructure:"start_level"`
	BandwidthSafetyFactor  float64  `mapstructure:"bandwidth_safety_factor"`
	UpgradeBufferThreshold Duration `mapstructure:"upgrade_buffer_threshold"`
	DowngradeBufferThresh  Duration `mapstructure:"downgrade_buffer_threshold"`
	MobileStabilityBias    bool     `mapstructure:"mobile_stability_bias"`
}

// RetryCategoryConfig overrides the default retry policy (§4.2) for one
// error category.
type RetryCategoryConfig struct {
	MaxAttempts int      `mapstructure:"max_attempts"`
	BaseDelay   Duration `mapstructure:"base_delay"`
	MaxDelay    Duration `mapstructure:"max_delay"`
	Exponential bool     `mapstructure:"exponential"`
}

// RetryConfig holds per-category retry policy overrides (C2).
type RetryConfig struct {
	NetworkTransient    RetryCategoryConfig `mapstructure:"network_transient"`
	SegmentCorruption   RetryCategoryConfig `mapstructure:"segment_corruption"`
	DecodeFailure       RetryCategoryConfig `mapstructure:"decode_failure"`
	MediaSourceFailure  RetryCategoryConfig `mapstructure:"media_source_failure"`
	FatalIncompatible   RetryCategoryConfig `mapstructure:"fatal_incompatibility"`
	KeySystem           RetryCategoryConfig `mapstructure:"key_system"`
	Unknown             RetryCategoryConfig `mapstructure:"unknown"`
}

// PlaybackConfig holds general playback defaults.
type PlaybackConfig struct {
	Muted    bool    `mapstructure:"muted"`
	Volume   float64 `mapstructure:"volume"`
	Autoplay bool    `mapstructure:"autoplay"`
	Loop     bool    `mapstructure:"loop"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with PLAYCORE_, using underscores for nesting.
// Example: PLAYCORE_BUFFER_PLATFORM_CLASS=mobile.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/playcore")
		v.AddConfigPath("$HOME/.playcore")
	}

	v.SetEnvPrefix("PLAYCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ApplyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("buffer.platform_class", string(PlatformDesktop))
	// Buffer lengths are left at zero so ApplyPlatformDefaults fills them in
	// from the platform-class table (§4.5) unless the file/env overrides them.

	v.SetDefault("queue.max_pending_bytes", defaultQueueMaxPendingBytes)
	v.SetDefault("queue.max_pending_ops", defaultQueueMaxPendingOps)

	v.SetDefault("abr.start_level", "lowest")
	v.SetDefault("abr.bandwidth_safety_factor", 0.0) // filled by ApplyPlatformDefaults
	v.SetDefault("abr.mobile_stability_bias", true)

	v.SetDefault("retry.network_transient.max_attempts", defaultNetworkTransientMaxAttempts)
	v.SetDefault("retry.network_transient.base_delay", Duration(defaultNetworkTransientBaseDelay).String())
	v.SetDefault("retry.network_transient.max_delay", Duration(defaultNetworkTransientMaxDelay).String())
	v.SetDefault("retry.network_transient.exponential", true)

	v.SetDefault("retry.segment_corruption.max_attempts", defaultSegmentCorruptionMaxAttempts)
	v.SetDefault("retry.segment_corruption.exponential", false)

	v.SetDefault("retry.decode_failure.max_attempts", defaultDecodeFailureMaxAttempts)
	v.SetDefault("retry.decode_failure.exponential", false)

	v.SetDefault("retry.media_source_failure.max_attempts", defaultMediaSourceMaxAttempts)
	v.SetDefault("retry.media_source_failure.base_delay", Duration(defaultMediaSourceBaseDelay).String())
	v.SetDefault("retry.media_source_failure.max_delay", Duration(defaultMediaSourceMaxDelay).String())
	v.SetDefault("retry.media_source_failure.exponential", false)

	v.SetDefault("retry.fatal_incompatibility.max_attempts", 0)

	v.SetDefault("retry.key_system.max_attempts", defaultKeySystemMaxAttempts)
	v.SetDefault("retry.key_system.base_delay", Duration(defaultKeySystemDelay).String())
	v.SetDefault("retry.key_system.max_delay", Duration(defaultKeySystemDelay).String())
	v.SetDefault("retry.key_system.exponential", false)

	v.SetDefault("retry.unknown.max_attempts", defaultUnknownMaxAttempts)
	v.SetDefault("retry.unknown.base_delay", Duration(defaultUnknownBaseDelay).String())
	v.SetDefault("retry.unknown.max_delay", Duration(defaultUnknownMaxDelay).String())
	v.SetDefault("retry.unknown.exponential", true)

	v.SetDefault("playback.muted", false)
	v.SetDefault("playback.volume", 1.0)
	v.SetDefault("playback.autoplay", false)
	v.SetDefault("playback.loop", false)
}

// ApplyPlatformDefaults fills in any zero-valued buffer/ABR fields from the
// platform-class default table (§4.5, §4.7). Explicit overrides (non-zero
// values already present) are left untouched.
func (c *Config) ApplyPlatformDefaults() {
	mobile := c.Buffer.PlatformClass == PlatformMobile

	if c.Buffer.MaxBufferLength == 0 {
		if mobile {
			c.Buffer.MaxBufferLength = Duration(defaultMobileMaxBuffer * time.Second)
		} else {
			c.Buffer.MaxBufferLength = Duration(defaultDesktopMaxBuffer * time.Second)
		}
	}
	if c.Buffer.TargetBufferLength == 0 {
		if mobile {
			c.Buffer.TargetBufferLength = Duration(defaultMobileTargetBuffer * time.Second)
		} else {
			c.Buffer.TargetBufferLength = Duration(defaultDesktopTargetBuffer * time.Second)
		}
	}
	if c.Buffer.MinBufferLength == 0 {
		if mobile {
			c.Buffer.MinBufferLength = Duration(defaultMobileMinBuffer * time.Second)
		} else {
			c.Buffer.MinBufferLength = Duration(defaultDesktopMinBuffer * time.Second)
		}
	}
	if c.Buffer.BackBufferLength == 0 {
		if mobile {
			c.Buffer.BackBufferLength = Duration(defaultMobileBackBuffer * time.Second)
		} else {
			c.Buffer.BackBufferLength = Duration(defaultDesktopBackBuffer * time.Second)
		}
	}

	if c.ABR.BandwidthSafetyFactor == 0 {
		if mobile {
			c.ABR.BandwidthSafetyFactor = defaultBandwidthSafetyMobile
		} else {
			c.ABR.BandwidthSafetyFactor = defaultBandwidthSafetyDesktop
		}
	}
	if c.ABR.UpgradeBufferThreshold == 0 {
		if mobile {
			c.ABR.UpgradeBufferThreshold = Duration(defaultUpgradeBufferMobile)
		} else {
			c.ABR.UpgradeBufferThreshold = Duration(defaultUpgradeBufferDesktop)
		}
	}
	if c.ABR.DowngradeBufferThresh == 0 {
		c.ABR.DowngradeBufferThresh = Duration(defaultDowngradeBuffer)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Buffer.PlatformClass != PlatformDesktop && c.Buffer.PlatformClass != PlatformMobile {
		return fmt.Errorf("buffer.platform_class must be one of: desktop, mobile")
	}
	if c.Buffer.MinBufferLength >= c.Buffer.TargetBufferLength {
		return fmt.Errorf("buffer.min_buffer_length must be less than buffer.target_buffer_length")
	}
	if c.Buffer.TargetBufferLength > c.Buffer.MaxBufferLength {
		return fmt.Errorf("buffer.target_buffer_length must not exceed buffer.max_buffer_length")
	}

	if c.ABR.BandwidthSafetyFactor <= 0 || c.ABR.BandwidthSafetyFactor > 1 {
		return fmt.Errorf("abr.bandwidth_safety_factor must be in (0, 1]")
	}
	validStart := map[string]bool{"lowest": true, "highest": true, "auto": true}
	if !validStart[c.ABR.StartLevel] {
		if _, err := parseStartLevelIndex(c.ABR.StartLevel); err != nil {
			return fmt.Errorf("abr.start_level must be lowest, highest, auto, or an index: %w", err)
		}
	}

	if c.Playback.Volume < 0 || c.Playback.Volume > 1 {
		return fmt.Errorf("playback.volume must be in [0, 1]")
	}

	return nil
}

// parseStartLevelIndex parses a decimal start-level index string.
func parseStartLevelIndex(s string) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(s, "%d", &idx); err != nil {
		return 0, err
	}
	if idx < 0 {
		return 0, fmt.Errorf("index must be non-negative")
	}
	return idx, nil
}

// BufferAccountantConfig converts the resolved BufferConfig into the
// seconds-based bufferaccountant.Config (C5), decoupling that package from
// Viper/Duration (§4.5).
func (c *Config) BufferAccountantConfig() bufferaccountant.Config {
	return bufferaccountant.Config{
		MaxBufferLength:    c.Buffer.MaxBufferLength.Duration().Seconds(),
		TargetBufferLength: c.Buffer.TargetBufferLength.Duration().Seconds(),
		MinBufferLength:    c.Buffer.MinBufferLength.Duration().Seconds(),
		BackBufferLength:   c.Buffer.BackBufferLength.Duration().Seconds(),
	}
}

// ABRControllerConfig converts the resolved ABRConfig into abr.Config
// (C7), resolving the string start_level into a abr.StartLevel/StartIndex
// pair.
func (c *Config) ABRControllerConfig() abr.Config {
	cfg := abr.Config{
		BandwidthSafetyFactor:  c.ABR.BandwidthSafetyFactor,
		UpgradeBufferThreshold: c.ABR.UpgradeBufferThreshold.Duration().Seconds(),
		DowngradeBufferThresh:  c.ABR.DowngradeBufferThresh.Duration().Seconds(),
		MobileStabilityBias:    c.ABR.MobileStabilityBias && c.Buffer.PlatformClass == PlatformMobile,
	}
	switch c.ABR.StartLevel {
	case "lowest", "":
		cfg.StartLevel = abr.StartLowest
	case "highest":
		cfg.StartLevel = abr.StartHighest
	case "auto":
		cfg.StartLevel = abr.StartAuto
	default:
		idx, err := parseStartLevelIndex(c.ABR.StartLevel)
		if err != nil {
			cfg.StartLevel = abr.StartLowest
			break
		}
		// Any value other than the three named constants falls through to
		// abr's explicit-index branch, which reads StartIndex.
		cfg.StartLevel = abr.StartLevel(c.ABR.StartLevel)
		cfg.StartIndex = idx
	}
	return cfg
}

// RetryPolicies builds the per-category retry policy table (C2),
// overriding internal/retrypolicy's defaults with any non-zero
// configuration values (§4.2). Once any field of a category is set, that
// category's Exponential flag is taken from the configuration too, even
// when it is false.
func (c *Config) RetryPolicies() map[models.ErrorCategory]retrypolicy.Policy {
	table := make(map[models.ErrorCategory]retrypolicy.Policy, len(retrypolicy.Defaults))
	for k, v := range retrypolicy.Defaults {
		table[k] = v
	}
	overrides := []struct {
		category models.ErrorCategory
		cfg      RetryCategoryConfig
	}{
		{models.CategoryNetworkTransient, c.Retry.NetworkTransient},
		{models.CategorySegmentCorruption, c.Retry.SegmentCorruption},
		{models.CategoryDecodeFailure, c.Retry.DecodeFailure},
		{models.CategoryMediaSourceFailure, c.Retry.MediaSourceFailure},
		{models.CategoryFatalIncompatibility, c.Retry.FatalIncompatible},
		{models.CategoryKeySystem, c.Retry.KeySystem},
		{models.CategoryUnknown, c.Retry.Unknown},
	}
	for _, o := range overrides {
		if o.cfg.MaxAttempts == 0 && o.cfg.BaseDelay == 0 && o.cfg.MaxDelay == 0 && !o.cfg.Exponential {
			continue
		}
		policy := table[o.category]
		if o.cfg.MaxAttempts != 0 {
			policy.MaxAttempts = o.cfg.MaxAttempts
		}
		if o.cfg.BaseDelay != 0 {
			policy.BaseDelayMs = o.cfg.BaseDelay.Duration().Milliseconds()
		}
		if o.cfg.MaxDelay != 0 {
			policy.MaxDelayMs = o.cfg.MaxDelay.Duration().Milliseconds()
		}
		policy.Exponential = o.cfg.Exponential
		table[o.category] = policy
	}
	return table
}
