package authguard

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/giantswarm/authguard/instrumentation"
	"github.com/giantswarm/authguard/security"
)

// EnvPrefix prefixes every environment variable read by LoadConfigFromEnv
const EnvPrefix = "AUTHGUARD_"

// envConfig mirrors the environment-configurable subset of Config.
// Unset variables keep their zero value so that New applies its defaults.
type envConfig struct {
	GeneralMaxRequests int           `env:"GENERAL_MAX_REQUESTS"`
	GeneralWindow      time.Duration `env:"GENERAL_WINDOW"`
	AuthMaxRequests    int           `env:"AUTH_MAX_REQUESTS"`
	AuthWindow         time.Duration `env:"AUTH_WINDOW"`

	LockoutThreshold     int           `env:"LOCKOUT_THRESHOLD"`
	LockoutInitial       time.Duration `env:"LOCKOUT_INITIAL_DURATION"`
	LockoutMax           time.Duration `env:"LOCKOUT_MAX_DURATION"`
	LockoutFailureWindow time.Duration `env:"LOCKOUT_FAILURE_WINDOW"`
	LockoutRelock        bool          `env:"LOCKOUT_RELOCK_AFTER_EXPIRY"`

	IdentifierPerMinute  int `env:"IDENTIFIER_RATE_PER_MINUTE"`
	IdentifierBurst      int `env:"IDENTIFIER_RATE_BURST"`
	IdentifierMaxEntries int `env:"IDENTIFIER_RATE_MAX_ENTRIES"`

	MaxTrackedKeys         int           `env:"MAX_TRACKED_KEYS"`
	SweepInterval          time.Duration `env:"SWEEP_INTERVAL"`
	DisableBackgroundSweep bool          `env:"DISABLE_BACKGROUND_SWEEP"`

	TrustProxy        bool     `env:"TRUST_PROXY"`
	TrustedProxyCount int      `env:"TRUSTED_PROXY_COUNT"`
	AuditLogging      bool     `env:"AUDIT_LOGGING"`
	ExemptAddresses   []string `env:"EXEMPT_ADDRESSES" envSeparator:","`

	MaxIdentifierBodyBytes int64 `env:"MAX_IDENTIFIER_BODY_BYTES"`

	InstrumentationEnabled bool   `env:"INSTRUMENTATION_ENABLED"`
	MetricsExporter        string `env:"METRICS_EXPORTER"`
	LogClientIPs           bool   `env:"LOG_CLIENT_IPS"`
	ServiceName            string `env:"SERVICE_NAME"`
	ServiceVersion         string `env:"SERVICE_VERSION"`
}

// LoadConfigFromEnv builds a Config from AUTHGUARD_* environment variables.
// Durations use time.ParseDuration syntax (e.g. "15m"). Unset variables fall
// back to the defaults applied by New.
func LoadConfigFromEnv() (*Config, error) {
	return loadConfig(env.Options{Prefix: EnvPrefix})
}

// loadConfig parses with opts; tests pass an explicit Environment
func loadConfig(opts env.Options) (*Config, error) {
	var ec envConfig
	if err := env.ParseWithOptions(&ec, opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return ec.config(), nil
}

func (ec envConfig) config() *Config {
	return &Config{
		General: WindowLimit{MaxRequests: ec.GeneralMaxRequests, Window: ec.GeneralWindow},
		Auth:    WindowLimit{MaxRequests: ec.AuthMaxRequests, Window: ec.AuthWindow},
		Lockout: security.LockoutConfig{
			MaxConsecutiveFailures: ec.LockoutThreshold,
			InitialBlockDuration:   ec.LockoutInitial,
			MaxBlockDuration:       ec.LockoutMax,
			FailureWindow:          ec.LockoutFailureWindow,
			RelockAfterExpiry:      ec.LockoutRelock,
		},
		IdentifierRate: IdentifierRateConfig{
			PerMinute:  ec.IdentifierPerMinute,
			Burst:      ec.IdentifierBurst,
			MaxEntries: ec.IdentifierMaxEntries,
		},
		MaxTrackedKeys:         ec.MaxTrackedKeys,
		SweepInterval:          ec.SweepInterval,
		DisableBackgroundSweep: ec.DisableBackgroundSweep,
		TrustProxy:             ec.TrustProxy,
		TrustedProxyCount:      ec.TrustedProxyCount,
		EnableAuditLogging:     ec.AuditLogging,
		ExemptAddresses:        ec.ExemptAddresses,
		MaxIdentifierBodyBytes: ec.MaxIdentifierBodyBytes,
		Instrumentation: instrumentation.Config{
			Enabled:         ec.InstrumentationEnabled,
			MetricsExporter: ec.MetricsExporter,
			LogClientIPs:    ec.LogClientIPs,
			ServiceName:     ec.ServiceName,
			ServiceVersion:  ec.ServiceVersion,
		},
	}
}
