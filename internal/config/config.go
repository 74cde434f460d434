// Package config provides service configuration and per-tenant settings.
//
// Tenant settings are resolved once per session into an explicit snapshot and
// cached for a short interval; components receive the snapshot, never a
// process-wide singleton.
package config

import (
	"time"

	"github.com/accueilvox/standardiste/internal/util"
)

// Default configuration values.
const (
	DefaultLockTTL             = 2 * time.Second
	DefaultLockTimeout         = 2 * time.Second
	DefaultSessionTTL          = 30 * time.Minute
	DefaultTenantCacheTTL      = 60 * time.Second
	DefaultCanaryPercent       = 0
	DefaultConfidenceThreshold = 0.75
	DefaultRecoveryLimit       = 3
	DefaultWindowDays          = 14
)

// Config holds service-level configuration loaded from the environment.
type Config struct {
	APIAddr         string
	DBDriver        string
	DBDSN           string
	RedisAddr       string
	RedisPassword   string
	OpenAIKey       string
	TwilioAuthToken string
	LockTTL         time.Duration
	LockTimeout     time.Duration
	SessionTTL      time.Duration
	TenantCacheTTL  time.Duration
}

// FromEnv builds a Config from environment variables with defaults applied.
func FromEnv(getenv func(string) string) Config {
	return Config{
		APIAddr:         getenv("API_ADDR"),
		DBDriver:        getenv("DB_DRIVER"),
		DBDSN:           getenv("DB_DSN"),
		RedisAddr:       getenv("REDIS_ADDR"),
		RedisPassword:   getenv("REDIS_PASSWORD"),
		OpenAIKey:       getenv("OPENAI_API_KEY"),
		TwilioAuthToken: getenv("TWILIO_AUTH_TOKEN"),
		LockTTL:         util.ParseDurationEnv("CALL_LOCK_TTL", DefaultLockTTL),
		LockTimeout:     util.ParseDurationEnv("CALL_LOCK_TIMEOUT", DefaultLockTimeout),
		SessionTTL:      util.ParseDurationEnv("SESSION_TTL", DefaultSessionTTL),
		TenantCacheTTL:  util.ParseDurationEnv("TENANT_CACHE_TTL", DefaultTenantCacheTTL),
	}
}

// RecoveryLimits configures the bounded retry counters per category.
type RecoveryLimits struct {
	Name       int `json:"name"`
	SlotChoice int `json:"slot_choice"`
	Phone      int `json:"phone"`
	Silence    int `json:"silence"`
	Confirm    int `json:"confirm"`
	Intent     int `json:"intent"`
}

// DefaultRecoveryLimits returns the default per-category limits.
func DefaultRecoveryLimits() RecoveryLimits {
	return RecoveryLimits{
		Name:       DefaultRecoveryLimit,
		SlotChoice: DefaultRecoveryLimit,
		Phone:      DefaultRecoveryLimit,
		Silence:    DefaultRecoveryLimit,
		Confirm:    2,
		Intent:     DefaultRecoveryLimit,
	}
}

// TenantConfig is the per-tenant snapshot resolved at session start.
// The confidence threshold here is the single authoritative source; there is
// no second hard-coded value anywhere in the decision layer.
type TenantConfig struct {
	TenantID            string          `json:"tenant_id"`
	CalendarProvider    string          `json:"calendar_provider"` // "hosted" or "embedded"
	CanaryPercent       int             `json:"canary_percent"`
	ConfidenceThreshold float64         `json:"confidence_threshold"`
	RecoveryLimits      RecoveryLimits  `json:"recovery_limits"`
	WindowDays          int             `json:"window_days"`
	Flags               map[string]bool `json:"flags"`
	// Facts are the authoritative FAQ answers substituted for decision-layer
	// placeholders after validation.
	Facts map[string]string `json:"facts"`
}

// DefaultTenantConfig returns a tenant snapshot with safe defaults.
func DefaultTenantConfig(tenantID string) TenantConfig {
	return TenantConfig{
		TenantID:            tenantID,
		CalendarProvider:    "embedded",
		CanaryPercent:       DefaultCanaryPercent,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		RecoveryLimits:      DefaultRecoveryLimits(),
		WindowDays:          DefaultWindowDays,
		Flags:               make(map[string]bool),
		Facts:               make(map[string]string),
	}
}

// Limit returns the configured limit for a recovery category name, falling
// back to the generic default for unknown categories.
func (t TenantConfig) Limit(category string) int {
	switch category {
	case "name":
		return t.RecoveryLimits.Name
	case "slot_choice":
		return t.RecoveryLimits.SlotChoice
	case "phone":
		return t.RecoveryLimits.Phone
	case "silence":
		return t.RecoveryLimits.Silence
	case "confirm":
		return t.RecoveryLimits.Confirm
	case "intent":
		return t.RecoveryLimits.Intent
	default:
		return DefaultRecoveryLimit
	}
}
