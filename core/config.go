package core

import (
	"fmt"
	"strings"
)

type RecurrenceConfig struct {
	PeriodDays           int `koanf:"period_days" mapstructure:"period_days"`
	GenerationOffsetDays int `koanf:"generation_offset_days" mapstructure:"generation_offset_days"`
}

type SessionConfig struct {
	RefreshLeadSeconds int `koanf:"refresh_lead_seconds" mapstructure:"refresh_lead_seconds"`
	RefreshMaxAttempts int `koanf:"refresh_max_attempts" mapstructure:"refresh_max_attempts"`
}

// ProviderConfig names the identity provider. Empty endpoint URLs fall back
// to the provider client's built-in discovery document.
type ProviderConfig struct {
	AuthURL       string   `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL      string   `koanf:"token_url" mapstructure:"token_url"`
	RevocationURL string   `koanf:"revocation_url" mapstructure:"revocation_url"`
	ClientID      string   `koanf:"client_id" mapstructure:"client_id"`
	RedirectURI   string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Scopes        []string `koanf:"scopes" mapstructure:"scopes"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Recurrence  RecurrenceConfig `koanf:"recurrence" mapstructure:"recurrence"`
	Session     SessionConfig    `koanf:"session" mapstructure:"session"`
	Provider    ProviderConfig   `koanf:"provider" mapstructure:"provider"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "campuskit",
		Recurrence: RecurrenceConfig{
			PeriodDays:           7,
			GenerationOffsetDays: 6,
		},
		Session: SessionConfig{
			RefreshLeadSeconds: 60,
			RefreshMaxAttempts: 1,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Recurrence.PeriodDays < 1 {
		return fmt.Errorf("core: recurrence period_days must be positive")
	}
	if c.Recurrence.GenerationOffsetDays < 0 || c.Recurrence.GenerationOffsetDays >= c.Recurrence.PeriodDays {
		return fmt.Errorf("core: recurrence generation_offset_days must be shorter than the period")
	}
	if c.Session.RefreshLeadSeconds < 0 {
		return fmt.Errorf("core: session refresh_lead_seconds must not be negative")
	}
	if c.Session.RefreshMaxAttempts < 1 {
		return fmt.Errorf("core: session refresh_max_attempts must be at least 1")
	}
	return nil
}
