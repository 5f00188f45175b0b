package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	MdrURL          string `mapstructure:"MDR_URL"`
	MdrURLPrefix    string `mapstructure:"MDR_URL_PREFIX"`
	MdrUser         string `mapstructure:"MDR_USER"`
	MdrPassword     string `mapstructure:"MDR_PASSWORD"`
	MdrClientID     string `mapstructure:"MDR_CLIENT_ID"`
	MdrClientSecret string `mapstructure:"MDR_CLIENT_SECRET"`
	MdrGrantType    string `mapstructure:"MDR_GRANT_TYPE"`
	MdrScope        string `mapstructure:"MDR_SCOPE"`

	TerminologyURL string `mapstructure:"TERMINOLOGY_URL"`

	CacheAcceptableAgeSeconds int `mapstructure:"CACHE_ACCEPTABLE_AGE_SECONDS"`
	CacheMaximumElements      int `mapstructure:"CACHE_MAXIMUM_ELEMENTS"`

	BackgroundCleanupCacheSeconds int `mapstructure:"BACKGROUND_CLEANUP_CACHE_SECONDS"`
	BackgroundAutoLoginSeconds    int `mapstructure:"BACKGROUND_AUTO_LOGIN_SECONDS"`

	AttributesDomainCode      string `mapstructure:"MDR_ATTRIBUTES_DOMAIN_CODE"`
	AttributesFhirCsCanonical string `mapstructure:"MDR_ATTRIBUTES_FHIR_CS_CANONICAL"`
	AttributesFhirVsCanonical string `mapstructure:"MDR_ATTRIBUTES_FHIR_VS_CANONICAL"`
	AttributesFhirCmCanonical string `mapstructure:"MDR_ATTRIBUTES_FHIR_CM_CANONICAL"`

	HTTPTimeoutSeconds int `mapstructure:"HTTP_TIMEOUT_SECONDS"`
	HTTPRetryMax       int `mapstructure:"HTTP_RETRY_MAX"`
}

var defaults = map[string]any{
	"PORT":                             "8080",
	"ENV":                              "production",
	"LOG_LEVEL":                        "info",
	"MDR_URL_PREFIX":                   "",
	"MDR_GRANT_TYPE":                   "password",
	"MDR_SCOPE":                        "anything",
	"CACHE_ACCEPTABLE_AGE_SECONDS":     180,
	"CACHE_MAXIMUM_ELEMENTS":           50,
	"BACKGROUND_CLEANUP_CACHE_SECONDS": 300,
	"BACKGROUND_AUTO_LOGIN_SECONDS":    60,
	"MDR_ATTRIBUTES_DOMAIN_CODE":       "fhir",
	"MDR_ATTRIBUTES_FHIR_CS_CANONICAL": "cs-canonical",
	"MDR_ATTRIBUTES_FHIR_VS_CANONICAL": "vs-canonical",
	"MDR_ATTRIBUTES_FHIR_CM_CANONICAL": "cm-canonical",
	"HTTP_TIMEOUT_SECONDS":             60,
	"HTTP_RETRY_MAX":                   3,
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"MDR_URL", "MDR_URL_PREFIX", "MDR_USER", "MDR_PASSWORD", "MDR_CLIENT_ID", "MDR_CLIENT_SECRET",
	"MDR_GRANT_TYPE", "MDR_SCOPE",
	"TERMINOLOGY_URL",
	"CACHE_ACCEPTABLE_AGE_SECONDS", "CACHE_MAXIMUM_ELEMENTS",
	"BACKGROUND_CLEANUP_CACHE_SECONDS", "BACKGROUND_AUTO_LOGIN_SECONDS",
	"MDR_ATTRIBUTES_DOMAIN_CODE", "MDR_ATTRIBUTES_FHIR_CS_CANONICAL",
	"MDR_ATTRIBUTES_FHIR_VS_CANONICAL", "MDR_ATTRIBUTES_FHIR_CM_CANONICAL",
	"HTTP_TIMEOUT_SECONDS", "HTTP_RETRY_MAX",
}

// Load reads an optional .env file and the process environment.
func Load() (*Config, error) {
	// A missing .env is fine, the environment may already be populated
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	required := map[string]string{
		"MDR_URL":           c.MdrURL,
		"MDR_USER":          c.MdrUser,
		"MDR_PASSWORD":      c.MdrPassword,
		"MDR_CLIENT_ID":     c.MdrClientID,
		"MDR_CLIENT_SECRET": c.MdrClientSecret,
		"TERMINOLOGY_URL":   c.TerminologyURL,
	}
	for _, key := range envKeys {
		if value, ok := required[key]; ok && value == "" {
			return fmt.Errorf("%s is required", key)
		}
	}

	if c.CacheAcceptableAgeSeconds <= 0 {
		return fmt.Errorf("CACHE_ACCEPTABLE_AGE_SECONDS must be positive, got %d", c.CacheAcceptableAgeSeconds)
	}
	if c.CacheMaximumElements < -1 {
		return fmt.Errorf("CACHE_MAXIMUM_ELEMENTS must be -1 (unbounded) or larger, got %d", c.CacheMaximumElements)
	}
	if c.BackgroundCleanupCacheSeconds <= 0 {
		return fmt.Errorf("BACKGROUND_CLEANUP_CACHE_SECONDS must be positive, got %d", c.BackgroundCleanupCacheSeconds)
	}
	if c.BackgroundAutoLoginSeconds <= 0 {
		return fmt.Errorf("BACKGROUND_AUTO_LOGIN_SECONDS must be positive, got %d", c.BackgroundAutoLoginSeconds)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL %q is invalid: %w", c.LogLevel, err)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

type CacheSettings struct {
	AcceptableAge   time.Duration
	MaximumElements int
}

type BackgroundSettings struct {
	CleanupCache time.Duration
	AutoLogin    time.Duration
}

type MdrSettings struct {
	URL          string
	URLPrefix    string
	User         string
	Password     string
	ClientID     string
	ClientSecret string
	GrantType    string
	Scope        string
}

// MarshalZerologObject keeps credentials out of the logs.
func (s MdrSettings) MarshalZerologObject(e *zerolog.Event) {
	e.Str("url", s.URL).
		Str("url_prefix", s.URLPrefix).
		Str("user", "<secret>").
		Str("password", "<secret>").
		Str("client_id", "<secret>").
		Str("client_secret", "<secret>").
		Str("grant_type", s.GrantType).
		Str("scope", s.Scope)
}

type MdrAttributesSettings struct {
	DomainCode      string
	FhirCsCanonical string
	FhirVsCanonical string
	FhirCmCanonical string
}

type TerminologySettings struct {
	URL string
}

type HTTPSettings struct {
	Timeout  time.Duration
	RetryMax int
}

func (c *Config) Cache() CacheSettings {
	return CacheSettings{
		AcceptableAge:   time.Duration(c.CacheAcceptableAgeSeconds) * time.Second,
		MaximumElements: c.CacheMaximumElements,
	}
}

func (c *Config) Background() BackgroundSettings {
	return BackgroundSettings{
		CleanupCache: time.Duration(c.BackgroundCleanupCacheSeconds) * time.Second,
		AutoLogin:    time.Duration(c.BackgroundAutoLoginSeconds) * time.Second,
	}
}

func (c *Config) Mdr() MdrSettings {
	return MdrSettings{
		URL:          c.MdrURL,
		URLPrefix:    c.MdrURLPrefix,
		User:         c.MdrUser,
		Password:     c.MdrPassword,
		ClientID:     c.MdrClientID,
		ClientSecret: c.MdrClientSecret,
		GrantType:    c.MdrGrantType,
		Scope:        c.MdrScope,
	}
}

func (c *Config) MdrAttributes() MdrAttributesSettings {
	return MdrAttributesSettings{
		DomainCode:      c.AttributesDomainCode,
		FhirCsCanonical: c.AttributesFhirCsCanonical,
		FhirVsCanonical: c.AttributesFhirVsCanonical,
		FhirCmCanonical: c.AttributesFhirCmCanonical,
	}
}

func (c *Config) Terminology() TerminologySettings {
	return TerminologySettings{URL: c.TerminologyURL}
}

func (c *Config) HTTP() HTTPSettings {
	return HTTPSettings{
		Timeout:  time.Duration(c.HTTPTimeoutSeconds) * time.Second,
		RetryMax: c.HTTPRetryMax,
	}
}

// MarshalZerologObject logs the effective configuration without secrets.
func (c *Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("port", c.Port).
		Str("env", c.Env).
		Str("log_level", c.LogLevel).
		Object("mdr", c.Mdr()).
		Str("terminology_url", c.TerminologyURL).
		Int("cache_acceptable_age_seconds", c.CacheAcceptableAgeSeconds).
		Int("cache_maximum_elements", c.CacheMaximumElements).
		Int("background_cleanup_cache_seconds", c.BackgroundCleanupCacheSeconds).
		Int("background_auto_login_seconds", c.BackgroundAutoLoginSeconds).
		Str("attributes_domain_code", c.AttributesDomainCode)
}
