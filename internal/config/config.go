// Package config assembles runtime settings from defaults, an optional YAML file and the
// environment, in that order of precedence (environment last).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Portal struct {
	Addr               string        `yaml:"addr"`
	APIBaseURL         string        `yaml:"apiBaseURL"`
	ReadTimeout        time.Duration `yaml:"readTimeout"`
	WriteTimeout       time.Duration `yaml:"writeTimeout"`
	UpstreamTimeout    time.Duration `yaml:"upstreamTimeout"`
	CatalogPath        string        `yaml:"catalogPath"`
	WatchCatalog       bool          `yaml:"watchCatalog"`
	CookieSecure       bool          `yaml:"cookieSecure"`
	PageSize           int           `yaml:"pageSize"`
	LookupTTL          time.Duration `yaml:"lookupTTL"`
	RedisURL           string        `yaml:"redisURL"`
	RateLimitPerMinute int           `yaml:"rateLimitPerMinute"`
	RateLimitBurst     int           `yaml:"rateLimitBurst"`
}

type MockAPI struct {
	Addr         string        `yaml:"addr"`
	DBPath       string        `yaml:"dbPath"`
	JWTSecret    string        `yaml:"jwtSecret"`
	TokenTTL     time.Duration `yaml:"tokenTTL"`
	Demo         bool          `yaml:"demo"`
	DemoPassword string        `yaml:"demoPassword"`
}

type Config struct {
	Portal    Portal  `yaml:"portal"`
	MockAPI   MockAPI `yaml:"mockapi"`
	LogFormat string  `yaml:"logFormat"`
}

func Default() Config {
	return Config{
		Portal: Portal{
			Addr:               ":3000",
			APIBaseURL:         "http://localhost:8080",
			ReadTimeout:        5 * time.Second,
			WriteTimeout:       15 * time.Second,
			UpstreamTimeout:    10 * time.Second,
			PageSize:           10,
			LookupTTL:          5 * time.Minute,
			RateLimitPerMinute: 30,
			RateLimitBurst:     10,
		},
		MockAPI: MockAPI{
			Addr:         ":8080",
			DBPath:       "data/mockapi.db",
			TokenTTL:     8 * time.Hour,
			Demo:         true,
			DemoPassword: "approvaldesk-demo",
		},
		LogFormat: "json",
	}
}

// Load reads path (if it exists) over the defaults and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Portal.Addr, "PORTAL_ADDR")
	setString(&cfg.Portal.APIBaseURL, "API_BASE_URL")
	setString(&cfg.Portal.CatalogPath, "CATALOG_PATH")
	setString(&cfg.Portal.RedisURL, "REDIS_URL")
	setString(&cfg.MockAPI.Addr, "MOCKAPI_ADDR")
	setString(&cfg.MockAPI.DBPath, "MOCKAPI_DB_PATH")
	setString(&cfg.MockAPI.JWTSecret, "MOCKAPI_JWT_SECRET")
	setString(&cfg.MockAPI.DemoPassword, "MOCKAPI_DEMO_PASSWORD")
	setString(&cfg.LogFormat, "LOG_FORMAT")

	var errs []error
	errs = append(errs,
		setBool(&cfg.Portal.CookieSecure, "COOKIE_SECURE"),
		setBool(&cfg.Portal.WatchCatalog, "WATCH_CATALOG"),
		setBool(&cfg.MockAPI.Demo, "MOCKAPI_DEMO"),
		setInt(&cfg.Portal.PageSize, "PAGE_SIZE"),
		setDuration(&cfg.Portal.UpstreamTimeout, "UPSTREAM_TIMEOUT"),
		setDuration(&cfg.Portal.LookupTTL, "LOOKUP_TTL"),
		setDuration(&cfg.MockAPI.TokenTTL, "MOCKAPI_TOKEN_TTL"),
	)
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	u, err := url.Parse(c.Portal.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL, got %q", c.Portal.APIBaseURL)
	}
	if c.Portal.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.Portal.PageSize)
	}
	if strings.TrimSpace(c.Portal.Addr) == "" {
		return errors.New("portal address is required")
	}
	return nil
}

func setString(dst *string, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, name string) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, name string) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
