// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration (spec §6 "Environment
// / configuration options").
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Room     RoomConfig     `yaml:"room"`
	Provider ProviderConfig `yaml:"provider"`
	Log      LogConfig      `yaml:"log"`
	Airhorns []string       `yaml:"airhorns"`
}

// ServerConfig is the listen and shutdown configuration.
type ServerConfig struct {
	Addr                string `yaml:"addr" default:":8080" validate:"required"`
	DataDir             string `yaml:"data_dir" default:"./data" validate:"required"`
	ShutdownTimeout     int    `yaml:"shutdown_timeout_ms" default:"5000" validate:"gte=0"`
	FrontendRedirectURL string `yaml:"frontend_redirect_url" validate:"required"`
	JWTSecret           string `yaml:"jwt_secret"`
	RateLimitRPS        int    `yaml:"rate_limit_rps" default:"20" validate:"gte=1"`
}

// RoomConfig is the Room Manager's tunable runtime behaviour.
type RoomConfig struct {
	PollIntervalMs      int      `yaml:"poll_interval_ms" default:"1000" validate:"gte=100"`
	HeartbeatTimeoutMs  int      `yaml:"heartbeat_timeout_ms" default:"60000" validate:"gte=1000"`
	AllowList           []string `yaml:"allow_list"`
	FallbackPlaylistURI string   `yaml:"fallback_playlist_uri"`
	Debug               bool     `yaml:"debug"`
}

// ProviderConfig is the OAuth application credentials used by the
// Provider Gateway.
type ProviderConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	RedirectURL  string `yaml:"redirect_url" validate:"required"`
	Market       string `yaml:"market" default:"US" validate:"omitempty,len=2"`
}

// LogConfig holds the log settings read from the config file. The
// server's global zerolog logger is set up from the --verbose and
// --logfile command-line flags before the config is loaded; it does not
// read these fields.
type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Output string `yaml:"output" default:"stdout"`
	File   string `yaml:"file"`
}

// defaultAirhorns is used when the config carries no airhorn list (spec
// SPEC_FULL.md §C.2: "falls back to a small built-in default").
var defaultAirhorns = []string{"classic", "siren", "air-raid"}

// Load loads configuration from a YAML file, overrides secrets from the
// environment, defaults unset fields, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if len(cfg.Airhorns) == 0 {
		cfg.Airhorns = append([]string(nil), defaultAirhorns...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides secret-bearing fields with environment
// variables, which take precedence over file values.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("JAMSPOT_PROVIDER_CLIENT_ID"); v != "" {
		c.Provider.ClientID = v
	}
	if v := os.Getenv("JAMSPOT_PROVIDER_CLIENT_SECRET"); v != "" {
		c.Provider.ClientSecret = v
	}
	if v := os.Getenv("JAMSPOT_PROVIDER_REDIRECT_URL"); v != "" {
		c.Provider.RedirectURL = v
	}
	if v := os.Getenv("JAMSPOT_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("JAMSPOT_ALLOW_LIST"); v != "" {
		c.Room.AllowList = strings.Split(v, ",")
		for i := range c.Room.AllowList {
			c.Room.AllowList[i] = strings.TrimSpace(c.Room.AllowList[i])
		}
	}
}

// Validate validates the configuration's struct tags.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// IsAllowListed reports whether email (case-insensitive) is permitted
// take_master_control (spec §4.C "authorisation rules").
func (c *Config) IsAllowListed(email string) bool {
	lower := strings.ToLower(email)
	for _, e := range c.Room.AllowList {
		if strings.ToLower(e) == lower {
			return true
		}
	}
	return false
}
