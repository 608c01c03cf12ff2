package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "PEAKSTRANDING"
	defaultHTTPAddress         = "0.0.0.0:3000"
	defaultHTTPTimeoutSeconds  = 10
	defaultDatabaseDriver      = DriverSQLite
	defaultDatabaseDSN         = "peakstranding.db"
	defaultDatabaseMaxConns    = 4
	defaultDatabaseTimeout     = 5
	defaultLogLevel            = "info"
	defaultSteamAPIURL         = "https://partner.steam-api.com/ISteamUserAuth/AuthenticateUserTicket/v1/"
	defaultSteamTimeoutSeconds = 5
	defaultMaxStructsPerScene  = 100
	defaultMaxRequestedStructs = 100
	defaultRandomLimit         = 30
	defaultMaxSceneLength      = 64
	defaultMaxPrefabLength     = 50
	defaultMaxUsernameLength   = 50
	defaultCooldownMillis      = 1000
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Limits holds the tunables consulted by the structure store, like ledger and rate limiter.
type Limits struct {
	MaxStructsPerUserPerScene int
	MaxRequestedStructs       int
	DefaultRandomLimit        int
	MaxSceneLength            int
	MaxPrefabLength           int
	MaxUsernameLength         int
	PostStructureCooldown     time.Duration
	GetStructureCooldown      time.Duration
	PostLikeCooldown          time.Duration
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	HTTPReadTimeout      time.Duration
	HTTPWriteTimeout     time.Duration
	DatabaseDriver       string
	DatabaseDSN          string
	DatabaseMaxOpenConns int
	DatabaseTimeout      time.Duration
	LogLevel             string
	SteamAppID           int
	SteamWebAPIKey       string
	SteamAPIURL          string
	SteamTimeout         time.Duration
	SkipTicketValidation bool
	Limits               Limits
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.read_timeout_seconds", defaultHTTPTimeoutSeconds)
	configViper.SetDefault("http.write_timeout_seconds", defaultHTTPTimeoutSeconds)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("database.max_open_conns", defaultDatabaseMaxConns)
	configViper.SetDefault("database.timeout_seconds", defaultDatabaseTimeout)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("steam.app_id", 0)
	configViper.SetDefault("steam.web_api_key", "")
	configViper.SetDefault("steam.api_url", defaultSteamAPIURL)
	configViper.SetDefault("steam.timeout_seconds", defaultSteamTimeoutSeconds)
	configViper.SetDefault("steam.skip_ticket_validation", false)
	configViper.SetDefault("limits.max_structs_per_user_per_scene", defaultMaxStructsPerScene)
	configViper.SetDefault("limits.max_requested_structs", defaultMaxRequestedStructs)
	configViper.SetDefault("limits.default_random_limit", defaultRandomLimit)
	configViper.SetDefault("limits.max_scene_length", defaultMaxSceneLength)
	configViper.SetDefault("limits.max_prefab_length", defaultMaxPrefabLength)
	configViper.SetDefault("limits.max_username_length", defaultMaxUsernameLength)
	configViper.SetDefault("limits.post_structure_cooldown_ms", defaultCooldownMillis)
	configViper.SetDefault("limits.get_structure_cooldown_ms", defaultCooldownMillis)
	configViper.SetDefault("limits.post_like_cooldown_ms", defaultCooldownMillis)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		HTTPReadTimeout:      seconds(configViper.GetInt("http.read_timeout_seconds")),
		HTTPWriteTimeout:     seconds(configViper.GetInt("http.write_timeout_seconds")),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		DatabaseMaxOpenConns: configViper.GetInt("database.max_open_conns"),
		DatabaseTimeout:      seconds(configViper.GetInt("database.timeout_seconds")),
		LogLevel:             configViper.GetString("log.level"),
		SteamAppID:           configViper.GetInt("steam.app_id"),
		SteamWebAPIKey:       configViper.GetString("steam.web_api_key"),
		SteamAPIURL:          configViper.GetString("steam.api_url"),
		SteamTimeout:         seconds(configViper.GetInt("steam.timeout_seconds")),
		SkipTicketValidation: configViper.GetBool("steam.skip_ticket_validation"),
		Limits: Limits{
			MaxStructsPerUserPerScene: configViper.GetInt("limits.max_structs_per_user_per_scene"),
			MaxRequestedStructs:       configViper.GetInt("limits.max_requested_structs"),
			DefaultRandomLimit:        configViper.GetInt("limits.default_random_limit"),
			MaxSceneLength:            configViper.GetInt("limits.max_scene_length"),
			MaxPrefabLength:           configViper.GetInt("limits.max_prefab_length"),
			MaxUsernameLength:         configViper.GetInt("limits.max_username_length"),
			PostStructureCooldown:     millis(configViper.GetInt("limits.post_structure_cooldown_ms")),
			GetStructureCooldown:      millis(configViper.GetInt("limits.get_structure_cooldown_ms")),
			PostLikeCooldown:          millis(configViper.GetInt("limits.post_like_cooldown_ms")),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.DatabaseMaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.DatabaseTimeout <= 0 {
		return fmt.Errorf("database.timeout_seconds must be positive")
	}
	if !c.SkipTicketValidation {
		if strings.TrimSpace(c.SteamWebAPIKey) == "" {
			return fmt.Errorf("steam.web_api_key is required unless steam.skip_ticket_validation is set")
		}
		if strings.TrimSpace(c.SteamAPIURL) == "" {
			return fmt.Errorf("steam.api_url is required")
		}
		if c.SteamTimeout <= 0 {
			return fmt.Errorf("steam.timeout_seconds must be positive")
		}
	}
	return c.Limits.validate()
}

func (l Limits) validate() error {
	if l.MaxStructsPerUserPerScene <= 0 {
		return fmt.Errorf("limits.max_structs_per_user_per_scene must be positive")
	}
	if l.MaxRequestedStructs < 0 {
		return fmt.Errorf("limits.max_requested_structs must not be negative")
	}
	if l.DefaultRandomLimit < 0 {
		return fmt.Errorf("limits.default_random_limit must not be negative")
	}
	if l.MaxSceneLength <= 0 || l.MaxPrefabLength <= 0 || l.MaxUsernameLength <= 0 {
		return fmt.Errorf("limits: length bounds must be positive")
	}
	if l.PostStructureCooldown < 0 || l.GetStructureCooldown < 0 || l.PostLikeCooldown < 0 {
		return fmt.Errorf("limits: cooldowns must not be negative")
	}
	return nil
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func millis(value int) time.Duration {
	return time.Duration(value) * time.Millisecond
}
