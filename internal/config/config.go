package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	CDC      CDCConfig      `mapstructure:"cdc"`
	Debug    bool           `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
	AdminRoutes  bool          `mapstructure:"admin_routes"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheck     time.Duration `mapstructure:"health_check_period"`
}

// GraphConfig controls which database objects become GraphQL surface
type GraphConfig struct {
	Schema        string `mapstructure:"schema"`
	Dialect       string `mapstructure:"dialect"`
	Introspection bool   `mapstructure:"introspection"`
}

// CacheConfig contains schema snapshot cache settings
type CacheConfig struct {
	SchemaTTL         time.Duration `mapstructure:"schema_ttl"`
	RolePrivilegesTTL time.Duration `mapstructure:"role_privileges_ttl"`
	GraphQLTTL        time.Duration `mapstructure:"graphql_ttl"`
}

// SecurityConfig contains query shape limits and role binding settings
type SecurityConfig struct {
	RoleBasedSchema bool `mapstructure:"role_based_schema"`
	MaxDepth        int  `mapstructure:"max_depth"`
	MaxComplexity   int  `mapstructure:"max_complexity"`
	MaxRequestBytes int  `mapstructure:"max_request_bytes"`
}

// CDCConfig contains logical replication settings
type CDCConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	SlotName          string        `mapstructure:"slot_name"`
	PublicationName   string        `mapstructure:"publication_name"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StandbyInterval   time.Duration `mapstructure:"standby_interval"`
	BufferSize        int           `mapstructure:"buffer_size"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	viper.SetConfigName("pgqlgate")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/pgqlgate")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PGQLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
		"../.env",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.body_limit", 4*1024*1024) // 4MB
	viper.SetDefault("server.admin_routes", false)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.database", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.health_check_period", "1m")

	// Graph defaults
	viper.SetDefault("graph.schema", "public")
	viper.SetDefault("graph.dialect", "postgres")
	viper.SetDefault("graph.introspection", true)

	// Cache defaults
	viper.SetDefault("cache.schema_ttl", "30m")
	viper.SetDefault("cache.role_privileges_ttl", "5m")
	viper.SetDefault("cache.graphql_ttl", "30m")

	// Security defaults
	viper.SetDefault("security.role_based_schema", false)
	viper.SetDefault("security.max_depth", 8)
	viper.SetDefault("security.max_complexity", 500)
	viper.SetDefault("security.max_request_bytes", 1024*1024) // 1MB

	// CDC defaults
	viper.SetDefault("cdc.enabled", false)
	viper.SetDefault("cdc.slot_name", "pgqlgate_slot")
	viper.SetDefault("cdc.publication_name", "pgqlgate_pub")
	viper.SetDefault("cdc.heartbeat_interval", "30s")
	viper.SetDefault("cdc.standby_interval", "10s")
	viper.SetDefault("cdc.buffer_size", 64)

	viper.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.MaxConnections < c.Database.MinConnections {
		return fmt.Errorf("max_connections must be greater than or equal to min_connections")
	}

	if c.Graph.Schema == "" {
		return fmt.Errorf("graph schema must not be empty")
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	if err := c.CDC.Validate(); err != nil {
		return fmt.Errorf("cdc configuration error: %w", err)
	}

	return nil
}

// Validate validates security configuration
func (sc *SecurityConfig) Validate() error {
	if sc.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be at least 1, got: %d", sc.MaxDepth)
	}

	if sc.MaxComplexity < 1 {
		return fmt.Errorf("max_complexity must be at least 1, got: %d", sc.MaxComplexity)
	}

	if sc.MaxRequestBytes < 1 {
		return fmt.Errorf("max_request_bytes must be at least 1, got: %d", sc.MaxRequestBytes)
	}

	return nil
}

// Validate validates CDC configuration
func (cc *CDCConfig) Validate() error {
	if !cc.Enabled {
		return nil
	}

	if cc.SlotName == "" {
		return fmt.Errorf("slot_name is required when cdc is enabled")
	}

	if cc.PublicationName == "" {
		return fmt.Errorf("publication_name is required when cdc is enabled")
	}

	if cc.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got: %s", cc.HeartbeatInterval)
	}

	if cc.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be at least 1, got: %d", cc.BufferSize)
	}

	return nil
}

// ConnectionString returns the PostgreSQL connection string
func (dc *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dc.User, dc.Password, dc.Host, dc.Port, dc.Database, dc.SSLMode)
}

// ReplicationConnectionString returns a connection string suitable for the
// streaming replication protocol. The replication parameter switches the
// backend into walsender mode.
func (dc *DatabaseConfig) ReplicationConnectionString() string {
	return dc.ConnectionString() + "&replication=database"
}
