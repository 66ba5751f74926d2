package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cypherlabdev/odds-consensus-service/internal/models"
)

// Config holds all configuration for odds-consensus-service
type Config struct {
	Server    ServerConfig
	Provider  ProviderConfig
	Quota     QuotaConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Ingestion IngestionConfig
	Consensus ConsensusConfig
	Storage   StorageConfig
	Query     QueryConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AdminToken   string        `mapstructure:"admin_token"` // required in X-Admin-Token for refresh endpoints
}

// ProviderConfig holds odds provider configuration
type ProviderConfig struct {
	Host           string        `mapstructure:"host"`
	APIKey         string        `mapstructure:"api_key"`
	Regions        string        `mapstructure:"regions"`
	OddsFormat     string        `mapstructure:"odds_format"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RemainingFloor int           `mapstructure:"remaining_floor"` // fail fast when provider-reported remaining drops below this
}

// QuotaConfig holds the daily call budget configuration
type QuotaConfig struct {
	DailyLimit int    `mapstructure:"daily_limit"` // <= 0 disables budgeting
	Timezone   string `mapstructure:"timezone"`    // IANA timezone for day rollover
	RedisKey   string `mapstructure:"redis_key"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds Kafka configuration. An empty broker list disables
// publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string // topic for baseline refresh messages
}

// IngestionConfig controls which sports and markets a run pulls
type IngestionConfig struct {
	Sports            []string          `mapstructure:"sports"`
	MaxEventsPerSport int               `mapstructure:"max_events_per_sport"`
	PeriodMarkets     map[string]string `mapstructure:"period_markets"` // sport_key -> sub-period market key
}

// ConsensusConfig holds aggregation parameters
type ConsensusConfig struct {
	MinBooks int `mapstructure:"min_books"` // depth gate applied when persisting the baseline
}

// StorageConfig holds baseline snapshot storage configuration
type StorageConfig struct {
	Dir string
}

// QueryDefaults are the base edge-query parameters.
type QueryDefaults struct {
	MinConsensusBooks   int      `mapstructure:"min_consensus_books"`
	MaxAgeMinutes       int      `mapstructure:"max_age_minutes"`
	MinAbsEdgeFullGame  float64  `mapstructure:"min_abs_edge_full_game"`
	MinAbsEdgeSubPeriod float64  `mapstructure:"min_abs_edge_sub_period"`
	Limit               int      `mapstructure:"limit"`
	MaxLimit            int      `mapstructure:"max_limit"`
	AllowedBooks        []string `mapstructure:"allowed_books"`
}

// SportOverride overrides selected query defaults for one sport. Nil fields
// inherit the base value; specific beats general.
type SportOverride struct {
	MinConsensusBooks *int     `mapstructure:"min_consensus_books"`
	MaxAgeMinutes     *int     `mapstructure:"max_age_minutes"`
	MinAbsEdge        *float64 `mapstructure:"min_abs_edge"`
	AllowedBooks      []string `mapstructure:"allowed_books"`
}

// QueryConfig holds edge-query configuration
type QueryConfig struct {
	Defaults       QueryDefaults            `mapstructure:"defaults"`
	SportOverrides map[string]SportOverride `mapstructure:"sport_overrides"`
}

// ResolvedDefaults are the effective query parameters for one request.
type ResolvedDefaults struct {
	MinConsensusBooks int
	MaxAgeMinutes     int
	MinAbsEdge        float64
	Limit             int
	MaxLimit          int
	AllowedBooks      []string
}

// Resolve computes effective query defaults for a source and optional sport.
// The edge threshold default differs by source; a sport-specific override
// beats the general value, field by field.
func (q *QueryConfig) Resolve(source models.MarketPeriod, sport string) ResolvedDefaults {
	resolved := ResolvedDefaults{
		MinConsensusBooks: q.Defaults.MinConsensusBooks,
		MaxAgeMinutes:     q.Defaults.MaxAgeMinutes,
		MinAbsEdge:        q.Defaults.MinAbsEdgeFullGame,
		Limit:             q.Defaults.Limit,
		MaxLimit:          q.Defaults.MaxLimit,
		AllowedBooks:      q.Defaults.AllowedBooks,
	}
	if source != models.MarketPeriodFullGame {
		resolved.MinAbsEdge = q.Defaults.MinAbsEdgeSubPeriod
	}

	if sport == "" {
		return resolved
	}
	override, ok := q.SportOverrides[sport]
	if !ok {
		return resolved
	}
	if override.MinConsensusBooks != nil {
		resolved.MinConsensusBooks = *override.MinConsensusBooks
	}
	if override.MaxAgeMinutes != nil {
		resolved.MaxAgeMinutes = *override.MaxAgeMinutes
	}
	if override.MinAbsEdge != nil {
		resolved.MinAbsEdge = *override.MinAbsEdge
	}
	if len(override.AllowedBooks) > 0 {
		resolved.AllowedBooks = override.AllowedBooks
	}
	return resolved
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.admin_token", "")

	v.SetDefault("provider.host", "https://api.the-odds-api.com")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.regions", "us,eu")
	v.SetDefault("provider.odds_format", "american")
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.remaining_floor", 25)

	v.SetDefault("quota.daily_limit", 450)
	v.SetDefault("quota.timezone", "America/New_York")
	v.SetDefault("quota.redis_key", "quota:odds-provider")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "consensus_baselines")

	v.SetDefault("ingestion.sports", []string{
		"americanfootball_nfl",
		"americanfootball_ncaaf",
		"icehockey_nhl",
		"baseball_mlb",
		"basketball_nba",
	})
	v.SetDefault("ingestion.max_events_per_sport", 30)
	v.SetDefault("ingestion.period_markets", map[string]string{
		"basketball_nba":         "h2h_h1",
		"americanfootball_nfl":   "h2h_h1",
		"americanfootball_ncaaf": "h2h_h1",
		"baseball_mlb":           "h2h_1st_5_innings",
	})

	v.SetDefault("consensus.min_books", 2)

	v.SetDefault("storage.dir", "data/processed")

	v.SetDefault("query.defaults.min_consensus_books", 2)
	v.SetDefault("query.defaults.max_age_minutes", 120)
	v.SetDefault("query.defaults.min_abs_edge_full_game", 0.015)
	v.SetDefault("query.defaults.min_abs_edge_sub_period", 0.02)
	v.SetDefault("query.defaults.limit", 20)
	v.SetDefault("query.defaults.max_limit", 200)
	v.SetDefault("query.defaults.allowed_books", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvPrefix("ODDS_CONSENSUS")
	v.AutomaticEnv()
	// Replace . with _ for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Unmarshal to struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
