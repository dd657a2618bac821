package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Settlement SettlementConfig `mapstructure:"settlement"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowConfig holds decision-processing and scheduler configuration
type WorkflowConfig struct {
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize      int           `mapstructure:"sweep_batch_size"`
	TimeoutPolicy       string        `mapstructure:"timeout_policy"` // expire or escalate
	AcceptLateDecisions bool          `mapstructure:"accept_late_decisions"`
	MinNotesLength      int           `mapstructure:"min_notes_length"`
	MaxRetries          int           `mapstructure:"max_retries"`

	// Per-urgency decision deadlines
	NormalLevelDuration   time.Duration `mapstructure:"normal_level_duration"`
	UrgentLevelDuration   time.Duration `mapstructure:"urgent_level_duration"`
	CriticalLevelDuration time.Duration `mapstructure:"critical_level_duration"`
}

// SettlementConfig holds the settlement escalation configuration
type SettlementConfig struct {
	MaxLevel int `mapstructure:"max_level"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/approvals.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")

	// Workflow defaults
	viper.SetDefault("workflow.sweep_interval", 30*time.Second)
	viper.SetDefault("workflow.sweep_batch_size", 50)
	viper.SetDefault("workflow.timeout_policy", "expire")
	viper.SetDefault("workflow.accept_late_decisions", false)
	viper.SetDefault("workflow.min_notes_length", 5)
	viper.SetDefault("workflow.max_retries", 3)
	viper.SetDefault("workflow.normal_level_duration", 4*time.Hour)
	viper.SetDefault("workflow.urgent_level_duration", 2*time.Hour)
	viper.SetDefault("workflow.critical_level_duration", 30*time.Minute)

	// Settlement defaults
	viper.SetDefault("settlement.max_level", 5)
}

func bindEnvVars() {
	viper.BindEnv("database.path", "APPROVAL_DB_PATH")
	viper.BindEnv("server.port", "APPROVAL_SERVER_PORT")
	viper.BindEnv("workflow.timeout_policy", "APPROVAL_TIMEOUT_POLICY")
	viper.BindEnv("logger.level", "APPROVAL_LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workflow.TimeoutPolicy != "expire" && c.Workflow.TimeoutPolicy != "escalate" {
		return fmt.Errorf("workflow.timeout_policy must be 'expire' or 'escalate', got %q", c.Workflow.TimeoutPolicy)
	}
	if c.Workflow.SweepInterval <= 0 {
		return fmt.Errorf("workflow.sweep_interval must be positive")
	}
	if c.Workflow.MinNotesLength < 0 {
		return fmt.Errorf("workflow.min_notes_length must not be negative")
	}
	if c.Settlement.MaxLevel < 0 {
		return fmt.Errorf("settlement.max_level must not be negative")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
