package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database     DatabaseConfig     `yaml:"database" mapstructure:"database"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Watcher      WatcherConfig      `yaml:"watcher" mapstructure:"watcher"`
	Mapping      MappingConfig      `yaml:"mapping" mapstructure:"mapping"`
	Scanner      ScannerConfig      `yaml:"scanner" mapstructure:"scanner"`
	Notification NotificationConfig `yaml:"notification" mapstructure:"notification"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	Path     string `yaml:"path" mapstructure:"path"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Name     string `yaml:"name" mapstructure:"name"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// ServerConfig represents the HTTP API configuration
type ServerConfig struct {
	Port string `yaml:"port" mapstructure:"port"`
}

// WatcherConfig represents the report directory watcher configuration
type WatcherConfig struct {
	Dir        string   `yaml:"dir" mapstructure:"dir"`
	Extensions []string `yaml:"extensions" mapstructure:"extensions"`
}

// MappingConfig points at the vulnerability to OWASP category lookup table
type MappingConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Sheet string `yaml:"sheet" mapstructure:"sheet"`
}

// ScannerConfig represents the ZAP container configuration
type ScannerConfig struct {
	DockerPath     string `yaml:"docker_path" mapstructure:"docker_path"`
	Image          string `yaml:"image" mapstructure:"image"`
	OutputDir      string `yaml:"output_dir" mapstructure:"output_dir"`
	InputDir       string `yaml:"input_dir" mapstructure:"input_dir"`
	PassiveConfig  string `yaml:"passive_config" mapstructure:"passive_config"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// NotificationConfig represents operator notification settings
type NotificationConfig struct {
	SlackEnabled    bool   `yaml:"slack_enabled" mapstructure:"slack_enabled"`
	SlackWebhookURL string `yaml:"slack_webhook_url" mapstructure:"slack_webhook_url"`
	SlackChannel    string `yaml:"slack_channel" mapstructure:"slack_channel"`
	SlackUsername   string `yaml:"slack_username" mapstructure:"slack_username"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
	File   string `yaml:"file" mapstructure:"file"`
}

// GetDSN returns the data source name for the database connection
func (dc *DatabaseConfig) GetDSN() string {
	switch dc.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			dc.Host, dc.Port, dc.Username, dc.Password, dc.Name, dc.SSLMode)
	default:
		return SQLiteDSN(dc.Path)
	}
}

// SQLiteDSN enables foreign keys, WAL and a busy timeout on a sqlite file path.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath searches the standard locations; a missing file there is not an error.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional, real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(".vuln-dashboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.AddConfigPath("/etc/vuln-dashboard")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("VULNDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateAndSetDefaults(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.username", d.Database.Username)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.name", d.Database.Name)
	v.SetDefault("database.ssl_mode", d.Database.SSLMode)

	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("watcher.dir", d.Watcher.Dir)
	v.SetDefault("watcher.extensions", d.Watcher.Extensions)

	v.SetDefault("mapping.path", d.Mapping.Path)
	v.SetDefault("mapping.sheet", d.Mapping.Sheet)

	v.SetDefault("scanner.docker_path", d.Scanner.DockerPath)
	v.SetDefault("scanner.image", d.Scanner.Image)
	v.SetDefault("scanner.output_dir", d.Scanner.OutputDir)
	v.SetDefault("scanner.input_dir", d.Scanner.InputDir)
	v.SetDefault("scanner.passive_config", d.Scanner.PassiveConfig)
	v.SetDefault("scanner.timeout_seconds", d.Scanner.TimeoutSeconds)

	v.SetDefault("notification.slack_enabled", d.Notification.SlackEnabled)
	v.SetDefault("notification.slack_webhook_url", d.Notification.SlackWebhookURL)
	v.SetDefault("notification.slack_channel", d.Notification.SlackChannel)
	v.SetDefault("notification.slack_username", d.Notification.SlackUsername)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.file", d.Logging.File)
}

// validateAndSetDefaults validates configuration and sets computed defaults
func validateAndSetDefaults(cfg *Config) error {
	cfg.Database.Path = os.ExpandEnv(cfg.Database.Path)
	cfg.Watcher.Dir = os.ExpandEnv(cfg.Watcher.Dir)
	cfg.Mapping.Path = os.ExpandEnv(cfg.Mapping.Path)
	cfg.Scanner.OutputDir = os.ExpandEnv(cfg.Scanner.OutputDir)
	cfg.Scanner.InputDir = os.ExpandEnv(cfg.Scanner.InputDir)

	switch cfg.Database.Driver {
	case "sqlite3":
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	case "postgres":
		if cfg.Database.Host == "" || cfg.Database.Name == "" {
			return fmt.Errorf("postgres requires database.host and database.name")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	if len(cfg.Watcher.Extensions) == 0 {
		return fmt.Errorf("watcher.extensions must not be empty")
	}
	for i, ext := range cfg.Watcher.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Watcher.Extensions[i] = ext
	}

	if cfg.Scanner.TimeoutSeconds <= 0 {
		return fmt.Errorf("scanner.timeout_seconds must be positive, got %d", cfg.Scanner.TimeoutSeconds)
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported logging format %q", cfg.Logging.Format)
	}

	if cfg.Notification.SlackEnabled && cfg.Notification.SlackWebhookURL == "" {
		return fmt.Errorf("notification.slack_webhook_url is required when slack is enabled")
	}

	return nil
}

// DefaultConfig returns the configuration used when nothing else is set
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:  "sqlite3",
			Path:    "./data/api_dashboard.db",
			Host:    "localhost",
			Port:    5432,
			Name:    "api_dashboard",
			SSLMode: "disable",
		},
		Server: ServerConfig{
			Port: "5000",
		},
		Watcher: WatcherConfig{
			Dir:        "./output",
			Extensions: []string{".json"},
		},
		Mapping: MappingConfig{
			Path:  "./owasp_mapping.xlsx",
			Sheet: "",
		},
		Scanner: ScannerConfig{
			DockerPath:     "docker",
			Image:          "owasp/zap2docker-stable",
			OutputDir:      "./output",
			InputDir:       "./output/openapi",
			PassiveConfig:  "api-passive-scan.conf",
			TimeoutSeconds: 600,
		},
		Notification: NotificationConfig{
			SlackChannel:  "#security",
			SlackUsername: "API Vulnerability Dashboard",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// SaveConfig saves the configuration to a file
func SaveConfig(cfg *Config, filePath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateDefaultConfig creates a default configuration file
func GenerateDefaultConfig(filePath string) error {
	return SaveConfig(DefaultConfig(), filePath)
}
