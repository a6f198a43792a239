package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAppIdentifier names the per-application schema on the user's database.
const DefaultAppIdentifier = "github.com/aksanoble/hasu"

// Supakey holds the OAuth broker settings.
type Supakey struct {
	URL         string `yaml:"url"`
	AnonKey     string `yaml:"anon_key"`
	FrontendURL string `yaml:"frontend_url"`
	ClientID    string `yaml:"client_id"`
}

// Config holds user preferences
type Config struct {
	Supakey           Supakey `yaml:"supakey"`
	AppIdentifier     string  `yaml:"app_identifier"`
	MigrationsBaseURL string  `yaml:"migrations_base_url"`
	// Loopback address the OAuth redirect lands on
	CallbackAddr string `yaml:"callback_addr"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxRetries     int           `yaml:"max_retries"`

	// Directory holding widget_data.json and the widget prefs database
	WidgetDir       string        `yaml:"widget_dir"`
	WidgetRefresh   time.Duration `yaml:"widget_refresh"`
	SessionFile     string        `yaml:"session_file"`
	SessionPassword string        `yaml:"-"`

	ConfirmDelete bool `yaml:"confirm_delete"`

	// Logging configuration
	LogLevel   string `yaml:"log_level"`   // DEBUG, INFO, WARN, ERROR
	LogFile    string `yaml:"log_file"`    // Path to log file
	LogConsole bool   `yaml:"log_console"` // Mirror logs to stderr
}

// Dir returns ~/.hasu
func Dir() string {
	if dir := os.Getenv("HASU_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hasu")
}

// DefaultConfig returns default settings
func DefaultConfig() *Config {
	dir := Dir()
	supakeyURL := getEnv("HASU_SUPAKEY_URL", getEnv("REACT_APP_SUPAKEY_URL", os.Getenv("REACT_APP_SUPABASE_URL")))
	anonKey := getEnv("HASU_SUPAKEY_ANON_KEY", getEnv("REACT_APP_SUPAKEY_ANON_KEY", os.Getenv("REACT_APP_SUPABASE_ANON_KEY")))

	return &Config{
		Supakey: Supakey{
			URL:         supakeyURL,
			AnonKey:     anonKey,
			FrontendURL: getEnv("HASU_SUPAKEY_FRONTEND_URL", getEnv("REACT_APP_SUPAKEY_FRONTEND_URL", "http://localhost:3000")),
			ClientID:    getEnv("HASU_SUPAKEY_CLIENT_ID", "hasu-web"),
		},
		AppIdentifier:     getEnv("HASU_APP_IDENTIFIER", getEnv("REACT_APP_HASU_APP_IDENTIFIER", DefaultAppIdentifier)),
		MigrationsBaseURL: getEnv("HASU_MIGRATIONS_BASE_URL", "https://raw.githubusercontent.com/aksanoble/hasu/main/public/migrations"),
		CallbackAddr:      getEnv("HASU_CALLBACK_ADDR", "127.0.0.1:8765"),
		RequestTimeout:    getDuration("HASU_REQUEST_TIMEOUT", 15*time.Second),
		RetryDelay:        getDuration("HASU_RETRY_DELAY", 5*time.Second),
		MaxRetries:        getInt("HASU_MAX_RETRIES", 3),
		WidgetDir:         getEnv("HASU_WIDGET_DIR", filepath.Join(dir, "widget")),
		WidgetRefresh:     getDuration("HASU_WIDGET_REFRESH", 15*time.Minute),
		SessionFile:       getEnv("HASU_SESSION_FILE", filepath.Join(dir, "storage.json")),
		SessionPassword:   os.Getenv("HASU_SESSION_PASSPHRASE"),
		ConfirmDelete:     true,
		LogLevel:          getEnv("HASU_LOG_LEVEL", "INFO"),
		LogFile:           getEnv("HASU_LOG_FILE", filepath.Join(dir, "logs", "hasu.log")),
		LogConsole:        getEnv("HASU_LOG_CONSOLE", "false") == "true",
	}
}

// Validate reports settings the OAuth flow cannot run without.
func (c *Config) Validate() error {
	if c.Supakey.URL == "" {
		return fmt.Errorf("supakey url is not configured (set HASU_SUPAKEY_URL)")
	}
	if c.Supakey.AnonKey == "" {
		return fmt.Errorf("supakey anon key is not configured (set HASU_SUPAKEY_ANON_KEY)")
	}
	if c.AppIdentifier == "" {
		return fmt.Errorf("app identifier must not be empty")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

// Path returns the config file location
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load loads config from ~/.hasu/config.yaml
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom loads config from path, returning defaults when it does not exist.
func LoadFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// the passphrase only ever comes from the environment
	cfg.SessionPassword = os.Getenv("HASU_SESSION_PASSPHRASE")
	return cfg, nil
}

// Save saves config to ~/.hasu/config.yaml
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo writes the config as YAML to path.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
