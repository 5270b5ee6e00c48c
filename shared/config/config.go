package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Terminal roles
const (
	RoleConsole = "console"
	RoleTeam    = "team"
	RoleDisplay = "display"
	RoleMirror  = "mirror"
)

// RetrySettings mirrors the channel reconnection parameters
type RetrySettings struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Jitter       bool          `yaml:"jitter"`
}

// TerminalConfig holds configuration for the auction terminal
type TerminalConfig struct {
	ServerURL        string        `yaml:"server_url"`
	APIURL           string        `yaml:"api_url"`
	Role             string        `yaml:"role"`
	TeamID           string        `yaml:"team_id"`
	RelayAddr        string        `yaml:"relay_addr"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	Duration         time.Duration `yaml:"duration"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	SnapshotTimeout  time.Duration `yaml:"snapshot_timeout"`
	SnapshotRetries  int           `yaml:"snapshot_retries"`
	Retry            RetrySettings `yaml:"retry"`
}

// DefaultTerminalConfig returns the built-in defaults
func DefaultTerminalConfig() *TerminalConfig {
	return &TerminalConfig{
		ServerURL:        "ws://localhost:3000/auction",
		APIURL:           "http://localhost:3000",
		Role:             RoleDisplay,
		LogLevel:         "info",
		LogFormat:        "console",
		HandshakeTimeout: 10 * time.Second,
		SnapshotTimeout:  3 * time.Second,
		SnapshotRetries:  3,
		Retry: RetrySettings{
			InitialDelay: 1 * time.Second,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			MaxAttempts:  5,
			Jitter:       true,
		},
	}
}

// LoadEnv loads .env files into the process environment. Missing files are
// skipped silently; it runs before logging is configured.
func LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ParseTerminalFlags parses command line flags for the terminal
func ParseTerminalFlags() (*TerminalConfig, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}
	return ParseTerminalArgs(os.Args[1:])
}

// ParseTerminalArgs builds the config from defaults, then the optional YAML
// file, then GAVEL_* environment variables, then explicitly set flags.
func ParseTerminalArgs(args []string) (*TerminalConfig, error) {
	fs := flag.NewFlagSet("terminal", flag.ContinueOnError)
	defaults := DefaultTerminalConfig()

	var (
		configPath       = fs.String("config", "", "Optional YAML config file")
		server           = fs.String("server", defaults.ServerURL, "Auction server websocket URL")
		api              = fs.String("api", defaults.APIURL, "Player/team REST API base URL")
		role             = fs.String("role", defaults.Role, "Terminal role (console/team/display/mirror)")
		team             = fs.String("team", "", "Local team id (team role)")
		relay            = fs.String("relay", "", "View relay address: served by display, dialed by mirror")
		logLevel         = fs.String("log-level", defaults.LogLevel, "Log level (debug/info/warn/error)")
		logFormat        = fs.String("log-format", defaults.LogFormat, "Log format (console/json)")
		duration         = fs.Duration("duration", 0, "How long to run; 0 runs until interrupted")
		handshakeTimeout = fs.Duration("handshake-timeout", defaults.HandshakeTimeout, "Websocket handshake timeout")
		snapshotTimeout  = fs.Duration("snapshot-timeout", defaults.SnapshotTimeout, "Wait for a snapshot after (re)connect")
		snapshotRetries  = fs.Int("snapshot-retries", defaults.SnapshotRetries, "Snapshot re-requests before giving up")
		retryInitial     = fs.Duration("retry-initial", defaults.Retry.InitialDelay, "First reconnect delay")
		retryMax         = fs.Duration("retry-max", defaults.Retry.MaxDelay, "Reconnect delay cap")
		retryAttempts    = fs.Int("retry-attempts", defaults.Retry.MaxAttempts, "Reconnect attempts before failing")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := DefaultTerminalConfig()
	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.ServerURL = *server
		case "api":
			cfg.APIURL = *api
		case "role":
			cfg.Role = *role
		case "team":
			cfg.TeamID = *team
		case "relay":
			cfg.RelayAddr = *relay
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "duration":
			cfg.Duration = *duration
		case "handshake-timeout":
			cfg.HandshakeTimeout = *handshakeTimeout
		case "snapshot-timeout":
			cfg.SnapshotTimeout = *snapshotTimeout
		case "snapshot-retries":
			cfg.SnapshotRetries = *snapshotRetries
		case "retry-initial":
			cfg.Retry.InitialDelay = *retryInitial
		case "retry-max":
			cfg.Retry.MaxDelay = *retryMax
		case "retry-attempts":
			cfg.Retry.MaxAttempts = *retryAttempts
		}
	})

	cfg.Role = strings.ToLower(strings.TrimSpace(cfg.Role))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks role requirements and retry bounds
func (c *TerminalConfig) Validate() error {
	switch c.Role {
	case RoleConsole, RoleDisplay:
	case RoleTeam:
		if c.TeamID == "" {
			return errors.New("team role requires -team")
		}
	case RoleMirror:
		if c.RelayAddr == "" {
			return errors.New("mirror role requires -relay")
		}
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1, got %v", c.Retry.Multiplier)
	}
	return nil
}

func (c *TerminalConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *TerminalConfig) applyEnv() {
	c.ServerURL = getEnv("GAVEL_SERVER_URL", c.ServerURL)
	c.APIURL = getEnv("GAVEL_API_URL", c.APIURL)
	c.TeamID = getEnv("GAVEL_TEAM_ID", c.TeamID)
	c.LogLevel = getEnv("GAVEL_LOG_LEVEL", c.LogLevel)
	c.Retry.MaxAttempts = getEnvAsInt("GAVEL_RETRY_ATTEMPTS", c.Retry.MaxAttempts)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
