package config

import (
	"errors"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BridgeConfig holds configuration for the page-side bridge.
type BridgeConfig struct {
	ControllerURL string `yaml:"controller_url"`
	ClientName    string `yaml:"client_name"`

	// Downstream API and ambient session credentials.
	BaseURL        string        `yaml:"base_url"`
	Cookies        string        `yaml:"cookies"`
	CookieFile     string        `yaml:"cookie_file"`
	CookieRedisURL string        `yaml:"cookie_redis_url"`
	CookieRedisKey string        `yaml:"cookie_redis_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	DefaultModel         string `yaml:"default_model"`
	DefaultSystemMessage string `yaml:"default_system_message"`

	// Raw source evaluation is off unless explicitly enabled.
	AllowEvaluate   bool          `yaml:"allow_evaluate"`
	EvaluateTimeout time.Duration `yaml:"evaluate_timeout"`

	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	StatusAddr     string        `yaml:"status_addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	ConfigFile     string        `yaml:"-"`
	LogLevel       string        `yaml:"log_level"`
}

// DefaultReconnectDelay is the fixed pause between a closed connection and the
// next connect attempt.
const DefaultReconnectDelay = 2 * time.Second

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *BridgeConfig) BindFlags() {
	c.bindFlags(flag.CommandLine)
}

func (c *BridgeConfig) bindFlags(fs *flag.FlagSet) {
	c.ConfigFile = GetEnv("CONFIG_FILE", DefaultConfigPath("bridge.yaml"))
	c.LogLevel = GetEnv("LOG_LEVEL", "info")

	c.ControllerURL = GetEnv("CONTROLLER_URL", "ws://localhost:8766")
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "bridge-" + uuid.NewString()[:8]
	}
	c.ClientName = GetEnv("CLIENT_NAME", host)

	c.BaseURL = GetEnv("BASE_URL", "")
	c.Cookies = GetEnv("COOKIES", "")
	c.CookieFile = GetEnv("COOKIE_FILE", "")
	c.CookieRedisURL = GetEnv("COOKIE_REDIS_URL", "")
	c.CookieRedisKey = GetEnv("COOKIE_REDIS_KEY", "wormhole:cookies")
	c.RequestTimeout = envDuration("REQUEST_TIMEOUT", 5*time.Minute)
	c.DefaultModel = GetEnv("DEFAULT_MODEL", "claude-sonnet-4-5-20250929")
	c.DefaultSystemMessage = GetEnv("DEFAULT_SYSTEM_MESSAGE", "You are a helpful chat assistant.")
	c.AllowEvaluate = envBool("ALLOW_EVALUATE", false)
	c.EvaluateTimeout = envDuration("EVALUATE_TIMEOUT", 10*time.Second)
	c.ReconnectDelay = envDuration("RECONNECT_DELAY", DefaultReconnectDelay)
	c.StatusAddr = GetEnv("STATUS_ADDR", "")
	mp := GetEnv("METRICS_PORT", "")
	if mp != "" && !strings.Contains(mp, ":") {
		mp = ":" + mp
	}
	c.MetricsAddr = mp

	fs.StringVar(&c.ControllerURL, "controller-url", c.ControllerURL, "controller WebSocket URL (e.g. ws://localhost:8766)")
	fs.StringVar(&c.ClientName, "client-name", c.ClientName, "bridge display name shown in logs and status")
	fs.StringVar(&c.BaseURL, "base-url", c.BaseURL, "base URL of the downstream assistant API")
	fs.StringVar(&c.Cookies, "cookies", c.Cookies, "session cookie header (name=value; name2=value2)")
	fs.StringVar(&c.CookieFile, "cookie-file", c.CookieFile, "file holding the session cookie header; re-read on every command")
	fs.StringVar(&c.CookieRedisURL, "cookie-redis-url", c.CookieRedisURL, "Redis URL holding the session cookie header")
	fs.StringVar(&c.CookieRedisKey, "cookie-redis-key", c.CookieRedisKey, "Redis key holding the session cookie header")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "maximum duration of one downstream request including its stream")
	fs.StringVar(&c.DefaultModel, "default-model", c.DefaultModel, "model used when a command omits one")
	fs.StringVar(&c.DefaultSystemMessage, "default-system-message", c.DefaultSystemMessage, "system message used when a command omits one")
	fs.BoolVar(&c.AllowEvaluate, "allow-evaluate", c.AllowEvaluate, "register the evaluate command that runs controller-supplied source (unsafe)")
	fs.DurationVar(&c.EvaluateTimeout, "evaluate-timeout", c.EvaluateTimeout, "maximum run time of one evaluate command")
	fs.DurationVar(&c.ReconnectDelay, "reconnect-delay", c.ReconnectDelay, "fixed delay before reconnecting after the controller connection closes")
	fs.StringVar(&c.StatusAddr, "status-addr", c.StatusAddr, "local status HTTP listen address (enables /status; e.g. 127.0.0.1:4555)")
	fs.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port (disabled when empty)")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "bridge config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
}

// LoadFile populates the config from a YAML file. Fields already set remain unless
// overwritten by corresponding entries in the file.
func (c *BridgeConfig) LoadFile(path string) error {
	return loadYAML(path, c)
}

// Validate reports settings the bridge cannot run without.
func (c *BridgeConfig) Validate() error {
	if c.ControllerURL == "" {
		return errors.New("controller url is required")
	}
	if c.BaseURL == "" {
		return errors.New("base url is required")
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	return nil
}
