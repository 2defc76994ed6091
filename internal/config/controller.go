package config

import (
	"flag"
	"strings"
	"time"
)

// ControllerConfig holds configuration for the controller hub.
type ControllerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	EnableMCP      bool          `yaml:"enable_mcp"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	ConfigFile     string        `yaml:"-"`
	LogLevel       string        `yaml:"log_level"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *ControllerConfig) BindFlags() {
	c.bindFlags(flag.CommandLine)
}

func (c *ControllerConfig) bindFlags(fs *flag.FlagSet) {
	c.ConfigFile = GetEnv("CONFIG_FILE", DefaultConfigPath("server.yaml"))
	c.LogLevel = GetEnv("LOG_LEVEL", "info")
	c.Addr = GetEnv("ADDR", "localhost:"+GetEnv("WORMHOLE_PORT", "8765"))
	c.RequestTimeout = envDuration("REQUEST_TIMEOUT", 5*time.Minute)
	c.EnableMCP = envBool("ENABLE_MCP", false)
	c.CORSOrigins = envList("CORS_ORIGINS")

	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address for page clients, senders and the HTTP API")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "maximum time to wait for a page client response")
	fs.BoolVar(&c.EnableMCP, "enable-mcp", c.EnableMCP, "expose bridge commands as MCP tools on /mcp")
	fs.Func("cors-origins", "comma separated origins allowed to call the HTTP API", func(v string) error {
		c.CORSOrigins = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.CORSOrigins = append(c.CORSOrigins, p)
			}
		}
		return nil
	})
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
}

// LoadFile populates the config from a YAML file.
func (c *ControllerConfig) LoadFile(path string) error {
	return loadYAML(path, c)
}

// ProxyConfig holds configuration for the websocket pass-through proxy.
type ProxyConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	UpstreamURL string `yaml:"upstream_url"`
	LogLevel    string `yaml:"log_level"`
}

// BindFlags populates the struct from the environment and binds flags.
func (c *ProxyConfig) BindFlags() {
	c.bindFlags(flag.CommandLine)
}

func (c *ProxyConfig) bindFlags(fs *flag.FlagSet) {
	c.LogLevel = GetEnv("LOG_LEVEL", "info")
	c.ListenAddr = GetEnv("PROXY_ADDR", "0.0.0.0:"+GetEnv("PROXY_PORT", "8766"))
	c.UpstreamURL = GetEnv("UPSTREAM_URL", "ws://"+GetEnv("WORMHOLE_SERVER_HOST", "wormhole-server")+":"+GetEnv("WORMHOLE_PORT", "8765"))

	fs.StringVar(&c.ListenAddr, "addr", c.ListenAddr, "listen address for browser-side connections")
	fs.StringVar(&c.UpstreamURL, "upstream-url", c.UpstreamURL, "controller WebSocket URL every connection is piped to")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
}

// SendConfig holds configuration for the one-shot sender.
type SendConfig struct {
	ControllerURL string
	Timeout       time.Duration
	LogLevel      string
}

// BindFlags populates the struct from the environment and binds flags.
func (c *SendConfig) BindFlags() {
	c.bindFlags(flag.CommandLine)
}

func (c *SendConfig) bindFlags(fs *flag.FlagSet) {
	c.LogLevel = GetEnv("LOG_LEVEL", "warn")
	c.ControllerURL = GetEnv("CONTROLLER_URL", "ws://localhost:"+GetEnv("WORMHOLE_PORT", "8765"))
	c.Timeout = envDuration("TIMEOUT", 5*time.Minute)

	fs.StringVar(&c.ControllerURL, "controller-url", c.ControllerURL, "controller WebSocket URL")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "maximum time to wait for the response")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
}
