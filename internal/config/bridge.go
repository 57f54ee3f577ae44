package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Client types accepted by the planning service.
const (
	ClientCursor   = "cursor-mcp"
	ClientWindsurf = "windsurf-mcp"
)

// MCP transports the binary can serve.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// BridgeConfig holds configuration for the planner bridge.
type BridgeConfig struct {
	URL                  string        `yaml:"bridge_url"`
	APIKey               string        `yaml:"api_key"`
	ClientType           string        `yaml:"client_type"`
	ClientID             string        `yaml:"client_id"`
	DefaultStreaming     bool          `yaml:"default_streaming"`
	MaxTokens            int           `yaml:"max_tokens"`
	Reconnect            bool          `yaml:"reconnect"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectJitter      float64       `yaml:"reconnect_jitter"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReadLimit            int64         `yaml:"read_limit"`
	MCPTransport         string        `yaml:"mcp_transport"`
	MCPHTTPAddr          string        `yaml:"mcp_http_addr"`
	StatusAddr           string        `yaml:"status_addr"`
	MetricsAddr          string        `yaml:"metrics_addr"`
	AllowedOrigins       []string      `yaml:"allowed_origins"`
	RedisAddr            string        `yaml:"redis_addr"`
	WorkDir              string        `yaml:"workdir"`
	LogLevel             string        `yaml:"log_level"`
	ConfigFile           string        `yaml:"-"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags on fs so main can call fs.Parse.
func (c *BridgeConfig) BindFlags(fs *flag.FlagSet) {
	c.ConfigFile = GetEnv("CONFIG_FILE", DefaultConfigPath("bridge.yaml"))
	c.LogLevel = GetEnv("LOG_LEVEL", "info")

	c.URL = GetEnv("BRIDGE_URL", "ws://localhost:8080/bridge")
	c.APIKey = GetEnv("BRIDGE_API_KEY", "")
	c.ClientType = GetEnv("CLIENT_TYPE", ClientCursor)
	c.ClientID = GetEnv("CLIENT_ID", "")
	c.DefaultStreaming = envBool("DEFAULT_STREAMING", false)
	c.MaxTokens = envInt("MAX_TOKENS", 4096)
	c.Reconnect = envBool("RECONNECT", true)
	c.ReconnectInterval = envSeconds("RECONNECT_INTERVAL", time.Second)
	c.MaxReconnectAttempts = envInt("MAX_RECONNECT_ATTEMPTS", 5)
	c.ReconnectJitter = envFloat("RECONNECT_JITTER", 0.25)
	c.RequestTimeout = envSeconds("REQUEST_TIMEOUT", 300*time.Second)
	c.PingInterval = envSeconds("PING_INTERVAL", 30*time.Second)
	c.ReadLimit = int64(envInt("READ_LIMIT", 4<<20))
	c.MCPTransport = GetEnv("MCP_TRANSPORT", TransportStdio)
	c.MCPHTTPAddr = portAddr(GetEnv("MCP_HTTP_ADDR", "127.0.0.1:8090"))
	c.StatusAddr = portAddr(GetEnv("STATUS_PORT", ""))
	c.MetricsAddr = portAddr(GetEnv("METRICS_PORT", ""))
	c.AllowedOrigins = splitList(GetEnv("ALLOWED_ORIGINS", ""))
	c.RedisAddr = GetEnv("REDIS_ADDR", "")
	c.WorkDir = GetEnv("WORKDIR", "")

	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "bridge config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.StringVar(&c.URL, "bridge-url", c.URL, "planning service WebSocket URL (e.g. wss://planner.example/bridge)")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "API key sent as a bearer token")
	fs.StringVar(&c.ClientType, "client-type", c.ClientType, "client type announced to the service (cursor-mcp or windsurf-mcp)")
	fs.StringVar(&c.ClientID, "client-id", c.ClientID, "client instance identifier; assigned when empty")
	fs.BoolVar(&c.DefaultStreaming, "default-streaming", c.DefaultStreaming, "stream chat replies unless the caller says otherwise")
	fs.IntVar(&c.MaxTokens, "max-tokens", c.MaxTokens, "token budget attached to chat requests")
	fs.BoolVar(&c.Reconnect, "reconnect", c.Reconnect, "reconnect to the service after unexpected drops")
	fs.BoolVar(&c.Reconnect, "r", c.Reconnect, "short for --reconnect")
	secondsFlag(fs, &c.ReconnectInterval, "reconnect-interval", "base reconnect delay in seconds")
	fs.IntVar(&c.MaxReconnectAttempts, "max-reconnect-attempts", c.MaxReconnectAttempts, "consecutive reconnect attempts before giving up")
	fs.Float64Var(&c.ReconnectJitter, "reconnect-jitter", c.ReconnectJitter, "random extra fraction added to each reconnect delay, in [0,1)")
	secondsFlag(fs, &c.RequestTimeout, "request-timeout", "per tool call timeout in seconds (0 disables)")
	secondsFlag(fs, &c.PingInterval, "ping-interval", "keepalive ping interval in seconds (0 disables)")
	fs.Int64Var(&c.ReadLimit, "read-limit", c.ReadLimit, "maximum inbound frame size in bytes")
	fs.StringVar(&c.MCPTransport, "mcp-transport", c.MCPTransport, "MCP transport served to the host (stdio or http)")
	fs.StringVar(&c.MCPHTTPAddr, "mcp-http-addr", c.MCPHTTPAddr, "listen address for the streamable HTTP MCP endpoint")
	fs.StringVar(&c.StatusAddr, "status-port", c.StatusAddr, "status endpoint listen address or port (disabled when empty)")
	fs.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port (disabled when empty; e.g. 127.0.0.1:9090 or 9090)")
	fs.Func("allowed-origins", "comma separated CORS origins for the status endpoint", func(v string) error {
		c.AllowedOrigins = splitList(v)
		return nil
	})
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis URL for publishing session state (disabled when empty)")
	fs.StringVar(&c.WorkDir, "workdir", c.WorkDir, "working directory passed to analysis tools (defaults to the current directory)")
}

// LoadFile populates the config from a YAML file. Fields already set remain
// unless overwritten by corresponding entries in the file.
func (c *BridgeConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// Finalize fills values derived at startup: a client id when none was
// given and the working directory.
func (c *BridgeConfig) Finalize() {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	if c.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			c.WorkDir = wd
		}
	}
	c.StatusAddr = portAddr(c.StatusAddr)
	c.MetricsAddr = portAddr(c.MetricsAddr)
	c.MCPHTTPAddr = portAddr(c.MCPHTTPAddr)
}

// Validate reports every invalid setting.
func (c *BridgeConfig) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("bridge url is required"))
	} else if u, err := url.Parse(c.URL); err != nil {
		errs = append(errs, fmt.Errorf("bridge url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("bridge url scheme must be ws or wss, got %q", u.Scheme))
	}
	if c.ClientType != ClientCursor && c.ClientType != ClientWindsurf {
		errs = append(errs, fmt.Errorf("client type must be %s or %s, got %q", ClientCursor, ClientWindsurf, c.ClientType))
	}
	if c.MaxReconnectAttempts <= 0 {
		errs = append(errs, errors.New("max reconnect attempts must be positive"))
	}
	if c.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("reconnect interval must be positive"))
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter >= 1 {
		errs = append(errs, fmt.Errorf("reconnect jitter must be in [0,1), got %v", c.ReconnectJitter))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, errors.New("max tokens must not be negative"))
	}
	if c.RequestTimeout < 0 || c.PingInterval < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MCPTransport != TransportStdio && c.MCPTransport != TransportHTTP {
		errs = append(errs, fmt.Errorf("mcp transport must be %s or %s, got %q", TransportStdio, TransportHTTP, c.MCPTransport))
	}
	return errors.Join(errs...)
}

func secondsFlag(fs *flag.FlagSet, d *time.Duration, name, usage string) {
	fs.Func(name, usage, func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*d = seconds(f)
		return nil
	})
}

// portAddr turns a bare port into a listen address.
func portAddr(v string) string {
	if v != "" && !strings.Contains(v, ":") {
		return ":" + v
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
