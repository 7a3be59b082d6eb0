package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-chat-server/internal/dispatch"
)

type appConfig struct {
	port            int
	maxConnections  int
	verbose         bool
	logFormat       string
	logLevel        string
	logFile         string
	banlistPath     string
	metricsAddr     string
	queuePolicy     string
	dispatchDelay   time.Duration
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	port := flag.Int("port", 8080, "TCP listen port")
	flag.IntVar(port, "p", 8080, "TCP listen port (shorthand)")
	conns := flag.Int("connections", 100, "Maximum simultaneous clients")
	flag.IntVar(conns, "c", 100, "Maximum simultaneous clients (shorthand)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.BoolVar(verbose, "v", false, "Enable debug logging (shorthand)")
	logFormat := flag.String("log-format", "text", "Console log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	logFile := flag.String("log-file", "server.log", "Log file served by GET_LOG")
	banlist := flag.String("banlist", "banlist", "Ban list file path")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	queuePolicy := flag.String("queue-policy", "reject", "Queue-full policy: reject|drop_oldest|drop_newest")
	dispatchDelay := flag.Duration("dispatch-delay", dispatch.DefaultDelay, "Pause before each delivery")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default chat-server-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.port = *port
	cfg.maxConnections = *conns
	cfg.verbose = *verbose
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logFile = *logFile
	cfg.banlistPath = *banlist
	cfg.metricsAddr = *metricsAddr
	cfg.queuePolicy = *queuePolicy
	cfg.dispatchDelay = *dispatchDelay
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if cfg.verbose {
		cfg.logLevel = "debug"
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func (c *appConfig) listenAddr() string { return fmt.Sprintf(":%d", c.port) }

func (c *appConfig) policy() dispatch.Policy {
	switch c.queuePolicy {
	case "drop_oldest":
		return dispatch.PolicyDropOldest
	case "drop_newest":
		return dispatch.PolicyDropNewest
	default:
		return dispatch.PolicyReject
	}
}

// validate performs basic semantic validation of the parsed configuration.
// It does not open listeners or files, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.port <= 0 || c.port > 65535 {
		return fmt.Errorf("invalid port: %d", c.port)
	}
	if c.maxConnections <= 0 {
		return fmt.Errorf("connections must be > 0 (got %d)", c.maxConnections)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.queuePolicy {
	case "reject", "drop_oldest", "drop_newest":
	default:
		return fmt.Errorf("invalid queue-policy: %s", c.queuePolicy)
	}
	if c.logFile == "" {
		return errors.New("log-file must not be empty")
	}
	if c.banlistPath == "" {
		return errors.New("banlist must not be empty")
	}
	if c.dispatchDelay < 0 {
		return errors.New("dispatch-delay must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps CHAT_SERVER_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	unset := func(names ...string) bool {
		for _, n := range names {
			if _, ok := set[n]; ok {
				return false
			}
		}
		return true
	}
	if unset("port", "p") {
		if v, ok := get("CHAT_SERVER_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.port = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CHAT_SERVER_PORT: %w", err)
			}
		}
	}
	if unset("connections", "c") {
		if v, ok := get("CHAT_SERVER_CONNECTIONS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxConnections = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CHAT_SERVER_CONNECTIONS: %w", err)
			}
		}
	}
	if unset("log-format") {
		if v, ok := get("CHAT_SERVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if unset("log-level", "verbose", "v") {
		if v, ok := get("CHAT_SERVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if unset("log-file") {
		if v, ok := get("CHAT_SERVER_LOG_FILE"); ok && v != "" {
			c.logFile = v
		}
	}
	if unset("banlist") {
		if v, ok := get("CHAT_SERVER_BANLIST"); ok && v != "" {
			c.banlistPath = v
		}
	}
	if unset("metrics-addr") {
		if v, ok := get("CHAT_SERVER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if unset("queue-policy") {
		if v, ok := get("CHAT_SERVER_QUEUE_POLICY"); ok && v != "" {
			c.queuePolicy = v
		}
	}
	if unset("dispatch-delay") {
		if v, ok := get("CHAT_SERVER_DISPATCH_DELAY"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.dispatchDelay = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CHAT_SERVER_DISPATCH_DELAY: %w", err)
			}
		}
	}
	if unset("log-metrics-interval") {
		if v, ok := get("CHAT_SERVER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CHAT_SERVER_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if unset("mdns-enable") {
		if v, ok := get("CHAT_SERVER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if unset("mdns-name") {
		if v, ok := get("CHAT_SERVER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
