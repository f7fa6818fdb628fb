package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	serialDev         string // "mock" selects xpressnet.MockController instead of a real port
	baud              int
	serialReadTO      time.Duration
	commandDelay      time.Duration
	reconnectInterval time.Duration
	stateTimeout      time.Duration

	wsListenAddr string
	maxClients   int
	clientReadTO time.Duration

	httpEnable bool
	httpPort   int

	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration

	hubBuffer int
	hubPolicy string

	mdnsEnable bool
	mdnsName   string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	serialDev := flag.String("serial-device", "/dev/ttyACM0", "Serial device path, or \"mock\" for the built-in mock controller")
	baud := flag.Int("serial-baud", 19200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", time.Second, "Serial read timeout (per poll)")
	commandDelay := flag.Duration("serial-command-delay", 250*time.Millisecond, "Inter-command delay after each transmitted frame")
	reconnectInterval := flag.Duration("reconnect-interval", 10*time.Second, "Delay between reconnect attempts while disconnected")
	stateTimeout := flag.Duration("state-request-timeout", 2*time.Second, "getState per-phase deadline")
	wsListen := flag.String("listen", ":8080", "Websocket listen address")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous websocket clients (0 = unlimited)")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	httpEnable := flag.Bool("http-server-enable", true, "Serve the /status HTML page on http-server-port")
	httpPort := flag.Int("http-server-port", 80, "HTTP server port for /status")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	hubBuf := flag.Int("hub-buffer", 64, "Per-client broadcast buffer (envelopes)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default xpressnet-gateway-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.commandDelay = *commandDelay
	cfg.reconnectInterval = *reconnectInterval
	cfg.stateTimeout = *stateTimeout
	cfg.wsListenAddr = *wsListen
	cfg.maxClients = *maxClients
	cfg.clientReadTO = *clientReadTO
	cfg.httpEnable = *httpEnable
	cfg.httpPort = *httpPort
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

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

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
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
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("serial-baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.reconnectInterval <= 0 {
		return fmt.Errorf("reconnect-interval must be > 0")
	}
	if c.stateTimeout <= 0 {
		return fmt.Errorf("state-request-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.httpPort <= 0 || c.httpPort > 65535 {
		return fmt.Errorf("http-server-port out of range: %d", c.httpPort)
	}
	return nil
}

// applyEnvOverrides maps the enumerated environment inputs of §6 onto the
// parsed configuration unless the corresponding flag was explicitly set
// (flag wins). Boolean & numeric parsing is lax: empty values ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["serial-device"]; !ok {
		if v, ok := get("SERIAL_DEVICE"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["serial-baud"]; !ok {
		if v, ok := get("SERIAL_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SERIAL_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["serial-command-delay"]; !ok {
		if v, ok := get("SERIAL_COMMAND_DELAY_MS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.commandDelay = time.Duration(n) * time.Millisecond
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SERIAL_COMMAND_DELAY_MS: %w", err)
			}
		}
	}
	if _, ok := set["reconnect-interval"]; !ok {
		if v, ok := get("RECONNECT_INTERVAL_MS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.reconnectInterval = time.Duration(n) * time.Millisecond
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid RECONNECT_INTERVAL_MS: %w", err)
			}
		}
	}
	if _, ok := set["state-request-timeout"]; !ok {
		if v, ok := get("STATE_REQUEST_TIMEOUT_MS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.stateTimeout = time.Duration(n) * time.Millisecond
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid STATE_REQUEST_TIMEOUT_MS: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("METRICS_ADDR"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["hub-buffer"]; !ok {
		if v, ok := get("HUB_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.hubBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid HUB_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["hub-policy"]; !ok {
		if v, ok := get("HUB_POLICY"); ok && v != "" {
			c.hubPolicy = v
		}
	}
	if _, ok := set["http-server-enable"]; !ok {
		if v, ok := get("HTTP_SERVER_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.httpEnable = true
			case "0", "false", "no", "off":
				c.httpEnable = false
			}
		}
	}
	if _, ok := set["http-server-port"]; !ok {
		if v, ok := get("HTTP_SERVER_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.httpPort = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid HTTP_SERVER_PORT: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
