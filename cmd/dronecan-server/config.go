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
	serialDev       string
	baud            int
	listenAddr      string
	serialReadTO    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	backend         string
	canIf           string
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	allowInject     bool
	sessionBuf      int
	sessionMax      int
	sessionTO       time.Duration
	mqttBroker      string
	mqttPrefix      string
	mqttQoS         int
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	serialDev := flag.String("serial", "/dev/ttyACM0", "SLCAN serial device path")
	baud := flag.Int("baud", 1000000, "Serial baud rate")
	listen := flag.String("listen", ":20100", "TCP listen address")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	hubBuf := flag.Int("hub-buffer", 512, "Per-client hub buffer (records)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	backend := flag.String("backend", "socketcan", "CAN backend: serial|socketcan (default socketcan)")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	handshakeTO := flag.Duration("handshake-timeout", 3*time.Second, "Client handshake timeout")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	allowInject := flag.Bool("allow-inject", false, "Allow TCP clients to inject frames onto the bus")
	sessionBuf := flag.Int("session-buffer", 0, "Fixed per-transfer reassembly buffer in bytes (0 = growable)")
	sessionMax := flag.Int("session-max", 256, "Maximum concurrent reassembly sessions")
	sessionTO := flag.Duration("session-timeout", 2*time.Second, "Idle reassembly session eviction timeout")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker URL (e.g., tcp://localhost:1883); empty disables publishing")
	mqttPrefix := flag.String("mqtt-prefix", "dronecan", "MQTT topic prefix for completed transfers")
	mqttQoS := flag.Int("mqtt-qos", 0, "MQTT publish QoS (0|1|2)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement (packaged systemd unit enables by default)")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default dronecan-server-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.listenAddr = *listen
	cfg.serialReadTO = *serialReadTO
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.maxClients = *maxClients
	cfg.handshakeTO = *handshakeTO
	cfg.clientReadTO = *clientReadTO
	cfg.allowInject = *allowInject
	cfg.sessionBuf = *sessionBuf
	cfg.sessionMax = *sessionMax
	cfg.sessionTO = *sessionTO
	cfg.mqttBroker = *mqttBroker
	cfg.mqttPrefix = *mqttPrefix
	cfg.mqttQoS = *mqttQoS
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
	switch c.backend {
	case "serial", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
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
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.sessionBuf < 0 {
		return fmt.Errorf("session-buffer must be >= 0")
	}
	if c.sessionMax <= 0 {
		return fmt.Errorf("session-max must be > 0")
	}
	if c.sessionTO <= 0 {
		return fmt.Errorf("session-timeout must be > 0")
	}
	if c.mqttQoS < 0 || c.mqttQoS > 2 {
		return fmt.Errorf("mqtt-qos must be 0..2 (got %d)", c.mqttQoS)
	}
	return nil
}

// applyEnvOverrides maps DRONECAN_SERVER_* environment variables to config
// fields unless a corresponding flag was explicitly set. Empty values are
// ignored. Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["serial"]; !ok {
		if v, ok := get("DRONECAN_SERVER_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("DRONECAN_SERVER_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DRONECAN_SERVER_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["listen"]; !ok {
		if v, ok := get("DRONECAN_SERVER_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["serial-read-timeout"]; !ok {
		if v, ok := get("DRONECAN_SERVER_SERIAL_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.serialReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DRONECAN_SERVER_SERIAL_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("DRONECAN_SERVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("DRONECAN_SERVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("DRONECAN_SERVER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["hub-buffer"]; !ok {
		if v, ok := get("DRONECAN_SERVER_HUB_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.hubBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DRONECAN_SERVER_HUB_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["hub-policy"]; !ok {
		if v, ok := get("DRONECAN_SERVER_HUB_POLICY"); ok && v != "" {
			c.hubPolicy = v
		}
	}
	if _, ok := set["backend"]; !ok {
		if v, ok := get("DRONECAN_SERVER_BACKEND"); ok && v != "" {
			c.backend = v
		}
	}
	if _, ok := set["can-if"]; !ok {
		if v, ok := get("DRONECAN_SERVER_IF"); ok && v != "" {
			c.canIf = v
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("DRONECAN_SERVER_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DRONECAN_SERVER_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["handshake-timeout"]; !ok {
		if v, ok := get("DRONECAN_SERVER_HANDSHAKE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.handshakeTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DRONECAN_SERVER_HANDSHAKE_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["client-read-timeout"]; !ok {
		if v, ok := get("DRONECAN_SERVER_CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.clientReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DRONECAN_SERVER_CLIENT_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["allow-inject"]; !ok {
		if v, ok := get("DRONECAN_SERVER_ALLOW_INJECT"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.allowInject = true
			case "0", "false", "no", "off":
				c.allowInject = false
			}
		}
	}
	if _, ok := set["session-buffer"]; !ok {
		if v, ok := get("DRONECAN_SERVER_SESSION_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.sessionBuf = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DRONECAN_SERVER_SESSION_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["session-max"]; !ok {
		if v, ok := get("DRONECAN_SERVER_SESSION_MAX"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.sessionMax = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DRONECAN_SERVER_SESSION_MAX: %w", err)
			}
		}
	}
	if _, ok := set["session-timeout"]; !ok {
		if v, ok := get("DRONECAN_SERVER_SESSION_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.sessionTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DRONECAN_SERVER_SESSION_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["mqtt-broker"]; !ok {
		if v, ok := get("DRONECAN_SERVER_MQTT_BROKER"); ok {
			c.mqttBroker = v
		}
	}
	if _, ok := set["mqtt-prefix"]; !ok {
		if v, ok := get("DRONECAN_SERVER_MQTT_PREFIX"); ok && v != "" {
			c.mqttPrefix = v
		}
	}
	if _, ok := set["mqtt-qos"]; !ok {
		if v, ok := get("DRONECAN_SERVER_MQTT_QOS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 2 {
				c.mqttQoS = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DRONECAN_SERVER_MQTT_QOS: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("DRONECAN_SERVER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("DRONECAN_SERVER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("DRONECAN_SERVER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DRONECAN_SERVER_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
