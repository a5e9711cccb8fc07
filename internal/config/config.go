// Package config loads the client configuration from an optional YAML file
// and command line flags. Flags take precedence over the file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
)

type Config struct {
	URL     string `yaml:"url"`
	Session string `yaml:"session"`

	ICEServers []negotiation.ICEServer `yaml:"ice_servers"`

	LogLevel    string        `yaml:"log_level"`
	AutoRestart bool          `yaml:"auto_restart"`
	Debounce    time.Duration `yaml:"debounce"`
	MetricsAddr string        `yaml:"metrics_addr"`

	// Interval between test messages on the data channel.
	SendInterval time.Duration `yaml:"send_interval"`
}

func Default() *Config {
	return &Config{
		URL:     "ws://localhost:8080",
		Session: "session",
		ICEServers: []negotiation.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		LogLevel:     "info",
		AutoRestart:  true,
		Debounce:     50 * time.Millisecond,
		SendInterval: time.Second,
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Parse builds the configuration from the command line arguments, without
// the program name.
func Parse(name string, args []string) (*Config, error) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)

	def := Default()
	path := flags.StringP("config", "c", "", "Path to YAML configuration file")
	signalingURL := flags.String("url", def.URL, "Signaling URL")
	session := flags.String("name", def.Session, "Name of session")
	iceServers := flags.StringSlice("ice-server", nil, "ICE server URL, may be repeated")
	logLevel := flags.String("log-level", def.LogLevel, "Log level")
	autoRestart := flags.Bool("auto-restart", def.AutoRestart, "Restart ICE when the connection fails")
	debounce := flags.Duration("debounce", def.Debounce, "Coalescing period for negotiationneeded events")
	metricsAddr := flags.String("metrics-addr", def.MetricsAddr, "Address to expose metrics on")
	sendInterval := flags.Duration("send-interval", def.SendInterval, "Interval between test messages")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg := def
	if *path != "" {
		var err error
		if cfg, err = Load(*path); err != nil {
			return nil, err
		}
	}

	if flags.Changed("url") {
		cfg.URL = *signalingURL
	}
	if flags.Changed("name") {
		cfg.Session = *session
	}
	if flags.Changed("ice-server") {
		cfg.ICEServers = nil
		for _, u := range *iceServers {
			cfg.ICEServers = append(cfg.ICEServers, negotiation.ICEServer{
				URLs: []string{u},
			})
		}
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flags.Changed("auto-restart") {
		cfg.AutoRestart = *autoRestart
	}
	if flags.Changed("debounce") {
		cfg.Debounce = *debounce
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = *metricsAddr
	}
	if flags.Changed("send-interval") {
		cfg.SendInterval = *sendInterval
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Session == "" || strings.Contains(c.Session, "/") {
		return fmt.Errorf("invalid session name: %q", c.Session)
	}

	if _, err := c.SessionURL(); err != nil {
		return err
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	for _, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ICE server without URLs")
		}
	}

	if c.SendInterval <= 0 {
		return fmt.Errorf("send interval must be positive")
	}

	return nil
}

// SessionURL is the websocket URL of the session on the relay.
func (c *Config) SessionURL() (*url.URL, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("invalid signaling URL scheme: %s", u.Scheme)
	}

	u.Path = "/" + c.Session

	return u, nil
}

func (c *Config) TransportConfiguration() negotiation.TransportConfiguration {
	return negotiation.TransportConfiguration{
		ICEServers: c.ICEServers,
	}
}
