// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/whatsapp-relay/pkg/connector/mirror"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	DefaultListenAddr = ":3007"
	DefaultDatabase   = "auth_info.db"
	DefaultReplyText  = "Hello, how can I help?"
	DefaultMaxRetries = 5
)

// EnvPort overrides the port part of listen_addr.
const EnvPort = "PORT"

// Config holds the relay configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// Database is the sqlite file holding the paired device credentials.
	Database   string `yaml:"database"`
	UserServer string `yaml:"user_server"`
	ReplyText  string `yaml:"reply_text"`

	MaxRetries int           `yaml:"max_retries"`
	Reconnect  BackoffConfig `yaml:"reconnect"`
	// SendTimeout bounds each send attempt. Zero means no timeout.
	SendTimeout time.Duration `yaml:"send_timeout"`

	Mirror  mirror.Config     `yaml:"mirror"`
	Logging zeroconfig.Config `yaml:"logging"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills in defaults and validates the configuration.
func (c *Config) PostProcess() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.UserServer == "" {
		c.UserServer = DefaultUserServer
	}
	if c.ReplyText == "" {
		c.ReplyText = DefaultReplyText
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.Reconnect.Multiplier != 0 && c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be at least 1, got %v", c.Reconnect.Multiplier)
	}
	if c.Reconnect.MaxDelay > 0 && c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay (%s) is shorter than reconnect.initial_delay (%s)",
			c.Reconnect.MaxDelay, c.Reconnect.InitialDelay)
	}
	if c.SendTimeout < 0 {
		return fmt.Errorf("send_timeout must not be negative, got %s", c.SendTimeout)
	}
	if c.Mirror.Enabled() && c.Mirror.ChannelID == "" {
		return fmt.Errorf("mirror.channel_id is required when mirror.server_url is set")
	}
	return nil
}

// applyEnv applies the PORT override.
func (c *Config) applyEnv() {
	port := strings.TrimSpace(os.Getenv(EnvPort))
	if port == "" {
		return
	}
	host := ""
	if i := strings.LastIndex(c.ListenAddr, ":"); i >= 0 {
		host = c.ListenAddr[:i]
	}
	c.ListenAddr = host + ":" + port
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "listen_addr")
	helper.Copy(up.Str, "database")
	helper.Copy(up.Str, "user_server")
	helper.Copy(up.Str, "reply_text")
	helper.Copy(up.Int, "max_retries")
	helper.Copy(up.Str, "reconnect", "initial_delay")
	helper.Copy(up.Int|up.Float, "reconnect", "multiplier")
	helper.Copy(up.Str, "reconnect", "max_delay")
	helper.Copy(up.Bool, "reconnect", "jitter")
	helper.Copy(up.Str, "send_timeout")
	helper.Copy(up.Str, "mirror", "server_url")
	helper.Copy(up.Str, "mirror", "token")
	helper.Copy(up.Str, "mirror", "channel_id")
	helper.Copy(up.Map, "logging")
}

// Upgrader returns the upgrader that fills missing keys from ExampleConfig.
func Upgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         nil,
		Base:           ExampleConfig,
	}
}

// LoadConfig reads, upgrades and post-processes the config file at path.
// The upgraded file is written back in place.
func LoadConfig(path string) (*Config, error) {
	data, _, err := up.Do(path, true, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
