// Package config holds the client configuration and its loaders.
//
// Values are layered, lowest precedence first: Default, a YAML file,
// WSTAP_* environment variables (optionally seeded from a .env file), and
// finally command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/wstap/internal/protocol"
	"github.com/1ureka/wstap/internal/transport"
)

const (
	DefaultMTU              = 1500
	DefaultKeepalive        = 17 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultWriteTimeout     = 30 * time.Second

	minMTU = 68
	// largest device read that still fits a 16-bit frame length
	maxMTU = protocol.MaxPayload - 14
)

// Config is read-only once the client starts, except MAC, which is refreshed
// once after the post-up hook.
type Config struct {
	Device    string `yaml:"device"`
	ServerURL string `yaml:"server"`
	Exec      string `yaml:"exec"`

	KeyFile  string `yaml:"key"`
	CertFile string `yaml:"crt"`
	NoVerify bool   `yaml:"no_verify"`

	Bridge bool `yaml:"bridge"`
	Strict bool `yaml:"strict"`

	MTU              int           `yaml:"mtu"`
	Keepalive        time.Duration `yaml:"keepalive"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`

	MetricsAddr string `yaml:"metrics"`
	Debug       bool   `yaml:"debug"`

	MAC net.HardwareAddr `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MTU:              DefaultMTU,
		Keepalive:        DefaultKeepalive,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the file
// keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Device == "" {
		errs = append(errs, errors.New("tap device name is required"))
	}
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server url is required"))
	} else if _, err := transport.ParseURL(c.ServerURL); err != nil {
		errs = append(errs, err)
	}
	if (c.KeyFile == "") != (c.CertFile == "") {
		errs = append(errs, errors.New("--key and --crt must be given together"))
	}
	if c.MTU < minMTU || c.MTU > maxMTU {
		errs = append(errs, fmt.Errorf("mtu %d out of range [%d, %d]", c.MTU, minMTU, maxMTU))
	}
	if c.Keepalive <= 0 {
		errs = append(errs, fmt.Errorf("keepalive must be positive, got %v", c.Keepalive))
	}
	if c.HandshakeTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}

	return errors.Join(errs...)
}
