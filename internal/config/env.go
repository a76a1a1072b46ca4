package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/1ureka/wstap/internal/util"
)

// EnvPrefix marks the environment variables read by ApplyEnv.
const EnvPrefix = "WSTAP_"

// LoadEnv loads WSTAP_* environment variables from a .env file.
// Only keys prefixed with "WSTAP_" are loaded; existing env vars are not overwritten.
func LoadEnv(name string) {
	data, err := os.ReadFile(name)
	if err != nil {
		return
	}
	for _, ln := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(ln)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			util.LogWarning("env: malformed line: %s", line)
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := strings.TrimSpace(line[i+1:])
		v = strings.Trim(v, "\"'")
		if !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		if os.Getenv(k) == "" {
			_ = os.Setenv(k, v)
		}
	}
}

// ApplyEnv overlays the WSTAP_* variables present in the environment onto c.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"DEVICE":  &c.Device,
		"SERVER":  &c.ServerURL,
		"EXEC":    &c.Exec,
		"KEY":     &c.KeyFile,
		"CRT":     &c.CertFile,
		"METRICS": &c.MetricsAddr,
	}
	bools := map[string]*bool{
		"NO_VERIFY": &c.NoVerify,
		"BRIDGE":    &c.Bridge,
		"STRICT":    &c.Strict,
		"DEBUG":     &c.Debug,
	}
	durations := map[string]*time.Duration{
		"KEEPALIVE":         &c.Keepalive,
		"HANDSHAKE_TIMEOUT": &c.HandshakeTimeout,
		"WRITE_TIMEOUT":     &c.WriteTimeout,
	}

	for k, p := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + k); ok {
			*p = v
		}
	}
	for k, p := range bools {
		if v, ok := os.LookupEnv(EnvPrefix + k); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, k, err)
			}
			*p = b
		}
	}
	for k, p := range durations {
		if v, ok := os.LookupEnv(EnvPrefix + k); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, k, err)
			}
			*p = d
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "MTU"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMTU: %w", EnvPrefix, err)
		}
		c.MTU = n
	}

	return nil
}
