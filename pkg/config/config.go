// Package config loads the vmarkd YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the standard daemon configuration location.
const DefaultPath = "/etc/vmark/vmarkd.yaml"

// Duration decodes YAML duration strings ("200ms", "1s") and bare
// integers (milliseconds).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := value.Decode(&ms); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the daemon configuration.
type Config struct {
	// StateDir holds the forwarding table snapshot. Defaults to ~/.vmark.
	StateDir string `yaml:"state_dir"`
	// APIAddr is the HTTP API listen address; empty disables the API.
	APIAddr string `yaml:"api_addr"`
	// BPFPinDir is the bpffs directory for pinned maps and links.
	BPFPinDir string `yaml:"bpf_pin_dir"`
	// XDPObjectPath is the compiled forwarding program.
	XDPObjectPath string `yaml:"xdp_object_path"`

	TWAMP TWAMPDefaults `yaml:"twamp"`
}

// TWAMPDefaults are applied to sessions that omit the options.
type TWAMPDefaults struct {
	Count    int      `yaml:"count"`
	Interval Duration `yaml:"interval"`
	Padding  int      `yaml:"padding"`
	TTL      int      `yaml:"ttl"`
	TOS      int      `yaml:"tos"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/var/lib/vmark"
	}
	return &Config{
		StateDir:      filepath.Join(home, ".vmark"),
		APIAddr:       "127.0.0.1:8080",
		BPFPinDir:     "/sys/fs/bpf/vmark",
		XDPObjectPath: "/usr/lib/vmark/xdp_forwarding.o",
		TWAMP: TWAMPDefaults{
			Count:    100,
			Interval: Duration(100 * time.Millisecond),
			TTL:      64,
		},
	}
}

// Load reads path and overlays it on the defaults. A missing file yields
// the defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
