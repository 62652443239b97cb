// Package config loads the daemon's YAML configuration: socket
// endpoints, the local CPU identity, focus matrix resource path, player/
// recorder node pool, and persistence settings.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openvela/mediad/internal/errors"
)

// Config is the daemon's full runtime configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	LocalCPU   string `yaml:"local_cpu"`
	RuntimeDir string `yaml:"runtime_dir"`
	TCPPort    int    `yaml:"tcp_port"` // disabled if < 0

	FocusMatrixPath    string   `yaml:"focus_matrix_path"`
	FocusStackCapacity int      `yaml:"focus_stack_capacity"`
	PersistDir         string   `yaml:"persist_dir"`
	PersistDebounceMS  int      `yaml:"persist_debounce_ms"`
	MetricsListenAddr  string   `yaml:"metrics_listen_addr"`
	PlayerNodeNames    []string `yaml:"player_node_names"`
	RecorderNodeNames  []string `yaml:"recorder_node_names"`
}

// Default returns the configuration used when no file is supplied,
// matching the values a default focus matrix resource file assumes.
func Default() Config {
	return Config{
		LogLevel:           "info",
		LocalCPU:           "cpu0",
		RuntimeDir:         "/tmp/mediad",
		TCPPort:            -1,
		FocusMatrixPath:    "",
		FocusStackCapacity: 8,
		PersistDir:         "/tmp/mediad/kv",
		PersistDebounceMS:  1000,
		MetricsListenAddr:  "",
		PlayerNodeNames:    []string{"player0", "player1"},
		RecorderNodeNames:  []string{"recorder0"},
	}
}

// PersistDebounce is PersistDebounceMS as a time.Duration.
func (c Config) PersistDebounce() time.Duration {
	return time.Duration(c.PersistDebounceMS) * time.Millisecond
}

// Load reads and parses a YAML file at path, starting from Default()
// and overlaying whatever fields the file sets.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.NewIOError("config.load", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.NewProtocolError("config.parse", err)
	}
	return cfg, nil
}
