package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.fleachat/config.toml.
type Config struct {
	// APIBaseURL is the marketplace messaging REST endpoint,
	// e.g. "https://api.openflea.example".
	APIBaseURL string `toml:"api_base_url"`
	// BrokerURL is the realtime broker websocket endpoint,
	// e.g. "wss://broker.openflea.example/ws".
	BrokerURL string `toml:"broker_url"`
	// CredentialsFile points at the bearer credentials issued by the
	// external auth flow. Relative paths resolve against the session dir.
	CredentialsFile string `toml:"credentials_file"`

	DefaultSession string `toml:"default_session"`
}

// Load reads config from the given path. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
