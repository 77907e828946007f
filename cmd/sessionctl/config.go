package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CLIConfig is the persistent CLI configuration.
type CLIConfig struct {
	Address   string `yaml:"address"`
	APIKey    string `yaml:"api_key"`
	TLSCACert string `yaml:"tls_ca_cert"`
}

var cfg CLIConfig

// configPath returns the path to the CLI config file.
func configPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sessionguard", "config.yaml")
}

const defaultAddress = "http://127.0.0.1:8300"

// loadConfig reads ~/.sessionguard/config.yaml over the defaults. A missing
// file is fine; an unreadable or malformed one is reported and ignored.
func loadConfig() {
	cfg = CLIConfig{Address: defaultAddress}
	path := configPath()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err == nil {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		printError(fmt.Sprintf("ignoring %s: %v", path, err))
		cfg = CLIConfig{Address: defaultAddress}
	}
}

// saveConfig persists the CLI config to disk.
func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
