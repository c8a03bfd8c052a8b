// Package config centralizes runtime configuration for the tdm node and
// client. It loads a TOML or JSON file over built-in defaults and applies
// a few environment overrides. A missing file is not an error: both
// binaries run against a local node with defaults. The file is chosen
// with --config or the CONFIG_FILE env var.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is used when neither a flag nor CONFIG_FILE names a file.
const DefaultFile = "tdm.toml"

// Duration is a time.Duration written as text ("500ms", "2s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds configurable options for the node and the client.
type Config struct {
	// Client
	PackageID    string   `json:"package_id" toml:"package_id"`
	RPCURL       string   `json:"rpc_url" toml:"rpc_url"`
	WSURL        string   `json:"ws_url" toml:"ws_url"`
	KeyFile      string   `json:"key_file" toml:"key_file"`
	RefreshDelay Duration `json:"refresh_delay" toml:"refresh_delay"`
	PollInterval Duration `json:"poll_interval" toml:"poll_interval"`

	// Node
	DataFile      string   `json:"data_file" toml:"data_file"`
	Port          int      `json:"port" toml:"port"`
	ChainID       string   `json:"chain_id" toml:"chain_id"`
	BlockInterval Duration `json:"block_interval" toml:"block_interval"`
	EnablePush    bool     `json:"enable_push" toml:"enable_push"`
	MaxBackups    int      `json:"max_backups" toml:"max_backups"`
	DocsDir       string   `json:"docs_dir" toml:"docs_dir"`
}

var cfg *Config

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		PackageID:     "",
		RPCURL:        "http://localhost:26657",
		WSURL:         "",
		KeyFile:       "tdm_key.pem",
		RefreshDelay:  Duration{2 * time.Second},
		PollInterval:  Duration{5 * time.Second},
		DataFile:      "ledger.db",
		Port:          26657,
		ChainID:       "tdm-local",
		BlockInterval: Duration{500 * time.Millisecond},
		EnablePush:    true,
		MaxBackups:    20,
	}
}

// ResolvePath picks the config file: explicit, then CONFIG_FILE, then
// DefaultFile.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	return DefaultFile
}

// Load reads the file at path over the defaults. A missing or unreadable
// file yields defaults and no error. A file that fails to parse yields
// defaults together with the parse error so the caller can warn.
func Load(path string) (*Config, error) {
	def := Defaults()

	c, err := decodeFile(path, def)
	if err != nil {
		def.applyEnv()
		def.mergeDefaults()
		cfg = def
		return cfg, err
	}

	c.applyEnv()
	c.mergeDefaults()
	cfg = c
	return cfg, nil
}

func decodeFile(path string, def *Config) (*Config, error) {
	if path == "" {
		return def, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		// file missing or unreadable -> use defaults
		return def, nil
	}

	c := *def
	if isTOML(path) {
		if _, err := toml.Decode(string(b), &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &c, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// merge defaults for zero-value fields
func (c *Config) mergeDefaults() {
	def := Defaults()
	if c.RPCURL == "" {
		c.RPCURL = def.RPCURL
	}
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.RefreshDelay.Duration <= 0 {
		c.RefreshDelay = def.RefreshDelay
	}
	if c.PollInterval.Duration <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.DataFile == "" {
		c.DataFile = def.DataFile
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.ChainID == "" {
		c.ChainID = def.ChainID
	}
	if c.BlockInterval.Duration <= 0 {
		c.BlockInterval = def.BlockInterval
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = def.MaxBackups
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TDM_PACKAGE_ID"); v != "" {
		c.PackageID = v
	}
	if v := os.Getenv("TDM_RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
}

// Configured reports whether a deployed package id is known. Without one
// the client stays in its setup state.
func (c *Config) Configured() bool {
	return strings.TrimSpace(c.PackageID) != ""
}

// Save writes c to path, as TOML or JSON by extension.
func Save(c *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isTOML(path) {
		return toml.NewEncoder(f).Encode(c)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// Exists reports whether a config file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

// Get returns the loaded configuration. If Load hasn't been called yet,
// it returns defaults.
func Get() *Config {
	if cfg == nil {
		Load("")
	}
	return cfg
}
