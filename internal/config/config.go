// Package config loads the client's flat key=value configuration file.
package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the options a user may override via the config file.
type Config struct {
	PeerIDPrefix      string `mapstructure:"peer_id_prefix"`
	ListenPort        int    `mapstructure:"listen_port"`
	MaxConnections    int    `mapstructure:"max_connections"`
	PieceTimeoutSec   int    `mapstructure:"piece_timeout"`
	RequestTimeoutSec int    `mapstructure:"request_timeout"`
	MaxRetries        int    `mapstructure:"max_retries"`
	DownloadDirectory string `mapstructure:"download_directory"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		PeerIDPrefix:      "-RB0001-",
		ListenPort:        6881,
		MaxConnections:    50,
		PieceTimeoutSec:   30,
		RequestTimeoutSec: 10,
		MaxRetries:        3,
		DownloadDirectory: ".",
	}
}

// Load reads a flat key=value config file at path, overriding defaults
// for any key present. A missing file is not an error: the defaults are
// returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return cfg, fmt.Errorf("config: expanding path: %w", err)
	}
	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(expanded)
	v.SetConfigType("properties")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", expanded, err)
	}

	applyIfSet(v, "peer_id_prefix", &cfg.PeerIDPrefix)
	applyIfSet(v, "listen_port", &cfg.ListenPort)
	applyIfSet(v, "max_connections", &cfg.MaxConnections)
	applyIfSet(v, "piece_timeout", &cfg.PieceTimeoutSec)
	applyIfSet(v, "request_timeout", &cfg.RequestTimeoutSec)
	applyIfSet(v, "max_retries", &cfg.MaxRetries)
	applyIfSet(v, "download_directory", &cfg.DownloadDirectory)
	return cfg, nil
}

func applyIfSet(v *viper.Viper, key string, dst any) {
	if !v.IsSet(key) {
		return
	}
	switch d := dst.(type) {
	case *string:
		*d = v.GetString(key)
	case *int:
		*d = v.GetInt(key)
	}
}

// WriteDefault writes the default configuration to path in the flat
// key=value format, unless a file already exists there, so a first run
// leaves behind an editable config file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	c := Default()
	body := fmt.Sprintf(
		"peer_id_prefix=%s\nlisten_port=%d\nmax_connections=%d\npiece_timeout=%d\nrequest_timeout=%d\nmax_retries=%d\ndownload_directory=%s\n",
		c.PeerIDPrefix, c.ListenPort, c.MaxConnections, c.PieceTimeoutSec, c.RequestTimeoutSec, c.MaxRetries, c.DownloadDirectory,
	)
	return os.WriteFile(path, []byte(body), 0o644)
}
