package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders cfg in the file layout Load reads.
func Template(cfg Config) ([]byte, error) {
	var raw fileConfig
	raw.Server.Listen = cfg.Server.ListenAddr
	raw.Server.Workers = cfg.Server.Workers
	raw.Server.Queue = cfg.Server.QueueDepth
	raw.Server.PollTimeout = cfg.Server.PollTimeout.String()
	raw.Server.GracePeriod = cfg.Server.GracePeriod.String()
	raw.Store.Backend = cfg.Store.Backend
	raw.Store.Path = cfg.Store.Path
	raw.Store.Admins = cfg.Store.Admins
	if raw.Store.Admins == nil {
		raw.Store.Admins = []string{}
	}
	raw.Store.Surreal.Host = cfg.Store.Surreal.Host
	raw.Store.Surreal.Port = cfg.Store.Surreal.Port
	raw.Store.Surreal.User = cfg.Store.Surreal.User
	raw.Store.Surreal.Password = cfg.Store.Surreal.Password
	raw.Store.Surreal.Namespace = cfg.Store.Surreal.Namespace
	raw.Store.Surreal.Database = cfg.Store.Surreal.Database
	raw.Admin.Listen = cfg.Admin.ListenAddr
	raw.Client.Addr = cfg.Client.Addr
	raw.Client.DialTimeout = cfg.Client.DialTimeout.String()
	raw.Client.IOTimeout = cfg.Client.IOTimeout.String()
	raw.Log.Level = cfg.Log.Level

	out, err := toml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return out, nil
}

func WriteTemplate(path string, cfg Config, overwrite bool) error {
	body, err := Template(cfg)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, body, 0o600)
}
