package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Store backends.
const (
	BackendMemory  = "memory"
	BackendBolt    = "bolt"
	BackendSurreal = "surreal"
)

const (
	MinPollTimeout = 10 * time.Millisecond
	MaxPollTimeout = 10 * time.Second
)

type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Admin  AdminConfig
	Client ClientConfig
	Log    LogConfig
}

type ServerConfig struct {
	ListenAddr  string
	Workers     int
	QueueDepth  int
	PollTimeout time.Duration
	GracePeriod time.Duration
}

type StoreConfig struct {
	Backend string
	Path    string
	Admins  []string
	Surreal SurrealConfig
}

type SurrealConfig struct {
	Host      string
	Port      string
	User      string
	Password  string
	Namespace string
	Database  string
}

// AdminConfig enables the HTTP admin surface when ListenAddr is set.
type AdminConfig struct {
	ListenAddr string
}

type ClientConfig struct {
	Addr        string
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

type LogConfig struct {
	Level string
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:  ":9000",
			Workers:     10,
			QueueDepth:  64,
			PollTimeout: 500 * time.Millisecond,
			GracePeriod: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Path:    "guestbook.db",
			Surreal: SurrealConfig{
				Host:      "localhost",
				Port:      "8000",
				User:      "root",
				Password:  "root",
				Namespace: "guestbook",
				Database:  "guestbook",
			},
		},
		Client: ClientConfig{
			Addr:        "localhost:9000",
			DialTimeout: 5 * time.Second,
			IOTimeout:   15 * time.Second,
		},
	}
}

// fileConfig mirrors the TOML layout. Durations are strings.
type fileConfig struct {
	Server struct {
		Listen      string `toml:"listen"`
		Workers     int    `toml:"workers"`
		Queue       int    `toml:"queue"`
		PollTimeout string `toml:"poll_timeout"`
		GracePeriod string `toml:"grace_period"`
	} `toml:"server"`
	Store struct {
		Backend string   `toml:"backend"`
		Path    string   `toml:"path"`
		Admins  []string `toml:"admins"`
		Surreal struct {
			Host      string `toml:"host"`
			Port      string `toml:"port"`
			User      string `toml:"user"`
			Password  string `toml:"password"`
			Namespace string `toml:"namespace"`
			Database  string `toml:"database"`
		} `toml:"surreal"`
	} `toml:"store"`
	Admin struct {
		Listen string `toml:"listen"`
	} `toml:"admin"`
	Client struct {
		Addr        string `toml:"addr"`
		DialTimeout string `toml:"dial_timeout"`
		IOTimeout   string `toml:"io_timeout"`
	} `toml:"client"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// Load reads path and applies every key it defines over Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %s", undecoded[0])
	}

	str := func(dst *string, v string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(dst *time.Duration, v string, key ...string) error {
		if !meta.IsDefined(key...) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
		}
		*dst = d
		return nil
	}

	str(&cfg.Server.ListenAddr, raw.Server.Listen, "server", "listen")
	if meta.IsDefined("server", "workers") {
		cfg.Server.Workers = raw.Server.Workers
	}
	if meta.IsDefined("server", "queue") {
		cfg.Server.QueueDepth = raw.Server.Queue
	}
	if err := dur(&cfg.Server.PollTimeout, raw.Server.PollTimeout, "server", "poll_timeout"); err != nil {
		return Config{}, err
	}
	if err := dur(&cfg.Server.GracePeriod, raw.Server.GracePeriod, "server", "grace_period"); err != nil {
		return Config{}, err
	}

	str(&cfg.Store.Backend, raw.Store.Backend, "store", "backend")
	str(&cfg.Store.Path, raw.Store.Path, "store", "path")
	if meta.IsDefined("store", "admins") {
		cfg.Store.Admins = normalizeList(raw.Store.Admins)
	}
	str(&cfg.Store.Surreal.Host, raw.Store.Surreal.Host, "store", "surreal", "host")
	str(&cfg.Store.Surreal.Port, raw.Store.Surreal.Port, "store", "surreal", "port")
	str(&cfg.Store.Surreal.User, raw.Store.Surreal.User, "store", "surreal", "user")
	str(&cfg.Store.Surreal.Password, raw.Store.Surreal.Password, "store", "surreal", "password")
	str(&cfg.Store.Surreal.Namespace, raw.Store.Surreal.Namespace, "store", "surreal", "namespace")
	str(&cfg.Store.Surreal.Database, raw.Store.Surreal.Database, "store", "surreal", "database")

	str(&cfg.Admin.ListenAddr, raw.Admin.Listen, "admin", "listen")

	str(&cfg.Client.Addr, raw.Client.Addr, "client", "addr")
	if err := dur(&cfg.Client.DialTimeout, raw.Client.DialTimeout, "client", "dial_timeout"); err != nil {
		return Config{}, err
	}
	if err := dur(&cfg.Client.IOTimeout, raw.Client.IOTimeout, "client", "io_timeout"); err != nil {
		return Config{}, err
	}

	str(&cfg.Log.Level, raw.Log.Level, "log", "level")

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		return fmt.Errorf("server config missing listen")
	}
	if cfg.Server.Workers < 1 {
		return fmt.Errorf("server workers must be positive, got %d", cfg.Server.Workers)
	}
	if cfg.Server.QueueDepth < 0 {
		return fmt.Errorf("server queue must not be negative, got %d", cfg.Server.QueueDepth)
	}
	if cfg.Server.PollTimeout < MinPollTimeout || cfg.Server.PollTimeout > MaxPollTimeout {
		return fmt.Errorf("server poll_timeout %s outside [%s, %s]", cfg.Server.PollTimeout, MinPollTimeout, MaxPollTimeout)
	}
	if cfg.Server.GracePeriod <= 0 {
		return fmt.Errorf("server grace_period must be positive")
	}
	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendBolt:
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return fmt.Errorf("store path required for bolt backend")
		}
	case BackendSurreal:
		s := cfg.Store.Surreal
		if s.Host == "" || s.Port == "" || s.Namespace == "" || s.Database == "" {
			return fmt.Errorf("store surreal host, port, namespace and database are required")
		}
	default:
		return fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
	if cfg.Client.DialTimeout <= 0 || cfg.Client.IOTimeout <= 0 {
		return fmt.Errorf("client timeouts must be positive")
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
