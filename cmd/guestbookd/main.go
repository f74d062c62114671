package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/guestbook/internal/config"
	"github.com/danmuck/guestbook/internal/daemon"
	"github.com/danmuck/guestbook/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "", "path to guestbook TOML config (defaults apply when empty)")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := config.Default()
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "guestbookd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if level, ok := logging.ParseLevel(cfg.Log.Level); ok {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("listen", cfg.Server.ListenAddr).
		Str("backend", cfg.Store.Backend).
		Str("admin", cfg.Admin.ListenAddr).
		Msg("guestbookd starting")
	if err := daemon.New(cfg).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "guestbookd: %v\n", err)
		os.Exit(1)
	}
}
