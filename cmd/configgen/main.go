package main

import (
	"flag"
	"log"

	"github.com/danmuck/guestbook/internal/config"
)

const defaultPath = "cmd/guestbookd/config.toml"

func main() {
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	backend := flag.String("backend", config.BackendMemory, "store backend written to the template: memory|bolt|surreal")
	admin := flag.String("admin", "", "admin HTTP listen address written to the template")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if _, err := config.Load(*input); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated guestbook config at %s", *input)
		return
	}

	cfg := config.Default()
	cfg.Store.Backend = *backend
	cfg.Admin.ListenAddr = *admin
	if err := config.Validate(cfg); err != nil {
		log.Fatal(err)
	}
	if err := config.WriteTemplate(*output, cfg, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote guestbook config template to %s", *output)
}
