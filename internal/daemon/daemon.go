// Package daemon wires configuration, the record store, the protocol server
// and the admin surface into one process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/guestbook/internal/admin"
	"github.com/danmuck/guestbook/internal/config"
	"github.com/danmuck/guestbook/internal/guest"
	"github.com/danmuck/guestbook/internal/observability"
	"github.com/danmuck/guestbook/internal/server"
	"github.com/danmuck/guestbook/internal/store"
	"github.com/danmuck/guestbook/internal/store/boltstore"
	"github.com/danmuck/guestbook/internal/store/memstore"
	"github.com/danmuck/guestbook/internal/store/surrealstore"
	"github.com/rs/zerolog/log"
)

var ErrNoAdminSupport = errors.New("daemon: store backend cannot grant admin")

type Service struct {
	cfg config.Config

	// ready receives the server once it is listening. Tests only.
	ready chan *server.Server
}

func New(cfg config.Config) *Service {
	return &Service{cfg: cfg}
}

// Run serves until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the daemon until ctx is done, then terminates the server and
// the admin surface before closing the store.
func (s *Service) Serve(ctx context.Context) error {
	observability.RegisterMetrics()

	st, err := OpenStore(ctx, s.cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	if err := SeedAdmins(ctx, st, s.cfg.Store.Admins); err != nil {
		return err
	}

	srv := server.New(ServerConfig(s.cfg.Server), st, observability.ComponentLogger("server"))
	if err := srv.Start(ctx); err != nil {
		return err
	}

	adminErr := make(chan error, 1)
	var surface *admin.Admin
	if addr := strings.TrimSpace(s.cfg.Admin.ListenAddr); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			srv.Terminate()
			srv.Wait()
			return fmt.Errorf("daemon: admin listen %s: %w", addr, err)
		}
		surface = admin.New(addr, srv)
		go func() { adminErr <- surface.Serve(ln) }()
	}

	if s.ready != nil {
		s.ready <- srv
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-adminErr:
		if err != nil {
			runErr = fmt.Errorf("daemon: admin surface: %w", err)
		}
	}

	srv.Terminate()
	srv.Wait()
	if surface != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := surface.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("admin shutdown")
		}
	}
	return runErr
}

func ServerConfig(cfg config.ServerConfig) server.Config {
	return server.Config{
		Addr:        cfg.ListenAddr,
		Workers:     cfg.Workers,
		QueueDepth:  cfg.QueueDepth,
		PollTimeout: cfg.PollTimeout,
		GracePeriod: cfg.GracePeriod,
	}
}

// OpenStore opens the configured backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memstore.New(), nil
	case config.BackendBolt:
		st, err := boltstore.Open(cfg.Path, boltstore.Options{})
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendSurreal:
		st, err := surrealstore.Open(ctx, surrealstore.Config{
			Host:      cfg.Surreal.Host,
			Port:      cfg.Surreal.Port,
			User:      cfg.Surreal.User,
			Password:  cfg.Surreal.Password,
			Namespace: cfg.Surreal.Namespace,
			Database:  cfg.Surreal.Database,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("daemon: unknown store backend %q", cfg.Backend)
	}
}

// SeedAdmins grants the admin flag to each email, registering it first
// (password = email) when no record exists.
func SeedAdmins(ctx context.Context, st store.Store, emails []string) error {
	if len(emails) == 0 {
		return nil
	}
	granter, ok := st.(store.AdminGranter)
	if !ok {
		return ErrNoAdminSupport
	}
	for _, email := range emails {
		g, err := guest.New(guest.Fields{Email: email, Password: email})
		if err != nil {
			return fmt.Errorf("daemon: admin %q: %w", email, err)
		}
		exists, err := st.Exists(ctx, g.ID())
		if err != nil {
			return err
		}
		if !exists {
			if err := st.Create(ctx, g); err != nil && !errors.Is(err, store.ErrDuplicate) {
				return err
			}
		}
		if err := granter.GrantAdmin(ctx, g.ID()); err != nil {
			return err
		}
		log.Info().Str("email", g.ID()).Bool("created", !exists).Msg("admin seeded")
	}
	return nil
}
