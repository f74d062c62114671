package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/guestbook/internal/observability"
	"github.com/danmuck/guestbook/internal/store"
	"github.com/rs/zerolog"
)

var (
	ErrLifecycleOrder   = errors.New("server: invalid lifecycle transition")
	ErrStoreUnreachable = errors.New("server: store unreachable")
	ErrInvalidConfig    = errors.New("server: invalid config")
)

// State is the server lifecycle phase.
type State int32

const (
	StateStopped State = iota
	StateListening
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateListening:
		return "listening"
	case StateTerminating:
		return "terminating"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Config struct {
	Addr        string
	Workers     int
	QueueDepth  int
	PollTimeout time.Duration
	GracePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:        ":9000",
		Workers:     10,
		QueueDepth:  64,
		PollTimeout: 500 * time.Millisecond,
		GracePeriod: 10 * time.Second,
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: empty listen address", ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.PollTimeout <= 0 || c.GracePeriod <= 0 {
		return fmt.Errorf("%w: poll timeout and grace period must be positive", ErrInvalidConfig)
	}
	return nil
}

// Stats is a point-in-time view for the admin surface.
type Stats struct {
	State   State
	Addr    string
	Workers int
	Busy    int
	Queued  int
	Uptime  time.Duration
}

// Server accepts connections and hands each to a worker pool running a
// Handler. The lifecycle is driven by Start and Terminate; the accept loop
// goroutine polls for termination on every accept timeout.
type Server struct {
	cfg     Config
	store   store.Store
	handler *Handler
	log     zerolog.Logger
	backoff BackoffConfig

	terminate atomic.Bool

	mu        sync.RWMutex
	state     State
	addr      net.Addr
	pool      *Pool
	done      chan struct{}
	startedAt time.Time
}

func New(cfg Config, st store.Store, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		handler: NewHandler(st, logger),
		log:     logger,
		backoff: defaultAcceptBackoff(),
		state:   StateStopped,
	}
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrLifecycleOrder, from, to)
}

// Start pings the store, opens the listener and launches the accept loop.
// It is only valid from StateStopped.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return transitionError(s.state, StateListening)
	}
	if err := s.cfg.validate(); err != nil {
		return err
	}
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnreachable, err)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return fmt.Errorf("server: listener %T has no accept deadline", ln)
	}

	s.terminate.Store(false)
	s.pool = NewPool(s.cfg.Workers, s.cfg.QueueDepth)
	s.addr = tcp.Addr()
	s.done = make(chan struct{})
	s.startedAt = time.Now()
	s.state = StateListening
	s.log.Info().
		Str("addr", s.addr.String()).
		Int("workers", s.cfg.Workers).
		Int("queue", s.cfg.QueueDepth).
		Msg("server listening")

	go s.acceptLoop(tcp, s.pool, s.done)
	return nil
}

// Terminate asks the accept loop to stop. Safe from any goroutine and in
// any state; the request is observed on the next poll tick.
func (s *Server) Terminate() {
	s.terminate.Store(true)
}

// Wait blocks until a started server is back in StateStopped.
func (s *Server) Wait() {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (s *Server) IsRunning() bool {
	return s.State() != StateStopped
}

func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Addr is the bound listener address, or nil before the first Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{State: s.state, Workers: s.cfg.Workers}
	if s.addr != nil {
		st.Addr = s.addr.String()
	}
	if s.state != StateStopped {
		st.Uptime = time.Since(s.startedAt)
		st.Busy = s.pool.Busy()
		st.Queued = s.pool.Queued()
	}
	return st
}

func (s *Server) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Debug().Str("from", s.state.String()).Str("to", state.String()).Msg("server state")
	s.state = state
}

// acceptLoop holds at most one accepted connection the pool has no room
// for. While it is held nothing else is accepted, so further clients wait
// in the listen backlog instead of being dropped.
func (s *Server) acceptLoop(ln *net.TCPListener, pool *Pool, done chan struct{}) {
	var (
		held     net.Conn
		failures int
	)
	for !s.terminate.Load() {
		if held == nil {
			if err := ln.SetDeadline(time.Now().Add(s.cfg.PollTimeout)); err != nil {
				s.log.Warn().Err(err).Msg("set accept deadline")
			}
			conn, err := ln.Accept()
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					failures = 0
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					s.log.Warn().Msg("listener closed outside shutdown")
					break
				}
				failures++
				observability.RecordConnection(observability.OutcomeError)
				s.log.Warn().Err(err).Int("failures", failures).Msg("accept")
				time.Sleep(min(NextBackoffDelay(s.backoff, failures), s.cfg.PollTimeout))
				continue
			}
			failures = 0
			held = conn
		}

		conn := held
		err := pool.SubmitWait(func(ctx context.Context) { s.handler.Serve(ctx, conn) }, s.cfg.PollTimeout)
		switch {
		case err == nil:
			held = nil
			observability.RecordConnection(observability.OutcomeAccepted)
		case errors.Is(err, ErrQueueFull):
			s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("workers saturated, holding connection")
		default:
			held = nil
			s.reject(conn, err)
		}
	}
	if held != nil {
		s.reject(held, ErrPoolClosed)
	}
	s.shutdown(ln, pool)
	close(done)
}

func (s *Server) reject(conn net.Conn, err error) {
	observability.RecordConnection(observability.OutcomeRejected)
	s.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("submit connection")
	_ = conn.Close()
}

// shutdown drains the pool in grace-period rounds. After the first round
// elapses the pool context is cancelled, which expires every in-flight
// connection's deadlines.
func (s *Server) shutdown(ln *net.TCPListener, pool *Pool) {
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug().Err(err).Msg("close listener")
	}
	s.setState(StateTerminating)
	pool.Shutdown()
	for round := 1; !pool.AwaitTermination(s.cfg.GracePeriod); round++ {
		s.log.Warn().
			Int("round", round).
			Int("busy", pool.Busy()).
			Int("queued", pool.Queued()).
			Msg("grace period elapsed, cancelling in-flight handlers")
		pool.Cancel()
	}
	pool.Cancel()
	s.setState(StateStopped)
	s.log.Info().Msg("server stopped")
}
