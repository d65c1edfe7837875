package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Collection names used by the matcher and the write-back queue.
const (
	FolderCollection = "smart_folders"
	FileCollection   = "file_vectors"
)

type state int

const (
	stateUninitialized state = iota
	stateInitializing
	stateInitialized
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateInitializing:
		return "initializing"
	case stateInitialized:
		return "initialized"
	case stateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// ServiceConfig configures the index lifecycle.
type ServiceConfig struct {
	Host string
	Port int
	// Binary is the index executable to spawn when no instance answers the
	// heartbeat. Empty means attach-only.
	Binary string
	// DataDir is passed to the spawned process for persistence.
	DataDir string
	// InitTimeout bounds one full initialization attempt.
	InitTimeout time.Duration
	// HealthInterval is the period of the background health check. Zero
	// disables the background loop.
	HealthInterval time.Duration
	Tenant         string
	Database       string
	Logger         *slog.Logger
}

func (c *ServiceConfig) defaults() {
	if c.InitTimeout <= 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service owns the index process handle and client, guaranteeing exactly
// one initialization sequence runs even under concurrent callers. It is
// constructed once at the composition root and passed by reference; there
// is no package-level instance.
type Service struct {
	cfg    ServiceConfig
	client *Client
	logger *slog.Logger

	mu      sync.Mutex
	state   state
	initErr error
	// inflight is non-nil while an initialization runs; concurrent callers
	// wait on it instead of starting a second sequence.
	inflight chan struct{}

	proc *exec.Cmd
}

// NewService creates a Service. Nothing is started until Ready or Run is
// called.
func NewService(cfg ServiceConfig) *Service {
	cfg.defaults()
	return &Service{
		cfg:    cfg,
		client: NewClient(fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port), cfg.Tenant, cfg.Database),
		logger: cfg.Logger.With("component", "vector"),
	}
}

// Client returns the underlying index client. Callers must have observed a
// nil error from Ready first.
func (s *Service) Client() *Client { return s.client }

// State returns the current lifecycle state as a string, for diagnostics.
func (s *Service) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.String()
}

// Ready ensures the index is initialized, running at most one
// initialization sequence across concurrent callers. On failure the state
// reverts so a later call can retry.
func (s *Service) Ready(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateInitialized:
		s.mu.Unlock()
		return nil
	case stateInitializing:
		done := s.inflight
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == stateInitialized {
			return nil
		}
		return s.initErr
	default:
		// uninitialized or failed: this caller runs the sequence.
		s.state = stateInitializing
		s.inflight = make(chan struct{})
		done := s.inflight
		s.mu.Unlock()

		err := s.initialize(ctx)

		s.mu.Lock()
		if err != nil {
			s.state = stateFailed
			s.initErr = err
		} else {
			s.state = stateInitialized
			s.initErr = nil
		}
		s.inflight = nil
		s.mu.Unlock()
		close(done)
		return err
	}
}

// initialize brings up the index under the init timeout: heartbeat, spawn
// if allowed and needed, wait for liveness, then resolve both collections.
func (s *Service) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.InitTimeout)
	defer cancel()

	if !s.client.Heartbeat(ctx) {
		if s.cfg.Binary == "" {
			return fmt.Errorf("vector index not reachable at %s:%d and no binary configured to spawn", s.cfg.Host, s.cfg.Port)
		}
		if err := s.spawn(ctx); err != nil {
			return err
		}
		if err := s.awaitHeartbeat(ctx); err != nil {
			return err
		}
	}

	s.client.forgetCollections()
	for _, coll := range []string{FolderCollection, FileCollection} {
		if _, err := s.client.EnsureCollection(ctx, coll); err != nil {
			return err
		}
	}
	s.logger.Info("vector index ready", "host", s.cfg.Host, "port", s.cfg.Port)
	return nil
}

func (s *Service) spawn(ctx context.Context) error {
	if s.proc != nil && s.proc.Process != nil {
		// A previous spawn may still be coming up or may have died;
		// release it before starting fresh.
		s.proc.Process.Kill()
		s.proc.Wait()
		s.proc = nil
	}

	args := []string{"run", "--host", s.cfg.Host, "--port", strconv.Itoa(s.cfg.Port)}
	if s.cfg.DataDir != "" {
		if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating index data dir: %w", err)
		}
		args = append(args, "--path", s.cfg.DataDir)
	}

	cmd := exec.Command(s.cfg.Binary, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting index process %s: %w", s.cfg.Binary, err)
	}
	s.proc = cmd
	s.logger.Info("spawned vector index process", "binary", s.cfg.Binary, "pid", cmd.Process.Pid)
	return nil
}

func (s *Service) awaitHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.client.Heartbeat(ctx) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("waiting for index heartbeat: %w", ctx.Err())
		}
	}
}

// Run drives the periodic health check until ctx is cancelled. A failed
// heartbeat demotes the state so the next Ready call reinitializes, and a
// reinitialization is also attempted inline.
func (s *Service) Run(ctx context.Context) {
	if s.cfg.HealthInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		healthy := s.state == stateInitialized
		s.mu.Unlock()
		if !healthy {
			continue
		}

		if !s.client.Heartbeat(ctx) {
			s.logger.Warn("vector index heartbeat failed, reinitializing")
			s.mu.Lock()
			if s.state == stateInitialized {
				s.state = stateUninitialized
			}
			s.mu.Unlock()
			if err := s.Ready(ctx); err != nil {
				s.logger.Error("vector index reinitialization failed", "error", err)
			}
		}
	}
}

// Shutdown stops the owned index process, if any, and resets the state.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil && s.proc.Process != nil {
		s.proc.Process.Kill()
		s.proc.Wait()
		s.proc = nil
	}
	s.state = stateUninitialized
	s.initErr = nil
}
