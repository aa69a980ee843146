// internal/relay/relay.go
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leraspizh/crypto-project/internal/metrics"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

const (
	// ModeShared runs one upstream pipeline for all sessions.
	ModeShared = "shared"
	// ModePerSession runs one upstream pipeline per session.
	ModePerSession = "per_session"

	// DefaultGroup is the broadcast group every session joins.
	DefaultGroup = "crypto_updates"

	// DefaultRestartDelay separates restarts of a pipeline whose feed gave up.
	DefaultRestartDelay = 5 * time.Second
)

// Config selects the upstream sharing mode.
type Config struct {
	Mode      string        `mapstructure:"mode"`
	IdleGrace time.Duration `mapstructure:"idle_grace"`
	Group     string        `mapstructure:"group"`

	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeShared
	}
	if c.IdleGrace < 0 {
		c.IdleGrace = 0
	}
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = DefaultRestartDelay
	}
}

// Validate rejects unknown modes.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeShared, ModePerSession:
		return nil
	default:
		return fmt.Errorf("relay: unknown mode %q", c.Mode)
	}
}

// Relay hands sessions access to the upstream pipeline.
type Relay interface {
	// Attach makes sure a pipeline runs for the caller. The returned
	// release must be called exactly once when the caller goes away;
	// extra calls are ignored.
	Attach() (release func())
	// Close stops every pipeline and waits for them.
	Close()
}

// New builds the relay for cfg.Mode. newPipeline is called whenever a
// pipeline must be started.
func New(cfg Config, newPipeline func() *Pipeline, log *logger.Logger) (Relay, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("relay").With(zap.String("mode", cfg.Mode))
	root, cancel := context.WithCancel(context.Background())
	sup := supervisor{newPipeline: newPipeline, delay: cfg.RestartDelay, log: log}
	if cfg.Mode == ModePerSession {
		return &perSession{root: root, cancel: cancel, sup: sup, log: log}, nil
	}
	return &shared{root: root, cancelRoot: cancel, grace: cfg.IdleGrace, sup: sup, log: log}, nil
}

// running is one supervised pipeline.
type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// supervisor keeps a pipeline alive until its context ends. A pipeline
// returns early only when its feed gives up; it is then rebuilt after
// delay so attached sessions never stay without an upstream.
type supervisor struct {
	newPipeline func() *Pipeline
	delay       time.Duration
	log         *logger.Logger
}

func (s supervisor) start(parent context.Context) *running {
	ctx, cancel := context.WithCancel(parent)
	r := &running{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		s.loop(ctx)
	}()
	return r
}

func (s supervisor) loop(ctx context.Context) {
	for restarts := 1; ; restarts++ {
		// 1) run until the feed ends or ctx is cancelled
		s.newPipeline().Run(ctx)
		if ctx.Err() != nil {
			return
		}

		// 2) the feed gave up: wait, then rebuild
		metrics.PipelineRestarts.Inc()
		s.log.Warn("upstream pipeline ended, restarting",
			zap.Int("restarts", restarts),
			zap.Duration("delay", s.delay),
		)
		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// -----------------------------------------------------------------------------
// shared
// -----------------------------------------------------------------------------

// shared starts the pipeline for the first session and stops it once no
// session has been attached for the grace period.
type shared struct {
	root       context.Context
	cancelRoot context.CancelFunc
	grace      time.Duration
	sup        supervisor
	log        *logger.Logger

	mu     sync.Mutex
	refs   int
	gen    uint64 // bumped on every Attach, invalidates pending idle stops
	cur    *running
	idle   *time.Timer
	closed bool
}

func (s *shared) Attach() func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs++
	s.gen++
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if s.cur == nil && !s.closed {
		s.cur = s.sup.start(s.root)
		s.log.Info("upstream started", zap.Int("sessions", s.refs))
	}

	var once sync.Once
	return func() { once.Do(s.release) }
}

func (s *shared) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs--
	if s.refs > 0 || s.cur == nil {
		return
	}
	if s.grace <= 0 {
		s.stopLocked()
		return
	}
	gen := s.gen
	s.idle = time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.refs == 0 && s.gen == gen {
			s.stopLocked()
		}
	})
}

// stopLocked cancels the pipeline. The goroutine exits on its own; the
// pipeline never takes s.mu so waiting here cannot deadlock.
func (s *shared) stopLocked() {
	if s.cur == nil {
		return
	}
	s.cur.stop()
	s.cur = nil
	s.idle = nil
	s.log.Info("upstream stopped, no sessions")
}

func (s *shared) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.idle != nil {
		s.idle.Stop()
	}
	s.stopLocked()
	s.cancelRoot()
}

// -----------------------------------------------------------------------------
// per session
// -----------------------------------------------------------------------------

// perSession gives every session its own pipeline, cancelled on release.
type perSession struct {
	root   context.Context
	cancel context.CancelFunc
	sup    supervisor
	log    *logger.Logger

	wg sync.WaitGroup // one per live pipeline
}

func (p *perSession) Attach() func() {
	r := p.sup.start(p.root)
	p.log.Debug("upstream started for session")
	p.wg.Add(1)
	go func() {
		<-r.done
		p.wg.Done()
	}()
	var once sync.Once
	return func() { once.Do(r.stop) }
}

func (p *perSession) Close() {
	p.cancel()
	p.wg.Wait()
}
