// Package sweep transitions idle sessions to inactive on a fixed schedule.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/hatcher/worktrack/pkg/logs"
	"github.com/hatcher/worktrack/pkg/safego"
	"github.com/hatcher/worktrack/tracker/audit"
	"github.com/hatcher/worktrack/tracker/db"
	"github.com/robfig/cron/v3"
)

const (
	defaultInterval      = time.Minute
	defaultIdleThreshold = 30 * time.Minute
	defaultQuietTickLog  = 60
)

// Config selects the schedule and the idle threshold. When Cron is set it
// takes precedence over Interval; the expression uses the six-field form
// with seconds.
type Config struct {
	Enabled       bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Interval      time.Duration `yaml:"interval" json:"interval" mapstructure:"interval"`
	Cron          string        `yaml:"cron" json:"cron" mapstructure:"cron"`
	IdleThreshold time.Duration `yaml:"idle-threshold" json:"idleThreshold" mapstructure:"idle-threshold"`
	QuietTickLog  int           `yaml:"quiet-tick-log" json:"quietTickLog" mapstructure:"quiet-tick-log"`
}

func (c *Config) prepare() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = defaultIdleThreshold
	}
	if c.QuietTickLog <= 0 {
		c.QuietTickLog = defaultQuietTickLog
	}
}

// Invalidator drops in-memory session pointers after a sweep; the session
// service implements it.
type Invalidator interface {
	DropSessions(ids ...string)
}

type Sweeper struct {
	q           db.Querier
	invalidator Invalidator
	sink        audit.Sink
	cfg         Config
	now         func() time.Time

	mu         sync.Mutex
	running    bool
	quit       chan struct{}
	done       chan struct{}
	cronRunner *cron.Cron
	quietTicks int
}

type Option func(*Sweeper)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithAuditSink wires the sink that receives a timeout event per swept
// session.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Sweeper) { s.sink = sink }
}

// NewSweeper builds a sweeper. invalidator may be nil when no in-memory
// pointers need dropping (the read path self-heals regardless).
func NewSweeper(q db.Querier, invalidator Invalidator, cfg Config, opts ...Option) *Sweeper {
	cfg.prepare()
	s := &Sweeper{
		q:           q,
		invalidator: invalidator,
		sink:        audit.Discard{},
		cfg:         cfg,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start launches the background schedule. Safe to call once; subsequent
// calls are no-ops until Stop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.quit = make(chan struct{})
	s.done = make(chan struct{})

	if s.cfg.Cron != "" {
		runner := cron.New(cron.WithSeconds())
		_, err := runner.AddFunc(s.cfg.Cron, s.tick)
		if err != nil {
			logs.Errorf("sweeper cron expression invalid, falling back to interval: %v", err)
		} else {
			s.cronRunner = runner
			runner.Start()
			close(s.done)
			logs.Infof("timeout sweeper started, cron: %s, idle threshold: %s", s.cfg.Cron, s.cfg.IdleThreshold)
			return
		}
	}

	quit, done := s.quit, s.done
	safego.Go(context.Background(), func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				select {
				case <-quit:
					// stopped between ticks, no further writes
					return
				default:
				}
				s.tick()
			}
		}
	})
	logs.Infof("timeout sweeper started, interval: %s, idle threshold: %s", s.cfg.Interval, s.cfg.IdleThreshold)
}

// Stop cancels the schedule deterministically: after it returns, no further
// durable writes happen. Idempotent.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	quit, done := s.quit, s.done
	runner := s.cronRunner
	s.cronRunner = nil
	s.mu.Unlock()

	close(quit)
	if runner != nil {
		// waits for an in-flight tick to finish
		<-runner.Stop().Done()
		return
	}
	<-done
}

func (s *Sweeper) tick() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		// A failed tick never stops future ticks.
		logs.Errorf("timeout sweep tick error: %v", err)
	}
}

// RunOnce performs a single sweep and returns the affected session ids.
// It is the manual trigger used by tests and operational tooling.
func (s *Sweeper) RunOnce(ctx context.Context) ([]string, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.IdleThreshold)
	ids, err := s.q.SweepIdleSessions(ctx, cutoff, now)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.mu.Lock()
		s.quietTicks = 0
		s.mu.Unlock()
		logs.Warnf("timeout sweep transitioned %d idle session(s) to inactive: %v", len(ids), ids)
		if s.invalidator != nil {
			s.invalidator.DropSessions(ids...)
		}
		for _, id := range ids {
			ev := audit.Event{Type: audit.SessionTimeout, SessionID: id, At: now}
			if err := s.sink.Emit(ctx, ev); err != nil {
				logs.Warnf("audit emit %s for session %s failed: %v", ev.Type, id, err)
			}
		}
		return ids, nil
	}
	s.mu.Lock()
	s.quietTicks++
	quiet := s.quietTicks
	s.mu.Unlock()
	if quiet%s.cfg.QuietTickLog == 0 {
		logs.Infof("timeout sweep alive, %d consecutive quiet ticks", quiet)
	}
	return nil, nil
}
