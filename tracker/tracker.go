// Package tracker wires the session lifecycle engine together: durable
// store, resolver, accumulator, audit sink and timeout sweeper.
package tracker

import (
	"context"

	"github.com/hatcher/worktrack/pkg/logs"
	"github.com/hatcher/worktrack/pkg/ormx"
	"github.com/hatcher/worktrack/pkg/redisx"
	"github.com/hatcher/worktrack/tracker/activity"
	"github.com/hatcher/worktrack/tracker/audit"
	"github.com/hatcher/worktrack/tracker/config"
	"github.com/hatcher/worktrack/tracker/db"
	"github.com/hatcher/worktrack/tracker/project"
	"github.com/hatcher/worktrack/tracker/session"
	"github.com/hatcher/worktrack/tracker/sweep"
	"github.com/pkg/errors"
)

type Tracker struct {
	Sessions session.Service
	Queries  *db.Queries
	Sweeper  *sweep.Sweeper

	cleanupFuncs []func() error
}

// New assembles the engine from config. source is the caller's ambient
// current-project provider and may be nil.
func New(ctx context.Context, cfg *config.Config, source project.ContextSource) (*Tracker, error) {
	cfg.Prepare()
	if err := logs.InitLogger(cfg.Log, "worktrack.log"); err != nil {
		return nil, err
	}

	gormDB, err := ormx.NewDBClient(cfg.DB)
	if err != nil {
		return nil, errors.WithMessage(err, "open session store error")
	}
	queries := db.New(gormDB)

	sink := audit.Sink(audit.LogSink{})
	if cfg.Redis.Addr != "" {
		client, err := redisx.NewClient(cfg.Redis)
		if err != nil {
			logs.Warnf("audit redis unavailable, falling back to log sink: %v", err)
		} else {
			sink = audit.NewRedisSink(client, cfg.Tracker.AuditStream)
		}
	}

	acc := activity.NewAccumulator()
	resolver := project.NewResolver(queries, source)
	sessions := session.NewService(queries, acc, resolver,
		session.WithAuditSink(sink),
		session.WithTouchInterval(cfg.Tracker.TouchInterval),
	)

	sweeper := sweep.NewSweeper(queries, sessions, cfg.Sweep, sweep.WithAuditSink(sink))
	if cfg.Sweep.Enabled {
		sweeper.Start()
	}

	t := &Tracker{
		Sessions: sessions,
		Queries:  queries,
		Sweeper:  sweeper,
	}
	t.cleanupFuncs = append(t.cleanupFuncs, func() error {
		sweeper.Stop()
		return nil
	})
	t.cleanupFuncs = append(t.cleanupFuncs, func() error {
		sessions.Shutdown()
		return nil
	})
	if sqlDB, err := gormDB.DB(); err == nil {
		t.cleanupFuncs = append(t.cleanupFuncs, sqlDB.Close)
	}
	return t, nil
}

// Shutdown stops the sweeper before closing anything it writes through.
func (t *Tracker) Shutdown() {
	for _, f := range t.cleanupFuncs {
		if err := f(); err != nil {
			logs.Warnf("tracker shutdown cleanup error: %v", err)
		}
	}
}
