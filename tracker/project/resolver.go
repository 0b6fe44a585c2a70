// Package project guarantees every session a valid project reference via an
// ordered fallback chain.
package project

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hatcher/worktrack/pkg/logs"
	"github.com/hatcher/worktrack/tracker/db"
	"github.com/pkg/errors"
)

// DefaultProjectName is the well-known system fallback project, created
// idempotently on first use.
const DefaultProjectName = "default"

// ErrResolutionExhausted means even the fallback levels could not produce a
// project. It only happens when the project store itself is unavailable.
var ErrResolutionExhausted = errors.New("project resolution exhausted")

// Level records which rung of the fallback chain produced the project.
type Level string

const (
	LevelExplicit Level = "explicit"
	LevelContext  Level = "context"
	LevelPrimary  Level = "primary"
	LevelDefault  Level = "default"
	LevelPersonal Level = "personal"
)

// Store is the slice of the project store the resolver needs.
type Store interface {
	GetProjectByID(ctx context.Context, id string) (db.Project, error)
	GetPrimaryProject(ctx context.Context) (db.Project, error)
	GetOrCreateProject(ctx context.Context, name string, autoCreated bool) (db.Project, error)
	CreateProject(ctx context.Context, arg db.CreateProjectArgs) (db.Project, error)
}

// ContextSource supplies the caller's ambient "current project", when set.
type ContextSource interface {
	CurrentProject(ctx context.Context) (string, bool)
}

// Resolution is the outcome: a dereferenceable project id plus the level
// that produced it, recorded in session metadata for observability.
type Resolution struct {
	ProjectID string
	Level     Level
}

type Resolver struct {
	store  Store
	source ContextSource
}

// NewResolver builds a resolver. source may be nil when the caller has no
// ambient project concept.
func NewResolver(store Store, source ContextSource) *Resolver {
	return &Resolver{store: store, source: source}
}

// Resolve walks the chain, first hit wins:
// explicit id, contextual current project, declared primary, system default,
// synthesized personal project. At most one project record is created
// (default or personal level). Never returns a dangling reference.
func (r *Resolver) Resolve(ctx context.Context, explicit string) (Resolution, error) {
	if explicit != "" {
		p, err := r.store.GetProjectByID(ctx, explicit)
		if err == nil {
			return Resolution{ProjectID: p.ID, Level: LevelExplicit}, nil
		}
		if !errors.Is(err, db.ErrProjectNotFound) {
			return Resolution{}, errors.WithMessage(ErrResolutionExhausted, err.Error())
		}
		logs.Warnf("explicit project %s not found, falling through resolution chain", explicit)
	}

	if r.source != nil {
		if id, ok := r.source.CurrentProject(ctx); ok && id != "" {
			p, err := r.store.GetProjectByID(ctx, id)
			if err == nil {
				return Resolution{ProjectID: p.ID, Level: LevelContext}, nil
			}
			if !errors.Is(err, db.ErrProjectNotFound) {
				return Resolution{}, errors.WithMessage(ErrResolutionExhausted, err.Error())
			}
			logs.Warnf("contextual project %s not found, falling through resolution chain", id)
		}
	}

	p, err := r.store.GetPrimaryProject(ctx)
	if err == nil {
		return Resolution{ProjectID: p.ID, Level: LevelPrimary}, nil
	}
	if !errors.Is(err, db.ErrProjectNotFound) {
		return Resolution{}, errors.WithMessage(ErrResolutionExhausted, err.Error())
	}

	p, err = r.store.GetOrCreateProject(ctx, DefaultProjectName, true)
	if err == nil {
		return Resolution{ProjectID: p.ID, Level: LevelDefault}, nil
	}
	logs.Errorf("default project creation failed, synthesizing personal project: %v", err)

	p, err = r.store.CreateProject(ctx, db.CreateProjectArgs{
		Name:        fmt.Sprintf("personal-%s", uuid.New().String()[:8]),
		Description: "auto-created personal project",
		AutoCreated: true,
	})
	if err != nil {
		return Resolution{}, errors.WithMessage(ErrResolutionExhausted, err.Error())
	}
	return Resolution{ProjectID: p.ID, Level: LevelPersonal}, nil
}
