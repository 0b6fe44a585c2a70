package db

import (
	"context"
	"time"
)

type Querier interface {
	CreateSession(ctx context.Context, arg CreateSessionArgs) (Session, error)
	GetSessionByID(ctx context.Context, id string) (Session, error)
	GetOpenSessionByKey(ctx context.Context, key string) (Session, error)
	FinishSession(ctx context.Context, arg FinishSessionArgs) (bool, error)
	TouchSessionActivity(ctx context.Context, id string, at time.Time) (bool, error)
	UpdateSessionInfo(ctx context.Context, arg UpdateSessionInfoArgs) (bool, error)
	AssignSessionProject(ctx context.Context, id, projectID string) (bool, error)
	MarkSessionDisconnected(ctx context.Context, id string, at time.Time) (bool, error)
	SweepIdleSessions(ctx context.Context, cutoff, endedAt time.Time) ([]string, error)
	ListSessionsByKey(ctx context.Context, key string, limit int) ([]Session, error)
	ListOpenSessions(ctx context.Context) ([]Session, error)

	CreateProject(ctx context.Context, arg CreateProjectArgs) (Project, error)
	GetProjectByID(ctx context.Context, id string) (Project, error)
	GetPrimaryProject(ctx context.Context) (Project, error)
	SetPrimaryProject(ctx context.Context, id string) error
	GetOrCreateProject(ctx context.Context, name string, autoCreated bool) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
}

var _ Querier = (*Queries)(nil)
