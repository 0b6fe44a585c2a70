// Package session owns the active-session state machine: one in-memory
// pointer per tracking key, the durable store as source of truth underneath.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hatcher/worktrack/pkg/logs"
	"github.com/hatcher/worktrack/pkg/safego"
	"github.com/hatcher/worktrack/tracker/activity"
	"github.com/hatcher/worktrack/tracker/audit"
	"github.com/hatcher/worktrack/tracker/csync"
	"github.com/hatcher/worktrack/tracker/db"
	"github.com/hatcher/worktrack/tracker/project"
	"github.com/hatcher/worktrack/tracker/pubsub"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTouchInterval = 30 * time.Second
	auditEmitTimeout     = 5 * time.Second
)

type Service interface {
	pubsub.Subscriber[Session]

	Start(ctx context.Context, arg StartArgs) (Session, error)
	Active(ctx context.Context, key string) (*Session, error)
	End(ctx context.Context, id string) (Session, error)

	RecordTokenUsage(ctx context.Context, id string, input, output int64) error
	RecordTaskCreated(ctx context.Context, id string) error
	RecordTaskUpdated(ctx context.Context, id string, completed bool) error
	RecordContextCreated(ctx context.Context, id string) error

	AssignProject(ctx context.Context, id, projectRef string) error
	UpdateInfo(ctx context.Context, id, title, description string) error
	Disconnect(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (Session, error)
	Status(ctx context.Context, id string) (Status, error)
	CurrentProject(ctx context.Context, id string) (db.Project, error)
	PrimaryProject(ctx context.Context) (db.Project, error)
	ListByKey(ctx context.Context, key string, limit int) ([]Session, error)

	Invalidate(key string)
	DropSessions(ids ...string)
	Shutdown()
}

type service struct {
	*pubsub.Broker[Session]
	q         db.Querier
	acc       *activity.Accumulator
	resolver  *project.Resolver
	sink      audit.Sink
	active    *csync.Map[string, string]
	lastTouch *csync.Map[string, time.Time]
	touchGap  time.Duration
	now       func() time.Time
	restore   singleflight.Group
}

type Option func(*service)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithTouchInterval bounds how often activity recording writes
// last_activity_at durably.
func WithTouchInterval(d time.Duration) Option {
	return func(s *service) { s.touchGap = d }
}

// WithAuditSink wires the lifecycle event sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *service) { s.sink = sink }
}

func NewService(q db.Querier, acc *activity.Accumulator, resolver *project.Resolver, opts ...Option) Service {
	s := &service{
		Broker:    pubsub.NewBroker[Session](),
		q:         q,
		acc:       acc,
		resolver:  resolver,
		sink:      audit.LogSink{},
		active:    csync.NewMap[string, string](),
		lastTouch: csync.NewMap[string, time.Time](),
		touchGap:  defaultTouchInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start resolves a project, inserts the durable row, then publishes the
// in-memory pointer. When a concurrent Start for the same key wins the
// pointer race, the loser retires its fresh row and returns the winner's
// session, so every caller agrees on one active session per key.
func (s *service) Start(ctx context.Context, arg StartArgs) (Session, error) {
	key := arg.TrackingKey
	if key == "" {
		key = DefaultTrackingKey
	}
	row, err := s.createSession(ctx, key, arg)
	if err != nil {
		return Session{}, err
	}

	for {
		winner, loaded := s.active.LoadOrStore(key, row.ID)
		if !loaded || winner == row.ID {
			break
		}
		cur, err := s.q.GetSessionByID(ctx, winner)
		if err == nil && cur.Open() {
			s.retire(ctx, row)
			return s.fromDBItem(cur), nil
		}
		if s.active.CompareAndSwap(key, winner, row.ID) {
			break
		}
		// pointer moved underneath us, re-evaluate
	}

	sess := s.fromDBItem(row)
	s.emit(ctx, audit.SessionStart, row, nil)
	s.Publish(pubsub.CreatedEvent, sess)
	return sess, nil
}

func (s *service) createSession(ctx context.Context, key string, arg StartArgs) (db.Session, error) {
	res, err := s.resolver.Resolve(ctx, arg.ProjectID)
	if err != nil {
		return db.Session{}, err
	}
	row, err := s.insertSession(ctx, key, arg, res)
	if err == nil {
		return row, nil
	}
	// The resolved project can vanish between resolution and insert.
	// Retry once with fresh resolution before giving up.
	logs.Warnf("session insert failed, retrying with fresh project resolution: %v", err)
	res, rerr := s.resolver.Resolve(ctx, arg.ProjectID)
	if rerr != nil {
		return db.Session{}, rerr
	}
	row, err = s.insertSession(ctx, key, arg, res)
	if err != nil {
		logs.Errorf("session insert failed after retry: %v", err)
		return db.Session{}, errors.WithMessage(ErrSessionCreationFailed, err.Error())
	}
	return row, nil
}

func (s *service) insertSession(ctx context.Context, key string, arg StartArgs, res project.Resolution) (db.Session, error) {
	return s.q.CreateSession(ctx, db.CreateSessionArgs{
		ID:          uuid.New().String(),
		ProjectID:   res.ProjectID,
		TrackingKey: key,
		AgentType:   arg.AgentType,
		Title:       arg.Title,
		Description: arg.Description,
		StartedAt:   s.now(),
		Metadata:    marshalMetadata(map[string]string{"project_resolution": string(res.Level)}),
	})
}

// retire closes a row that lost the pointer race before any caller saw it.
func (s *service) retire(ctx context.Context, row db.Session) {
	logs.Debugf("retiring session %s, concurrent start for key %s won", row.ID, row.TrackingKey)
	if _, err := s.q.FinishSession(ctx, db.FinishSessionArgs{ID: row.ID, EndedAt: s.now()}); err != nil {
		logs.Warnf("retire session %s error: %v", row.ID, err)
	}
	s.acc.Clear(row.ID)
}

// Active is the memory-first lookup. A memory hit is validated against the
// durable row before being trusted; a stale pointer is dropped and the
// lookup falls through to the store, which keeps the tracker correct after
// restarts and self-healing against cache corruption. nil means no open
// session, which is a normal condition, not an error.
func (s *service) Active(ctx context.Context, key string) (*Session, error) {
	if key == "" {
		key = DefaultTrackingKey
	}
	if id, ok := s.active.Get(key); ok {
		row, err := s.q.GetSessionByID(ctx, id)
		if err == nil && row.Open() {
			sess := s.fromDBItem(row)
			return &sess, nil
		}
		if err != nil && !errors.Is(err, db.ErrSessionNotFound) {
			return nil, err
		}
		logs.Debugf("stale active-session pointer for key %s (session %s), invalidating", key, id)
		s.active.CompareAndDelete(key, id)
		s.acc.Clear(id)
		s.lastTouch.Del(id)
	}

	v, err, _ := s.restore.Do(key, func() (interface{}, error) {
		row, err := s.q.GetOpenSessionByKey(ctx, key)
		if errors.Is(err, db.ErrSessionNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &row, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	row := *v.(*db.Session)
	if winner, loaded := s.active.LoadOrStore(key, row.ID); loaded && winner != row.ID {
		cur, err := s.q.GetSessionByID(ctx, winner)
		if err == nil && cur.Open() {
			row = cur
		}
	}
	sess := s.fromDBItem(row)
	return &sess, nil
}

// End flushes the accumulated counters together with ended_at and status in
// one conditional write. The second End of an id finds no open row and
// reports ErrSessionNotFound without touching the first write's counters.
func (s *service) End(ctx context.Context, id string) (Session, error) {
	row, err := s.q.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	counts := s.acc.Snapshot(id)
	changed, err := s.q.FinishSession(ctx, db.FinishSessionArgs{
		ID:              id,
		EndedAt:         s.now(),
		InputTokens:     counts.InputTokens,
		OutputTokens:    counts.OutputTokens,
		TotalTokens:     counts.TotalTokens,
		TasksCreated:    counts.TasksCreated,
		TasksUpdated:    counts.TasksUpdated,
		TasksCompleted:  counts.TasksCompleted,
		ContextsCreated: counts.ContextsCreated,
	})
	if err != nil {
		return Session{}, err
	}
	if !changed {
		return Session{}, ErrSessionNotFound
	}
	final, err := s.q.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	s.acc.Clear(id)
	s.lastTouch.Del(id)
	s.active.CompareAndDelete(row.TrackingKey, id)

	sess := s.fromDBItem(final)
	s.emit(ctx, audit.SessionEnd, final, map[string]string{
		"total_tokens": formatInt(final.TotalTokens),
	})
	s.Publish(pubsub.UpdatedEvent, sess)
	return sess, nil
}

func (s *service) RecordTokenUsage(ctx context.Context, id string, input, output int64) error {
	s.acc.RecordTokenUsage(id, input, output)
	return s.touch(ctx, id)
}

func (s *service) RecordTaskCreated(ctx context.Context, id string) error {
	s.acc.RecordTaskCreated(id)
	return s.touch(ctx, id)
}

func (s *service) RecordTaskUpdated(ctx context.Context, id string, completed bool) error {
	s.acc.RecordTaskUpdated(id, completed)
	return s.touch(ctx, id)
}

func (s *service) RecordContextCreated(ctx context.Context, id string) error {
	s.acc.RecordContextCreated(id)
	return s.touch(ctx, id)
}

// touch refreshes last_activity_at durably, at most once per touch interval
// per session, so the timeout clock stays accurate without a write per
// counter increment. A touch that matches no open row means the session was
// ended or swept underneath the caller.
func (s *service) touch(ctx context.Context, id string) error {
	now := s.now()
	if last, ok := s.lastTouch.Get(id); ok && now.Sub(last) < s.touchGap {
		return nil
	}
	s.lastTouch.Set(id, now)
	changed, err := s.q.TouchSessionActivity(ctx, id, now)
	if err != nil {
		return err
	}
	if !changed {
		s.acc.Clear(id)
		s.lastTouch.Del(id)
		return ErrSessionNotFound
	}
	return nil
}

// AssignProject is the explicit, manual reassignment path. The tracker
// never moves an open session between projects on its own, even when the
// primary designation changes.
func (s *service) AssignProject(ctx context.Context, id, projectRef string) error {
	p, err := s.q.GetProjectByID(ctx, projectRef)
	if err != nil {
		return err
	}
	changed, err := s.q.AssignSessionProject(ctx, id, p.ID)
	if err != nil {
		return err
	}
	if !changed {
		return ErrSessionNotFound
	}
	row, err := s.q.GetSessionByID(ctx, id)
	if err != nil {
		return err
	}
	s.Publish(pubsub.UpdatedEvent, s.fromDBItem(row))
	return nil
}

func (s *service) UpdateInfo(ctx context.Context, id, title, description string) error {
	changed, err := s.q.UpdateSessionInfo(ctx, db.UpdateSessionInfoArgs{
		ID:          id,
		Title:       title,
		Description: description,
	})
	if err != nil {
		return err
	}
	if !changed {
		return ErrSessionNotFound
	}
	return nil
}

// Disconnect records an abnormal termination reported by an external
// collaborator. The state is terminal.
func (s *service) Disconnect(ctx context.Context, id string) error {
	row, err := s.q.GetSessionByID(ctx, id)
	if err != nil {
		return err
	}
	changed, err := s.q.MarkSessionDisconnected(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !changed {
		return ErrSessionNotFound
	}
	s.acc.Clear(id)
	s.lastTouch.Del(id)
	s.active.CompareAndDelete(row.TrackingKey, id)
	s.emit(ctx, audit.SessionDisconnect, row, nil)
	return nil
}

func (s *service) Get(ctx context.Context, id string) (Session, error) {
	row, err := s.q.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return s.fromDBItem(row), nil
}

// Status merges the durable row with the live accumulator while the session
// is open, and re-reads the project name from the store on every call.
func (s *service) Status(ctx context.Context, id string) (Status, error) {
	row, err := s.q.GetSessionByID(ctx, id)
	if err != nil {
		return Status{}, err
	}
	sess := s.fromDBItem(row)
	if row.Open() {
		live := s.acc.Snapshot(id)
		sess.Tokens.Input += live.InputTokens
		sess.Tokens.Output += live.OutputTokens
		sess.Tokens.Total += live.TotalTokens
		sess.Activity.TasksCreated += live.TasksCreated
		sess.Activity.TasksUpdated += live.TasksUpdated
		sess.Activity.TasksCompleted += live.TasksCompleted
		sess.Activity.ContextsCreated += live.ContextsCreated
	}

	projectName := ""
	if p, err := s.q.GetProjectByID(ctx, row.ProjectID); err == nil {
		projectName = p.Name
	} else {
		logs.Warnf("project %s for session %s not resolvable: %v", row.ProjectID, id, err)
	}

	duration := s.now().Sub(row.StartedAt)
	if row.EndedAt != nil {
		duration = row.EndedAt.Sub(row.StartedAt)
	}
	return Status{
		SessionID:      row.ID,
		ProjectID:      row.ProjectID,
		ProjectName:    projectName,
		Status:         row.Status,
		StartedAt:      row.StartedAt,
		EndedAt:        row.EndedAt,
		LastActivityAt: row.LastActivityAt,
		Duration:       duration,
		Tokens:         sess.Tokens,
		Activity:       sess.Activity,
	}, nil
}

// CurrentProject re-resolves from the durable session row on every call.
// The in-memory layer only ever holds session ids, never project
// attributes, so there is no stale copy to serve.
func (s *service) CurrentProject(ctx context.Context, id string) (db.Project, error) {
	row, err := s.q.GetSessionByID(ctx, id)
	if err != nil {
		return db.Project{}, err
	}
	return s.q.GetProjectByID(ctx, row.ProjectID)
}

// PrimaryProject queries the durable designation per request; the
// designation is never cached beyond this call.
func (s *service) PrimaryProject(ctx context.Context) (db.Project, error) {
	return s.q.GetPrimaryProject(ctx)
}

func (s *service) ListByKey(ctx context.Context, key string, limit int) ([]Session, error) {
	if key == "" {
		key = DefaultTrackingKey
	}
	rows, err := s.q.ListSessionsByKey(ctx, key, limit)
	if err != nil {
		return nil, err
	}
	sessions := make([]Session, len(rows))
	for i, row := range rows {
		sessions[i] = s.fromDBItem(row)
	}
	return sessions, nil
}

// Invalidate drops the in-memory pointer for a key. The next Active call
// restores it from the durable store.
func (s *service) Invalidate(key string) {
	if key == "" {
		key = DefaultTrackingKey
	}
	s.active.Del(key)
}

// DropSessions invalidates pointers and counters for the given session ids.
// The timeout sweeper calls this after transitioning rows it swept.
func (s *service) DropSessions(ids ...string) {
	for _, id := range ids {
		s.active.Range(func(key, val string) bool {
			if val == id {
				s.active.CompareAndDelete(key, id)
			}
			return true
		})
		s.acc.Clear(id)
		s.lastTouch.Del(id)
	}
}

func (s *service) Shutdown() {
	s.Broker.Shutdown()
}

func (s *service) emit(ctx context.Context, t audit.EventType, row db.Session, fields map[string]string) {
	ev := audit.Event{
		Type:        t,
		SessionID:   row.ID,
		ProjectID:   row.ProjectID,
		TrackingKey: row.TrackingKey,
		At:          s.now(),
		Fields:      fields,
	}
	safego.Go(ctx, func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), auditEmitTimeout)
		defer cancel()
		if err := s.sink.Emit(emitCtx, ev); err != nil {
			logs.Warnf("audit emit %s for session %s failed: %v", t, ev.SessionID, err)
		}
	})
}

func (s *service) fromDBItem(item db.Session) Session {
	return Session{
		ID:             item.ID,
		ProjectID:      item.ProjectID,
		TrackingKey:    item.TrackingKey,
		AgentType:      item.AgentType,
		Title:          item.Title,
		Description:    item.Description,
		Status:         item.Status,
		StartedAt:      item.StartedAt,
		EndedAt:        item.EndedAt,
		LastActivityAt: item.LastActivityAt,
		Tokens: TokenCounts{
			Input:  item.InputTokens,
			Output: item.OutputTokens,
			Total:  item.TotalTokens,
		},
		Activity: ActivityCounts{
			TasksCreated:    item.TasksCreated,
			TasksUpdated:    item.TasksUpdated,
			TasksCompleted:  item.TasksCompleted,
			ContextsCreated: item.ContextsCreated,
		},
		Metadata: unmarshalMetadata(item.Metadata),
	}
}
