package project

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hatcher/worktrack/tracker/db"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu              sync.Mutex
	projects        map[string]db.Project
	byName          map[string]string
	primaryID       string
	failGetOrCreate bool
	down            bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: make(map[string]db.Project),
		byName:   make(map[string]string),
	}
}

func (f *fakeStore) add(name string, primary bool) db.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := db.Project{Name: name, IsPrimary: primary}
	p.ID = uuid.New().String()
	f.projects[p.ID] = p
	f.byName[name] = p.ID
	if primary {
		f.primaryID = p.ID
	}
	return p
}

func (f *fakeStore) GetProjectByID(ctx context.Context, id string) (db.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return db.Project{}, errors.New("store unavailable")
	}
	p, ok := f.projects[id]
	if !ok {
		return db.Project{}, db.ErrProjectNotFound
	}
	return p, nil
}

func (f *fakeStore) GetPrimaryProject(ctx context.Context) (db.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return db.Project{}, errors.New("store unavailable")
	}
	if f.primaryID == "" {
		return db.Project{}, db.ErrProjectNotFound
	}
	return f.projects[f.primaryID], nil
}

func (f *fakeStore) GetOrCreateProject(ctx context.Context, name string, autoCreated bool) (db.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || f.failGetOrCreate {
		return db.Project{}, errors.New("store unavailable")
	}
	if id, ok := f.byName[name]; ok {
		return f.projects[id], nil
	}
	p := db.Project{Name: name, AutoCreated: autoCreated}
	p.ID = uuid.New().String()
	f.projects[p.ID] = p
	f.byName[name] = p.ID
	return p, nil
}

func (f *fakeStore) CreateProject(ctx context.Context, arg db.CreateProjectArgs) (db.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return db.Project{}, errors.New("store unavailable")
	}
	p := db.Project{Name: arg.Name, Description: arg.Description, AutoCreated: arg.AutoCreated}
	p.ID = arg.ID
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	f.projects[p.ID] = p
	f.byName[p.Name] = p.ID
	return p, nil
}

type fakeContextSource struct {
	id string
}

func (f fakeContextSource) CurrentProject(ctx context.Context) (string, bool) {
	return f.id, f.id != ""
}

func TestExplicitWins(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	explicit := store.add("explicit", false)
	store.add("primary", true)

	r := NewResolver(store, fakeContextSource{id: store.byName["primary"]})
	res, err := r.Resolve(context.Background(), explicit.ID)
	require.NoError(t, err)
	require.Equal(t, explicit.ID, res.ProjectID)
	require.Equal(t, LevelExplicit, res.Level)
}

func TestInvalidExplicitFallsThrough(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	primary := store.add("primary", true)

	r := NewResolver(store, nil)
	res, err := r.Resolve(context.Background(), "no-such-project")
	require.NoError(t, err)
	require.Equal(t, primary.ID, res.ProjectID)
	require.Equal(t, LevelPrimary, res.Level)
}

func TestContextualBeatsPrimary(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.add("primary", true)
	contextual := store.add("contextual", false)

	r := NewResolver(store, fakeContextSource{id: contextual.ID})
	res, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, contextual.ID, res.ProjectID)
	require.Equal(t, LevelContext, res.Level)
}

func TestEmptyStoreCreatesDefault(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	r := NewResolver(store, nil)
	res, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, LevelDefault, res.Level)

	// the returned id must dereference
	p, err := store.GetProjectByID(context.Background(), res.ProjectID)
	require.NoError(t, err)
	require.Equal(t, DefaultProjectName, p.Name)
	require.True(t, p.AutoCreated)
}

func TestResolveIsIdempotentForDefault(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	r := NewResolver(store, nil)
	first, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, first.ProjectID, second.ProjectID)
}

func TestPersonalProjectLastResort(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failGetOrCreate = true

	r := NewResolver(store, nil)
	res, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, LevelPersonal, res.Level)

	p, err := store.GetProjectByID(context.Background(), res.ProjectID)
	require.NoError(t, err)
	require.True(t, p.AutoCreated)
	require.Contains(t, p.Name, "personal-")
}

func TestStoreOutageSurfacesExhaustion(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.down = true

	r := NewResolver(store, nil)
	_, err := r.Resolve(context.Background(), "")
	require.ErrorIs(t, err, ErrResolutionExhausted)
}
