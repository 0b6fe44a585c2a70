package db

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/hatcher/worktrack/pkg/ormx"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (q *Queries) CreateProject(ctx context.Context, arg CreateProjectArgs) (Project, error) {
	p := &Project{
		Name:        arg.Name,
		Description: arg.Description,
		IsPrimary:   arg.IsPrimary,
		AutoCreated: arg.AutoCreated,
	}
	p.ID = arg.ID
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	err := q.db.WithContext(ctx).Create(p).Error
	if err != nil {
		return Project{}, err
	}
	return *p, nil
}

func (q *Queries) GetProjectByID(ctx context.Context, id string) (Project, error) {
	var p Project
	err := q.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, ErrProjectNotFound
	}
	return p, err
}

// GetPrimaryProject returns the project flagged as the user's default.
// This is read from the store on every call; callers must not cache it.
func (q *Queries) GetPrimaryProject(ctx context.Context) (Project, error) {
	var p Project
	err := q.db.WithContext(ctx).Where("is_primary = ?", true).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, ErrProjectNotFound
	}
	return p, err
}

// SetPrimaryProject moves the primary flag to the named project.
func (q *Queries) SetPrimaryProject(ctx context.Context, id string) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Project
		err := tx.Where("id = ?", id).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		if err != nil {
			return err
		}
		err = tx.Model(&Project{}).Where("is_primary = ?", true).Update("is_primary", false).Error
		if err != nil {
			return errors.WithMessage(err, "clear primary flag error")
		}
		err = tx.Model(&Project{}).Where("id = ?", id).Update("is_primary", true).Error
		if err != nil {
			return errors.WithMessage(err, "set primary flag error")
		}
		return nil
	})
}

// GetOrCreateProject fetches a project by name, inserting it when absent.
// Idempotent under concurrent callers: the loser of an insert race hits the
// unique index on name and re-reads the winner's row.
func (q *Queries) GetOrCreateProject(ctx context.Context, name string, autoCreated bool) (Project, error) {
	var p Project
	attrs := Project{
		UuidModel:   ormx.UuidModel{ID: uuid.New().String()},
		AutoCreated: autoCreated,
	}
	err := q.db.WithContext(ctx).
		Where(Project{Name: name}).
		Attrs(attrs).
		FirstOrCreate(&p).Error
	if err == nil {
		return p, nil
	}
	if !isDuplicateKey(err) {
		return Project{}, err
	}
	err = q.db.WithContext(ctx).Where("name = ?", name).First(&p).Error
	if err != nil {
		return Project{}, errors.WithMessage(err, "refetch project after insert race error")
	}
	return p, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Fallback for drivers not translated by gorm.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}

func (q *Queries) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	err := q.db.WithContext(ctx).Order("name ASC").Find(&projects).Error
	return projects, err
}
