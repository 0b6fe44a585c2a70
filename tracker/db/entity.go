package db

import (
	"time"

	"github.com/hatcher/worktrack/pkg/ormx"
)

const (
	// StatusActive marks an open session. EndedAt is null exactly while
	// a session is in this status.
	StatusActive = "active"
	// StatusInactive is terminal: explicit end or timeout sweep.
	StatusInactive = "inactive"
	// StatusDisconnected is terminal: abnormal termination reported by
	// an external collaborator.
	StatusDisconnected = "disconnected"
)

type Session struct {
	ormx.UuidModel
	ProjectID       string     `json:"projectId" gorm:"type:varchar(255);not null;column:project_id;index"`
	TrackingKey     string     `json:"trackingKey" gorm:"type:varchar(255);not null;column:tracking_key;index"`
	AgentType       string     `json:"agentType" gorm:"type:varchar(255);column:agent_type"`
	Title           string     `json:"title" gorm:"type:varchar(255);column:title"`
	Description     string     `json:"description" gorm:"type:text;column:description"`
	Status          string     `json:"status" gorm:"type:varchar(32);not null;column:status;index"`
	StartedAt       time.Time  `json:"startedAt" gorm:"not null;column:started_at"`
	EndedAt         *time.Time `json:"endedAt" gorm:"column:ended_at"`
	LastActivityAt  time.Time  `json:"lastActivityAt" gorm:"not null;column:last_activity_at;index"`
	InputTokens     int64      `json:"inputTokens" gorm:"not null;column:input_tokens"`
	OutputTokens    int64      `json:"outputTokens" gorm:"not null;column:output_tokens"`
	TotalTokens     int64      `json:"totalTokens" gorm:"not null;column:total_tokens"`
	TasksCreated    int64      `json:"tasksCreated" gorm:"not null;column:tasks_created"`
	TasksUpdated    int64      `json:"tasksUpdated" gorm:"not null;column:tasks_updated"`
	TasksCompleted  int64      `json:"tasksCompleted" gorm:"not null;column:tasks_completed"`
	ContextsCreated int64      `json:"contextsCreated" gorm:"not null;column:contexts_created"`
	Metadata        string     `json:"metadata" gorm:"type:text;column:metadata"`
}

func (s *Session) TableName() string {
	return "work_sessions"
}

// Open reports whether the row still accepts activity.
func (s *Session) Open() bool {
	return s.Status == StatusActive && s.EndedAt == nil
}

type Project struct {
	ormx.UuidModel
	Name        string `json:"name" gorm:"type:varchar(255);not null;uniqueIndex;column:name"`
	Description string `json:"description" gorm:"type:text;column:description"`
	IsPrimary   bool   `json:"isPrimary" gorm:"not null;column:is_primary"`
	AutoCreated bool   `json:"autoCreated" gorm:"not null;column:auto_created"`
}

func (p *Project) TableName() string {
	return "work_projects"
}
