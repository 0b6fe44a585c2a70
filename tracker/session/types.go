package session

import (
	"encoding/json"
	"strconv"
	"time"
)

// DefaultTrackingKey is used when a caller does not name a tracking key.
// Single-key processes only ever see this one.
const DefaultTrackingKey = "default"

type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

type ActivityCounts struct {
	TasksCreated    int64 `json:"tasksCreated"`
	TasksUpdated    int64 `json:"tasksUpdated"`
	TasksCompleted  int64 `json:"tasksCompleted"`
	ContextsCreated int64 `json:"contextsCreated"`
}

// Session is the caller-facing view of a tracked work session.
type Session struct {
	ID             string            `json:"id"`
	ProjectID      string            `json:"projectId"`
	TrackingKey    string            `json:"trackingKey"`
	AgentType      string            `json:"agentType"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Status         string            `json:"status"`
	StartedAt      time.Time         `json:"startedAt"`
	EndedAt        *time.Time        `json:"endedAt,omitempty"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
	Tokens         TokenCounts       `json:"tokenCounts"`
	Activity       ActivityCounts    `json:"activityCounts"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// StartArgs carries everything Start needs. ProjectID is optional; the
// resolver chain fills it in when empty or invalid.
type StartArgs struct {
	TrackingKey string `json:"trackingKey"`
	ProjectID   string `json:"projectId"`
	AgentType   string `json:"agentType"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Status is the summary served to status/analytics callers. ProjectName is
// re-read from the store on every request, never cached.
type Status struct {
	SessionID      string         `json:"sessionId"`
	ProjectID      string         `json:"projectId"`
	ProjectName    string         `json:"projectName"`
	Status         string         `json:"status"`
	StartedAt      time.Time      `json:"startedAt"`
	EndedAt        *time.Time     `json:"endedAt,omitempty"`
	LastActivityAt time.Time      `json:"lastActivityAt"`
	Duration       time.Duration  `json:"duration"`
	Tokens         TokenCounts    `json:"tokenCounts"`
	Activity       ActivityCounts `json:"activityCounts"`
}

func marshalMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	data, err := json.Marshal(md)
	if err != nil {
		return ""
	}
	return string(data)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func unmarshalMetadata(data string) map[string]string {
	if data == "" {
		return nil
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(data), &md); err != nil {
		return nil
	}
	return md
}
