package db

import "time"

type CreateSessionArgs struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	TrackingKey string    `json:"tracking_key"`
	AgentType   string    `json:"agent_type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartedAt   time.Time `json:"started_at"`
	Metadata    string    `json:"metadata"`
}

type FinishSessionArgs struct {
	ID              string    `json:"id"`
	EndedAt         time.Time `json:"ended_at"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	TotalTokens     int64     `json:"total_tokens"`
	TasksCreated    int64     `json:"tasks_created"`
	TasksUpdated    int64     `json:"tasks_updated"`
	TasksCompleted  int64     `json:"tasks_completed"`
	ContextsCreated int64     `json:"contexts_created"`
}

type UpdateSessionInfoArgs struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type CreateProjectArgs struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrimary   bool   `json:"is_primary"`
	AutoCreated bool   `json:"auto_created"`
}
