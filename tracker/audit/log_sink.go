package audit

import (
	"context"

	"github.com/hatcher/worktrack/pkg/logs"
)

// LogSink writes lifecycle events to the process log. It is the sink of
// last resort when no redis stream is configured.
type LogSink struct{}

func (LogSink) Emit(ctx context.Context, ev Event) error {
	logs.Infof("[audit] %s session_id: %s, project_id: %s, tracking_key: %s, at: %s",
		ev.Type, ev.SessionID, ev.ProjectID, ev.TrackingKey, ev.At.UTC().Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
