package safego

import (
	"context"
	"runtime/debug"

	"github.com/hatcher/worktrack/pkg/logs"
)

// Recovery catches a panic and logs it with the stacktrace.
func Recovery(ctx context.Context) {
	e := recover()
	if e == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logs.Errorf("[Recovery] caught panic error = %v \n stacktrace = \n%s", e, string(debug.Stack()))
}
