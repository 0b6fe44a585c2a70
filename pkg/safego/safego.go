package safego

import "context"

// Go runs f in a goroutine, recovering panics.
func Go(ctx context.Context, f func()) {
	go func() {
		defer Recovery(ctx)
		f()
	}()
}
