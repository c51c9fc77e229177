package job

import "context"

type abortKey struct{}

// WithAbort marks ctx as the scope the worker cancels when it abandons
// the attempt, which happens only on a forced shutdown. Deadlines added
// by middleware are layered on top and are not part of it.
func WithAbort(ctx context.Context) context.Context {
	return context.WithValue(ctx, abortKey{}, ctx)
}

// Detach returns a context carrying ctx's values that is cancelled only
// when the worker aborts the attempt, ignoring any attempt deadline.
// Outside a worker it simply derives from ctx. The CancelFunc must be
// called once the caller is done.
func Detach(ctx context.Context) (context.Context, context.CancelFunc) {
	abort, ok := ctx.Value(abortKey{}).(context.Context)
	if !ok {
		return context.WithCancel(ctx)
	}
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(abort, cancel)
	return detached, func() {
		stop()
		cancel()
	}
}
