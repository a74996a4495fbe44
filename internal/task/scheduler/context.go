package scheduler

import "context"

// RunInfo identifies the run a callback executes in.
type RunInfo struct {
	ID     string
	Job    string
	Manual bool
}

type runKey struct{}

func withRun(ctx context.Context, ri RunInfo) context.Context {
	return context.WithValue(ctx, runKey{}, ri)
}

// RunFromContext returns the run a callback was invoked for.
func RunFromContext(ctx context.Context) (RunInfo, bool) {
	ri, ok := ctx.Value(runKey{}).(RunInfo)
	return ri, ok
}
