package runner

import "context"

// turnKey carries the per-turn delegation signal through a single AI
// round-trip: the call_agent tool handler marks it when invoked, and the
// runner inspects it after the model returns final text to decide
// whether auto-reporting should fire (spec.md §4.6 "thread-local
// called_agent flag"). A context value rather than a runner field
// because each inbox message is handled to completion before the next
// is drained — there is never more than one live turn per agent — but a
// context value keeps that assumption local to the call site instead of
// implicit in a struct field.
type turnKey struct{}

// turnState is the mutable signal threaded through one turn via context.
type turnState struct {
	taskID       string
	calledAgent  bool
	calledTarget string
}

// withTurn attaches a fresh turnState for taskID and returns the
// decorated context plus a pointer callers use to read the signal back
// after the turn completes.
func withTurn(ctx context.Context, taskID string) (context.Context, *turnState) {
	ts := &turnState{taskID: taskID}
	return context.WithValue(ctx, turnKey{}, ts), ts
}

// turnFromContext retrieves the current turn's state, if any.
func turnFromContext(ctx context.Context) (*turnState, bool) {
	ts, ok := ctx.Value(turnKey{}).(*turnState)
	return ts, ok
}

// TaskIDFromContext exposes the current turn's task id to tool actions
// defined outside this package (internal/systemai's cross-project
// delegation tools), which need it for the same reason callAgentAction
// does but cannot see the unexported turnState directly.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	ts, ok := turnFromContext(ctx)
	if !ok {
		return "", false
	}
	return ts.taskID, true
}

// MarkDelegated flags the current turn as having delegated to target,
// the same bookkeeping callAgentAction does, exposed for actions
// defined outside this package. Returns false if there is no active
// turn in ctx.
func MarkDelegated(ctx context.Context, target string) bool {
	ts, ok := turnFromContext(ctx)
	if !ok {
		return false
	}
	ts.calledAgent = true
	ts.calledTarget = target
	return true
}
