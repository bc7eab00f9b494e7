// Package delegatectx carries delegation-chain metadata through a Go
// context.Context so the IBL "delegate" action can detect circular
// delegation and enforce depth limits without threading extra
// parameters through every call site.
package delegatectx

import "context"

// Chain carries delegation chain metadata for the current tool invocation.
type Chain struct {
	// Depth is the current delegation depth (0 = root agent turn).
	Depth int
	// MaxDepth is the absolute depth ceiling; 0 means unlimited.
	// Delegation is refused once Depth >= MaxDepth.
	MaxDepth int
	// Agents is the path of agent names delegated through so far,
	// e.g. ["researcher", "writer"].
	Agents []string
	// ParentTaskID is the task id this delegation chain is rooted at,
	// used by the delegate action to set Task.ParentTaskID on the
	// child task it creates.
	ParentTaskID string
}

type chainKey struct{}

// With returns a new context carrying the given chain.
func With(ctx context.Context, c *Chain) context.Context {
	return context.WithValue(ctx, chainKey{}, c)
}

// From extracts the delegation chain from ctx, defaulting to an empty
// root chain (Depth=0, unlimited) when absent.
func From(ctx context.Context) *Chain {
	if c, ok := ctx.Value(chainKey{}).(*Chain); ok {
		return c
	}
	return &Chain{Depth: 0, MaxDepth: 0}
}

// CanDelegate reports whether the current depth allows one more level
// of delegation.
func (c *Chain) CanDelegate() bool {
	if c.MaxDepth <= 0 {
		return true
	}
	return c.Depth < c.MaxDepth
}

// Contains reports whether agentName already appears in the chain,
// i.e. delegating to it now would close a cycle.
func (c *Chain) Contains(agentName string) bool {
	for _, a := range c.Agents {
		if a == agentName {
			return true
		}
	}
	return false
}

// ForChild returns the chain a delegation to agentName should run with.
func (c *Chain) ForChild(agentName, parentTaskID string) *Chain {
	agents := make([]string, len(c.Agents)+1)
	copy(agents, c.Agents)
	agents[len(c.Agents)] = agentName
	return &Chain{
		Depth:        c.Depth + 1,
		MaxDepth:     c.MaxDepth,
		Agents:       agents,
		ParentTaskID: parentTaskID,
	}
}
