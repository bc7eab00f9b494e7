package ibl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Dispatcher owns the registered Nodes and resolves a {node, action,
// target, params} triple to a Result, applying per-agent allowed-node
// gating and parameter schema validation before a handler ever runs.
type Dispatcher struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{nodes: make(map[string]*Node)}
}

// RegisterNode adds or replaces a node.
func (d *Dispatcher) RegisterNode(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[n.Name] = n
}

// Node looks up a node by name, resolving legacy aliases first.
func (d *Dispatcher) Node(name string) (*Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[resolveLegacyNode(name)]
	return n, ok
}

// Nodes lists every registered node name, sorted.
func (d *Dispatcher) Nodes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.nodes))
	for name := range d.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke resolves and runs one {node, action, target, params} triple.
// allowedNodes is the agent's allowed-node set; a nil or empty slice
// means unrestricted, matching spec's "absence means unrestricted".
func (d *Dispatcher) Invoke(ctx context.Context, node, action, target string, params map[string]any, allowedNodes []string) (Result, error) {
	node = resolveLegacyNode(node)

	if !nodeAllowed(node, allowedNodes) {
		return Result{}, &NodeNotAllowedError{Node: node}
	}

	n, ok := d.Node(node)
	if !ok {
		return Result{}, &NodeNotFoundError{Node: node}
	}

	act, ok := n.Get(action)
	if !ok {
		return Result{}, &ActionNotFoundError{Node: node, Action: action}
	}

	if err := validateParams(node, action, act.Parameters(), params); err != nil {
		return Result{}, err
	}

	return act.Execute(ctx, target, params)
}

// AvailableActions lists a node's action names, sorted, used to build the
// error hint DispatchError surfaces back to the AI.
func (d *Dispatcher) AvailableActions(node string) []string {
	n, ok := d.Node(node)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(n.Actions))
	for name := range n.Actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func nodeAllowed(node string, allowedNodes []string) bool {
	if len(allowedNodes) == 0 {
		return true
	}
	for _, allowed := range allowedNodes {
		if strings.EqualFold(allowed, node) {
			return true
		}
	}
	return false
}

// DispatchError formats a dispatcher-surfaced error the way InvalidInput
// responses are documented to the AI: available actions plus a usage
// example.
func DispatchError(d *Dispatcher, node string, err error) string {
	actions := d.AvailableActions(node)
	return fmt.Sprintf("%v (available actions on %q: %s; example: [%s:%s](\"target\"){})",
		err, node, strings.Join(actions, ", "), node, firstOr(actions, "action"))
}

func firstOr(items []string, fallback string) string {
	if len(items) > 0 {
		return items[0]
	}
	return fallback
}
