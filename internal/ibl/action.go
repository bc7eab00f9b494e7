// Package ibl implements the in-house action language: the sole tool
// surface exposed to agents. An invocation names a node (domain), an
// action (verb), a target (primary argument) and an optional parameter
// map; the dispatcher resolves the triple to a handler and returns a
// result. Multi-step invocations are expressed with a small pipeline
// grammar (">>" sequential, "||" parallel, "??" fallback).
package ibl

import "context"

// Action is one verb a Node exposes. It generalizes the agent runtime's
// tools.Tool interface with an explicit target argument, since IBL
// invocations carry target and params as separate grammar positions
// rather than folding everything into one argument map.
type Action interface {
	Name() string
	Parameters() map[string]any
	Execute(ctx context.Context, target string, params map[string]any) (Result, error)
}

// Result is what an Action invocation produces. Guide carries an
// optional workflow document the action wants the calling agent to
// have on hand for the rest of the turn — the IBL counterpart of the
// original engine's actions declaring a guide field alongside their
// main content (e.g. search_guide surfacing a matched recipe).
type Result struct {
	Content  string         `json:"content"`
	IsError  bool           `json:"is_error"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Guide    string         `json:"guide,omitempty"`
}

func (r Result) String() string {
	if r.IsError {
		return "[error] " + r.Content
	}
	return r.Content
}

// ErrorResult builds a failed Result.
func ErrorResult(msg string) Result {
	return Result{Content: msg, IsError: true}
}

// SuccessResult builds a successful Result.
func SuccessResult(content string) Result {
	return Result{Content: content}
}

// SuccessResultWithGuide builds a successful Result carrying an
// attached guide document.
func SuccessResultWithGuide(content, guide string) Result {
	return Result{Content: content, Guide: guide}
}

// Node is a named collection of Actions routed through one Router
// implementation (e.g. "source" routes through an api_engine, "system"
// through a handler).
type Node struct {
	Name    string
	Router  Router
	Actions map[string]Action
}

// Get looks up an action by name within the node.
func (n *Node) Get(action string) (Action, bool) {
	a, ok := n.Actions[action]
	return a, ok
}
