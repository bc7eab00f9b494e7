package ibl

import (
	"context"

	"agentcore/internal/tools"
)

// toolAction adapts a tools.Tool — the flat per-agent tool surface the
// runner builds from internal/tools.Registry — into an ibl.Action. The
// IBL target argument is folded into params under "target" since
// tools.Tool.Execute only takes one argument map.
type toolAction struct {
	tool tools.Tool
}

// WrapTool adapts an existing tools.Tool so it can be exposed as an IBL
// action under a HandlerRouter node.
func WrapTool(t tools.Tool) Action {
	return &toolAction{tool: t}
}

func (a *toolAction) Name() string { return a.tool.Name() }

func (a *toolAction) Parameters() map[string]any { return a.tool.Parameters() }

func (a *toolAction) Execute(ctx context.Context, target string, params map[string]any) (Result, error) {
	merged := make(map[string]any, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	if target != "" {
		merged["target"] = target
	}

	res, err := a.tool.Execute(ctx, merged)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: res.Content, IsError: res.IsError, Metadata: res.Metadata, Guide: res.Guide}, nil
}

// NodeFromRegistry builds a HandlerRouter node named name from every
// tool currently registered in reg, keyed by the tool's own name as its
// action name.
func NodeFromRegistry(name string, reg *tools.Registry) *Node {
	actions := make(map[string]Action)
	for _, t := range reg.List() {
		actions[t.Name()] = WrapTool(t)
	}
	return &Node{Name: name, Router: HandlerRouter{}, Actions: actions}
}
