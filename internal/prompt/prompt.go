// Package prompt assembles an agent's system prompt from its static
// role text and notes, plus a dynamic delegation-context-awareness
// block rebuilt on every turn from the task's current
// task.DelegationContext. Grounded on the teacher's
// internal/runner.PromptBuilder (base prompt + dynamic tool/MCP
// sections concatenated by a strings.Builder), generalized from
// tool-schema injection to delegation-context injection since IBL's
// tool schema is carried separately in the provider request rather
// than inlined into prompt text.
package prompt

import (
	"fmt"
	"strings"

	"agentcore/internal/store/task"
)

// AgentProfile is the static part of an agent's prompt: its persona and
// any operator-authored notes (spec.md §6 "role_description").
type AgentProfile struct {
	Name             string
	RoleDescription  string
	Notes            string
}

const defaultTemplate = `You are %s, an AI agent operating within a multi-agent system.

%s`

// Builder assembles prompts for one agent.
type Builder struct {
	profile AgentProfile
}

// NewBuilder creates a Builder for the given agent profile.
func NewBuilder(profile AgentProfile) *Builder {
	return &Builder{profile: profile}
}

// Build returns the complete system prompt for this turn, including a
// delegation-context-awareness block when dc is non-nil and non-empty.
func (b *Builder) Build(dc *task.DelegationContext) string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf(defaultTemplate, b.profile.Name, b.profile.RoleDescription))

	if b.profile.Notes != "" {
		out.WriteString("\n\n## Notes\n\n")
		out.WriteString(b.profile.Notes)
	}

	if section := delegationSection(dc); section != "" {
		out.WriteString("\n\n")
		out.WriteString(section)
	}

	return out.String()
}

// delegationSection renders the agent's current delegation state:
// completed work from earlier cycles (carried forward so the agent
// never re-requests something it already outsourced, per the
// completed[] supplement), plus any delegations still outstanding in
// the current cycle.
func delegationSection(dc *task.DelegationContext) string {
	if dc == nil || (len(dc.Completed) == 0 && len(dc.Delegations) == 0) {
		return ""
	}

	var out strings.Builder
	out.WriteString("## Delegation Context\n")

	if len(dc.Completed) > 0 {
		out.WriteString("\nYou have already delegated and received results for:\n")
		for _, c := range dc.Completed {
			out.WriteString(fmt.Sprintf("- To `%s`: %q → %s\n", c.To, truncate(c.Message, 80), truncate(c.Result, 200)))
		}
	}

	if len(dc.Delegations) > 0 {
		out.WriteString("\nYou currently have outstanding delegations awaiting response:\n")
		for _, d := range dc.Delegations {
			out.WriteString(fmt.Sprintf("- To `%s`: %q (task %s)\n", d.DelegatedTo, truncate(d.Message, 80), d.ChildTaskID))
		}
		out.WriteString("\nDo not re-delegate the same work; wait for these responses to arrive in your inbox.\n")
	}

	return out.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
