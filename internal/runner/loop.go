package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agentcore/internal/ibl"
	"agentcore/internal/provider"
)

const (
	// MaxToolIterations bounds total rounds of the tool-call loop
	// (spec.md §4.5).
	MaxToolIterations = 15
	// MaxConsecutiveToolOnly is the number of consecutive rounds with
	// tool calls but no text before a synthetic nudge message is
	// injected to break an infinite tool spiral.
	MaxConsecutiveToolOnly = 10

	approvalMarker  = "[[APPROVAL_REQUESTED]]"
	mapMarkerPrefix = "[MAP:"

	maxToolResultChars = 8000
)

// toolSep separates the IBL node and action in the flat tool name the
// provider sees, since provider.Tool carries one flat name per schema
// entry but IBL actions are scoped to a node.
const toolSep = "__"

// turnResult is what one full tool-call loop produces for a single
// inbox message.
type turnResult struct {
	FinalText string
	Cancelled bool
	Approval  bool
}

// buildToolSchema flattens every action on every allowed node into the
// provider's generic Tool/Function shape (spec.md §4.6 "tool list (IBL
// dispatcher schema + a small set of system tools)"); the "system" node
// registered by newSystemNode rides along the same way any domain node
// does.
func buildToolSchema(d *ibl.Dispatcher, allowedNodes []string) []provider.Tool {
	var tools []provider.Tool
	for _, nodeName := range d.Nodes() {
		if !nodeAllowedForSchema(nodeName, allowedNodes) {
			continue
		}
		node, ok := d.Node(nodeName)
		if !ok {
			continue
		}
		for actionName, act := range node.Actions {
			params, err := json.Marshal(act.Parameters())
			if err != nil {
				continue
			}
			tools = append(tools, provider.Tool{
				Type: "function",
				Function: provider.ToolFunction{
					Name:       nodeName + toolSep + actionName,
					Parameters: params,
				},
			})
		}
	}
	return tools
}

func nodeAllowedForSchema(node string, allowedNodes []string) bool {
	if len(allowedNodes) == 0 {
		return true
	}
	for _, a := range allowedNodes {
		if strings.EqualFold(a, node) {
			return true
		}
	}
	return false
}

// runToolLoop drives the bounded tool-call loop of spec.md §4.5: invoke
// the provider, execute every tool_use block the model emits in one
// round, feed results back, and repeat until the model answers with
// final text or a bound is hit. cancelled is polled between rounds and
// between individual tool executions.
func runToolLoop(ctx context.Context, prov provider.Provider, req provider.ChatRequest, d *ibl.Dispatcher, allowedNodes []string, cancelled func() bool) (turnResult, error) {
	messages := append([]provider.Message(nil), req.Messages...)
	consecutiveToolOnly := 0
	var pendingMapTags []string

	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		if cancelled() {
			return turnResult{Cancelled: true}, nil
		}

		roundReq := req
		roundReq.Messages = messages
		events, err := prov.Stream(ctx, roundReq)
		if err != nil {
			return turnResult{}, fmt.Errorf("runner: provider stream: %w", err)
		}

		var text strings.Builder
		var calls []provider.ToolCall
		var finishReason string
		var streamErr error
		for ev := range events {
			switch ev.Type {
			case provider.EventTypeContent:
				text.WriteString(ev.Delta)
			case provider.EventTypeToolCall:
				if ev.ToolCall != nil {
					calls = append(calls, *ev.ToolCall)
				}
			case provider.EventTypeError:
				streamErr = ev.Error
			case provider.EventTypeDone:
				finishReason = ev.FinishReason
			}
		}
		if streamErr != nil {
			return turnResult{}, fmt.Errorf("runner: provider error: %w", streamErr)
		}

		if len(calls) == 0 {
			return turnResult{FinalText: appendMapTags(text.String(), pendingMapTags)}, nil
		}

		consecutiveToolOnly++
		if text.Len() > 0 {
			consecutiveToolOnly = 0
		}

		messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: text.String(), ToolCalls: calls})

		approvalSeen := false
		var approvalText string
		for _, call := range calls {
			if cancelled() {
				return turnResult{Cancelled: true}, nil
			}

			result, guide := executeToolCall(ctx, d, allowedNodes, call)
			if strings.HasPrefix(result, approvalMarker) {
				approvalSeen = true
				approvalText = strings.TrimPrefix(result, approvalMarker)
			}
			body, tag := stripMapTail(result)
			if tag != "" {
				pendingMapTags = append(pendingMapTags, tag)
				result = body
			}
			if guide != "" {
				result = strings.TrimSpace(result) + "\n\n[guide]\n" + guide
			}
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    truncateToolResult(result),
				ToolCallID: call.ID,
			})
		}

		if approvalSeen {
			return turnResult{FinalText: strings.TrimSpace(text.String() + "\n" + approvalText), Approval: true}, nil
		}

		if finishReason == provider.FinishReasonStop {
			return turnResult{FinalText: appendMapTags(text.String(), pendingMapTags)}, nil
		}

		if consecutiveToolOnly >= MaxConsecutiveToolOnly {
			messages = append(messages, provider.Message{
				Role:    provider.RoleUser,
				Content: "You have made many tool calls without producing a final answer. Please answer now using the information you have already collected.",
			})
			consecutiveToolOnly = 0
		}
	}

	return turnResult{FinalText: appendMapTags("I was unable to complete this within the allotted tool-call budget.", pendingMapTags)}, nil
}

// truncateToolResult bounds one tool result before it re-enters the
// conversation, preserving context budget (spec.md §4.5).
func truncateToolResult(s string) string {
	if len(s) <= maxToolResultChars {
		return s
	}
	return s[:maxToolResultChars] + "\n...[truncated]"
}

// stripMapTail splits a trailing "[MAP:{...}]" block off a tool's own
// output (spec.md §4.5: the tag is a tool result attaching map
// metadata, never the model's own text). The tag is removed from what
// the model sees as the tool_result message; the caller accumulates it
// in pendingMapTags and appendMapTags re-attaches every tag collected
// across the whole turn once the loop produces its final answer.
func stripMapTail(toolOutput string) (string, string) {
	idx := strings.LastIndex(toolOutput, mapMarkerPrefix)
	if idx < 0 {
		return toolOutput, ""
	}
	tail := strings.TrimSpace(toolOutput[idx:])
	if !strings.HasSuffix(tail, "]") {
		return toolOutput, ""
	}
	return strings.TrimSpace(toolOutput[:idx]), tail
}

// appendMapTags joins every [MAP:...] tag collected from this turn's
// tool calls onto the model's final text, in call order.
func appendMapTags(text string, tags []string) string {
	if len(tags) == 0 {
		return text
	}
	return strings.TrimSpace(text) + "\n\n" + strings.Join(tags, "\n")
}

// executeToolCall runs one provider.ToolCall against the dispatcher and
// returns its rendered output alongside any guide document the action
// attached (ibl.Result.Guide), kept separate so stripMapTail's trailing-tag
// search runs against the action's own content only.
func executeToolCall(ctx context.Context, d *ibl.Dispatcher, allowedNodes []string, call provider.ToolCall) (string, string) {
	name := call.Name
	args := call.Arguments
	if call.Function != nil {
		name = call.Function.Name
		args = call.Function.Arguments
	}

	node, action, ok := strings.Cut(name, toolSep)
	if !ok {
		return ibl.DispatchError(d, name, fmt.Errorf("runner: malformed tool name %q", name)), ""
	}

	var params map[string]any
	if args != "" {
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return fmt.Sprintf("[error] invalid tool arguments: %v", err), ""
		}
	}
	if params == nil {
		params = map[string]any{}
	}
	target, _ := params["target"].(string)
	delete(params, "target")

	res, err := d.Invoke(ctx, node, action, target, params, allowedNodes)
	if err != nil {
		return ibl.DispatchError(d, node, err), ""
	}
	return res.String(), res.Guide
}
