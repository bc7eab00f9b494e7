package runner

import (
	"context"
	"encoding/json"
	"testing"

	"agentcore/internal/ibl"
	"agentcore/internal/provider"

	"github.com/stretchr/testify/require"
)

// scriptedProvider replays one slice of events per Stream call, in
// order, so a tool-call loop can be driven deterministically.
type scriptedProvider struct {
	rounds [][]provider.ChatEvent
	call   int
}

func (p *scriptedProvider) Name() string     { return "scripted" }
func (p *scriptedProvider) Models() []string { return []string{"scripted-1"} }

func (p *scriptedProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	return nil, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	round := p.rounds[p.call]
	p.call++
	ch := make(chan provider.ChatEvent, len(round))
	for _, ev := range round {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type echoAction struct{}

func (echoAction) Name() string               { return "say" }
func (echoAction) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (echoAction) Execute(ctx context.Context, target string, params map[string]any) (ibl.Result, error) {
	msg, _ := params["message"].(string)
	return ibl.SuccessResult("echoed:" + msg), nil
}

func neverCancelled() bool { return false }

func TestRunToolLoop_DirectFinalText(t *testing.T) {
	p := &scriptedProvider{rounds: [][]provider.ChatEvent{
		{
			{Type: provider.EventTypeContent, Delta: "hi there"},
			{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonStop},
		},
	}}
	d := ibl.NewDispatcher()

	result, err := runToolLoop(context.Background(), p, provider.ChatRequest{}, d, nil, neverCancelled)
	require.NoError(t, err)
	require.Equal(t, "hi there", result.FinalText)
	require.False(t, result.Cancelled)
	require.Equal(t, 1, p.call)
}

func TestRunToolLoop_ExecutesToolThenFinal(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"message": "hi"})
	p := &scriptedProvider{rounds: [][]provider.ChatEvent{
		{
			{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{ID: "1", Name: "echo__say", Arguments: string(args)}},
			{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonToolCalls},
		},
		{
			{Type: provider.EventTypeContent, Delta: "done"},
			{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonStop},
		},
	}}
	d := ibl.NewDispatcher()
	d.RegisterNode(&ibl.Node{Name: "echo", Router: ibl.HandlerRouter{}, Actions: map[string]ibl.Action{"say": echoAction{}}})

	result, err := runToolLoop(context.Background(), p, provider.ChatRequest{}, d, nil, neverCancelled)
	require.NoError(t, err)
	require.Equal(t, "done", result.FinalText)
	require.Equal(t, 2, p.call)
}

func TestRunToolLoop_ApprovalMarkerStopsImmediately(t *testing.T) {
	args, _ := json.Marshal(map[string]any{})
	p := &scriptedProvider{rounds: [][]provider.ChatEvent{
		{
			{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{ID: "1", Name: "approve__ask", Arguments: string(args)}},
			{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonToolCalls},
		},
	}}
	d := ibl.NewDispatcher()
	d.RegisterNode(&ibl.Node{Name: "approve", Router: ibl.SystemRouter{}, Actions: map[string]ibl.Action{
		"ask": approvalAction{},
	}})

	result, err := runToolLoop(context.Background(), p, provider.ChatRequest{}, d, nil, neverCancelled)
	require.NoError(t, err)
	require.True(t, result.Approval)
	require.Contains(t, result.FinalText, "needs sign-off")
	require.Equal(t, 1, p.call)
}

type approvalAction struct{}

func (approvalAction) Name() string               { return "ask" }
func (approvalAction) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (approvalAction) Execute(ctx context.Context, target string, params map[string]any) (ibl.Result, error) {
	return ibl.SuccessResult("[[APPROVAL_REQUESTED]]this action needs sign-off"), nil
}

func TestRunToolLoop_MaxIterationsFallback(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"message": "x"})
	round := []provider.ChatEvent{
		{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{ID: "1", Name: "echo__say", Arguments: string(args)}},
		{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonToolCalls},
	}
	rounds := make([][]provider.ChatEvent, MaxToolIterations)
	for i := range rounds {
		rounds[i] = round
	}
	p := &scriptedProvider{rounds: rounds}
	d := ibl.NewDispatcher()
	d.RegisterNode(&ibl.Node{Name: "echo", Router: ibl.HandlerRouter{}, Actions: map[string]ibl.Action{"say": echoAction{}}})

	result, err := runToolLoop(context.Background(), p, provider.ChatRequest{}, d, nil, neverCancelled)
	require.NoError(t, err)
	require.Equal(t, MaxToolIterations, p.call)
	require.Contains(t, result.FinalText, "tool-call budget")
}

func TestRunToolLoop_Cancelled(t *testing.T) {
	p := &scriptedProvider{rounds: [][]provider.ChatEvent{{}}}
	d := ibl.NewDispatcher()

	result, err := runToolLoop(context.Background(), p, provider.ChatRequest{}, d, nil, func() bool { return true })
	require.NoError(t, err)
	require.True(t, result.Cancelled)
	require.Equal(t, 0, p.call)
}

type mapTaggedAction struct{}

func (mapTaggedAction) Name() string               { return "locate" }
func (mapTaggedAction) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (mapTaggedAction) Execute(ctx context.Context, target string, params map[string]any) (ibl.Result, error) {
	return ibl.SuccessResult(`found 2 results` + "\n" + `[MAP:{"lat":37.5,"lng":127.0}]`), nil
}

func TestRunToolLoop_MapTagMovesFromToolResultToFinalText(t *testing.T) {
	args, _ := json.Marshal(map[string]any{})
	p := &scriptedProvider{rounds: [][]provider.ChatEvent{
		{
			{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{ID: "1", Name: "places__locate", Arguments: string(args)}},
			{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonToolCalls},
		},
		{
			{Type: provider.EventTypeContent, Delta: "here is what I found"},
			{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonStop},
		},
	}}
	d := ibl.NewDispatcher()
	d.RegisterNode(&ibl.Node{Name: "places", Router: ibl.HandlerRouter{}, Actions: map[string]ibl.Action{"locate": mapTaggedAction{}}})

	result, err := runToolLoop(context.Background(), p, provider.ChatRequest{}, d, nil, neverCancelled)
	require.NoError(t, err)
	require.Contains(t, result.FinalText, "here is what I found")
	require.Contains(t, result.FinalText, `[MAP:{"lat":37.5,"lng":127.0}]`)
}

func TestStripMapTail_ExtractsFromToolOutputOnly(t *testing.T) {
	body, tag := stripMapTail(`3 matches` + "\n" + `[MAP:{"lat":1,"lng":2}]`)
	require.Equal(t, "3 matches", body)
	require.Equal(t, `[MAP:{"lat":1,"lng":2}]`, tag)

	body, tag = stripMapTail("no map tag here")
	require.Equal(t, "no map tag here", body)
	require.Empty(t, tag)
}

func TestBuildToolSchema_FiltersAllowedNodes(t *testing.T) {
	d := ibl.NewDispatcher()
	d.RegisterNode(&ibl.Node{Name: "echo", Router: ibl.HandlerRouter{}, Actions: map[string]ibl.Action{"say": echoAction{}}})
	d.RegisterNode(&ibl.Node{Name: "secret", Router: ibl.HandlerRouter{}, Actions: map[string]ibl.Action{"say": echoAction{}}})

	tools := buildToolSchema(d, []string{"echo"})
	require.Len(t, tools, 1)
	require.Equal(t, "echo__say", tools[0].Function.Name)
}
