package ibl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

const prevResultKey = "_prev_result"

// Execute runs a parsed pipeline expression against the dispatcher.
// allowedNodes enforces per-agent node gating on every step.
func Execute(ctx context.Context, d *Dispatcher, expr Expr, allowedNodes []string) (Result, error) {
	return execWithPrev(ctx, d, expr, "", allowedNodes)
}

func execWithPrev(ctx context.Context, d *Dispatcher, expr Expr, prev string, allowedNodes []string) (Result, error) {
	switch e := expr.(type) {
	case Step:
		return execStep(ctx, d, e, prev, allowedNodes)
	case Sequence:
		return execSequence(ctx, d, e, prev, allowedNodes)
	case Parallel:
		return execParallel(ctx, d, e, allowedNodes)
	case Fallback:
		return execFallback(ctx, d, e, prev, allowedNodes)
	default:
		return Result{}, fmt.Errorf("ibl: unknown expression type %T", expr)
	}
}

func execStep(ctx context.Context, d *Dispatcher, s Step, prev string, allowedNodes []string) (Result, error) {
	params := s.Params
	if params == nil {
		params = make(map[string]any)
	} else {
		cloned := make(map[string]any, len(params)+1)
		for k, v := range params {
			cloned[k] = v
		}
		params = cloned
	}
	if prev != "" {
		params[prevResultKey] = prev
	}
	return d.Invoke(ctx, s.Node, s.Action, s.Target, params, allowedNodes)
}

// execSequence runs steps in order, piping each result's stringified
// content into the next step as "_prev_result".
func execSequence(ctx context.Context, d *Dispatcher, seq Sequence, prev string, allowedNodes []string) (Result, error) {
	var last Result
	for _, step := range seq.Steps {
		res, err := execWithPrev(ctx, d, step, prev, allowedNodes)
		if err != nil {
			return Result{}, err
		}
		if res.IsError {
			return res, nil
		}
		last = res
		prev = res.Content
	}
	return last, nil
}

// execParallel runs every step concurrently and aggregates results into
// a list, matching spec.md "produce a list result". One step's error
// does not cancel its siblings — every branch runs to completion so the
// caller sees the full fan-out, not just the first failure.
func execParallel(ctx context.Context, d *Dispatcher, par Parallel, allowedNodes []string) (Result, error) {
	results := make([]Result, len(par.Steps))
	g, gctx := errgroup.WithContext(ctx)
	for i, step := range par.Steps {
		i, step := i, step
		g.Go(func() error {
			res, err := execWithPrev(gctx, d, step, "", allowedNodes)
			if err != nil {
				res = ErrorResult(err.Error())
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait() // branch errors are captured per-result, not propagated

	items := make([]map[string]any, len(results))
	anyError := false
	for i, r := range results {
		items[i] = map[string]any{"content": r.Content, "is_error": r.IsError}
		if r.IsError {
			anyError = true
		}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return Result{}, fmt.Errorf("ibl: marshal parallel results: %w", err)
	}
	return Result{Content: string(encoded), IsError: anyError, Metadata: map[string]any{"results": results}}, nil
}

// execFallback tries steps in order until one returns a non-error result.
func execFallback(ctx context.Context, d *Dispatcher, fb Fallback, prev string, allowedNodes []string) (Result, error) {
	var lastErr error
	var lastResult Result
	for _, step := range fb.Steps {
		res, err := execWithPrev(ctx, d, step, prev, allowedNodes)
		if err != nil {
			lastErr = err
			continue
		}
		if !res.IsError {
			return res, nil
		}
		lastResult = res
		lastErr = fmt.Errorf("ibl: fallback step failed: %s", res.Content)
	}
	if lastErr != nil {
		return lastResult, lastErr
	}
	return lastResult, nil
}

// FormatPipelineError renders an error for the kind of multi-line
// "here's what went wrong and how to fix it" message the AI gets back
// on a failed invocation, per spec.md's InvalidInput contract.
func FormatPipelineError(d *Dispatcher, node string, err error) string {
	var invalidInput *InvalidInputError
	if ii, ok := err.(*InvalidInputError); ok {
		invalidInput = ii
	}
	if invalidInput != nil {
		return DispatchError(d, node, invalidInput)
	}
	return strings.TrimSpace(err.Error())
}
