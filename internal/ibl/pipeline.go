package ibl

import "fmt"

// Expr is the closed set of pipeline AST nodes produced by Parse:
// Step, Sequence, Parallel, Fallback. Unexported marker methods keep it
// a sum type a switch can exhaustively handle.
type Expr interface {
	exprVariant()
}

// Step is one `[node:action](target){params}` invocation.
type Step struct {
	Node   string
	Action string
	Target string
	Params map[string]any
}

func (Step) exprVariant() {}

// Sequence runs its steps in order, piping each result into the next as
// "_prev_result" in params (spec.md's implicit result piping).
type Sequence struct {
	Steps []Expr
}

func (Sequence) exprVariant() {}

// Parallel runs its steps concurrently and produces a list result.
type Parallel struct {
	Steps []Expr
}

func (Parallel) exprVariant() {}

// Fallback tries its steps in order until one succeeds.
type Fallback struct {
	Steps []Expr
}

func (Fallback) exprVariant() {}

func (s Step) String() string {
	return fmt.Sprintf("[%s:%s](%q)", s.Node, s.Action, s.Target)
}
