package ibl

import "testing"

func TestParse_SingleStep(t *testing.T) {
	expr, err := Parse(`[source:web_search]("AI")`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	step, ok := expr.(Step)
	if !ok {
		t.Fatalf("expr = %T, want Step", expr)
	}
	if step.Node != "source" || step.Action != "web_search" || step.Target != "AI" {
		t.Errorf("step = %+v", step)
	}
}

func TestParse_StepWithParams(t *testing.T) {
	expr, err := Parse(`[source:web_search]("AI"){"count": 5}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	step := expr.(Step)
	count, ok := step.Params["count"].(float64)
	if !ok || count != 5 {
		t.Errorf("Params[count] = %v, want 5", step.Params["count"])
	}
}

func TestParse_Sequence(t *testing.T) {
	expr, err := Parse(`[source:web_search]("AI") >> [system:file]("result.md")`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	seq, ok := expr.(Sequence)
	if !ok || len(seq.Steps) != 2 {
		t.Fatalf("expr = %+v, want 2-step Sequence", expr)
	}
}

func TestParse_Parallel(t *testing.T) {
	expr, err := Parse(`[source:a]("x") || [source:b]("y")`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	par, ok := expr.(Parallel)
	if !ok || len(par.Steps) != 2 {
		t.Fatalf("expr = %+v, want 2-step Parallel", expr)
	}
}

func TestParse_Fallback(t *testing.T) {
	expr, err := Parse(`[source:a]("x") ?? [source:b]("x")`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	fb, ok := expr.(Fallback)
	if !ok || len(fb.Steps) != 2 {
		t.Fatalf("expr = %+v, want 2-step Fallback", expr)
	}
}

func TestParse_Parens(t *testing.T) {
	expr, err := Parse(`([source:a]("x") || [source:b]("y")) >> [system:file]("out.md")`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	seq, ok := expr.(Sequence)
	if !ok || len(seq.Steps) != 2 {
		t.Fatalf("expr = %+v, want 2-step Sequence", expr)
	}
	if _, ok := seq.Steps[0].(Parallel); !ok {
		t.Errorf("seq.Steps[0] = %T, want Parallel", seq.Steps[0])
	}
}

func TestParse_Precedence(t *testing.T) {
	// "||" binds tighter than "??": a || b ?? c  ==  (a || b) ?? c
	expr, err := Parse(`[n:a]("1") || [n:b]("2") ?? [n:c]("3")`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	fb, ok := expr.(Fallback)
	if !ok || len(fb.Steps) != 2 {
		t.Fatalf("expr = %+v, want 2-step Fallback", expr)
	}
	if _, ok := fb.Steps[0].(Parallel); !ok {
		t.Errorf("fb.Steps[0] = %T, want Parallel", fb.Steps[0])
	}
}

func TestParse_Malformed(t *testing.T) {
	cases := []string{
		`[source web_search]("AI")`,
		`source:web_search]("AI")`,
		`[source:web_search]("AI"`,
		``,
	}
	for _, in := range cases {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", in)
		}
	}
}
