// Package check is the public entry point of the region checker: load an
// elaborated program, analyze every function, and hand back one verdict
// batch. The heavy lifting lives in the internal packages; this package
// fixes the API surface embedders depend on.
package check

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/veld-lang/veld/internal/checker"
	"github.com/veld-lang/veld/internal/diagnostics"
	"github.com/veld-lang/veld/internal/ir"
)

// FuncReport is the verdict for one function: its diagnostics, empty on
// acceptance.
type FuncReport struct {
	Name  string
	Diags []*diagnostics.DiagnosticError
}

// OK reports acceptance.
func (r FuncReport) OK() bool { return len(r.Diags) == 0 }

// Result is one full analysis run over a program. RunID distinguishes runs
// when batches from several programs are aggregated or cached.
type Result struct {
	RunID uuid.UUID
	Funcs []FuncReport
}

// OK reports whether every function was accepted.
func (r *Result) OK() bool {
	for _, f := range r.Funcs {
		if !f.OK() {
			return false
		}
	}
	return true
}

// Diags flattens the per-function batches, preserving declaration order.
func (r *Result) Diags() []*diagnostics.DiagnosticError {
	var out []*diagnostics.DiagnosticError
	for _, f := range r.Funcs {
		out = append(out, f.Diags...)
	}
	return out
}

// Check analyzes a program that is already decoded and validated.
func Check(prog *ir.Program) *Result {
	res := &Result{RunID: uuid.New()}
	for _, rep := range checker.New(prog).Check() {
		res.Funcs = append(res.Funcs, FuncReport{Name: rep.Name, Diags: rep.Diags})
	}
	return res
}

// CheckBytes decodes a YAML program and analyzes it. Decode and validation
// failures come back as an error, not as diagnostics: a malformed input has
// no meaningful per-function verdicts.
func CheckBytes(data []byte) (*Result, error) {
	prog, err := ir.Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading program: %w", err)
	}
	return Check(prog), nil
}

// CheckFile loads a program file and analyzes it. Every diagnostic in the
// result carries the file path.
func CheckFile(path string) (*Result, error) {
	prog, err := ir.LoadFile(path)
	if err != nil {
		return nil, err
	}
	res := Check(prog)
	for _, f := range res.Funcs {
		for _, d := range f.Diags {
			d.File = path
		}
	}
	return res, nil
}
