// Package ir defines the elaborated input consumed by the region checker.
//
// The surrounding toolchain resolves surface syntax (annotation parsing,
// name resolution, ordinary type elaboration) before the checker runs; what
// arrives here is a flat statement form per function body plus a structured
// signature per declaration. The ir package owns that boundary: the Go types
// below, their YAML encoding, and the structural validation that rejects
// malformed programs before any region reasoning starts.
package ir

import "fmt"

// Position locates a statement for diagnostics. Columns are optional; a zero
// column means "whole line".
type Position struct {
	Line   int `yaml:"line"`
	Column int `yaml:"column,omitempty"`
}

func (p Position) String() string {
	if p.Column > 0 {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%d", p.Line)
}

// FieldDecl is one field of a nominal type. Iso marks the field as isolated:
// it holds a region-escaping pointer and participates in explore/retract.
type FieldDecl struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Iso  bool   `yaml:"iso,omitempty"`
}

// TypeDecl is a nominal type and its per-field isolation table. The checker
// consumes nothing else about types: nominal equality plus the iso flags.
type TypeDecl struct {
	Name   string      `yaml:"name"`
	Fields []FieldDecl `yaml:"fields,omitempty"`
}

// ParamMode says whether the caller retains the argument's region after the
// call (preserved) or loses it (consumed).
type ParamMode string

const (
	ModePreserved ParamMode = "preserved"
	ModeConsumed  ParamMode = "consumed"
)

// Param is one declared parameter of a function contract.
type Param struct {
	Name string    `yaml:"name"`
	Type string    `yaml:"type"`
	Mode ParamMode `yaml:"mode"`

	// Group declares region sharing: parameters carrying the same nonzero
	// group id are expected to arrive in one region at every call site.
	Group int `yaml:"group,omitempty"`

	// Pinned marks the parameter's region as possibly containing untracked
	// structure. The callee may not explore its isolated fields or hand the
	// region to another concurrency domain.
	Pinned bool `yaml:"pinned,omitempty"`
}

// ResultOriginFresh is the Result.Origin value declaring that the result
// occupies a freshly allocated region. Any other nonempty origin names a
// preserved parameter whose region the result lives in.
const ResultOriginFresh = "fresh"

// Result is the declared result contract. An empty Type means the function
// produces no region-bearing value.
type Result struct {
	Type   string `yaml:"type,omitempty"`
	Origin string `yaml:"origin,omitempty"`
}

// ShapeEdge is one expected pointer-shape fragment at function entry: an
// isolated field of a parameter that must arrive either tracked at another
// parameter's region (Target) or as a dead tombstone (Dead).
type ShapeEdge struct {
	Var    string `yaml:"var"`
	Field  string `yaml:"field"`
	Target string `yaml:"target,omitempty"`
	Dead   bool   `yaml:"dead,omitempty"`
}

// Signature is the fixed contract of one function. Call sites and returns
// are both checked against it; there is no per-call inference.
type Signature struct {
	Name       string      `yaml:"name"`
	Params     []Param     `yaml:"params,omitempty"`
	Result     Result      `yaml:"result,omitempty"`
	EntryShape []ShapeEdge `yaml:"entry_shape,omitempty"`
}

// Param returns the declared parameter with the given name.
func (s *Signature) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Stmt is the closed set of elaborated statements the checker walks.
type Stmt interface {
	Pos() Position
	stmtNode()
}

// Bind introduces a fresh value-semantic binding: a new region is allocated
// for Var.
type Bind struct {
	P    Position `yaml:"pos"`
	Var  string   `yaml:"var"`
	Type string   `yaml:"type"`
}

// FieldRead binds Var to the value of Src.Field. Isolated fields are
// explored into their own region; ordinary fields alias Src's region.
type FieldRead struct {
	P     Position `yaml:"pos"`
	Var   string   `yaml:"var"`
	Src   string   `yaml:"src"`
	Field string   `yaml:"field"`
}

// VarAssign rebinds Var to Src's current region (strong update).
type VarAssign struct {
	P   Position `yaml:"pos"`
	Var string   `yaml:"var"`
	Src string   `yaml:"src"`
}

// FieldAssign stores Src into Target.Field. For isolated fields this updates
// the tracked child edge in the region store directly.
type FieldAssign struct {
	P      Position `yaml:"pos"`
	Target string   `yaml:"target"`
	Field  string   `yaml:"field"`
	Src    string   `yaml:"src"`
}

// Call is a synchronous call. Var may be empty when the result is unused.
type Call struct {
	P      Position `yaml:"pos"`
	Var    string   `yaml:"var,omitempty"`
	Callee string   `yaml:"callee"`
	Args   []string `yaml:"args,omitempty"`
}

// Spawn starts Callee in another concurrency domain and binds Handle to the
// in-flight computation. The argument regions leave the store until Await.
type Spawn struct {
	P      Position `yaml:"pos"`
	Handle string   `yaml:"handle"`
	Callee string   `yaml:"callee"`
	Args   []string `yaml:"args,omitempty"`
}

// Await redeems Handle, reinstating the preserved argument regions and
// binding Var to the result.
type Await struct {
	P      Position `yaml:"pos"`
	Var    string   `yaml:"var,omitempty"`
	Handle string   `yaml:"handle"`
}

// If is a two-way branch. The checker walks both arms from the current state
// and unifies the resulting states at the join.
type If struct {
	P    Position `yaml:"pos"`
	Then []Stmt   `yaml:"then"`
	Else []Stmt   `yaml:"else,omitempty"`
}

// Return ends the function, checking Var (if any) and the surviving state
// against the declared contract.
type Return struct {
	P   Position `yaml:"pos"`
	Var string   `yaml:"var,omitempty"`
}

func (s *Bind) Pos() Position        { return s.P }
func (s *FieldRead) Pos() Position   { return s.P }
func (s *VarAssign) Pos() Position   { return s.P }
func (s *FieldAssign) Pos() Position { return s.P }
func (s *Call) Pos() Position        { return s.P }
func (s *Spawn) Pos() Position       { return s.P }
func (s *Await) Pos() Position       { return s.P }
func (s *If) Pos() Position          { return s.P }
func (s *Return) Pos() Position      { return s.P }

func (*Bind) stmtNode()        {}
func (*FieldRead) stmtNode()   {}
func (*VarAssign) stmtNode()   {}
func (*FieldAssign) stmtNode() {}
func (*Call) stmtNode()        {}
func (*Spawn) stmtNode()       {}
func (*Await) stmtNode()       {}
func (*If) stmtNode()          {}
func (*Return) stmtNode()      {}

// Function is one declaration: its contract plus the elaborated body.
type Function struct {
	Sig  Signature
	Body []Stmt
}

// Program is the unit the checker accepts: the nominal types in play and
// every function, each checked independently from a signature-clean state.
type Program struct {
	Types []TypeDecl
	Funcs []Function
}

// TypeDecl returns the declared type with the given name.
func (p *Program) TypeDecl(name string) (*TypeDecl, bool) {
	for i := range p.Types {
		if p.Types[i].Name == name {
			return &p.Types[i], true
		}
	}
	return nil, false
}

// Func returns the declared function with the given name.
func (p *Program) Func(name string) (*Function, bool) {
	for i := range p.Funcs {
		if p.Funcs[i].Sig.Name == name {
			return &p.Funcs[i], true
		}
	}
	return nil, false
}
