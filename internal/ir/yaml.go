package ir

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rawStmt is the YAML wire form of a statement: a flat record with an "op"
// discriminator. Keeping one struct for every op keeps decoding dumb; the
// per-op field requirements are enforced in build, not by the YAML layer.
type rawStmt struct {
	Op     string    `yaml:"op"`
	Line   int       `yaml:"line"`
	Column int       `yaml:"column,omitempty"`
	Var    string    `yaml:"var,omitempty"`
	Type   string    `yaml:"type,omitempty"`
	Src    string    `yaml:"src,omitempty"`
	Target string    `yaml:"target,omitempty"`
	Field  string    `yaml:"field,omitempty"`
	Callee string    `yaml:"callee,omitempty"`
	Args   []string  `yaml:"args,omitempty"`
	Handle string    `yaml:"handle,omitempty"`
	Then   []rawStmt `yaml:"then,omitempty"`
	Else   []rawStmt `yaml:"else,omitempty"`
}

type rawFunction struct {
	Name       string      `yaml:"name"`
	Params     []Param     `yaml:"params,omitempty"`
	Result     Result      `yaml:"result,omitempty"`
	EntryShape []ShapeEdge `yaml:"entry_shape,omitempty"`
	Body       []rawStmt   `yaml:"body,omitempty"`
}

type rawProgram struct {
	Types []TypeDecl    `yaml:"types,omitempty"`
	Funcs []rawFunction `yaml:"functions,omitempty"`
}

// Load decodes a program from YAML and validates it structurally.
func Load(data []byte) (*Program, error) {
	var raw rawProgram
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing program: %w", err)
	}

	prog := &Program{Types: raw.Types}
	for _, rf := range raw.Funcs {
		body, err := buildStmts(rf.Name, rf.Body)
		if err != nil {
			return nil, err
		}
		prog.Funcs = append(prog.Funcs, Function{
			Sig: Signature{
				Name:       rf.Name,
				Params:     rf.Params,
				Result:     rf.Result,
				EntryShape: rf.EntryShape,
			},
			Body: body,
		})
	}

	if err := prog.Validate(); err != nil {
		return nil, err
	}
	return prog, nil
}

// LoadFile reads and decodes a program file.
func LoadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Load(data)
}

func buildStmts(fn string, raw []rawStmt) ([]Stmt, error) {
	var out []Stmt
	for i, rs := range raw {
		s, err := buildStmt(fn, rs)
		if err != nil {
			return nil, fmt.Errorf("%s: statement %d: %w", fn, i+1, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func buildStmt(fn string, rs rawStmt) (Stmt, error) {
	pos := Position{Line: rs.Line, Column: rs.Column}
	switch rs.Op {
	case "bind":
		if rs.Var == "" || rs.Type == "" {
			return nil, fmt.Errorf("bind requires var and type")
		}
		return &Bind{P: pos, Var: rs.Var, Type: rs.Type}, nil
	case "field_read":
		if rs.Var == "" || rs.Src == "" || rs.Field == "" {
			return nil, fmt.Errorf("field_read requires var, src and field")
		}
		return &FieldRead{P: pos, Var: rs.Var, Src: rs.Src, Field: rs.Field}, nil
	case "assign":
		if rs.Var == "" || rs.Src == "" {
			return nil, fmt.Errorf("assign requires var and src")
		}
		return &VarAssign{P: pos, Var: rs.Var, Src: rs.Src}, nil
	case "field_assign":
		if rs.Target == "" || rs.Field == "" || rs.Src == "" {
			return nil, fmt.Errorf("field_assign requires target, field and src")
		}
		return &FieldAssign{P: pos, Target: rs.Target, Field: rs.Field, Src: rs.Src}, nil
	case "call":
		if rs.Callee == "" {
			return nil, fmt.Errorf("call requires callee")
		}
		return &Call{P: pos, Var: rs.Var, Callee: rs.Callee, Args: rs.Args}, nil
	case "spawn":
		if rs.Callee == "" || rs.Handle == "" {
			return nil, fmt.Errorf("spawn requires callee and handle")
		}
		return &Spawn{P: pos, Handle: rs.Handle, Callee: rs.Callee, Args: rs.Args}, nil
	case "await":
		if rs.Handle == "" {
			return nil, fmt.Errorf("await requires handle")
		}
		return &Await{P: pos, Var: rs.Var, Handle: rs.Handle}, nil
	case "if":
		thenStmts, err := buildStmts(fn, rs.Then)
		if err != nil {
			return nil, err
		}
		elseStmts, err := buildStmts(fn, rs.Else)
		if err != nil {
			return nil, err
		}
		return &If{P: pos, Then: thenStmts, Else: elseStmts}, nil
	case "return":
		return &Return{P: pos, Var: rs.Var}, nil
	default:
		return nil, fmt.Errorf("unknown op %q", rs.Op)
	}
}

// Validate checks program structure that must hold before any region
// reasoning starts: declared modes, groups, result origins and entry-shape
// references. Per-statement problems (unknown callees, unknown fields) are
// reported later as checker diagnostics so that one bad statement does not
// hide the rest of the function.
func (p *Program) Validate() error {
	types := make(map[string]bool, len(p.Types))
	for _, t := range p.Types {
		if t.Name == "" {
			return fmt.Errorf("type with empty name")
		}
		if types[t.Name] {
			return fmt.Errorf("duplicate type %q", t.Name)
		}
		types[t.Name] = true
		fields := make(map[string]bool, len(t.Fields))
		for _, f := range t.Fields {
			if fields[f.Name] {
				return fmt.Errorf("type %s: duplicate field %q", t.Name, f.Name)
			}
			fields[f.Name] = true
		}
	}

	funcs := make(map[string]bool, len(p.Funcs))
	for i := range p.Funcs {
		if err := p.Funcs[i].Sig.validate(); err != nil {
			return err
		}
		name := p.Funcs[i].Sig.Name
		if funcs[name] {
			return fmt.Errorf("duplicate function %q", name)
		}
		funcs[name] = true
	}
	return nil
}

func (s *Signature) validate() error {
	if s.Name == "" {
		return fmt.Errorf("function with empty name")
	}
	seen := make(map[string]bool, len(s.Params))
	groups := make(map[int]int)
	for _, p := range s.Params {
		if p.Name == "" {
			return fmt.Errorf("%s: parameter with empty name", s.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%s: duplicate parameter %q", s.Name, p.Name)
		}
		seen[p.Name] = true
		switch p.Mode {
		case ModePreserved, ModeConsumed:
		case "":
			return fmt.Errorf("%s: parameter %s: missing mode", s.Name, p.Name)
		default:
			return fmt.Errorf("%s: parameter %s: unknown mode %q", s.Name, p.Name, p.Mode)
		}
		if p.Group != 0 {
			groups[p.Group]++
		}
	}
	for id, n := range groups {
		if n < 2 {
			return fmt.Errorf("%s: group %d names a single parameter", s.Name, id)
		}
	}

	if s.Result.Type != "" {
		switch s.Result.Origin {
		case ResultOriginFresh:
		case "":
			return fmt.Errorf("%s: result has type but no origin", s.Name)
		default:
			origin, ok := s.Param(s.Result.Origin)
			if !ok {
				return fmt.Errorf("%s: result origin %q is not a parameter", s.Name, s.Result.Origin)
			}
			if origin.Mode != ModePreserved {
				return fmt.Errorf("%s: result origin %q must be a preserved parameter", s.Name, s.Result.Origin)
			}
		}
	} else if s.Result.Origin != "" {
		return fmt.Errorf("%s: result has origin but no type", s.Name)
	}

	for _, e := range s.EntryShape {
		if _, ok := s.Param(e.Var); !ok {
			return fmt.Errorf("%s: entry shape names unknown parameter %q", s.Name, e.Var)
		}
		if e.Field == "" {
			return fmt.Errorf("%s: entry shape edge for %s has no field", s.Name, e.Var)
		}
		if e.Dead && e.Target != "" {
			return fmt.Errorf("%s: entry shape edge %s.%s is both dead and targeted", s.Name, e.Var, e.Field)
		}
		if !e.Dead && e.Target == "" {
			return fmt.Errorf("%s: entry shape edge %s.%s needs a target or dead marker", s.Name, e.Var, e.Field)
		}
		if e.Target != "" {
			if _, ok := s.Param(e.Target); !ok {
				return fmt.Errorf("%s: entry shape edge %s.%s targets unknown parameter %q", s.Name, e.Var, e.Field, e.Target)
			}
		}
	}
	return nil
}

// Marshal encodes a function back to its YAML wire form. The encoding is
// canonical (field order fixed by the raw structs), which is what the CLI
// cache hashes.
func (f *Function) Marshal() ([]byte, error) {
	raw := rawFunction{
		Name:       f.Sig.Name,
		Params:     f.Sig.Params,
		Result:     f.Sig.Result,
		EntryShape: f.Sig.EntryShape,
		Body:       rawStmts(f.Body),
	}
	return yaml.Marshal(raw)
}

func rawStmts(stmts []Stmt) []rawStmt {
	var out []rawStmt
	for _, s := range stmts {
		out = append(out, rawOf(s))
	}
	return out
}

func rawOf(s Stmt) rawStmt {
	pos := s.Pos()
	rs := rawStmt{Line: pos.Line, Column: pos.Column}
	switch n := s.(type) {
	case *Bind:
		rs.Op, rs.Var, rs.Type = "bind", n.Var, n.Type
	case *FieldRead:
		rs.Op, rs.Var, rs.Src, rs.Field = "field_read", n.Var, n.Src, n.Field
	case *VarAssign:
		rs.Op, rs.Var, rs.Src = "assign", n.Var, n.Src
	case *FieldAssign:
		rs.Op, rs.Target, rs.Field, rs.Src = "field_assign", n.Target, n.Field, n.Src
	case *Call:
		rs.Op, rs.Var, rs.Callee, rs.Args = "call", n.Var, n.Callee, n.Args
	case *Spawn:
		rs.Op, rs.Handle, rs.Callee, rs.Args = "spawn", n.Handle, n.Callee, n.Args
	case *Await:
		rs.Op, rs.Var, rs.Handle = "await", n.Var, n.Handle
	case *If:
		rs.Op, rs.Then, rs.Else = "if", rawStmts(n.Then), rawStmts(n.Else)
	case *Return:
		rs.Op, rs.Var = "return", n.Var
	}
	return rs
}
