package regions

import "sort"

// Binding is one typing-context entry: the region a variable currently
// names, plus its nominal type.
type Binding struct {
	Region RegionID
	Type   string
}

// Context is the typing context Γ: variable name to (region, type), with
// strong-update semantics. Several variables may name the same region;
// rebinding one never mutates the store.
type Context struct {
	vars map[string]Binding
}

// NewContext creates an empty typing context.
func NewContext() *Context {
	return &Context{vars: make(map[string]Binding)}
}

// Bind installs or overwrites a binding (strong update).
func (c *Context) Bind(name string, r RegionID, typ string) {
	c.vars[name] = Binding{Region: r, Type: typ}
}

// Lookup returns the current binding for a variable.
func (c *Context) Lookup(name string) (Binding, bool) {
	b, ok := c.vars[name]
	return b, ok
}

// Unbind removes a variable.
func (c *Context) Unbind(name string) {
	delete(c.vars, name)
}

// RebindRegion repoints every binding at old to new. Attach uses this to
// relabel after a merge.
func (c *Context) RebindRegion(old, new RegionID) {
	for name, b := range c.vars {
		if b.Region == old {
			b.Region = new
			c.vars[name] = b
		}
	}
}

// Vars returns all bound variable names, sorted.
func (c *Context) Vars() []string {
	out := make([]string, 0, len(c.vars))
	for name := range c.vars {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// VarsOf returns the variables currently naming the region, sorted.
func (c *Context) VarsOf(r RegionID) []string {
	var out []string
	for name, b := range c.vars {
		if b.Region == r {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of bindings.
func (c *Context) Len() int { return len(c.vars) }

// Clone deep-copies the context.
func (c *Context) Clone() *Context {
	n := &Context{vars: make(map[string]Binding, len(c.vars))}
	for name, b := range c.vars {
		n.vars[name] = b
	}
	return n
}
