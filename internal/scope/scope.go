// Package scope implements the lexical symbol tree: module, named block and
// analog function scopes, each a name to declaration map with a parent link.
package scope

import (
	"sort"

	"github.com/agnivade/levenshtein"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
)

// Kind of scope
type Kind int

const (
	ModuleScope Kind = iota
	BlockScope
	FunctionScope
)

func (k Kind) String() string {
	switch k {
	case ModuleScope:
		return "module"
	case BlockScope:
		return "block"
	case FunctionScope:
		return "function"
	}
	return "unknown"
}

// DeclKind classifies a declaration
type DeclKind int

const (
	Net DeclKind = iota
	Branch
	Parameter
	LocalParam
	Variable
	Function
	FunctionArg
	Block
)

func (k DeclKind) String() string {
	switch k {
	case Net:
		return "net"
	case Branch:
		return "branch"
	case Parameter:
		return "parameter"
	case LocalParam:
		return "localparam"
	case Variable:
		return "variable"
	case Function:
		return "function"
	case FunctionArg:
		return "function argument"
	case Block:
		return "block"
	}
	return "unknown"
}

// Decl is one named declaration. Payload carries the owning package's data
// (a topology handle, a variable record, a function definition).
type Decl struct {
	Name    string
	Kind    DeclKind
	Pos     diag.Pos
	Scope   *Scope
	Payload interface{}
}

// Scope is one lexical block
type Scope struct {
	Kind   Kind
	Name   string
	Parent *Scope

	decls    map[string]*Decl
	order    []string
	children []*Scope
}

// New creates a root scope
func New(kind Kind, name string) *Scope {
	return &Scope{Kind: kind, Name: name, decls: make(map[string]*Decl)}
}

// Child opens a nested scope
func (s *Scope) Child(kind Kind, name string) *Scope {
	c := New(kind, name)
	c.Parent = s
	s.children = append(s.children, c)
	return c
}

// Children returns nested scopes in creation order
func (s *Scope) Children() []*Scope { return s.children }

// Path returns the dotted path from the root, e.g. "amp.loop".
func (s *Scope) Path() string {
	if s.Parent == nil {
		return s.Name
	}
	if s.Name == "" {
		return s.Parent.Path()
	}
	return s.Parent.Path() + "." + s.Name
}

// Declare adds a declaration. A second declaration of the same name in the
// same scope is a semantic error.
func (s *Scope) Declare(d *Decl) error {
	if prev, ok := s.decls[d.Name]; ok {
		return diag.Semanticf(d.Pos, "duplicate declaration of '%s' (previous %s declared at %s)", d.Name, prev.Kind, prev.Pos)
	}
	d.Scope = s
	s.decls[d.Name] = d
	s.order = append(s.order, d.Name)
	return nil
}

// LookupLocal finds a name in this scope only
func (s *Scope) LookupLocal(name string) (*Decl, bool) {
	d, ok := s.decls[name]
	return d, ok
}

// Lookup finds a name walking outward through parents
func (s *Scope) Lookup(name string) (*Decl, bool) {
	for sc := s; sc != nil; sc = sc.Parent {
		if d, ok := sc.decls[name]; ok {
			return d, true
		}
	}
	return nil, false
}

// Resolve is Lookup returning a semantic error with spelling suggestions
func (s *Scope) Resolve(name string, pos diag.Pos) (*Decl, error) {
	if d, ok := s.Lookup(name); ok {
		return d, nil
	}
	return nil, &diag.SemanticError{
		Pos:         pos,
		Msg:         "unknown identifier '" + name + "'",
		Suggestions: s.Suggest(name, 2),
	}
}

// Decls returns this scope's declarations in declaration order
func (s *Scope) Decls() []*Decl {
	out := make([]*Decl, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.decls[n])
	}
	return out
}

// Suggest returns up to max visible names within edit distance 2 of name,
// closest first.
func (s *Scope) Suggest(name string, max int) []string {
	type cand struct {
		name string
		dist int
	}
	seen := make(map[string]bool)
	var cands []cand
	for sc := s; sc != nil; sc = sc.Parent {
		for _, n := range sc.order {
			if seen[n] {
				continue
			}
			seen[n] = true
			limit := 2
			if len(name) <= 3 {
				limit = 1
			}
			if d := levenshtein.ComputeDistance(name, n); d <= limit {
				cands = append(cands, cand{n, d})
			}
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].name < cands[j].name
	})
	var out []string
	for i := 0; i < len(cands) && i < max; i++ {
		out = append(out, cands[i].name)
	}
	return out
}
