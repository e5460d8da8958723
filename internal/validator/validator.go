// Package validator checks the data amsgen hands to other programs against
// embedded CUE schemas: the relational facts, the host contract of every
// generated model and the lint output.
//
// A failed validation is a bug in the producer. Fix the code that built
// the data, or change the schema together with every consumer; never
// silence the error.
package validator

import (
	"embed"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/robert-at-pretension-io/amsgen/internal/module"
)

//go:embed facts_schema.cue
var factsSchemaFS embed.FS

//go:embed contract_schema.cue
var contractSchemaFS embed.FS

//go:embed output_schema.cue
var outputSchemaFS embed.FS

// schema is one compiled CUE file and the definition data must unify with
type schema struct {
	ctx  *cue.Context
	def  cue.Value
	what string
}

func load(fs embed.FS, file, path, what string) (*schema, error) {
	ctx := cuecontext.New()

	src, err := fs.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("loading embedded %s schema: %w", what, err)
	}

	v := ctx.CompileBytes(src)
	if v.Err() != nil {
		return nil, fmt.Errorf("compiling %s schema: %w", what, v.Err())
	}

	def := v.LookupPath(cue.ParsePath(path))
	if def.Err() != nil {
		return nil, fmt.Errorf("looking up %s definition: %w", path, def.Err())
	}
	return &schema{ctx: ctx, def: def, what: what}, nil
}

func (s *schema) validate(data interface{}) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s to JSON: %w", s.what, err)
	}
	return s.validateJSON(jsonBytes)
}

func (s *schema) validateJSON(jsonBytes []byte) error {
	dataValue := s.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return fmt.Errorf("compiling %s as CUE: %w", s.what, dataValue.Err())
	}

	// Unify the data with the schema (this is CUE's type checking)
	unified := s.def.Unify(dataValue)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s schema validation failed: %w", s.what, err)
	}
	return nil
}

// errorList flattens a validation error into one line per problem
func errorList(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	for _, e := range errors.Errors(err) {
		out = append(out, e.Error())
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

// FactsValidator validates relational fact tables against the facts schema.
type FactsValidator struct {
	s *schema
}

// NewFactsValidator creates a validator for relational fact tables.
func NewFactsValidator() (*FactsValidator, error) {
	s, err := load(factsSchemaFS, "facts_schema.cue", "#FactTables", "facts")
	if err != nil {
		return nil, err
	}
	return &FactsValidator{s: s}, nil
}

// Validate checks that the fact tables conform to the facts schema.
func (v *FactsValidator) Validate(data interface{}) error { return v.s.validate(data) }

// ValidateJSON validates JSON bytes directly against the schema
func (v *FactsValidator) ValidateJSON(jsonBytes []byte) error { return v.s.validateJSON(jsonBytes) }

// ValidationErrors returns one message per schema violation
func (v *FactsValidator) ValidationErrors(data interface{}) []string {
	return errorList(v.s.validate(data))
}

// Contract is what a generated model exposes to the host
type Contract struct {
	Module   string           `json:"module"`
	Nodes    []string         `json:"nodes"`
	Probes   int              `json:"probes"`
	Branches []ContractBranch `json:"branches"`
}

// ContractBranch is one live branch of a Contract
type ContractBranch struct {
	Name    string `json:"name"`
	P       int    `json:"p"`
	N       int    `json:"n"`
	Kind    string `json:"kind"`
	Element string `json:"element"`
	Deps    []int  `json:"deps"`
	Slots   int    `json:"slots"`
}

// ContractOf describes the model emitted for m
func ContractOf(m *module.Module) Contract {
	c := Contract{Module: m.Name, Nodes: []string{}, Probes: len(m.Topo.Probes()), Branches: []ContractBranch{}}
	for _, n := range m.Topo.Nodes() {
		c.Nodes = append(c.Nodes, n.Name)
	}
	for _, bi := range m.Branches {
		p, n := m.Topo.Ends(bi.ID)
		b := ContractBranch{
			Name:    bi.Name,
			P:       int(p),
			N:       int(n),
			Kind:    bi.Kind.String(),
			Element: bi.Element.String(),
			Deps:    []int{},
			Slots:   bi.Slots(),
		}
		for _, d := range bi.Deps {
			b.Deps = append(b.Deps, int(d.Probe))
		}
		c.Branches = append(c.Branches, b)
	}
	return c
}

// ContractValidator checks generated model contracts
type ContractValidator struct {
	s *schema
}

// NewContractValidator creates a validator for host contracts
func NewContractValidator() (*ContractValidator, error) {
	s, err := load(contractSchemaFS, "contract_schema.cue", "#Contract", "contract")
	if err != nil {
		return nil, err
	}
	return &ContractValidator{s: s}, nil
}

// Validate checks a contract, typically built with ContractOf
func (v *ContractValidator) Validate(c Contract) error { return v.s.validate(c) }

// OutputValidator validates linter output against the output schema
type OutputValidator struct {
	s *schema
}

// NewOutputValidator creates a validator for linter output
func NewOutputValidator() (*OutputValidator, error) {
	s, err := load(outputSchemaFS, "output_schema.cue", "#LintOutput", "output")
	if err != nil {
		return nil, err
	}
	return &OutputValidator{s: s}, nil
}

// Validate checks that the output data conforms to the output schema
func (v *OutputValidator) Validate(data interface{}) error { return v.s.validate(data) }
