package module

import (
	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// acquire registers the probe reads and branch targets of one statement
// (not its children) with the topology.
func (m *Module) acquire(s Stmt) {
	for _, e := range ownExprs(s) {
		for _, p := range e.Probes() {
			m.Topo.UseProbe(p.ID)
		}
	}
	if c, ok := s.(*Contribution); ok {
		m.Topo.AddSource(c.Branch.ID, sourceKind(c.Kind))
		m.Topo.Acquire(c.Branch.ID)
	}
}

// release undoes acquire
func (m *Module) release(s Stmt) {
	for _, e := range ownExprs(s) {
		for _, p := range e.Probes() {
			m.Topo.ReleaseProbe(p.ID)
		}
	}
	if c, ok := s.(*Contribution); ok {
		m.Topo.RemoveSource(c.Branch.ID, sourceKind(c.Kind))
		m.Topo.Release(c.Branch.ID)
	}
}

func sourceKind(k topology.ProbeKind) topology.SourceKind {
	if k == topology.Flow {
		return topology.FlowSource
	}
	return topology.PotentialSource
}

// register gives a parsed statement its id and references. Statements
// that can never run drop their references again straight away.
func (m *Module) register(s Stmt) {
	b := s.base()
	b.ID = len(m.stmts)
	if b.TD == nil {
		b.TD = deps.New()
	}
	m.stmts = append(m.stmts, s)
	m.acquire(s)
	if b.Reach == Never {
		m.release(s)
	}
}
