package topology

import (
	"fmt"

	"github.com/robert-at-pretension-io/amsgen/internal/diag"
)

// ProbeKind selects the potential or the flow of a branch
type ProbeKind int

const (
	Potential ProbeKind = iota
	Flow
)

func (k ProbeKind) String() string {
	if k == Flow {
		return "flow"
	}
	return "potential"
}

// ProbeID indexes a probe in the registry
type ProbeID int

// ProbeRef is a probe read with its polarity
type ProbeRef struct {
	ID  ProbeID
	Neg bool
}

// Sign returns -1 for reversed reads
func (r ProbeRef) Sign() float64 {
	if r.Neg {
		return -1
	}
	return 1
}

// Probe is one deduplicated access point
type Probe struct {
	ID     ProbeID
	Kind   ProbeKind
	Branch BranchID
	// Access is the access function name used at first sight (V, I, Temp...).
	Access string

	uses int
}

type probeKey struct {
	kind   ProbeKind
	branch BranchID
}

// Probe returns the probe reading kind on the referenced branch. V(a,b) and
// V(b,a) share one probe; the second is a negated reference.
func (t *Topology) Probe(kind ProbeKind, ref BranchRef, access string) ProbeRef {
	key := probeKey{kind, ref.ID}
	id, ok := t.probeIdx[key]
	if !ok {
		id = ProbeID(len(t.probes))
		t.probes = append(t.probes, &Probe{ID: id, Kind: kind, Branch: ref.ID, Access: access})
		t.probeIdx[key] = id
	}
	return ProbeRef{ID: id, Neg: ref.Reversed}
}

// LookupProbe finds an existing probe without creating it
func (t *Topology) LookupProbe(kind ProbeKind, id BranchID) (ProbeID, bool) {
	p, ok := t.probeIdx[probeKey{kind, id}]
	return p, ok
}

// ProbeOf returns the probe record
func (t *Topology) ProbeOf(id ProbeID) *Probe { return t.probes[id] }

// Probes returns all registered probes by index
func (t *Topology) Probes() []*Probe { return t.probes }

// ProbeName renders a probe as its access function, e.g. V(out,gnd).
func (t *Topology) ProbeName(id ProbeID) string {
	p := t.probes[id]
	b := t.branches[p.Branch]
	access := p.Access
	if access == "" {
		access = "V"
		if p.Kind == Flow {
			access = "I"
		}
	}
	if b.Name != "" {
		return fmt.Sprintf("%s(%s)", access, b.Name)
	}
	return fmt.Sprintf("%s(%s,%s)", access, t.nodes[b.P].Name, t.nodes[b.N].Name)
}

// UseProbe registers a statement read of the probe on its branch
func (t *Topology) UseProbe(id ProbeID) {
	p := t.probes[id]
	p.uses++
	b := t.branches[p.Branch]
	b.readers++
	b.uses++
}

// ReleaseProbe unregisters a statement read
func (t *Topology) ReleaseProbe(id ProbeID) {
	p := t.probes[id]
	p.uses--
	b := t.branches[p.Branch]
	b.readers--
	b.uses--
	if p.uses < 0 || b.readers < 0 {
		diag.Internalf("probe %s released more often than used", t.ProbeName(id))
	}
}

// Uses returns the number of live statement reads
func (p *Probe) Uses() int { return p.uses }
