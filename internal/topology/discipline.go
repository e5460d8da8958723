package topology

import (
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
)

// Discipline names the potential and flow access functions of a net
type Discipline struct {
	Name      string
	Potential string
	Flow      string
	// Abstol for the potential nature, used as the default tolerance.
	Abstol float64
}

var disciplines = map[string]Discipline{
	"electrical": {Name: "electrical", Potential: "V", Flow: "I", Abstol: 1e-6},
	"thermal":    {Name: "thermal", Potential: "Temp", Flow: "Pwr", Abstol: 1e-4},
	"magnetic":   {Name: "magnetic", Potential: "MMF", Flow: "Phi", Abstol: 1e-12},
	"kinematic":  {Name: "kinematic", Potential: "Pos", Flow: "F", Abstol: 1e-6},
	"rotational": {Name: "rotational", Potential: "Theta", Flow: "Tau", Abstol: 1e-6},
}

// LookupDiscipline returns a known discipline by name
func LookupDiscipline(name string) (Discipline, bool) {
	d, ok := disciplines[name]
	return d, ok
}

// IsAccessFunction reports whether name is a potential or flow access
// function of any discipline.
func IsAccessFunction(name string) bool {
	for _, d := range disciplines {
		if d.Potential == name || d.Flow == name {
			return true
		}
	}
	return false
}

// AccessKind validates access function fn against the disciplines of the
// branch's nodes and returns the probe kind it selects. Ground and
// discipline-less internal nodes take the discipline of the other node.
func (t *Topology) AccessKind(fn string, b BranchID, pos diag.Pos) (ProbeKind, error) {
	br := t.branches[b]
	dp, dn := t.nodes[br.P].Discipline, t.nodes[br.N].Discipline
	name := dp
	switch {
	case dp == "":
		name = dn
	case dn != "" && dn != dp:
		return 0, diag.Semanticf(pos, "branch %s connects %s and %s nets", t.BranchName(b), dp, dn)
	}
	if name == "" {
		name = "electrical"
	}
	d := disciplines[name]
	switch fn {
	case d.Potential:
		return Potential, nil
	case d.Flow:
		return Flow, nil
	}
	return 0, diag.Semanticf(pos, "access function %s() is not defined for %s branch %s (use %s or %s)",
		fn, name, t.BranchName(b), d.Potential, d.Flow)
}
