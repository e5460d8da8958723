// Package topology owns the circuit graph of one module: nodes, branches and
// the deduplicated probe registry. All cross references are integer handles
// into arenas owned by a Topology.
package topology

import (
	"fmt"

	"github.com/robert-at-pretension-io/amsgen/internal/diag"
)

// NodeID is a stable node index. Ground is always 0.
type NodeID int

// Ground is the implicit reference node
const Ground NodeID = 0

// Node is a circuit terminal
type Node struct {
	ID         NodeID
	Name       string
	Discipline string
	Port       bool
	// Internal nodes are created by the compiler (filter states).
	Internal bool

	target NodeID
}

// BranchID indexes a branch
type BranchID int

// BranchRef is a possibly polarity-reversed reference to a branch
type BranchRef struct {
	ID       BranchID
	Reversed bool
}

// Sign returns -1 for reversed references
func (r BranchRef) Sign() float64 {
	if r.Reversed {
		return -1
	}
	return 1
}

// Branch is an ordered node pair with use counters
type Branch struct {
	ID       BranchID
	P, N     NodeID
	Name     string
	Internal bool

	potentialSources int
	flowSources      int
	readers          int
	uses             int
}

// Topology is the node/branch/probe arena of one module
type Topology struct {
	nodes    []*Node
	byName   map[string]NodeID
	branches []*Branch
	pairs    map[[2]NodeID]BranchID
	aliases  map[string]BranchRef
	probes   []*Probe
	probeIdx map[probeKey]ProbeID
	closed   bool
}

// New creates a topology holding only the ground node
func New() *Topology {
	t := &Topology{
		byName:   make(map[string]NodeID),
		pairs:    make(map[[2]NodeID]BranchID),
		aliases:  make(map[string]BranchRef),
		probeIdx: make(map[probeKey]ProbeID),
	}
	t.nodes = append(t.nodes, &Node{ID: Ground, Name: "gnd", target: Ground})
	return t
}

// NewNode returns the node called name, creating it on first use.
func (t *Topology) NewNode(name string) NodeID {
	if id, ok := t.byName[name]; ok {
		return id
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, &Node{ID: id, Name: name, target: id})
	t.byName[name] = id
	return id
}

// NewInternalNode creates a compiler-generated node with a unique name
func (t *Topology) NewInternalNode(prefix string) NodeID {
	name := prefix
	for i := 1; ; i++ {
		if _, ok := t.byName[name]; !ok {
			break
		}
		name = fmt.Sprintf("%s_%d", prefix, i)
	}
	id := t.NewNode(name)
	t.nodes[id].Internal = true
	return id
}

// LookupNode finds a node by name
func (t *Topology) LookupNode(name string) (NodeID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// SetGround makes name an alias of the ground node
func (t *Topology) SetGround(name string) {
	t.byName[name] = Ground
}

// Node returns the node record
func (t *Topology) Node(id NodeID) *Node { return t.nodes[id] }

// Nodes returns all nodes by index
func (t *Topology) Nodes() []*Node { return t.nodes }

// NewBranch returns the branch between p and n. A pair first created as
// (n, p) is returned as a reversed reference.
func (t *Topology) NewBranch(p, n NodeID) BranchRef {
	if id, ok := t.pairs[[2]NodeID{p, n}]; ok {
		return BranchRef{ID: id}
	}
	if id, ok := t.pairs[[2]NodeID{n, p}]; ok {
		return BranchRef{ID: id, Reversed: true}
	}
	id := BranchID(len(t.branches))
	t.branches = append(t.branches, &Branch{ID: id, P: p, N: n})
	t.pairs[[2]NodeID{p, n}] = id
	return BranchRef{ID: id}
}

// NewInternalBranch creates a fresh branch that is never shared with
// user-visible node pairs.
func (t *Topology) NewInternalBranch(p, n NodeID, name string) BranchRef {
	ref := t.NewBranch(p, n)
	b := t.branches[ref.ID]
	b.Internal = true
	if b.Name == "" {
		b.Name = name
	}
	return ref
}

// Alias names a branch reference
func (t *Topology) Alias(name string, ref BranchRef) {
	t.aliases[name] = ref
	if b := t.branches[ref.ID]; b.Name == "" {
		b.Name = name
	}
}

// LookupAlias resolves a named branch
func (t *Topology) LookupAlias(name string) (BranchRef, bool) {
	r, ok := t.aliases[name]
	return r, ok
}

// Branch returns the branch record
func (t *Topology) Branch(id BranchID) *Branch { return t.branches[id] }

// Branches returns all branches by index
func (t *Topology) Branches() []*Branch { return t.branches }

// BranchName returns a display name: the alias or "(p,n)".
func (t *Topology) BranchName(id BranchID) string {
	b := t.branches[id]
	if b.Name != "" {
		return b.Name
	}
	return fmt.Sprintf("(%s,%s)", t.nodes[b.P].Name, t.nodes[b.N].Name)
}

// Find follows merge targets to the representative of n's class, which is
// always the smallest index in the class.
func (t *Topology) Find(n NodeID) NodeID {
	root := n
	for steps := 0; t.nodes[root].target != root; steps++ {
		if steps > len(t.nodes) {
			diag.Internalf("merge cycle through node %s", t.nodes[n].Name)
		}
		root = t.nodes[root].target
	}
	for n != root {
		next := t.nodes[n].target
		t.nodes[n].target = root
		n = next
	}
	return root
}

// Merge folds the higher-index class of p and n into the lower one. Merging
// a node with itself, or two nodes already merged, is a no-op.
func (t *Topology) Merge(p, n NodeID) {
	rp, rn := t.Find(p), t.Find(n)
	if rp == rn {
		return
	}
	lo, hi := rp, rn
	if hi < lo {
		lo, hi = hi, lo
	}
	t.nodes[hi].target = lo
}

// MergeBranch shorts a branch
func (t *Topology) MergeBranch(id BranchID) {
	b := t.branches[id]
	t.Merge(b.P, b.N)
}

// IsShort reports whether both ends of the branch resolve to one node
func (t *Topology) IsShort(id BranchID) bool {
	b := t.branches[id]
	return t.Find(b.P) == t.Find(b.N)
}

// Ends returns the merge-resolved nodes of a branch
func (t *Topology) Ends(id BranchID) (NodeID, NodeID) {
	b := t.branches[id]
	return t.Find(b.P), t.Find(b.N)
}

// SourceKind distinguishes potential from flow contributions
type SourceKind int

const (
	PotentialSource SourceKind = iota
	FlowSource
)

// AddSource registers a contribution targeting the branch
func (t *Topology) AddSource(id BranchID, k SourceKind) {
	b := t.branches[id]
	if k == PotentialSource {
		b.potentialSources++
	} else {
		b.flowSources++
	}
}

// RemoveSource undoes AddSource
func (t *Topology) RemoveSource(id BranchID, k SourceKind) {
	b := t.branches[id]
	if k == PotentialSource {
		b.potentialSources--
	} else {
		b.flowSources--
	}
	if b.potentialSources < 0 || b.flowSources < 0 {
		diag.Internalf("negative source count on branch %s", t.BranchName(id))
	}
}

// Acquire records a statement reference to the branch
func (t *Topology) Acquire(id BranchID) { t.branches[id].uses++ }

// Release drops a statement reference
func (t *Topology) Release(id BranchID) {
	b := t.branches[id]
	b.uses--
	if b.uses < 0 {
		diag.Internalf("negative use count on branch %s", t.BranchName(id))
	}
}

// PotentialSources returns the number of live potential contributions
func (b *Branch) PotentialSources() int { return b.potentialSources }

// FlowSources returns the number of live flow contributions
func (b *Branch) FlowSources() int { return b.flowSources }

// Readers returns the number of live probe reads
func (b *Branch) Readers() int { return b.readers }

// Uses returns the statement reference count
func (b *Branch) Uses() int { return b.uses }

// Live reports whether the branch is referenced at all
func (b *Branch) Live() bool {
	return b.uses > 0 || b.potentialSources > 0 || b.flowSources > 0
}

// HasSources reports whether any live contribution targets the branch
func (b *Branch) HasSources() bool {
	return b.potentialSources > 0 || b.flowSources > 0
}

// Close tears the arenas down. Every counter must have returned to zero;
// anything else is a bookkeeping defect and panics.
func (t *Topology) Close() {
	if t.closed {
		diag.Internalf("topology closed twice")
	}
	for _, p := range t.probes {
		if p.uses != 0 {
			diag.Internalf("probe %s still has %d users at teardown", t.ProbeName(p.ID), p.uses)
		}
	}
	for _, b := range t.branches {
		if b.uses != 0 || b.readers != 0 || b.potentialSources != 0 || b.flowSources != 0 {
			diag.Internalf("branch %s still referenced at teardown (uses=%d readers=%d sources=%d/%d)",
				t.BranchName(b.ID), b.uses, b.readers, b.potentialSources, b.flowSources)
		}
	}
	t.closed = true
	t.probes = nil
	t.branches = nil
}
