package topology

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
)

func snapshot(t *Topology) []NodeID {
	out := make([]NodeID, len(t.nodes))
	for i := range t.nodes {
		out[i] = t.Find(NodeID(i))
	}
	return out
}

func TestNewNodeIdempotent(t *testing.T) {
	top := New()
	a := top.NewNode("a")
	if again := top.NewNode("a"); again != a {
		t.Fatalf("NewNode not idempotent: %d vs %d", a, again)
	}
	if a == Ground {
		t.Fatalf("user node must not alias ground")
	}
	top.SetGround("vss")
	if id, _ := top.LookupNode("vss"); id != Ground {
		t.Fatalf("vss should resolve to ground")
	}
}

func TestNewBranchReversed(t *testing.T) {
	top := New()
	a, b := top.NewNode("a"), top.NewNode("b")
	ab := top.NewBranch(a, b)
	ba := top.NewBranch(b, a)
	if ab.ID != ba.ID || ab.Reversed || !ba.Reversed {
		t.Fatalf("expected shared branch with reversed ref, got %+v %+v", ab, ba)
	}
	if again := top.NewBranch(a, b); again != ab {
		t.Fatalf("NewBranch not idempotent")
	}
}

func TestMergeIdempotentAndShort(t *testing.T) {
	top := New()
	a, b, c := top.NewNode("a"), top.NewNode("b"), top.NewNode("c")
	ab := top.NewBranch(a, b)
	bc := top.NewBranch(b, c)

	top.MergeBranch(ab.ID)
	once := snapshot(top)
	top.MergeBranch(ab.ID)
	if diff := cmp.Diff(once, snapshot(top)); diff != "" {
		t.Fatalf("second merge changed topology (-once +twice):\n%s", diff)
	}
	if !top.IsShort(ab.ID) {
		t.Fatalf("merged branch must be short")
	}
	if top.IsShort(bc.ID) {
		t.Fatalf("unmerged branch must not be short")
	}
	if top.Find(b) != a {
		t.Fatalf("higher index must fold into lower: find(b)=%d", top.Find(b))
	}
	top.Merge(c, c) // self-merge is a no-op
	if top.Find(c) != c {
		t.Fatalf("self merge changed c")
	}
}

func TestMergeResolvesToSmallestIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	top := New()
	var ids []NodeID
	for i := 0; i < 30; i++ {
		ids = append(ids, top.NewNode(string(rune('a'+i%26))+string(rune('0'+i/26))))
	}
	for i := 0; i < 40; i++ {
		top.Merge(ids[rng.Intn(len(ids))], ids[rng.Intn(len(ids))])
	}
	classMin := map[NodeID]NodeID{}
	for _, n := range ids {
		r := top.Find(n)
		if m, ok := classMin[r]; !ok || n < m {
			classMin[r] = n
		}
	}
	for r, m := range classMin {
		if r != m {
			t.Fatalf("representative %d is not the smallest member %d", r, m)
		}
	}
	for _, n := range ids {
		b := top.NewBranch(n, ids[0])
		if top.IsShort(b.ID) != (top.Find(n) == top.Find(ids[0])) {
			t.Fatalf("IsShort disagrees with Find for node %d", n)
		}
	}
}

func TestProbeDedup(t *testing.T) {
	top := New()
	a, b := top.NewNode("a"), top.NewNode("b")
	p1 := top.Probe(Potential, top.NewBranch(a, b), "V")
	p2 := top.Probe(Potential, top.NewBranch(b, a), "V")
	f := top.Probe(Flow, top.NewBranch(a, b), "I")
	if p1.ID != p2.ID || p1.Neg || !p2.Neg {
		t.Fatalf("V(a,b) and V(b,a) must share a probe: %+v %+v", p1, p2)
	}
	if f.ID == p1.ID {
		t.Fatalf("flow and potential probes must differ")
	}
	if got := top.ProbeName(p1.ID); got != "V(a,b)" {
		t.Fatalf("probe name = %q", got)
	}
}

func TestCountersAndClose(t *testing.T) {
	top := New()
	a := top.NewNode("a")
	br := top.NewBranch(a, Ground)
	p := top.Probe(Potential, br, "V")

	top.Acquire(br.ID)
	top.AddSource(br.ID, FlowSource)
	top.UseProbe(p.ID)
	b := top.Branch(br.ID)
	if !b.Live() || b.Readers() != 1 || b.FlowSources() != 1 || b.Uses() != 2 {
		t.Fatalf("unexpected counters uses=%d readers=%d flow=%d", b.Uses(), b.Readers(), b.FlowSources())
	}
	top.ReleaseProbe(p.ID)
	top.RemoveSource(br.ID, FlowSource)
	top.Release(br.ID)
	if b.Live() {
		t.Fatalf("branch should be dead after release")
	}
	top.Close()
}

func TestCloseWithLiveReferencePanics(t *testing.T) {
	top := New()
	br := top.NewBranch(top.NewNode("a"), Ground)
	top.Acquire(br.ID)
	defer func() {
		r := recover()
		if r == nil || !diag.IsInternal(r) {
			t.Fatalf("expected internal error panic, got %v", r)
		}
	}()
	top.Close()
}

func TestAccessKind(t *testing.T) {
	top := New()
	a, th := top.NewNode("a"), top.NewNode("th")
	top.Node(a).Discipline = "electrical"
	top.Node(th).Discipline = "thermal"

	ea := top.NewBranch(a, Ground)
	if k, err := top.AccessKind("I", ea.ID, diag.Pos{}); err != nil || k != Flow {
		t.Fatalf("I on electrical: kind=%v err=%v", k, err)
	}
	if _, err := top.AccessKind("Temp", ea.ID, diag.Pos{}); err == nil {
		t.Fatalf("Temp on electrical branch must fail")
	}
	tb := top.NewBranch(th, Ground)
	if k, err := top.AccessKind("Temp", tb.ID, diag.Pos{}); err != nil || k != Potential {
		t.Fatalf("Temp on thermal: kind=%v err=%v", k, err)
	}
	mixed := top.NewBranch(a, th)
	if _, err := top.AccessKind("V", mixed.ID, diag.Pos{}); err == nil {
		t.Fatalf("mixed discipline branch must fail")
	}
}
