package chart

import "testing"

func TestResolveTarget_AbsoluteHash(t *testing.T) {
	root := map[string]*StateNode{"A": {Name: "A"}}
	got := ResolveTarget("L", "A", "#L.a.b", root)
	if got != "a.b" {
		t.Errorf("got %q, want a.b", got)
	}
}

func TestResolveTarget_RootRelativeDot(t *testing.T) {
	root := map[string]*StateNode{"A": {Name: "A"}}
	got := ResolveTarget("L", "A.x", ".y", root)
	if got != "y" {
		t.Errorf("got %q, want y", got)
	}
}

func TestResolveTarget_BareNameAtRoot(t *testing.T) {
	root := map[string]*StateNode{"A": {Name: "A"}, "B": {Name: "B"}}
	got := ResolveTarget("L", "A", "B", root)
	if got != "B" {
		t.Errorf("got %q, want B", got)
	}
}

func TestResolveTarget_Sibling(t *testing.T) {
	b1 := &StateNode{Name: "B1"}
	b2 := &StateNode{Name: "B2"}
	parent := &StateNode{Name: "P", Children: map[string]*StateNode{"B1": b1, "B2": b2}}
	root := map[string]*StateNode{"P": parent}

	got := ResolveTarget("L", "P.B1", "B2", root)
	if got != "P.B2" {
		t.Errorf("got %q, want P.B2", got)
	}
}

func TestResolveTarget_FallsBackToRaw(t *testing.T) {
	root := map[string]*StateNode{"A": {Name: "A"}}
	got := ResolveTarget("L", "A", "nowhere", root)
	if got != "nowhere" {
		t.Errorf("got %q, want nowhere (as-given fallback)", got)
	}
}
