package process

import (
	"context"
	"testing"
)

func TestRegistry_PidsStrictlyIncreasing(t *testing.T) {
	reg := NewRegistry()
	var last int64
	for i := 0; i < 5; i++ {
		p := reg.New(KindShell, "echo", nil, 0, "/", nil)
		if p.PID <= last {
			t.Fatalf("pid %d not greater than previous %d", p.PID, last)
		}
		last = p.PID
	}
}

func TestRegistry_Children(t *testing.T) {
	reg := NewRegistry()
	parent := reg.New(KindShell, "sh", nil, 0, "/", nil)
	childA := reg.New(KindShell, "sh", nil, parent.PID, "/", nil)
	childB := reg.New(KindShell, "sh", nil, parent.PID, "/", nil)
	reg.New(KindShell, "sh", nil, 0, "/", nil)

	children := reg.Children(parent.PID)
	if len(children) != 2 {
		t.Fatalf("Children = %d, want 2", len(children))
	}
	seen := map[int64]bool{}
	for _, c := range children {
		seen[c.PID] = true
	}
	if !seen[childA.PID] || !seen[childB.PID] {
		t.Fatalf("Children missing expected pids: %v", children)
	}
}

func TestRegistry_TreeReturnsSubtreeWithoutTerminating(t *testing.T) {
	reg := NewRegistry()
	parent := reg.New(KindShell, "sh", nil, 0, "/", nil)
	childA := reg.New(KindShell, "sh", nil, parent.PID, "/", nil)
	grandchild := reg.New(KindShell, "sh", nil, childA.PID, "/", nil)
	reg.New(KindShell, "sh", nil, 0, "/", nil) // unrelated process

	tree := reg.Tree(parent.PID)
	if len(tree) != 3 {
		t.Fatalf("Tree = %d entries, want 3", len(tree))
	}
	if tree[0].PID != parent.PID {
		t.Fatalf("Tree[0] = %d, want root pid %d first", tree[0].PID, parent.PID)
	}
	seen := map[int64]bool{}
	for _, p := range tree {
		seen[p.PID] = true
	}
	if !seen[childA.PID] || !seen[grandchild.PID] {
		t.Fatalf("Tree missing expected descendants: %v", tree)
	}
	if parent.State().Terminal() || childA.State().Terminal() {
		t.Fatalf("Tree must not terminate anything")
	}
}

func TestRegistry_TreeUnknownPid(t *testing.T) {
	reg := NewRegistry()
	if tree := reg.Tree(999); tree != nil {
		t.Fatalf("Tree(unknown) = %v, want nil", tree)
	}
}

func TestRegistry_TerminateProcessTreePostOrder(t *testing.T) {
	reg := NewRegistry()
	parent := reg.New(KindShell, "sh", nil, 0, "/", nil)
	child := reg.New(KindShell, "sh", nil, parent.PID, "/", nil)

	var order []int64
	parent.terminate = func() { order = append(order, parent.PID) }
	child.terminate = func() { order = append(order, child.PID) }

	if err := reg.TerminateProcessTree(parent.PID); err != nil {
		t.Fatalf("TerminateProcessTree: %v", err)
	}

	if parent.State() != StateTerminated || child.State() != StateTerminated {
		t.Fatalf("expected both terminated, got parent=%s child=%s", parent.State(), child.State())
	}
	if code, _ := child.ExitCode(); code != -1 {
		t.Fatalf("child exit code = %d, want -1", code)
	}
	if len(order) != 2 || order[0] != child.PID || order[1] != parent.PID {
		t.Fatalf("termination order = %v, want child %d before parent %d", order, child.PID, parent.PID)
	}
}

func TestRegistry_KillAll(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 3; i++ {
		p := reg.New(KindShell, "sh", nil, 0, "/", nil)
		p.terminate = func() {}
	}
	if err := reg.KillAll(context.Background()); err != nil {
		t.Fatalf("KillAll: %v", err)
	}
	for _, p := range reg.List() {
		if !p.State().Terminal() {
			t.Fatalf("pid %d not terminal after KillAll: %s", p.PID, p.State())
		}
	}
}
