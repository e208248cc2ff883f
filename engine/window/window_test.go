package window

import "testing"

func TestSetTitleIsAppliedOnce(t *testing.T) {
	w := &engineWindow{title: "oxy-flock"}
	if _, ok := w.pendingTitle(); ok {
		t.Fatal("fresh window reports a pending title")
	}
	w.SetTitle("grid | 8192 agents")
	title, ok := w.pendingTitle()
	if !ok || title != "grid | 8192 agents" {
		t.Fatalf("pendingTitle = %q, %v", title, ok)
	}
	if _, ok := w.pendingTitle(); ok {
		t.Error("title reported pending twice")
	}
	w.SetTitle("grid | 8192 agents")
	if _, ok := w.pendingTitle(); ok {
		t.Error("setting the same title marked it pending")
	}
	if w.Title() != "grid | 8192 agents" {
		t.Errorf("Title() = %q", w.Title())
	}
}
