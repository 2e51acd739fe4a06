package export

import (
	"strings"
	"testing"
)

func TestToDOT(t *testing.T) {
	g := &Graph{
		Versions: map[string]string{
			"pkga": "2.0",
			"pkgb": "1.0",
		},
		Edges: []Edge{{From: "pkga", To: "pkgb"}},
	}

	dot := ToDOT(g)
	for _, want := range []string{
		"digraph resolution {",
		`"pkga" [label="pkga\n2.0"];`,
		`"pkgb" [label="pkgb\n1.0"];`,
		`"pkga" -> "pkgb";`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
}

func TestToDOT_Deterministic(t *testing.T) {
	g := &Graph{
		Versions: map[string]string{"c": "1", "a": "1", "b": "1"},
		Edges: []Edge{
			{From: "c", To: "a"},
			{From: "b", To: "a"},
			{From: "b", To: "c"},
		},
	}

	first := ToDOT(g)
	for range 5 {
		if got := ToDOT(g); got != first {
			t.Fatal("DOT output varies between calls")
		}
	}

	if strings.Index(first, `"a"`) > strings.Index(first, `"b" [`) {
		t.Error("nodes should be emitted in sorted order")
	}
}
