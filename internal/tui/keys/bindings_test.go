package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestViewBindingShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Label: "q", Help: "Quit", Handler: func() { got = append(got, "global") }})
	r.AddView("Chat", &Action{Key: tcell.KeyRune, Rune: 'q', Label: "q", Help: "Back", Handler: func() { got = append(got, "chat") }})

	if !r.HandleKey("Chat", tcell.KeyRune, 'q') {
		t.Fatal("expected a match in Chat")
	}
	if !r.HandleKey("Friends", tcell.KeyRune, 'q') {
		t.Fatal("expected the global binding in Friends")
	}
	if len(got) != 2 || got[0] != "chat" || got[1] != "global" {
		t.Fatalf("handlers = %v", got)
	}

	if r.HandleKey("Chat", tcell.KeyRune, 'x') {
		t.Fatal("unbound rune matched")
	}
}

func TestSpecialKeyIgnoresRune(t *testing.T) {
	r := NewRegistry()
	hit := false
	r.AddGlobal(&Action{Key: tcell.KeyCtrlR, Handler: func() { hit = true }})
	if !r.HandleKey("any", tcell.KeyCtrlR, 'r') || !hit {
		t.Fatal("ctrl-r not handled")
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	noop := func() {}
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: '?', Label: "?", Help: "Help", Handler: noop})
	r.AddView("Friends", &Action{Key: tcell.KeyEnter, Label: "Enter", Help: "Open", Handler: noop})
	r.AddView("Friends", &Action{Key: tcell.KeyRune, Rune: 'j', Hidden: true, Handler: noop})
	r.AddView("Friends", &Action{Key: tcell.KeyRune, Rune: 'r', Label: "r", Help: "Refresh", Handler: noop})

	hints := r.Hints("Friends")
	want := []string{"Open", "Refresh", "Help"}
	if len(hints) != len(want) {
		t.Fatalf("hints = %+v", hints)
	}
	for i, h := range hints {
		if h.Description != want[i] {
			t.Fatalf("hint %d = %q, want %q", i, h.Description, want[i])
		}
	}
}
