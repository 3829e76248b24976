package keys

import (
	"github.com/czeful/goalchat/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
)

// Action is one keybinding. Rune is only consulted when Key is tcell.KeyRune.
type Action struct {
	Key     tcell.Key
	Rune    rune
	Label   string
	Help    string
	Hidden  bool
	Handler func()
}

// Matches reports whether the key (and rune, for KeyRune) triggers the action.
func (a *Action) Matches(key tcell.Key, ch rune) bool {
	if a.Key != tcell.KeyRune {
		return key == a.Key
	}
	return key == tcell.KeyRune && ch == a.Rune
}

// Registry holds global and per-page bindings in registration order.
type Registry struct {
	global []*Action
	views  map[string][]*Action
}

func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]*Action)}
}

func (r *Registry) AddGlobal(a *Action) {
	r.global = append(r.global, a)
}

func (r *Registry) AddView(view string, a *Action) {
	r.views[view] = append(r.views[view], a)
}

// Hints lists the visible bindings of view followed by the global ones.
func (r *Registry) Hints(view string) []ui.MenuHint {
	var hints []ui.MenuHint
	for _, a := range append(append([]*Action(nil), r.views[view]...), r.global...) {
		if !a.Hidden {
			hints = append(hints, ui.MenuHint{Key: a.Label, Description: a.Help})
		}
	}
	return hints
}

// HandleEvent runs the first binding matching ev, view bindings first.
// It reports whether one matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	return r.HandleKey(view, ev.Key(), ev.Rune())
}

func (r *Registry) HandleKey(view string, key tcell.Key, ch rune) bool {
	for _, list := range [][]*Action{r.views[view], r.global} {
		for _, a := range list {
			if a.Matches(key, ch) {
				a.Handler()
				return true
			}
		}
	}
	return false
}
