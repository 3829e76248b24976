package ui

// MenuHint describes a keyboard shortcut for display in the header.
type MenuHint struct {
	Key         string
	Description string
}

// Component is implemented by every page pushed on the Pages stack. The
// name doubles as the page id and the keybinding scope.
type Component interface {
	Name() string
}
