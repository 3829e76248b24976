package tui

import (
	"os"
	"path/filepath"
	"strings"
)

// Command is a parsed ':' prompt line.
type Command struct {
	Name string
	Args string
}

// commandNames are offered as completions on the ':' prompt.
var commandNames = []string{
	"quit", "help", "chat", "open", "attach", "file", "audio",
	"discard", "record", "reload", "refresh", "login", "logout",
}

// ParseCommand splits input (without the leading ':') into a lower-cased
// name and the rest of the line.
func ParseCommand(input string) Command {
	input = strings.TrimPrefix(strings.TrimSpace(input), ":")
	name, args, _ := strings.Cut(input, " ")
	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}
}

// expandPath resolves a leading ~ and makes p absolute, since the daemon
// runs with a different working directory.
func expandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}
