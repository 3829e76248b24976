package session

import (
	"os"
	"strings"

	"github.com/czeful/goalchat/internal/config"
)

// DefaultSessionName is used when nothing else names a session.
const DefaultSessionName = "main"

// Resolve picks the session name. An explicit flag wins, then
// $GOALCHAT_SESSION, then default_session from config.toml.
func Resolve(flagOverride string) string {
	candidates := []func() string{
		func() string { return flagOverride },
		func() string { return os.Getenv(config.EnvSession) },
		fromConfig,
	}
	for _, next := range candidates {
		if name := strings.TrimSpace(next()); name != "" {
			return name
		}
	}
	return DefaultSessionName
}

func fromConfig() string {
	cfg, err := config.Load(ConfigPath())
	if err != nil {
		return ""
	}
	return cfg.DefaultSession
}
