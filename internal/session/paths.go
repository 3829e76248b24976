package session

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory, mostly for tests and packaging.
const HomeEnv = "GOALCHAT_HOME"

// Files kept inside a session directory.
const (
	socketFile = "daemon.sock"
	lockFile   = "LOCK"
	dbFile     = "goalchat.db"
	logFile    = "goalchatd.log"
	logsDir    = "logs"
	clipsDir   = "recordings"
)

// BaseDir returns $GOALCHAT_HOME, falling back to ~/.goalchat.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".goalchat"
	}
	return filepath.Join(home, ".goalchat")
}

// ConfigPath is shared by every session.
func ConfigPath() string { return filepath.Join(BaseDir(), "config.toml") }

// EnvPath is the optional dotenv file next to ConfigPath.
func EnvPath() string { return filepath.Join(BaseDir(), ".env") }

// Dir is the root of one session's state.
func Dir(name string) string { return filepath.Join(BaseDir(), "sessions", name) }

func within(name string, parts ...string) string {
	return filepath.Join(append([]string{Dir(name)}, parts...)...)
}

func SocketPath(name string) string    { return within(name, socketFile) }
func LockPath(name string) string      { return within(name, lockFile) }
func DBPath(name string) string        { return within(name, dbFile) }
func LogDir(name string) string        { return within(name, logsDir) }
func LogPath(name string) string       { return within(name, logsDir, logFile) }
func RecordingsDir(name string) string { return within(name, clipsDir) }

// EnsureDir creates the session tree. Everything is private to the user
// since the database caches the bearer token.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name), RecordingsDir(name)} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}
