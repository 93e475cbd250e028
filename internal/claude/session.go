package claude

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// sessionNamespace is the fixed UUIDv5 namespace for session identity.
// Changing it would orphan every existing on-disk session, so it is not
// configurable.
var sessionNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// DeriveSessionID computes the deterministic session ID for a channel bound
// to a working folder. The same (channel, folder) pair always yields the
// same ID, across restarts and across hosts, which is what lets the CLI
// resume its on-disk session transcript.
func DeriveSessionID(channelID, folder string) string {
	return uuid.NewSHA1(sessionNamespace, []byte(channelID+":"+folder)).String()
}

// Artifacts are the CLI's on-disk files for one session.
type Artifacts struct {
	LogFile string // transcript the CLI replays on --resume
	WorkDir string
	TodoFile string
}

// encodeFolder maps a working directory to the CLI's project directory name:
// every path separator becomes a dash (a leading separator becomes a
// leading dash). Must match the CLI's own encoding exactly.
func encodeFolder(folder string) string {
	return strings.ReplaceAll(folder, string(os.PathSeparator), "-")
}

// ArtifactPaths resolves the three artifact paths for a session.
func ArtifactPaths(sessionID, folder string) Artifacts {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	projectDir := filepath.Join(home, ".claude", "projects", encodeFolder(folder))
	return Artifacts{
		LogFile:  filepath.Join(projectDir, sessionID+".jsonl"),
		WorkDir:  filepath.Join(projectDir, sessionID),
		TodoFile: filepath.Join(home, ".claude", "todos", sessionID+"-agent-"+sessionID+".json"),
	}
}

// SessionLogExists reports whether the CLI already has a transcript for this
// session, which decides --resume vs --session-id.
func SessionLogExists(sessionID, folder string) bool {
	_, err := os.Stat(ArtifactPaths(sessionID, folder).LogFile)
	return err == nil
}

// ClearArtifacts removes all session artifacts. Individual failures are
// logged and ignored — this runs on the "already in use" recovery path where
// some of the three may not exist.
func ClearArtifacts(sessionID, folder string) {
	a := ArtifactPaths(sessionID, folder)
	for _, path := range []string{a.LogFile, a.TodoFile} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("could not remove session artifact", "path", path, "error", err)
		}
	}
	if err := os.RemoveAll(a.WorkDir); err != nil {
		slog.Warn("could not remove session work dir", "path", a.WorkDir, "error", err)
	}
}
