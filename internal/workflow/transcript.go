package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TranscriptDir is where per-session transcripts live under paths.log_dir.
const TranscriptDir = "sessions"

// TranscriptPath returns the transcript file of sessionID.
func TranscriptPath(logDir, sessionID string) string {
	return filepath.Join(logDir, TranscriptDir, sessionID+".log")
}

// openTranscript creates the debug-level transcript of one session. It
// returns a nil file when no log directory is configured.
func openTranscript(logDir, sessionID string) (*os.File, string, error) {
	if strings.TrimSpace(logDir) == "" {
		return nil, "", nil
	}
	path := TranscriptPath(logDir, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", fmt.Errorf("create transcript directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("open transcript: %w", err)
	}
	return f, path, nil
}
