package specfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wardenhq/warden/internal/models"
)

// noteMarker introduces processing notes appended to a spec file. The
// marker is chosen so StripNotes can recover the originally submitted
// content before re-parsing an approved file.
const noteMarker = "\n\n---\n> warden: "

var terminalStates = []models.SpecState{
	models.StatePendingApproval,
	models.StateApproved,
	models.StateApplied,
	models.StateFailed,
}

var operationPrefixes = []models.Operation{
	models.OpCreate,
	models.OpModify,
	models.OpDelete,
}

// Classify maps a directory entry name onto its spec state. The second
// return value is false for entries that are not spec files at all
// (wrong extension, or no state suffix and no operation prefix).
func Classify(name string) (models.SpecState, bool) {
	if !strings.HasSuffix(name, ".md") {
		return "", false
	}
	base := strings.TrimSuffix(name, ".md")

	for _, state := range terminalStates {
		if strings.HasSuffix(base, "."+string(state)) {
			return state, true
		}
	}
	for _, op := range operationPrefixes {
		if strings.HasPrefix(base, string(op)+"-") {
			return models.StateNew, true
		}
	}
	return "", false
}

// Transition renames a spec file to carry the target state suffix,
// first appending note to its content when non-empty. It returns the
// new path. Transitions are one-way: the bare NEW name is never
// restored.
func Transition(path string, to models.SpecState, note string) (string, error) {
	if note != "" {
		if err := appendNote(path, note); err != nil {
			return "", err
		}
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), ".md")
	for _, state := range terminalStates {
		base = strings.TrimSuffix(base, "."+string(state))
	}

	newPath := filepath.Join(dir, fmt.Sprintf("%s.%s.md", base, to))
	if err := os.Rename(path, newPath); err != nil {
		return "", fmt.Errorf("transition spec to %s: %w", to, err)
	}
	return newPath, nil
}

// StripNotes removes every appended processing note, returning the spec
// content as originally submitted.
func StripNotes(content string) string {
	if idx := strings.Index(content, noteMarker); idx >= 0 {
		return content[:idx]
	}
	return content
}

func appendNote(path string, note string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append note: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(noteMarker + note + "\n"); err != nil {
		return fmt.Errorf("append note: %w", err)
	}
	return nil
}
