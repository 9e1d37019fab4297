package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// PlanPath returns modules/<module>/plan.md under root.
func (s *Store) PlanPath(module string) string {
	return filepath.Join(s.modulesDir(), module, "plan.md")
}

// WritePlan atomically writes the initial checkbox-list plan body for
// module.
func (s *Store) WritePlan(module, body string) error {
	dir := filepath.Join(s.modulesDir(), module)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: creating module directory: %w", err)
	}
	return renameio.WriteFile(s.PlanPath(module), []byte(body), 0o644)
}

// SetChecked flips the checkbox ([ ] <-> [x]) on the line whose trimmed
// text (after the checkbox marker) equals itemText, preserving every other
// line verbatim including surrounding whitespace (§6: "line-level edit
// keyed on trimmed text"). Returns false if no matching line was found.
func (s *Store) SetChecked(module, itemText string, checked bool) (bool, error) {
	path := s.PlanPath(module)
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("session: reading plan: %w", err)
	}
	lines := strings.Split(string(raw), "\n")
	found := false
	for i, line := range lines {
		idx := strings.Index(line, "[ ]")
		uncheckedIdx := idx
		checkedIdx := strings.Index(line, "[x]")
		marker := uncheckedIdx
		markerLen := 3
		if marker < 0 {
			marker = checkedIdx
		}
		if marker < 0 {
			continue
		}
		text := strings.TrimSpace(line[marker+markerLen:])
		if text != itemText {
			continue
		}
		box := "[x]"
		if !checked {
			box = "[ ]"
		}
		lines[i] = line[:marker] + box + line[marker+markerLen:]
		found = true
		break
	}
	if !found {
		return false, nil
	}
	return true, renameio.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}
