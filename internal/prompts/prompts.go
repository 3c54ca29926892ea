// Package prompts stores the scripted instruction templates sent to the
// agent. Each template has an identifier; lookups fall back from local
// project overrides to the global config directory to the embedded
// defaults.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/worksonmyai/dirigent/internal/debug"
)

//go:embed defaults/*.md
var defaultsFS embed.FS

// Template identifiers recognised by the store.
const (
	IDTask            = "task"
	IDStatusCheck     = "status_check"
	IDWriteTests      = "write_tests"
	IDTestStatus      = "test_status"
	IDVerifyChecklist = "verify_checklist"
	IDContinueQuery   = "continue_query"
	IDReminder        = "reminder"
	IDMode            = "mode"
	IDModelSwitch     = "model_switch"
	IDBranch          = "branch"
)

// LoadError indicates a template could not be found in any layer.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load prompt %q: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Store resolves prompt templates with the fallback chain
// local → global → embedded.
type Store struct {
	globalDir string
	localDir  string
}

// NewStore creates a store. localDir can be empty to skip local lookup.
func NewStore(globalDir, localDir string) *Store {
	return &Store{globalDir: globalDir, localDir: localDir}
}

// Load returns the template text for id. Comment lines (starting with #)
// are stripped. Returns a *LoadError if the template exists nowhere.
func (s *Store) Load(id string) (string, error) {
	filename := id + ".md"

	if s.localDir != "" {
		content, err := loadFile(filepath.Join(s.localDir, "prompts", filename))
		if err != nil {
			debug.Logf("prompts: local %s: %v (falling back)", filename, err)
		} else if content != "" {
			return content, nil
		}
	}

	if s.globalDir != "" {
		content, err := loadFile(filepath.Join(s.globalDir, "prompts", filename))
		if err != nil {
			return "", &LoadError{ID: id, Err: err}
		}
		if content != "" {
			return content, nil
		}
	}

	data, err := defaultsFS.ReadFile("defaults/" + filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &LoadError{ID: id, Err: fs.ErrNotExist}
		}
		return "", &LoadError{ID: id, Err: err}
	}
	return strings.TrimSpace(stripComments(string(data))), nil
}

// Render substitutes {{name}} placeholders in a template.
func Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// loadFile reads a prompt file from disk.
// Returns empty string (not error) if the file doesn't exist.
func loadFile(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(stripComments(string(data))), nil
}

// stripComments removes lines starting with # from content. Empty lines
// are preserved; inline comments are not supported.
func stripComments(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	lines := make([]string, 0, strings.Count(content, "\n")+1)
	for line := range strings.SplitSeq(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
