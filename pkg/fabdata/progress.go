package fabdata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// inProgressPrefix marks a fabrication data file that belongs to a run
// that has started but not finished.
const inProgressPrefix = "IN_PROGRESS-"

// doneDirName is the subdirectory finished data files are moved into.
const doneDirName = "00_done"

// ProgressFile persists element progress next to the fabrication data
// file, so a crashed or aborted run can be resumed.
type ProgressFile struct {
	path string
}

// NewProgressFile derives the in-progress path from the fabrication data
// path. A path that is already marked in-progress is reused as is.
func NewProgressFile(fabDataPath string) *ProgressFile {
	dir, name := filepath.Split(fabDataPath)
	if !strings.HasPrefix(name, inProgressPrefix) {
		name = inProgressPrefix + name
	}
	return &ProgressFile{path: filepath.Join(dir, name)}
}

// Path returns the in-progress file location.
func (p *ProgressFile) Path() string {
	return p.path
}

// SaveProgress writes the full element list. The write is atomic
// (temp file + rename) so an interrupt never leaves a torn file.
func (p *ProgressFile) SaveProgress(elements []*Element) error {
	data, err := json.MarshalIndent(elements, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write progress file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("failed to commit progress file: %w", err)
	}
	return nil
}

// MarkDone moves the progress file into the done subdirectory once every
// element is placed, dropping the in-progress prefix.
func (p *ProgressFile) MarkDone() (string, error) {
	dir, name := filepath.Split(p.path)
	name = strings.TrimPrefix(name, inProgressPrefix)

	doneDir := filepath.Join(dir, doneDirName)
	if err := os.MkdirAll(doneDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create done directory: %w", err)
	}

	donePath := filepath.Join(doneDir, name)
	if err := os.Rename(p.path, donePath); err != nil {
		return "", fmt.Errorf("failed to move finished data file: %w", err)
	}
	return donePath, nil
}
