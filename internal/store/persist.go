package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// loadJSON reads a durable document. A missing file is not an error; it
// signals first-run bootstrap.
func loadJSON(path string, out any) (bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, err
	}
	return true, nil
}

// stagedDoc is a fully written temp file waiting to be renamed into place.
// Separating the write from the rename lets a multi-document flush surface
// write failures before any document has been replaced.
type stagedDoc struct {
	tmp  string
	path string
}

// stageJSON writes a durable document to a temp file in the target
// directory. The caller commits or discards it.
func stageJSON(path string, v any) (*stagedDoc, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, err
	}
	return &stagedDoc{tmp: tmpName, path: path}, nil
}

// commit renames the staged file into place. Rename is atomic, so a crash
// mid-commit never leaves a torn document.
func (d *stagedDoc) commit() error {
	if err := os.Rename(d.tmp, d.path); err != nil {
		_ = os.Remove(d.tmp)
		return err
	}
	return nil
}

func (d *stagedDoc) discard() { _ = os.Remove(d.tmp) }

// saveJSON rewrites a durable document wholesale via stage + rename.
func saveJSON(path string, v any) error {
	d, err := stageJSON(path, v)
	if err != nil {
		return err
	}
	return d.commit()
}
