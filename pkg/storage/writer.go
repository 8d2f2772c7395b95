package storage

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/utils"
)

// FileWriter persists fetched documents under the output directory
type FileWriter struct {
	log *logrus.Entry
}

// NewFileWriter creates a FileWriter
func NewFileWriter(logger *logrus.Entry) *FileWriter {
	return &FileWriter{log: logger}
}

// EnsureDir creates dir and any missing parents. An existing directory is not an error.
func (w *FileWriter) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &utils.StorageError{Path: dir, Err: err}
	}
	return nil
}

// Write stores body at path as UTF-8 bytes, creating parent directories and
// replacing any existing file. The body goes to a temporary file in the same
// directory first and is renamed into place, so concurrent writers of one path
// leave exactly one complete body behind.
func (w *FileWriter) Write(path, body string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &utils.StorageError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &utils.StorageError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &utils.StorageError{Path: path, Err: err}
	}

	if _, err := tmp.WriteString(body); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &utils.StorageError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return &utils.StorageError{Path: path, Err: err}
	}
	w.log.WithField("path", path).Debugf("Saved %d bytes", len(body))
	return nil
}
