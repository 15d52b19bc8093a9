// Package fsjson implements the repository ports on filesystem JSON
// documents. Every write goes through the atomic writer: temp file in the
// target directory, well-formedness check, then rename into place.
package fsjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const (
	renameAttempts = 5
	renameBackoff  = 10 * time.Millisecond
)

// renameFile is swapped out by tests to inject rename failures.
var renameFile = os.Rename

// writeJSON atomically writes v as indented JSON to path. On any failure the
// temp file is removed and the previous document at path, if any, is left
// untouched.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeRaw(path, data, true)
}

// writeRaw atomically writes data to path. When verify is set, the temp file
// is re-read and checked to be valid JSON before the rename.
func writeRaw(path string, data []byte, verify bool) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return cause
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("write temp %s: %w", tmpName, err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("sync temp %s: %w", tmpName, err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp %s: %w", tmpName, err)
	}

	if verify {
		written, err := os.ReadFile(tmpName)
		if err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("verify read %s: %w", tmpName, err)
		}
		if !json.Valid(written) {
			_ = os.Remove(tmpName)
			return fmt.Errorf("verify %s: temp file is not valid JSON", tmpName)
		}
	}

	if err := renameWithRetry(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// renameWithRetry retries transient rename failures with linear backoff.
// Windows-style filesystems occasionally refuse the rename while a reader
// still has the target open.
func renameWithRetry(oldpath, newpath string) error {
	var err error
	for attempt := 0; attempt < renameAttempts; attempt++ {
		if err = renameFile(oldpath, newpath); err == nil {
			return nil
		}
		if !isTransient(err) {
			break
		}
		time.Sleep(renameBackoff * time.Duration(attempt+1))
	}
	return fmt.Errorf("rename %s -> %s: %w", oldpath, newpath, err)
}

func isTransient(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EBUSY)
}

// readJSON reads and unmarshals the document at path into v. A missing file
// surfaces fs.ErrNotExist for the caller to translate.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
