// Package osutil holds small filesystem helpers shared by the crash store and
// the checkpoint writer.
package osutil

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	DefaultDirPerm  = 0o755
	DefaultFilePerm = 0o644
)

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it into place, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.Wrapf(err, "write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Wrapf(err, "sync %s", tmpName)
	}
	if err := tmp.Chmod(DefaultFilePerm); err != nil {
		cleanup()
		return errors.Wrapf(err, "chmod %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "rename to %s", path)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrapf(err, "open dir %s", dir)
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename is still done.
	_ = d.Sync()
	return nil
}

// MkdirAll creates dir with the default permissions.
func MkdirAll(dir string) error {
	return errors.Wrapf(os.MkdirAll(dir, DefaultDirPerm), "mkdir %s", dir)
}
