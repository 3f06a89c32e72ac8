// Package filestore is the Virtual Filestore capability interface the
// Source and Destination Handlers use for every filesystem touch. Two
// concrete implementations are provided: a native one backed by
// github.com/spf13/afero, and a restricted wrapper that confines all paths
// to a configured root.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Handle is an open file handle returned by OpenRead/OpenWrite.
type Handle interface {
	io.Closer
}

// Filestore is the capability interface both handlers depend on. Any
// implementation honoring this contract is acceptable; tests typically
// supply NewNative wrapping afero.NewMemMapFs().
type Filestore interface {
	OpenRead(path string) (Handle, error)
	OpenWrite(path string, truncate bool) (Handle, error)
	Close(h Handle) error

	ReadAt(h Handle, offset uint64, length uint32) ([]byte, error)
	WriteAt(h Handle, offset uint64, data []byte) error

	CreateFile(path string) error
	DeleteFile(path string) error
	Rename(src, dst string) error
	Append(src, dst string) error
	CreateDirectory(path string) error
	RemoveDirectory(path string) error
	Replace(src, dst string) error

	FileSize(path string) (uint64, error)
	FileExists(path string) bool
	IsDirectory(path string) bool
	ListDirectory(path string) ([]string, error)

	CalculateChecksum(kind cfdp.ChecksumType, path string, offset uint64, length uint64) (uint32, error)
	VerifyChecksum(expected uint32, kind cfdp.ChecksumType, path string, offset uint64, length uint64) (bool, error)
}

// native is the default Filestore, backed by an afero.Fs. Production
// callers construct it over afero.NewOsFs(); tests construct it over
// afero.NewMemMapFs(), per the in-memory test double the handlers' tests
// rely on.
type native struct {
	fs afero.Fs
}

// NewNative wraps an afero.Fs as a Filestore.
func NewNative(fs afero.Fs) Filestore {
	return &native{fs: fs}
}

type fileHandle struct {
	f afero.File
}

func (h *fileHandle) Close() error { return h.f.Close() }

func (n *native) OpenRead(path string) (Handle, error) {
	f, err := n.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filestore: open read %s: %w", path, err)
	}
	return &fileHandle{f: f}, nil
}

func (n *native) OpenWrite(path string, truncate bool) (Handle, error) {
	if err := n.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: mkdir for %s: %w", path, err)
	}
	flags := os.O_CREATE | os.O_RDWR
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := n.fs.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filestore: open write %s: %w", path, err)
	}
	return &fileHandle{f: f}, nil
}

func (n *native) Close(h Handle) error {
	if h == nil {
		return nil
	}
	return h.Close()
}

func (n *native) ReadAt(h Handle, offset uint64, length uint32) ([]byte, error) {
	fh, ok := h.(*fileHandle)
	if !ok {
		return nil, errors.New("filestore: invalid handle")
	}
	buf := make([]byte, length)
	nRead, err := fh.f.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("filestore: read at %d: %w", offset, err)
	}
	return buf[:nRead], nil
}

func (n *native) WriteAt(h Handle, offset uint64, data []byte) error {
	fh, ok := h.(*fileHandle)
	if !ok {
		return errors.New("filestore: invalid handle")
	}
	if _, err := fh.f.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("filestore: write at %d: %w", offset, err)
	}
	return nil
}

func (n *native) CreateFile(path string) error {
	if err := n.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("filestore: mkdir for %s: %w", path, err)
	}
	f, err := n.fs.Create(path)
	if err != nil {
		return fmt.Errorf("filestore: create %s: %w", path, err)
	}
	return f.Close()
}

func (n *native) DeleteFile(path string) error {
	if err := n.fs.Remove(path); err != nil {
		return fmt.Errorf("filestore: delete %s: %w", path, err)
	}
	return nil
}

func (n *native) Rename(src, dst string) error {
	if err := n.fs.Rename(src, dst); err != nil {
		return fmt.Errorf("filestore: rename %s -> %s: %w", src, dst, err)
	}
	return nil
}

// Append copies src onto the end of dst, creating dst if it does not
// exist, matching the CFDP "append" filestore request semantics.
func (n *native) Append(src, dst string) error {
	srcF, err := n.fs.Open(src)
	if err != nil {
		return fmt.Errorf("filestore: append open src %s: %w", src, err)
	}
	defer srcF.Close()

	if err := n.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("filestore: append mkdir for %s: %w", dst, err)
	}
	dstF, err := n.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: append open dst %s: %w", dst, err)
	}
	defer dstF.Close()

	if _, err := io.Copy(dstF, srcF); err != nil {
		return fmt.Errorf("filestore: append copy %s -> %s: %w", src, dst, err)
	}
	return nil
}

func (n *native) CreateDirectory(path string) error {
	if err := n.fs.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("filestore: mkdir %s: %w", path, err)
	}
	return nil
}

func (n *native) RemoveDirectory(path string) error {
	if err := n.fs.RemoveAll(path); err != nil {
		return fmt.Errorf("filestore: rmdir %s: %w", path, err)
	}
	return nil
}

// Replace writes src's content into dst via a temp-file-then-rename, so a
// reader of dst never observes a partial write. The temp name's suffix is
// a UUID to avoid collisions with concurrent replace calls against the
// same destination path.
func (n *native) Replace(src, dst string) error {
	tmp := dst + ".tmp-" + uuid.NewString()
	srcF, err := n.fs.Open(src)
	if err != nil {
		return fmt.Errorf("filestore: replace open src %s: %w", src, err)
	}
	defer srcF.Close()

	if err := n.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("filestore: replace mkdir for %s: %w", dst, err)
	}
	tmpF, err := n.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: replace open tmp %s: %w", tmp, err)
	}
	if _, err := io.Copy(tmpF, srcF); err != nil {
		tmpF.Close()
		n.fs.Remove(tmp)
		return fmt.Errorf("filestore: replace copy %s -> %s: %w", src, tmp, err)
	}
	if err := tmpF.Close(); err != nil {
		return fmt.Errorf("filestore: replace close tmp %s: %w", tmp, err)
	}
	if err := n.fs.Rename(tmp, dst); err != nil {
		return fmt.Errorf("filestore: replace rename %s -> %s: %w", tmp, dst, err)
	}
	return nil
}

func (n *native) FileSize(path string) (uint64, error) {
	info, err := n.fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("filestore: stat %s: %w", path, err)
	}
	return uint64(info.Size()), nil
}

func (n *native) FileExists(path string) bool {
	exists, err := afero.Exists(n.fs, path)
	return err == nil && exists
}

func (n *native) IsDirectory(path string) bool {
	info, err := n.fs.Stat(path)
	return err == nil && info.IsDir()
}

func (n *native) ListDirectory(path string) ([]string, error) {
	entries, err := afero.ReadDir(n.fs, path)
	if err != nil {
		return nil, fmt.Errorf("filestore: list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// FilenameFromPath returns the base name component of path, used by the
// destination handler when a Metadata PDU's destination path names an
// existing directory and the source file's name must be appended.
func FilenameFromPath(path string) string {
	return filepath.Base(path)
}
