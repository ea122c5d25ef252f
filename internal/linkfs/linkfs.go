// Package linkfs places files into a bundle by symlink, falling back to a
// copy when the filesystem refuses the link.
package linkfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// EnsureClean removes whatever is at path: file, symlink, or directory.
func EnsureClean(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return os.RemoveAll(path)
}

// fallbackErrnos are link failures that a copy can work around.
var fallbackErrnos = []unix.Errno{unix.EXDEV, unix.EPERM, unix.ENOTSUP, unix.EOPNOTSUPP, unix.ENOSYS}

// CanFallBack reports whether err is a link failure a copy can work around.
func CanFallBack(err error) bool {
	for _, errno := range fallbackErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// Linker links or copies entries into place.
type Linker struct {
	// Symlink defaults to os.Symlink.
	Symlink func(oldname, newname string) error
}

// Method reports how an entry was placed.
type Method string

const (
	Linked Method = "symlink"
	Copied Method = "copy"
)

// SymlinkOrCopy clears dst and points it at src. Only link failures that
// CanFallBack accepts trigger a recursive copy; anything else is returned.
func (l Linker) SymlinkOrCopy(src, dst string) (Method, error) {
	if err := EnsureClean(dst); err != nil {
		return "", err
	}
	symlink := l.Symlink
	if symlink == nil {
		symlink = os.Symlink
	}
	err := symlink(src, dst)
	if err == nil {
		return Linked, nil
	}
	if !CanFallBack(err) {
		return "", fmt.Errorf("link %s -> %s: %w", dst, src, err)
	}
	if err := EnsureClean(dst); err != nil {
		return "", err
	}
	if err := CopyPath(src, dst); err != nil {
		return "", err
	}
	return Copied, nil
}

// CopyPath copies a file or directory tree, preserving permission bits.
// Symlinks inside a tree are copied as links.
func CopyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode().Perm())
	}
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case fi.IsDir():
			return os.MkdirAll(target, fi.Mode().Perm())
		case fi.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, fi.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile applies the umask; restore the source bits.
	return os.Chmod(dst, perm)
}
