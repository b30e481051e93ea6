// internal/fsys/fsys.go
package fsys

import (
	"io/fs"
	"os"
	"time"
)

// FS is the filesystem surface the subsystem runs on. Components take it at
// construction so tests can inject failures without touching the real disk.
type FS interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm fs.FileMode) error
	// WriteFileExclusive creates path with O_CREATE|O_EXCL and writes data.
	// It fails with fs.ErrExist when the file is already present, which is
	// what makes lease acquisition race-free.
	WriteFileExclusive(path string, data []byte, perm fs.FileMode) error
	Stat(path string) (fs.FileInfo, error)
	Chmod(path string, mode fs.FileMode) error
	Chtimes(path string, atime, mtime time.Time) error
	Remove(path string) error
	MkdirAll(path string, perm fs.FileMode) error
	ReadDir(path string) ([]fs.DirEntry, error)
	Exists(path string) bool
}

// OS is the production implementation backed by the os package.
type OS struct{}

func NewOS() OS {
	return OS{}
}

func (OS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (OS) WriteFileExclusive(path string, data []byte, perm fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func (OS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (OS) Chmod(path string, mode fs.FileMode) error {
	return os.Chmod(path, mode)
}

func (OS) Chtimes(path string, atime, mtime time.Time) error {
	return os.Chtimes(path, atime, mtime)
}

func (OS) Remove(path string) error {
	return os.Remove(path)
}

func (OS) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OS) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

func (OS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
