package storage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sys/unix"
)

// SharedDiskStorage keeps artifacts on a local or network mounted disk. Paths
// are resolved against the root unless they are absolute, so pretrained
// vocabularies and other inputs outside the data root can still be read.
type SharedDiskStorage struct {
	root string
}

func NewSharedDisk(root string) Storage {
	slog.Info("creating new shared disk storage", "root", root)
	return &SharedDiskStorage{root: root}
}

func (s *SharedDiskStorage) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, path)
}

func (s *SharedDiskStorage) Read(path string) (io.ReadCloser, error) {
	fullpath := s.resolve(path)
	file, err := os.Open(fullpath)
	if err != nil {
		slog.Error("error opening artifact for read", "path", fullpath, "error", err)
		return nil, fmt.Errorf("error reading artifact %v: %w", path, err)
	}
	return file, nil
}

// pendingFile is written next to its target under a temporary name and
// renamed over the target on Close. A failed write discards it.
type pendingFile struct {
	file   *os.File
	target string
	failed error
}

func (f *pendingFile) Write(p []byte) (int, error) {
	n, err := f.file.Write(p)
	if err != nil {
		f.Abort(err)
	}
	return n, err
}

// Abort marks the file failed, the first error is kept.
func (f *pendingFile) Abort(err error) {
	if f.failed == nil {
		f.failed = err
	}
}

func (f *pendingFile) Close() error {
	tmp := f.file.Name()
	closeErr := f.file.Close()

	if err := errors.Join(f.failed, closeErr); err != nil {
		os.Remove(tmp)
		slog.Error("discarding partially written artifact", "path", f.target, "error", err)
		return fmt.Errorf("error writing artifact %v: %w", f.target, err)
	}

	if err := os.Rename(tmp, f.target); err != nil {
		os.Remove(tmp)
		slog.Error("error moving artifact into place", "path", f.target, "error", err)
		return fmt.Errorf("error moving artifact %v into place: %w", f.target, err)
	}
	return nil
}

func createPending(target string) (*pendingFile, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0777); err != nil {
		slog.Error("error creating artifact directory", "path", target, "error", err)
		return nil, fmt.Errorf("error creating directory for %v: %w", target, err)
	}

	file, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		slog.Error("error creating temporary artifact", "path", target, "error", err)
		return nil, fmt.Errorf("error creating temporary file for %v: %w", target, err)
	}
	if err := file.Chmod(0644); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("error setting permissions of %v: %w", target, err)
	}

	return &pendingFile{file: file, target: target}, nil
}

// Create returns a handle whose content replaces the file at path once it is
// closed. Readers see either the old content or the complete new content.
func (s *SharedDiskStorage) Create(path string) (Writer, error) {
	return createPending(s.resolve(path))
}

func (s *SharedDiskStorage) Write(path string, data io.Reader) error {
	file, err := createPending(s.resolve(path))
	if err != nil {
		return err
	}

	if _, err := io.Copy(file, data); err != nil {
		file.Abort(err)
		file.Close()
		return fmt.Errorf("error writing artifact %v: %w", path, err)
	}

	return file.Close()
}

func (s *SharedDiskStorage) Delete(path string) error {
	fullpath := s.resolve(path)
	if err := os.RemoveAll(fullpath); err != nil {
		slog.Error("error deleting artifact", "path", fullpath, "error", err)
		return fmt.Errorf("error deleting %v: %w", path, err)
	}
	return nil
}

func (s *SharedDiskStorage) Exists(path string) (bool, error) {
	fullpath := s.resolve(path)
	_, err := os.Stat(fullpath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	slog.Error("error checking if artifact exists", "path", fullpath, "error", err)
	return false, fmt.Errorf("error checking if %v exists: %w", path, err)
}

func (s *SharedDiskStorage) Size(path string) (int64, error) {
	fullpath := s.resolve(path)
	info, err := os.Stat(fullpath)
	if err != nil {
		slog.Error("error getting stats for artifact", "path", fullpath, "error", err)
		return 0, fmt.Errorf("error getting stats for %v: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%v is a directory", path)
	}
	return info.Size(), nil
}

// Usage reports the space of the filesystem holding the root. FreeBytes is
// what an unprivileged writer may still use.
func (s *SharedDiskStorage) Usage() (UsageStats, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.root, &stat); err != nil {
		slog.Error("error getting disk usage", "root", s.root, "error", err)
		return UsageStats{}, fmt.Errorf("error getting disk usage stats: %w", err)
	}

	return UsageStats{
		TotalBytes: stat.Blocks * uint64(stat.Bsize),
		FreeBytes:  stat.Bavail * uint64(stat.Bsize),
	}, nil
}

// Zip archives the directory at path into path + ".zip".
func (s *SharedDiskStorage) Zip(path string) error {
	fullpath := s.resolve(filepath.Clean(path))

	file, err := createPending(fullpath + ".zip")
	if err != nil {
		return err
	}

	archive := zip.NewWriter(file)
	archive.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	if err := archive.AddFS(os.DirFS(fullpath)); err != nil {
		archive.Close()
		file.Abort(err)
		file.Close()
		slog.Error("error archiving directory", "path", fullpath, "error", err)
		return fmt.Errorf("error archiving directory %v: %w", path, err)
	}

	if err := archive.Close(); err != nil {
		file.Abort(err)
		file.Close()
		return fmt.Errorf("error finishing archive of %v: %w", path, err)
	}

	return file.Close()
}
