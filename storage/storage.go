package storage

import "io"

// Storage is where datasets are read from and prepared artifacts are written
// to. Paths are relative to the storage root.
type Storage interface {
	Read(path string) (io.ReadCloser, error)

	// Create returns a handle for streaming writes. The caller must close it,
	// the content replaces the file at path on Close.
	Create(path string) (Writer, error)

	Write(path string, data io.Reader) error

	Delete(path string) error

	Exists(path string) (bool, error)

	Size(path string) (int64, error)

	Usage() (UsageStats, error)

	Zip(path string) error
}

// Writer publishes what was written to it on Close. Once aborted, Close
// discards the content instead and the previous file stays in place.
type Writer interface {
	io.WriteCloser
	Abort(err error)
}

type UsageStats struct {
	TotalBytes uint64
	FreeBytes  uint64
}
