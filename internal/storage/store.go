package storage

import "io"

// FileStore keeps device certificate material. Paths returned by Save are
// opaque to callers and passed back to Open and Delete unchanged.
type FileStore interface {
	Save(name string, reader io.Reader) (path string, size int64, err error)
	Open(path string) (io.ReadCloser, error)
	Delete(path string) error
}
