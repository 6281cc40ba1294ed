// Package drive provides read access to the document storage that source
// files originate from.
package drive

import (
	"context"
	"errors"
	"io"
)

// ErrFileNotFound is returned when no file with the requested name exists
// in the folder.
var ErrFileNotFound = errors.New("file not found in folder")

// File identifies one file in document storage.
type File struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
}

// DocumentStorage locates and reads files inside a folder.
type DocumentStorage interface {
	// FindFile returns the file named name inside folderID.
	// Returns ErrFileNotFound when the folder holds no such file.
	FindFile(ctx context.Context, folderID, name string) (*File, error)

	// OpenFile returns a stream over the file's full content.
	OpenFile(ctx context.Context, file *File) (io.ReadCloser, error)
}
