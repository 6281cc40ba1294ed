package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalFolder implements DocumentStorage over a local directory tree where
// each folder ID names a subdirectory of the root. An empty folder ID means
// the root itself. Used for development and tests.
type LocalFolder struct {
	root string
}

// NewLocalFolder creates a LocalFolder rooted at root.
func NewLocalFolder(root string) *LocalFolder {
	return &LocalFolder{root: root}
}

// FindFile stats root/folderID/name.
func (l *LocalFolder) FindFile(ctx context.Context, folderID, name string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(l.root, folderID, filepath.Base(name))
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, ErrFileNotFound
	}

	return &File{
		ID:   path,
		Name: info.Name(),
		Size: info.Size(),
	}, nil
}

// OpenFile opens the file found by FindFile.
func (l *LocalFolder) OpenFile(ctx context.Context, file *File) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(file.ID)
}
