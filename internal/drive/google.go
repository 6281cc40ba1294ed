package drive

import (
	"context"
	"fmt"
	"io"
	"strings"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// GoogleDrive implements DocumentStorage on the Google Drive v3 API.
type GoogleDrive struct {
	files *gdrive.FilesService
}

// NewGoogleDrive authenticates with a service-account credential blob and
// read-only scope.
func NewGoogleDrive(ctx context.Context, serviceAccountJSON []byte) (*GoogleDrive, error) {
	srv, err := gdrive.NewService(ctx,
		option.WithCredentialsJSON(serviceAccountJSON),
		option.WithScopes(gdrive.DriveReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}
	return NewGoogleDriveWithService(srv), nil
}

// NewGoogleDriveWithService wraps a pre-configured Drive service.
func NewGoogleDriveWithService(srv *gdrive.Service) *GoogleDrive {
	return &GoogleDrive{files: srv.Files}
}

// FindFile lists the folder filtered by exact name. When Drive holds several
// files with the same name the first one listed wins.
func (g *GoogleDrive) FindFile(ctx context.Context, folderID, name string) (*File, error) {
	resp, err := g.files.List().
		Q(nameInFolderQuery(folderID, name)).
		Fields("files(id, name, mimeType, size)").
		PageSize(10).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list drive folder %s: %w", folderID, err)
	}
	if len(resp.Files) == 0 {
		return nil, ErrFileNotFound
	}

	f := resp.Files[0]
	return &File{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
	}, nil
}

// OpenFile downloads the raw bytes of the file.
func (g *GoogleDrive) OpenFile(ctx context.Context, file *File) (io.ReadCloser, error) {
	resp, err := g.files.Get(file.ID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download drive file %s: %w", file.Name, err)
	}
	return resp.Body, nil
}

// nameInFolderQuery builds a Drive search query. Values are quoted per the
// Drive query grammar.
func nameInFolderQuery(folderID, name string) string {
	return fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false",
		escapeQueryValue(folderID), escapeQueryValue(name))
}

func escapeQueryValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
