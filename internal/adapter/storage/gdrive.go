package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type GDriveConfig struct {
	// CredentialsFile is a service account key, or the OAuth client secret
	// when TokenFile is set.
	CredentialsFile string
	TokenFile       string
	FolderID        string
}

type GDriveStorage struct {
	service  *drive.Service
	folderID string
	filter   func(name string) bool
}

func NewGDrive(ctx context.Context, cfg GDriveConfig, filter func(name string) bool, opts ...option.ClientOption) (*GDriveStorage, error) {
	if len(opts) == 0 {
		var err error
		if opts, err = driveClientOptions(ctx, cfg); err != nil {
			return nil, err
		}
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	if filter == nil {
		filter = func(string) bool { return true }
	}

	return &GDriveStorage{
		service:  service,
		folderID: cfg.FolderID,
		filter:   filter,
	}, nil
}

func (g *GDriveStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileMetadata := &drive.File{
		Name:    remoteName,
		Parents: []string{g.folderID},
	}

	_, err = g.service.Files.Create(fileMetadata).
		Media(file).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to upload to gdrive: %w", err)
	}

	return nil
}

func (g *GDriveStorage) List(ctx context.Context) ([]string, error) {
	files, err := g.find(ctx, g.folderQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, file := range files {
		names = append(names, file.Name)
	}
	return names, nil
}

// Delete removes every file in the folder carrying remoteName.
func (g *GDriveStorage) Delete(ctx context.Context, remoteName string) error {
	query := fmt.Sprintf("%s and name = '%s'", g.folderQuery(), escapeQuery(remoteName))

	files, err := g.find(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to find file: %w", err)
	}

	if len(files) == 0 {
		return fmt.Errorf("file not found: %s", remoteName)
	}

	for _, file := range files {
		if err := g.service.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	}

	return nil
}

func (g *GDriveStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	query := fmt.Sprintf("%s and createdTime < '%s'",
		g.folderQuery(),
		cutoffTime.UTC().Format(time.RFC3339))

	files, err := g.find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list old files: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, file := range files {
		names = append(names, file.Name)
	}
	return names, nil
}

func (g *GDriveStorage) folderQuery() string {
	return fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(g.folderID))
}

func (g *GDriveStorage) find(ctx context.Context, query string) ([]*drive.File, error) {
	var files []*drive.File
	err := g.service.Files.List().
		Q(query).
		Fields("nextPageToken, files(id, name, createdTime)").
		Pages(ctx, func(page *drive.FileList) error {
			for _, file := range page.Files {
				if g.filter(file.Name) {
					files = append(files, file)
				}
			}
			return nil
		})
	return files, err
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
