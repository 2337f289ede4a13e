package archive

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveUploader stores files in one Google Drive folder as Google Docs.
type DriveUploader struct {
	service  *drive.Service
	folderID string
}

func NewDriveUploader(ctx context.Context, credPath, folderID string) (*DriveUploader, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &DriveUploader{service: svc, folderID: folderID}, nil
}

// Upload creates the document, or replaces its content when fileID is set.
// It returns the Drive file ID.
func (d *DriveUploader) Upload(ctx context.Context, name, localPath, fileID string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID != "" {
		if _, err := d.service.Files.Update(fileID, &drive.File{}).Media(f).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("drive update: %w", err)
		}
		return fileID, nil
	}

	doc, err := d.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.document",
		Parents:  []string{d.folderID},
	}).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive create: %w", err)
	}
	return doc.Id, nil
}
