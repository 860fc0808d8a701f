// Package gdrive uploads transcript exports to a Google Drive folder for
// offsite backup.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Syncer mirrors transcript exports into a single Drive folder. Each study's
// export maps to one Drive document that is updated in place on re-export.
type Syncer struct {
	service  *drive.Service
	folderID string

	mu      sync.Mutex
	fileIDs map[string]string
}

func NewSyncer(ctx context.Context, credPath, folderID string) (*Syncer, error) {
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

	return &Syncer{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// SyncTranscript uploads one study's transcript export, updating the Drive
// file in place on subsequent runs.
func (s *Syncer) SyncTranscript(localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	name := "fieldwork-" + filepath.Base(localPath)
	if fileID, ok := s.fileIDs[name]; ok {
		return s.update(fileID, f)
	}
	return s.create(name, f)
}

func (s *Syncer) update(fileID string, f *os.File) error {
	if _, err := s.service.Files.Update(fileID, &drive.File{}).Media(f).Do(); err != nil {
		return fmt.Errorf("drive update: %w", err)
	}
	return nil
}

func (s *Syncer) create(name string, f *os.File) error {
	doc, err := s.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.document",
		Parents:  []string{s.folderID},
	}).Media(f).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}
	s.fileIDs[name] = doc.Id
	return nil
}
