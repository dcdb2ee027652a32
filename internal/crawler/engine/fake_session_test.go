package engine

import (
	"context"
	"errors"
	"fmt"

	"docsync/pkg/models"
	"github.com/spf13/afero"
)

const (
	folderSel = "a.folder"
	fileSel   = "a.file"
)

type fakePage struct {
	folderName string
	folders    []models.Anchor
	files      []models.Anchor
	navErr     error
}

type fakeDownload struct {
	name string
	body []byte
}

func (d fakeDownload) SuggestedFilename() string { return d.name }

func (d fakeDownload) SaveTo(fs afero.Fs, path string) error {
	return afero.WriteFile(fs, path, d.body, 0o644)
}

// fakeSession serves scripted pages and downloads and records every call.
type fakeSession struct {
	pages     map[string]fakePage
	downloads map[string]fakeDownload
	fetches   map[string]*models.FetchResponse
	// onCapture runs after a scripted download has been handed over.
	onCapture func(url string)

	current   string
	navigated []string
	captured  []string
	fetched   []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		pages:     map[string]fakePage{},
		downloads: map[string]fakeDownload{},
		fetches:   map[string]*models.FetchResponse{},
	}
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.navigated = append(s.navigated, url)
	page, ok := s.pages[url]
	if !ok {
		return fmt.Errorf("no page at %s", url)
	}
	if page.navErr != nil {
		return page.navErr
	}
	s.current = url
	return nil
}

func (s *fakeSession) QueryAll(ctx context.Context, selector string) ([]models.Anchor, error) {
	page := s.pages[s.current]
	switch selector {
	case folderSel:
		return page.folders, nil
	case fileSel:
		return page.files, nil
	}
	return nil, errors.New("unexpected selector " + selector)
}

func (s *fakeSession) HTML(ctx context.Context) (string, error) {
	return "", errors.New("not scripted")
}

func (s *fakeSession) CurrentFolderName(ctx context.Context, selector string) (string, error) {
	return s.pages[s.current].folderName, nil
}

// Downloads that are not scripted behave like a capture that never fires.
func (s *fakeSession) CaptureDownload(ctx context.Context, url string) (Download, error) {
	s.captured = append(s.captured, url)
	dl, ok := s.downloads[url]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	if s.onCapture != nil {
		s.onCapture(url)
	}
	return dl, nil
}

func (s *fakeSession) Fetch(ctx context.Context, url string) (*models.FetchResponse, error) {
	s.fetched = append(s.fetched, url)
	resp, ok := s.fetches[url]
	if !ok {
		return nil, errors.New("net::ERR_CONNECTION_REFUSED")
	}
	return resp, nil
}
