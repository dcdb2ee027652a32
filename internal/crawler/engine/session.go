package engine

import (
	"context"

	"docsync/internal/crawler"
	"docsync/internal/storage"
	"docsync/pkg/models"
	"github.com/spf13/afero"
)

// Session is the single browser page the crawl drives. Every blocking call
// honours the deadline on ctx.
type Session interface {
	crawler.Page

	Navigate(ctx context.Context, url string) error
	// CurrentFolderName returns the trimmed text of the first element
	// matching selector, or "" when there is none.
	CurrentFolderName(ctx context.Context, selector string) (string, error)
	// CaptureDownload clicks a transient link to url inside the page and
	// waits for the browser to finish the resulting download.
	CaptureDownload(ctx context.Context, url string) (Download, error)
	// Fetch navigates straight to url and returns the response body.
	Fetch(ctx context.Context, url string) (*models.FetchResponse, error)
}

// Download is a completed browser download waiting to be moved into place.
type Download interface {
	SuggestedFilename() string
	SaveTo(fs afero.Fs, path string) error
}

// Authenticator leaves the session logged in. It is called once per run.
type Authenticator interface {
	Login(ctx context.Context) error
}

// StateStore persists the DownloadedSet between runs.
type StateStore interface {
	Load(ctx context.Context) (*storage.DownloadedSet, error)
	Save(ctx context.Context, set *storage.DownloadedSet) error
}

// Gate is the politeness layer in front of every remote request.
type Gate interface {
	IsAllowed(ctx context.Context, url string) bool
	Wait(ctx context.Context, url string) error
}

type openGate struct{}

func (openGate) IsAllowed(context.Context, string) bool { return true }
func (openGate) Wait(context.Context, string) error     { return nil }
