package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"docsync/internal/crawler/engine"
	"docsync/pkg/models"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrDownloadCanceled is returned when the browser aborts a download.
var ErrDownloadCanceled = errors.New("download canceled by browser")

type Options struct {
	Headless  bool
	UserAgent string
	// StagingDir receives downloads before they are moved into the
	// download root. Created if missing.
	StagingDir string
}

// pendingDownload is what the browser announced when a download began.
// owner is the URL a capture was waiting on at that moment, if any.
type pendingDownload struct {
	url   string
	name  string
	owner string
}

type downloadDone struct {
	guid string
	err  error
}

type documentResponse struct {
	requestID network.RequestID
	url       string
	status    int64
}

// Session is one headless Chrome tab, reused for the whole crawl.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	staging     string
	logger      *zap.Logger

	mu        sync.Mutex
	downloads map[string]pendingDownload // keyed by download GUID
	armed     string
	completed chan downloadDone
	mainFrame cdp.FrameID
	lastDoc   *documentResponse
}

var _ engine.Session = (*Session)(nil)

// NewSession starts Chrome and enables the download and network events the
// capture and fetch strategies depend on.
func NewSession(parent context.Context, opts Options, logger *zap.Logger) (*Session, error) {
	if err := os.MkdirAll(opts.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Errorf),
	)

	s := &Session{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		staging:     opts.StagingDir,
		logger:      logger,
		downloads:   make(map[string]pendingDownload),
		completed:   make(chan downloadDone, 16),
	}
	chromedp.ListenTarget(ctx, s.onEvent)

	err := chromedp.Run(ctx,
		network.Enable(),
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(opts.StagingDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	// A page target's main frame shares the target's ID.
	if c := chromedp.FromContext(ctx); c != nil && c.Target != nil {
		s.mu.Lock()
		s.mainFrame = cdp.FrameID(c.Target.TargetID)
		s.mu.Unlock()
	}
	return s, nil
}

// Close shuts down the tab and the browser process.
func (s *Session) Close() {
	s.cancel()
	s.allocCancel()
}

// onEvent runs on chromedp's event goroutine and must not block.
func (s *Session) onEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *cdpbrowser.EventDownloadWillBegin:
		s.mu.Lock()
		s.downloads[ev.GUID] = pendingDownload{url: ev.URL, name: ev.SuggestedFilename, owner: s.armed}
		s.mu.Unlock()
	case *cdpbrowser.EventDownloadProgress:
		var done *downloadDone
		switch ev.State {
		case cdpbrowser.DownloadProgressStateCompleted:
			done = &downloadDone{guid: ev.GUID}
		case cdpbrowser.DownloadProgressStateCanceled:
			done = &downloadDone{guid: ev.GUID, err: ErrDownloadCanceled}
		}
		if done != nil {
			select {
			case s.completed <- *done:
			default:
				s.logger.Warn("Dropped download event", zap.String("guid", ev.GUID))
			}
		}
	case *network.EventResponseReceived:
		if ev.Type != network.ResourceTypeDocument || ev.Response == nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		// Documents loaded by iframes are not the response Fetch asked for.
		if s.mainFrame != "" && ev.FrameID != s.mainFrame {
			return
		}
		s.lastDoc = &documentResponse{requestID: ev.RequestID, url: ev.Response.URL, status: ev.Response.Status}
	}
}

// run executes actions on the tab, bounded by ctx as well as the tab's own
// lifetime.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

const queryAllScript = `Array.from(document.querySelectorAll(%s)).map(el => ({
	href: el.getAttribute('href') || '',
	text: (el.innerText || '').trim(),
	download: el.getAttribute('download') || ''
}))`

func (s *Session) QueryAll(ctx context.Context, selector string) ([]models.Anchor, error) {
	var anchors []models.Anchor
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(queryAllScript, jsString(selector)), &anchors))
	return anchors, err
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var markup string
	err := s.run(ctx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery))
	return markup, err
}

const currentFolderScript = `(() => {
	const el = document.querySelector(%s);
	return el ? (el.innerText || '').trim() : '';
})()`

func (s *Session) CurrentFolderName(ctx context.Context, selector string) (string, error) {
	var name string
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(currentFolderScript, jsString(selector)), &name))
	return name, err
}

// The anchor is created off to the side so it works even when the original
// link is hidden or off-screen.
const clickScript = `((u) => {
	const a = document.createElement('a');
	a.href = u;
	a.target = '_self';
	document.body.appendChild(a);
	a.click();
	a.remove();
	return true;
})(%s)`

// CaptureDownload clicks a transient link to url and waits for the browser
// to report that download complete.
func (s *Session) CaptureDownload(ctx context.Context, url string) (engine.Download, error) {
	s.drain()
	s.arm(url)
	defer s.arm("")

	var clicked bool
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickScript, jsString(url)), &clicked)); err != nil {
		return nil, fmt.Errorf("trigger download: %w", err)
	}
	return s.awaitDownload(ctx, url)
}

func (s *Session) arm(url string) {
	s.mu.Lock()
	s.armed = url
	s.mu.Unlock()
}

// awaitDownload returns the first completion belonging to url: one that
// began for url itself or while a capture of url was armed (covers
// redirects). Completions of any other download are discarded along with
// their staged files.
func (s *Session) awaitDownload(ctx context.Context, url string) (engine.Download, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case done := <-s.completed:
			s.mu.Lock()
			pending, known := s.downloads[done.guid]
			delete(s.downloads, done.guid)
			s.mu.Unlock()

			if !known || (pending.url != url && pending.owner != url) {
				s.logger.Debug("Discarding unrelated download",
					zap.String("guid", done.guid),
					zap.String("download_url", pending.url),
					zap.String("want", url))
				os.Remove(filepath.Join(s.staging, done.guid))
				continue
			}
			if done.err != nil {
				return nil, done.err
			}
			return &stagedDownload{suggested: pending.name, path: filepath.Join(s.staging, done.guid)}, nil
		}
	}
}

// drain discards completions left over from earlier navigations so they are
// not mistaken for the download about to be triggered.
func (s *Session) drain() {
	for {
		select {
		case done := <-s.completed:
			s.mu.Lock()
			delete(s.downloads, done.guid)
			s.mu.Unlock()
			os.Remove(filepath.Join(s.staging, done.guid))
		default:
			return
		}
	}
}

// Fetch navigates to url and reads back the body of the document response.
func (s *Session) Fetch(ctx context.Context, url string) (*models.FetchResponse, error) {
	s.mu.Lock()
	s.lastDoc = nil
	s.mu.Unlock()

	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	doc := s.lastDoc
	s.mu.Unlock()
	if doc == nil {
		return nil, fmt.Errorf("no document response for %s", url)
	}

	resp := &models.FetchResponse{URL: doc.url, StatusCode: int(doc.status)}
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		body, err := network.GetResponseBody(doc.requestID).Do(ctx)
		if err != nil {
			return err
		}
		resp.Body = body
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return resp, nil
}

// stagedDownload is a finished download sitting in the staging directory
// under its GUID.
type stagedDownload struct {
	suggested string
	path      string
}

func (d *stagedDownload) SuggestedFilename() string {
	return d.suggested
}

// SaveTo copies the staged bytes to path on fs and removes the staged file.
func (d *stagedDownload) SaveTo(fs afero.Fs, path string) error {
	f, err := os.Open(d.path)
	if err != nil {
		return err
	}
	defer os.Remove(d.path)
	defer f.Close()

	out, err := fs.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, f); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
