package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"docsync/internal/crawler"
	"docsync/internal/storage"
	"docsync/pkg/models"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const stateSaveTimeout = 10 * time.Second

// ErrFetchStatus marks a direct fetch that got a non-2xx response.
var ErrFetchStatus = errors.New("unexpected response status")

// State is a step in the life of one FileReference.
type State int

const (
	StatePending State = iota
	StateSkipped
	StateCapturing
	StateTimedOut
	StateFallback
	StateSaved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSkipped:
		return "skipped"
	case StateCapturing:
		return "capturing"
	case StateTimedOut:
		return "timed_out"
	case StateFallback:
		return "fallback"
	case StateSaved:
		return "saved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateSkipped || s == StateSaved || s == StateFailed
}

// Outcome is the result of running one FileReference to a terminal state.
type Outcome struct {
	State State
	// Trail lists every state visited, terminal state included.
	Trail []State
	// Path is the written file, relative to the download root.
	Path string
	// Err is the last error seen: the capture failure for a fallback save,
	// the fetch or write failure for StateFailed.
	Err error
}

// Orchestrator downloads files discovered during traversal: browser capture
// first, direct fetch on timeout, and an immediate state save after each
// success.
type Orchestrator struct {
	session Session
	fs      afero.Fs
	root    string
	store   StateStore
	done    *storage.DownloadedSet
	timeout time.Duration
	gate    Gate
	logger  *zap.Logger
}

func NewOrchestrator(session Session, fs afero.Fs, root string, store StateStore, done *storage.DownloadedSet, timeout time.Duration, gate Gate, logger *zap.Logger) *Orchestrator {
	if gate == nil {
		gate = openGate{}
	}
	return &Orchestrator{
		session: session,
		fs:      fs,
		root:    root,
		store:   store,
		done:    done,
		timeout: timeout,
		gate:    gate,
		logger:  logger,
	}
}

// run carries the per-file data the transitions share.
type run struct {
	ref models.FileReference
	out Outcome
}

// Process drives ref from StatePending to a terminal state.
func (o *Orchestrator) Process(ctx context.Context, ref models.FileReference) Outcome {
	r := &run{ref: ref, out: Outcome{State: StatePending}}
	for {
		r.out.Trail = append(r.out.Trail, r.out.State)
		if r.out.State.Terminal() {
			return r.out
		}
		r.out.State = o.step(ctx, r)
	}
}

func (o *Orchestrator) step(ctx context.Context, r *run) State {
	switch r.out.State {
	case StatePending:
		return o.pending(r)
	case StateCapturing:
		return o.capturing(ctx, r)
	case StateTimedOut:
		return StateFallback
	case StateFallback:
		return o.fallback(ctx, r)
	default:
		r.out.Err = fmt.Errorf("no transition from %s", r.out.State)
		return StateFailed
	}
}

func (o *Orchestrator) pending(r *run) State {
	if o.done.Has(r.ref.URL) {
		o.logger.Info("Skip, already downloaded", zap.String("url", r.ref.URL))
		return StateSkipped
	}
	o.logger.Info("Download", zap.String("url", r.ref.URL))
	return StateCapturing
}

func (o *Orchestrator) capturing(ctx context.Context, r *run) State {
	if err := o.gate.Wait(ctx, r.ref.URL); err != nil {
		r.out.Err = err
		return StateFailed
	}

	captureCtx, cancel := context.WithTimeout(ctx, o.timeout)
	dl, err := o.session.CaptureDownload(captureCtx, r.ref.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			r.out.Err = ctx.Err()
			return StateFailed
		}
		r.out.Err = err
		o.logger.Debug("No download event, falling back to direct fetch",
			zap.String("url", r.ref.URL), zap.Error(err))
		return StateTimedOut
	}

	name := pickFilename(dl.SuggestedFilename(), r.ref.SuggestedName)
	rel := filepath.Join(r.ref.LocalPath.String(), name)
	if err := o.ensureParent(rel); err != nil {
		r.out.Err = err
		return StateFailed
	}
	if err := dl.SaveTo(o.fs, filepath.Join(o.root, rel)); err != nil {
		r.out.Err = fmt.Errorf("save download: %w", err)
		o.logger.Error("Saving captured download failed", zap.String("url", r.ref.URL), zap.Error(err))
		return StateFailed
	}
	return o.commit(ctx, r, rel)
}

func (o *Orchestrator) fallback(ctx context.Context, r *run) State {
	if err := o.gate.Wait(ctx, r.ref.URL); err != nil {
		r.out.Err = err
		return StateFailed
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.timeout)
	resp, err := o.session.Fetch(fetchCtx, r.ref.URL)
	cancel()
	if err == nil && !resp.OK() {
		err = fmt.Errorf("%w: %d", ErrFetchStatus, resp.StatusCode)
	}
	if err != nil {
		r.out.Err = err
		o.logger.Error("Direct fetch failed", zap.String("url", r.ref.URL), zap.Error(err))
		return StateFailed
	}

	name := pickFilename(lastPathSegment(r.ref.URL), r.ref.SuggestedName)
	rel := filepath.Join(r.ref.LocalPath.String(), name)
	if err := o.ensureParent(rel); err != nil {
		r.out.Err = err
		return StateFailed
	}
	if err := afero.WriteFile(o.fs, filepath.Join(o.root, rel), resp.Body, 0o644); err != nil {
		r.out.Err = fmt.Errorf("write response body: %w", err)
		o.logger.Error("Writing fetched file failed", zap.String("url", r.ref.URL), zap.Error(err))
		return StateFailed
	}
	return o.commit(ctx, r, rel)
}

func (o *Orchestrator) ensureParent(rel string) error {
	dir := filepath.Join(o.root, filepath.Dir(rel))
	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// commit records the URL and persists the whole set before moving on, so a
// crash can only lose the file in flight.
func (o *Orchestrator) commit(ctx context.Context, r *run, rel string) State {
	r.out.Path = rel
	o.done.Add(r.ref.URL)
	// The file is already on disk; an interrupt must not lose its record.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stateSaveTimeout)
	defer cancel()
	if err := o.store.Save(saveCtx, o.done); err != nil {
		o.logger.Error("Saving state failed", zap.String("url", r.ref.URL), zap.Error(err))
	}
	o.logger.Info("Saved", zap.String("path", filepath.Join(o.root, rel)))
	return StateSaved
}

// pickFilename returns the first candidate that survives sanitizing, ending
// with "file".
func pickFilename(primary, linkText string) string {
	for _, name := range []string{primary, linkText} {
		if s := crawler.Sanitize(name); s != "" {
			return s
		}
	}
	return "file"
}

func lastPathSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	// Split the escaped form so an encoded "/" stays inside the name.
	p := u.EscapedPath()
	seg := p[strings.LastIndex(p, "/")+1:]
	if name, err := url.PathUnescape(seg); err == nil {
		return name
	}
	return seg
}
