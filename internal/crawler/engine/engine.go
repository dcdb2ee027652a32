package engine

import (
	"context"
	"errors"
	"path/filepath"

	"docsync/internal"
	"docsync/internal/config"
	"docsync/internal/crawler"
	"docsync/pkg/models"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Stats summarises one run.
type Stats struct {
	Visited     int
	NavFailures int
	Saved       int
	Skipped     int
	Failed      int
}

// Engine is the traversal driver: a breadth-first walk over remote folders
// on one browser session, handing every file link to the Orchestrator.
type Engine struct {
	cfg       *config.Config
	session   Session
	extractor crawler.LinkExtractor
	auth      Authenticator
	store     StateStore
	gate      Gate
	fs        afero.Fs
	logger    *zap.Logger

	frontier *crawler.Frontier
	visited  *internal.VisitedSet
	origin   crawler.OriginFilter
	pacer    crawler.Pacer
}

// Option customises an Engine.
type Option func(*Engine)

// WithAuthenticator logs in before the crawl starts.
func WithAuthenticator(a Authenticator) Option {
	return func(e *Engine) {
		e.auth = a
	}
}

// WithGate puts a politeness layer in front of navigations and downloads.
func WithGate(g Gate) Option {
	return func(e *Engine) {
		e.gate = g
	}
}

func NewEngine(cfg *config.Config, session Session, extractor crawler.LinkExtractor, store StateStore, fs afero.Fs, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		session:   session,
		extractor: extractor,
		store:     store,
		gate:      openGate{},
		fs:        fs,
		logger:    logger,
		frontier:  crawler.NewFrontier(),
		visited:   internal.NewVisitedSet(),
		origin:    crawler.OriginFilter{Restrict: cfg.RestrictToDomain, Base: cfg.BaseURL},
		pacer:     crawler.Pacer{Delay: cfg.CrawlDelay()},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run crawls until the frontier is empty. Only a configuration error is
// returned; per-folder and per-file problems are logged and counted.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := e.cfg.Validate(); err != nil {
		return stats, err
	}

	done, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Warn("State unreadable, starting from an empty set", zap.Error(err))
	}
	if err := e.fs.MkdirAll(e.cfg.DownloadRoot, 0o755); err != nil {
		e.logger.Error("Creating download root failed", zap.String("root", e.cfg.DownloadRoot), zap.Error(err))
	}
	orchestrator := NewOrchestrator(e.session, e.fs, e.cfg.DownloadRoot, e.store, done, e.cfg.NavTimeout(), e.gate, e.logger)

	if e.auth != nil {
		if err := e.auth.Login(ctx); err != nil {
			e.logger.Warn("Login failed, continuing unauthenticated", zap.Error(err))
		}
	}

	e.frontier.Enqueue(models.FrontierEntry{Reference: e.cfg.StartURL()})

	for {
		if ctx.Err() != nil {
			e.logger.Info("Crawl interrupted", zap.Error(ctx.Err()))
			break
		}
		entry, ok := e.frontier.Dequeue()
		if !ok {
			break
		}
		e.visit(ctx, entry, orchestrator, &stats)
	}

	e.logger.Info("Crawl finished",
		zap.Int("visited", stats.Visited),
		zap.Int("nav_failures", stats.NavFailures),
		zap.Int("saved", stats.Saved),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

func (e *Engine) visit(ctx context.Context, entry models.FrontierEntry, orchestrator *Orchestrator, stats *Stats) {
	absURL := crawler.ResolveStart(e.cfg.BaseURL, entry.Reference)
	if e.visited.Seen(absURL) || !e.origin.Allow(absURL, "") {
		return
	}
	if !e.gate.IsAllowed(ctx, absURL) {
		e.logger.Info("Disallowed by robots.txt", zap.String("url", absURL))
		return
	}
	if err := e.gate.Wait(ctx, absURL); err != nil {
		return
	}

	e.logger.Info("Navigate", zap.String("url", absURL))
	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavTimeout())
	err := e.session.Navigate(navCtx, absURL)
	cancel()
	// A failed attempt still counts as visited; it is not retried this run.
	e.visited.MarkVisited(absURL)
	if err != nil {
		stats.NavFailures++
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("Timeout navigating", zap.String("url", absURL))
		} else {
			e.logger.Warn("Navigation failed", zap.String("url", absURL), zap.Error(err))
		}
		return
	}
	stats.Visited++

	if err := e.pacer.Pause(ctx); err != nil {
		return
	}

	localPath := entry.LocalPath
	if sel := e.cfg.CurrentFolderSelector; sel != "" {
		name, err := e.session.CurrentFolderName(ctx, sel)
		if err != nil {
			e.logger.Debug("Current folder name unavailable", zap.String("url", absURL), zap.Error(err))
		}
		localPath = crawler.ResolveLocalPath(entry.LocalPath, name)
	}
	dir := filepath.Join(e.cfg.DownloadRoot, localPath.String())
	if err := e.fs.MkdirAll(dir, 0o755); err != nil {
		e.logger.Error("Creating folder failed", zap.String("dir", dir), zap.Error(err))
	}

	links, err := e.extractor.Extract(ctx, e.session)
	if err != nil {
		e.logger.Error("Extracting links failed", zap.String("url", absURL), zap.Error(err))
		return
	}

	for _, link := range links.Folders {
		next := crawler.ResolveHref(absURL, link.Href)
		if !e.origin.Allow(next, absURL) {
			e.logger.Debug("Off-origin folder ignored", zap.String("url", next))
			continue
		}
		e.frontier.Enqueue(models.FrontierEntry{
			Reference: next,
			LocalPath: crawler.ChildLocalPath(localPath, link.Text),
		})
	}

	for _, link := range links.Files {
		ref := models.FileReference{
			URL:           crawler.ResolveHref(absURL, link.Href),
			SuggestedName: link.Text,
			LocalPath:     localPath,
		}
		switch orchestrator.Process(ctx, ref).State {
		case StateSaved:
			stats.Saved++
		case StateSkipped:
			stats.Skipped++
		default:
			stats.Failed++
		}
	}
}
