package crawler

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"
)

// DomainManager applies the per-host politeness rules: an optional
// robots.txt gate and an optional cap on remote requests per second.
type DomainManager struct {
	mu            sync.Mutex
	limiters      map[string]*rate.Limiter
	robotsCache   map[string]*robotstxt.Group
	client        *http.Client
	userAgent     string
	respectRobots bool
	limit         rate.Limit
}

// NewDomainManager builds a manager. requestsPerSecond <= 0 disables the
// rate cap; respectRobots=false allows every path.
func NewDomainManager(userAgent string, respectRobots bool, requestsPerSecond float64) *DomainManager {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &DomainManager{
		limiters:      make(map[string]*rate.Limiter),
		robotsCache:   make(map[string]*robotstxt.Group),
		client:        &http.Client{Timeout: 10 * time.Second},
		userAgent:     userAgent,
		respectRobots: respectRobots,
		limit:         limit,
	}
}

// Wait blocks until a request to targetURL's host is allowed.
func (d *DomainManager) Wait(ctx context.Context, targetURL string) error {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil
	}
	domain := u.Host

	d.mu.Lock()
	limiter, exists := d.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(d.limit, 1)
		d.limiters[domain] = limiter
	}
	d.mu.Unlock()

	return limiter.Wait(ctx)
}

// IsAllowed reports whether robots.txt on link's host permits the path.
// A missing or unreadable robots.txt allows everything.
func (d *DomainManager) IsAllowed(ctx context.Context, link string) bool {
	if !d.respectRobots {
		return true
	}
	u, err := url.Parse(link)
	if err != nil {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	group, exists := d.robotsCache[u.Host]
	if !exists {
		group = d.fetchRobots(ctx, u)
		d.robotsCache[u.Host] = group
	}
	if group == nil {
		return true
	}
	return group.Test(u.Path)
}

func (d *DomainManager) fetchRobots(ctx context.Context, u *url.URL) *robotstxt.Group {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.Scheme+"://"+u.Host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}
	return data.FindGroup(d.userAgent)
}

// Pacer inserts the fixed inter-request delay after each navigation.
type Pacer struct {
	Delay time.Duration
}

// Pause sleeps for the configured delay or until ctx is done.
func (p Pacer) Pause(ctx context.Context) error {
	if p.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
