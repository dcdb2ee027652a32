package crawler

import (
	"net/url"
	"strings"

	"docsync/pkg/models"
)

// Frontier is a strict FIFO of folders waiting to be visited.
type Frontier struct {
	queue []models.FrontierEntry
	head  int
}

func NewFrontier(seed ...models.FrontierEntry) *Frontier {
	f := &Frontier{}
	for _, e := range seed {
		f.Enqueue(e)
	}
	return f
}

// Enqueue appends to the back of the queue.
func (f *Frontier) Enqueue(e models.FrontierEntry) {
	f.queue = append(f.queue, e)
}

// Dequeue pops the oldest entry. ok is false once the frontier is drained.
func (f *Frontier) Dequeue() (models.FrontierEntry, bool) {
	if f.head >= len(f.queue) {
		return models.FrontierEntry{}, false
	}
	e := f.queue[f.head]
	f.queue[f.head] = models.FrontierEntry{}
	f.head++
	// Reclaim the consumed prefix once it dominates the slice.
	if f.head > 64 && f.head*2 > len(f.queue) {
		f.queue = append([]models.FrontierEntry(nil), f.queue[f.head:]...)
		f.head = 0
	}
	return e, true
}

func (f *Frontier) Len() int {
	return len(f.queue) - f.head
}

// OriginFilter keeps the crawl on the configured network location.
type OriginFilter struct {
	Restrict bool
	Base     string
}

// Allow reports whether target shares the base URL's network location.
// Without a configured base, fallback (normally the page the link was found
// on) stands in; with neither, target is its own origin. Unparseable URLs are
// allowed rather than silently dropped.
func (f OriginFilter) Allow(target, fallback string) bool {
	if !f.Restrict {
		return true
	}
	base := f.Base
	if base == "" {
		base = fallback
	}
	if base == "" {
		base = target
	}
	u, err := url.Parse(target)
	if err != nil {
		return true
	}
	b, err := url.Parse(base)
	if err != nil {
		return true
	}
	return netloc(u) == netloc(b)
}

func netloc(u *url.URL) string {
	if u.User != nil {
		return u.User.String() + "@" + u.Host
	}
	return u.Host
}

// ResolveStart makes a frontier reference absolute. Anything not starting
// with "http" is joined to the base URL as a directory.
func ResolveStart(base, ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	return resolveURL(base+"/", ref)
}

// ResolveHref resolves a link found on pageURL.
func ResolveHref(pageURL, href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	return resolveURL(pageURL, href)
}

// Utility to resolve relative URLs (e.g. "/about" -> "https://site.com/about").
// An unparseable href is returned unchanged so the origin filter can decide.
func resolveURL(base, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(u).String()
}
