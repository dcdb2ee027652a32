package storage

import "sort"

// DownloadedSet is the cross-run record of file URLs already written to disk.
type DownloadedSet struct {
	urls map[string]struct{}
}

func NewDownloadedSet(urls ...string) *DownloadedSet {
	s := &DownloadedSet{urls: make(map[string]struct{}, len(urls))}
	for _, u := range urls {
		s.Add(u)
	}
	return s
}

func (s *DownloadedSet) Has(url string) bool {
	_, ok := s.urls[url]
	return ok
}

// Add returns true if url was not yet recorded.
func (s *DownloadedSet) Add(url string) bool {
	if s.Has(url) {
		return false
	}
	s.urls[url] = struct{}{}
	return true
}

func (s *DownloadedSet) Len() int {
	return len(s.urls)
}

// Sorted returns the URLs in lexical order, the on-disk representation.
func (s *DownloadedSet) Sorted() []string {
	out := make([]string, 0, len(s.urls))
	for u := range s.urls {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
