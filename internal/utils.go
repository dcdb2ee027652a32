package internal

// VisitedSet records the absolute URLs navigated to during one run. It is
// owned by the single traversal loop and is not safe for concurrent use.
type VisitedSet struct {
	v map[string]bool
}

func NewVisitedSet() *VisitedSet {
	return &VisitedSet{v: make(map[string]bool)}
}

// Seen reports whether url was already marked.
func (s *VisitedSet) Seen(url string) bool {
	return s.v[url]
}

// MarkVisited inserts url and returns true if it was not present before.
// Callers skip processing when it returns false.
func (s *VisitedSet) MarkVisited(url string) bool {
	if s.v[url] {
		return false // Already visited
	}
	s.v[url] = true
	return true
}

func (s *VisitedSet) Len() int {
	return len(s.v)
}
