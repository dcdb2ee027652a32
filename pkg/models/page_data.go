package models

import "path"

// LocalPath is a directory below the download root, one sanitized segment
// per remote folder level. The zero value is the root itself.
type LocalPath []string

// Child returns a new LocalPath extended by segment. The receiver is not
// modified, so sibling entries never share a backing array.
func (p LocalPath) Child(segment string) LocalPath {
	out := make(LocalPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, segment)
}

// String renders the path with forward slashes, "." for the root.
func (p LocalPath) String() string {
	if len(p) == 0 {
		return "."
	}
	return path.Join(p...)
}

// FrontierEntry is a remote folder waiting to be visited.
type FrontierEntry struct {
	// Reference is an absolute URL or an href relative to the page it was
	// found on.
	Reference string
	LocalPath LocalPath
}

// Anchor is a link element as rendered in the page.
type Anchor struct {
	Href     string `json:"href"`
	Text     string `json:"text"`
	Download string `json:"download"`
}

// Link is a discovered folder or file link.
type Link struct {
	Href string
	Text string
}

// LinkSet is what a link extractor returns for one page.
type LinkSet struct {
	Folders []Link
	Files   []Link
}

// FileReference is a file discovered at the folder currently being visited.
type FileReference struct {
	URL           string
	SuggestedName string
	LocalPath     LocalPath
}

// FetchResponse is the result of navigating straight to a file URL.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
}

// OK mirrors the usual 2xx success check.
func (r *FetchResponse) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}
