package crawler

import (
	"regexp"
	"strings"

	"docsync/pkg/models"
)

// MaxSegmentLength bounds a sanitized path segment, counted in runes.
const MaxSegmentLength = 200

var reservedRun = regexp.MustCompile(`[\\/:*?"<>|]+`)

// Sanitize turns arbitrary display text into a single path segment. It
// never fails: empty input yields "", and callers treat that as a valid
// (if unhelpful) segment.
func Sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = reservedRun.ReplaceAllString(name, "_")
	// Fields splits on Unicode spaces too, so NBSP runs collapse like tabs.
	name = strings.Join(strings.Fields(name), " ")
	if r := []rune(name); len(r) > MaxSegmentLength {
		name = string(r[:MaxSegmentLength])
	}
	// "." and ".." would resolve outside the segment's parent.
	if strings.Trim(name, ".") == "" && name != "" {
		name = strings.Repeat("_", len(name))
	}
	return name
}

// ResolveLocalPath returns the directory a just-navigated folder writes into.
// When the page reports a current folder name it adds one level below the
// parent; otherwise the node shares its parent's directory.
func ResolveLocalPath(parent models.LocalPath, currentFolder string) models.LocalPath {
	if currentFolder == "" {
		return parent
	}
	return parent.Child(Sanitize(currentFolder))
}

// ChildLocalPath names a subfolder from the text of the link that led to it.
func ChildLocalPath(parent models.LocalPath, linkText string) models.LocalPath {
	if linkText == "" {
		linkText = "folder"
	}
	return parent.Child(Sanitize(linkText))
}
