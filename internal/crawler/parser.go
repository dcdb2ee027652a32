package crawler

import (
	"context"
	"fmt"
	"io"
	"strings"

	"docsync/pkg/models"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Page is the slice of a browser session a link extractor may use.
type Page interface {
	// QueryAll returns every element matching a CSS selector in the live page.
	QueryAll(ctx context.Context, selector string) ([]models.Anchor, error)
	// HTML returns the rendered DOM as markup.
	HTML(ctx context.Context) (string, error)
}

// LinkExtractor finds the folder and file links on a rendered page. New
// remote UIs are supported by new implementations, not by the engine.
type LinkExtractor interface {
	Extract(ctx context.Context, page Page) (models.LinkSet, error)
}

// NewLinkExtractor picks an implementation by name: "html" parses the DOM
// snapshot locally, anything else queries the live page.
func NewLinkExtractor(kind, folderSelector, fileSelector string) (LinkExtractor, error) {
	switch kind {
	case "html":
		return NewHTMLExtractor(folderSelector, fileSelector)
	case "", "selector":
		return &SelectorExtractor{FolderSelector: folderSelector, FileSelector: fileSelector}, nil
	default:
		return nil, fmt.Errorf("unknown link extractor %q", kind)
	}
}

// SelectorExtractor runs the folder and file selectors inside the browser.
type SelectorExtractor struct {
	FolderSelector string
	FileSelector   string
}

func (s *SelectorExtractor) Extract(ctx context.Context, page Page) (models.LinkSet, error) {
	var links models.LinkSet
	if s.FolderSelector != "" {
		anchors, err := page.QueryAll(ctx, s.FolderSelector)
		if err != nil {
			return links, fmt.Errorf("query folder links: %w", err)
		}
		links.Folders = folderLinks(anchors)
	}
	if s.FileSelector != "" {
		anchors, err := page.QueryAll(ctx, s.FileSelector)
		if err != nil {
			return links, fmt.Errorf("query file links: %w", err)
		}
		links.Files = fileLinks(anchors)
	}
	return links, nil
}

func folderLinks(anchors []models.Anchor) []models.Link {
	var out []models.Link
	for _, a := range anchors {
		if a.Href == "" {
			continue
		}
		out = append(out, models.Link{Href: a.Href, Text: strings.TrimSpace(a.Text)})
	}
	return out
}

// Some file links carry an explicit download attribute; it wins over the text.
func fileLinks(anchors []models.Anchor) []models.Link {
	var out []models.Link
	for _, a := range anchors {
		if a.Href == "" {
			continue
		}
		name := a.Download
		if name == "" {
			name = strings.TrimSpace(a.Text)
		}
		out = append(out, models.Link{Href: a.Href, Text: name})
	}
	return out
}

// HTMLExtractor parses the rendered DOM snapshot and matches the folder and
// file selectors with goquery, so any CSS selector cascadia understands works
// here too.
type HTMLExtractor struct {
	folders goquery.Matcher
	files   goquery.Matcher
}

func NewHTMLExtractor(folderSelector, fileSelector string) (*HTMLExtractor, error) {
	folders, err := compileSelector(folderSelector)
	if err != nil {
		return nil, fmt.Errorf("folder selector: %w", err)
	}
	files, err := compileSelector(fileSelector)
	if err != nil {
		return nil, fmt.Errorf("file selector: %w", err)
	}
	return &HTMLExtractor{folders: folders, files: files}, nil
}

// An empty selector compiles to nil and matches nothing.
func compileSelector(selector string) (goquery.Matcher, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, nil
	}
	group, err := cascadia.Compile(selector)
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (p *HTMLExtractor) Extract(ctx context.Context, page Page) (models.LinkSet, error) {
	markup, err := page.HTML(ctx)
	if err != nil {
		return models.LinkSet{}, fmt.Errorf("read page html: %w", err)
	}
	return p.ExtractMarkup(strings.NewReader(markup))
}

// ExtractMarkup returns matches in document order.
func (p *HTMLExtractor) ExtractMarkup(r io.Reader) (models.LinkSet, error) {
	root, err := html.Parse(r)
	if err != nil {
		return models.LinkSet{}, err
	}
	doc := goquery.NewDocumentFromNode(root)

	return models.LinkSet{
		Folders: folderLinks(anchorsMatching(doc, p.folders)),
		Files:   fileLinks(anchorsMatching(doc, p.files)),
	}, nil
}

func anchorsMatching(doc *goquery.Document, m goquery.Matcher) []models.Anchor {
	if m == nil {
		return nil
	}
	var out []models.Anchor
	doc.FindMatcher(m).Each(func(_ int, s *goquery.Selection) {
		out = append(out, anchorOf(s))
	})
	return out
}

func anchorOf(s *goquery.Selection) models.Anchor {
	href, _ := s.Attr("href")
	download, _ := s.Attr("download")
	return models.Anchor{
		Href:     href,
		Text:     strings.Join(strings.Fields(textContent(s)), " "),
		Download: download,
	}
}

// textContent ignores script and style bodies.
func textContent(s *goquery.Selection) string {
	c := s.Clone()
	c.Find("script, style").Remove()
	return c.Text()
}
