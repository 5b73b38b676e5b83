package codec

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/foliolabs/folio/internal/domain"
)

// chapter is one decoded markdown chapter: rendered HTML plus the
// stylesheet and resource paths its markup references.
type chapter struct {
	payload      []byte
	styleRefs    []string
	resourceRefs []string
}

// Markdown decodes a markdown book into chapter units. Chapters split at
// level-1 headings; each unit payload is the chapter rendered to HTML.
// The format is chapter-addressed and flows as a continuous scroll.
type Markdown struct {
	mu       sync.Mutex
	path     string
	baseDir  string
	chapters []chapter
	open     bool
}

// NewMarkdown creates a decoder for the markdown file at path. Resource
// paths resolve relative to the file's directory.
func NewMarkdown(path string) *Markdown {
	return &Markdown{path: path, baseDir: filepath.Dir(path)}
}

func (m *Markdown) Caps() domain.FormatCaps {
	return domain.FormatCaps{SupportsContinuousScroll: true, ChapterAddressed: true}
}

// Open reads and parses the source, splitting it into chapters. Idempotent.
func (m *Markdown) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return nil
	}

	source, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	// Chapter boundaries are the byte offsets of level-1 headings
	var bounds []int
	for child := doc.FirstChild(); child != nil; child = child.NextSibling() {
		h, ok := child.(*ast.Heading)
		if !ok || h.Level != 1 {
			continue
		}
		if lines := h.Lines(); lines.Len() > 0 {
			bounds = append(bounds, lines.At(0).Start)
		}
	}

	segments := splitAt(source, bounds)
	chapters := make([]chapter, 0, len(segments))
	for _, seg := range segments {
		var buf bytes.Buffer
		if err := md.Convert(seg, &buf); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDecodeFailed, err)
		}
		styles, resources := extractRefs(buf.Bytes())
		chapters = append(chapters, chapter{
			payload:      buf.Bytes(),
			styleRefs:    styles,
			resourceRefs: resources,
		})
	}

	m.chapters = chapters
	m.open = true
	return nil
}

func (m *Markdown) Reopen(ctx context.Context) error {
	m.mu.Lock()
	m.open = false
	m.chapters = nil
	m.mu.Unlock()
	return m.Open(ctx)
}

func (m *Markdown) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *Markdown) TotalUnits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chapters)
}

func (m *Markdown) LoadUnit(ctx context.Context, bookID string, index int) (*domain.UnitContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return nil, domain.ErrDocumentClosed
	}
	if index < 1 || index > len(m.chapters) {
		return nil, fmt.Errorf("%w: chapter %d of %d", domain.ErrUnitNotFound, index, len(m.chapters))
	}

	ch := m.chapters[index-1]
	return &domain.UnitContent{
		Payload:      ch.payload,
		StyleRefs:    ch.styleRefs,
		ResourceRefs: ch.resourceRefs,
	}, nil
}

// LoadResource reads a referenced file relative to the book directory.
func (m *Markdown) LoadResource(ctx context.Context, bookID, path string) (*domain.ResourceData, error) {
	m.mu.Lock()
	open := m.open
	m.mu.Unlock()
	if !open {
		return nil, domain.ErrDocumentClosed
	}

	// Refuse refs escaping the book directory
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("%w: %s", domain.ErrResourceNotFound, path)
	}

	data, err := os.ReadFile(filepath.Join(m.baseDir, clean))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrResourceNotFound, path)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(clean))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &domain.ResourceData{Data: data, MIMEType: mimeType}, nil
}

func (m *Markdown) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.chapters = nil
	return nil
}

// splitAt slices source at the given ascending offsets, dropping any empty
// leading segment (documents that start directly with a heading).
func splitAt(source []byte, bounds []int) [][]byte {
	if len(bounds) == 0 {
		return [][]byte{source}
	}

	var segments [][]byte
	prev := 0
	for _, b := range bounds {
		if seg := bytes.TrimSpace(source[prev:b]); len(seg) > 0 {
			segments = append(segments, source[prev:b])
		}
		prev = b
	}
	segments = append(segments, source[prev:])
	return segments
}

// extractRefs walks rendered chapter HTML collecting stylesheet links and
// image sources. External URLs are skipped: only book-relative paths become
// shared resources.
func extractRefs(rendered []byte) (styles, resources []string) {
	doc, err := html.Parse(bytes.NewReader(rendered))
	if err != nil {
		return nil, nil
	}

	seen := make(map[string]bool)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Img:
				if src := attr(n, "src"); src != "" && !isExternal(src) && !seen[src] {
					seen[src] = true
					resources = append(resources, src)
				}
			case atom.Link:
				if attr(n, "rel") == "stylesheet" {
					if href := attr(n, "href"); href != "" && !isExternal(href) && !seen[href] {
						seen[href] = true
						styles = append(styles, href)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return styles, resources
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func isExternal(ref string) bool {
	return strings.Contains(ref, "://") || strings.HasPrefix(ref, "//")
}
