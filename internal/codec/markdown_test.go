package codec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliolabs/folio/internal/domain"
)

const sampleBook = `# Chapter One

Hello *world*.

![cover](img.png)
![remote](https://example.com/banner.png)

# Chapter Two

More text here.
`

func writeBook(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "book.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img.png"), []byte("pngbytes"), 0644))
	return path
}

func TestMarkdownSplitsAtTopLevelHeadings(t *testing.T) {
	m := NewMarkdown(writeBook(t, sampleBook))
	require.NoError(t, m.Open(context.Background()))

	assert.Equal(t, 2, m.TotalUnits())
	assert.True(t, m.Ready())
	assert.Equal(t, domain.FormatCaps{SupportsContinuousScroll: true, ChapterAddressed: true}, m.Caps())

	unit, err := m.LoadUnit(context.Background(), "book", 1)
	require.NoError(t, err)
	assert.Contains(t, string(unit.Payload), "<h1>Chapter One</h1>")
	assert.Contains(t, string(unit.Payload), "<em>world</em>")

	unit, err = m.LoadUnit(context.Background(), "book", 2)
	require.NoError(t, err)
	assert.Contains(t, string(unit.Payload), "<h1>Chapter Two</h1>")
	assert.NotContains(t, string(unit.Payload), "Chapter One")
}

func TestMarkdownPreambleBecomesOwnUnit(t *testing.T) {
	m := NewMarkdown(writeBook(t, "Some preface text.\n\n# Chapter One\n\nBody.\n"))
	require.NoError(t, m.Open(context.Background()))

	assert.Equal(t, 2, m.TotalUnits())

	unit, err := m.LoadUnit(context.Background(), "book", 1)
	require.NoError(t, err)
	assert.Contains(t, string(unit.Payload), "preface")
}

func TestMarkdownNoHeadingsSingleUnit(t *testing.T) {
	m := NewMarkdown(writeBook(t, "Just a note, no chapters.\n"))
	require.NoError(t, m.Open(context.Background()))
	assert.Equal(t, 1, m.TotalUnits())
}

func TestMarkdownCollectsRelativeResourceRefs(t *testing.T) {
	m := NewMarkdown(writeBook(t, sampleBook))
	require.NoError(t, m.Open(context.Background()))

	unit, err := m.LoadUnit(context.Background(), "book", 1)
	require.NoError(t, err)

	// The external image is not a shared resource
	assert.Equal(t, []string{"img.png"}, unit.ResourceRefs)
}

func TestMarkdownLoadResource(t *testing.T) {
	m := NewMarkdown(writeBook(t, sampleBook))
	require.NoError(t, m.Open(context.Background()))

	res, err := m.LoadResource(context.Background(), "book", "img.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("pngbytes"), res.Data)
	assert.Equal(t, "image/png", res.MIMEType)

	_, err = m.LoadResource(context.Background(), "book", "missing.png")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestMarkdownLoadResourceRejectsEscapingPaths(t *testing.T) {
	m := NewMarkdown(writeBook(t, sampleBook))
	require.NoError(t, m.Open(context.Background()))

	_, err := m.LoadResource(context.Background(), "book", "../outside.png")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)

	_, err = m.LoadResource(context.Background(), "book", "/etc/passwd")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestMarkdownClosedDocumentErrors(t *testing.T) {
	m := NewMarkdown(writeBook(t, sampleBook))

	_, err := m.LoadUnit(context.Background(), "book", 1)
	assert.ErrorIs(t, err, domain.ErrDocumentClosed)

	_, err = m.LoadResource(context.Background(), "book", "img.png")
	assert.ErrorIs(t, err, domain.ErrDocumentClosed)

	require.NoError(t, m.Open(context.Background()))
	require.NoError(t, m.Close())
	_, err = m.LoadUnit(context.Background(), "book", 1)
	assert.ErrorIs(t, err, domain.ErrDocumentClosed)
}

func TestMarkdownReopenRestoresChapters(t *testing.T) {
	m := NewMarkdown(writeBook(t, sampleBook))
	require.NoError(t, m.Open(context.Background()))
	require.NoError(t, m.Close())

	require.NoError(t, m.Reopen(context.Background()))
	assert.Equal(t, 2, m.TotalUnits())
}

func TestMarkdownUnitOutOfRange(t *testing.T) {
	m := NewMarkdown(writeBook(t, sampleBook))
	require.NoError(t, m.Open(context.Background()))

	_, err := m.LoadUnit(context.Background(), "book", 0)
	assert.ErrorIs(t, err, domain.ErrUnitNotFound)
	_, err = m.LoadUnit(context.Background(), "book", 3)
	assert.ErrorIs(t, err, domain.ErrUnitNotFound)
}

func TestForPath(t *testing.T) {
	d, format, err := ForPath("/books/guide.md")
	require.NoError(t, err)
	assert.Equal(t, domain.FormatMarkdown, format)
	assert.IsType(t, &Markdown{}, d)

	d, format, err = ForPath("/books/Manual.PDF")
	require.NoError(t, err)
	assert.Equal(t, domain.FormatPDF, format)
	assert.IsType(t, &PDF{}, d)

	_, _, err = ForPath("/books/story.epub2")
	assert.Error(t, err)
}
