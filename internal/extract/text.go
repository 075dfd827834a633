// Package extract turns sounding pages into plain-text tables.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

// DefaultHeaderLines is the page boilerplate preceding the sounding table.
const DefaultHeaderLines = 4

// Text strips markup and drops a fixed-size header.
type Text struct {
	headerLines int
}

// New returns an extractor dropping headerLines leading lines; values below
// zero fall back to DefaultHeaderLines.
func New(headerLines int) *Text {
	if headerLines < 0 {
		headerLines = DefaultHeaderLines
	}
	return &Text{headerLines: headerLines}
}

// Extract implements sounding.Extractor.
func (t *Text) Extract(raw []byte) (string, error) {
	visible, err := VisibleText(raw)
	if err != nil {
		return "", err
	}
	return DropLines(visible, t.headerLines), nil
}

// VisibleText parses raw as HTML and returns its human-visible text.
func VisibleText(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", sounding.ErrParse, err)
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text(), nil
}

// DropLines removes the first n newline-separated lines. Text with n or fewer
// lines yields the empty string.
func DropLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return ""
	}
	return strings.Join(lines[n:], "\n")
}
