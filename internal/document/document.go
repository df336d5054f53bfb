// Package document turns uploaded contract documents into plain text for
// covenant extraction.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// MaxSize is the largest document accepted.
const MaxSize = 10 << 20

var (
	ErrUnsupported = errors.New("document: unsupported file type")
	ErrTooLarge    = errors.New("document: file too large")
	ErrEmpty       = errors.New("document: no text content")
)

// Supported lists the accepted file extensions.
var Supported = []string{".txt", ".md", ".html", ".htm"}

// Text reads r and returns its plain text. The file name selects the parser.
func Text(name string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !supported(ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return "", fmt.Errorf("document: read %s: %w", name, err)
	}
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte(" "))
	}

	var text string
	switch ext {
	case ".html", ".htm":
		text, err = htmlText(data)
		if err != nil {
			return "", fmt.Errorf("document: parse %s: %w", name, err)
		}
	default:
		text = normalize(string(data))
	}
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

// ReadFile is Text over a file on disk.
func ReadFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("document: %w", err)
	}
	defer f.Close()
	return Text(path, f)
}

func supported(ext string) bool {
	for _, s := range Supported {
		if s == ext {
			return true
		}
	}
	return false
}

// blockTags end a line of text when rendered.
var blockTags = "p, div, br, li, tr, h1, h2, h3, h4, h5, h6, section, article, blockquote, pre, table"

func htmlText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, head").Remove()
	doc.Find(blockTags).Each(func(_ int, sel *goquery.Selection) {
		sel.AfterHtml("\n\n")
	})
	doc.Find("td, th").Each(func(_ int, sel *goquery.Selection) {
		sel.AfterHtml(" ")
	})
	return normalize(doc.Text()), nil
}

var (
	spaceRun = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankRun = regexp.MustCompile(`\n\s*\n(\s*\n)*`)
)

// normalize collapses runs of spaces and keeps paragraph breaks as a single
// blank line.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = spaceRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
