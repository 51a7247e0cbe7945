package sources

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

const maxExtractSize = 10 << 20 // 10MB

// ExtractText reads a local file and returns its plain text for submission
// as a raw-text source. PDF and HTML are converted; anything else must be
// UTF-8 text.
func ExtractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		return ExtractHTML(io.LimitReader(f, maxExtractSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) > maxExtractSize {
		return "", fmt.Errorf("%s is larger than %d bytes", path, maxExtractSize)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not UTF-8 text", path)
	}
	return strings.TrimSpace(string(data)), nil
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(plain, maxExtractSize)); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// skipped elements never contribute visible text.
var skipped = map[string]bool{"script": true, "style": true, "noscript": true, "template": true, "head": true}

// ExtractHTML returns the visible text of an HTML document, one block per line.
func ExtractHTML(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var (
		lines []string
		cur   strings.Builder
		depth int
	)
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", fmt.Errorf("parsing html: %w", err)
			}
			flush()
			return strings.Join(lines, "\n"), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipped[tag] {
				depth++
			} else if isBlock(tag) {
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipped[tag] && depth > 0 {
				depth--
			} else if isBlock(tag) {
				flush()
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if isBlock(string(name)) {
				flush()
			}
		case html.TextToken:
			if depth == 0 {
				cur.Write(z.Text())
				cur.WriteByte(' ')
			}
		}
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "ul", "ol", "h1", "h2", "h3", "h4", "h5", "h6",
		"section", "article", "header", "footer", "tr", "table", "blockquote", "pre":
		return true
	}
	return false
}
