package sources

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractHTML(t *testing.T) {
	doc := `<html><head><title>Ignored</title><style>p{}</style></head>
<body><h1>Heading</h1><script>var x = 1;</script>
<p>First   paragraph
with a line break.</p><div>Second<br/>line</div></body></html>`

	got, err := ExtractHTML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}
	want := "Heading\nFirst paragraph with a line break.\nSecond\nline"
	if got != want {
		t.Errorf("ExtractHTML = %q, want %q", got, want)
	}
}

func TestExtractText_PlainAndHTMLFiles(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "notes.md")
	os.WriteFile(txt, []byte("  # Notes\nbody\n"), 0o644)
	got, err := ExtractText(txt)
	if err != nil {
		t.Fatalf("ExtractText(md): %v", err)
	}
	if got != "# Notes\nbody" {
		t.Errorf("ExtractText(md) = %q", got)
	}

	page := filepath.Join(dir, "page.HTML")
	os.WriteFile(page, []byte("<p>hello</p>"), 0o644)
	got, err = ExtractText(page)
	if err != nil {
		t.Fatalf("ExtractText(html): %v", err)
	}
	if got != "hello" {
		t.Errorf("ExtractText(html) = %q", got)
	}
}

func TestExtractText_Errors(t *testing.T) {
	dir := t.TempDir()

	bin := filepath.Join(dir, "blob.bin")
	os.WriteFile(bin, []byte{0xff, 0xfe, 0x00, 0x81}, 0o644)
	if _, err := ExtractText(bin); err == nil {
		t.Error("expected error for non-UTF-8 file")
	}

	fake := filepath.Join(dir, "broken.pdf")
	os.WriteFile(fake, []byte("not a pdf"), 0o644)
	if _, err := ExtractText(fake); err == nil {
		t.Error("expected error for invalid pdf")
	}

	if _, err := ExtractText(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}
