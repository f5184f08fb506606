package goreason

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/ldip/parser"
)

func TestNativeTextLooksEmpty(t *testing.T) {
	tests := []struct {
		name     string
		sections []parser.Section
		want     bool
	}{
		{
			name:     "no sections",
			sections: nil,
			want:     true,
		},
		{
			name: "sparse scanned page",
			sections: []parser.Section{
				{Heading: "Page 1", Content: "a"},
			},
			want: true,
		},
		{
			name: "genuine native text",
			sections: []parser.Section{
				{Heading: "Section 1", Content: strings.Repeat("word ", 100)},
			},
			want: false,
		},
		{
			name: "content split across several short sections",
			sections: []parser.Section{
				{Content: strings.Repeat("x", 90)},
				{Content: strings.Repeat("y", 90)},
				{Content: strings.Repeat("z", 90)},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nativeTextLooksEmpty(tt.sections); got != tt.want {
				t.Errorf("nativeTextLooksEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCountPages(t *testing.T) {
	sections := []parser.Section{
		{PageNumber: 1, Content: "a"},
		{
			PageNumber: 2,
			Content:    "b",
			Children: []parser.Section{
				{PageNumber: 5, Content: "nested"},
			},
		},
		{PageNumber: 3, Content: "c"},
	}

	if got := countPages(sections); got != 5 {
		t.Errorf("countPages() = %d, want 5", got)
	}
}

func TestCountPagesEmpty(t *testing.T) {
	if got := countPages(nil); got != 0 {
		t.Errorf("countPages(nil) = %d, want 0", got)
	}
}

func TestTruncateForEmbed(t *testing.T) {
	short := "a short chunk of text"
	if got := truncateForEmbed(short); got != short {
		t.Errorf("truncateForEmbed(short) = %q, want unchanged", got)
	}

	long := strings.Repeat("a", 9000)
	got := truncateForEmbed(long)
	if len(got) != 8000 {
		t.Errorf("truncateForEmbed(long) length = %d, want 8000", len(got))
	}
}

func TestWithReferenceMaterial(t *testing.T) {
	o := ingestOptions{}
	WithReferenceMaterial()(&o)

	if !o.isReferenceMaterial {
		t.Error("WithReferenceMaterial() did not set isReferenceMaterial")
	}
	if o.docType != "act" {
		t.Errorf("WithReferenceMaterial() docType = %q, want %q", o.docType, "act")
	}
}

func TestResolveBlobRootSqlite(t *testing.T) {
	cfg := Config{StorageBackend: "sqlite", DBPath: "/tmp/matters/ldip.db"}
	got := cfg.resolveBlobRoot()
	want := filepath.Join("/tmp/matters", "blobs")
	if got != want {
		t.Errorf("resolveBlobRoot() = %q, want %q", got, want)
	}
}

func TestResolveBlobRootPostgresLocal(t *testing.T) {
	cfg := Config{StorageBackend: "postgres", StorageDir: "local"}
	if got := cfg.resolveBlobRoot(); got != "blobs" {
		t.Errorf("resolveBlobRoot() = %q, want %q", got, "blobs")
	}
}
