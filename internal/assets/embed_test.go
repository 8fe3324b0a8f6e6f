// ABOUTME: Tests for embedded templates and the static file server
// ABOUTME: Checks MIME mapping, template escaping and cache headers

package assets

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMimeFromExt(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{".js", "application/javascript"},
		{".css", "text/css; charset=utf-8"},
		{".svg", "image/svg+xml"},
		{".qqqqqq", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := mimeFromExt(tt.ext); got != tt.want {
			t.Errorf("mimeFromExt(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

func TestTranscriptTemplate(t *testing.T) {
	tmpl, err := Template("transcript.html")
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"Title": "<Call>", "Content": "body"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("<title>&lt;Call&gt;</title>")) {
		t.Errorf("title not escaped: %s", buf.String())
	}
}

func TestFileServer(t *testing.T) {
	rec := httptest.NewRecorder()
	FileServer().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transcript.css", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/css; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Errorf("Cache-Control = %q", cc)
	}

	rec = httptest.NewRecorder()
	FileServer().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing.css", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", rec.Code)
	}
}
