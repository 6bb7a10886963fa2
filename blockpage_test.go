package urlgate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBlockPage_Render(t *testing.T) {
	bp := NewBlockPage()

	html, err := bp.RenderString(BlockPageData{
		URL:         "http://evil.xyz/login",
		Probability: 0.91,
		Timestamp:   "2026-08-28 12:00:00",
	})
	if err != nil {
		t.Fatalf("RenderString failed: %v", err)
	}

	for _, want := range []string{
		"Malicious URL Blocked",
		"http://evil.xyz/login",
		"91.0%",
		"2026-08-28 12:00:00",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered page missing %q", want)
		}
	}
}

func TestBlockPage_EscapesURL(t *testing.T) {
	bp := NewBlockPage()

	html, err := bp.RenderString(BlockPageData{
		URL: `http://evil.com/<script>alert(1)</script>`,
	})
	if err != nil {
		t.Fatalf("RenderString failed: %v", err)
	}

	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("URL was not HTML-escaped")
	}
}

func TestNewBlockPageFromTemplate(t *testing.T) {
	bp, err := NewBlockPageFromTemplate(`blocked: {{.URL}} ({{.ProbabilityPercent}})`)
	if err != nil {
		t.Fatalf("NewBlockPageFromTemplate failed: %v", err)
	}

	out, err := bp.RenderString(BlockPageData{URL: "evil.com", Probability: 0.5})
	if err != nil {
		t.Fatalf("RenderString failed: %v", err)
	}
	if out != "blocked: evil.com (50.0%)" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestNewBlockPageFromTemplate_Invalid(t *testing.T) {
	if _, err := NewBlockPageFromTemplate(`{{.URL`); err == nil {
		t.Error("expected error for malformed template")
	}
}

func TestNewBlockPageFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "block.html")
	if err := os.WriteFile(path, []byte(`custom: {{.URL}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	bp, err := NewBlockPageFromFile(path)
	if err != nil {
		t.Fatalf("NewBlockPageFromFile failed: %v", err)
	}

	out, err := bp.RenderString(BlockPageData{URL: "evil.com"})
	if err != nil {
		t.Fatalf("RenderString failed: %v", err)
	}
	if out != "custom: evil.com" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestProbabilityPercent(t *testing.T) {
	tests := []struct {
		probability float64
		want        string
	}{
		{0, "0.0%"},
		{0.5, "50.0%"},
		{0.912, "91.2%"},
		{1, "100.0%"},
	}

	for _, tt := range tests {
		d := BlockPageData{Probability: tt.probability}
		if got := d.ProbabilityPercent(); got != tt.want {
			t.Errorf("ProbabilityPercent(%v) = %q, want %q", tt.probability, got, tt.want)
		}
	}
}
