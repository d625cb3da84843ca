package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go-garment-ingest/pkg/models"
)

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x >= 8 && x < 24 && y >= 8 && y < 24 {
				c = color.NRGBA{B: 180, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func writeConfig(t *testing.T, dir, proxyURL, outDir string) string {
	t.Helper()
	content := `proxy_url = "` + proxyURL + `"
origin = "http://localhost:5173"
output_dir = "` + filepath.ToSlash(outDir) + `"

[removal]
primary = "api4ai"
secondary = "remove-bg"
attempts = 2
backoff_ms = 1
timeout_ms = 5000
local_fallback = true

[azure]
account_key = "c2VjcmV0"
`
	path := filepath.Join(dir, "ingest.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// echoProxy returns the submitted image as the background-free result, or
// the configured failure status.
type echoProxy struct {
	mu     sync.Mutex
	status int
	calls  int
}

func (p *echoProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req models.RemoveBackgroundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.calls++
	status := p.status
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(models.ErrorResponse{Error: "provider down", Type: "upstream"})
		return
	}
	json.NewEncoder(w).Encode(models.RemoveBackgroundResponse{
		Image:      req.Image,
		DurationMs: 40,
		Provider:   req.Provider,
		Attempts:   1,
	})
}

func (p *echoProxy) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestProcess_StoresProcessedImagesAndReportsRejects(t *testing.T) {
	proxy := &echoProxy{}
	server := httptest.NewServer(proxy)
	defer server.Close()

	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	cfgPath := writeConfig(t, dir, server.URL, outDir)
	shirt := writePNG(t, dir, "shirt.png")
	dress := writePNG(t, dir, "dress.png")
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, err := execute(t, "process", "-c", cfgPath, "--log-level", "error", shirt, notes, dress)
	if err != nil {
		t.Fatalf("process failed: %v\nstderr: %s", err, stderr)
	}

	if !strings.Contains(stderr, "unsupported format: notes.txt") {
		t.Errorf("expected unsupported-format notice, got stderr:\n%s", stderr)
	}
	if !strings.Contains(stderr, "shirt.png queued") || !strings.Contains(stderr, "suppression") {
		t.Errorf("expected progress lines, got stderr:\n%s", stderr)
	}
	if strings.Count(stdout, "done") < 2 {
		t.Errorf("expected two done rows, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "2 completed, 0 failed") {
		t.Errorf("expected summary line, got:\n%s", stdout)
	}
	if proxy.Calls() != 2 {
		t.Errorf("expected one proxy call per image, got %d", proxy.Calls())
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 stored images, got %d", len(entries))
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "shirt.png-") && !strings.HasPrefix(e.Name(), "dress.png-") {
			t.Errorf("unexpected output file %s", e.Name())
		}
	}
}

func TestProcess_LocalFallbackWhenProxyFails(t *testing.T) {
	proxy := &echoProxy{status: http.StatusBadGateway}
	server := httptest.NewServer(proxy)
	defer server.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, server.URL, filepath.Join(dir, "out"))
	shirt := writePNG(t, dir, "shirt.png")

	stdout, stderr, err := execute(t, "process", "-c", cfgPath, "--log-level", "error", "-q", shirt)
	if err != nil {
		t.Fatalf("process failed: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "local (fallback)") {
		t.Errorf("expected local fallback provider, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "1 removed locally") {
		t.Errorf("expected fallback count in summary, got:\n%s", stdout)
	}
	if proxy.Calls() != 4 {
		t.Errorf("expected 2 attempts per provider, got %d calls", proxy.Calls())
	}
	if strings.Contains(stderr, "queued") {
		t.Errorf("quiet mode printed progress:\n%s", stderr)
	}
}

func TestProcess_FailsWithoutLocalFallback(t *testing.T) {
	proxy := &echoProxy{status: http.StatusServiceUnavailable}
	server := httptest.NewServer(proxy)
	defer server.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, server.URL, filepath.Join(dir, "out"))
	shirt := writePNG(t, dir, "shirt.png")

	stdout, _, err := execute(t, "process", "-c", cfgPath, "--log-level", "error", "--no-local-fallback", shirt)
	if err == nil || !strings.Contains(err.Error(), "1 of 1 image(s) failed") {
		t.Fatalf("expected failure count error, got %v", err)
	}
	if !strings.Contains(stdout, "background removal service unavailable") {
		t.Errorf("expected user-facing error in table, got:\n%s", stdout)
	}
}

func TestProcess_FlagOverridesConfig(t *testing.T) {
	proxy := &echoProxy{}
	server := httptest.NewServer(proxy)
	defer server.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "http://127.0.0.1:1/unused", filepath.Join(dir, "out"))
	override := filepath.Join(dir, "override")
	shirt := writePNG(t, dir, "shirt.png")

	_, stderr, err := execute(t, "process", "-c", cfgPath, "--log-level", "error",
		"--proxy", server.URL, "--out", override, shirt)
	if err != nil {
		t.Fatalf("process failed: %v\nstderr: %s", err, stderr)
	}
	entries, err := os.ReadDir(override)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one image in override dir, got %v (err %v)", entries, err)
	}
}

func TestProcess_NoSupportedImages(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, stderr, err := execute(t, "process", "--log-level", "error", "--out", filepath.Join(dir, "out"), notes)
	if err == nil || !strings.Contains(err.Error(), "no supported images") {
		t.Fatalf("expected no-supported-images error, got %v", err)
	}
	if !strings.Contains(stderr, "unsupported format: notes.txt") {
		t.Errorf("expected notice, got:\n%s", stderr)
	}
}

func TestProcess_MissingFile(t *testing.T) {
	_, _, err := execute(t, "process", "--log-level", "error", filepath.Join(t.TempDir(), "missing.png"))
	if err == nil || !strings.Contains(err.Error(), "missing.png") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestConfigShow_RedactsAccountKey(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "http://proxy.test/v1/remove-background", filepath.Join(dir, "out"))

	stdout, _, err := execute(t, "config", "show", "-c", cfgPath)
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(stdout, "http://proxy.test/v1/remove-background") {
		t.Errorf("expected proxy URL in output:\n%s", stdout)
	}
	if strings.Contains(stdout, "c2VjcmV0") || !strings.Contains(stdout, "redacted") {
		t.Errorf("account key must be redacted:\n%s", stdout)
	}
}

func TestConfigShow_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("[removal]\nattempts = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := execute(t, "config", "show", "-c", path); err == nil {
		t.Fatal("expected validation error")
	}
}
