package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	zw, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	return zw.EncodeAll(data, nil)
}

const sampleJSONL = `{"id": 1, "name": "alpha"}
{"id": 2, "name": "beta", "extra": true}

{"id": 3, "name": "gamma"}
`

func TestJSONLFetch(t *testing.T) {
	path := writeFile(t, t.TempDir(), "enrollments.jsonl", []byte(sampleJSONL))
	src := NewJSONL("enrollments", path)

	tbl, fingerprint, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if tbl.NumRows() != 3 {
		t.Fatalf("rows = %d, want 3 (blank line skipped)", tbl.NumRows())
	}

	// Column order is first-seen across records.
	want := []string{"id", "name", "extra"}
	if len(tbl.Columns) != len(want) {
		t.Fatalf("Columns = %v, want %v", tbl.Columns, want)
	}
	for i := range want {
		if tbl.Columns[i] != want[i] {
			t.Errorf("Columns[%d] = %q, want %q", i, tbl.Columns[i], want[i])
		}
	}

	// The fingerprint is the SHA-256 of the raw file bytes.
	sum := sha256.Sum256([]byte(sampleJSONL))
	if fingerprint != hex.EncodeToString(sum[:]) {
		t.Errorf("fingerprint = %q", fingerprint)
	}
}

func TestJSONLFetchGzip(t *testing.T) {
	raw := gzipBytes(t, []byte(sampleJSONL))
	path := writeFile(t, t.TempDir(), "ds.jsonl.gz", raw)

	tbl, fingerprint, err := NewJSONL("ds", path).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch gz: %v", err)
	}
	if tbl.NumRows() != 3 {
		t.Errorf("rows = %d", tbl.NumRows())
	}

	// Fingerprint covers the compressed bytes as stored on disk.
	sum := sha256.Sum256(raw)
	if fingerprint != hex.EncodeToString(sum[:]) {
		t.Errorf("fingerprint = %q", fingerprint)
	}
}

func TestJSONLFetchZstd(t *testing.T) {
	raw := zstdBytes(t, []byte(sampleJSONL))
	path := writeFile(t, t.TempDir(), "ds.jsonl.zst", raw)

	tbl, _, err := NewJSONL("ds", path).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch zst: %v", err)
	}
	if tbl.NumRows() != 3 {
		t.Errorf("rows = %d", tbl.NumRows())
	}
}

func TestJSONLFetchBadLine(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.jsonl", []byte("{\"ok\": 1}\nnot json\n"))

	_, _, err := NewJSONL("bad", path).Fetch(context.Background())
	if err == nil {
		t.Fatal("Fetch accepted malformed JSONL")
	}
}

func TestJSONLFetchMissingFile(t *testing.T) {
	_, _, err := NewJSONL("ds", filepath.Join(t.TempDir(), "absent.jsonl")).Fetch(context.Background())
	if err == nil {
		t.Fatal("Fetch accepted a missing file")
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "payees.jsonl", []byte("{}\n"))
	writeFile(t, dir, "enrollments.jsonl.gz", gzipBytes(t, []byte("{}\n")))
	writeFile(t, dir, "archived.jsonl.zst", zstdBytes(t, []byte("{}\n")))
	writeFile(t, dir, "README.md", []byte("not a source"))
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	sources, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	want := []string{"archived", "enrollments", "payees"}
	if len(sources) != len(want) {
		t.Fatalf("Discover found %d sources, want %d", len(sources), len(want))
	}
	for i, src := range sources {
		if src.Dataset() != want[i] {
			t.Errorf("sources[%d] = %q, want %q", i, src.Dataset(), want[i])
		}
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	sources, err := Discover(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Discover on missing dir: %v", err)
	}
	if len(sources) != 0 {
		t.Errorf("sources = %v, want empty", sources)
	}
}
