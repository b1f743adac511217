// Package source provides dataset sources that feed the snapshot pipeline
// from local files.
//
// The only implementation is the JSONL source: one JSON object per line,
// optionally gzip- or zstd-compressed by file extension. Each file maps to
// one dataset whose key is the filename with extensions stripped.
package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"

	"github.com/halcyonhealth/snapstore/snapstore"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONL reads a newline-delimited JSON file into a Table.
//
// The fingerprint returned by Fetch is the hex SHA-256 of the raw file
// bytes (before decompression), so re-running against an unchanged input
// produces an identical fingerprint in the manifest.
type JSONL struct {
	dataset string
	path    string
}

// NewJSONL creates a source for a dataset backed by a .jsonl file.
// Supported extensions: .jsonl, .jsonl.gz, .jsonl.zst.
func NewJSONL(dataset, path string) *JSONL {
	return &JSONL{dataset: dataset, path: path}
}

// Dataset returns the dataset key this source produces.
func (j *JSONL) Dataset() string { return j.dataset }

// Fetch implements snapstore.Source.
func (j *JSONL) Fetch(ctx context.Context) (*snapstore.Table, string, error) {
	raw, err := os.ReadFile(j.path)
	if err != nil {
		return nil, "", fmt.Errorf("source: read %s: %w", j.path, err)
	}

	sum := sha256.Sum256(raw)
	fingerprint := hex.EncodeToString(sum[:])

	data, err := decompress(j.path, raw)
	if err != nil {
		return nil, "", err
	}

	tbl, err := parseJSONL(ctx, j.path, data)
	if err != nil {
		return nil, "", err
	}
	return tbl, fingerprint, nil
}

// decompress undoes gzip or zstd framing based on the file extension.
// Plain .jsonl passes through unchanged.
func decompress(path string, raw []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("source: gzip %s: %w", path, err)
		}
		defer func() { _ = zr.Close() }()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("source: gzip %s: %w", path, err)
		}
		return data, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("source: zstd %s: %w", path, err)
		}
		defer zr.Close()
		data, err := zr.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("source: zstd %s: %w", path, err)
		}
		return data, nil
	default:
		return raw, nil
	}
}

// parseJSONL decodes one JSON object per line. Blank lines are skipped.
// Column order is first-seen across all records.
func parseJSONL(ctx context.Context, path string, data []byte) (*snapstore.Table, error) {
	var (
		columns []string
		seen    = make(map[string]bool)
		rows    []snapstore.Row
	)

	lineNo := 0
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNo++

		var line []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			line, data = data, nil
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var row snapstore.Row
		if err := jsonCodec.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("source: %s line %d: %w", path, lineNo, err)
		}

		// jsoniter iterates map keys in nondeterministic order, so sort
		// the new keys of each record before appending.
		var fresh []string
		for k := range row {
			if !seen[k] {
				seen[k] = true
				fresh = append(fresh, k)
			}
		}
		sort.Strings(fresh)
		columns = append(columns, fresh...)

		rows = append(rows, row)
	}

	return &snapstore.Table{Columns: columns, Rows: rows}, nil
}

// Discover scans a directory for JSONL files and returns a source per
// file, sorted by dataset key. Subdirectories are not descended into.
//
// A missing directory yields an empty slice, not an error, so a pipeline
// with no local sources configured is a no-op rather than a failure.
func Discover(dir string) ([]*JSONL, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("source: scan %s: %w", dir, err)
	}

	var sources []*JSONL
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		dataset, ok := datasetKey(e.Name())
		if !ok {
			continue
		}
		sources = append(sources, NewJSONL(dataset, filepath.Join(dir, e.Name())))
	}

	sort.Slice(sources, func(i, k int) bool { return sources[i].dataset < sources[k].dataset })
	return sources, nil
}

// datasetKey maps a filename to its dataset key, or false when the file
// is not a recognized JSONL source.
func datasetKey(name string) (string, bool) {
	for _, suffix := range []string{".jsonl.zst", ".jsonl.gz", ".jsonl"} {
		if base, ok := strings.CutSuffix(name, suffix); ok && base != "" {
			return base, true
		}
	}
	return "", false
}
