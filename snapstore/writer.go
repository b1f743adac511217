package snapstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Layout constants shared by the writer and reader.
const (
	manifestFile  = "manifest.json"
	successMarker = "__SUCCESS"
	tmpDir        = "tmp"
	parquetExt    = ".parquet"
)

// dateSegmentRe matches a partition date segment (YYYY-MM-DD).
var dateSegmentRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// -----------------------------------------------------------------------------
// Snapshot Writer
// -----------------------------------------------------------------------------

// Writer persists dataset snapshots as dated partitions.
//
// The write protocol is: serialize the payload to a temporary object under
// the partition's tmp/ child, promote it atomically to its final name,
// then write manifest.json and the __SUCCESS marker. Readers never observe
// an in-progress partition because temp names are invisible to discovery
// and the marker is written last.
//
// Two concurrent writers targeting the same (dataset, date) are not
// coordinated; the orchestrator guarantees a single producer per partition
// per run. Re-running a write for an existing partition fully replaces it
// (last writer wins).
type Writer struct {
	store       Store
	base        string
	host        string
	compression Compression
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCompression sets the Parquet compression for payloads.
// Default: Snappy.
func WithCompression(c Compression) WriterOption {
	return func(w *Writer) { w.compression = c }
}

// NewWriter creates a snapshot writer over the given store.
//
// baseURI is coerced immediately; an unset base is a configuration error
// surfaced here, before any I/O. The coerced base is recorded in every
// manifest.
func NewWriter(store Store, baseURI string, opts ...WriterOption) (*Writer, error) {
	if store == nil {
		return nil, fmt.Errorf("snapstore: store is required")
	}
	base, err := CoerceBase(baseURI)
	if err != nil {
		return nil, err
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	w := &Writer{
		store:       store,
		base:        base,
		host:        host,
		compression: CompressionSnappy,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Base returns the coerced base URI the writer records in manifests.
func (w *Writer) Base() string { return w.base }

// WriteParquet serializes a table and writes it into the partition folder
// via the temp-then-promote protocol.
//
// folder is a store-relative partition path such as
// "enrollments/2025-08-10". An empty filename defaults to
// "<last folder segment>.parquet", i.e. "<date>.parquet" for partition
// folders. The temporary object lives under "<folder>/tmp/" with a unique
// name that discovery never matches; if the process dies between the temp
// write and the promote, the stray temp object is harmless.
func (w *Writer) WriteParquet(ctx context.Context, folder string, tbl *Table, filename string) error {
	if filename == "" {
		filename = LastSegment(folder) + parquetExt
	}

	var buf bytes.Buffer
	if err := EncodeParquet(&buf, tbl, nil, w.compression); err != nil {
		return fmt.Errorf("snapstore: encode payload: %w", err)
	}

	tmpKey := path.Join(folder, tmpDir, uuid.NewString()+"-"+filename)
	finalKey := path.Join(folder, filename)

	if err := w.store.Put(ctx, tmpKey, &buf); err != nil {
		return fmt.Errorf("snapstore: write temp object %s: %w", tmpKey, err)
	}
	if err := w.store.Promote(ctx, tmpKey, finalKey); err != nil {
		return fmt.Errorf("snapstore: promote %s: %w", finalKey, err)
	}
	return nil
}

// WriteText writes a small UTF-8 text object directly into the folder.
// Used for the manifest and the completion marker; these are tiny and
// idempotent to overwrite, so no promote step is needed.
func (w *Writer) WriteText(ctx context.Context, folder, name, content string) error {
	key := path.Join(folder, name)
	if err := w.store.Put(ctx, key, strings.NewReader(content)); err != nil {
		return fmt.Errorf("snapstore: write %s: %w", key, err)
	}
	return nil
}

// WriteSnapshot writes a complete partition for (dataset, date): payload,
// then manifest, then marker, strictly in that order.
//
// fingerprint is the optional upstream query fingerprint; empty records
// null in the manifest. If the payload write fails, neither manifest nor
// marker is written and the partition stays invisible to readers.
func (w *Writer) WriteSnapshot(ctx context.Context, dataset, date string, tbl *Table, fingerprint string) (*Manifest, error) {
	if dataset == "" {
		return nil, fmt.Errorf("snapstore: dataset name is required")
	}
	if !dateSegmentRe.MatchString(date) {
		return nil, fmt.Errorf("snapstore: invalid snapshot date %q (want YYYY-MM-DD)", date)
	}

	folder := path.Join(dataset, date)
	if err := w.WriteParquet(ctx, folder, tbl, ""); err != nil {
		return nil, err
	}

	manifest := w.buildManifest(dataset, date, tbl, fingerprint)
	data, err := jsonCodec.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapstore: encode manifest: %w", err)
	}
	if err := w.WriteText(ctx, folder, manifestFile, string(data)); err != nil {
		return nil, err
	}
	if err := w.WriteText(ctx, folder, successMarker, ""); err != nil {
		return nil, err
	}

	return manifest, nil
}

func (w *Writer) buildManifest(dataset, date string, tbl *Table, fingerprint string) *Manifest {
	var sha *string
	if fingerprint != "" {
		sha = &fingerprint
	}
	columns := make([]string, len(tbl.Columns))
	copy(columns, tbl.Columns)

	return &Manifest{
		Dataset:     dataset,
		Rows:        int64(tbl.NumRows()),
		Columns:     columns,
		ProducedFor: date,
		ProducedAt:  time.Now().UTC(),
		Host:        w.host,
		QuerySHA:    sha,
		BaseURI:     w.base,
		Version:     manifestVersion,
	}
}
