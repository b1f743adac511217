// Package snapstore provides dated, immutable dataset snapshots over
// filesystem or object storage.
//
// Snapstore focuses on persistence structure: the partition layout
// (<base>/<dataset>/<YYYY-MM-DD>/), the atomic write protocol (temp object,
// promote, manifest, completion marker), and reader-side discovery with a
// legacy flat-file fallback. It does not implement query execution or any
// upstream data loading; loaders are modeled as Source collaborators.
package snapstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// Row is a single record keyed by column name.
type Row map[string]any

// Table is a tabular payload: an ordered column list plus rows.
//
// Row values may be missing columns; missing and nil are equivalent.
type Table struct {
	Columns []string
	Rows    []Row
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return t.NumRows() == 0
}

// -----------------------------------------------------------------------------
// Manifest
// -----------------------------------------------------------------------------

// manifestVersion is the schema/format version recorded in every manifest.
const manifestVersion = "0.1.0"

// Manifest describes a completed snapshot partition.
//
// A manifest is written once, after the payload promote succeeds, and is
// immutable thereafter. Legacy flat snapshots have no manifest.
type Manifest struct {
	// Dataset is the logical dataset name.
	Dataset string `json:"dataset"`

	// Rows is the payload row count.
	Rows int64 `json:"rows"`

	// Columns lists the payload column names in produced order.
	Columns []string `json:"columns"`

	// ProducedFor is the calendar date the snapshot represents (YYYY-MM-DD).
	ProducedFor string `json:"produced_for"`

	// ProducedAt is the UTC timestamp of production.
	ProducedAt time.Time `json:"produced_at"`

	// Host identifies the producing machine.
	Host string `json:"host"`

	// QuerySHA is the optional upstream query fingerprint, null when the
	// loader has none.
	QuerySHA *string `json:"soql_sha"`

	// BaseURI is the coerced base location the snapshot was written under.
	BaseURI string `json:"base_uri"`

	// Version is the manifest schema/format version.
	Version string `json:"version"`
}

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store abstracts the underlying storage backend.
//
// Keys are slash-separated paths relative to the base location.
// Implementations may target filesystems, S3, or in-memory maps.
type Store interface {
	// Put writes data to the given path, overwriting any existing object.
	// Snapshot re-runs are last-writer-wins, so Put must not refuse
	// existing paths.
	Put(ctx context.Context, path string, r io.Reader) error

	// Get retrieves data from the given path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists checks whether a path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns all object paths under the given prefix.
	// A missing prefix yields an empty result, not an error.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the path if it exists.
	Delete(ctx context.Context, path string) error

	// Promote atomically moves src to dst: a same-filesystem rename for
	// local storage, copy-then-delete for object storage. The source must
	// exist; dst is overwritten.
	Promote(ctx context.Context, src, dst string) error
}

// -----------------------------------------------------------------------------
// Source registry contract
// -----------------------------------------------------------------------------

// Source produces a tabular payload plus an optional query fingerprint.
//
// Sources are the out-of-scope upstream loaders (CRM queries, spreadsheet
// pulls, payee APIs) seen from the storage layer's side. The fingerprint is
// an opaque string identifying the query/request that produced the payload;
// empty means none.
type Source interface {
	Fetch(ctx context.Context) (*Table, string, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrNotFound indicates a requested object does not exist.
	ErrNotFound = errNotFound{}

	// ErrNoSnapshots indicates a dataset has no snapshot dates at all.
	ErrNoSnapshots = errNoSnapshots{}
)

// ErrInvalidPath indicates a key that is empty or escapes the storage root.
var ErrInvalidPath = errors.New("invalid path: escapes storage root")

// ErrBaseURIUnset indicates the snapshot base location is not configured.
// This is a configuration error and is surfaced before any I/O.
var ErrBaseURIUnset = errors.New("snapshot base URI is not set: set SNAPSHOT_BASE_URI or pass a base location explicitly")

// ErrSchemaViolation indicates a value that does not conform to the
// column schema.
var ErrSchemaViolation = errors.New("schema violation")

// ErrInvalidFormat indicates a payload object that is not valid Parquet.
var ErrInvalidFormat = errors.New("invalid format")

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errNoSnapshots struct{}

func (errNoSnapshots) Error() string { return "no snapshots" }

// Is makes ErrNoSnapshots satisfy errors.Is(err, ErrNotFound): a dataset
// with zero dates is a NotFound condition to callers.
func (errNoSnapshots) Is(target error) bool { return target == ErrNotFound }

// NotFoundError reports a missing snapshot, naming every location that was
// attempted so layout mismatches are diagnosable.
type NotFoundError struct {
	Dataset string
	Date    string
	Tried   []string
	Hint    string
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	if e.Date == "" {
		fmt.Fprintf(&b, "no snapshots found for dataset %q", e.Dataset)
	} else {
		fmt.Fprintf(&b, "snapshot not found for dataset %q on %s", e.Dataset, e.Date)
	}
	if len(e.Tried) > 0 {
		b.WriteString(" (tried: ")
		b.WriteString(strings.Join(e.Tried, ", "))
		b.WriteString(")")
	}
	if e.Hint != "" {
		b.WriteString(": ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// Unwrap lets callers match with errors.Is(err, ErrNotFound).
func (e *NotFoundError) Unwrap() error { return ErrNotFound }
