package snapstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// -----------------------------------------------------------------------------
// Snapshot Reader
// -----------------------------------------------------------------------------

// Reader discovers and loads snapshot partitions. It never writes.
//
// Discovery supports both the partitioned layout
// (<dataset>/<date>/<date>.parquet) and the legacy flat layout
// (<dataset>/<date>.parquet), which predates the folder-per-date
// convention and is retained for backward-compatible reads only.
type Reader struct {
	store Store
	base  string
}

// NewReader creates a snapshot reader over the given store.
//
// baseURI is coerced immediately (an unset base is a configuration error)
// and used only to name attempted locations in errors.
func NewReader(store Store, baseURI string) (*Reader, error) {
	if store == nil {
		return nil, fmt.Errorf("snapstore: store is required")
	}
	base, err := CoerceBase(baseURI)
	if err != nil {
		return nil, err
	}
	return &Reader{store: store, base: base}, nil
}

// ListDates returns the available snapshot dates (YYYY-MM-DD) for a
// dataset in ascending order.
//
// A date counts only if its final payload object exists: either
// <date>/<date>.parquet or the legacy flat <date>.parquet. Temporary
// objects under tmp/ never match, so an interrupted write is invisible. A
// dataset with no storage at all yields an empty slice, not an error.
func (r *Reader) ListDates(ctx context.Context, dataset string) ([]string, error) {
	if dataset == "" {
		return nil, fmt.Errorf("snapstore: dataset name is required")
	}

	keys, err := r.store.List(ctx, dataset+"/")
	if err != nil {
		return nil, fmt.Errorf("snapstore: list %s: %w", dataset, err)
	}

	seen := make(map[string]bool)
	for _, key := range keys {
		rel, ok := strings.CutPrefix(key, dataset+"/")
		if !ok {
			continue
		}
		if date, ok := payloadDate(rel); ok {
			seen[date] = true
		}
	}

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}

// payloadDate extracts the snapshot date from a dataset-relative key, if
// the key is a final payload object in either layout.
func payloadDate(rel string) (string, bool) {
	segs := strings.Split(rel, "/")
	switch len(segs) {
	case 1:
		// Legacy flat: <date>.parquet
		name, ok := strings.CutSuffix(segs[0], parquetExt)
		if ok && dateSegmentRe.MatchString(name) {
			return name, true
		}
	case 2:
		// Partitioned: <date>/<date>.parquet
		if dateSegmentRe.MatchString(segs[0]) && segs[1] == segs[0]+parquetExt {
			return segs[0], true
		}
	}
	return "", false
}

// LatestDate returns the most recent snapshot date for a dataset, or
// ErrNoSnapshots when none exist.
func (r *Reader) LatestDate(ctx context.Context, dataset string) (string, error) {
	dates, err := r.ListDates(ctx, dataset)
	if err != nil {
		return "", err
	}
	if len(dates) == 0 {
		return "", ErrNoSnapshots
	}
	return dates[len(dates)-1], nil
}

// Load reads a snapshot payload. An empty date resolves to the latest.
//
// The partitioned object is attempted first, then the legacy flat object.
// When neither exists the error names both attempted locations.
func (r *Reader) Load(ctx context.Context, dataset, date string) (*Table, error) {
	date, err := r.resolveDate(ctx, dataset, date)
	if err != nil {
		return nil, err
	}

	prefKey := path.Join(dataset, date, date+parquetExt)
	flatKey := path.Join(dataset, date+parquetExt)

	rc, err := r.store.Get(ctx, prefKey)
	if errors.Is(err, ErrNotFound) {
		rc, err = r.store.Get(ctx, flatKey)
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{
				Dataset: dataset,
				Date:    date,
				Tried: []string{
					ObjectURI(PartitionURI(r.base, dataset, date), date+parquetExt),
					ObjectURI(SnapshotRoot(r.base, dataset), date+parquetExt),
				},
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("snapstore: load %s/%s: %w", dataset, date, err)
	}
	defer func() { _ = rc.Close() }()

	tbl, err := DecodeParquet(rc)
	if err != nil {
		return nil, fmt.Errorf("snapstore: decode %s/%s: %w", dataset, date, err)
	}
	return tbl, nil
}

// LoadManifest reads the manifest for a snapshot. An empty date resolves
// to the latest.
//
// Legacy flat snapshots have no manifest; the NotFound error says so.
func (r *Reader) LoadManifest(ctx context.Context, dataset, date string) (*Manifest, error) {
	date, err := r.resolveDate(ctx, dataset, date)
	if err != nil {
		return nil, err
	}

	key := path.Join(dataset, date, manifestFile)
	rc, err := r.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{
			Dataset: dataset,
			Date:    date,
			Tried:   []string{ObjectURI(PartitionURI(r.base, dataset, date), manifestFile)},
			Hint:    "was this snapshot written with the legacy flat layout? legacy snapshots have no manifest",
		}
	}
	if err != nil {
		return nil, fmt.Errorf("snapstore: load manifest %s/%s: %w", dataset, date, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("snapstore: read manifest %s/%s: %w", dataset, date, err)
	}
	var manifest Manifest
	if err := jsonCodec.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("snapstore: decode manifest %s/%s: %w", dataset, date, err)
	}
	return &manifest, nil
}

// HasMarker reports whether the completion marker exists for a partition.
// Orchestrators can use it as a stricter completeness check before
// consuming a snapshot.
func (r *Reader) HasMarker(ctx context.Context, dataset, date string) (bool, error) {
	return r.store.Exists(ctx, path.Join(dataset, date, successMarker))
}

func (r *Reader) resolveDate(ctx context.Context, dataset, date string) (string, error) {
	if date != "" {
		if !dateSegmentRe.MatchString(date) {
			return "", fmt.Errorf("snapstore: invalid snapshot date %q (want YYYY-MM-DD)", date)
		}
		return date, nil
	}
	latest, err := r.LatestDate(ctx, dataset)
	if errors.Is(err, ErrNoSnapshots) {
		return "", &NotFoundError{
			Dataset: dataset,
			Tried:   []string{SnapshotRoot(r.base, dataset)},
		}
	}
	if err != nil {
		return "", err
	}
	return latest, nil
}
