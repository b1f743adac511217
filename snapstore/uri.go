package snapstore

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// -----------------------------------------------------------------------------
// Path convention
// -----------------------------------------------------------------------------
//
// Locations are URI strings. Three base forms are accepted:
//
//	s3://bucket/prefix
//	file:///abs/path
//	bare paths (absolute POSIX, drive-letter, or relative)
//
// Bare paths are coerced into file:// URIs; relative paths resolve against
// the current working directory. All functions here are deterministic and
// perform no I/O.

// driveLetterRe matches Windows absolute paths like C:\snapshots or D:/data.
var driveLetterRe = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// IsS3 reports whether the location is an object-storage URI.
func IsS3(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

// CoerceBase normalizes a base location into a URI string.
//
// s3:// and file:// URIs pass through unchanged. Drive-letter and POSIX
// absolute paths become file:// URIs; relative paths are resolved to
// absolute first. An empty or blank base returns ErrBaseURIUnset.
func CoerceBase(base string) (string, error) {
	b := strings.TrimSpace(base)
	b = strings.Trim(b, `"'`)
	if b == "" {
		return "", ErrBaseURIUnset
	}
	if strings.HasPrefix(b, "s3://") || strings.HasPrefix(b, "file://") {
		return b, nil
	}
	if driveLetterRe.MatchString(b) {
		return "file:///" + strings.ReplaceAll(b, `\`, "/"), nil
	}
	if strings.HasPrefix(b, "/") {
		return "file://" + b, nil
	}
	abs, err := filepath.Abs(b)
	if err != nil {
		return "", fmt.Errorf("resolving base %q: %w", b, err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// JoinURI joins location segments without duplicating separators.
// Backslashes in segments are normalized to forward slashes.
func JoinURI(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ReplaceAll(p, `\`, "/")
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}

// SnapshotRoot returns the base folder for a dataset,
// e.g. s3://bucket/snapshots/enrollments.
func SnapshotRoot(base, dataset string) string {
	return JoinURI(base, dataset)
}

// PartitionURI returns the daily partition folder for a dataset,
// e.g. .../enrollments/2025-08-10.
func PartitionURI(base, dataset, date string) string {
	return JoinURI(SnapshotRoot(base, dataset), date)
}

// ObjectURI returns a child object location inside a folder,
// e.g. .../2025-08-10/2025-08-10.parquet.
func ObjectURI(folder, name string) string {
	return JoinURI(folder, name)
}

// LastSegment returns the final path segment of a location (the date folder
// name for a partition URI). Backslash separators are tolerated.
func LastSegment(uri string) string {
	u := strings.ReplaceAll(uri, `\`, "/")
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

// LocalPath converts a file:// URI (or a bare local path) into a native
// filesystem path.
func LocalPath(uri string) string {
	p := strings.TrimPrefix(uri, "file://")
	// file:///C:/... parses to /C:/... which is not a usable path.
	if len(p) >= 3 && p[0] == '/' && driveLetterRe.MatchString(p[1:]) {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// SplitS3 splits an s3:// URI into bucket and key prefix.
// The prefix may be empty for bucket-root bases.
func SplitS3(uri string) (bucket, prefix string, err error) {
	if !IsS3(uri) {
		return "", "", fmt.Errorf("not an s3 URI: %q", uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", fmt.Errorf("s3 URI %q has no bucket", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, prefix, nil
}
