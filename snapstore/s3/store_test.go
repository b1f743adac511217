package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/halcyonhealth/snapstore/snapstore"
)

func newTestStore(t *testing.T, prefix string) (*Store, *MockS3Client) {
	t.Helper()
	mock := NewMockS3Client()
	store, err := New(mock, Config{Bucket: "test-bucket", Prefix: prefix})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, mock
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, Config{Bucket: "b"}); err == nil {
		t.Error("accepted nil client")
	}
	if _, err := New(NewMockS3Client(), Config{}); err == nil {
		t.Error("accepted empty bucket")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	if err := store.Put(ctx, "ds/2025-08-10/x.parquet", strings.NewReader("data")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := store.Get(ctx, "ds/2025-08-10/x.parquet")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "data" {
		t.Errorf("Get = %q", data)
	}
}

func TestPutOverwrites(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	if err := store.Put(ctx, "k", strings.NewReader("first")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "k", strings.NewReader("second")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "second" {
		t.Errorf("Get after overwrite = %q", data)
	}
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore(t, "")
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, snapstore.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPrefixApplied(t *testing.T) {
	store, mock := newTestStore(t, "base/snapshots")
	ctx := context.Background()

	if err := store.Put(ctx, "ds/k.txt", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if _, ok := mock.Object("base/snapshots/ds/k.txt"); !ok {
		t.Error("object not stored under the configured prefix")
	}

	// List returns keys relative to the prefix.
	keys, err := store.List(ctx, "ds/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "ds/k.txt" {
		t.Errorf("List = %v", keys)
	}
}

func TestExists(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	ok, err := store.Exists(ctx, "k")
	if err != nil || ok {
		t.Errorf("Exists before Put = %v, %v", ok, err)
	}
	if err := store.Put(ctx, "k", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	ok, err = store.Exists(ctx, "k")
	if err != nil || !ok {
		t.Errorf("Exists after Put = %v, %v", ok, err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	if err := store.Put(ctx, "k", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}

func TestPromoteCopiesThenDeletes(t *testing.T) {
	store, mock := newTestStore(t, "pre")
	ctx := context.Background()

	if err := store.Put(ctx, "ds/tmp/u-x.parquet", strings.NewReader("payload")); err != nil {
		t.Fatal(err)
	}
	if err := store.Promote(ctx, "ds/tmp/u-x.parquet", "ds/x.parquet"); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	if _, ok := mock.Object("pre/ds/tmp/u-x.parquet"); ok {
		t.Error("source still present after promote")
	}
	data, ok := mock.Object("pre/ds/x.parquet")
	if !ok || string(data) != "payload" {
		t.Errorf("destination = %q, %v", data, ok)
	}
	if mock.CopyObjectCalls != 1 || mock.DeleteObjectCalls != 1 {
		t.Errorf("calls = copy %d, delete %d", mock.CopyObjectCalls, mock.DeleteObjectCalls)
	}
}

func TestPromoteMissingSource(t *testing.T) {
	store, _ := newTestStore(t, "")
	err := store.Promote(context.Background(), "no/src", "no/dst")
	if !errors.Is(err, snapstore.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPromoteCopyFailureKeepsSource(t *testing.T) {
	store, mock := newTestStore(t, "")
	ctx := context.Background()

	if err := store.Put(ctx, "src", strings.NewReader("payload")); err != nil {
		t.Fatal(err)
	}
	mock.CopyObjectErr = errors.New("copy exploded")

	if err := store.Promote(ctx, "src", "dst"); err == nil {
		t.Fatal("Promote succeeded despite copy failure")
	}
	if _, ok := mock.Object("src"); !ok {
		t.Error("source lost after failed copy")
	}
	if _, ok := mock.Object("dst"); ok {
		t.Error("destination exists after failed copy")
	}
	if mock.DeleteObjectCalls != 0 {
		t.Error("delete issued before a successful copy")
	}
}

func TestPromoteDeleteFailureKeepsDestination(t *testing.T) {
	store, mock := newTestStore(t, "")
	ctx := context.Background()

	if err := store.Put(ctx, "src", strings.NewReader("payload")); err != nil {
		t.Fatal(err)
	}
	mock.DeleteObjectErr = errors.New("delete exploded")

	if err := store.Promote(ctx, "src", "dst"); err == nil {
		t.Fatal("Promote succeeded despite delete failure")
	}
	// The destination is intact; only the stray source remains.
	if _, ok := mock.Object("dst"); !ok {
		t.Error("destination missing after failed delete")
	}
	if _, ok := mock.Object("src"); !ok {
		t.Error("source unexpectedly gone")
	}
}

func TestInvalidKeys(t *testing.T) {
	store, _ := newTestStore(t, "")
	ctx := context.Background()

	for _, key := range []string{"", "..", "../escape"} {
		if err := store.Put(ctx, key, strings.NewReader("x")); !errors.Is(err, snapstore.ErrInvalidPath) {
			t.Errorf("Put(%q) error = %v, want ErrInvalidPath", key, err)
		}
	}
	if _, err := store.List(ctx, "../escape"); !errors.Is(err, snapstore.ErrInvalidPath) {
		t.Error("List accepted an escaping prefix")
	}
}

func TestListMissingPrefix(t *testing.T) {
	store, _ := newTestStore(t, "")
	keys, err := store.List(context.Background(), "nothing/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List = %v, want empty", keys)
	}
}

func TestSnapshotLifecycleOverS3(t *testing.T) {
	store, _ := newTestStore(t, "snapshots")
	ctx := context.Background()

	w, err := snapstore.NewWriter(store, "s3://test-bucket/snapshots")
	if err != nil {
		t.Fatal(err)
	}
	tbl := &snapstore.Table{
		Columns: []string{"id"},
		Rows:    []snapstore.Row{{"id": int64(1)}},
	}
	if _, err := w.WriteSnapshot(ctx, "enrollments", "2025-08-10", tbl, "sha"); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	r, err := snapstore.NewReader(store, "s3://test-bucket/snapshots")
	if err != nil {
		t.Fatal(err)
	}
	dates, err := r.ListDates(ctx, "enrollments")
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 1 || dates[0] != "2025-08-10" {
		t.Fatalf("ListDates = %v", dates)
	}
	loaded, err := r.Load(ctx, "enrollments", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NumRows() != 1 {
		t.Errorf("rows = %d", loaded.NumRows())
	}
	manifest, err := r.LoadManifest(ctx, "enrollments", "2025-08-10")
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if manifest.Rows != 1 {
		t.Errorf("manifest rows = %d", manifest.Rows)
	}
}
