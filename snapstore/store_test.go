package snapstore

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
)

// storeFactories lets every backend run the same conformance tests.
var storeFactories = map[string]func(t *testing.T) Store{
	"fs": func(t *testing.T) Store {
		s, err := NewFS(t.TempDir())
		if err != nil {
			t.Fatalf("NewFS: %v", err)
		}
		return s
	},
	"memory": func(t *testing.T) Store {
		return NewMemory()
	},
}

func TestStorePutGet(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			if err := store.Put(ctx, "a/b/c.txt", strings.NewReader("hello")); err != nil {
				t.Fatalf("Put: %v", err)
			}

			rc, err := store.Get(ctx, "a/b/c.txt")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			data, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != "hello" {
				t.Errorf("Get = %q, want %q", data, "hello")
			}
		})
	}
}

func TestStorePutOverwrites(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			if err := store.Put(ctx, "k.txt", strings.NewReader("first")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := store.Put(ctx, "k.txt", strings.NewReader("second")); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}

			rc, err := store.Get(ctx, "k.txt")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			data, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(data) != "second" {
				t.Errorf("Get after overwrite = %q, want %q", data, "second")
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			_, err := store.Get(context.Background(), "nope/missing.txt")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get missing error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreExists(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			ok, err := store.Exists(ctx, "x.txt")
			if err != nil {
				t.Fatalf("Exists: %v", err)
			}
			if ok {
				t.Error("Exists = true before Put")
			}

			if err := store.Put(ctx, "x.txt", strings.NewReader("x")); err != nil {
				t.Fatal(err)
			}
			ok, err = store.Exists(ctx, "x.txt")
			if err != nil {
				t.Fatalf("Exists: %v", err)
			}
			if !ok {
				t.Error("Exists = false after Put")
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			for _, key := range []string{
				"ds/2025-08-10/2025-08-10.parquet",
				"ds/2025-08-10/manifest.json",
				"ds/2025-08-09.parquet",
				"other/2025-08-10/2025-08-10.parquet",
			} {
				if err := store.Put(ctx, key, strings.NewReader("x")); err != nil {
					t.Fatalf("Put %s: %v", key, err)
				}
			}

			keys, err := store.List(ctx, "ds/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			sort.Strings(keys)
			want := []string{
				"ds/2025-08-09.parquet",
				"ds/2025-08-10/2025-08-10.parquet",
				"ds/2025-08-10/manifest.json",
			}
			if len(keys) != len(want) {
				t.Fatalf("List = %v, want %v", keys, want)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Errorf("List[%d] = %q, want %q", i, keys[i], want[i])
				}
			}
		})
	}
}

func TestStoreListMissingPrefix(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			keys, err := store.List(context.Background(), "never-written/")
			if err != nil {
				t.Fatalf("List missing prefix: %v", err)
			}
			if len(keys) != 0 {
				t.Errorf("List missing prefix = %v, want empty", keys)
			}
		})
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			if err := store.Put(ctx, "d.txt", strings.NewReader("x")); err != nil {
				t.Fatal(err)
			}
			if err := store.Delete(ctx, "d.txt"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := store.Delete(ctx, "d.txt"); err != nil {
				t.Errorf("Delete on missing path: %v", err)
			}
		})
	}
}

func TestStorePromote(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			if err := store.Put(ctx, "ds/2025-08-10/tmp/abc-x.parquet", strings.NewReader("payload")); err != nil {
				t.Fatal(err)
			}
			if err := store.Promote(ctx, "ds/2025-08-10/tmp/abc-x.parquet", "ds/2025-08-10/2025-08-10.parquet"); err != nil {
				t.Fatalf("Promote: %v", err)
			}

			ok, _ := store.Exists(ctx, "ds/2025-08-10/tmp/abc-x.parquet")
			if ok {
				t.Error("source still exists after Promote")
			}
			rc, err := store.Get(ctx, "ds/2025-08-10/2025-08-10.parquet")
			if err != nil {
				t.Fatalf("Get promoted: %v", err)
			}
			data, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(data) != "payload" {
				t.Errorf("promoted content = %q", data)
			}
		})
	}
}

func TestStorePromoteMissingSource(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)

			err := store.Promote(context.Background(), "no/such.src", "no/such.dst")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Promote missing source error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreInvalidPaths(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			for _, key := range []string{"", "..", "../escape.txt"} {
				if err := store.Put(ctx, key, strings.NewReader("x")); !errors.Is(err, ErrInvalidPath) {
					t.Errorf("Put(%q) error = %v, want ErrInvalidPath", key, err)
				}
				if _, err := store.Get(ctx, key); !errors.Is(err, ErrInvalidPath) {
					t.Errorf("Get(%q) error = %v, want ErrInvalidPath", key, err)
				}
			}
		})
	}
}
