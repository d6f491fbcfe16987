// internal/storage/store_test.go
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "studio.db"))
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir())
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func orderOf(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPathHelpers(t *testing.T) {
	if got := ScenesPath("p1", "s1"); got != "projects/p1/screenplays/s1/scenes" {
		t.Fatalf("ScenesPath = %q", got)
	}
	if got := CharactersPath("p1"); got != "projects/p1/characters" {
		t.Fatalf("CharactersPath = %q", got)
	}

	collection, id, err := SplitDocPath("projects/p1/characters/c1")
	if err != nil || collection != "projects/p1/characters" || id != "c1" {
		t.Fatalf("SplitDocPath = %q %q %v", collection, id, err)
	}

	bad := []string{"", "projects", "projects/../x/c1", "projects/p1/characters/", "/projects/p1/c"}
	for _, p := range bad {
		if _, _, err := SplitDocPath(p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("SplitDocPath(%q) err = %v, want ErrInvalidPath", p, err)
		}
	}
	if err := ValidateCollection("projects/p1"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("even segment count accepted as collection")
	}
}

func TestFieldsRoundTrip(t *testing.T) {
	type item struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Order int    `json:"order"`
	}
	fields, err := FieldsOf(item{ID: "x", Name: "Ada", Order: 2})
	if err != nil {
		t.Fatalf("FieldsOf: %v", err)
	}
	if _, ok := fields["id"]; ok {
		t.Fatalf("FieldsOf kept id: %v", fields)
	}

	var got item
	if err := (Document{ID: "x", Fields: fields}).DataTo(&got); err != nil {
		t.Fatalf("DataTo: %v", err)
	}
	if got.Name != "Ada" || got.Order != 2 {
		t.Fatalf("DataTo = %+v", got)
	}
}

func TestCreateGetUpdateDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		col := CharactersPath("p1")

		id, err := s.Create(ctx, col, map[string]any{"name": "Ada", "notes": "x", "id": "ignored"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if id == "" || id == "ignored" {
			t.Fatalf("Create id = %q", id)
		}

		doc, err := s.Get(ctx, DocPath(col, id))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if doc.ID != id || doc.Fields["name"] != "Ada" {
			t.Fatalf("Get = %+v", doc)
		}
		if _, ok := doc.Fields["id"]; ok {
			t.Fatalf("id stored as field")
		}

		if err := s.Update(ctx, DocPath(col, id), map[string]any{"name": "Ada L", "notes": nil}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		doc, _ = s.Get(ctx, DocPath(col, id))
		if doc.Fields["name"] != "Ada L" {
			t.Fatalf("name after update = %v", doc.Fields["name"])
		}
		if _, ok := doc.Fields["notes"]; ok {
			t.Fatalf("nil field not removed: %v", doc.Fields)
		}

		if err := s.Delete(ctx, DocPath(col, id)); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, DocPath(col, id)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get after delete err = %v", err)
		}
		if err := s.Delete(ctx, DocPath(col, id)); err != nil {
			t.Fatalf("second Delete: %v", err)
		}
		if err := s.Update(ctx, DocPath(col, id), map[string]any{"name": "x"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Update missing err = %v", err)
		}
	})
}

func TestListOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		col := ScenesPath("p1", "s1")

		var ids []string
		for _, order := range []int{2, 0, 1} {
			id, err := s.Create(ctx, col, map[string]any{"order": order})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			ids = append(ids, id)
		}

		docs, err := s.List(ctx, Query{Collection: col, OrderBy: "order"})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		want := []string{ids[1], ids[2], ids[0]}
		if got := orderOf(docs); !equalStrings(got, want) {
			t.Fatalf("order asc = %v, want %v", got, want)
		}

		docs, _ = s.List(ctx, Query{Collection: col, OrderBy: "order", Descending: true})
		want = []string{ids[0], ids[2], ids[1]}
		if got := orderOf(docs); !equalStrings(got, want) {
			t.Fatalf("order desc = %v, want %v", got, want)
		}

		docs, _ = s.List(ctx, Query{Collection: col})
		if got := orderOf(docs); !equalStrings(got, ids) {
			t.Fatalf("creation order = %v, want %v", got, ids)
		}

		docs, err = s.List(ctx, Query{Collection: ScenesPath("p1", "empty")})
		if err != nil || len(docs) != 0 {
			t.Fatalf("empty collection = %v, %v", docs, err)
		}

		if _, err := s.List(ctx, Query{Collection: col, OrderBy: "order; DROP"}); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("bad order field err = %v", err)
		}
	})
}

func TestBatchUpdateIsAtomic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		col := ScenesPath("p1", "s1")

		a, _ := s.Create(ctx, col, map[string]any{"order": 0})
		b, _ := s.Create(ctx, col, map[string]any{"order": 1})

		err := s.BatchUpdate(ctx, []Update{
			{Path: DocPath(col, a), Fields: map[string]any{"order": 1}},
			{Path: DocPath(col, "missing"), Fields: map[string]any{"order": 5}},
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("batch with missing doc err = %v", err)
		}
		doc, _ := s.Get(ctx, DocPath(col, a))
		if doc.Fields["order"] != float64(0) {
			t.Fatalf("partial batch applied: order = %v", doc.Fields["order"])
		}

		err = s.BatchUpdate(ctx, []Update{
			{Path: DocPath(col, a), Fields: map[string]any{"order": 1}},
			{Path: DocPath(col, b), Fields: map[string]any{"order": 0}},
		})
		if err != nil {
			t.Fatalf("BatchUpdate: %v", err)
		}
		docs, _ := s.List(ctx, Query{Collection: col, OrderBy: "order"})
		if got := orderOf(docs); !equalStrings(got, []string{b, a}) {
			t.Fatalf("order after batch = %v", got)
		}
	})
}

func TestBatchUpdateWithDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		col := ScenesPath("p1", "s1")

		a, _ := s.Create(ctx, col, map[string]any{"order": 0})
		b, _ := s.Create(ctx, col, map[string]any{"order": 1})
		c, _ := s.Create(ctx, col, map[string]any{"order": 2})

		// 删除不存在的文档时整个批次不生效
		err := s.BatchUpdate(ctx, []Update{
			{Path: DocPath(col, c), Fields: map[string]any{"order": 1}},
			{Path: DocPath(col, "missing"), Delete: true},
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("batch delete of missing doc err = %v", err)
		}

		err = s.BatchUpdate(ctx, []Update{
			{Path: DocPath(col, b), Delete: true},
			{Path: DocPath(col, c), Fields: map[string]any{"order": 1}},
		})
		if err != nil {
			t.Fatalf("BatchUpdate: %v", err)
		}
		if _, err := s.Get(ctx, DocPath(col, b)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("deleted doc still readable: %v", err)
		}
		docs, _ := s.List(ctx, Query{Collection: col, OrderBy: "order"})
		if got := orderOf(docs); !equalStrings(got, []string{a, c}) {
			t.Fatalf("order after batch = %v", got)
		}
		if docs[1].Fields["order"] != float64(1) {
			t.Fatalf("order value = %v", docs[1].Fields["order"])
		}
	})
}

func TestFileBatchUpdateRestoresOnRenameFailure(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	col := ScenesPath("p1", "s1")
	a, _ := s.Create(ctx, col, map[string]any{"order": 0})
	b, _ := s.Create(ctx, col, map[string]any{"order": 1})
	c, _ := s.Create(ctx, col, map[string]any{"order": 2})

	// 第二个临时文件替换时失败
	calls := 0
	renameFile = func(from, to string) error {
		if filepath.Ext(from) == ".tmp" {
			calls++
			if calls == 2 {
				return errors.New("disk full")
			}
		}
		return os.Rename(from, to)
	}
	defer func() { renameFile = os.Rename }()

	err = s.BatchUpdate(ctx, []Update{
		{Path: DocPath(col, a), Fields: map[string]any{"order": 2}},
		{Path: DocPath(col, b), Fields: map[string]any{"order": 1}},
		{Path: DocPath(col, c), Fields: map[string]any{"order": 0}},
	})
	if err == nil {
		t.Fatalf("BatchUpdate succeeded despite rename failure")
	}

	docs, err := s.List(ctx, Query{Collection: col, OrderBy: "order"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got := orderOf(docs); !equalStrings(got, []string{a, b, c}) {
		t.Fatalf("order after failed batch = %v", got)
	}
	for i, d := range docs {
		if d.Fields["order"] != float64(i) {
			t.Fatalf("doc %s order = %v", d.ID, d.Fields["order"])
		}
	}

	entries, err := os.ReadDir(s.collectionDir(col))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			t.Fatalf("leftover file %s", e.Name())
		}
	}
}

func receive(t *testing.T, ch <-chan Snapshot, match func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed early")
			}
			if snap.Err != nil {
				t.Fatalf("snapshot error: %v", snap.Err)
			}
			if match(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
		}
	}
}

func TestSubscribePushesSnapshots(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		col := ScenesPath("p1", "s1")

		first, _ := s.Create(ctx, col, map[string]any{"order": 0})

		ch, err := s.Subscribe(ctx, Query{Collection: col, OrderBy: "order"})
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		receive(t, ch, func(s Snapshot) bool { return len(s.Docs) == 1 })

		second, _ := s.Create(ctx, col, map[string]any{"order": 1})
		receive(t, ch, func(s Snapshot) bool { return len(s.Docs) == 2 })

		if err := s.BatchUpdate(ctx, []Update{
			{Path: DocPath(col, first), Fields: map[string]any{"order": 1}},
			{Path: DocPath(col, second), Fields: map[string]any{"order": 0}},
		}); err != nil {
			t.Fatalf("BatchUpdate: %v", err)
		}
		receive(t, ch, func(s Snapshot) bool {
			return equalStrings(orderOf(s.Docs), []string{second, first})
		})

		// 其他集合的写入不影响
		if _, err := s.Create(ctx, CharactersPath("p1"), map[string]any{"name": "x"}); err != nil {
			t.Fatalf("Create: %v", err)
		}

		cancel()
		select {
		case _, ok := <-ch:
			for ok {
				_, ok = <-ch
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("subscription not closed after cancel")
		}
	})
}

func TestCloseEndsSubscriptions(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ch, err := s.Subscribe(context.Background(), Query{Collection: CharactersPath("p1")})
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			deadline := time.After(5 * time.Second)
			for {
				select {
				case _, ok := <-ch:
					if !ok {
						if _, err := s.Subscribe(context.Background(), Query{Collection: CharactersPath("p1")}); !errors.Is(err, ErrClosed) {
							t.Fatalf("Subscribe after close err = %v", err)
						}
						return
					}
				case <-deadline:
					t.Fatalf("subscription not closed by Close")
				}
			}
		})
	}
}

func TestMergePatch(t *testing.T) {
	dst := map[string]any{"a": 1.0, "nested": map[string]any{"x": 1.0, "y": 2.0}}
	got := mergePatch(dst, map[string]any{"a": nil, "b": "new", "nested": map[string]any{"y": nil, "z": 3.0}})

	if _, ok := got["a"]; ok {
		t.Fatalf("a not removed")
	}
	if got["b"] != "new" {
		t.Fatalf("b = %v", got["b"])
	}
	nested := got["nested"].(map[string]any)
	if nested["x"] != 1.0 || nested["z"] != 3.0 {
		t.Fatalf("nested = %v", nested)
	}
	if _, ok := nested["y"]; ok {
		t.Fatalf("nested y not removed")
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		a, b any
		want int
	}{
		{nil, 1.0, -1},
		{1.0, 2.0, -1},
		{2.0, 2.0, 0},
		{3.0, "a", -1},
		{"b", "a", 1},
		{"a", nil, 1},
	}
	for _, tt := range tests {
		if got := compareValues(tt.a, tt.b); got != tt.want {
			t.Errorf("compareValues(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestStartCacheCleanupRunsOnce(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer s.Close()

	before := runtime.NumGoroutine()
	s.StartCacheCleanup()
	s.StartCacheCleanup()
	if after := runtime.NumGoroutine(); after > before {
		t.Fatalf("goroutines grew from %d to %d", before, after)
	}
}
