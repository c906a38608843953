package store

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/otron-io/codesearch/pkg/models"
)

func testChunk(path string, start, end int) models.Chunk {
	return models.Chunk{
		Repository: "owner/repo",
		Path:       path,
		Content:    "some content",
		Embedding:  []float32{0.1, 0.2},
		Metadata: models.ChunkMetadata{
			Language: "go", Type: models.ChunkFunction, Name: "f",
			StartLine: start, EndLine: end, LineCount: end - start + 1,
		},
	}
}

func TestAppendAndListChunks(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV())

	chunks := []models.Chunk{
		testChunk("a.go", 1, 10),
		testChunk("b.go", 1, 5),
		testChunk("c.go", 3, 7),
	}
	if err := s.AppendChunks(ctx, "owner/repo", chunks); err != nil {
		t.Fatal(err)
	}

	count, err := s.CountChunks(ctx, "owner/repo")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	page, err := s.ListChunksPage(ctx, "owner/repo", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Path != "a.go" || page[1].Path != "b.go" {
		t.Fatalf("first page = %+v", page)
	}

	page, err = s.ListChunksPage(ctx, "owner/repo", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].Path != "c.go" {
		t.Fatalf("second page = %+v", page)
	}

	repos, err := s.GetRepositories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(repos, []string{"owner/repo"}) {
		t.Fatalf("repositories = %v", repos)
	}
}

func TestListChunksPage_SkipsCorruptedEntries(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := New(kv)

	if err := s.AppendChunks(ctx, "owner/repo", []models.Chunk{testChunk("a.go", 1, 3)}); err != nil {
		t.Fatal(err)
	}
	// A defective legacy writer stored these instead of JSON.
	if err := kv.ListPush(ctx, chunksKey("owner/repo"), "[object Object]", "{not json", `{"path":""}`); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendChunks(ctx, "owner/repo", []models.Chunk{testChunk("b.go", 2, 4)}); err != nil {
		t.Fatal(err)
	}

	page, err := s.ListChunksPage(ctx, "owner/repo", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Path != "a.go" || page[1].Path != "b.go" {
		t.Fatalf("got %+v, want the two valid chunks", page)
	}
}

func TestRemoveChunksForPaths(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := New(kv)

	chunks := []models.Chunk{
		testChunk("keep.go", 1, 10),
		testChunk("drop.go", 1, 5),
		testChunk("keep.go", 11, 20),
		testChunk("also_drop.go", 1, 2),
	}
	if err := s.AppendChunks(ctx, "owner/repo", chunks); err != nil {
		t.Fatal(err)
	}

	before, err := kv.ListRange(ctx, chunksKey("owner/repo"), 0, -1)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.RemoveChunksForPaths(ctx, "owner/repo", []string{"drop.go", "also_drop.go"}); err != nil {
		t.Fatal(err)
	}

	after, err := kv.ListRange(ctx, chunksKey("owner/repo"), 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	// Survivors keep their exact serialized form and order.
	want := []string{before[0], before[2]}
	if !reflect.DeepEqual(after, want) {
		t.Fatalf("after removal: %v, want %v", after, want)
	}

	// Removing nothing leaves the list untouched.
	if err := s.RemoveChunksForPaths(ctx, "owner/repo", []string{"absent.go"}); err != nil {
		t.Fatal(err)
	}
	again, _ := kv.ListRange(ctx, chunksKey("owner/repo"), 0, -1)
	if !reflect.DeepEqual(again, want) {
		t.Fatalf("no-op removal changed the list: %v", again)
	}
}

func TestProcessedSet(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV())

	for _, p := range []string{"a.go", "b.go", "a.go"} {
		if err := s.MarkProcessed(ctx, "owner/repo", p); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.ProcessedCount(ctx, "owner/repo")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("processed count = %d, want 2", n)
	}

	for p, want := range map[string]bool{"a.go": true, "b.go": true, "c.go": false} {
		got, err := s.IsProcessed(ctx, "owner/repo", p)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("IsProcessed(%q) = %v, want %v", p, got, want)
		}
	}

	if err := s.ClearProcessed(ctx, "owner/repo"); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.ProcessedCount(ctx, "owner/repo"); n != 0 {
		t.Fatalf("processed count after clear = %d, want 0", n)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV())

	if _, found, err := s.GetStatus(ctx, "owner/repo"); err != nil || found {
		t.Fatalf("missing status: found=%v err=%v", found, err)
	}

	state := models.RepositoryIndexState{
		Repository:      "owner/repo",
		Status:          models.StatusInProgress,
		StartedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		LastProcessedAt: time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		ProcessedFiles:  7,
		TotalFiles:      20,
		CurrentPath:     "src/util.ts",
		Errors:          []string{"src/bad.ts: embed: boom"},
		Progress:        35,
	}
	if err := s.SetStatus(ctx, "owner/repo", state); err != nil {
		t.Fatal(err)
	}

	got, found, err := s.GetStatus(ctx, "owner/repo")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("status not found after set")
	}
	if !reflect.DeepEqual(got, state) {
		t.Fatalf("got %+v, want %+v", got, state)
	}
}

func TestGetStatus_CorruptedRecordSkipped(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := New(kv)

	for _, raw := range []string{"[object Object]", "{truncated", ""} {
		if err := kv.Set(ctx, statusKey("owner/repo"), raw); err != nil {
			t.Fatal(err)
		}
		if _, found, err := s.GetStatus(ctx, "owner/repo"); err != nil || found {
			t.Errorf("raw %q: found=%v err=%v, want skipped", raw, found, err)
		}
	}
}

func TestDeleteRepository(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV())

	if err := s.AppendChunks(ctx, "owner/repo", []models.Chunk{testChunk("a.go", 1, 3)}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkProcessed(ctx, "owner/repo", "a.go"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus(ctx, "owner/repo", models.RepositoryIndexState{Repository: "owner/repo", Status: models.StatusCompleted, Progress: 100}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRepository(ctx, "owner/repo"); err != nil {
		t.Fatal(err)
	}

	if n, _ := s.CountChunks(ctx, "owner/repo"); n != 0 {
		t.Errorf("chunks remain after delete: %d", n)
	}
	if n, _ := s.ProcessedCount(ctx, "owner/repo"); n != 0 {
		t.Errorf("processed set remains after delete: %d", n)
	}
	if _, found, _ := s.GetStatus(ctx, "owner/repo"); found {
		t.Error("status remains after delete")
	}
	if repos, _ := s.GetRepositories(ctx); len(repos) != 0 {
		t.Errorf("registry still lists %v after delete", repos)
	}
}

func TestDecodeChunk(t *testing.T) {
	valid, _ := json.Marshal(testChunk("a.go", 1, 3))
	tests := []struct {
		raw string
		ok  bool
	}{
		{string(valid), true},
		{"[object Object]", false},
		{"", false},
		{"null", false},
		{`{"path":"a.go","metadata":{"startLine":0,"endLine":3}}`, false},
		{`{"path":"a.go","metadata":{"startLine":5,"endLine":3}}`, false},
	}
	for _, tt := range tests {
		if _, ok := decodeChunk(tt.raw); ok != tt.ok {
			t.Errorf("decodeChunk(%q) ok = %v, want %v", truncate(tt.raw), ok, tt.ok)
		}
	}
}

func truncate(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}

func TestMemoryKV_ListRangeBounds(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	if err := kv.ListPush(ctx, "k", "a", "b", "c", "d"); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		start, stop int64
		want        []string
	}{
		{0, -1, []string{"a", "b", "c", "d"}},
		{1, 2, []string{"b", "c"}},
		{2, 100, []string{"c", "d"}},
		{5, 10, nil},
		{-2, -1, []string{"c", "d"}},
	}
	for _, tt := range tests {
		got, err := kv.ListRange(ctx, "k", tt.start, tt.stop)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ListRange(%d,%d) = %v, want %v", tt.start, tt.stop, got, tt.want)
		}
	}
}
