package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/otron-io/codesearch/pkg/models"
)

// recordingEmbedder captures batch boundaries and returns fixed-dim
// vectors.
type recordingEmbedder struct {
	dim     int
	batches [][]string
	err     error
	badDim  int // when > 0, vectors come back with this length instead
}

func (r *recordingEmbedder) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	r.batches = append(r.batches, texts)
	if r.err != nil {
		return nil, r.err
	}
	dim := r.dim
	if r.badDim > 0 {
		dim = r.badDim
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, dim)
	}
	return out, nil
}

func (r *recordingEmbedder) Dim() int { return r.dim }

func chunkWithContent(path, content string) models.Chunk {
	lines := strings.Count(content, "\n") + 1
	return models.Chunk{
		Repository: "owner/repo",
		Path:       path,
		Content:    content,
		Metadata: models.ChunkMetadata{
			Language: "go", Type: models.ChunkFunction, Name: "f",
			StartLine: 1, EndLine: lines, LineCount: lines,
		},
	}
}

func TestEmbedChunks_Batching(t *testing.T) {
	e := &recordingEmbedder{dim: 4}
	chunks := make([]models.Chunk, 5)
	for i := range chunks {
		chunks[i] = chunkWithContent(fmt.Sprintf("f%d.go", i), fmt.Sprintf("content %d", i))
	}

	out, err := embedChunks(context.Background(), e, chunks, 2, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 5 {
		t.Fatalf("got %d chunks, want 5", len(out))
	}
	if len(e.batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(e.batches))
	}
	for i, b := range e.batches[:2] {
		if len(b) != 2 {
			t.Errorf("batch %d has %d texts, want 2", i, len(b))
		}
	}
	if len(e.batches[2]) != 1 {
		t.Errorf("final batch has %d texts, want 1", len(e.batches[2]))
	}
	for i, c := range out {
		if len(c.Embedding) != 4 {
			t.Errorf("chunk %d embedding length = %d, want 4", i, len(c.Embedding))
		}
	}
}

func TestEmbedChunks_PreSplitsOversized(t *testing.T) {
	e := &recordingEmbedder{dim: 4}
	long := strings.Repeat(strings.Repeat("x", 50)+"\n", 20) // ~1020 chars, 21 lines
	chunks := []models.Chunk{chunkWithContent("big.go", strings.TrimSuffix(long, "\n"))}

	out, err := embedChunks(context.Background(), e, chunks, 8, 300)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) < 3 {
		t.Fatalf("got %d chunks, want the oversized chunk split into parts", len(out))
	}
	next := 1
	for i, c := range out {
		if !strings.Contains(c.Metadata.Name, "part") {
			t.Errorf("part %d name = %q, want a numbered part", i, c.Metadata.Name)
		}
		if c.Metadata.StartLine != next {
			t.Errorf("part %d starts at %d, want %d", i, c.Metadata.StartLine, next)
		}
		next = c.Metadata.EndLine + 1
		if len(c.Embedding) != 4 {
			t.Errorf("part %d has no embedding", i)
		}
	}
}

func TestEmbedChunks_BatchFailureAborts(t *testing.T) {
	e := &recordingEmbedder{dim: 4, err: errors.New("provider down")}
	_, err := embedChunks(context.Background(), e, []models.Chunk{chunkWithContent("a.go", "x")}, 8, 1<<20)
	if err == nil || !strings.Contains(err.Error(), "provider down") {
		t.Fatalf("got %v, want wrapped provider error", err)
	}
}

func TestEmbedChunks_DimensionMismatchIsFatal(t *testing.T) {
	e := &recordingEmbedder{dim: 4, badDim: 8}
	_, err := embedChunks(context.Background(), e, []models.Chunk{chunkWithContent("a.go", "x")}, 8, 1<<20)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}

	_, err = embedQuery(context.Background(), e, "query")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("embedQuery: got %v, want ErrDimensionMismatch", err)
	}
}

func TestStubClient_Deterministic(t *testing.T) {
	s := NewStubClient(16)
	if s.Dim() != 16 {
		t.Fatalf("Dim() = %d, want 16", s.Dim())
	}

	a, err := s.EmbedQuery(context.Background(), "hello world")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.EmbedQuery(context.Background(), "hello world")
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.EmbedQuery(context.Background(), "something else")
	if err != nil {
		t.Fatal(err)
	}

	if len(a) != 16 {
		t.Fatalf("vector length = %d, want 16", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("identical texts embedded to different vectors")
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different texts embedded to identical vectors")
	}
}

func TestNewClient(t *testing.T) {
	if _, err := NewClient(nil); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := NewClient(&ClientConfig{Provider: "bogus"}); err == nil {
		t.Error("unknown provider accepted")
	}
	c, err := NewClient(&ClientConfig{Provider: ProviderStub, Dim: 8})
	if err != nil {
		t.Fatal(err)
	}
	if c.Dim() != 8 {
		t.Errorf("Dim() = %d, want 8", c.Dim())
	}
}
