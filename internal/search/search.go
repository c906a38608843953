package search

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/otron-io/codesearch/internal/ai"
	"github.com/otron-io/codesearch/internal/store"
	"github.com/otron-io/codesearch/pkg/models"
)

// NotEmbeddedError means the target repository has no indexed chunks.
// It carries the repositories that are searchable instead.
type NotEmbeddedError struct {
	Repository string
	Available  []string
}

func (e *NotEmbeddedError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("repository %q is not embedded (no repositories are indexed)", e.Repository)
	}
	return fmt.Sprintf("repository %q is not embedded (available: %s)", e.Repository, strings.Join(e.Available, ", "))
}

// Options tunes the engine.
type Options struct {
	// PageSize is how many chunks one store read fetches (default
	// 100), sized to the store's per-request limits.
	PageSize int64
	// Concurrency bounds how many pages are fetched and scored at
	// once (default 5).
	Concurrency int
	// Threshold is the exclusive minimum cosine similarity for a
	// result (default 0.2). Lower values yield more but noisier
	// results.
	Threshold float64
	// DefaultLimit caps results when the caller passes limit <= 0
	// (default 10).
	DefaultLimit int
}

const (
	defaultPageSize    = 100
	defaultConcurrency = 5
	defaultThreshold   = 0.2
	defaultLimit       = 10
)

func (o *Options) applyDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.Threshold == 0 {
		o.Threshold = defaultThreshold
	}
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = defaultLimit
	}
}

// Engine ranks a repository's stored chunks against a query by cosine
// similarity, reading the chunk list in bounded-concurrent pages.
type Engine struct {
	store  store.ChunkStore
	client ai.Client
	opts   Options
}

func NewEngine(st store.ChunkStore, client ai.Client, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{store: st, client: client, opts: opts}
}

// Search embeds the query and returns the top chunks above the
// similarity threshold, ordered by descending score. fileFilter is an
// optional glob over chunk paths (e.g. "src/*.ts").
func (e *Engine) Search(ctx context.Context, repo, query string, limit int, fileFilter string) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}

	count, err := e.store.CountChunks(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if count == 0 {
		available, _ := e.store.GetRepositories(ctx)
		return nil, &NotEmbeddedError{Repository: repo, Available: available}
	}

	var pathFilter *regexp.Regexp
	if fileFilter != "" {
		pathFilter, err = globToRegexp(fileFilter)
		if err != nil {
			return nil, fmt.Errorf("file filter: %w", err)
		}
	}

	queryVec, err := e.client.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var mu sync.Mutex
	var matches []models.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, e.opts.Concurrency)
	for offset := int64(0); offset < count; offset += e.opts.PageSize {
		offset := offset
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			page, err := e.store.ListChunksPage(gctx, repo, offset, e.opts.PageSize)
			if err != nil {
				return fmt.Errorf("page at %d: %w", offset, err)
			}
			var local []models.SearchResult
			for _, c := range page {
				if pathFilter != nil && !pathFilter.MatchString(c.Path) {
					continue
				}
				score := Cosine(queryVec, c.Embedding)
				if score > e.opts.Threshold {
					local = append(local, toResult(c, score))
				}
			}
			if len(local) > 0 {
				mu.Lock()
				matches = append(matches, local...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, k int) bool {
		if matches[i].Score != matches[k].Score {
			return matches[i].Score > matches[k].Score
		}
		if matches[i].Path != matches[k].Path {
			return matches[i].Path < matches[k].Path
		}
		return matches[i].StartLine < matches[k].StartLine
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// IsEmbedded reports whether the repository is searchable: it has at
// least one stored chunk. A completed status record corroborates but
// is not required.
func (e *Engine) IsEmbedded(ctx context.Context, repo string) (bool, error) {
	count, err := e.store.CountChunks(ctx, repo)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func toResult(c models.Chunk, score float64) models.SearchResult {
	return models.SearchResult{
		Repository: c.Repository,
		Path:       c.Path,
		Content:    c.Content,
		Score:      score,
		Language:   c.Metadata.Language,
		Type:       c.Metadata.Type,
		Name:       c.Metadata.Name,
		StartLine:  c.Metadata.StartLine,
		EndLine:    c.Metadata.EndLine,
		LineCount:  c.Metadata.LineCount,
	}
}

// Cosine is the normalized dot product of two vectors. It is 0, not
// NaN, when either vector has zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// globToRegexp translates a shell-style glob to an anchored regexp:
// '*' matches any run of characters within one path segment, '?' any
// single character, and everything else is literal.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString("[^/]*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
