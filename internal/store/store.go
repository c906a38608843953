package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/otron-io/codesearch/pkg/models"
)

// corruptLiteral is the string a defective legacy serializer wrote in
// place of JSON. Readers must skip it and the status writer must never
// produce it.
const corruptLiteral = "[object Object]"

// pushBatchSize bounds how many list entries go into one push.
const pushBatchSize = 100

// ChunkStore is the persistence surface used by the indexing job and
// the search engine.
type ChunkStore interface {
	AppendChunks(ctx context.Context, repo string, chunks []models.Chunk) error
	ListChunksPage(ctx context.Context, repo string, offset, limit int64) ([]models.Chunk, error)
	CountChunks(ctx context.Context, repo string) (int64, error)
	RemoveChunksForPaths(ctx context.Context, repo string, paths []string) error

	MarkProcessed(ctx context.Context, repo, path string) error
	IsProcessed(ctx context.Context, repo, path string) (bool, error)
	ProcessedCount(ctx context.Context, repo string) (int64, error)
	ClearProcessed(ctx context.Context, repo string) error

	GetStatus(ctx context.Context, repo string) (models.RepositoryIndexState, bool, error)
	SetStatus(ctx context.Context, repo string, state models.RepositoryIndexState) error

	GetRepositories(ctx context.Context) ([]string, error)
	DeleteRepository(ctx context.Context, repo string) error
}

// Store implements ChunkStore on a KV backend.
type Store struct {
	kv KV
}

func New(kv KV) *Store {
	return &Store{kv: kv}
}

func chunksKey(repo string) string    { return "embedding:repo:" + repo + ":chunks" }
func statusKey(repo string) string    { return "embedding:repo:" + repo + ":status" }
func processedKey(repo string) string { return "embedding:repo:" + repo + ":processed_files" }

const reposKey = "embedding:repos"

// AppendChunks serializes and pushes chunks onto the repository's
// chunk list and records the repository in the registry.
func (s *Store) AppendChunks(ctx context.Context, repo string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	encoded := make([]string, 0, len(chunks))
	for _, c := range chunks {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal chunk %s:%d: %w", c.Path, c.Metadata.StartLine, err)
		}
		encoded = append(encoded, string(b))
	}
	for start := 0; start < len(encoded); start += pushBatchSize {
		end := start + pushBatchSize
		if end > len(encoded) {
			end = len(encoded)
		}
		if err := s.kv.ListPush(ctx, chunksKey(repo), encoded[start:end]...); err != nil {
			return fmt.Errorf("push chunks: %w", err)
		}
	}
	return s.kv.SetAdd(ctx, reposKey, repo)
}

// decodeChunk validates one stored entry. Invalid entries (bad JSON,
// the legacy corrupt literal, missing required fields) report ok=false
// instead of an error so scans can skip them.
func decodeChunk(raw string) (models.Chunk, bool) {
	if raw == "" || raw == corruptLiteral {
		return models.Chunk{}, false
	}
	var c models.Chunk
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return models.Chunk{}, false
	}
	if c.Path == "" || c.Metadata.StartLine < 1 || c.Metadata.EndLine < c.Metadata.StartLine {
		return models.Chunk{}, false
	}
	return c, true
}

// ListChunksPage range-reads one page of chunks, skipping corrupted
// entries. Offsets index the raw list, so a page may come back shorter
// than limit even in the middle of the list.
func (s *Store) ListChunksPage(ctx context.Context, repo string, offset, limit int64) ([]models.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	raws, err := s.kv.ListRange(ctx, chunksKey(repo), offset, offset+limit-1)
	if err != nil {
		return nil, fmt.Errorf("range chunks: %w", err)
	}
	out := make([]models.Chunk, 0, len(raws))
	for _, raw := range raws {
		c, ok := decodeChunk(raw)
		if !ok {
			log.Debug().Str("repo", repo).Msg("skipping corrupted chunk entry")
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// CountChunks returns the raw length of the chunk list, corrupted
// entries included.
func (s *Store) CountChunks(ctx context.Context, repo string) (int64, error) {
	return s.kv.ListLen(ctx, chunksKey(repo))
}

// RemoveChunksForPaths rewrites the chunk list without chunks that
// belong to the given paths. The KV has no delete-by-predicate, so
// this reads everything, filters, deletes the list and re-pushes the
// survivors in batches. Entries that fail to decode are dropped too.
func (s *Store) RemoveChunksForPaths(ctx context.Context, repo string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		drop[p] = struct{}{}
	}

	raws, err := s.kv.ListRange(ctx, chunksKey(repo), 0, -1)
	if err != nil {
		return fmt.Errorf("read chunks: %w", err)
	}
	kept := make([]string, 0, len(raws))
	for _, raw := range raws {
		c, ok := decodeChunk(raw)
		if !ok {
			continue
		}
		if _, gone := drop[c.Path]; gone {
			continue
		}
		kept = append(kept, raw)
	}
	if len(kept) == len(raws) {
		return nil
	}
	if err := s.kv.Delete(ctx, chunksKey(repo)); err != nil {
		return fmt.Errorf("delete chunk list: %w", err)
	}
	for start := 0; start < len(kept); start += pushBatchSize {
		end := start + pushBatchSize
		if end > len(kept) {
			end = len(kept)
		}
		if err := s.kv.ListPush(ctx, chunksKey(repo), kept[start:end]...); err != nil {
			return fmt.Errorf("re-push chunks: %w", err)
		}
	}
	return nil
}

func (s *Store) MarkProcessed(ctx context.Context, repo, path string) error {
	return s.kv.SetAdd(ctx, processedKey(repo), path)
}

func (s *Store) IsProcessed(ctx context.Context, repo, path string) (bool, error) {
	return s.kv.SetIsMember(ctx, processedKey(repo), path)
}

func (s *Store) ProcessedCount(ctx context.Context, repo string) (int64, error) {
	return s.kv.SetCard(ctx, processedKey(repo))
}

func (s *Store) ClearProcessed(ctx context.Context, repo string) error {
	return s.kv.Delete(ctx, processedKey(repo))
}

// GetStatus reads the repository's checkpoint. A missing or corrupted
// record reports found=false rather than an error.
func (s *Store) GetStatus(ctx context.Context, repo string) (models.RepositoryIndexState, bool, error) {
	raw, found, err := s.kv.Get(ctx, statusKey(repo))
	if err != nil {
		return models.RepositoryIndexState{}, false, fmt.Errorf("get status: %w", err)
	}
	if !found || raw == "" || raw == corruptLiteral {
		return models.RepositoryIndexState{}, false, nil
	}
	var st models.RepositoryIndexState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		log.Warn().Str("repo", repo).Msg("skipping corrupted status record")
		return models.RepositoryIndexState{}, false, nil
	}
	return st, true, nil
}

// SetStatus overwrites the repository's checkpoint. It refuses to
// persist the corrupt literal a broken serializer could produce.
func (s *Store) SetStatus(ctx context.Context, repo string, state models.RepositoryIndexState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if string(b) == corruptLiteral || !strings.HasPrefix(string(b), "{") {
		return fmt.Errorf("refusing to persist corrupt status for %s", repo)
	}
	return s.kv.Set(ctx, statusKey(repo), string(b))
}

// GetRepositories returns all repositories that have ever stored
// chunks, sorted.
func (s *Store) GetRepositories(ctx context.Context) ([]string, error) {
	repos, err := s.kv.SetMembers(ctx, reposKey)
	if err != nil {
		return nil, err
	}
	sort.Strings(repos)
	return repos, nil
}

// DeleteRepository removes the chunk list, processed set, status
// record and registry entry. Best-effort sequential deletes; there is
// no cross-key transaction.
func (s *Store) DeleteRepository(ctx context.Context, repo string) error {
	if err := s.kv.Delete(ctx, chunksKey(repo), processedKey(repo), statusKey(repo)); err != nil {
		return fmt.Errorf("delete repository keys: %w", err)
	}
	return s.kv.SetRemove(ctx, reposKey, repo)
}
