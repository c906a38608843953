package models

import "time"

// ChunkType classifies the logical unit a chunk was cut from.
type ChunkType string

const (
	ChunkFunction ChunkType = "function"
	ChunkClass    ChunkType = "class"
	ChunkMethod   ChunkType = "method"
	ChunkBlock    ChunkType = "block"
	ChunkFile     ChunkType = "file"
)

// ChunkMetadata describes where a chunk sits in its file. Lines are
// 1-based and inclusive; LineCount == EndLine - StartLine + 1.
type ChunkMetadata struct {
	Language  string    `json:"language"`
	Type      ChunkType `json:"type"`
	Name      string    `json:"name,omitempty"`
	StartLine int       `json:"startLine"`
	EndLine   int       `json:"endLine"`
	LineCount int       `json:"lineCount"`
}

// Chunk is one indexed unit of source text. A chunk has no identity
// beyond (Repository, Path, StartLine, EndLine); duplicates are
// tolerated operationally.
type Chunk struct {
	Repository string        `json:"repository"`
	Path       string        `json:"path"`
	Content    string        `json:"content"`
	Embedding  []float32     `json:"embedding,omitempty"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// IndexStatus is the lifecycle state of a repository's indexing job.
type IndexStatus string

const (
	StatusInProgress IndexStatus = "in_progress"
	StatusCompleted  IndexStatus = "completed"
	StatusFailed     IndexStatus = "failed"
)

// RepositoryIndexState is the durable checkpoint for one repository,
// overwritten in place as the job advances. Once Status is completed,
// Progress is 100 and LastCommitSha is set.
type RepositoryIndexState struct {
	Repository      string      `json:"repository"`
	Status          IndexStatus `json:"status"`
	StartedAt       time.Time   `json:"startedAt"`
	LastProcessedAt time.Time   `json:"lastProcessedAt"`
	ProcessedFiles  int         `json:"processedFiles"`
	TotalFiles      int         `json:"totalFiles,omitempty"`
	CurrentPath     string      `json:"currentPath,omitempty"`
	Errors          []string    `json:"errors,omitempty"`
	Progress        int         `json:"progress"`
	LastCommitSha   string      `json:"lastCommitSha,omitempty"`
}

// SearchResult is one scored chunk returned by the search engine.
type SearchResult struct {
	Repository string    `json:"repository"`
	Path       string    `json:"path"`
	Content    string    `json:"content"`
	Score      float64   `json:"score"`
	Language   string    `json:"language"`
	Type       ChunkType `json:"type"`
	Name       string    `json:"name,omitempty"`
	StartLine  int       `json:"startLine"`
	EndLine    int       `json:"endLine"`
	LineCount  int       `json:"lineCount"`
}
