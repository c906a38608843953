package source

import (
	"context"
	"path/filepath"
	"strings"
)

// Provider abstracts source-control access: file enumeration, content
// reads and commit plumbing for diff-mode indexing.
type Provider interface {
	// ListFiles returns indexable file paths, recursive, filtered by
	// the extension allow-list and the directory exclude-list.
	ListFiles(ctx context.Context, repo string) ([]string, error)
	GetFileContent(ctx context.Context, repo, path string) ([]byte, error)
	GetLatestCommit(ctx context.Context, repo, branch string) (string, error)
	// DiffCommits returns paths changed between base and head,
	// excluding deletions.
	DiffCommits(ctx context.Context, repo, base, head string) ([]string, error)
}

// indexableExtensions is the allow-list of file types worth embedding.
var indexableExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true,
	".py": true, ".go": true, ".java": true, ".rb": true, ".php": true,
	".c": true, ".h": true, ".cpp": true, ".cc": true, ".hpp": true,
	".cs": true, ".swift": true, ".kt": true, ".rs": true, ".scala": true,
	".sh": true, ".sql": true, ".html": true, ".css": true, ".scss": true,
	".vue": true, ".svelte": true,
	".md": true, ".yaml": true, ".yml": true, ".json": true, ".toml": true,
}

// excludedDirs are directory names skipped during enumeration.
var excludedDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true, "build": true,
	"out": true, "target": true, "vendor": true, "coverage": true,
	"__pycache__": true, ".next": true, ".venv": true, "venv": true,
	".idea": true, ".vscode": true, ".cache": true, "bin": true, "obj": true,
}

// Indexable reports whether a relative path passes the extension
// allow-list and the directory exclude-list.
func Indexable(relPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if excludedDirs[part] {
			return false
		}
	}
	return indexableExtensions[strings.ToLower(filepath.Ext(relPath))]
}
