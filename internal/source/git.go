package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
)

// GitProvider implements Provider over a local git working tree. The
// repo argument on the Provider methods is advisory; the provider is
// bound to one checkout at construction.
type GitProvider struct {
	Root string
}

func NewGitProvider(root string) *GitProvider {
	return &GitProvider{Root: root}
}

// ListFiles walks the tree with godirwalk, pruning excluded
// directories and keeping allow-listed extensions. Paths are returned
// relative to the root, sorted for deterministic processing order.
func (g *GitProvider) ListFiles(ctx context.Context, repo string) ([]string, error) {
	var files []string
	err := godirwalk.Walk(g.Root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := filepath.Rel(g.Root, path)
			if err != nil {
				return nil
			}
			if de.IsDir() {
				if excludedDirs[de.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if Indexable(rel) {
				files = append(files, filepath.ToSlash(rel))
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", g.Root, err)
	}
	sort.Strings(files)
	return files, nil
}

func (g *GitProvider) GetFileContent(ctx context.Context, repo, path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(g.Root, filepath.FromSlash(path)))
}

// GetLatestCommit resolves the head of the given branch, or HEAD when
// branch is empty.
func (g *GitProvider) GetLatestCommit(ctx context.Context, repo, branch string) (string, error) {
	ref := "HEAD"
	if branch != "" {
		ref = branch
	}
	out, err := g.git(ctx, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DiffCommits lists files changed between base and head. Deleted files
// are excluded; a stale chunk for a deleted file is harmless compared
// to failing the whole diff run.
func (g *GitProvider) DiffCommits(ctx context.Context, repo, base, head string) ([]string, error) {
	out, err := g.git(ctx, "diff", "--name-only", "--diff-filter=d", base, head)
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && Indexable(line) {
			changed = append(changed, line)
		}
	}
	return changed, nil
}

func (g *GitProvider) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// CloneToTemp shallow-clones a repository URL into a temp directory
// and returns its path. The caller owns cleanup.
func CloneToTemp(repoURL, ref, token string) (string, error) {
	dir, err := os.MkdirTemp("", "codesearch-*")
	if err != nil {
		return "", err
	}
	url := repoURL
	if token != "" && strings.HasPrefix(url, "https://") {
		url = "https://" + token + ":x-oauth-basic@" + strings.TrimPrefix(url, "https://")
	}
	args := []string{"clone", "--depth", "50"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, url, dir)
	cmd := exec.Command("git", args...)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", dir).Msg("failed to remove temp directory")
		}
		return "", fmt.Errorf("git clone: %w", err)
	}
	return dir, nil
}
