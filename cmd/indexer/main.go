package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/otron-io/codesearch/internal/ai"
	"github.com/otron-io/codesearch/internal/chunker"
	"github.com/otron-io/codesearch/internal/config"
	"github.com/otron-io/codesearch/internal/indexer"
	"github.com/otron-io/codesearch/internal/source"
	"github.com/otron-io/codesearch/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("codesearch-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	root := cfg.RepoRoot
	if cfg.RepoURL != "" {
		root, err = source.CloneToTemp(cfg.RepoURL, cfg.GitRef, cfg.GithubToken)
		if err != nil {
			log.Fatalf("clone failed: %v", err)
		}
		defer func() {
			if err := os.RemoveAll(root); err != nil {
				log.Printf("Failed to remove temp directory %s: %v", root, err)
			}
		}()
	}

	repo := cfg.Repository
	if repo == "" {
		if cfg.RepoURL != "" {
			repo = repoFromURL(cfg.RepoURL)
		} else {
			abs, _ := filepath.Abs(root)
			repo = filepath.Base(abs)
		}
	}

	client, err := ai.NewClient(clientConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to create embedding client: %v", err)
	}
	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	ctx := context.Background()
	kv, err := store.NewRedisKV(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer kv.Close()
	st := store.New(kv)

	ch := chunker.New(nil, chunker.Options{
		MaxLines:           cfg.MaxLinesPerChunk,
		LargeFileThreshold: cfg.LargeFileThreshold,
	})

	job := indexer.New(st, source.NewGitProvider(root), client, ch, repo, indexer.Options{
		Mode:            indexer.Mode(cfg.IndexMode),
		Branch:          cfg.GitRef,
		CheckpointEvery: cfg.CheckpointEvery,
		TimeBudget:      time.Duration(cfg.TimeBudgetSeconds) * time.Second,
	})

	for ev := range job.Start(ctx) {
		switch ev.Kind {
		case indexer.EventProgress:
			log.Printf("progress: %d/%d files (%d%%)", ev.ProcessedFiles, ev.TotalFiles, ev.Progress)
		case indexer.EventPaused:
			log.Printf("paused: %s (resume with --index-mode resume --repository %s)", ev.Message, ev.ResumeToken)
		case indexer.EventCompleted:
			log.Printf("completed: %d chunks across %d files in %s (commit %s)",
				ev.Summary.TotalChunks, ev.Summary.TotalFiles, ev.Summary.Duration.Round(time.Second), ev.Summary.CommitSha)
		case indexer.EventFailed:
			log.Fatalf("failed: %s", ev.Message)
		default:
			log.Print(ev.Message)
		}
	}
}

func clientConfig(cfg config.Specification) *ai.ClientConfig {
	cc := &ai.ClientConfig{
		APIKey:      cfg.APIKey,
		EmbedModel:  cfg.EmbedModel,
		Dim:         cfg.Dim,
		ProjectID:   cfg.ProjectID,
		Location:    cfg.Location,
		BatchSize:   cfg.EmbedBatch,
		TokenBudget: cfg.TokenBudget,
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		cc.Provider = ai.ProviderOpenAI
	case "vertexai", "google":
		cc.Provider = ai.ProviderVertexAI
	default:
		cc.Provider = ai.ProviderStub
	}
	return cc
}

func repoFromURL(url string) string {
	s := strings.TrimSuffix(url, ".git")
	s = strings.TrimSuffix(s, "/")
	parts := strings.Split(s, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return parts[len(parts)-1]
}
