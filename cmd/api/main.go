package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/otron-io/codesearch/internal/ai"
	"github.com/otron-io/codesearch/internal/config"
	"github.com/otron-io/codesearch/internal/search"
	"github.com/otron-io/codesearch/internal/store"
	"github.com/otron-io/codesearch/pkg/models"
)

type searchResponse struct {
	Results      []models.SearchResult `json:"results"`
	TotalResults int                   `json:"totalResults"`
}

type notEmbeddedResponse struct {
	Error                 string   `json:"error"`
	Repository            string   `json:"repository"`
	AvailableRepositories []string `json:"availableRepositories"`
}

func main() {
	fs := pflag.NewFlagSet("codesearch-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Msg("starting codesearch api")

	kv, err := store.NewRedisKV(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer kv.Close()
	st := store.New(kv)

	client, err := ai.NewClient(&ai.ClientConfig{
		APIKey:     cfg.APIKey,
		EmbedModel: cfg.EmbedModel,
		Dim:        cfg.Dim,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
		Provider:   providerFor(cfg.Provider),
	})
	if err != nil {
		log.Fatalf("Failed to create embedding client: %v", err)
	}
	logger.Info().Int("embedding_dim", client.Dim()).Msg("embedding client initialized")

	engine := search.NewEngine(st, client, search.Options{
		PageSize:     int64(cfg.SearchPageSize),
		Concurrency:  cfg.SearchConcurrency,
		Threshold:    cfg.SimilarityThreshold,
		DefaultLimit: cfg.SearchLimit,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("/repositories", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := contextWithTimeout(r, 5*time.Second)
		defer cancel()

		repos, err := st.GetRepositories(ctx)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if repos == nil {
			repos = []string{}
		}
		writeJSON(w, http.StatusOK, repos)
	})

	mux.HandleFunc("/repositories/", func(w http.ResponseWriter, r *http.Request) {
		// Repo names contain '/', so they arrive percent-encoded
		// (owner%2Fname).
		rel := strings.Trim(strings.TrimPrefix(r.URL.Path, "/repositories/"), "/")

		if strings.HasSuffix(rel, "/status") {
			repo, err := url.PathUnescape(strings.TrimSuffix(rel, "/status"))
			if err != nil {
				http.Error(w, "Invalid repository path", http.StatusBadRequest)
				return
			}
			ctx, cancel := contextWithTimeout(r, 5*time.Second)
			defer cancel()
			state, found, err := st.GetStatus(ctx, repo)
			if err != nil {
				http.Error(w, err.Error(), 500)
				return
			}
			if !found {
				http.Error(w, "no index status for repository", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, state)
			return
		}

		if r.Method == http.MethodDelete {
			repo, err := url.PathUnescape(rel)
			if err != nil {
				http.Error(w, "Invalid repository path", http.StatusBadRequest)
				return
			}
			ctx, cancel := contextWithTimeout(r, 10*time.Second)
			defer cancel()
			if err := st.DeleteRepository(ctx, repo); err != nil {
				http.Error(w, err.Error(), 500)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"deleted": repo})
			return
		}

		http.NotFound(w, r)
	})

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		q := r.URL.Query().Get("q")
		repo := r.URL.Query().Get("repository")
		if q == "" {
			http.Error(w, "missing query parameter q", http.StatusBadRequest)
			return
		}
		if repo == "" {
			http.Error(w, "missing query parameter repository", http.StatusBadRequest)
			return
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}

		ctx, cancel := contextWithTimeout(r, 15*time.Second)
		defer cancel()
		res, err := engine.Search(ctx, repo, q, limit, r.URL.Query().Get("file_filter"))
		if err != nil {
			var notEmbedded *search.NotEmbeddedError
			if errors.As(err, &notEmbedded) {
				writeJSON(w, http.StatusNotFound, notEmbeddedResponse{
					Error:                 "repository_not_embedded",
					Repository:            notEmbedded.Repository,
					AvailableRepositories: notEmbedded.Available,
				})
				return
			}
			http.Error(w, err.Error(), 500)
			return
		}

		for i := range res {
			if math.IsNaN(res[i].Score) || math.IsInf(res[i].Score, 0) {
				res[i].Score = 0
			}
		}
		if res == nil {
			res = []models.SearchResult{}
		}
		writeJSON(w, http.StatusOK, searchResponse{Results: res, TotalResults: len(res)})

		hlog.FromRequest(r).Info().Str("path", "/search").Str("q", q).Str("repository", repo).Int("results", len(res)).Dur("dur", time.Since(start)).Msg("served")
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func providerFor(name string) ai.Provider {
	switch strings.ToLower(name) {
	case "openai":
		return ai.ProviderOpenAI
	case "vertexai", "google":
		return ai.ProviderVertexAI
	default:
		return ai.ProviderStub
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func contextWithTimeout(r *http.Request, d time.Duration) (ctx context.Context, cancel func()) {
	return context.WithTimeout(r.Context(), d)
}
