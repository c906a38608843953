package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel string `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	ProjectID  string `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location   string `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	Dim        int    `yaml:"providerDim" envconfig:"EMBED_DIM"`

	RedisURL string `yaml:"redisURL" envconfig:"REDIS_URL"`

	Repository  string `yaml:"repository"`
	RepoRoot    string `yaml:"repoRoot" split_words:"true"`
	RepoURL     string `yaml:"repoURL" split_words:"true"`
	GithubToken string `yaml:"githubToken" envconfig:"GITHUB_TOKEN"`
	GitRef      string `yaml:"gitRef" split_words:"true"`
	IndexMode   string `yaml:"indexMode" split_words:"true"`

	EmbedBatch         int `yaml:"embedBatch" split_words:"true"`
	TokenBudget        int `yaml:"tokenBudget" split_words:"true"`
	MaxLinesPerChunk   int `yaml:"maxLinesPerChunk" split_words:"true"`
	LargeFileThreshold int `yaml:"largeFileThreshold" split_words:"true"`
	CheckpointEvery    int `yaml:"checkpointEvery" split_words:"true"`
	TimeBudgetSeconds  int `yaml:"timeBudgetSeconds" split_words:"true"`

	SimilarityThreshold float64 `yaml:"similarityThreshold" split_words:"true"`
	SearchPageSize      int     `yaml:"searchPageSize" split_words:"true"`
	SearchConcurrency   int     `yaml:"searchConcurrency" split_words:"true"`
	SearchLimit         int     `yaml:"searchLimit" split_words:"true"`

	LogLevel string `yaml:"logLevel" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`

	flags *pflag.FlagSet `ignored:"true"`
}

const envPrefix = "CODESEARCH"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/codesearch.yaml",
				"config/config.yaml",
				"./codesearch.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	// Minimal sanity
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return Specification{}, fmt.Errorf("CODESEARCH_REDIS_URL is required (env/file/flag)")
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Embedding provider (stub, openai, vertexai)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("redis-url", c.RedisURL, "Redis URL (redis://host:port/db)")

	fs.String("repository", c.Repository, "Repository identifier (owner/name)")
	fs.String("repo-root", c.RepoRoot, "Path to local repo root")
	fs.String("git-repo", c.RepoURL, "Git repository URL")
	fs.String("github-token", c.GithubToken, "GitHub API token")
	fs.String("git-ref", c.GitRef, "Git reference (branch/tag/sha)")
	fs.String("index-mode", c.IndexMode, "Indexing mode (full|resume|diff)")

	fs.Int("embed-batch", c.EmbedBatch, "Chunks per embedding request")
	fs.Int("token-budget", c.TokenBudget, "Estimated token budget per chunk")
	fs.Int("max-lines-per-chunk", c.MaxLinesPerChunk, "Largest chunk before splitting")
	fs.Int("large-file-threshold", c.LargeFileThreshold, "Line count above which files are windowed")
	fs.Int("checkpoint-every", c.CheckpointEvery, "Files between checkpoint writes")
	fs.Int("time-budget-seconds", c.TimeBudgetSeconds, "Wall-clock budget for one indexing run (0 = unlimited)")

	fs.Float64("similarity-threshold", c.SimilarityThreshold, "Exclusive minimum cosine similarity for results")
	fs.Int("search-page-size", c.SearchPageSize, "Chunks per store read during search")
	fs.Int("search-concurrency", c.SearchConcurrency, "Concurrent pages during search")
	fs.Int("search-limit", c.SearchLimit, "Default result cap")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	// Used later for usage/help
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setFloat := func(name string, dst *float64) {
		if fs.Changed(name) {
			v, _ := fs.GetFloat64(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setInt("embed-dim", &c.Dim)

	setStr("redis-url", &c.RedisURL)

	setStr("repository", &c.Repository)
	setStr("repo-root", &c.RepoRoot)
	setStr("git-repo", &c.RepoURL)
	setStr("github-token", &c.GithubToken)
	setStr("git-ref", &c.GitRef)
	setStr("index-mode", &c.IndexMode)

	setInt("embed-batch", &c.EmbedBatch)
	setInt("token-budget", &c.TokenBudget)
	setInt("max-lines-per-chunk", &c.MaxLinesPerChunk)
	setInt("large-file-threshold", &c.LargeFileThreshold)
	setInt("checkpoint-every", &c.CheckpointEvery)
	setInt("time-budget-seconds", &c.TimeBudgetSeconds)

	setFloat("similarity-threshold", &c.SimilarityThreshold)
	setInt("search-page-size", &c.SearchPageSize)
	setInt("search-concurrency", &c.SearchConcurrency)
	setInt("search-limit", &c.SearchLimit)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.RepoRoot = "."
	c.GitRef = ""
	c.GithubToken = ""
	c.Provider = "stub"
	c.RedisURL = "redis://localhost:6379/0"
	c.Dim = 256
	c.Location = "us-central1"
	c.Port = 8080
	c.IndexMode = "full"

	c.EmbedBatch = 8
	c.TokenBudget = 7000
	c.MaxLinesPerChunk = 300
	c.LargeFileThreshold = 3000
	c.CheckpointEvery = 10
	c.TimeBudgetSeconds = 13 * 60

	c.SimilarityThreshold = 0.2
	c.SearchPageSize = 100
	c.SearchConcurrency = 5
	c.SearchLimit = 10
}
