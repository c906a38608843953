package indexer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/otron-io/codesearch/internal/ai"
	"github.com/otron-io/codesearch/internal/chunker"
	"github.com/otron-io/codesearch/internal/source"
	"github.com/otron-io/codesearch/internal/store"
	"github.com/otron-io/codesearch/pkg/models"
)

// Mode selects how a job builds its file list.
type Mode string

const (
	// ModeFull clears existing chunks and the processed set, then
	// indexes every file.
	ModeFull Mode = "full"
	// ModeResume continues an interrupted job, skipping files already
	// in the processed set. Falls back to full if there is no
	// in-progress checkpoint.
	ModeResume Mode = "resume"
	// ModeDiff indexes only files changed since the checkpoint's
	// last commit. Falls back to full if no completed checkpoint with
	// a commit exists.
	ModeDiff Mode = "diff"
)

// EventKind tags a progress event.
type EventKind string

const (
	EventLog       EventKind = "log"
	EventProgress  EventKind = "progress"
	EventPaused    EventKind = "paused"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is one entry in a job's progress stream.
type Event struct {
	Kind           EventKind `json:"kind"`
	Message        string    `json:"message,omitempty"`
	ProcessedFiles int       `json:"processedFiles,omitempty"`
	TotalFiles     int       `json:"totalFiles,omitempty"`
	Progress       int       `json:"progress,omitempty"`
	// ResumeToken identifies the paused job; feed it back as the
	// repository of a resume-mode run.
	ResumeToken string   `json:"resumeToken,omitempty"`
	Summary     *Summary `json:"summary,omitempty"`
	Err         error    `json:"-"`
}

// Summary describes a finished run.
type Summary struct {
	TotalChunks int64         `json:"totalChunks"`
	TotalFiles  int           `json:"totalFiles"`
	Duration    time.Duration `json:"durationSeconds"`
	CommitSha   string        `json:"commitSha,omitempty"`
}

// Outcome is the synchronous result of Run. Paused means the time
// budget tripped and the checkpoint is resumable; it is not an error.
type Outcome struct {
	Paused  bool
	State   models.RepositoryIndexState
	Summary Summary
}

// Options tunes one job invocation.
type Options struct {
	Mode   Mode
	Branch string
	// CheckpointEvery is how many files are processed between
	// checkpoint writes (default 10). The checkpoint is always
	// written before the job ends.
	CheckpointEvery int
	// TimeBudget caps wall-clock time for this invocation; zero means
	// unlimited. It should sit a safety margin below any hard
	// execution limit.
	TimeBudget time.Duration
}

const defaultCheckpointEvery = 10

// Job orchestrates chunking, embedding and storage for one repository.
// All collaborators are injected; a job holds no process-wide state.
type Job struct {
	store      store.ChunkStore
	src        source.Provider
	client     ai.Client
	chunker    *chunker.Chunker
	repository string
	opts       Options

	now func() time.Time
}

// New creates a job. A nil chunker gets the default configuration.
func New(s store.ChunkStore, src source.Provider, client ai.Client, ch *chunker.Chunker, repository string, opts Options) *Job {
	if ch == nil {
		ch = chunker.New(nil, chunker.Options{})
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = defaultCheckpointEvery
	}
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	return &Job{
		store:      s,
		src:        src,
		client:     client,
		chunker:    ch,
		repository: repository,
		opts:       opts,
		now:        time.Now,
	}
}

// Start runs the job in a goroutine and streams its progress events.
// The channel closes when the job ends; the final event is one of
// paused, completed or failed.
func (j *Job) Start(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		if _, err := j.Run(ctx, func(e Event) { ch <- e }); err != nil {
			log.Error().Err(err).Str("repo", j.repository).Msg("indexing job failed")
		}
	}()
	return ch
}

// Run executes the job synchronously. notify may be nil. Per-file
// errors are absorbed into the checkpoint; only setup failures return
// an error.
func (j *Job) Run(ctx context.Context, notify func(Event)) (Outcome, error) {
	if notify == nil {
		notify = func(Event) {}
	}
	start := j.now()
	repo := j.repository
	mode := j.opts.Mode

	existing, found, err := j.store.GetStatus(ctx, repo)
	if err != nil {
		return Outcome{}, fmt.Errorf("read checkpoint: %w", err)
	}

	headSha, shaErr := j.src.GetLatestCommit(ctx, repo, j.opts.Branch)

	state := models.RepositoryIndexState{
		Repository: repo,
		Status:     models.StatusInProgress,
		StartedAt:  start,
	}

	var files []string
	resuming := false

	if mode == ModeDiff {
		if found && existing.Status == models.StatusCompleted && existing.LastCommitSha != "" {
			return j.runDiff(ctx, notify, existing, headSha, shaErr, start)
		}
		notify(Event{Kind: EventLog, Message: "no diff base available, falling back to full index"})
		mode = ModeFull
	}

	if mode == ModeResume {
		if found && existing.Status == models.StatusInProgress {
			resuming = true
			state = existing
			state.Status = models.StatusInProgress
		} else {
			notify(Event{Kind: EventLog, Message: "no resumable checkpoint, falling back to full index"})
			mode = ModeFull
		}
	}

	if mode == ModeFull && !resuming {
		if err := j.store.DeleteRepository(ctx, repo); err != nil {
			return j.fail(ctx, notify, state, fmt.Errorf("clear previous index: %w", err))
		}
	}

	if shaErr != nil {
		state.Errors = append(state.Errors, fmt.Sprintf("resolve head commit: %v", shaErr))
	}

	files, err = j.src.ListFiles(ctx, repo)
	if err != nil {
		return j.fail(ctx, notify, state, fmt.Errorf("list files: %w", err))
	}

	state.TotalFiles = len(files)
	if resuming {
		// The ledger, not the stored counter, is the truth on resume.
		n, err := j.store.ProcessedCount(ctx, repo)
		if err != nil {
			return j.fail(ctx, notify, state, fmt.Errorf("read processed set: %w", err))
		}
		state.ProcessedFiles = int(n)
	} else {
		state.ProcessedFiles = 0
	}
	state.Progress = progressPct(state.ProcessedFiles, state.TotalFiles)
	if err := j.store.SetStatus(ctx, repo, state); err != nil {
		return Outcome{}, fmt.Errorf("write checkpoint: %w", err)
	}
	notify(Event{Kind: EventLog, Message: fmt.Sprintf("indexing %d files (%s mode)", len(files), mode)})

	return j.processFiles(ctx, notify, state, files, resuming, headSha, start)
}

// runDiff handles the incremental path: only files changed between the
// checkpoint commit and head are reprocessed, after their stale chunks
// are removed.
func (j *Job) runDiff(ctx context.Context, notify func(Event), existing models.RepositoryIndexState, headSha string, shaErr error, start time.Time) (Outcome, error) {
	repo := j.repository
	if shaErr != nil {
		return j.fail(ctx, notify, existing, fmt.Errorf("resolve head commit: %w", shaErr))
	}
	if headSha == existing.LastCommitSha {
		return j.completeNoWork(ctx, notify, existing, start)
	}

	changed, err := j.src.DiffCommits(ctx, repo, existing.LastCommitSha, headSha)
	if err != nil {
		return j.fail(ctx, notify, existing, fmt.Errorf("diff %s..%s: %w", existing.LastCommitSha, headSha, err))
	}
	if len(changed) == 0 {
		return j.completeNoWork(ctx, notify, existing, start)
	}

	notify(Event{Kind: EventLog, Message: fmt.Sprintf("diff %s..%s: %d files changed", shortSha(existing.LastCommitSha), shortSha(headSha), len(changed))})

	if err := j.store.RemoveChunksForPaths(ctx, repo, changed); err != nil {
		return j.fail(ctx, notify, existing, fmt.Errorf("remove stale chunks: %w", err))
	}
	if err := j.store.ClearProcessed(ctx, repo); err != nil {
		return j.fail(ctx, notify, existing, fmt.Errorf("clear processed set: %w", err))
	}

	// Pre-mark unchanged files so a paused diff run resumes over the
	// changed set only; their chunks were never removed and must not be
	// appended twice.
	if all, err := j.src.ListFiles(ctx, repo); err == nil {
		changedSet := make(map[string]struct{}, len(changed))
		for _, p := range changed {
			changedSet[p] = struct{}{}
		}
		for _, p := range all {
			if _, ok := changedSet[p]; ok {
				continue
			}
			if err := j.store.MarkProcessed(ctx, repo, p); err != nil {
				log.Warn().Err(err).Str("repo", repo).Msg("seeding processed set failed")
				break
			}
		}
	}

	state := models.RepositoryIndexState{
		Repository:    repo,
		Status:        models.StatusInProgress,
		StartedAt:     start,
		TotalFiles:    len(changed),
		LastCommitSha: existing.LastCommitSha,
	}
	if err := j.store.SetStatus(ctx, repo, state); err != nil {
		return Outcome{}, fmt.Errorf("write checkpoint: %w", err)
	}
	return j.processFiles(ctx, notify, state, changed, false, headSha, start)
}

// processFiles is the per-file loop shared by all modes. The time
// budget and context are checked once per iteration; a file's
// embed-and-store sequence always finishes before the next check.
func (j *Job) processFiles(ctx context.Context, notify func(Event), state models.RepositoryIndexState, files []string, resuming bool, headSha string, start time.Time) (Outcome, error) {
	repo := j.repository
	sinceCheckpoint := 0

	for _, path := range files {
		if ctx.Err() != nil || j.budgetExceeded(start) {
			return j.pause(ctx, notify, state)
		}
		if resuming {
			done, err := j.store.IsProcessed(ctx, repo, path)
			if err == nil && done {
				continue
			}
		}

		state.CurrentPath = path
		if err := j.processFile(ctx, path); err != nil {
			log.Warn().Err(err).Str("repo", repo).Str("path", path).Msg("file indexing failed, continuing")
			state.Errors = append(state.Errors, fmt.Sprintf("%s: %v", path, err))
		}
		if err := j.store.MarkProcessed(ctx, repo, path); err != nil {
			state.Errors = append(state.Errors, fmt.Sprintf("%s: mark processed: %v", path, err))
		}
		state.ProcessedFiles++
		state.LastProcessedAt = j.now()
		state.Progress = progressPct(state.ProcessedFiles, state.TotalFiles)

		sinceCheckpoint++
		if sinceCheckpoint >= j.opts.CheckpointEvery {
			sinceCheckpoint = 0
			if err := j.store.SetStatus(ctx, repo, state); err != nil {
				log.Warn().Err(err).Str("repo", repo).Msg("checkpoint write failed")
			}
			notify(Event{
				Kind:           EventProgress,
				ProcessedFiles: state.ProcessedFiles,
				TotalFiles:     state.TotalFiles,
				Progress:       state.Progress,
			})
		}
	}

	return j.complete(ctx, notify, state, headSha, start)
}

// processFile runs one file through the chunk, embed, append pipeline.
// Empty files are a no-op; the caller still marks them processed.
func (j *Job) processFile(ctx context.Context, path string) error {
	content, err := j.src.GetFileContent(ctx, j.repository, path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}
	chunks := j.chunker.Chunk(j.repository, path, string(content))
	if len(chunks) == 0 {
		return nil
	}
	embedded, err := j.client.EmbedChunks(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if err := j.store.AppendChunks(ctx, j.repository, embedded); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

func (j *Job) budgetExceeded(start time.Time) bool {
	return j.opts.TimeBudget > 0 && j.now().Sub(start) >= j.opts.TimeBudget
}

// pause persists the in-progress checkpoint and reports a resumable
// outcome. This is the cooperative response to the time budget or a
// cancelled context, not an error.
func (j *Job) pause(ctx context.Context, notify func(Event), state models.RepositoryIndexState) (Outcome, error) {
	state.CurrentPath = ""
	if err := j.store.SetStatus(context.WithoutCancel(ctx), j.repository, state); err != nil {
		return Outcome{}, fmt.Errorf("write pause checkpoint: %w", err)
	}
	notify(Event{
		Kind:           EventPaused,
		Message:        "time budget exceeded, checkpoint saved",
		ProcessedFiles: state.ProcessedFiles,
		TotalFiles:     state.TotalFiles,
		Progress:       state.Progress,
		ResumeToken:    j.repository,
	})
	return Outcome{Paused: true, State: state}, nil
}

func (j *Job) complete(ctx context.Context, notify func(Event), state models.RepositoryIndexState, headSha string, start time.Time) (Outcome, error) {
	state.Status = models.StatusCompleted
	state.Progress = 100
	state.CurrentPath = ""
	state.LastProcessedAt = j.now()
	if headSha != "" {
		state.LastCommitSha = headSha
	}
	if err := j.store.SetStatus(ctx, j.repository, state); err != nil {
		return Outcome{}, fmt.Errorf("write final checkpoint: %w", err)
	}

	total, err := j.store.CountChunks(ctx, j.repository)
	if err != nil {
		total = -1
	}
	summary := Summary{
		TotalChunks: total,
		TotalFiles:  state.TotalFiles,
		Duration:    j.now().Sub(start),
		CommitSha:   state.LastCommitSha,
	}
	notify(Event{Kind: EventCompleted, Summary: &summary, Progress: 100, ProcessedFiles: state.ProcessedFiles, TotalFiles: state.TotalFiles})
	return Outcome{State: state, Summary: summary}, nil
}

// completeNoWork reports success without touching the stored
// checkpoint; nothing changed since the last completed run.
func (j *Job) completeNoWork(ctx context.Context, notify func(Event), existing models.RepositoryIndexState, start time.Time) (Outcome, error) {
	total, err := j.store.CountChunks(ctx, j.repository)
	if err != nil {
		total = -1
	}
	summary := Summary{
		TotalChunks: total,
		Duration:    j.now().Sub(start),
		CommitSha:   existing.LastCommitSha,
	}
	notify(Event{Kind: EventLog, Message: "no files changed since last index"})
	notify(Event{Kind: EventCompleted, Summary: &summary, Progress: 100})
	return Outcome{State: existing, Summary: summary}, nil
}

// fail marks the checkpoint failed (best effort) and surfaces the
// setup error to the caller.
func (j *Job) fail(ctx context.Context, notify func(Event), state models.RepositoryIndexState, cause error) (Outcome, error) {
	state.Status = models.StatusFailed
	state.Errors = append(state.Errors, cause.Error())
	state.LastProcessedAt = j.now()
	if err := j.store.SetStatus(context.WithoutCancel(ctx), j.repository, state); err != nil {
		log.Warn().Err(err).Str("repo", j.repository).Msg("failed-status write failed")
	}
	notify(Event{Kind: EventFailed, Message: cause.Error(), Err: cause})
	return Outcome{State: state}, cause
}

func progressPct(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := processed * 100 / total
	if p > 100 {
		p = 100
	}
	return p
}

func shortSha(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
