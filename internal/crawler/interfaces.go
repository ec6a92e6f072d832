package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// StoryStore opens the per-story transactions the orchestrator runs.
type StoryStore interface {
	Begin(ctx context.Context) (StoryTx, error)
}

// StoryTx is a single story transaction. The existence check and the insert
// must observe the same snapshot.
type StoryTx interface {
	StoryExists(ctx context.Context, id uint64) (bool, error)
	// InsertStory writes the story with its entities and links. It reports
	// alreadyExisted when a concurrent writer inserted the id first.
	InsertStory(ctx context.Context, id uint64, info StoryInfo, meta StoryMeta) (alreadyExisted bool, err error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DebugSink keeps raw pages that failed extraction.
type DebugSink interface {
	SavePage(ctx context.Context, storyID uint64, pageURL string, body []byte) (string, error)
}

// pauseController abstracts how the orchestrator waits between requests.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration) error
}
