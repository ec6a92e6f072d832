package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileSystemSink saves pages that failed extraction so they can be inspected offline.
type FileSystemSink struct {
	root   string
	logger *zap.Logger
	newID  func() string
}

// NewFileSystemSink returns a sink rooted at dir.
func NewFileSystemSink(root string, logger *zap.Logger) (*FileSystemSink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create debug dir %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSystemSink{
		root:   root,
		logger: logger,
		newID:  func() string { return uuid.NewString() },
	}, nil
}

// SavePage writes body to <root>/story-<id>-<uuid>.html and returns the path.
func (s *FileSystemSink) SavePage(ctx context.Context, storyID uint64, pageURL string, body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty page body for %s", pageURL)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	target := filepath.Join(s.root, fmt.Sprintf("story-%d-%s.html", storyID, s.newID()))
	if err := os.WriteFile(target, body, 0o600); err != nil {
		return "", fmt.Errorf("writing debug page to %s: %w", target, err)
	}
	s.logger.Info("saved page for debugging",
		zap.String("url", pageURL),
		zap.Uint64("story_id", storyID),
		zap.String("path", target),
	)
	return target, nil
}
