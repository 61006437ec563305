package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

// DirSource fetches documents from a local mirror laid out as
// <dir>/<repo>/readme.toml.
type DirSource struct {
	Dir string
}

func (d DirSource) Fetch(ctx context.Context, id models.RepoIdentity) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.Dir == "" {
		return "", fmt.Errorf("courses directory not configured: %w", models.ErrRemoteUnavailable)
	}

	repo := id.Key()
	if repo == "" || repo == "." || repo == ".." || repo != filepath.Base(repo) {
		return "", fmt.Errorf("invalid repository name %q: %w", repo, models.ErrNotFound)
	}

	data, err := os.ReadFile(filepath.Join(d.Dir, repo, ReadmeName))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("fetch %s: %w", repo, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w: %v", repo, models.ErrRemoteUnavailable, err)
	}
	return string(data), nil
}
