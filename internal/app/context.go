package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"opsboard/internal/config"
	"opsboard/internal/repo"
)

// DefaultBoardID names the board when neither the DB nor a file gives one.
const DefaultBoardID = "board"

// ResolveConfig returns the board config stored in the DB. When none is
// stored yet it seeds one from <workspace>/opsboard.yml if present, else
// from the defaults.
func ResolveConfig(ctx context.Context, fs afero.Fs, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetBoardConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(fs, workspace)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", config.Path(workspace), err)
	}
	if seed == nil {
		seed = config.Default(DefaultBoardID)
	}
	if err := r.UpsertBoardConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed board config: %w", err)
	}
	return seed, nil
}
