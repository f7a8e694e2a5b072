package repositories

import (
	"context"
	"errors"

	"github.com/storyteller/server/domain/entities"
)

// ErrEpisodeNotFound is returned by catalogs for references that do not
// resolve to any content unit.
var ErrEpisodeNotFound = errors.New("episode not found")

// EpisodeCatalog is the read-only content store. Episodes are immutable
// values; the server never writes to the catalog.
type EpisodeCatalog interface {
	// GetEpisode fetches one episode including its agent prompts.
	// Returns ErrEpisodeNotFound for unknown references.
	GetEpisode(ctx context.Context, ref entities.EpisodeRef) (*entities.EpisodeContent, error)

	// ListEpisodes returns summaries of all published episodes, sorted by
	// language, season, episode.
	ListEpisodes(ctx context.Context) ([]entities.EpisodeSummary, error)
}
