// Package catalog provides episode catalog implementations: an in-memory
// catalog for development and tests, and the seed content both it and the
// MongoDB catalog start from.
package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/domain/repositories"
)

// Memory is an in-memory EpisodeCatalog.
type Memory struct {
	mu       sync.RWMutex
	episodes map[string]*entities.EpisodeContent
}

// NewMemory creates a catalog holding the given episodes.
func NewMemory(episodes []*entities.EpisodeContent) *Memory {
	m := &Memory{episodes: make(map[string]*entities.EpisodeContent, len(episodes))}
	for _, episode := range episodes {
		m.episodes[episode.Key()] = episode
	}
	return m
}

// NewSeeded creates a catalog holding the built-in season one episodes.
func NewSeeded() *Memory {
	return NewMemory(SeedEpisodes())
}

// GetEpisode implements repositories.EpisodeCatalog.
func (m *Memory) GetEpisode(ctx context.Context, ref entities.EpisodeRef) (*entities.EpisodeContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	episode, ok := m.episodes[ref.Key()]
	if !ok {
		return nil, repositories.ErrEpisodeNotFound
	}
	return episode, nil
}

// ListEpisodes implements repositories.EpisodeCatalog.
func (m *Memory) ListEpisodes(ctx context.Context) ([]entities.EpisodeSummary, error) {
	m.mu.RLock()
	summaries := make([]entities.EpisodeSummary, 0, len(m.episodes))
	for _, episode := range m.episodes {
		summaries = append(summaries, episode.Summary())
	}
	m.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Language != summaries[j].Language {
			return summaries[i].Language < summaries[j].Language
		}
		if summaries[i].Season != summaries[j].Season {
			return summaries[i].Season < summaries[j].Season
		}
		return summaries[i].Episode < summaries[j].Episode
	})
	return summaries, nil
}
