package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/domain/repositories"
)

func TestSeededCatalogLookup(t *testing.T) {
	c := NewSeeded()

	episode, err := c.GetEpisode(context.Background(), entities.EpisodeRef{Language: "spanish", Season: 1, Episode: 2})
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.Title != "Farm Animals" {
		t.Errorf("title = %q", episode.Title)
	}
	if len(episode.Vocabulary) != 5 {
		t.Errorf("vocabulary length = %d", len(episode.Vocabulary))
	}
	if episode.ChoiceAgentPrompt == "" || episode.EpisodeAgentPrompt == "" {
		t.Error("seed episode missing agent prompts")
	}
}

func TestCatalogMiss(t *testing.T) {
	c := NewSeeded()

	_, err := c.GetEpisode(context.Background(), entities.EpisodeRef{Language: "spanish", Season: 9, Episode: 9})
	if !errors.Is(err, repositories.ErrEpisodeNotFound) {
		t.Fatalf("err = %v, want ErrEpisodeNotFound", err)
	}
}

func TestListEpisodesOrdered(t *testing.T) {
	c := NewSeeded()

	summaries, err := c.ListEpisodes(context.Background())
	if err != nil {
		t.Fatalf("ListEpisodes: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("listed %d episodes, want 3", len(summaries))
	}
	for i, summary := range summaries {
		if summary.Episode != i+1 {
			t.Errorf("position %d has episode %d", i, summary.Episode)
		}
	}
}
