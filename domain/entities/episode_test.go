package entities

import "testing"

func TestEpisodeRefKey(t *testing.T) {
	ref := EpisodeRef{Language: "spanish", Season: 1, Episode: 2}
	if ref.Key() != "spanish_1_2" {
		t.Errorf("Expected key spanish_1_2, got %s", ref.Key())
	}
}

func TestEpisodeSelectionValidate(t *testing.T) {
	cases := []struct {
		name      string
		selection EpisodeSelection
		wantErr   bool
	}{
		{"complete", EpisodeSelection{Language: "spanish", Season: 1, Episode: 2, Title: "Farm Animals"}, false},
		{"no title is fine", EpisodeSelection{Language: "spanish", Season: 1, Episode: 2}, false},
		{"missing language", EpisodeSelection{Season: 1, Episode: 2}, true},
		{"zero season", EpisodeSelection{Language: "spanish", Episode: 2}, true},
		{"zero episode", EpisodeSelection{Language: "spanish", Season: 1}, true},
		{"empty", EpisodeSelection{}, true},
	}

	for _, tc := range cases {
		err := tc.selection.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestUserAdvanceProgress(t *testing.T) {
	user := NewUser("user-1", "esp32_A")

	if user.NextEpisode() != (EpisodeRef{Language: "spanish", Season: 1, Episode: 1}) {
		t.Errorf("Expected new user to start at spanish S1E1, got %v", user.NextEpisode())
	}

	user.AdvanceProgress(user.NextEpisode(), 5, 300)

	if user.CurrentEpisode != 2 {
		t.Errorf("Expected progress pointer at episode 2, got %d", user.CurrentEpisode)
	}
	if user.TotalEpisodesCompleted != 1 {
		t.Errorf("Expected 1 completed episode, got %d", user.TotalEpisodesCompleted)
	}
	if user.TotalWordsLearned != 5 {
		t.Errorf("Expected 5 words learned, got %d", user.TotalWordsLearned)
	}

	// Completing an episode other than the pointer does not advance it.
	user.AdvanceProgress(EpisodeRef{Language: "spanish", Season: 1, Episode: 1}, 2, 100)
	if user.CurrentEpisode != 2 {
		t.Errorf("Expected pointer unchanged at 2, got %d", user.CurrentEpisode)
	}
}
