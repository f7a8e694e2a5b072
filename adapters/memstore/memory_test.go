package memstore

import (
	"context"
	"testing"

	"github.com/storyteller/server/domain/entities"
)

func TestUsersCreateOnFirstContact(t *testing.T) {
	users := NewUsers()
	ctx := context.Background()

	first, err := users.GetOrCreateByDeviceID(ctx, "esp32-1")
	if err != nil {
		t.Fatalf("GetOrCreateByDeviceID: %v", err)
	}
	if first.ID == "" || first.DeviceID != "esp32-1" {
		t.Fatalf("unexpected user %+v", first)
	}
	if first.CurrentLanguage != "spanish" || first.CurrentEpisode != 1 {
		t.Errorf("new user should start at spanish episode 1, got %+v", first)
	}

	again, err := users.GetOrCreateByDeviceID(ctx, "esp32-1")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("lookup created a second user: %s vs %s", again.ID, first.ID)
	}
}

func TestUsersUpdateRoundTrip(t *testing.T) {
	users := NewUsers()
	ctx := context.Background()

	user, _ := users.GetOrCreateByDeviceID(ctx, "esp32-1")
	user.CurrentEpisode = 3
	if err := users.Update(ctx, user); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := users.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CurrentEpisode != 3 {
		t.Errorf("CurrentEpisode = %d, want 3", got.CurrentEpisode)
	}
}

func TestUsersUpdateUnknown(t *testing.T) {
	users := NewUsers()
	err := users.Update(context.Background(), entities.NewUser("u-1", "esp32-1"))
	if err == nil {
		t.Fatal("expected error updating unknown user")
	}
}

func TestProgressAppendAndList(t *testing.T) {
	progress := NewProgress()
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		record := &entities.ProgressRecord{
			UserID:  "u-1",
			Episode: entities.EpisodeRef{Language: "spanish", Season: 1, Episode: i},
		}
		if err := progress.Record(ctx, record); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if record.ID == "" {
			t.Error("Record did not assign an ID")
		}
	}
	progress.Record(ctx, &entities.ProgressRecord{UserID: "u-2", Episode: entities.EpisodeRef{Language: "spanish", Season: 1, Episode: 1}})

	records, err := progress.ListByUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Episode.Episode != 2 {
		t.Errorf("expected newest first, got episode %d", records[0].Episode.Episode)
	}
}
