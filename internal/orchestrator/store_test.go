package orchestrator

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/storyteller/server/domain/entities"
)

func newTestStore() (*SessionStore, *fakeCache) {
	cache := newFakeCache()
	return NewSessionStore(cache, zap.NewNop()), cache
}

func TestStorePutMirrorsToCache(t *testing.T) {
	store, cache := newTestStore()
	record := entities.NewSessionRecord("esp32_A", "user-1")
	record.AttachConversation("conv-1")

	if err := store.Put(context.Background(), record); err != nil {
		t.Fatalf("Put: %v", err)
	}

	cached, err := cache.GetSession(context.Background(), "esp32_A")
	if err != nil || cached == nil {
		t.Fatalf("cache miss after Put: %v", err)
	}
	if cached.ConversationID != "conv-1" {
		t.Errorf("cached conversation = %s", cached.ConversationID)
	}
}

func TestStoreRejectsInvalidRecord(t *testing.T) {
	store, cache := newTestStore()
	record := entities.NewSessionRecord("esp32_A", "user-1")
	record.Mode = entities.AgentModeLearning // episode left nil

	if err := store.Put(context.Background(), record); err == nil {
		t.Fatal("Put accepted a learning record without an episode")
	}
	if cache.sets != 0 {
		t.Error("invalid record reached the cache")
	}
}

func TestStoreUpdateIsAtomic(t *testing.T) {
	store, _ := newTestStore()
	record := entities.NewSessionRecord("esp32_A", "user-1")
	record.AttachConversation("conv-1")
	store.Put(context.Background(), record)

	ref := entities.EpisodeRef{Language: "spanish", Season: 1, Episode: 2}
	err := store.Update(context.Background(), "esp32_A", func(rec *entities.SessionRecord) error {
		rec.DetachConversation()
		if err := rec.BeginLearning(ref); err != nil {
			return err
		}
		return rec.AttachConversation("conv-2")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := store.Get("esp32_A")
	if got.Mode != entities.AgentModeLearning || got.Episode == nil {
		t.Fatalf("mode and episode not updated together: %+v", got)
	}
	if got.ConversationID != "conv-2" {
		t.Errorf("conversation = %s, want conv-2", got.ConversationID)
	}
}

func TestStoreUpdateFailureLeavesRecordUntouched(t *testing.T) {
	store, cache := newTestStore()
	record := entities.NewSessionRecord("esp32_A", "user-1")
	record.AttachConversation("conv-1")
	store.Put(context.Background(), record)
	setsBefore := cache.sets

	err := store.Update(context.Background(), "esp32_A", func(rec *entities.SessionRecord) error {
		// Attaching a second conversation violates the single-handle rule.
		return rec.AttachConversation("conv-2")
	})
	if err == nil {
		t.Fatal("Update accepted a second conversation handle")
	}

	got, _ := store.Get("esp32_A")
	if got.ConversationID != "conv-1" {
		t.Errorf("failed update mutated the record: %s", got.ConversationID)
	}
	if cache.sets != setsBefore {
		t.Error("failed update reached the cache")
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store, _ := newTestStore()
	record := entities.NewSessionRecord("esp32_A", "user-1")
	record.AttachConversation("conv-1")
	store.Put(context.Background(), record)

	first, _ := store.Get("esp32_A")
	first.Mode = entities.AgentModeLearning

	second, _ := store.Get("esp32_A")
	if second.Mode != entities.AgentModeChoosing {
		t.Error("mutating a returned record leaked into the store")
	}
}

func TestStoreTouchDoesNotMirror(t *testing.T) {
	store, cache := newTestStore()
	record := entities.NewSessionRecord("esp32_A", "user-1")
	record.AttachConversation("conv-1")
	store.Put(context.Background(), record)
	setsBefore := cache.sets

	store.Touch("esp32_A")

	if cache.sets != setsBefore {
		t.Error("Touch mirrored to the cache")
	}
}

func TestStoreRemoveDeletesCacheMirror(t *testing.T) {
	store, cache := newTestStore()
	record := entities.NewSessionRecord("esp32_A", "user-1")
	record.AttachConversation("conv-1")
	store.Put(context.Background(), record)

	store.Remove(context.Background(), "esp32_A")

	if _, ok := store.Get("esp32_A"); ok {
		t.Error("record survived Remove")
	}
	if cached, _ := cache.GetSession(context.Background(), "esp32_A"); cached != nil {
		t.Error("cache mirror survived Remove")
	}
	// Removing again is a no-op.
	store.Remove(context.Background(), "esp32_A")
}
