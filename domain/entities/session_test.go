package entities

import (
	"testing"
)

func TestSessionRecordCreation(t *testing.T) {
	record := NewSessionRecord("esp32_A", "user-1")

	if record.DeviceID != "esp32_A" {
		t.Errorf("Expected device ID esp32_A, got %s", record.DeviceID)
	}

	if record.Mode != AgentModeChoosing {
		t.Errorf("Expected mode %s, got %s", AgentModeChoosing, record.Mode)
	}

	if record.Episode != nil {
		t.Error("Expected no episode on a fresh session")
	}

	if err := record.Validate(); err != nil {
		t.Errorf("Fresh session should validate, got %v", err)
	}
}

func TestSessionRecordBeginLearning(t *testing.T) {
	record := NewSessionRecord("esp32_A", "user-1")
	ref := EpisodeRef{Language: "spanish", Season: 1, Episode: 2}

	if err := record.BeginLearning(ref); err != nil {
		t.Fatalf("BeginLearning failed: %v", err)
	}

	if record.Mode != AgentModeLearning {
		t.Errorf("Expected mode %s, got %s", AgentModeLearning, record.Mode)
	}

	if record.Episode == nil || *record.Episode != ref {
		t.Errorf("Expected episode %v, got %v", ref, record.Episode)
	}

	if err := record.Validate(); err != nil {
		t.Errorf("Learning session should validate, got %v", err)
	}

	// A second transition without returning to the menu must fail.
	if err := record.BeginLearning(ref); err == nil {
		t.Error("Expected error on double BeginLearning")
	}
}

func TestSessionRecordBeginLearningRejectsInvalidRef(t *testing.T) {
	record := NewSessionRecord("esp32_A", "user-1")

	if err := record.BeginLearning(EpisodeRef{Language: "spanish"}); err == nil {
		t.Error("Expected error for episode ref without season/episode")
	}

	if record.Mode != AgentModeChoosing || record.Episode != nil {
		t.Error("Failed transition must leave the record in CHOOSING with no episode")
	}
}

func TestSessionRecordReturnToChoosing(t *testing.T) {
	record := NewSessionRecord("esp32_A", "user-1")
	if err := record.BeginLearning(EpisodeRef{Language: "spanish", Season: 1, Episode: 1}); err != nil {
		t.Fatalf("BeginLearning failed: %v", err)
	}
	record.MarkWordLearned("hola")

	record.ReturnToChoosing()

	if record.Mode != AgentModeChoosing {
		t.Errorf("Expected mode %s, got %s", AgentModeChoosing, record.Mode)
	}
	if record.Episode != nil {
		t.Error("Expected episode cleared after returning to menu")
	}
	if len(record.WordsLearned) != 0 {
		t.Error("Expected per-episode words reset after returning to menu")
	}
	if err := record.Validate(); err != nil {
		t.Errorf("Session should validate after ReturnToChoosing, got %v", err)
	}
}

func TestSessionRecordAttachConversation(t *testing.T) {
	record := NewSessionRecord("esp32_A", "user-1")

	if err := record.AttachConversation("conv-1"); err != nil {
		t.Fatalf("AttachConversation failed: %v", err)
	}

	// Attaching a second live conversation is never allowed.
	if err := record.AttachConversation("conv-2"); err == nil {
		t.Error("Expected error attaching a second conversation")
	}

	record.DetachConversation()
	if err := record.AttachConversation("conv-2"); err != nil {
		t.Errorf("Attach after detach should succeed, got %v", err)
	}
}

func TestSessionRecordMarkWordLearned(t *testing.T) {
	record := NewSessionRecord("esp32_A", "user-1")

	record.MarkWordLearned("gato")
	record.MarkWordLearned("perro")
	record.MarkWordLearned("gato")

	if len(record.WordsLearned) != 2 {
		t.Errorf("Expected 2 distinct words, got %d", len(record.WordsLearned))
	}
}

func TestSessionRecordClone(t *testing.T) {
	record := NewSessionRecord("esp32_A", "user-1")
	if err := record.BeginLearning(EpisodeRef{Language: "spanish", Season: 1, Episode: 1}); err != nil {
		t.Fatalf("BeginLearning failed: %v", err)
	}

	clone := record.Clone()
	clone.Episode.Episode = 99
	clone.ReturnToChoosing()

	if record.Episode == nil || record.Episode.Episode != 1 {
		t.Error("Mutating the clone must not affect the original record")
	}
	if record.Mode != AgentModeLearning {
		t.Error("Original record mode changed through clone")
	}
}

func TestSessionRecordValidateInvariant(t *testing.T) {
	record := NewSessionRecord("esp32_A", "user-1")

	// Force the invalid combination directly.
	record.Mode = AgentModeLearning
	if err := record.Validate(); err == nil {
		t.Error("LEARNING without episode must not validate")
	}

	record.Mode = AgentModeChoosing
	record.Episode = &EpisodeRef{Language: "spanish", Season: 1, Episode: 1}
	if err := record.Validate(); err == nil {
		t.Error("CHOOSING with episode must not validate")
	}
}
