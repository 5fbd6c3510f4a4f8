package settingsstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"twitchdropsfarmer/internal/model"
)

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("prioritize_by_ending_soonest", "true")
	t.Setenv("UNLINKED_CAMPAIGNS", "true")

	s := model.Settings{PriorityAlgorithm: model.PriorityBalanced, WatchUnlisted: false}
	if err := ApplyEnvOverrides(context.Background(), &s); err != nil {
		t.Fatalf("ApplyEnvOverrides: %v", err)
	}
	if s.PriorityAlgorithm != model.PriorityEndingSoonest {
		t.Errorf("expected prioritize_by_ending_soonest=true to select ENDING_SOONEST, got %v", s.PriorityAlgorithm)
	}
	if !s.WatchUnlisted {
		t.Error("expected UNLINKED_CAMPAIGNS=true to set WatchUnlisted")
	}
}

func TestApplyEnvOverridesLeavesSettingsAloneWhenUnset(t *testing.T) {
	s := model.Settings{PriorityAlgorithm: model.PriorityAdaptive, WatchUnlisted: true}
	if err := ApplyEnvOverrides(context.Background(), &s); err != nil {
		t.Fatalf("ApplyEnvOverrides: %v", err)
	}
	if s.PriorityAlgorithm != model.PriorityAdaptive || !s.WatchUnlisted {
		t.Errorf("expected unset env vars to leave settings untouched, got %+v", s)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	next := s.Settings()
	next.PriorityGames = []string{"Apex Legends", "Valorant"}
	next.PriorityAlgorithm = model.PriorityAdaptive
	s.Update(next)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Settings()
	if got.PriorityAlgorithm != model.PriorityAdaptive || len(got.PriorityGames) != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestSaveIsNoOpWhenClean(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file should not exist since nothing was ever marked dirty, stat err = %v", err)
	}
}

func TestMigrateLegacyKeyIsIdempotent(t *testing.T) {
	raw := map[string]interface{}{"prioritize_by_ending_soonest": true}
	migrateLegacyKeys(raw)
	first := raw["priority_algorithm"]

	migrateLegacyKeys(raw)
	second := raw["priority_algorithm"]

	if first != second {
		t.Errorf("migration should be idempotent: %v != %v", first, second)
	}
	if _, exists := raw["prioritize_by_ending_soonest"]; exists {
		t.Error("legacy key should be removed after migration")
	}
}
