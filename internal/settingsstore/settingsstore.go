// Package settingsstore persists the user's mining preferences to a JSON
// file, tracking a dirty flag so unmodified settings are never rewritten,
// and migrating legacy keys from older releases on load.
package settingsstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sethvargo/go-envconfig"
	"github.com/sirupsen/logrus"

	"twitchdropsfarmer/internal/model"
)

// Store owns one settings file on disk.
type Store struct {
	path     string
	settings model.Settings
}

// Open loads path if it exists, applying defaults and legacy-key
// migration, or returns a fresh default Settings if it does not.
func Open(path string) (*Store, error) {
	s := &Store{path: path, settings: defaults()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	migrateLegacyKeys(raw)

	reencoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reencoded, &s.settings); err != nil {
		return nil, err
	}
	return s, nil
}

func defaults() model.Settings {
	return model.Settings{
		PriorityAlgorithm: model.PriorityBalanced,
		WatchUnlisted:     true,
		AutoClaimDrops:    true,
		Language:          "en",
	}
}

// migrateLegacyKeys rewrites keys from older settings-file generations
// into their current equivalents, in place. Idempotent: running it twice
// on an already-migrated document is a no-op.
func migrateLegacyKeys(raw map[string]interface{}) {
	if v, ok := raw["prioritize_by_ending_soonest"]; ok {
		if _, hasNew := raw["priority_algorithm"]; !hasNew {
			if b, ok := v.(bool); ok && b {
				raw["priority_algorithm"] = string(model.PriorityEndingSoonest)
			} else {
				raw["priority_algorithm"] = string(model.PriorityBalanced)
			}
		}
		delete(raw, "prioritize_by_ending_soonest")
	}
}

// envOverrides mirrors the handful of settings fields the original
// desktop app's installer also exposed as environment variables, for
// container deployments that would rather set one env var than mount a
// settings file.
type envOverrides struct {
	PrioritizeEndingSoonest *bool `env:"prioritize_by_ending_soonest"`
	UnlinkedCampaigns       *bool `env:"UNLINKED_CAMPAIGNS"`
}

// ApplyEnvOverrides layers the prioritize_by_ending_soonest and
// UNLINKED_CAMPAIGNS environment variables onto s if set, taking
// precedence over whatever the settings file already had — an operator
// setting an env var at deploy time expects it to win.
func ApplyEnvOverrides(ctx context.Context, s *model.Settings) error {
	var o envOverrides
	if err := envconfig.Process(ctx, &o); err != nil {
		return err
	}
	if o.PrioritizeEndingSoonest != nil {
		if *o.PrioritizeEndingSoonest {
			s.PriorityAlgorithm = model.PriorityEndingSoonest
		} else {
			s.PriorityAlgorithm = model.PriorityBalanced
		}
	}
	if o.UnlinkedCampaigns != nil {
		s.WatchUnlisted = *o.UnlinkedCampaigns
	}
	return nil
}

// Settings returns the current in-memory settings.
func (s *Store) Settings() model.Settings {
	return s.settings
}

// Update replaces the in-memory settings with next and marks them dirty.
func (s *Store) Update(next model.Settings) {
	next.MarkDirty()
	s.settings = next
}

// Save writes the settings to disk if they have unsaved changes,
// clearing the dirty flag on success. Calling Save on clean settings is a
// no-op, avoiding redundant disk writes on every tick of the caller's
// loop.
func (s *Store) Save() error {
	if !s.settings.Dirty() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return err
	}
	s.settings.ClearDirty()
	logrus.WithField("path", s.path).Debug("settings saved")
	return nil
}
