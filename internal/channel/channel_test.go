package channel

import (
	"testing"

	"twitchdropsfarmer/internal/model"
)

func TestWatchableFiltersACL(t *testing.T) {
	r := New()
	r.Upsert(model.Channel{ID: "1", Online: true, DropsEnabled: true})
	r.Upsert(model.Channel{ID: "2", Online: true, DropsEnabled: true})

	acl := model.DropsCampaign{ACLEnabled: true, AllowChannels: []string{"1"}}
	got := r.Watchable(acl, true)
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("expected only channel 1, got %+v", got)
	}
}

func TestWatchableRequiresWatchUnlistedForNonACL(t *testing.T) {
	r := New()
	r.Upsert(model.Channel{ID: "1", Online: true, DropsEnabled: true})

	noACL := model.DropsCampaign{}
	if got := r.Watchable(noACL, false); len(got) != 0 {
		t.Errorf("watchUnlisted=false should exclude non-ACL channels, got %+v", got)
	}
	if got := r.Watchable(noACL, true); len(got) != 1 {
		t.Errorf("watchUnlisted=true should include non-ACL channels, got %+v", got)
	}
}

func TestWatchableExcludesOfflineAndDropsDisabled(t *testing.T) {
	r := New()
	r.Upsert(model.Channel{ID: "1", Online: false, DropsEnabled: true})
	r.Upsert(model.Channel{ID: "2", Online: true, DropsEnabled: false})

	got := r.Watchable(model.DropsCampaign{}, true)
	if len(got) != 0 {
		t.Errorf("expected no watchable channels, got %+v", got)
	}
}

func TestBestPrefersHigherViewerCount(t *testing.T) {
	channels := []model.Channel{
		{ID: "1", ViewerCount: 10},
		{ID: "2", ViewerCount: 500},
		{ID: "3", ViewerCount: 42},
	}
	best, ok := Best(channels)
	if !ok || best.ID != "2" {
		t.Errorf("expected channel 2 as best, got %+v", best)
	}
}

func TestBestPrefersACLOverViewerCount(t *testing.T) {
	channels := []model.Channel{
		{ID: "1", ViewerCount: 5000},
		{ID: "2", ViewerCount: 10, ACLBased: true},
	}
	best, ok := Best(channels)
	if !ok || best.ID != "2" {
		t.Errorf("expected the ACL-based channel to win despite fewer viewers, got %+v", best)
	}
}

func TestUpsertKeepsStickyACLFlag(t *testing.T) {
	r := New()
	r.MarkACL(model.Channel{ID: "1", ViewerCount: 10})
	r.Upsert(model.Channel{ID: "1", ViewerCount: 20})

	got, ok := r.Get("1")
	if !ok || !got.ACLBased {
		t.Errorf("expected ACL flag to stick across a later non-ACL upsert, got %+v", got)
	}
}

func TestPruneKeepsACLChannelsOffGame(t *testing.T) {
	r := New()
	r.Upsert(model.Channel{ID: "1", GameID: "g1"})
	r.MarkACL(model.Channel{ID: "2", GameID: "g2"})
	r.Upsert(model.Channel{ID: "3", GameID: "g2"})

	removed := r.Prune(map[string]bool{"g1": true})
	if len(removed) != 1 || removed[0] != "3" {
		t.Errorf("expected only the off-game, non-ACL channel pruned, got %+v", removed)
	}
	if _, ok := r.Get("2"); !ok {
		t.Error("expected ACL-based channel to survive pruning even though its game isn't wanted")
	}
	if _, ok := r.Get("1"); !ok {
		t.Error("expected on-game channel to survive pruning")
	}
}

func TestTruncateKeepsACLAndHigherViewersFirst(t *testing.T) {
	r := New()
	r.Upsert(model.Channel{ID: "low", GameID: "g1", ViewerCount: 1})
	r.Upsert(model.Channel{ID: "high", GameID: "g1", ViewerCount: 100})
	r.MarkACL(model.Channel{ID: "acl", GameID: "g1", ViewerCount: 0})

	removed := r.Truncate(2, map[string]int{"g1": 0})
	if len(removed) != 1 || removed[0] != "low" {
		t.Errorf("expected the lowest-viewer non-ACL channel discarded, got %+v", removed)
	}
	if _, ok := r.Get("acl"); !ok {
		t.Error("expected ACL channel to survive truncation despite zero viewers")
	}
	if _, ok := r.Get("high"); !ok {
		t.Error("expected higher-viewer channel to survive truncation")
	}
}
