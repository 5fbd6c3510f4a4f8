// Package channel tracks the set of candidate channels the watch loop
// could switch to, across every campaign currently being mined.
package channel

import (
	"sort"
	"sync"

	"twitchdropsfarmer/internal/model"
)

// Registry holds every known channel across all wanted campaigns, keyed
// by channel ID, and is safe for concurrent use by the state machine and
// the pub/sub stream-state handler.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]model.Channel
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{channels: make(map[string]model.Channel)}
}

// Reset discards every tracked channel.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = make(map[string]model.Channel)
}

// Upsert adds or replaces a channel's tracked state. An ACL flag already
// set on the tracked entry sticks even if this update doesn't carry it:
// a campaign's allow-list channel never stops being one just because a
// later directory listing describes it without that context.
func (r *Registry) Upsert(ch model.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.channels[ch.ID]; ok && existing.ACLBased {
		ch.ACLBased = true
	}
	r.channels[ch.ID] = ch
}

// MarkACL seeds or flags ch as ACL-based, for channels named by a
// campaign's allow-list that may not appear in any game directory
// listing at all (a small or offline channel can still be the only
// place an ACL-restricted campaign ever earns drops).
func (r *Registry) MarkACL(ch model.Channel) {
	ch.ACLBased = true
	r.Upsert(ch)
}

// SetOnline updates a tracked channel's online state, used by the
// stream-state pub/sub handler; it is a no-op for an untracked channel.
func (r *Registry) SetOnline(channelID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[channelID]; ok {
		ch.Online = online
		r.channels[channelID] = ch
	}
}

// Get returns the tracked state for channelID.
func (r *Registry) Get(channelID string) (model.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[channelID]
	return ch, ok
}

// All returns every tracked channel, in no particular order.
func (r *Registry) All() []model.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// Watchable returns every tracked channel currently eligible to be
// watched, filtered against the campaign's ACL and watchUnlisted setting.
func (r *Registry) Watchable(campaign model.DropsCampaign, watchUnlisted bool) []model.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if !ch.Watchable() {
			continue
		}
		if campaign.HasACL() {
			if campaign.AllowsChannel(ch.ID) {
				out = append(out, ch)
			}
			continue
		}
		if watchUnlisted {
			out = append(out, ch)
		}
	}
	return out
}

// Prune removes every tracked channel that is neither ACL-based (ACL
// channels are never discarded just for falling off a game directory
// page — they remain the only legal watch target for their campaign)
// nor still on a wanted game. It returns the removed channel IDs so the
// caller can unsubscribe their pub/sub topics.
func (r *Registry) Prune(wantedGameIDs map[string]bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, ch := range r.channels {
		if ch.ACLBased {
			continue
		}
		if wantedGameIDs[ch.GameID] {
			continue
		}
		removed = append(removed, id)
		delete(r.channels, id)
	}
	return removed
}

// Truncate bounds the registry to at most max channels, keeping the
// ones Preferred would rank highest (ACL-based first, then viewer
// count, then the caller-supplied per-game rank as a final tie-break
// so a higher-priority game's candidates survive a cut before a lower
// one's). It returns the discarded channel IDs.
func (r *Registry) Truncate(max int, gameRank map[string]int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.channels) <= max {
		return nil
	}

	ordered := make([]model.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		ordered = append(ordered, ch)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.ACLBased != b.ACLBased {
			return a.ACLBased
		}
		if a.ViewerCount != b.ViewerCount {
			return a.ViewerCount > b.ViewerCount
		}
		return gameRank[a.GameID] < gameRank[b.GameID]
	})

	var removed []string
	for _, ch := range ordered[max:] {
		removed = append(removed, ch.ID)
		delete(r.channels, ch.ID)
	}
	return removed
}

// Best picks the channel Preferred ranks highest among channels.
func Best(channels []model.Channel) (model.Channel, bool) {
	var best model.Channel
	found := false
	for _, ch := range channels {
		if !found || Preferred(ch, best) {
			best = ch
			found = true
		}
	}
	return best, found
}

// Preferred reports whether a should be chosen over b when both are
// watchable candidates: an ACL-based channel always wins, since an
// ACL-restricted campaign can only ever earn drops on its allow-listed
// channels, and otherwise the larger audience wins.
func Preferred(a, b model.Channel) bool {
	if a.ACLBased != b.ACLBased {
		return a.ACLBased
	}
	return a.ViewerCount > b.ViewerCount
}
