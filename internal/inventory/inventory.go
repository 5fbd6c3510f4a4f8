// Package inventory fetches and reconciles the user's full set of drop
// campaigns: those already in progress (from the inventory query) merged
// with the complete campaign catalog (from the dashboard query), with
// per-campaign detail filled in via chunked batch requests.
package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"twitchdropsfarmer/internal/gql"
	"twitchdropsfarmer/internal/model"
)

// gqlClient is the subset of *gql.Client the engine depends on, so tests
// can supply a fake.
type gqlClient interface {
	GetInventoryTree(ctx context.Context) (map[string]map[string]interface{}, error)
	GetCampaignsTree(ctx context.Context) (map[string]map[string]interface{}, error)
	GetCampaignDetails(ctx context.Context, campaignID, userLogin string) (*model.DropsCampaign, error)
}

// Engine fetches and merges campaign state for one user login.
type Engine struct {
	client    gqlClient
	userLogin string
}

// New returns an Engine backed by client, scoped to userLogin.
func New(client *gql.Client, userLogin string) *Engine {
	return &Engine{client: client, userLogin: userLogin}
}

// Fetch runs the three-step inventory flow: fetch in-progress campaigns
// and the full campaign catalog as raw JSON trees, deep-merge the two
// per campaign ID (in-progress wins on conflicting scalar fields since it
// carries live per-drop progress, nested objects recurse instead of being
// replaced outright), decode the merged trees, then hydrate every
// resulting campaign with full drop details in chunks of
// CampaignDetailsChunkSize.
func (e *Engine) Fetch(ctx context.Context) ([]model.DropsCampaign, error) {
	inProgress, err := e.client.GetInventoryTree(ctx)
	if err != nil {
		return nil, err
	}
	all, err := e.client.GetCampaignsTree(ctx)
	if err != nil {
		return nil, err
	}

	merged, err := mergeCampaignTrees(inProgress, all)
	if err != nil {
		return nil, err
	}

	if err := e.hydrateDetails(ctx, merged); err != nil {
		return nil, err
	}

	sortByEndingSoonest(merged)
	return merged, nil
}

// mergeCampaignTrees deep-merges the in-progress and catalog trees by
// campaign ID via Merge, then decodes each resulting tree into a
// model.DropsCampaign, preserving the in-progress order first so
// currently-earning campaigns come first until Fetch re-sorts everything
// by end time after hydration.
func mergeCampaignTrees(primary, secondary map[string]map[string]interface{}) ([]model.DropsCampaign, error) {
	order := make([]string, 0, len(primary)+len(secondary))
	seen := make(map[string]bool, len(primary)+len(secondary))
	for id := range primary {
		order = append(order, id)
		seen[id] = true
	}
	for id := range secondary {
		if !seen[id] {
			order = append(order, id)
		}
	}

	out := make([]model.DropsCampaign, 0, len(order))
	for _, id := range order {
		tree := Merge(primary[id], secondary[id])
		campaign, err := gql.DecodeCampaignTree(tree)
		if err != nil {
			return nil, err
		}
		out = append(out, campaign)
	}
	return out, nil
}

func (e *Engine) hydrateDetails(ctx context.Context, campaigns []model.DropsCampaign) error {
	for i := 0; i < len(campaigns); i += model.CampaignDetailsChunkSize {
		end := i + model.CampaignDetailsChunkSize
		if end > len(campaigns) {
			end = len(campaigns)
		}
		for j := i; j < end; j++ {
			details, err := e.client.GetCampaignDetails(ctx, campaigns[j].ID, e.userLogin)
			if err != nil {
				logrus.WithError(err).WithField("campaign", campaigns[j].ID).Warn("inventory: failed to fetch campaign details")
				continue
			}
			campaigns[j] = *details
		}
	}
	return nil
}

func sortByEndingSoonest(campaigns []model.DropsCampaign) {
	sort.SliceStable(campaigns, func(i, j int) bool {
		if campaigns[i].EndsAt.Equal(campaigns[j].EndsAt) {
			return campaigns[i].ID < campaigns[j].ID
		}
		return campaigns[i].EndsAt.Before(campaigns[j].EndsAt)
	})
}

// NextMaintenanceWake returns the earliest instant any campaign's time
// trigger fires, capped by the bonus-check and forced-reload
// intervals, matching the maintenance scheduler's wake rule, along with
// which of the three caused it.
func NextMaintenanceWake(campaigns []model.DropsCampaign, now time.Time) (time.Time, model.WakeReason) {
	wake := now.Add(model.ForcedReloadInterval)
	reason := model.WakeForcedReload

	if bonus := now.Add(model.BonusCheckInterval); bonus.Before(wake) {
		wake, reason = bonus, model.WakeBonusCheck
	}
	for _, c := range campaigns {
		if t := c.NextTimeTrigger(now); !t.IsZero() && t.Before(wake) {
			wake, reason = t, model.WakeCampaignTrigger
		}
	}
	return wake, reason
}
