// Package watch drives the periodic "watch" beacon against whichever
// channel is currently selected, and handles claiming a drop once it
// finishes — the work that actually advances drop progress, as opposed
// to the bookkeeping in internal/state that decides what to watch.
package watch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"twitchdropsfarmer/internal/model"
)

// gqlClient is the subset of *gql.Client the loop depends on.
type gqlClient interface {
	StreamURL(ctx context.Context, channelLogin string) (string, error)
	SendWatchBeacon(ctx context.Context, streamURL string) error
	GetCurrentDrop(ctx context.Context, channelID string) (*model.CurrentDropProgress, error)
	ClaimDrop(ctx context.Context, dropInstanceID string) error
}

// storage is the subset of *storage.Store the loop depends on.
type storage interface {
	StartWatchSession(channelID, campaignID string) (int64, error)
	EndWatchSession(id int64, minutesWatched int) error
	RecordClaim(dropInstanceID, campaignID, dropID, reward string) error
}

// DropClaimed is reported whenever a drop finishes and is successfully
// claimed, so callers can surface it to the UI adapter.
type DropClaimed struct {
	Campaign model.DropsCampaign
	Drop     model.TimedDrop
}

// Loop watches one channel on behalf of one campaign until told to stop,
// sending a beacon every model.WatchInterval and polling for drop
// completion.
type Loop struct {
	client  gqlClient
	store   storage
	claimCh chan<- DropClaimed
}

// New returns a Loop. claimCh may be nil if the caller doesn't need
// claim notifications.
func New(client gqlClient, store storage, claimCh chan<- DropClaimed) *Loop {
	return &Loop{client: client, store: store, claimCh: claimCh}
}

// Watch runs until ctx is cancelled or the channel goes unwatchable
// (signalled by stillWatchable returning false), sending a beacon every
// WatchInterval and claiming any drop that finishes along the way.
// dropEvents carries live drop-progress pushes from pub/sub; when one
// arrives for the campaign's in-flight drop it is applied directly and
// claimed immediately if it finished, saving a round trip to the
// current-drop GraphQL query that pollAndClaim would otherwise make.
// It returns the total minutes successfully watched in this session.
func (l *Loop) Watch(ctx context.Context, campaign model.DropsCampaign, channel model.Channel, autoClaim bool, stillWatchable func() bool, dropEvents <-chan model.CurrentDropProgress) (int, error) {
	sessionID, err := l.store.StartWatchSession(channel.ID, campaign.ID)
	if err != nil {
		logrus.WithError(err).Warn("watch: failed to record session start")
	}

	minutesWatched := 0
	ticker := time.NewTicker(model.WatchInterval)
	defer ticker.Stop()

	streamURL, err := l.client.StreamURL(ctx, channel.Login)
	if err != nil {
		return minutesWatched, err
	}

	for {
		select {
		case <-ctx.Done():
			l.endSession(sessionID, minutesWatched)
			return minutesWatched, ctx.Err()
		case progress := <-dropEvents:
			if !autoClaim {
				continue
			}
			if err := l.applyProgress(ctx, &campaign, progress); err != nil {
				logrus.WithError(err).Debug("watch: pub/sub drop-progress claim attempt failed")
			}
		case <-ticker.C:
			if stillWatchable != nil && !stillWatchable() {
				l.endSession(sessionID, minutesWatched)
				return minutesWatched, nil
			}

			if err := l.client.SendWatchBeacon(ctx, streamURL); err != nil {
				logrus.WithError(err).WithField("channel", channel.Login).Warn("watch: beacon failed, refreshing stream URL")
				if refreshed, rerr := l.client.StreamURL(ctx, channel.Login); rerr == nil {
					streamURL = refreshed
				}
				continue
			}
			minutesWatched++

			if err := l.awaitProgress(ctx, &campaign, channel, autoClaim, dropEvents); err != nil {
				logrus.WithError(err).Debug("watch: poll/claim cycle reported an error")
			}
		}
	}
}

// awaitProgress gives pub/sub a short window (model.FallbackPollInterval)
// to push the post-beacon drop-progress update before falling back to
// polling it over GraphQL directly — pub/sub is usually faster, but a
// dropped message must never stall a claim indefinitely.
func (l *Loop) awaitProgress(ctx context.Context, campaign *model.DropsCampaign, channel model.Channel, autoClaim bool, dropEvents <-chan model.CurrentDropProgress) error {
	if !autoClaim {
		return nil
	}

	timer := time.NewTimer(model.FallbackPollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case progress := <-dropEvents:
		return l.applyProgress(ctx, campaign, progress)
	case <-timer.C:
		return l.pollAndClaim(ctx, *campaign, channel, autoClaim)
	}
}

// applyProgress updates campaign's matching drop with a live progress
// snapshot and claims it if that makes it claimable.
func (l *Loop) applyProgress(ctx context.Context, campaign *model.DropsCampaign, progress model.CurrentDropProgress) error {
	for i := range campaign.TimeBasedDrops {
		d := &campaign.TimeBasedDrops[i]
		if d.ID != progress.DropID {
			continue
		}
		d.CurrentMinutes = progress.CurrentMinutesWatched
		if d.CanClaim() {
			return l.settleAndClaim(ctx, *campaign, *d)
		}
		return nil
	}
	return nil
}

func (l *Loop) endSession(sessionID int64, minutes int) {
	if sessionID == 0 {
		return
	}
	if err := l.store.EndWatchSession(sessionID, minutes); err != nil {
		logrus.WithError(err).Warn("watch: failed to record session end")
	}
}

// pollAndClaim checks whether any drop on the campaign just became
// claimable, using the live current-drop progress only: when the query
// fails or reports no current drop, nothing is claimed and the campaign's
// own tracked state is not consulted. A claimable drop is settled with
// the delay-then-poll sequence Twitch's own client uses before the claim
// reliably succeeds server-side.
func (l *Loop) pollAndClaim(ctx context.Context, campaign model.DropsCampaign, channel model.Channel, autoClaim bool) error {
	if !autoClaim {
		return nil
	}

	progress, err := l.client.GetCurrentDrop(ctx, channel.ID)
	if err != nil || progress == nil {
		return err
	}

	for i := range campaign.TimeBasedDrops {
		d := &campaign.TimeBasedDrops[i]
		if d.ID != progress.DropID {
			continue
		}
		d.CurrentMinutes = progress.CurrentMinutesWatched
		if d.CanClaim() {
			return l.settleAndClaim(ctx, campaign, *d)
		}
	}
	return nil
}

// settleAndClaim waits model.DropClaimSettleDelay for Twitch's backend to
// finish crediting the drop, then polls up to DropClaimPollAttempts times
// at DropClaimPollInterval until the claim succeeds or the attempts run
// out.
func (l *Loop) settleAndClaim(ctx context.Context, campaign model.DropsCampaign, drop model.TimedDrop) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(model.DropClaimSettleDelay):
	}

	var lastErr error
	for attempt := 0; attempt < model.DropClaimPollAttempts; attempt++ {
		if err := l.client.ClaimDrop(ctx, drop.DropInstanceID); err == nil {
			reward := ""
			if len(drop.Benefits) > 0 {
				reward = drop.Benefits[0].Reward(len(drop.Benefits))
			}
			if err := l.store.RecordClaim(drop.DropInstanceID, campaign.ID, drop.ID, reward); err != nil {
				logrus.WithError(err).Warn("watch: failed to record claim")
			}
			if l.claimCh != nil {
				select {
				case l.claimCh <- DropClaimed{Campaign: campaign, Drop: drop}:
				default:
				}
			}
			logrus.WithFields(logrus.Fields{"campaign": campaign.Name, "drop": drop.Name}).Info("watch: claimed drop")
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(model.DropClaimPollInterval):
		}
	}
	return lastErr
}
