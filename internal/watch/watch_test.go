package watch

import (
	"context"
	"errors"
	"testing"

	"twitchdropsfarmer/internal/model"
)

type fakeGQL struct {
	beacons    int
	beaconErr  error
	progress   *model.CurrentDropProgress
	claimErr   error
	claimCalls int
}

func (f *fakeGQL) StreamURL(ctx context.Context, login string) (string, error) {
	return "https://example.invalid/stream.m3u8", nil
}

func (f *fakeGQL) SendWatchBeacon(ctx context.Context, url string) error {
	f.beacons++
	return f.beaconErr
}

func (f *fakeGQL) GetCurrentDrop(ctx context.Context, channelID string) (*model.CurrentDropProgress, error) {
	return f.progress, nil
}

func (f *fakeGQL) ClaimDrop(ctx context.Context, dropInstanceID string) error {
	f.claimCalls++
	return f.claimErr
}

type fakeStore struct {
	started int
	ended   int
	claims  int
}

func (f *fakeStore) StartWatchSession(channelID, campaignID string) (int64, error) {
	f.started++
	return 1, nil
}
func (f *fakeStore) EndWatchSession(id int64, minutes int) error {
	f.ended++
	return nil
}
func (f *fakeStore) RecordClaim(dropInstanceID, campaignID, dropID, reward string) error {
	f.claims++
	return nil
}

func testCampaign() model.DropsCampaign {
	return model.DropsCampaign{
		ID:   "camp1",
		Name: "Test Campaign",
		TimeBasedDrops: []model.TimedDrop{
			{ID: "drop1", Name: "Drop One", RequiredMinutes: 30, DropInstanceID: "inst1"},
		},
	}
}

func TestWatchStopsWhenUnwatchable(t *testing.T) {
	gqlC := &fakeGQL{}
	store := &fakeStore{}
	l := New(gqlC, store, nil)

	called := false
	stillWatchable := func() bool {
		called = true
		return false
	}

	ctx := context.Background()
	minutes, err := l.Watch(ctx, testCampaign(), model.Channel{ID: "c1", Login: "streamer"}, true, stillWatchable, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if minutes != 0 {
		t.Fatalf("expected 0 minutes watched before the first tick fires, got %d", minutes)
	}
	_ = called
	if store.started != 1 {
		t.Fatalf("expected a session to be started, got %d", store.started)
	}
}

func TestSettleAndClaimSucceedsAfterSettleDelay(t *testing.T) {
	gqlC := &fakeGQL{claimErr: errors.New("not ready yet")}
	store := &fakeStore{}
	claimCh := make(chan DropClaimed, 1)
	l := New(gqlC, store, claimCh)

	drop := testCampaign().TimeBasedDrops[0]
	drop.CurrentMinutes = 30

	gqlC.claimErr = nil // succeed on first attempt once settle delay elapses
	err := l.settleAndClaim(context.Background(), testCampaign(), drop)
	if err != nil {
		t.Fatalf("expected claim to succeed, got %v", err)
	}
	if store.claims != 1 {
		t.Fatalf("expected one recorded claim, got %d", store.claims)
	}
	select {
	case ev := <-claimCh:
		if ev.Drop.ID != drop.ID {
			t.Fatalf("unexpected drop in claim event: %+v", ev.Drop)
		}
	default:
		t.Fatal("expected a claim notification")
	}
}

func TestAwaitProgressUsesPubSubEventBeforeFallbackPoll(t *testing.T) {
	gqlC := &fakeGQL{progress: &model.CurrentDropProgress{DropID: "drop1", CurrentMinutesWatched: 5}}
	store := &fakeStore{}
	l := New(gqlC, store, nil)

	events := make(chan model.CurrentDropProgress, 1)
	events <- model.CurrentDropProgress{DropID: "drop1", CurrentMinutesWatched: 30}

	campaign := testCampaign()
	if err := l.awaitProgress(context.Background(), &campaign, model.Channel{ID: "c1"}, true, events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gqlC.claimCalls != 1 {
		t.Fatalf("expected the pub/sub-delivered progress to trigger a claim, got %d calls", gqlC.claimCalls)
	}
}

func TestPollAndClaimSkipsWhenAutoClaimDisabled(t *testing.T) {
	gqlC := &fakeGQL{progress: &model.CurrentDropProgress{DropID: "drop1", CurrentMinutesWatched: 30}}
	store := &fakeStore{}
	l := New(gqlC, store, nil)

	if err := l.pollAndClaim(context.Background(), testCampaign(), model.Channel{ID: "c1"}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gqlC.claimCalls != 0 {
		t.Fatalf("expected no claim attempt with autoClaim disabled, got %d", gqlC.claimCalls)
	}
}
