package model

import (
	"testing"
	"time"
)

func TestWebsocketTopicRoundTrip(t *testing.T) {
	cases := []WebsocketTopic{
		{Category: TopicDrops, TargetID: "12345"},
		{Category: TopicPoints, Kind: "channel-v1", TargetID: "67890"},
		{Category: TopicStreamState, Kind: "", TargetID: "1"},
	}
	for _, want := range cases {
		s := want.String()
		got, ok := ParseTopic(s)
		if !ok {
			t.Fatalf("ParseTopic(%q) failed", s)
		}
		if got != want {
			t.Errorf("round trip mismatch: %+v -> %q -> %+v", want, s, got)
		}
	}
}

func TestTimedDropCanClaim(t *testing.T) {
	cases := []struct {
		name string
		drop TimedDrop
		want bool
	}{
		{"below required", TimedDrop{RequiredMinutes: 60, CurrentMinutes: 30, DropInstanceID: "x"}, false},
		{"met but no instance id", TimedDrop{RequiredMinutes: 60, CurrentMinutes: 60}, false},
		{"met and claimable", TimedDrop{RequiredMinutes: 60, CurrentMinutes: 60, DropInstanceID: "x"}, true},
		{"already claimed", TimedDrop{RequiredMinutes: 60, CurrentMinutes: 60, DropInstanceID: "x", IsClaimed: true}, false},
	}
	for _, tc := range cases {
		if got := tc.drop.CanClaim(); got != tc.want {
			t.Errorf("%s: CanClaim() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDropsCampaignAllowsChannel(t *testing.T) {
	noACL := DropsCampaign{}
	if !noACL.AllowsChannel("anything") {
		t.Error("campaign without ACL should allow any channel")
	}

	acl := DropsCampaign{ACLEnabled: true, AllowChannels: []string{"1", "2"}}
	if !acl.AllowsChannel("1") {
		t.Error("allow-listed channel should be allowed")
	}
	if acl.AllowsChannel("3") {
		t.Error("non-allow-listed channel should be denied")
	}
}

func TestDropsCampaignCanEarn(t *testing.T) {
	now := time.Now()
	active := DropsCampaign{
		Status:         "ACTIVE",
		StartsAt:       now.Add(-time.Hour),
		EndsAt:         now.Add(time.Hour),
		TimeBasedDrops: []TimedDrop{{RequiredMinutes: 60}},
	}
	if !active.CanEarn(now) {
		t.Error("active campaign with unclaimed drop should be earnable")
	}

	allClaimed := active
	allClaimed.TimeBasedDrops = []TimedDrop{{RequiredMinutes: 60, IsClaimed: true}}
	if allClaimed.CanEarn(now) {
		t.Error("campaign with all drops claimed should not be earnable")
	}

	expired := active
	expired.EndsAt = now.Add(-time.Minute)
	if expired.CanEarn(now) {
		t.Error("expired campaign should not be earnable")
	}
}
