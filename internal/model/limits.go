package model

import "time"

// Pub/sub pool limits. Twitch caps both the number of topics a single
// websocket connection may LISTEN to and the number of simultaneous
// connections a pub/sub client may hold open.
const (
	MaxTopicsPerConnection = 50
	MaxWebsockets          = 8
)

// Pub/sub liveness timing, matching Twitch's own PING/PONG cadence.
const (
	PingInterval = 180 * time.Second
	PongTimeout  = 10 * time.Second
)

// Watch loop and maintenance cadence.
const (
	WatchInterval         = 60 * time.Second
	FallbackPollInterval  = 10 * time.Second
	DropClaimSettleDelay  = 4 * time.Second
	DropClaimPollInterval = 2 * time.Second
	DropClaimPollAttempts = 8
	BonusCheckInterval    = 30 * time.Minute
	ForcedReloadInterval  = 60 * time.Minute

	// CheckInterval paces the idle state between full evaluation cycles
	// when nothing external (pub/sub, maintenance wake) has asked for one
	// sooner.
	CheckInterval = 5 * time.Minute
)

// CampaignDetails hydration walks the campaign list in groups of this many
// campaign IDs; each campaign in a group is still fetched with its own
// request.
const CampaignDetailsChunkSize = 20

// ChannelDirectoryLimit is how many of a game's top streams are requested
// per GameDirectory call.
const ChannelDirectoryLimit = 30

// MaxChannels bounds how many candidate channels the registry tracks (and
// therefore how many pub/sub topics it can hold open) across every wanted
// campaign at once.
const MaxChannels = 40

// Backoff bounds shared by the HTTP client and the pub/sub connection.
const (
	BackoffInitial = 500 * time.Millisecond
	BackoffMax     = 3 * time.Minute
)
