// Package ui defines the adapter boundary between the miner and whatever
// presents its state to a person: a terminal, a log file, a tray icon, or
// (out of scope here) a full desktop UI. cmd/miner reports sign-in and
// drop-claim events to a Console adapter; internal/miner does not use
// this package, so state, channel and progress changes are not reported
// through an Adapter.
package ui

import (
	"twitchdropsfarmer/internal/model"
)

// ChannelInfo is what an Adapter shows for one watch-candidate channel.
type ChannelInfo struct {
	ID          string
	DisplayName string
	Online      bool
	ViewerCount int
}

// Progress is what an Adapter shows for one drop's completion state.
type Progress struct {
	CampaignName string
	DropName     string
	Current      int
	Required     int
}

// Adapter receives every user-facing event the miner produces. A
// headless deployment can implement it with log lines only; a desktop
// build can implement it with window updates. Every method must return
// promptly — an Adapter that blocks stalls the state machine.
type Adapter interface {
	// StatusUpdate reports the state machine's current step and the
	// active campaign/channel.
	StatusUpdate(currentState, campaignName, channelName string)

	// Print surfaces a one-line human-readable message (the rough
	// equivalent of a console log line a person is meant to read).
	Print(message string)

	// ChannelsDisplay replaces the adapter's view of the current
	// watch-candidate set.
	ChannelsDisplay(channels []ChannelInfo)

	// ChannelsUpdate reports a single channel's state changing (e.g. it
	// went on or offline) without a full ChannelsDisplay refresh.
	ChannelsUpdate(channel ChannelInfo)

	// ProgressUpdate reports a drop's watch-time progress.
	ProgressUpdate(p Progress)

	// InvCampaignClaimed announces a drop that was just claimed.
	InvCampaignClaimed(campaignName, dropName string)

	// LoginDeviceCode shows the device code and verification URL the
	// user must visit to complete sign-in.
	LoginDeviceCode(userCode, verificationURI string)

	// LoginSucceeded reports a completed sign-in.
	LoginSucceeded(displayName string)

	// LoginFailed reports a sign-in failure with a human-readable reason.
	LoginFailed(reason string)

	// TraySetTooltip sets the tray icon's hover text, a no-op for
	// adapters with no tray surface.
	TraySetTooltip(text string)

	// TrayNotify raises a system notification, a no-op for adapters
	// with no tray surface.
	TrayNotify(title, message string)

	// SettingsChanged reports that the persisted settings were reloaded
	// from disk or updated by the user.
	SettingsChanged(settings model.Settings)

	// CloseRequested reports whether the user has asked to exit through
	// this adapter (e.g. closed the tray icon, pressed Ctrl-C on a
	// console adapter wired to signal handling).
	CloseRequested() bool

	// AwaitUnlessClosed blocks for up to the given duration, for
	// anything that should be interruptible by CloseRequested becoming
	// true early, returning false if the wait was cut short by a close
	// request rather than elapsing naturally.
	AwaitUnlessClosed(seconds float64) bool
}
