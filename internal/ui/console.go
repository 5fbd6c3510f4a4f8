package ui

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"twitchdropsfarmer/internal/model"
)

// Console is the headless Adapter: every event becomes a structured
// logrus line, and CloseRequested is driven by an external call to
// RequestClose. cmd/miner does not call RequestClose; it handles signals
// by cancelling its context.
type Console struct {
	closed atomic.Bool
}

// NewConsole returns an Adapter with no tray or window surface.
func NewConsole() *Console { return &Console{} }

// RequestClose marks the adapter closed, causing CloseRequested to return
// true and any in-flight AwaitUnlessClosed to return early.
func (c *Console) RequestClose() { c.closed.Store(true) }

func (c *Console) StatusUpdate(currentState, campaignName, channelName string) {
	logrus.WithFields(logrus.Fields{
		"state":    currentState,
		"campaign": campaignName,
		"channel":  channelName,
	}).Info("status")
}

func (c *Console) Print(message string) {
	logrus.Info(message)
}

func (c *Console) ChannelsDisplay(channels []ChannelInfo) {
	logrus.WithField("count", len(channels)).Debug("channels updated")
}

func (c *Console) ChannelsUpdate(ch ChannelInfo) {
	logrus.WithFields(logrus.Fields{"channel": ch.DisplayName, "online": ch.Online}).Debug("channel updated")
}

func (c *Console) ProgressUpdate(p Progress) {
	logrus.WithFields(logrus.Fields{
		"campaign": p.CampaignName,
		"drop":     p.DropName,
		"current":  p.Current,
		"required": p.Required,
	}).Debug("drop progress")
}

func (c *Console) InvCampaignClaimed(campaignName, dropName string) {
	logrus.WithFields(logrus.Fields{"campaign": campaignName, "drop": dropName}).Info("drop claimed")
}

func (c *Console) LoginDeviceCode(userCode, verificationURI string) {
	logrus.Infof("to sign in, open %s and enter code %s", verificationURI, userCode)
}

func (c *Console) LoginSucceeded(displayName string) {
	logrus.Infof("signed in as %s", displayName)
}

func (c *Console) LoginFailed(reason string) {
	logrus.Errorf("sign-in failed: %s", reason)
}

func (c *Console) TraySetTooltip(text string) {}

func (c *Console) TrayNotify(title, message string) {
	logrus.WithField("title", title).Info(message)
}

func (c *Console) SettingsChanged(settings model.Settings) {
	logrus.Debug("settings reloaded")
}

func (c *Console) CloseRequested() bool {
	return c.closed.Load()
}

func (c *Console) AwaitUnlessClosed(seconds float64) bool {
	deadline := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			return true
		case <-ticker.C:
			if c.closed.Load() {
				return false
			}
		}
	}
}

var _ Adapter = (*Console)(nil)
