package gql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"twitchdropsfarmer/internal/httpx"
	"twitchdropsfarmer/internal/model"

	"github.com/sirupsen/logrus"
)

const endpoint = "https://gql.twitch.tv/gql"

// clientID and userAgent match the Android TV app's own persisted-query
// client, which is what lets an unauthenticated device-code flow reach
// these operations at all.
const (
	clientID  = "kd1unb4b3q4t58fwlpcbzcbnm76a8fp"
	userAgent = "Dalvik/2.1.0 (Linux; U; Android 7.1.2; SM-G977N Build/LMY48Z) tv.twitch.android.app/16.8.1/1608010"
	clientURL = "https://www.twitch.tv"
)

// Client issues persisted-query GraphQL calls against Twitch's GQL
// endpoint, translating raw responses into internal/model types.
type Client struct {
	http        *httpx.Client
	accessToken string
	sessionID   string
	deviceID    string
}

// New returns a Client bound to one authenticated session.
func New(httpClient *httpx.Client, accessToken, sessionID, deviceID string) *Client {
	return &Client{http: httpClient, accessToken: accessToken, sessionID: sessionID, deviceID: deviceID}
}

func (c *Client) headers() map[string]string {
	h := map[string]string{
		"Accept":            "*/*",
		"Accept-Encoding":   "gzip",
		"Accept-Language":   "en-US",
		"Client-Id":         clientID,
		"User-Agent":        userAgent,
		"Origin":            clientURL,
		"Referer":           clientURL,
		"Content-Type":      "application/json",
		"Authorization":     fmt.Sprintf("OAuth %s", c.accessToken),
	}
	if c.sessionID != "" {
		h["Client-Session-Id"] = c.sessionID
	}
	if c.deviceID != "" {
		h["X-Device-Id"] = c.deviceID
	}
	return h
}

// Request POSTs a single persisted-query operation and returns its
// decoded envelope. GraphQL-level errors are returned as a *model.MinerError.
func (c *Client) Request(ctx context.Context, op *Operation) (*Response, error) {
	body, err := op.ToJSON()
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, "POST", endpoint, body, c.headers(), time.Time{})
	if err != nil {
		return nil, &model.MinerError{Operation: op.OperationName, Err: err}
	}

	var out Response
	if err := httpx.DecodeJSON(resp, &out); err != nil {
		return nil, &model.MinerError{Operation: op.OperationName, Err: err}
	}

	if len(out.Errors) > 0 {
		logrus.WithField("operation", op.OperationName).Warnf("graphql errors: %v", out.Errors)
		return &out, &model.MinerError{Operation: op.OperationName, Err: fmt.Errorf("%v", out.Errors)}
	}
	return &out, nil
}

func decodeData(data interface{}, v interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func toGame(g gameNode) model.Game {
	return model.Game{ID: g.ID, Name: g.DisplayName, Slug: g.Slug, BoxArtURL: g.BoxArtURL}
}

func toCampaign(n campaignNode) model.DropsCampaign {
	c := model.DropsCampaign{
		ID:             n.ID,
		Name:           n.Name,
		Game:           toGame(n.Game),
		Status:         n.Status,
		StartsAt:       parseTime(n.StartAt),
		EndsAt:         parseTime(n.EndAt),
		AccountLinkURL: n.AccountLinkURL,
		ImageURL:       n.ImageURL,
	}
	if n.Self != nil && n.Self.IsAccountConnected != nil {
		c.IsAccountConnected = *n.Self.IsAccountConnected
	}
	if n.Allow != nil {
		if n.Allow.IsEnabled != nil {
			c.ACLEnabled = *n.Allow.IsEnabled
		}
		for _, ch := range n.Allow.Channels {
			c.AllowChannels = append(c.AllowChannels, ch.ID)
		}
	}
	if n.TimeBasedDrops != nil {
		for _, d := range *n.TimeBasedDrops {
			c.TimeBasedDrops = append(c.TimeBasedDrops, toTimedDrop(d))
		}
	}
	return c
}

func toTimedDrop(n timeBasedDropNode) model.TimedDrop {
	d := model.TimedDrop{
		ID:              n.ID,
		Name:            n.Name,
		RequiredMinutes: n.RequiredMinutesWatched,
	}
	for _, e := range n.BenefitEdges {
		d.Benefits = append(d.Benefits, model.DropBenefit{
			ID: e.Benefit.ID, Name: e.Benefit.Name, ImageAssetURL: e.Benefit.ImageAssetURL,
		})
	}
	if n.Self != nil {
		d.CurrentMinutes = n.Self.CurrentMinutesWatched
		d.IsClaimed = n.Self.IsClaimed
		d.DropInstanceID = n.Self.DropInstanceID
		d.PreconditionsMet = n.Self.HasPreconditionsMet == nil || *n.Self.HasPreconditionsMet
	}
	return d
}

// GetInventoryTree returns each in-progress campaign as a raw JSON tree
// keyed by campaign id, for deep-merging (internal/inventory.Merge)
// against GetCampaignsTree before decoding into model.DropsCampaign —
// the inventory query's per-drop progress fields must survive a merge
// against the catalog query's otherwise more complete campaign record.
func (c *Client) GetInventoryTree(ctx context.Context) (map[string]map[string]interface{}, error) {
	op, _ := GetOperation("Inventory", nil)
	resp, err := c.Request(ctx, op)
	if err != nil {
		return nil, err
	}
	var data struct {
		CurrentUser struct {
			Inventory struct {
				DropCampaignsInProgress []map[string]interface{} `json:"dropCampaignsInProgress"`
			} `json:"inventory"`
		} `json:"currentUser"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return nil, err
	}
	return treesByID(data.CurrentUser.Inventory.DropCampaignsInProgress), nil
}

// GetCampaignsTree returns every campaign visible to the user as a raw
// JSON tree keyed by campaign id.
func (c *Client) GetCampaignsTree(ctx context.Context) (map[string]map[string]interface{}, error) {
	op, _ := GetOperation("Campaigns", nil)
	resp, err := c.Request(ctx, op)
	if err != nil {
		return nil, err
	}
	var data struct {
		CurrentUser struct {
			DropCampaigns []map[string]interface{} `json:"dropCampaigns"`
		} `json:"currentUser"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return nil, err
	}
	return treesByID(data.CurrentUser.DropCampaigns), nil
}

func treesByID(nodes []map[string]interface{}) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(nodes))
	for _, n := range nodes {
		id, _ := n["id"].(string)
		if id == "" {
			continue
		}
		out[id] = n
	}
	return out
}

// DecodeCampaignTree decodes a raw campaign JSON tree — as returned by
// GetInventoryTree/GetCampaignsTree, typically after merging the two —
// into a model.DropsCampaign.
func DecodeCampaignTree(tree map[string]interface{}) (model.DropsCampaign, error) {
	var n campaignNode
	if err := decodeData(tree, &n); err != nil {
		return model.DropsCampaign{}, err
	}
	return toCampaign(n), nil
}

// GetCampaignDetails fetches the full drop list (with benefit images and
// per-drop progress) for one campaign, as seen from userLogin's channel
// context.
func (c *Client) GetCampaignDetails(ctx context.Context, campaignID, userLogin string) (*model.DropsCampaign, error) {
	op, _ := GetOperation("CampaignDetails", map[string]interface{}{
		"dropID": campaignID, "channelLogin": userLogin,
	})
	resp, err := c.Request(ctx, op)
	if err != nil {
		return nil, err
	}
	var data struct {
		User struct {
			Campaign *campaignNode `json:"dropCampaign"`
		} `json:"user"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return nil, err
	}
	if data.User.Campaign == nil {
		return nil, fmt.Errorf("campaign %s not found", campaignID)
	}
	cmp := toCampaign(*data.User.Campaign)
	return &cmp, nil
}

// GetCurrentDrop returns the progress of the drop currently tracked for
// channelID, or nil if none is being tracked.
func (c *Client) GetCurrentDrop(ctx context.Context, channelID string) (*model.CurrentDropProgress, error) {
	op, _ := GetOperation("CurrentDrop", map[string]interface{}{"channelID": channelID, "channelLogin": ""})
	resp, err := c.Request(ctx, op)
	if err != nil {
		return nil, err
	}
	var data struct {
		CurrentUser *currentUserNode `json:"currentUser"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return nil, err
	}
	if data.CurrentUser == nil || data.CurrentUser.DropCurrentSession == nil {
		return nil, nil
	}
	s := data.CurrentUser.DropCurrentSession
	return &model.CurrentDropProgress{DropID: s.DropID, CurrentMinutesWatched: s.CurrentMinutesWatched}, nil
}

// ClaimDrop claims a finished drop by its instance ID.
func (c *Client) ClaimDrop(ctx context.Context, dropInstanceID string) error {
	op, _ := GetOperation("ClaimDrop", map[string]interface{}{
		"input": map[string]interface{}{"dropInstanceID": dropInstanceID},
	})
	_, err := c.Request(ctx, op)
	return err
}

// ClaimCommunityPoints claims an available channel-points bonus, surfaced
// over pub/sub as a claim-available event on a channel's points topic.
func (c *Client) ClaimCommunityPoints(ctx context.Context, claimID, channelID string) error {
	op, _ := GetOperation("ClaimCommunityPoints", map[string]interface{}{
		"input": map[string]interface{}{"claimID": claimID, "channelID": channelID},
	})
	_, err := c.Request(ctx, op)
	return err
}

// GetPlaybackAccessToken fetches the signed token required to open a
// channel's stream playlist.
func (c *Client) GetPlaybackAccessToken(ctx context.Context, channelLogin string) (*model.PlaybackAccessToken, error) {
	op, _ := GetOperation("PlaybackAccessToken", map[string]interface{}{"login": channelLogin})
	resp, err := c.Request(ctx, op)
	if err != nil {
		return nil, err
	}
	var data struct {
		StreamPlaybackAccessToken *playbackAccessTokenNode `json:"streamPlaybackAccessToken"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return nil, err
	}
	if data.StreamPlaybackAccessToken == nil {
		return nil, fmt.Errorf("no playback access token for %s", channelLogin)
	}
	return &model.PlaybackAccessToken{
		Value:     data.StreamPlaybackAccessToken.Value,
		Signature: data.StreamPlaybackAccessToken.Signature,
	}, nil
}

// GetGameSlug resolves a game's display name to its directory slug and ID.
func (c *Client) GetGameSlug(ctx context.Context, gameName string) (id, slug string, err error) {
	op, _ := GetOperation("SlugRedirect", map[string]interface{}{"name": gameName})
	resp, err := c.Request(ctx, op)
	if err != nil {
		return "", "", err
	}
	var data struct {
		Game *gameNode `json:"game"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return "", "", err
	}
	if data.Game == nil {
		return "", "", fmt.Errorf("no slug found for game %q", gameName)
	}
	return data.Game.ID, data.Game.Slug, nil
}

// GetStreamsForGame lists live channels currently streaming the given
// game slug.
func (c *Client) GetStreamsForGame(ctx context.Context, gameSlug string, limit int) ([]model.Channel, error) {
	op, _ := GetOperation("GameDirectory", map[string]interface{}{"slug": gameSlug, "limit": limit})
	resp, err := c.Request(ctx, op)
	if err != nil {
		return nil, err
	}
	var data struct {
		Game *struct {
			Streams struct {
				Edges []struct {
					Node streamNode `json:"node"`
				} `json:"edges"`
			} `json:"streams"`
		} `json:"game"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return nil, err
	}
	if data.Game == nil {
		return nil, nil
	}
	out := make([]model.Channel, 0, len(data.Game.Streams.Edges))
	for _, e := range data.Game.Streams.Edges {
		n := e.Node
		out = append(out, model.Channel{
			ID:          n.Broadcaster.ID,
			Login:       n.Broadcaster.Login,
			DisplayName: n.Broadcaster.DisplayName,
			Online:      true,
			ViewerCount: n.ViewerCount,
		})
	}
	return out, nil
}

// DeleteNotification acknowledges (and clears) an onsite notification,
// used after a drop-ready reminder fires over pub/sub.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	op, _ := GetOperation("NotificationsDelete", map[string]interface{}{
		"input": map[string]interface{}{"id": id},
	})
	_, err := c.Request(ctx, op)
	return err
}
